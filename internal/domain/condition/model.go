// Package condition reconciles patient condition messages, currently
// infection banners and problem-list entries. Any condition with a start and
// an optional end fits the same shape.
package condition

import (
	"time"

	"github.com/google/uuid"

	"github.com/UCLH-DHCT/emap-sub000/internal/platform/temporal"
)

// Condition categories carried on inbound messages.
const (
	TypeInfection = "PATIENT_INFECTION"
	TypeProblem   = "PROBLEM_LIST"
)

// ConditionType maps to the condition_type table: one row per (category,
// source code) pair, created lazily. The display name can be corrected by
// later messages, so the row is versioned.
type ConditionType struct {
	temporal.Columns
	ID           uuid.UUID `db:"condition_type_id" json:"condition_type_id"`
	DataType     string    `db:"data_type" json:"data_type"`
	InternalCode string    `db:"internal_code" json:"internal_code"`
	Name         *string   `db:"name" json:"name,omitempty"`
}

func (ct *ConditionType) CopyEntity() *ConditionType {
	c := *ct
	return &c
}

// ConditionTypeAudit maps to the condition_type_audit table.
type ConditionTypeAudit struct {
	temporal.Window
	ID              uuid.UUID `db:"condition_type_audit_id" json:"condition_type_audit_id"`
	ConditionTypeID uuid.UUID `db:"condition_type_id" json:"condition_type_id"`
	DataType        string    `db:"data_type" json:"data_type"`
	InternalCode    string    `db:"internal_code" json:"internal_code"`
	Name            *string   `db:"name" json:"name,omitempty"`
}

func auditType(ct *ConditionType, validUntil, storedUntil time.Time) *ConditionTypeAudit {
	return &ConditionTypeAudit{
		Window:          temporal.CloseWindow(ct.Columns, validUntil, storedUntil),
		ID:              uuid.New(),
		ConditionTypeID: ct.ID,
		DataType:        ct.DataType,
		InternalCode:    ct.InternalCode,
		Name:            ct.Name,
	}
}

// PatientCondition maps to the patient_condition table: one condition
// instance on one patient. InternalID is the source system's own identifier
// when the feed carries one; rows from feeds without identifiers leave it
// null and are replaced wholesale once an identified feed covers them.
type PatientCondition struct {
	temporal.Columns
	ID              uuid.UUID  `db:"patient_condition_id" json:"patient_condition_id"`
	MrnID           uuid.UUID  `db:"mrn_id" json:"mrn_id"`
	ConditionTypeID uuid.UUID  `db:"condition_type_id" json:"condition_type_id"`
	HospitalVisitID *uuid.UUID `db:"hospital_visit_id" json:"hospital_visit_id,omitempty"`
	InternalID      *int64     `db:"internal_id" json:"internal_id,omitempty"`
	AddedTime       time.Time  `db:"added_time" json:"added_time"`
	OnsetTime       *time.Time `db:"onset_time" json:"onset_time,omitempty"`
	ResolutionTime  *time.Time `db:"resolution_time" json:"resolution_time,omitempty"`
	Status          *string    `db:"status" json:"status,omitempty"`
	Comment         *string    `db:"comment" json:"comment,omitempty"`
}

func (pc *PatientCondition) CopyEntity() *PatientCondition {
	c := *pc
	return &c
}

// PatientConditionAudit maps to the patient_condition_audit table.
type PatientConditionAudit struct {
	temporal.Window
	ID                 uuid.UUID  `db:"patient_condition_audit_id" json:"patient_condition_audit_id"`
	PatientConditionID uuid.UUID  `db:"patient_condition_id" json:"patient_condition_id"`
	MrnID              uuid.UUID  `db:"mrn_id" json:"mrn_id"`
	ConditionTypeID    uuid.UUID  `db:"condition_type_id" json:"condition_type_id"`
	HospitalVisitID    *uuid.UUID `db:"hospital_visit_id" json:"hospital_visit_id,omitempty"`
	InternalID         *int64     `db:"internal_id" json:"internal_id,omitempty"`
	AddedTime          time.Time  `db:"added_time" json:"added_time"`
	OnsetTime          *time.Time `db:"onset_time" json:"onset_time,omitempty"`
	ResolutionTime     *time.Time `db:"resolution_time" json:"resolution_time,omitempty"`
	Status             *string    `db:"status" json:"status,omitempty"`
	Comment            *string    `db:"comment" json:"comment,omitempty"`
}

func auditCondition(pc *PatientCondition, validUntil, storedUntil time.Time) *PatientConditionAudit {
	return &PatientConditionAudit{
		Window:             temporal.CloseWindow(pc.Columns, validUntil, storedUntil),
		ID:                 uuid.New(),
		PatientConditionID: pc.ID,
		MrnID:              pc.MrnID,
		ConditionTypeID:    pc.ConditionTypeID,
		HospitalVisitID:    pc.HospitalVisitID,
		InternalID:         pc.InternalID,
		AddedTime:          pc.AddedTime,
		OnsetTime:          pc.OnsetTime,
		ResolutionTime:     pc.ResolutionTime,
		Status:             pc.Status,
		Comment:            pc.Comment,
	}
}

// Message is one inbound condition update. UpdatedTime is the business time
// the source last touched the condition; it gates whether the message may
// overwrite what is already on file.
type Message struct {
	DataType     string
	SourceSystem string
	MrnID        uuid.UUID
	VisitID      *uuid.UUID
	Code         string
	Name         temporal.Value[string]
	InternalID   temporal.Value[int64]
	AddedTime    time.Time
	OnsetTime    temporal.Value[time.Time]
	Resolution   temporal.Value[time.Time]
	Status       temporal.Value[string]
	Comment      temporal.Value[string]
	UpdatedTime  time.Time
	StoredFrom   time.Time
}
