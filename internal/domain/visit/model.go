// Package visit reconciles hospital-visit state from ADT events: admissions,
// discharges and their cancellations, arriving in any order. Location stays
// within a visit are handled by the movement package.
package visit

import (
	"time"

	"github.com/google/uuid"

	"github.com/UCLH-DHCT/emap-sub000/internal/platform/temporal"
)

// HospitalVisit maps to the hospital_visit table: one hospital stay, keyed by
// the source system's encounter number and owned by one identifier.
type HospitalVisit struct {
	temporal.Columns
	ID                   uuid.UUID  `db:"hospital_visit_id" json:"hospital_visit_id"`
	MrnID                uuid.UUID  `db:"mrn_id" json:"mrn_id"`
	Encounter            string     `db:"encounter" json:"encounter"`
	SourceSystem         string     `db:"source_system" json:"source_system"`
	PresentationTime     *time.Time `db:"presentation_time" json:"presentation_time,omitempty"`
	AdmissionTime        *time.Time `db:"admission_time" json:"admission_time,omitempty"`
	DischargeTime        *time.Time `db:"discharge_time" json:"discharge_time,omitempty"`
	PatientClass         *string    `db:"patient_class" json:"patient_class,omitempty"`
	ArrivalMethod        *string    `db:"arrival_method" json:"arrival_method,omitempty"`
	DischargeDestination *string    `db:"discharge_destination" json:"discharge_destination,omitempty"`
	DischargeDisposition *string    `db:"discharge_disposition" json:"discharge_disposition,omitempty"`
}

func (v *HospitalVisit) CopyEntity() *HospitalVisit {
	c := *v
	return &c
}

// HospitalVisitAudit maps to the hospital_visit_audit table.
type HospitalVisitAudit struct {
	temporal.Window
	ID                   uuid.UUID  `db:"hospital_visit_audit_id" json:"hospital_visit_audit_id"`
	HospitalVisitID      uuid.UUID  `db:"hospital_visit_id" json:"hospital_visit_id"`
	MrnID                uuid.UUID  `db:"mrn_id" json:"mrn_id"`
	Encounter            string     `db:"encounter" json:"encounter"`
	SourceSystem         string     `db:"source_system" json:"source_system"`
	PresentationTime     *time.Time `db:"presentation_time" json:"presentation_time,omitempty"`
	AdmissionTime        *time.Time `db:"admission_time" json:"admission_time,omitempty"`
	DischargeTime        *time.Time `db:"discharge_time" json:"discharge_time,omitempty"`
	PatientClass         *string    `db:"patient_class" json:"patient_class,omitempty"`
	ArrivalMethod        *string    `db:"arrival_method" json:"arrival_method,omitempty"`
	DischargeDestination *string    `db:"discharge_destination" json:"discharge_destination,omitempty"`
	DischargeDisposition *string    `db:"discharge_disposition" json:"discharge_disposition,omitempty"`
}

func auditVisit(v *HospitalVisit, validUntil, storedUntil time.Time) *HospitalVisitAudit {
	return &HospitalVisitAudit{
		Window:               temporal.CloseWindow(v.Columns, validUntil, storedUntil),
		ID:                   uuid.New(),
		HospitalVisitID:      v.ID,
		MrnID:                v.MrnID,
		Encounter:            v.Encounter,
		SourceSystem:         v.SourceSystem,
		PresentationTime:     v.PresentationTime,
		AdmissionTime:        v.AdmissionTime,
		DischargeTime:        v.DischargeTime,
		PatientClass:         v.PatientClass,
		ArrivalMethod:        v.ArrivalMethod,
		DischargeDestination: v.DischargeDestination,
		DischargeDisposition: v.DischargeDisposition,
	}
}

// Update carries the visit-level fields of an inbound ADT message.
type Update struct {
	Encounter    string
	SourceSystem string

	PresentationTime temporal.Value[time.Time]
	AdmissionTime    temporal.Value[time.Time]
	PatientClass     temporal.Value[string]
	ArrivalMethod    temporal.Value[string]

	EventTime  time.Time
	StoredFrom time.Time
}

// Discharge carries the visit-level fields of a discharge message.
type Discharge struct {
	Encounter    string
	SourceSystem string

	DischargeTime        time.Time
	DischargeDisposition temporal.Value[string]
	DischargeDestination temporal.Value[string]

	EventTime  time.Time
	StoredFrom time.Time
}
