// Package ingest routes inbound clinical event messages to the domain
// controllers, one transaction per message.
package ingest

import (
	"time"

	"github.com/UCLH-DHCT/emap-sub000/internal/domain/person"
	"github.com/UCLH-DHCT/emap-sub000/internal/platform/temporal"
)

// Message is one inbound event. Kind names the message for routing, logging
// and metrics.
type Message interface {
	Kind() string
}

// Identifiers carries the patient keys a message may reference the patient
// by. Either key alone is enough; both may be present.
type Identifiers struct {
	Mrn       *string
	NhsNumber *string
}

// Admit reports the patient arriving at a location (A01-style).
type Admit struct {
	Identifiers
	SourceSystem     string
	Encounter        string
	Location         string
	PoolLocation     bool
	PresentationTime temporal.Value[time.Time]
	AdmissionTime    temporal.Value[time.Time]
	PatientClass     temporal.Value[string]
	ArrivalMethod    temporal.Value[string]
	EventTime        time.Time
}

func (Admit) Kind() string { return "adt.admit" }

// Register reports a pre-admission contact (A04-style): visit-level facts
// only, no location stay.
type Register struct {
	Identifiers
	SourceSystem     string
	Encounter        string
	PresentationTime temporal.Value[time.Time]
	PatientClass     temporal.Value[string]
	EventTime        time.Time
}

func (Register) Kind() string { return "adt.register" }

// Transfer moves the patient to a new location (A02-style).
type Transfer struct {
	Identifiers
	SourceSystem string
	Encounter    string
	Location     string
	PatientClass temporal.Value[string]
	EventTime    time.Time
}

func (Transfer) Kind() string { return "adt.transfer" }

// Discharge ends the visit (A03-style).
type Discharge struct {
	Identifiers
	SourceSystem         string
	Encounter            string
	Location             string
	DischargeTime        time.Time
	DischargeDisposition temporal.Value[string]
	DischargeDestination temporal.Value[string]
	EventTime            time.Time
}

func (Discharge) Kind() string { return "adt.discharge" }

// UpdatePatientInfo carries demographic and visit corrections (A08-style).
type UpdatePatientInfo struct {
	Identifiers
	SourceSystem     string
	Encounter        string
	Demographics     person.Demographics
	ResearchOptOut   temporal.Value[bool]
	PresentationTime temporal.Value[time.Time]
	AdmissionTime    temporal.Value[time.Time]
	PatientClass     temporal.Value[string]
	EventTime        time.Time
}

func (UpdatePatientInfo) Kind() string { return "adt.update_patient_info" }

// CancelAdmit retracts an earlier admission (A11-style).
type CancelAdmit struct {
	Identifiers
	SourceSystem           string
	Encounter              string
	CancelledAdmissionTime time.Time
	EventTime              time.Time
}

func (CancelAdmit) Kind() string { return "adt.cancel_admit" }

// CancelTransfer retracts an earlier transfer (A12-style).
type CancelTransfer struct {
	Identifiers
	SourceSystem       string
	Encounter          string
	CancelledLocation  string
	CancelledEventTime time.Time
	EventTime          time.Time
}

func (CancelTransfer) Kind() string { return "adt.cancel_transfer" }

// CancelDischarge retracts an earlier discharge (A13-style).
type CancelDischarge struct {
	Identifiers
	SourceSystem string
	Encounter    string
	EventTime    time.Time
}

func (CancelDischarge) Kind() string { return "adt.cancel_discharge" }

// SwapLocations exchanges the current locations of two patients (A17-style).
type SwapLocations struct {
	SourceSystem string
	EncounterA   string
	EncounterB   string
	EventTime    time.Time
}

func (SwapLocations) Kind() string { return "adt.swap_locations" }

// MergeIdentity retires one patient identifier into another (A40-style).
type MergeIdentity struct {
	SourceSystem string
	RetiringMrn  *string
	RetiringNhs  *string
	SurvivingMrn *string
	SurvivingNhs *string
	EventTime    time.Time
}

func (MergeIdentity) Kind() string { return "adt.merge_identity" }

// ChangeIdentifiers rewrites a patient's keys in place.
type ChangeIdentifiers struct {
	SourceSystem string
	PreviousMrn  string
	NewMrn       string
	NewNhs       *string
	EventTime    time.Time
}

func (ChangeIdentifiers) Kind() string { return "adt.change_identifiers" }

// DeletePersonInformation erases everything held against a patient.
type DeletePersonInformation struct {
	Identifiers
	SourceSystem string
	EventTime    time.Time
}

func (DeletePersonInformation) Kind() string { return "adt.delete_person_information" }

// QuestionAnswer is one question/answer pair attached to a parent record.
type QuestionAnswer struct {
	Question string
	Answer   string
}

// Condition carries an infection or problem-list update.
type Condition struct {
	Identifiers
	SourceSystem string
	Encounter    string
	DataType     string
	Code         string
	Name         temporal.Value[string]
	InternalID   temporal.Value[int64]
	AddedTime    time.Time
	OnsetTime    temporal.Value[time.Time]
	Resolution   temporal.Value[time.Time]
	Status       temporal.Value[string]
	Comment      temporal.Value[string]
	Questions    []QuestionAnswer
	EventTime    time.Time
}

func (Condition) Kind() string { return "condition" }
