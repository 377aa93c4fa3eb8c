// Package person maintains the patient-identifier graph (MRN, NHS number and
// the live-identifier mapping) and the demographic snapshot owned by each
// identifier. Identifiers are created lazily on first reference and never
// deleted; merges only repoint live mappings, preserving history in audit.
package person

import (
	"time"

	"github.com/google/uuid"

	"github.com/UCLH-DHCT/emap-sub000/internal/platform/temporal"
)

// Mrn maps to the mrn table. Either the MRN string or the NHS number may be
// absent when the identifier has only been seen through one of the two keys.
type Mrn struct {
	ID             uuid.UUID `db:"mrn_id" json:"mrn_id"`
	Mrn            *string   `db:"mrn" json:"mrn,omitempty"`
	NhsNumber      *string   `db:"nhs_number" json:"nhs_number,omitempty"`
	SourceSystem   string    `db:"source_system" json:"source_system"`
	ResearchOptOut bool      `db:"research_opt_out" json:"research_opt_out"`
	StoredFrom     time.Time `db:"stored_from" json:"stored_from"`
}

// MrnToLive maps to the mrn_to_live table: the current resolution of an
// identifier to its authoritative (possibly merged-into) identity. Every
// identifier starts as its own live identity.
type MrnToLive struct {
	temporal.Columns
	ID        uuid.UUID `db:"mrn_to_live_id" json:"mrn_to_live_id"`
	MrnID     uuid.UUID `db:"mrn_id" json:"mrn_id"`
	LiveMrnID uuid.UUID `db:"live_mrn_id" json:"live_mrn_id"`
}

func (m *MrnToLive) CopyEntity() *MrnToLive {
	c := *m
	return &c
}

// MrnToLiveAudit maps to the mrn_to_live_audit table.
type MrnToLiveAudit struct {
	temporal.Window
	ID          uuid.UUID `db:"mrn_to_live_audit_id" json:"mrn_to_live_audit_id"`
	MrnToLiveID uuid.UUID `db:"mrn_to_live_id" json:"mrn_to_live_id"`
	MrnID       uuid.UUID `db:"mrn_id" json:"mrn_id"`
	LiveMrnID   uuid.UUID `db:"live_mrn_id" json:"live_mrn_id"`
}

func auditMapping(m *MrnToLive, validUntil, storedUntil time.Time) *MrnToLiveAudit {
	return &MrnToLiveAudit{
		Window:      temporal.CloseWindow(m.Columns, validUntil, storedUntil),
		ID:          uuid.New(),
		MrnToLiveID: m.ID,
		MrnID:       m.MrnID,
		LiveMrnID:   m.LiveMrnID,
	}
}

// CoreDemographic maps to the core_demographic table: the demographic
// snapshot owned by exactly one identifier.
type CoreDemographic struct {
	temporal.Columns
	ID            uuid.UUID  `db:"core_demographic_id" json:"core_demographic_id"`
	MrnID         uuid.UUID  `db:"mrn_id" json:"mrn_id"`
	Firstname     *string    `db:"firstname" json:"firstname,omitempty"`
	Middlename    *string    `db:"middlename" json:"middlename,omitempty"`
	Lastname      *string    `db:"lastname" json:"lastname,omitempty"`
	BirthDatetime *time.Time `db:"birth_datetime" json:"birth_datetime,omitempty"`
	DeathDatetime *time.Time `db:"death_datetime" json:"death_datetime,omitempty"`
	Alive         *bool      `db:"alive" json:"alive,omitempty"`
	Sex           *string    `db:"sex" json:"sex,omitempty"`
	HomePostcode  *string    `db:"home_postcode" json:"home_postcode,omitempty"`
}

func (d *CoreDemographic) CopyEntity() *CoreDemographic {
	c := *d
	return &c
}

// CoreDemographicAudit maps to the core_demographic_audit table.
type CoreDemographicAudit struct {
	temporal.Window
	ID                uuid.UUID  `db:"core_demographic_audit_id" json:"core_demographic_audit_id"`
	CoreDemographicID uuid.UUID  `db:"core_demographic_id" json:"core_demographic_id"`
	MrnID             uuid.UUID  `db:"mrn_id" json:"mrn_id"`
	Firstname         *string    `db:"firstname" json:"firstname,omitempty"`
	Middlename        *string    `db:"middlename" json:"middlename,omitempty"`
	Lastname          *string    `db:"lastname" json:"lastname,omitempty"`
	BirthDatetime     *time.Time `db:"birth_datetime" json:"birth_datetime,omitempty"`
	DeathDatetime     *time.Time `db:"death_datetime" json:"death_datetime,omitempty"`
	Alive             *bool      `db:"alive" json:"alive,omitempty"`
	Sex               *string    `db:"sex" json:"sex,omitempty"`
	HomePostcode      *string    `db:"home_postcode" json:"home_postcode,omitempty"`
}

func auditDemographic(d *CoreDemographic, validUntil, storedUntil time.Time) *CoreDemographicAudit {
	return &CoreDemographicAudit{
		Window:            temporal.CloseWindow(d.Columns, validUntil, storedUntil),
		ID:                uuid.New(),
		CoreDemographicID: d.ID,
		MrnID:             d.MrnID,
		Firstname:         d.Firstname,
		Middlename:        d.Middlename,
		Lastname:          d.Lastname,
		BirthDatetime:     d.BirthDatetime,
		DeathDatetime:     d.DeathDatetime,
		Alive:             d.Alive,
		Sex:               d.Sex,
		HomePostcode:      d.HomePostcode,
	}
}

// Demographics carries the demographic fields of an inbound message. Each
// field is ternary: the source may know it, not mention it, or erase it.
type Demographics struct {
	GivenName     temporal.Value[string]
	MiddleName    temporal.Value[string]
	FamilyName    temporal.Value[string]
	BirthDatetime temporal.Value[time.Time]
	DeathDatetime temporal.Value[time.Time]
	Alive         temporal.Value[bool]
	Sex           temporal.Value[string]
	HomePostcode  temporal.Value[string]
}
