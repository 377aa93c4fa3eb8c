// Package movement tracks the chain of physical-location stays within a
// hospital visit: admits, transfers, discharges and their cancellations,
// arriving in any order. The invariant maintained throughout is that a visit
// has at most one open stay.
package movement

import (
	"time"

	"github.com/google/uuid"

	"github.com/UCLH-DHCT/emap-sub000/internal/platform/temporal"
)

// Location maps to the location table: one physical location string from the
// source system, created on first sight and never deleted.
type Location struct {
	ID             uuid.UUID `db:"location_id" json:"location_id"`
	LocationString string    `db:"location_string" json:"location_string"`
	StoredFrom     time.Time `db:"stored_from" json:"stored_from"`
}

// LocationVisit maps to the location_visit table: one contiguous interval at
// one location within a visit. A nil DischargeTime means the stay is open. A
// nil LocationID means the location is unknown, which happens when a
// cancelled transfer's predecessor was never seen. Pool stays carry a bed
// count instead of per-instance identity.
type LocationVisit struct {
	temporal.Columns
	ID                uuid.UUID  `db:"location_visit_id" json:"location_visit_id"`
	HospitalVisitID   uuid.UUID  `db:"hospital_visit_id" json:"hospital_visit_id"`
	LocationID        *uuid.UUID `db:"location_id" json:"location_id,omitempty"`
	AdmissionTime     time.Time  `db:"admission_time" json:"admission_time"`
	DischargeTime     *time.Time `db:"discharge_time" json:"discharge_time,omitempty"`
	InferredAdmission bool       `db:"inferred_admission" json:"inferred_admission"`
	InferredDischarge bool       `db:"inferred_discharge" json:"inferred_discharge"`
	PoolBedCount      *int64     `db:"pool_bed_count" json:"pool_bed_count,omitempty"`
}

func (lv *LocationVisit) CopyEntity() *LocationVisit {
	c := *lv
	return &c
}

// Open reports whether the stay has no discharge time.
func (lv *LocationVisit) Open() bool { return lv.DischargeTime == nil }

// LocationVisitAudit maps to the location_visit_audit table.
type LocationVisitAudit struct {
	temporal.Window
	ID                uuid.UUID  `db:"location_visit_audit_id" json:"location_visit_audit_id"`
	LocationVisitID   uuid.UUID  `db:"location_visit_id" json:"location_visit_id"`
	HospitalVisitID   uuid.UUID  `db:"hospital_visit_id" json:"hospital_visit_id"`
	LocationID        *uuid.UUID `db:"location_id" json:"location_id,omitempty"`
	AdmissionTime     time.Time  `db:"admission_time" json:"admission_time"`
	DischargeTime     *time.Time `db:"discharge_time" json:"discharge_time,omitempty"`
	InferredAdmission bool       `db:"inferred_admission" json:"inferred_admission"`
	InferredDischarge bool       `db:"inferred_discharge" json:"inferred_discharge"`
	PoolBedCount      *int64     `db:"pool_bed_count" json:"pool_bed_count,omitempty"`
}

func auditStay(lv *LocationVisit, validUntil, storedUntil time.Time) *LocationVisitAudit {
	return &LocationVisitAudit{
		Window:            temporal.CloseWindow(lv.Columns, validUntil, storedUntil),
		ID:                uuid.New(),
		LocationVisitID:   lv.ID,
		HospitalVisitID:   lv.HospitalVisitID,
		LocationID:        lv.LocationID,
		AdmissionTime:     lv.AdmissionTime,
		DischargeTime:     lv.DischargeTime,
		InferredAdmission: lv.InferredAdmission,
		InferredDischarge: lv.InferredDischarge,
		PoolBedCount:      lv.PoolBedCount,
	}
}

// AdmitEvent places the patient at a location, opening a stay.
type AdmitEvent struct {
	VisitID      uuid.UUID
	Location     string
	PoolLocation bool
	EventTime    time.Time
	StoredFrom   time.Time
}

// TransferEvent moves the patient to a new location.
type TransferEvent struct {
	VisitID    uuid.UUID
	Location   string
	EventTime  time.Time
	StoredFrom time.Time
}

// DischargeEvent closes the open stay.
type DischargeEvent struct {
	VisitID    uuid.UUID
	Location   string
	EventTime  time.Time
	StoredFrom time.Time
}

// CancelAdmitEvent retracts an admission: the stay it created is deleted.
type CancelAdmitEvent struct {
	VisitID                uuid.UUID
	CancelledAdmissionTime time.Time
	EventTime              time.Time
	StoredFrom             time.Time
}

// CancelTransferEvent retracts a transfer: the stay it created is deleted and
// the preceding stay reopened.
type CancelTransferEvent struct {
	VisitID            uuid.UUID
	CancelledLocation  string
	CancelledEventTime time.Time
	EventTime          time.Time
	StoredFrom         time.Time
}

// CancelDischargeEvent retracts a discharge: the closed stay is reopened.
type CancelDischargeEvent struct {
	VisitID    uuid.UUID
	EventTime  time.Time
	StoredFrom time.Time
}
