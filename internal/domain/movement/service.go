package movement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/UCLH-DHCT/emap-sub000/internal/platform/fault"
	"github.com/UCLH-DHCT/emap-sub000/internal/platform/temporal"
)

// Tracker is the admit/transfer/discharge/cancel state machine over one
// visit's chain of location stays. Every transition preserves the invariant
// that a visit has at most one open stay, processing the same event twice
// writes nothing, and causally-valid reorderings of a message sequence
// converge to the same final chain.
type Tracker struct {
	repo Repository
}

func NewTracker(repo Repository) *Tracker {
	return &Tracker{repo: repo}
}

// Admit opens a stay at the event's location. An admit while a stay is
// already open closes the current stay and opens a new one (A06-style
// reclassification). Pool locations are keyed by contact time alone and
// repeat admits increment the bed count on the existing stay.
func (t *Tracker) Admit(ctx context.Context, ev AdmitEvent) error {
	if ev.PoolLocation {
		return t.admitPool(ctx, ev)
	}
	loc, err := t.getOrCreateLocation(ctx, ev.Location, ev.StoredFrom)
	if err != nil {
		return err
	}
	return t.placeStay(ctx, ev.VisitID, &loc.ID, ev.EventTime, ev.StoredFrom, false)
}

// Transfer closes the open stay at the event time and opens a new one at the
// target location. With no open stay the admission is inferred from the
// transfer itself. A transfer to the location already occupied is ignored.
func (t *Tracker) Transfer(ctx context.Context, ev TransferEvent) error {
	loc, err := t.getOrCreateLocation(ctx, ev.Location, ev.StoredFrom)
	if err != nil {
		return err
	}
	return t.placeStay(ctx, ev.VisitID, &loc.ID, ev.EventTime, ev.StoredFrom, true)
}

// placeStay records that the patient was at locID from eventTime on. It
// slots the stay into the visit's chain wherever the event time falls,
// repairing inferred boundaries on both sides so that out-of-order delivery
// converges to the in-order result.
func (t *Tracker) placeStay(ctx context.Context, visitID uuid.UUID, locID *uuid.UUID, eventTime, storedFrom time.Time, isTransfer bool) error {
	stays, err := t.repo.ListStaysByVisit(ctx, visitID)
	if err != nil {
		return err
	}

	// Replay: this event already produced its stay.
	if existing := stayAt(stays, eventTime); existing != nil {
		return nil
	}

	// An unknown-location placeholder (left by a cancelled transfer whose
	// predecessor had not been seen) is superseded once real earlier history
	// arrives.
	for _, s := range stays {
		if s.LocationID == nil && s.InferredAdmission && eventTime.Before(s.AdmissionTime) {
			if err := t.deleteStay(ctx, s, eventTime, storedFrom); err != nil {
				return err
			}
			stays = without(stays, s)
			break
		}
	}

	// A later event already inferred this stay's start; the real event
	// re-times it.
	for _, s := range stays {
		if !s.InferredAdmission || !sameLocation(s.LocationID, locID) || s.AdmissionTime.Equal(eventTime) {
			continue
		}
		if s.AdmissionTime.After(eventTime) || (s.DischargeTime != nil && s.DischargeTime.After(eventTime)) {
			return t.retimeAdmission(ctx, stays, s, eventTime, storedFrom)
		}
	}

	open := openOf(stays)
	if open != nil && sameLocation(open.LocationID, locID) {
		if isTransfer {
			return fault.Ignoredf("transfer to currently occupied location")
		}
		return nil
	}

	if open != nil && !eventTime.Before(open.AdmissionTime) {
		if err := t.closeStay(ctx, open, eventTime, storedFrom, false); err != nil {
			return err
		}
		return t.createStay(ctx, visitID, locID, eventTime, nil, storedFrom, false, false)
	}

	// The event predates part of the chain: insert a closed stay ending at
	// the next stay's admission and shorten the predecessor to the new
	// boundary.
	if next := nextAfter(stays, eventTime); next != nil {
		if err := t.shortenPrev(ctx, stays, eventTime, storedFrom); err != nil {
			return err
		}
		d := next.AdmissionTime
		return t.createStay(ctx, visitID, locID, eventTime, &d, storedFrom, false, true)
	}

	// Nothing on file after this event: it opens the chain's current stay.
	return t.createStay(ctx, visitID, locID, eventTime, nil, storedFrom, isTransfer, false)
}

// Discharge closes the open stay when the discharge location agrees with it.
// A discharge naming a location the chain has not reached yet records the
// final stay as inferred, so the matching transfer can re-time it later. With
// no open stay the latest inferred closure is firmed up, and on an empty
// visit the whole stay is inferred from the discharge itself.
func (t *Tracker) Discharge(ctx context.Context, ev DischargeEvent) error {
	stays, err := t.repo.ListStaysByVisit(ctx, ev.VisitID)
	if err != nil {
		return err
	}

	var locID *uuid.UUID
	if ev.Location != "" {
		loc, err := t.getOrCreateLocation(ctx, ev.Location, ev.StoredFrom)
		if err != nil {
			return err
		}
		locID = &loc.ID
	}

	if open := openOf(stays); open != nil {
		if locID == nil || open.LocationID == nil || sameLocation(open.LocationID, locID) {
			row := temporal.NewRow(open, auditStay, ev.EventTime, ev.StoredFrom, false)
			temporal.AssignTimeIfDifferent(row, &ev.EventTime, open.DischargeTime,
				func(v *time.Time) { open.DischargeTime = v })
			if open.LocationID == nil && locID != nil {
				open.LocationID = locID
				row.MarkUpdated()
			}
			if row.Updated() {
				open.InferredDischarge = false
			}
			return t.saveStay(ctx, row)
		}
		if stayAt(stays, ev.EventTime) == nil {
			d := ev.EventTime
			return t.createStay(ctx, ev.VisitID, locID, ev.EventTime, &d, ev.StoredFrom, true, false)
		}
		return nil
	}

	if latest := latestOf(stays); latest != nil {
		if latest.DischargeTime != nil && latest.DischargeTime.Equal(ev.EventTime) {
			return nil
		}
		if latest.InferredDischarge && (locID == nil || sameLocation(latest.LocationID, locID)) {
			return t.retimeDischarge(ctx, latest, ev.EventTime, ev.StoredFrom, false)
		}
		if locID != nil && !sameLocation(latest.LocationID, locID) && stayAt(stays, ev.EventTime) == nil {
			d := ev.EventTime
			return t.createStay(ctx, ev.VisitID, locID, ev.EventTime, &d, ev.StoredFrom, true, false)
		}
		return fault.Ignoredf("discharge for already closed visit")
	}

	d := ev.EventTime
	return t.createStay(ctx, ev.VisitID, locID, ev.EventTime, &d, ev.StoredFrom, true, false)
}

// CancelAdmit deletes the stay the cancelled admission created, writing one
// audit row. The returned flag reports whether any stays remain, so the
// caller can clear the visit's admission time when none do. A cancellation
// for a never-seen admission is silently ignored: the stream may have started
// mid-history.
func (t *Tracker) CancelAdmit(ctx context.Context, ev CancelAdmitEvent) (bool, error) {
	stay, err := t.stayAtAdmissionTime(ctx, ev.VisitID, ev.CancelledAdmissionTime)
	if err != nil {
		return false, err
	}
	if stay == nil {
		return false, fault.Ignoredf("cancel admit with no matching stay at %s", ev.CancelledAdmissionTime)
	}

	if err := t.deleteStay(ctx, stay, ev.EventTime, ev.StoredFrom); err != nil {
		return false, err
	}
	remaining, err := t.repo.ListStaysByVisit(ctx, ev.VisitID)
	if err != nil {
		return false, err
	}
	return len(remaining) > 0, nil
}

// CancelTransfer deletes the stay the cancelled transfer created and reopens
// the immediately preceding stay. When no preceding stay is known, a single
// open stay at an unknown location is left in its place.
func (t *Tracker) CancelTransfer(ctx context.Context, ev CancelTransferEvent) error {
	cancelled, err := t.stayAtAdmissionTime(ctx, ev.VisitID, ev.CancelledEventTime)
	if err != nil {
		return err
	}
	if cancelled == nil {
		return fault.Ignoredf("cancel transfer with no matching stay at %s", ev.CancelledEventTime)
	}

	stays, err := t.repo.ListStaysByVisit(ctx, ev.VisitID)
	if err != nil {
		return err
	}
	previous := prevBefore(stays, cancelled.AdmissionTime)
	next := nextAfter(stays, cancelled.AdmissionTime)

	if err := t.deleteStay(ctx, cancelled, ev.EventTime, ev.StoredFrom); err != nil {
		return err
	}

	if next != nil {
		// The chain continues past the cancelled stay: the patient really
		// remained at the previous location until the next event, so extend
		// it rather than reopening.
		if previous != nil {
			return t.retimeDischarge(ctx, previous, next.AdmissionTime, ev.StoredFrom, false)
		}
		return nil
	}

	if previous == nil {
		// The prior location was never seen; hold the patient at an unknown
		// location so the visit still has its open stay.
		return t.createStay(ctx, ev.VisitID, nil, cancelled.AdmissionTime, nil, ev.StoredFrom, true, false)
	}

	row := temporal.NewRow(previous, auditStay, ev.EventTime, ev.StoredFrom, false)
	temporal.RemoveTimeIfExists(row, previous.DischargeTime,
		func(v *time.Time) { previous.DischargeTime = v }, ev.EventTime)
	return t.saveStay(ctx, row)
}

// CancelDischarge reopens the most recently closed stay. If an update has
// already opened a new stay after the discharge, that later stay is deleted:
// the cancellation wins.
func (t *Tracker) CancelDischarge(ctx context.Context, ev CancelDischargeEvent) error {
	stays, err := t.repo.ListStaysByVisit(ctx, ev.VisitID)
	if err != nil {
		return err
	}

	var discharged *LocationVisit
	for _, s := range stays {
		if s.Open() {
			continue
		}
		if discharged == nil || s.DischargeTime.After(*discharged.DischargeTime) {
			discharged = s
		}
	}
	if discharged == nil {
		return fault.Ignoredf("cancel discharge with no closed stay on visit")
	}

	for _, s := range stays {
		if s.ID == discharged.ID || s.AdmissionTime.Before(*discharged.DischargeTime) {
			continue
		}
		if err := t.deleteStay(ctx, s, ev.EventTime, ev.StoredFrom); err != nil {
			return err
		}
	}

	row := temporal.NewRow(discharged, auditStay, ev.EventTime, ev.StoredFrom, false)
	temporal.RemoveTimeIfExists(row, discharged.DischargeTime,
		func(v *time.Time) { discharged.DischargeTime = v }, ev.EventTime)
	return t.saveStay(ctx, row)
}

// SwapLocations exchanges the open stays of two visits by relinking each
// stay's visit pointer, so the at-most-one-open-stay invariant holds on both
// visits throughout. The caller supplies the transaction scope.
func (t *Tracker) SwapLocations(ctx context.Context, visitA, visitB uuid.UUID, eventTime, storedFrom time.Time) error {
	openA, err := t.openStay(ctx, visitA)
	if err != nil {
		return err
	}
	openB, err := t.openStay(ctx, visitB)
	if err != nil {
		return err
	}
	if openA == nil || openB == nil {
		return fault.Ignoredf("swap with missing open stay (a=%v, b=%v)", openA != nil, openB != nil)
	}

	rowA := temporal.NewRow(openA, auditStay, eventTime, storedFrom, false)
	temporal.AssignIfDifferent(rowA, visitB, openA.HospitalVisitID,
		func(id uuid.UUID) { openA.HospitalVisitID = id })
	rowB := temporal.NewRow(openB, auditStay, eventTime, storedFrom, false)
	temporal.AssignIfDifferent(rowB, visitA, openB.HospitalVisitID,
		func(id uuid.UUID) { openB.HospitalVisitID = id })

	if err := t.saveStay(ctx, rowA); err != nil {
		return err
	}
	return t.saveStay(ctx, rowB)
}

// OpenStay returns the visit's open stay, or nil when there is none.
func (t *Tracker) OpenStay(ctx context.Context, visitID uuid.UUID) (*LocationVisit, error) {
	return t.openStay(ctx, visitID)
}

// ListStays returns the visit's stays ordered by admission time.
func (t *Tracker) ListStays(ctx context.Context, visitID uuid.UUID) ([]*LocationVisit, error) {
	return t.repo.ListStaysByVisit(ctx, visitID)
}

// DeleteStaysForVisits erases every stay of the given visits, one audit row
// per stay. Used by the deletion cascade after the visits themselves have
// been audited.
func (t *Tracker) DeleteStaysForVisits(ctx context.Context, visitIDs []uuid.UUID, validFrom, storedFrom time.Time) (int, error) {
	deleted := 0
	for _, visitID := range visitIDs {
		stays, err := t.repo.ListStaysByVisit(ctx, visitID)
		if err != nil {
			return deleted, err
		}
		for _, s := range stays {
			if err := t.deleteStay(ctx, s, validFrom, storedFrom); err != nil {
				return deleted, err
			}
			deleted++
		}
	}
	if deleted > 0 {
		log.Ctx(ctx).Info().Int("stays", deleted).Msg("location stays erased")
	}
	return deleted, nil
}

func (t *Tracker) admitPool(ctx context.Context, ev AdmitEvent) error {
	existing, err := t.repo.FindPoolStay(ctx, ev.VisitID, ev.EventTime)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if existing != nil {
		row := temporal.NewRow(existing, auditStay, ev.EventTime, ev.StoredFrom, false)
		count := *existing.PoolBedCount + 1
		existing.PoolBedCount = &count
		row.MarkUpdated()
		return t.saveStay(ctx, row)
	}

	open, err := t.openStay(ctx, ev.VisitID)
	if err != nil {
		return err
	}
	if open != nil {
		if err := t.closeStay(ctx, open, ev.EventTime, ev.StoredFrom, false); err != nil {
			return err
		}
	}

	var locID *uuid.UUID
	if ev.Location != "" {
		loc, err := t.getOrCreateLocation(ctx, ev.Location, ev.StoredFrom)
		if err != nil {
			return err
		}
		locID = &loc.ID
	}
	count := int64(1)
	lv := &LocationVisit{
		ID:              uuid.New(),
		HospitalVisitID: ev.VisitID,
		LocationID:      locID,
		AdmissionTime:   ev.EventTime,
		PoolBedCount:    &count,
	}
	lv.ValidFrom = ev.EventTime
	lv.StoredFrom = ev.StoredFrom
	return t.repo.CreateStay(ctx, lv)
}

func (t *Tracker) getOrCreateLocation(ctx context.Context, locationString string, storedFrom time.Time) (*Location, error) {
	loc, err := t.repo.FindLocationByString(ctx, locationString)
	if err == nil {
		return loc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	loc = &Location{ID: uuid.New(), LocationString: locationString, StoredFrom: storedFrom}
	if err := t.repo.CreateLocation(ctx, loc); err != nil {
		return nil, err
	}
	return loc, nil
}

func (t *Tracker) openStay(ctx context.Context, visitID uuid.UUID) (*LocationVisit, error) {
	lv, err := t.repo.GetOpenStay(ctx, visitID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lv, nil
}

func (t *Tracker) stayAtAdmissionTime(ctx context.Context, visitID uuid.UUID, admissionTime time.Time) (*LocationVisit, error) {
	lv, err := t.repo.FindStayByAdmissionTime(ctx, visitID, admissionTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lv, nil
}

func (t *Tracker) createStay(ctx context.Context, visitID uuid.UUID, locID *uuid.UUID, admission time.Time, discharge *time.Time, storedFrom time.Time, inferredAdmission, inferredDischarge bool) error {
	lv := &LocationVisit{
		ID:                uuid.New(),
		HospitalVisitID:   visitID,
		LocationID:        locID,
		AdmissionTime:     admission,
		DischargeTime:     discharge,
		InferredAdmission: inferredAdmission,
		InferredDischarge: inferredDischarge,
	}
	lv.ValidFrom = admission
	lv.StoredFrom = storedFrom
	return t.repo.CreateStay(ctx, lv)
}

func (t *Tracker) closeStay(ctx context.Context, lv *LocationVisit, dischargeTime, storedFrom time.Time, inferred bool) error {
	row := temporal.NewRow(lv, auditStay, dischargeTime, storedFrom, false)
	temporal.AssignTimeIfDifferent(row, &dischargeTime, lv.DischargeTime,
		func(v *time.Time) { lv.DischargeTime = v })
	if row.Updated() {
		lv.InferredDischarge = inferred
	}
	return t.saveStay(ctx, row)
}

// retimeAdmission moves an inferred admission to the real event time and
// repairs the predecessor's boundary so it meets the corrected admission.
func (t *Tracker) retimeAdmission(ctx context.Context, stays []*LocationVisit, lv *LocationVisit, eventTime, storedFrom time.Time) error {
	old := lv.AdmissionTime
	var prev *LocationVisit
	for _, s := range stays {
		if s.ID == lv.ID || !s.AdmissionTime.Before(old) {
			continue
		}
		if prev == nil || s.AdmissionTime.After(prev.AdmissionTime) {
			prev = s
		}
	}
	if prev != nil && eventTime.After(prev.AdmissionTime) {
		adjoined := prev.InferredDischarge && prev.DischargeTime != nil && prev.DischargeTime.Equal(old)
		if prev.DischargeTime == nil || prev.DischargeTime.After(eventTime) || adjoined {
			if err := t.retimeDischarge(ctx, prev, eventTime, storedFrom, false); err != nil {
				return err
			}
		}
	}
	row := temporal.NewRow(lv, auditStay, eventTime, storedFrom, false)
	lv.AdmissionTime = eventTime
	lv.InferredAdmission = false
	row.MarkUpdated()
	return t.saveStay(ctx, row)
}

// shortenPrev pulls the predecessor's discharge back to a newly discovered
// boundary: an event at eventTime proves the patient had already left the
// previous location by then.
func (t *Tracker) shortenPrev(ctx context.Context, stays []*LocationVisit, eventTime time.Time, storedFrom time.Time) error {
	prev := prevBefore(stays, eventTime)
	if prev == nil || (prev.DischargeTime != nil && !prev.DischargeTime.After(eventTime)) {
		return nil
	}
	return t.retimeDischarge(ctx, prev, eventTime, storedFrom, false)
}

// retimeDischarge replaces an inferred closure with a corrected time.
func (t *Tracker) retimeDischarge(ctx context.Context, lv *LocationVisit, dischargeTime, storedFrom time.Time, stillInferred bool) error {
	row := temporal.NewRow(lv, auditStay, dischargeTime, storedFrom, false)
	temporal.AssignTimeIfDifferent(row, &dischargeTime, lv.DischargeTime,
		func(v *time.Time) { lv.DischargeTime = v })
	if row.Updated() {
		lv.InferredDischarge = stillInferred
	}
	return t.saveStay(ctx, row)
}

// deleteStay writes the stay's final state to audit, window closed at the
// retraction time, then removes the row.
func (t *Tracker) deleteStay(ctx context.Context, lv *LocationVisit, validUntil, storedUntil time.Time) error {
	if err := t.repo.InsertStayAudit(ctx, auditStay(lv, validUntil, storedUntil)); err != nil {
		return err
	}
	return t.repo.DeleteStay(ctx, lv.ID)
}

func (t *Tracker) saveStay(ctx context.Context, row *temporal.Row[*LocationVisit, *LocationVisitAudit]) error {
	return row.Save(ctx, t.repo.CreateStay, t.repo.UpdateStay, t.repo.InsertStayAudit)
}

func sameLocation(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func without(stays []*LocationVisit, drop *LocationVisit) []*LocationVisit {
	out := stays[:0]
	for _, s := range stays {
		if s.ID != drop.ID {
			out = append(out, s)
		}
	}
	return out
}

func stayAt(stays []*LocationVisit, admission time.Time) *LocationVisit {
	for _, s := range stays {
		if s.AdmissionTime.Equal(admission) {
			return s
		}
	}
	return nil
}

func openOf(stays []*LocationVisit) *LocationVisit {
	for _, s := range stays {
		if s.Open() {
			return s
		}
	}
	return nil
}

func latestOf(stays []*LocationVisit) *LocationVisit {
	var latest *LocationVisit
	for _, s := range stays {
		if latest == nil || s.AdmissionTime.After(latest.AdmissionTime) {
			latest = s
		}
	}
	return latest
}

func nextAfter(stays []*LocationVisit, admission time.Time) *LocationVisit {
	var next *LocationVisit
	for _, s := range stays {
		if !s.AdmissionTime.After(admission) {
			continue
		}
		if next == nil || s.AdmissionTime.Before(next.AdmissionTime) {
			next = s
		}
	}
	return next
}

func prevBefore(stays []*LocationVisit, admission time.Time) *LocationVisit {
	var prev *LocationVisit
	for _, s := range stays {
		if !s.AdmissionTime.Before(admission) {
			continue
		}
		if prev == nil || s.AdmissionTime.After(prev.AdmissionTime) {
			prev = s
		}
	}
	return prev
}
