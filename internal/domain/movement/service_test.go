package movement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/UCLH-DHCT/emap-sub000/internal/platform/fault"
)

type mockRepo struct {
	locations map[uuid.UUID]*Location
	stays     map[uuid.UUID]*LocationVisit
	audits    []*LocationVisitAudit
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		locations: make(map[uuid.UUID]*Location),
		stays:     make(map[uuid.UUID]*LocationVisit),
	}
}

func (m *mockRepo) CreateLocation(_ context.Context, l *Location) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	m.locations[l.ID] = l
	return nil
}

func (m *mockRepo) FindLocationByString(_ context.Context, s string) (*Location, error) {
	for _, l := range m.locations {
		if l.LocationString == s {
			return l, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) GetLocationByID(_ context.Context, id uuid.UUID) (*Location, error) {
	l, ok := m.locations[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return l, nil
}

func (m *mockRepo) CreateStay(_ context.Context, lv *LocationVisit) error {
	if lv.ID == uuid.Nil {
		lv.ID = uuid.New()
	}
	m.stays[lv.ID] = lv
	return nil
}

func (m *mockRepo) UpdateStay(_ context.Context, lv *LocationVisit) error {
	m.stays[lv.ID] = lv
	return nil
}

func (m *mockRepo) DeleteStay(_ context.Context, id uuid.UUID) error {
	delete(m.stays, id)
	return nil
}

func (m *mockRepo) InsertStayAudit(_ context.Context, a *LocationVisitAudit) error {
	m.audits = append(m.audits, a)
	return nil
}

func (m *mockRepo) GetOpenStay(_ context.Context, visitID uuid.UUID) (*LocationVisit, error) {
	for _, lv := range m.stays {
		if lv.HospitalVisitID == visitID && lv.Open() {
			return lv, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) ListStaysByVisit(_ context.Context, visitID uuid.UUID) ([]*LocationVisit, error) {
	var result []*LocationVisit
	for _, lv := range m.stays {
		if lv.HospitalVisitID == visitID {
			result = append(result, lv)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AdmissionTime.Before(result[j].AdmissionTime) })
	return result, nil
}

func (m *mockRepo) FindStayByAdmissionTime(_ context.Context, visitID uuid.UUID, at time.Time) (*LocationVisit, error) {
	for _, lv := range m.stays {
		if lv.HospitalVisitID == visitID && lv.AdmissionTime.Equal(at) {
			return lv, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) FindPoolStay(_ context.Context, visitID uuid.UUID, at time.Time) (*LocationVisit, error) {
	for _, lv := range m.stays {
		if lv.HospitalVisitID == visitID && lv.AdmissionTime.Equal(at) && lv.PoolBedCount != nil {
			return lv, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) openCount(visitID uuid.UUID) int {
	n := 0
	for _, lv := range m.stays {
		if lv.HospitalVisitID == visitID && lv.Open() {
			n++
		}
	}
	return n
}

// locationName resolves a stay's location for assertions; unknown locations
// come back as "?".
func (m *mockRepo) locationName(lv *LocationVisit) string {
	if lv.LocationID == nil {
		return "?"
	}
	return m.locations[*lv.LocationID].LocationString
}

var (
	t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	t1 = t0.Add(1 * time.Hour)
	t2 = t0.Add(2 * time.Hour)
	t3 = t0.Add(3 * time.Hour)
	t4 = t0.Add(4 * time.Hour)
	t5 = t0.Add(5 * time.Hour)
)

func TestAdmitOpensSingleStay(t *testing.T) {
	repo := newMockRepo()
	tr := NewTracker(repo)
	visitID := uuid.New()
	ctx := context.Background()

	if err := tr.Admit(ctx, AdmitEvent{VisitID: visitID, Location: "T03^B1", EventTime: t0, StoredFrom: t5}); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	stays, _ := tr.ListStays(ctx, visitID)
	if len(stays) != 1 || !stays[0].Open() {
		t.Fatalf("expected one open stay, got %d", len(stays))
	}
	if !stays[0].AdmissionTime.Equal(t0) {
		t.Errorf("admission time should be the event time")
	}

	// Replay.
	if err := tr.Admit(ctx, AdmitEvent{VisitID: visitID, Location: "T03^B1", EventTime: t0, StoredFrom: t5}); err != nil {
		t.Fatalf("replayed Admit: %v", err)
	}
	if len(repo.stays) != 1 || len(repo.audits) != 0 {
		t.Errorf("replay must not write")
	}
}

func TestAdmitWhileOpenClosesAndReopens(t *testing.T) {
	repo := newMockRepo()
	tr := NewTracker(repo)
	visitID := uuid.New()
	ctx := context.Background()

	tr.Admit(ctx, AdmitEvent{VisitID: visitID, Location: "ED", EventTime: t0, StoredFrom: t5})
	if err := tr.Admit(ctx, AdmitEvent{VisitID: visitID, Location: "T03^B1", EventTime: t1, StoredFrom: t5}); err != nil {
		t.Fatalf("second Admit: %v", err)
	}

	stays, _ := tr.ListStays(ctx, visitID)
	if len(stays) != 2 {
		t.Fatalf("expected 2 stays, got %d", len(stays))
	}
	if repo.openCount(visitID) != 1 {
		t.Errorf("at most one open stay")
	}
	first := stays[0]
	if first.DischargeTime == nil || !first.DischargeTime.Equal(t1) {
		t.Errorf("first stay should close at the re-admit time")
	}
}

func TestCancelAdmitRemovesStay(t *testing.T) {
	repo := newMockRepo()
	tr := NewTracker(repo)
	visitID := uuid.New()
	ctx := context.Background()

	tr.Admit(ctx, AdmitEvent{VisitID: visitID, Location: "ED", EventTime: t0, StoredFrom: t5})
	hasStays, err := tr.CancelAdmit(ctx, CancelAdmitEvent{VisitID: visitID, CancelledAdmissionTime: t0, EventTime: t1, StoredFrom: t5})
	if err != nil {
		t.Fatalf("CancelAdmit: %v", err)
	}
	if hasStays {
		t.Errorf("no stays should remain")
	}
	if len(repo.stays) != 0 {
		t.Errorf("stay should be deleted")
	}
	if len(repo.audits) != 1 {
		t.Errorf("deletion should write one audit row, got %d", len(repo.audits))
	}
	if !repo.audits[0].ValidUntil.Equal(t1) {
		t.Errorf("audit window should close at the cancellation time")
	}
}

func TestCancelAdmitUnknownEncounterIgnored(t *testing.T) {
	tr := NewTracker(newMockRepo())

	_, err := tr.CancelAdmit(context.Background(), CancelAdmitEvent{VisitID: uuid.New(), CancelledAdmissionTime: t0, EventTime: t1})
	if !errors.Is(err, fault.ErrMessageIgnored) {
		t.Errorf("expected ErrMessageIgnored, got %v", err)
	}
}

func TestCancelTransferReopensPreviousStay(t *testing.T) {
	repo := newMockRepo()
	tr := NewTracker(repo)
	visitID := uuid.New()
	ctx := context.Background()

	tr.Admit(ctx, AdmitEvent{VisitID: visitID, Location: "A", EventTime: t0, StoredFrom: t5})
	tr.Transfer(ctx, TransferEvent{VisitID: visitID, Location: "B", EventTime: t1, StoredFrom: t5})
	if err := tr.CancelTransfer(ctx, CancelTransferEvent{
		VisitID: visitID, CancelledLocation: "B", CancelledEventTime: t1, EventTime: t2, StoredFrom: t5,
	}); err != nil {
		t.Fatalf("CancelTransfer: %v", err)
	}

	stays, _ := tr.ListStays(ctx, visitID)
	if len(stays) != 1 {
		t.Fatalf("expected single stay, got %d", len(stays))
	}
	if repo.locationName(stays[0]) != "A" || !stays[0].Open() {
		t.Errorf("stay at A should be open again")
	}
}

func TestCancelTransferWithUnknownPredecessor(t *testing.T) {
	repo := newMockRepo()
	tr := NewTracker(repo)
	visitID := uuid.New()
	ctx := context.Background()

	// Stream starts mid-history: the transfer is the first event seen.
	tr.Transfer(ctx, TransferEvent{VisitID: visitID, Location: "B", EventTime: t1, StoredFrom: t5})
	if err := tr.CancelTransfer(ctx, CancelTransferEvent{
		VisitID: visitID, CancelledLocation: "B", CancelledEventTime: t1, EventTime: t2, StoredFrom: t5,
	}); err != nil {
		t.Fatalf("CancelTransfer: %v", err)
	}

	stays, _ := tr.ListStays(ctx, visitID)
	if len(stays) != 1 {
		t.Fatalf("expected single stay, got %d", len(stays))
	}
	if stays[0].LocationID != nil || !stays[0].Open() || !stays[0].InferredAdmission {
		t.Errorf("should hold an open stay at an unknown location")
	}
}

func TestCancelDischargeReopensAndDeletesLaterStay(t *testing.T) {
	repo := newMockRepo()
	tr := NewTracker(repo)
	visitID := uuid.New()
	ctx := context.Background()

	tr.Admit(ctx, AdmitEvent{VisitID: visitID, Location: "A", EventTime: t0, StoredFrom: t5})
	tr.Discharge(ctx, DischargeEvent{VisitID: visitID, Location: "A", EventTime: t1, StoredFrom: t5})
	// An A08-style update reopened processing with a new stay after the discharge.
	tr.Admit(ctx, AdmitEvent{VisitID: visitID, Location: "B", EventTime: t2, StoredFrom: t5})

	if err := tr.CancelDischarge(ctx, CancelDischargeEvent{VisitID: visitID, EventTime: t3, StoredFrom: t5}); err != nil {
		t.Fatalf("CancelDischarge: %v", err)
	}

	stays, _ := tr.ListStays(ctx, visitID)
	if len(stays) != 1 {
		t.Fatalf("the later stay should be deleted, got %d stays", len(stays))
	}
	if repo.locationName(stays[0]) != "A" || !stays[0].Open() {
		t.Errorf("discharged stay at A should be reopened")
	}
}

func TestSwapLocationsRelinksBothStays(t *testing.T) {
	repo := newMockRepo()
	tr := NewTracker(repo)
	visitA, visitB := uuid.New(), uuid.New()
	ctx := context.Background()

	tr.Admit(ctx, AdmitEvent{VisitID: visitA, Location: "T03^B1", EventTime: t0, StoredFrom: t5})
	tr.Admit(ctx, AdmitEvent{VisitID: visitB, Location: "T03^B2", EventTime: t0, StoredFrom: t5})

	if err := tr.SwapLocations(ctx, visitA, visitB, t1, t5); err != nil {
		t.Fatalf("SwapLocations: %v", err)
	}

	openA, _ := tr.OpenStay(ctx, visitA)
	openB, _ := tr.OpenStay(ctx, visitB)
	if repo.locationName(openA) != "T03^B2" || repo.locationName(openB) != "T03^B1" {
		t.Errorf("open stays should be exchanged, got %s / %s", repo.locationName(openA), repo.locationName(openB))
	}
	if repo.openCount(visitA) != 1 || repo.openCount(visitB) != 1 {
		t.Errorf("swap must preserve one open stay per visit")
	}
}

func TestPoolAdmitsIncrementBedCount(t *testing.T) {
	repo := newMockRepo()
	tr := NewTracker(repo)
	visitID := uuid.New()
	ctx := context.Background()

	ev := AdmitEvent{VisitID: visitID, Location: "POOL", PoolLocation: true, EventTime: t0, StoredFrom: t5}
	tr.Admit(ctx, ev)
	tr.Admit(ctx, ev)
	tr.Admit(ctx, ev)

	stays, _ := tr.ListStays(ctx, visitID)
	if len(stays) != 1 {
		t.Fatalf("pool admits for one contact time should share one stay, got %d", len(stays))
	}
	if stays[0].PoolBedCount == nil || *stays[0].PoolBedCount != 3 {
		t.Errorf("expected bed count 3, got %v", stays[0].PoolBedCount)
	}
}

// chain renders a visit's stays as "loc[admit,discharge]" strings for
// comparing final states across delivery orders.
func chain(t *testing.T, repo *mockRepo, visitID uuid.UUID) string {
	t.Helper()
	stays, _ := repo.ListStaysByVisit(context.Background(), visitID)
	parts := make([]string, 0, len(stays))
	for _, s := range stays {
		end := "open"
		if s.DischargeTime != nil {
			end = s.DischargeTime.Format("15:04")
		}
		parts = append(parts, fmt.Sprintf("%s[%s,%s]", repo.locationName(s), s.AdmissionTime.Format("15:04"), end))
	}
	return strings.Join(parts, " ")
}

// TestOrderIndependence applies the sequence {Admit, Transfer, Transfer,
// CancelTransfer, Transfer, Discharge} in every delivery order where the
// cancellation does not precede its target, and checks that the final chain
// of stays is identical.
func TestOrderIndependence(t *testing.T) {
	type event struct {
		name  string
		apply func(tr *Tracker, visitID uuid.UUID) error
	}
	events := []event{
		{"admit", func(tr *Tracker, v uuid.UUID) error {
			return tr.Admit(context.Background(), AdmitEvent{VisitID: v, Location: "A", EventTime: t0, StoredFrom: t5})
		}},
		{"transferB", func(tr *Tracker, v uuid.UUID) error {
			return tr.Transfer(context.Background(), TransferEvent{VisitID: v, Location: "B", EventTime: t1, StoredFrom: t5})
		}},
		{"transferC", func(tr *Tracker, v uuid.UUID) error {
			return tr.Transfer(context.Background(), TransferEvent{VisitID: v, Location: "C", EventTime: t2, StoredFrom: t5})
		}},
		{"cancelC", func(tr *Tracker, v uuid.UUID) error {
			return tr.CancelTransfer(context.Background(), CancelTransferEvent{
				VisitID: v, CancelledLocation: "C", CancelledEventTime: t2, EventTime: t3, StoredFrom: t5,
			})
		}},
		{"transferD", func(tr *Tracker, v uuid.UUID) error {
			return tr.Transfer(context.Background(), TransferEvent{VisitID: v, Location: "D", EventTime: t3, StoredFrom: t5})
		}},
		{"discharge", func(tr *Tracker, v uuid.UUID) error {
			return tr.Discharge(context.Background(), DischargeEvent{VisitID: v, Location: "D", EventTime: t4, StoredFrom: t5})
		}},
	}

	var want string
	run := func(order []int) (string, int) {
		repo := newMockRepo()
		tr := NewTracker(repo)
		visitID := uuid.New()
		for _, i := range order {
			if err := events[i].apply(tr, visitID); err != nil && !errors.Is(err, fault.ErrMessageIgnored) {
				t.Fatalf("order %v: event %s: %v", order, events[i].name, err)
			}
		}
		return chain(t, repo, visitID), repo.openCount(visitID)
	}
	want, _ = run([]int{0, 1, 2, 3, 4, 5})

	var permute func(order, rest []int)
	permute = func(order, rest []int) {
		if len(rest) == 0 {
			// Causal validity: the cancellation never precedes its target.
			iCancel, iTarget := -1, -1
			for pos, i := range order {
				if i == 3 {
					iCancel = pos
				}
				if i == 2 {
					iTarget = pos
				}
			}
			if iCancel < iTarget {
				return
			}
			got, open := run(order)
			if got != want {
				t.Errorf("order %v diverged:\n got  %s\n want %s", order, got, want)
			}
			if open > 1 {
				t.Errorf("order %v left %d open stays", order, open)
			}
			return
		}
		for i := range rest {
			next := append(append([]int{}, order...), rest[i])
			var remaining []int
			remaining = append(remaining, rest[:i]...)
			remaining = append(remaining, rest[i+1:]...)
			permute(next, remaining)
		}
	}
	permute(nil, []int{0, 1, 2, 3, 4, 5})
}
