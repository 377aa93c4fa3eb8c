package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UCLH-DHCT/emap-sub000/internal/domain/condition"
	"github.com/UCLH-DHCT/emap-sub000/internal/domain/movement"
	"github.com/UCLH-DHCT/emap-sub000/internal/domain/person"
	"github.com/UCLH-DHCT/emap-sub000/internal/domain/question"
	"github.com/UCLH-DHCT/emap-sub000/internal/domain/visit"
	"github.com/UCLH-DHCT/emap-sub000/internal/platform/fault"
	"github.com/UCLH-DHCT/emap-sub000/internal/platform/temporal"
)

type fakeIdentity struct {
	mrn       *person.Mrn
	demos     []person.Demographics
	merged    bool
	changeErr error
}

func (f *fakeIdentity) GetOrCreateMrn(_ context.Context, _, _ *string, _ string, _, _ time.Time) (*person.Mrn, error) {
	return f.mrn, nil
}

func (f *fakeIdentity) MergeMrns(_ context.Context, _, _, _, _ *string, _ string, _, _ time.Time) error {
	f.merged = true
	return nil
}

func (f *fakeIdentity) ChangeIdentifiers(_ context.Context, _, _ string, _ *string, _ string, _, _ time.Time) error {
	return f.changeErr
}

func (f *fakeIdentity) UpdateOrCreateDemographic(_ context.Context, _ uuid.UUID, demo person.Demographics, _, _ time.Time) (*person.CoreDemographic, error) {
	f.demos = append(f.demos, demo)
	return nil, nil
}

func (f *fakeIdentity) SetResearchOptOut(_ context.Context, _ uuid.UUID, _ bool) error {
	return nil
}

type fakeVisitSvc struct {
	visit              *visit.HospitalVisit
	missing            bool
	getErr             error
	updateErr          error
	updates            []visit.Update
	discharges         []visit.Discharge
	cancelledAdmission bool
}

func (f *fakeVisitSvc) GetVisit(_ context.Context, _ string) (*visit.HospitalVisit, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.missing {
		return nil, pgx.ErrNoRows
	}
	return f.visit, nil
}

func (f *fakeVisitSvc) GetOrCreateVisit(_ context.Context, _ string, _ uuid.UUID, _ string, _, _ time.Time) (*visit.HospitalVisit, error) {
	return f.visit, nil
}

func (f *fakeVisitSvc) ProcessUpdate(_ context.Context, _ uuid.UUID, upd visit.Update) (*visit.HospitalVisit, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updates = append(f.updates, upd)
	return f.visit, nil
}

func (f *fakeVisitSvc) ProcessDischarge(_ context.Context, _ uuid.UUID, d visit.Discharge) (*visit.HospitalVisit, error) {
	f.discharges = append(f.discharges, d)
	return f.visit, nil
}

func (f *fakeVisitSvc) CancelAdmission(_ context.Context, _ string, _, _ time.Time) (*visit.HospitalVisit, error) {
	f.cancelledAdmission = true
	return f.visit, nil
}

func (f *fakeVisitSvc) CancelDischarge(_ context.Context, _ string, _, _ time.Time) (*visit.HospitalVisit, error) {
	return f.visit, nil
}

type fakeMovementSvc struct {
	admits        []movement.AdmitEvent
	transfers     []movement.TransferEvent
	staysRemain   bool
	cancelAdmits  []movement.CancelAdmitEvent
	swapped       bool
	dischargeEvts []movement.DischargeEvent
}

func (f *fakeMovementSvc) Admit(_ context.Context, ev movement.AdmitEvent) error {
	f.admits = append(f.admits, ev)
	return nil
}

func (f *fakeMovementSvc) Transfer(_ context.Context, ev movement.TransferEvent) error {
	f.transfers = append(f.transfers, ev)
	return nil
}

func (f *fakeMovementSvc) Discharge(_ context.Context, ev movement.DischargeEvent) error {
	f.dischargeEvts = append(f.dischargeEvts, ev)
	return nil
}

func (f *fakeMovementSvc) CancelAdmit(_ context.Context, ev movement.CancelAdmitEvent) (bool, error) {
	f.cancelAdmits = append(f.cancelAdmits, ev)
	return f.staysRemain, nil
}

func (f *fakeMovementSvc) CancelTransfer(_ context.Context, _ movement.CancelTransferEvent) error {
	return nil
}

func (f *fakeMovementSvc) CancelDischarge(_ context.Context, _ movement.CancelDischargeEvent) error {
	return nil
}

func (f *fakeMovementSvc) SwapLocations(_ context.Context, _, _ uuid.UUID, _, _ time.Time) error {
	f.swapped = true
	return nil
}

type fakeConditionSvc struct {
	created *condition.PatientCondition
}

func (f *fakeConditionSvc) ProcessCondition(_ context.Context, _ condition.Message) (*condition.PatientCondition, error) {
	return f.created, nil
}

type fakeQuestionSvc struct {
	parents   []string
	parentIDs []uuid.UUID
	questions []string
}

func (f *fakeQuestionSvc) UpsertAnswer(_ context.Context, parentType string, parentID uuid.UUID, q, _ string, _, _ time.Time) error {
	f.parents = append(f.parents, parentType)
	f.parentIDs = append(f.parentIDs, parentID)
	f.questions = append(f.questions, q)
	return nil
}

type fakeDeletionSvc struct {
	called bool
}

func (f *fakeDeletionSvc) DeletePersonInformation(_ context.Context, _, _ *string, _, _ time.Time) error {
	f.called = true
	return nil
}

type fixture struct {
	proc       *Processor
	identities *fakeIdentity
	visits     *fakeVisitSvc
	movements  *fakeMovementSvc
	conditions *fakeConditionSvc
	questions  *fakeQuestionSvc
	deletions  *fakeDeletionSvc
	txCount    int
}

var (
	t0      = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	ingestT = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newFixture() *fixture {
	f := &fixture{
		identities: &fakeIdentity{mrn: &person.Mrn{ID: uuid.New()}},
		visits:     &fakeVisitSvc{visit: &visit.HospitalVisit{ID: uuid.New(), Encounter: "ENC1"}},
		movements:  &fakeMovementSvc{},
		conditions: &fakeConditionSvc{created: &condition.PatientCondition{ID: uuid.New()}},
		questions:  &fakeQuestionSvc{},
		deletions:  &fakeDeletionSvc{},
	}
	f.proc = &Processor{
		run: func(ctx context.Context, fn func(ctx context.Context) error) error {
			f.txCount++
			return fn(ctx)
		},
		identities: f.identities,
		visits:     f.visits,
		movements:  f.movements,
		conditions: f.conditions,
		questions:  f.questions,
		deletions:  f.deletions,
		metrics:    NewMetrics(prometheus.NewRegistry()),
		now:        func() time.Time { return ingestT },
	}
	return f
}

func strPtr(s string) *string { return &s }

func TestAdmitRoutesToVisitAndMovement(t *testing.T) {
	f := newFixture()

	err := f.proc.Process(context.Background(), Admit{
		Identifiers:   Identifiers{Mrn: strPtr("40800000")},
		SourceSystem:  "EPIC",
		Encounter:     "ENC1",
		Location:      "T03^B1",
		AdmissionTime: temporal.From(t0),
		EventTime:     t0,
	})
	require.NoError(t, err)

	require.Len(t, f.visits.updates, 1)
	require.Len(t, f.movements.admits, 1)
	ev := f.movements.admits[0]
	assert.Equal(t, f.visits.visit.ID, ev.VisitID)
	assert.Equal(t, "T03^B1", ev.Location)
	assert.True(t, ev.StoredFrom.Equal(ingestT), "stored-from should be stamped at ingestion")
	assert.Equal(t, 1, f.txCount, "one message, one transaction")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.proc.metrics.processed.WithLabelValues("adt.admit")))
}

func TestAdmitWithoutLocationSkipsMovement(t *testing.T) {
	f := newFixture()

	err := f.proc.Process(context.Background(), Admit{
		Identifiers:  Identifiers{Mrn: strPtr("40800000")},
		SourceSystem: "EPIC",
		Encounter:    "ENC1",
		EventTime:    t0,
	})
	require.NoError(t, err)
	assert.Empty(t, f.movements.admits)
}

func TestIgnoredMessageIsDroppedWithoutError(t *testing.T) {
	f := newFixture()
	f.visits.missing = true

	err := f.proc.Process(context.Background(), CancelAdmit{
		Identifiers:            Identifiers{Mrn: strPtr("40800000")},
		Encounter:              "NEVER-SEEN",
		CancelledAdmissionTime: t0,
		EventTime:              t0,
	})
	require.NoError(t, err, "deliberately dropped messages must not surface as failures")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.proc.metrics.ignored.WithLabelValues("adt.cancel_admit")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.proc.metrics.processed.WithLabelValues("adt.cancel_admit")))
}

func TestFailedMessageSurfacesForRedelivery(t *testing.T) {
	f := newFixture()
	f.visits.updateErr = errors.New("connection reset")

	err := f.proc.Process(context.Background(), Admit{
		Identifiers:  Identifiers{Mrn: strPtr("40800000")},
		SourceSystem: "EPIC",
		Encounter:    "ENC1",
		EventTime:    t0,
	})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.proc.metrics.failed.WithLabelValues("adt.admit")))
}

func TestTransientVisitLookupErrorSurfacesForRedelivery(t *testing.T) {
	f := newFixture()
	f.visits.getErr = errors.New("connection reset")

	cases := []struct {
		kind string
		msg  Message
	}{
		{"adt.cancel_admit", CancelAdmit{
			Identifiers:            Identifiers{Mrn: strPtr("40800000")},
			Encounter:              "ENC1",
			CancelledAdmissionTime: t0,
			EventTime:              t0,
		}},
		{"adt.cancel_transfer", CancelTransfer{
			Identifiers:        Identifiers{Mrn: strPtr("40800000")},
			Encounter:          "ENC1",
			CancelledLocation:  "T03^B1",
			CancelledEventTime: t0,
			EventTime:          t0,
		}},
		{"adt.swap_locations", SwapLocations{
			EncounterA: "ENC1",
			EncounterB: "ENC2",
			EventTime:  t0,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			err := f.proc.Process(context.Background(), tc.msg)
			require.Error(t, err, "a lookup failure is not a missing visit; the message must be redelivered")
			assert.NotErrorIs(t, err, fault.ErrMessageIgnored)
			assert.Equal(t, 1.0, testutil.ToFloat64(f.proc.metrics.failed.WithLabelValues(tc.kind)))
			assert.Equal(t, 0.0, testutil.ToFloat64(f.proc.metrics.ignored.WithLabelValues(tc.kind)))
		})
	}
}

func TestIncompatibleStateSurfacesAsFailure(t *testing.T) {
	f := newFixture()
	f.identities.changeErr = &fault.IncompatibleStateError{
		Reason:       "identifier change target already belongs to another record",
		Existing:     "TAKEN",
		Incoming:     "OLD",
		ExistingTime: t0,
		IncomingTime: t0.Add(time.Hour),
		Err:          fault.ErrDuplicateIdentifier,
	}

	err := f.proc.Process(context.Background(), ChangeIdentifiers{
		SourceSystem: "EPIC",
		PreviousMrn:  "OLD",
		NewMrn:       "TAKEN",
		EventTime:    t0.Add(time.Hour),
	})
	require.Error(t, err, "a data contradiction must not be silently swallowed")
	assert.True(t, fault.IsIncompatibleState(err))
	assert.ErrorIs(t, err, fault.ErrDuplicateIdentifier)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.proc.metrics.failed.WithLabelValues("adt.change_identifiers")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.proc.metrics.ignored.WithLabelValues("adt.change_identifiers")))
}

func TestCancelAdmitClearsAdmissionWhenNoStaysRemain(t *testing.T) {
	f := newFixture()
	f.movements.staysRemain = false

	err := f.proc.Process(context.Background(), CancelAdmit{
		Identifiers:            Identifiers{Mrn: strPtr("40800000")},
		Encounter:              "ENC1",
		CancelledAdmissionTime: t0,
		EventTime:              t0.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, f.visits.cancelledAdmission)
}

func TestCancelAdmitKeepsAdmissionWhileStaysRemain(t *testing.T) {
	f := newFixture()
	f.movements.staysRemain = true

	err := f.proc.Process(context.Background(), CancelAdmit{
		Identifiers:            Identifiers{Mrn: strPtr("40800000")},
		Encounter:              "ENC1",
		CancelledAdmissionTime: t0,
		EventTime:              t0.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, f.visits.cancelledAdmission)
}

func TestConditionQuestionsAttachToCondition(t *testing.T) {
	f := newFixture()

	err := f.proc.Process(context.Background(), Condition{
		Identifiers:  Identifiers{Mrn: strPtr("40800000")},
		SourceSystem: "EPIC",
		DataType:     condition.TypeProblem,
		Code:         "K21.9",
		AddedTime:    t0,
		Questions: []QuestionAnswer{
			{Question: "Onset gradual?", Answer: "yes"},
			{Question: "Seen before?", Answer: "no"},
		},
		EventTime: t0,
	})
	require.NoError(t, err)

	require.Len(t, f.questions.parents, 2)
	assert.Equal(t, question.ParentCondition, f.questions.parents[0])
	assert.Equal(t, f.conditions.created.ID, f.questions.parentIDs[0])
	assert.Equal(t, f.conditions.created.ID, f.questions.parentIDs[1])
}

func TestDeleteRoutesToCascade(t *testing.T) {
	f := newFixture()

	err := f.proc.Process(context.Background(), DeletePersonInformation{
		Identifiers: Identifiers{Mrn: strPtr("40800000")},
		EventTime:   t0,
	})
	require.NoError(t, err)
	assert.True(t, f.deletions.called)
}
