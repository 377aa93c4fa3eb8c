package condition

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UCLH-DHCT/emap-sub000/internal/platform/fault"
	"github.com/UCLH-DHCT/emap-sub000/internal/platform/temporal"
)

type mockRepo struct {
	types      map[uuid.UUID]*ConditionType
	typeAudits []*ConditionTypeAudit
	conditions map[uuid.UUID]*PatientCondition
	audits     []*PatientConditionAudit
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		types:      make(map[uuid.UUID]*ConditionType),
		conditions: make(map[uuid.UUID]*PatientCondition),
	}
}

func (m *mockRepo) CreateType(_ context.Context, ct *ConditionType) error {
	if ct.ID == uuid.Nil {
		ct.ID = uuid.New()
	}
	m.types[ct.ID] = ct
	return nil
}

func (m *mockRepo) UpdateType(_ context.Context, ct *ConditionType) error {
	m.types[ct.ID] = ct
	return nil
}

func (m *mockRepo) FindType(_ context.Context, dataType, code string) (*ConditionType, error) {
	for _, ct := range m.types {
		if ct.DataType == dataType && ct.InternalCode == code {
			return ct, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) InsertTypeAudit(_ context.Context, a *ConditionTypeAudit) error {
	m.typeAudits = append(m.typeAudits, a)
	return nil
}

func (m *mockRepo) CreateCondition(_ context.Context, pc *PatientCondition) error {
	if pc.ID == uuid.Nil {
		pc.ID = uuid.New()
	}
	m.conditions[pc.ID] = pc
	return nil
}

func (m *mockRepo) UpdateCondition(_ context.Context, pc *PatientCondition) error {
	m.conditions[pc.ID] = pc
	return nil
}

func (m *mockRepo) DeleteCondition(_ context.Context, id uuid.UUID) error {
	delete(m.conditions, id)
	return nil
}

func (m *mockRepo) InsertConditionAudit(_ context.Context, a *PatientConditionAudit) error {
	m.audits = append(m.audits, a)
	return nil
}

func (m *mockRepo) FindByNaturalKey(_ context.Context, mrnID, typeID uuid.UUID, added time.Time) (*PatientCondition, error) {
	for _, pc := range m.conditions {
		if pc.MrnID == mrnID && pc.ConditionTypeID == typeID && pc.AddedTime.Equal(added) {
			return pc, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) FindByInternalID(_ context.Context, typeID uuid.UUID, internalID int64) (*PatientCondition, error) {
	for _, pc := range m.conditions {
		if pc.ConditionTypeID == typeID && pc.InternalID != nil && *pc.InternalID == internalID {
			return pc, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) ListByMrnID(_ context.Context, mrnID uuid.UUID) ([]*PatientCondition, error) {
	var result []*PatientCondition
	for _, pc := range m.conditions {
		if pc.MrnID == mrnID {
			result = append(result, pc)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AddedTime.Before(result[j].AddedTime) })
	return result, nil
}

func (m *mockRepo) ListAuditsByMrnID(_ context.Context, mrnID uuid.UUID) ([]*PatientConditionAudit, error) {
	var result []*PatientConditionAudit
	for _, a := range m.audits {
		if a.MrnID == mrnID {
			result = append(result, a)
		}
	}
	return result, nil
}

func (m *mockRepo) ListUnidentifiedInfectionsBefore(_ context.Context, mrnID uuid.UUID, until time.Time) ([]*PatientCondition, error) {
	var result []*PatientCondition
	for _, pc := range m.conditions {
		ct := m.types[pc.ConditionTypeID]
		if pc.MrnID == mrnID && pc.InternalID == nil && ct != nil && ct.DataType == TypeInfection && !pc.ValidFrom.After(until) {
			result = append(result, pc)
		}
	}
	return result, nil
}

var (
	t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	t1 = t0.Add(1 * time.Hour)
	t2 = t0.Add(2 * time.Hour)
	t3 = t0.Add(3 * time.Hour)
)

func problemMsg(mrnID uuid.UUID, comment string, updated time.Time) Message {
	return Message{
		DataType:    TypeProblem,
		MrnID:       mrnID,
		Code:        "K21.9",
		Name:        temporal.From("GORD"),
		AddedTime:   t0,
		Comment:     temporal.From(comment),
		UpdatedTime: updated,
		StoredFrom:  t3,
	}
}

func process(ctx context.Context, t *testing.T, svc *Service, msg Message) {
	t.Helper()
	_, err := svc.ProcessCondition(ctx, msg)
	require.NoError(t, err)
}

func TestNewerMessageSupersedesAndAudits(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	mrnID := uuid.New()
	ctx := context.Background()

	process(ctx, t, svc, problemMsg(mrnID, "mild", t1))
	process(ctx, t, svc, problemMsg(mrnID, "worsening", t2))

	require.Len(t, repo.conditions, 1)
	require.Len(t, repo.audits, 1)
	for _, pc := range repo.conditions {
		assert.Equal(t, "worsening", *pc.Comment)
		assert.True(t, pc.ValidFrom.Equal(t2))
	}
	audit := repo.audits[0]
	assert.Equal(t, "mild", *audit.Comment)
	assert.True(t, audit.ValidUntil.Equal(t2), "audit window should close at the superseding time")
	assert.True(t, audit.ValidFrom.Equal(t1))
}

func TestOlderMessageDoesNotRegress(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	mrnID := uuid.New()
	ctx := context.Background()

	process(ctx, t, svc, problemMsg(mrnID, "worsening", t2))
	process(ctx, t, svc, problemMsg(mrnID, "mild", t1))

	require.Len(t, repo.conditions, 1)
	assert.Empty(t, repo.audits, "stale message must not write")
	for _, pc := range repo.conditions {
		assert.Equal(t, "worsening", *pc.Comment)
	}
}

func TestReplayWritesNothing(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	mrnID := uuid.New()
	ctx := context.Background()

	msg := problemMsg(mrnID, "mild", t1)
	process(ctx, t, svc, msg)
	process(ctx, t, svc, msg)

	assert.Len(t, repo.conditions, 1)
	assert.Empty(t, repo.audits)
}

func TestIdentifiedInfectionReplacesUnidentifiedRows(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	mrnID := uuid.New()
	ctx := context.Background()

	// Unidentified feed first: no source identifier on the message.
	unidentified := Message{
		DataType:    TypeInfection,
		MrnID:       mrnID,
		Code:        "MRSA",
		AddedTime:   t0,
		UpdatedTime: t1,
		StoredFrom:  t3,
	}
	process(ctx, t, svc, unidentified)

	identified := Message{
		DataType:    TypeInfection,
		MrnID:       mrnID,
		Code:        "MRSA",
		InternalID:  temporal.From(int64(40001)),
		AddedTime:   t0,
		UpdatedTime: t2,
		StoredFrom:  t3,
	}
	process(ctx, t, svc, identified)

	require.Len(t, repo.conditions, 1)
	for _, pc := range repo.conditions {
		require.NotNil(t, pc.InternalID)
		assert.Equal(t, int64(40001), *pc.InternalID)
	}
	require.Len(t, repo.audits, 1, "replaced row should be audited")
	assert.Nil(t, repo.audits[0].InternalID)
	assert.True(t, repo.audits[0].ValidUntil.Equal(t2))
}

func TestMissingKeyRejected(t *testing.T) {
	svc := NewService(newMockRepo())

	_, err := svc.ProcessCondition(context.Background(), Message{
		DataType:    TypeProblem,
		MrnID:       uuid.New(),
		Code:        "K21.9",
		UpdatedTime: t1,
		StoredFrom:  t3,
	})
	assert.True(t, errors.Is(err, fault.ErrRequiredDataMissing))
}

func TestTypeNameCorrectionIsAudited(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	mrnID := uuid.New()
	ctx := context.Background()

	first := problemMsg(mrnID, "mild", t1)
	first.Name = temporal.From("GORD")
	process(ctx, t, svc, first)

	second := problemMsg(mrnID, "mild", t2)
	second.Name = temporal.From("Gastro-oesophageal reflux disease")
	process(ctx, t, svc, second)

	require.Len(t, repo.types, 1)
	for _, ct := range repo.types {
		assert.Equal(t, "Gastro-oesophageal reflux disease", *ct.Name)
	}
	require.Len(t, repo.typeAudits, 1)
	assert.Equal(t, "GORD", *repo.typeAudits[0].Name)
}

func TestDeleteConditionsForMrnAuditsEachRow(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	mrnID := uuid.New()
	ctx := context.Background()

	process(ctx, t, svc, problemMsg(mrnID, "mild", t1))
	second := problemMsg(mrnID, "sepsis", t1)
	second.Code = "A41.9"
	process(ctx, t, svc, second)

	deleted, err := svc.DeleteConditionsForMrn(ctx, mrnID, t2, t3)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Empty(t, repo.conditions)
	assert.Len(t, repo.audits, 2)
}
