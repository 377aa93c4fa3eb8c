package question

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type mockRepo struct {
	questions map[uuid.UUID]*Question
	answers   map[uuid.UUID]*Answer
	audits    []*AnswerAudit
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		questions: make(map[uuid.UUID]*Question),
		answers:   make(map[uuid.UUID]*Answer),
	}
}

func (m *mockRepo) CreateQuestion(_ context.Context, q *Question) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	m.questions[q.ID] = q
	return nil
}

func (m *mockRepo) FindQuestionByText(_ context.Context, text string) (*Question, error) {
	for _, q := range m.questions {
		if q.Question == text {
			return q, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) CreateAnswer(_ context.Context, a *Answer) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.answers[a.ID] = a
	return nil
}

func (m *mockRepo) UpdateAnswer(_ context.Context, a *Answer) error {
	m.answers[a.ID] = a
	return nil
}

func (m *mockRepo) DeleteAnswer(_ context.Context, id uuid.UUID) error {
	delete(m.answers, id)
	return nil
}

func (m *mockRepo) InsertAnswerAudit(_ context.Context, a *AnswerAudit) error {
	m.audits = append(m.audits, a)
	return nil
}

func (m *mockRepo) FindAnswer(_ context.Context, parentType string, parentID, questionID uuid.UUID) (*Answer, error) {
	for _, a := range m.answers {
		if a.ParentType == parentType && a.ParentID == parentID && a.QuestionID == questionID {
			return a, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) ListAnswersByParent(_ context.Context, parentType string, parentID uuid.UUID) ([]*Answer, error) {
	var result []*Answer
	for _, a := range m.answers {
		if a.ParentType == parentType && a.ParentID == parentID {
			result = append(result, a)
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

func TestQuestionTextDeduplicated(t *testing.T) {
	repo := newMockRepo()
	store := NewStore(repo)
	ctx := context.Background()
	parentID := uuid.New()

	if err := store.UpsertAnswer(ctx, "consult_request", parentID, "Reason for consult?", "chest pain", t1, t3); err != nil {
		t.Fatalf("UpsertAnswer: %v", err)
	}
	other := uuid.New()
	if err := store.UpsertAnswer(ctx, "consult_request", other, "Reason for consult?", "fall", t1, t3); err != nil {
		t.Fatalf("UpsertAnswer: %v", err)
	}

	if len(repo.questions) != 1 {
		t.Errorf("same question text should share one row, got %d", len(repo.questions))
	}
	if len(repo.answers) != 2 {
		t.Errorf("expected 2 answers, got %d", len(repo.answers))
	}
}

func TestNewerAnswerSupersedesAndAudits(t *testing.T) {
	repo := newMockRepo()
	store := NewStore(repo)
	ctx := context.Background()
	parentID := uuid.New()

	store.UpsertAnswer(ctx, "lab_order", parentID, "Fasting?", "no", t1, t3)
	if err := store.UpsertAnswer(ctx, "lab_order", parentID, "Fasting?", "yes", t2, t3); err != nil {
		t.Fatalf("UpsertAnswer: %v", err)
	}

	if len(repo.answers) != 1 {
		t.Fatalf("expected one answer row, got %d", len(repo.answers))
	}
	for _, a := range repo.answers {
		if a.Answer != "yes" {
			t.Errorf("newer answer should win, got %q", a.Answer)
		}
	}
	if len(repo.audits) != 1 || repo.audits[0].Answer != "no" {
		t.Fatalf("superseded answer should be audited")
	}
	if !repo.audits[0].ValidUntil.Equal(t2) {
		t.Errorf("audit window should close at the superseding time")
	}
}

func TestOlderAnswerDoesNotRegress(t *testing.T) {
	repo := newMockRepo()
	store := NewStore(repo)
	ctx := context.Background()
	parentID := uuid.New()

	store.UpsertAnswer(ctx, "lab_order", parentID, "Fasting?", "yes", t2, t3)
	if err := store.UpsertAnswer(ctx, "lab_order", parentID, "Fasting?", "no", t1, t3); err != nil {
		t.Fatalf("UpsertAnswer: %v", err)
	}

	for _, a := range repo.answers {
		if a.Answer != "yes" {
			t.Errorf("stale answer must not overwrite, got %q", a.Answer)
		}
	}
	if len(repo.audits) != 0 {
		t.Errorf("stale answer must not write audit rows")
	}
}

func TestDeleteAnswersForParent(t *testing.T) {
	repo := newMockRepo()
	store := NewStore(repo)
	ctx := context.Background()
	parentID := uuid.New()

	store.UpsertAnswer(ctx, "lab_order", parentID, "Fasting?", "yes", t1, t3)
	store.UpsertAnswer(ctx, "lab_order", parentID, "Urgent?", "no", t1, t3)

	deleted, err := store.DeleteAnswersForParent(ctx, "lab_order", parentID, t2, t3)
	if err != nil {
		t.Fatalf("DeleteAnswersForParent: %v", err)
	}
	if deleted != 2 || len(repo.answers) != 0 {
		t.Errorf("both answers should be deleted, got %d remaining", len(repo.answers))
	}
	if len(repo.audits) != 2 {
		t.Errorf("each deleted answer should be audited, got %d", len(repo.audits))
	}
}
