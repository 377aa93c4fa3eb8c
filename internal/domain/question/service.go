package question

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/UCLH-DHCT/emap-sub000/internal/platform/temporal"
)

// Store is the question/answer surface consumed by the domain controllers.
type Store struct {
	repo Repository
}

func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// GetOrCreateQuestion deduplicates question text into the question table.
func (s *Store) GetOrCreateQuestion(ctx context.Context, text string, storedFrom time.Time) (*Question, error) {
	q, err := s.repo.FindQuestionByText(ctx, text)
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	q = &Question{ID: uuid.New(), Question: text, StoredFrom: storedFrom}
	if err := s.repo.CreateQuestion(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// UpsertAnswer records an answer to a question on a parent record. A newer
// answer supersedes the stored one and audits it; an older answer is left on
// file untouched.
func (s *Store) UpsertAnswer(ctx context.Context, parentType string, parentID uuid.UUID, questionText, answer string, validFrom, storedFrom time.Time) error {
	q, err := s.GetOrCreateQuestion(ctx, questionText, storedFrom)
	if err != nil {
		return err
	}

	existing, err := s.repo.FindAnswer(ctx, parentType, parentID, q.ID)
	var row *temporal.Row[*Answer, *AnswerAudit]
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		a := &Answer{
			ID:         uuid.New(),
			ParentType: parentType,
			ParentID:   parentID,
			QuestionID: q.ID,
			Answer:     answer,
		}
		row = temporal.NewRow(a, auditAnswer, validFrom, storedFrom, true)
	case err != nil:
		return err
	default:
		row = temporal.NewRow(existing, auditAnswer, validFrom, storedFrom, false)
		if validFrom.After(existing.ValidFrom) {
			temporal.AssignIfDifferent(row, answer, existing.Answer,
				func(v string) { existing.Answer = v })
		}
	}
	return row.Save(ctx, s.repo.CreateAnswer, s.repo.UpdateAnswer, s.repo.InsertAnswerAudit)
}

// ListAnswers returns the parent's current answers.
func (s *Store) ListAnswers(ctx context.Context, parentType string, parentID uuid.UUID) ([]*Answer, error) {
	return s.repo.ListAnswersByParent(ctx, parentType, parentID)
}

// DeleteAnswersForParent erases every answer on the parent, one audit row
// each. Used when the parent record itself is deleted.
func (s *Store) DeleteAnswersForParent(ctx context.Context, parentType string, parentID uuid.UUID, validUntil, storedUntil time.Time) (int, error) {
	answers, err := s.repo.ListAnswersByParent(ctx, parentType, parentID)
	if err != nil {
		return 0, err
	}
	for _, a := range answers {
		if err := s.repo.InsertAnswerAudit(ctx, auditAnswer(a, validUntil, storedUntil)); err != nil {
			return 0, err
		}
		if err := s.repo.DeleteAnswer(ctx, a.ID); err != nil {
			return 0, err
		}
	}
	if len(answers) > 0 {
		log.Ctx(ctx).Debug().Int("answers", len(answers)).Str("parent_type", parentType).Msg("answers erased with parent")
	}
	return len(answers), nil
}
