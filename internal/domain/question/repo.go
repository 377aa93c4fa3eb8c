package question

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateQuestion(ctx context.Context, q *Question) error
	FindQuestionByText(ctx context.Context, text string) (*Question, error)

	CreateAnswer(ctx context.Context, a *Answer) error
	UpdateAnswer(ctx context.Context, a *Answer) error
	DeleteAnswer(ctx context.Context, id uuid.UUID) error
	InsertAnswerAudit(ctx context.Context, audit *AnswerAudit) error
	FindAnswer(ctx context.Context, parentType string, parentID, questionID uuid.UUID) (*Answer, error)
	ListAnswersByParent(ctx context.Context, parentType string, parentID uuid.UUID) ([]*Answer, error)
}
