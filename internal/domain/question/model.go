// Package question stores arbitrary question/answer pairs attached to other
// records, such as orders or consult requests. Question text is deduplicated
// into its own table; answers are versioned per parent.
package question

import (
	"time"

	"github.com/google/uuid"

	"github.com/UCLH-DHCT/emap-sub000/internal/platform/temporal"
)

// Parent record kinds an answer can attach to, stored in the parent_type
// column.
const (
	ParentVisit     = "hospital_visit"
	ParentCondition = "patient_condition"
)

// Question maps to the question table: one row per distinct question text.
type Question struct {
	ID         uuid.UUID `db:"question_id" json:"question_id"`
	Question   string    `db:"question" json:"question"`
	StoredFrom time.Time `db:"stored_from" json:"stored_from"`
}

// Answer maps to the question_answer table: one answer to one question on one
// parent record. The parent is typed by name so any record kind can carry
// questions without a foreign key per kind.
type Answer struct {
	temporal.Columns
	ID         uuid.UUID `db:"question_answer_id" json:"question_answer_id"`
	ParentType string    `db:"parent_type" json:"parent_type"`
	ParentID   uuid.UUID `db:"parent_id" json:"parent_id"`
	QuestionID uuid.UUID `db:"question_id" json:"question_id"`
	Answer     string    `db:"answer" json:"answer"`
}

func (a *Answer) CopyEntity() *Answer {
	c := *a
	return &c
}

// AnswerAudit maps to the question_answer_audit table.
type AnswerAudit struct {
	temporal.Window
	ID               uuid.UUID `db:"question_answer_audit_id" json:"question_answer_audit_id"`
	QuestionAnswerID uuid.UUID `db:"question_answer_id" json:"question_answer_id"`
	ParentType       string    `db:"parent_type" json:"parent_type"`
	ParentID         uuid.UUID `db:"parent_id" json:"parent_id"`
	QuestionID       uuid.UUID `db:"question_id" json:"question_id"`
	Answer           string    `db:"answer" json:"answer"`
}

func auditAnswer(a *Answer, validUntil, storedUntil time.Time) *AnswerAudit {
	return &AnswerAudit{
		Window:           temporal.CloseWindow(a.Columns, validUntil, storedUntil),
		ID:               uuid.New(),
		QuestionAnswerID: a.ID,
		ParentType:       a.ParentType,
		ParentID:         a.ParentID,
		QuestionID:       a.QuestionID,
		Answer:           a.Answer,
	}
}
