package question

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/UCLH-DHCT/emap-sub000/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *repoPG) CreateQuestion(ctx context.Context, q *Question) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO question (question_id, question, stored_from)
		VALUES ($1,$2,$3)`,
		q.ID, q.Question, q.StoredFrom,
	)
	return err
}

func (r *repoPG) FindQuestionByText(ctx context.Context, text string) (*Question, error) {
	var q Question
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT question_id, question, stored_from FROM question WHERE question = $1`, text,
	).Scan(&q.ID, &q.Question, &q.StoredFrom)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

const answerCols = `question_answer_id, parent_type, parent_id, question_id, answer, valid_from, stored_from`

func (r *repoPG) CreateAnswer(ctx context.Context, a *Answer) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO question_answer (question_answer_id, parent_type, parent_id, question_id, answer, valid_from, stored_from)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.ParentType, a.ParentID, a.QuestionID, a.Answer, a.ValidFrom, a.StoredFrom,
	)
	return err
}

func (r *repoPG) UpdateAnswer(ctx context.Context, a *Answer) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE question_answer SET answer=$2, valid_from=$3, stored_from=$4
		WHERE question_answer_id = $1`,
		a.ID, a.Answer, a.ValidFrom, a.StoredFrom,
	)
	return err
}

func (r *repoPG) DeleteAnswer(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM question_answer WHERE question_answer_id = $1`, id)
	return err
}

func (r *repoPG) InsertAnswerAudit(ctx context.Context, a *AnswerAudit) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO question_answer_audit (
			question_answer_audit_id, question_answer_id, parent_type, parent_id, question_id, answer,
			valid_from, stored_from, valid_until, stored_until
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.QuestionAnswerID, a.ParentType, a.ParentID, a.QuestionID, a.Answer,
		a.ValidFrom, a.StoredFrom, a.ValidUntil, a.StoredUntil,
	)
	return err
}

func (r *repoPG) FindAnswer(ctx context.Context, parentType string, parentID, questionID uuid.UUID) (*Answer, error) {
	return scanAnswer(r.conn(ctx).QueryRow(ctx, `
		SELECT `+answerCols+` FROM question_answer
		WHERE parent_type = $1 AND parent_id = $2 AND question_id = $3`,
		parentType, parentID, questionID))
}

func (r *repoPG) ListAnswersByParent(ctx context.Context, parentType string, parentID uuid.UUID) ([]*Answer, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+answerCols+` FROM question_answer
		WHERE parent_type = $1 AND parent_id = $2`, parentType, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []*Answer
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.ID, &a.ParentType, &a.ParentID, &a.QuestionID, &a.Answer, &a.ValidFrom, &a.StoredFrom); err != nil {
			return nil, err
		}
		answers = append(answers, &a)
	}
	return answers, rows.Err()
}

func scanAnswer(row pgx.Row) (*Answer, error) {
	var a Answer
	err := row.Scan(&a.ID, &a.ParentType, &a.ParentID, &a.QuestionID, &a.Answer, &a.ValidFrom, &a.StoredFrom)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
