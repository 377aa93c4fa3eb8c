package condition

import (
	"context"
	"time"

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

const typeCols = `condition_type_id, data_type, internal_code, name, valid_from, stored_from`

func (r *repoPG) CreateType(ctx context.Context, ct *ConditionType) error {
	if ct.ID == uuid.Nil {
		ct.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO condition_type (condition_type_id, data_type, internal_code, name, valid_from, stored_from)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		ct.ID, ct.DataType, ct.InternalCode, ct.Name, ct.ValidFrom, ct.StoredFrom,
	)
	return err
}

func (r *repoPG) UpdateType(ctx context.Context, ct *ConditionType) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE condition_type SET name=$2, valid_from=$3, stored_from=$4
		WHERE condition_type_id = $1`,
		ct.ID, ct.Name, ct.ValidFrom, ct.StoredFrom,
	)
	return err
}

func (r *repoPG) FindType(ctx context.Context, dataType, internalCode string) (*ConditionType, error) {
	var ct ConditionType
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT `+typeCols+` FROM condition_type
		WHERE data_type = $1 AND internal_code = $2`, dataType, internalCode,
	).Scan(&ct.ID, &ct.DataType, &ct.InternalCode, &ct.Name, &ct.ValidFrom, &ct.StoredFrom)
	if err != nil {
		return nil, err
	}
	return &ct, nil
}

func (r *repoPG) InsertTypeAudit(ctx context.Context, a *ConditionTypeAudit) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO condition_type_audit (
			condition_type_audit_id, condition_type_id, data_type, internal_code, name,
			valid_from, stored_from, valid_until, stored_until
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.ConditionTypeID, a.DataType, a.InternalCode, a.Name,
		a.ValidFrom, a.StoredFrom, a.ValidUntil, a.StoredUntil,
	)
	return err
}

const conditionCols = `patient_condition_id, mrn_id, condition_type_id, hospital_visit_id, internal_id,
	added_time, onset_time, resolution_time, status, comment, valid_from, stored_from`

func (r *repoPG) CreateCondition(ctx context.Context, pc *PatientCondition) error {
	if pc.ID == uuid.Nil {
		pc.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_condition (
			patient_condition_id, mrn_id, condition_type_id, hospital_visit_id, internal_id,
			added_time, onset_time, resolution_time, status, comment, valid_from, stored_from
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		pc.ID, pc.MrnID, pc.ConditionTypeID, pc.HospitalVisitID, pc.InternalID,
		pc.AddedTime, pc.OnsetTime, pc.ResolutionTime, pc.Status, pc.Comment, pc.ValidFrom, pc.StoredFrom,
	)
	return err
}

func (r *repoPG) UpdateCondition(ctx context.Context, pc *PatientCondition) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_condition SET
			mrn_id=$2, condition_type_id=$3, hospital_visit_id=$4, internal_id=$5,
			added_time=$6, onset_time=$7, resolution_time=$8, status=$9, comment=$10,
			valid_from=$11, stored_from=$12
		WHERE patient_condition_id = $1`,
		pc.ID, pc.MrnID, pc.ConditionTypeID, pc.HospitalVisitID, pc.InternalID,
		pc.AddedTime, pc.OnsetTime, pc.ResolutionTime, pc.Status, pc.Comment, pc.ValidFrom, pc.StoredFrom,
	)
	return err
}

func (r *repoPG) DeleteCondition(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient_condition WHERE patient_condition_id = $1`, id)
	return err
}

func (r *repoPG) InsertConditionAudit(ctx context.Context, a *PatientConditionAudit) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_condition_audit (
			patient_condition_audit_id, patient_condition_id, mrn_id, condition_type_id,
			hospital_visit_id, internal_id, added_time, onset_time, resolution_time, status, comment,
			valid_from, stored_from, valid_until, stored_until
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		a.ID, a.PatientConditionID, a.MrnID, a.ConditionTypeID,
		a.HospitalVisitID, a.InternalID, a.AddedTime, a.OnsetTime, a.ResolutionTime, a.Status, a.Comment,
		a.ValidFrom, a.StoredFrom, a.ValidUntil, a.StoredUntil,
	)
	return err
}

func (r *repoPG) FindByNaturalKey(ctx context.Context, mrnID, typeID uuid.UUID, addedTime time.Time) (*PatientCondition, error) {
	return scanCondition(r.conn(ctx).QueryRow(ctx, `
		SELECT `+conditionCols+` FROM patient_condition
		WHERE mrn_id = $1 AND condition_type_id = $2 AND added_time = $3`,
		mrnID, typeID, addedTime))
}

func (r *repoPG) FindByInternalID(ctx context.Context, typeID uuid.UUID, internalID int64) (*PatientCondition, error) {
	return scanCondition(r.conn(ctx).QueryRow(ctx, `
		SELECT `+conditionCols+` FROM patient_condition
		WHERE condition_type_id = $1 AND internal_id = $2`, typeID, internalID))
}

func (r *repoPG) ListByMrnID(ctx context.Context, mrnID uuid.UUID) ([]*PatientCondition, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+conditionCols+` FROM patient_condition
		WHERE mrn_id = $1 ORDER BY added_time`, mrnID)
	if err != nil {
		return nil, err
	}
	return collectConditions(rows)
}

func (r *repoPG) ListAuditsByMrnID(ctx context.Context, mrnID uuid.UUID) ([]*PatientConditionAudit, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT patient_condition_audit_id, patient_condition_id, mrn_id, condition_type_id,
			hospital_visit_id, internal_id, added_time, onset_time, resolution_time, status, comment,
			valid_from, stored_from, valid_until, stored_until
		FROM patient_condition_audit
		WHERE mrn_id = $1 ORDER BY valid_until`, mrnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []*PatientConditionAudit
	for rows.Next() {
		var a PatientConditionAudit
		if err := rows.Scan(
			&a.ID, &a.PatientConditionID, &a.MrnID, &a.ConditionTypeID,
			&a.HospitalVisitID, &a.InternalID, &a.AddedTime, &a.OnsetTime, &a.ResolutionTime, &a.Status, &a.Comment,
			&a.ValidFrom, &a.StoredFrom, &a.ValidUntil, &a.StoredUntil,
		); err != nil {
			return nil, err
		}
		audits = append(audits, &a)
	}
	return audits, rows.Err()
}

func (r *repoPG) ListUnidentifiedInfectionsBefore(ctx context.Context, mrnID uuid.UUID, until time.Time) ([]*PatientCondition, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+conditionCols+` FROM patient_condition pc
		WHERE pc.mrn_id = $1 AND pc.internal_id IS NULL AND pc.valid_from <= $2
		  AND EXISTS (
			SELECT 1 FROM condition_type ct
			WHERE ct.condition_type_id = pc.condition_type_id AND ct.data_type = $3
		  )`, mrnID, until, TypeInfection)
	if err != nil {
		return nil, err
	}
	return collectConditions(rows)
}

func scanCondition(row pgx.Row) (*PatientCondition, error) {
	var pc PatientCondition
	err := row.Scan(
		&pc.ID, &pc.MrnID, &pc.ConditionTypeID, &pc.HospitalVisitID, &pc.InternalID,
		&pc.AddedTime, &pc.OnsetTime, &pc.ResolutionTime, &pc.Status, &pc.Comment,
		&pc.ValidFrom, &pc.StoredFrom,
	)
	if err != nil {
		return nil, err
	}
	return &pc, nil
}

func collectConditions(rows pgx.Rows) ([]*PatientCondition, error) {
	defer rows.Close()
	var conditions []*PatientCondition
	for rows.Next() {
		var pc PatientCondition
		if err := rows.Scan(
			&pc.ID, &pc.MrnID, &pc.ConditionTypeID, &pc.HospitalVisitID, &pc.InternalID,
			&pc.AddedTime, &pc.OnsetTime, &pc.ResolutionTime, &pc.Status, &pc.Comment,
			&pc.ValidFrom, &pc.StoredFrom,
		); err != nil {
			return nil, err
		}
		conditions = append(conditions, &pc)
	}
	return conditions, rows.Err()
}
