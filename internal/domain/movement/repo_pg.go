package movement

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

func (r *repoPG) CreateLocation(ctx context.Context, l *Location) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO location (location_id, location_string, stored_from)
		VALUES ($1,$2,$3)`,
		l.ID, l.LocationString, l.StoredFrom,
	)
	return err
}

func (r *repoPG) FindLocationByString(ctx context.Context, locationString string) (*Location, error) {
	var l Location
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT location_id, location_string, stored_from FROM location WHERE location_string = $1`,
		locationString,
	).Scan(&l.ID, &l.LocationString, &l.StoredFrom)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *repoPG) GetLocationByID(ctx context.Context, id uuid.UUID) (*Location, error) {
	var l Location
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT location_id, location_string, stored_from FROM location WHERE location_id = $1`, id,
	).Scan(&l.ID, &l.LocationString, &l.StoredFrom)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

const stayCols = `location_visit_id, hospital_visit_id, location_id, admission_time, discharge_time,
	inferred_admission, inferred_discharge, pool_bed_count, valid_from, stored_from`

func (r *repoPG) CreateStay(ctx context.Context, lv *LocationVisit) error {
	if lv.ID == uuid.Nil {
		lv.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO location_visit (
			location_visit_id, hospital_visit_id, location_id, admission_time, discharge_time,
			inferred_admission, inferred_discharge, pool_bed_count, valid_from, stored_from
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		lv.ID, lv.HospitalVisitID, lv.LocationID, lv.AdmissionTime, lv.DischargeTime,
		lv.InferredAdmission, lv.InferredDischarge, lv.PoolBedCount, lv.ValidFrom, lv.StoredFrom,
	)
	return err
}

func (r *repoPG) UpdateStay(ctx context.Context, lv *LocationVisit) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE location_visit SET
			hospital_visit_id=$2, location_id=$3, admission_time=$4, discharge_time=$5,
			inferred_admission=$6, inferred_discharge=$7, pool_bed_count=$8,
			valid_from=$9, stored_from=$10
		WHERE location_visit_id = $1`,
		lv.ID, lv.HospitalVisitID, lv.LocationID, lv.AdmissionTime, lv.DischargeTime,
		lv.InferredAdmission, lv.InferredDischarge, lv.PoolBedCount, lv.ValidFrom, lv.StoredFrom,
	)
	return err
}

func (r *repoPG) DeleteStay(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM location_visit WHERE location_visit_id = $1`, id)
	return err
}

func (r *repoPG) InsertStayAudit(ctx context.Context, a *LocationVisitAudit) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO location_visit_audit (
			location_visit_audit_id, location_visit_id, hospital_visit_id, location_id,
			admission_time, discharge_time, inferred_admission, inferred_discharge, pool_bed_count,
			valid_from, stored_from, valid_until, stored_until
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		a.ID, a.LocationVisitID, a.HospitalVisitID, a.LocationID,
		a.AdmissionTime, a.DischargeTime, a.InferredAdmission, a.InferredDischarge, a.PoolBedCount,
		a.ValidFrom, a.StoredFrom, a.ValidUntil, a.StoredUntil,
	)
	return err
}

func (r *repoPG) GetOpenStay(ctx context.Context, visitID uuid.UUID) (*LocationVisit, error) {
	return scanStay(r.conn(ctx).QueryRow(ctx, `
		SELECT `+stayCols+` FROM location_visit
		WHERE hospital_visit_id = $1 AND discharge_time IS NULL
		ORDER BY admission_time DESC LIMIT 1`, visitID))
}

func (r *repoPG) ListStaysByVisit(ctx context.Context, visitID uuid.UUID) ([]*LocationVisit, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+stayCols+` FROM location_visit
		WHERE hospital_visit_id = $1 ORDER BY admission_time`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stays []*LocationVisit
	for rows.Next() {
		var lv LocationVisit
		if err := rows.Scan(
			&lv.ID, &lv.HospitalVisitID, &lv.LocationID, &lv.AdmissionTime, &lv.DischargeTime,
			&lv.InferredAdmission, &lv.InferredDischarge, &lv.PoolBedCount,
			&lv.ValidFrom, &lv.StoredFrom,
		); err != nil {
			return nil, err
		}
		stays = append(stays, &lv)
	}
	return stays, rows.Err()
}

func (r *repoPG) FindStayByAdmissionTime(ctx context.Context, visitID uuid.UUID, admissionTime time.Time) (*LocationVisit, error) {
	return scanStay(r.conn(ctx).QueryRow(ctx, `
		SELECT `+stayCols+` FROM location_visit
		WHERE hospital_visit_id = $1 AND admission_time = $2`, visitID, admissionTime))
}

func (r *repoPG) FindPoolStay(ctx context.Context, visitID uuid.UUID, admissionTime time.Time) (*LocationVisit, error) {
	return scanStay(r.conn(ctx).QueryRow(ctx, `
		SELECT `+stayCols+` FROM location_visit
		WHERE hospital_visit_id = $1 AND admission_time = $2 AND pool_bed_count IS NOT NULL`,
		visitID, admissionTime))
}

func scanStay(row pgx.Row) (*LocationVisit, error) {
	var lv LocationVisit
	err := row.Scan(
		&lv.ID, &lv.HospitalVisitID, &lv.LocationID, &lv.AdmissionTime, &lv.DischargeTime,
		&lv.InferredAdmission, &lv.InferredDischarge, &lv.PoolBedCount,
		&lv.ValidFrom, &lv.StoredFrom,
	)
	if err != nil {
		return nil, err
	}
	return &lv, nil
}
