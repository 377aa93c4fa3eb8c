package visit

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

const visitCols = `hospital_visit_id, mrn_id, encounter, source_system,
	presentation_time, admission_time, discharge_time, patient_class,
	arrival_method, discharge_destination, discharge_disposition, valid_from, stored_from`

func (r *repoPG) Create(ctx context.Context, v *HospitalVisit) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO hospital_visit (
			hospital_visit_id, mrn_id, encounter, source_system,
			presentation_time, admission_time, discharge_time, patient_class,
			arrival_method, discharge_destination, discharge_disposition, valid_from, stored_from
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		v.ID, v.MrnID, v.Encounter, v.SourceSystem,
		v.PresentationTime, v.AdmissionTime, v.DischargeTime, v.PatientClass,
		v.ArrivalMethod, v.DischargeDestination, v.DischargeDisposition, v.ValidFrom, v.StoredFrom,
	)
	return err
}

func (r *repoPG) Update(ctx context.Context, v *HospitalVisit) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE hospital_visit SET
			mrn_id=$2, source_system=$3,
			presentation_time=$4, admission_time=$5, discharge_time=$6, patient_class=$7,
			arrival_method=$8, discharge_destination=$9, discharge_disposition=$10,
			valid_from=$11, stored_from=$12
		WHERE hospital_visit_id = $1`,
		v.ID, v.MrnID, v.SourceSystem,
		v.PresentationTime, v.AdmissionTime, v.DischargeTime, v.PatientClass,
		v.ArrivalMethod, v.DischargeDestination, v.DischargeDisposition,
		v.ValidFrom, v.StoredFrom,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*HospitalVisit, error) {
	return scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM hospital_visit WHERE hospital_visit_id = $1`, id))
}

func (r *repoPG) GetByEncounter(ctx context.Context, encounter string) (*HospitalVisit, error) {
	return scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM hospital_visit WHERE encounter = $1`, encounter))
}

func (r *repoPG) ListByMrnID(ctx context.Context, mrnID uuid.UUID) ([]*HospitalVisit, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM hospital_visit WHERE mrn_id = $1`, mrnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var visits []*HospitalVisit
	for rows.Next() {
		var v HospitalVisit
		if err := rows.Scan(
			&v.ID, &v.MrnID, &v.Encounter, &v.SourceSystem,
			&v.PresentationTime, &v.AdmissionTime, &v.DischargeTime, &v.PatientClass,
			&v.ArrivalMethod, &v.DischargeDestination, &v.DischargeDisposition,
			&v.ValidFrom, &v.StoredFrom,
		); err != nil {
			return nil, err
		}
		visits = append(visits, &v)
	}
	return visits, rows.Err()
}

func (r *repoPG) InsertAudit(ctx context.Context, a *HospitalVisitAudit) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO hospital_visit_audit (
			hospital_visit_audit_id, hospital_visit_id, mrn_id, encounter, source_system,
			presentation_time, admission_time, discharge_time, patient_class,
			arrival_method, discharge_destination, discharge_disposition,
			valid_from, stored_from, valid_until, stored_until
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		a.ID, a.HospitalVisitID, a.MrnID, a.Encounter, a.SourceSystem,
		a.PresentationTime, a.AdmissionTime, a.DischargeTime, a.PatientClass,
		a.ArrivalMethod, a.DischargeDestination, a.DischargeDisposition,
		a.ValidFrom, a.StoredFrom, a.ValidUntil, a.StoredUntil,
	)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM hospital_visit WHERE hospital_visit_id = $1`, id)
	return err
}

func scanVisit(row pgx.Row) (*HospitalVisit, error) {
	var v HospitalVisit
	err := row.Scan(
		&v.ID, &v.MrnID, &v.Encounter, &v.SourceSystem,
		&v.PresentationTime, &v.AdmissionTime, &v.DischargeTime, &v.PatientClass,
		&v.ArrivalMethod, &v.DischargeDestination, &v.DischargeDisposition,
		&v.ValidFrom, &v.StoredFrom,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
