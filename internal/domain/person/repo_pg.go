package person

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

const mrnCols = `mrn_id, mrn, nhs_number, source_system, research_opt_out, stored_from`

func (r *repoPG) CreateMrn(ctx context.Context, m *Mrn) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO mrn (mrn_id, mrn, nhs_number, source_system, research_opt_out, stored_from)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.Mrn, m.NhsNumber, m.SourceSystem, m.ResearchOptOut, m.StoredFrom,
	)
	return err
}

func (r *repoPG) UpdateMrn(ctx context.Context, m *Mrn) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE mrn SET mrn=$2, nhs_number=$3, source_system=$4, research_opt_out=$5
		WHERE mrn_id = $1`,
		m.ID, m.Mrn, m.NhsNumber, m.SourceSystem, m.ResearchOptOut,
	)
	return err
}

func (r *repoPG) GetMrnByID(ctx context.Context, id uuid.UUID) (*Mrn, error) {
	return scanMrn(r.conn(ctx).QueryRow(ctx, `SELECT `+mrnCols+` FROM mrn WHERE mrn_id = $1`, id))
}

func (r *repoPG) FindMrnByMrn(ctx context.Context, mrn string) (*Mrn, error) {
	return scanMrn(r.conn(ctx).QueryRow(ctx, `SELECT `+mrnCols+` FROM mrn WHERE mrn = $1`, mrn))
}

func (r *repoPG) FindMrnByNhsNumber(ctx context.Context, nhsNumber string) (*Mrn, error) {
	return scanMrn(r.conn(ctx).QueryRow(ctx, `SELECT `+mrnCols+` FROM mrn WHERE nhs_number = $1`, nhsNumber))
}

const mappingCols = `mrn_to_live_id, mrn_id, live_mrn_id, valid_from, stored_from`

func (r *repoPG) CreateMapping(ctx context.Context, m *MrnToLive) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO mrn_to_live (mrn_to_live_id, mrn_id, live_mrn_id, valid_from, stored_from)
		VALUES ($1,$2,$3,$4,$5)`,
		m.ID, m.MrnID, m.LiveMrnID, m.ValidFrom, m.StoredFrom,
	)
	return err
}

func (r *repoPG) UpdateMapping(ctx context.Context, m *MrnToLive) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE mrn_to_live SET live_mrn_id=$2, valid_from=$3, stored_from=$4
		WHERE mrn_to_live_id = $1`,
		m.ID, m.LiveMrnID, m.ValidFrom, m.StoredFrom,
	)
	return err
}

func (r *repoPG) GetMappingByMrnID(ctx context.Context, mrnID uuid.UUID) (*MrnToLive, error) {
	return scanMapping(r.conn(ctx).QueryRow(ctx,
		`SELECT `+mappingCols+` FROM mrn_to_live WHERE mrn_id = $1`, mrnID))
}

func (r *repoPG) ListMappingsByLiveMrnID(ctx context.Context, liveMrnID uuid.UUID) ([]*MrnToLive, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+mappingCols+` FROM mrn_to_live WHERE live_mrn_id = $1`, liveMrnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []*MrnToLive
	for rows.Next() {
		var m MrnToLive
		if err := rows.Scan(&m.ID, &m.MrnID, &m.LiveMrnID, &m.ValidFrom, &m.StoredFrom); err != nil {
			return nil, err
		}
		mappings = append(mappings, &m)
	}
	return mappings, rows.Err()
}

func (r *repoPG) InsertMappingAudit(ctx context.Context, a *MrnToLiveAudit) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO mrn_to_live_audit (
			mrn_to_live_audit_id, mrn_to_live_id, mrn_id, live_mrn_id,
			valid_from, stored_from, valid_until, stored_until
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.MrnToLiveID, a.MrnID, a.LiveMrnID,
		a.ValidFrom, a.StoredFrom, a.ValidUntil, a.StoredUntil,
	)
	return err
}

const demoCols = `core_demographic_id, mrn_id, firstname, middlename, lastname,
	birth_datetime, death_datetime, alive, sex, home_postcode, valid_from, stored_from`

func (r *repoPG) CreateDemographic(ctx context.Context, d *CoreDemographic) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO core_demographic (
			core_demographic_id, mrn_id, firstname, middlename, lastname,
			birth_datetime, death_datetime, alive, sex, home_postcode, valid_from, stored_from
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		d.ID, d.MrnID, d.Firstname, d.Middlename, d.Lastname,
		d.BirthDatetime, d.DeathDatetime, d.Alive, d.Sex, d.HomePostcode, d.ValidFrom, d.StoredFrom,
	)
	return err
}

func (r *repoPG) UpdateDemographic(ctx context.Context, d *CoreDemographic) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE core_demographic SET
			firstname=$2, middlename=$3, lastname=$4,
			birth_datetime=$5, death_datetime=$6, alive=$7, sex=$8, home_postcode=$9,
			valid_from=$10, stored_from=$11
		WHERE core_demographic_id = $1`,
		d.ID, d.Firstname, d.Middlename, d.Lastname,
		d.BirthDatetime, d.DeathDatetime, d.Alive, d.Sex, d.HomePostcode, d.ValidFrom, d.StoredFrom,
	)
	return err
}

func (r *repoPG) GetDemographicByMrnID(ctx context.Context, mrnID uuid.UUID) (*CoreDemographic, error) {
	return scanDemographic(r.conn(ctx).QueryRow(ctx,
		`SELECT `+demoCols+` FROM core_demographic WHERE mrn_id = $1`, mrnID))
}

func (r *repoPG) InsertDemographicAudit(ctx context.Context, a *CoreDemographicAudit) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO core_demographic_audit (
			core_demographic_audit_id, core_demographic_id, mrn_id, firstname, middlename, lastname,
			birth_datetime, death_datetime, alive, sex, home_postcode,
			valid_from, stored_from, valid_until, stored_until
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		a.ID, a.CoreDemographicID, a.MrnID, a.Firstname, a.Middlename, a.Lastname,
		a.BirthDatetime, a.DeathDatetime, a.Alive, a.Sex, a.HomePostcode,
		a.ValidFrom, a.StoredFrom, a.ValidUntil, a.StoredUntil,
	)
	return err
}

func (r *repoPG) ListDemographicAuditsByMrnID(ctx context.Context, mrnID uuid.UUID) ([]*CoreDemographicAudit, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT core_demographic_audit_id, core_demographic_id, mrn_id, firstname, middlename, lastname,
			birth_datetime, death_datetime, alive, sex, home_postcode,
			valid_from, stored_from, valid_until, stored_until
		FROM core_demographic_audit
		WHERE mrn_id = $1 ORDER BY valid_until`, mrnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []*CoreDemographicAudit
	for rows.Next() {
		var a CoreDemographicAudit
		if err := rows.Scan(
			&a.ID, &a.CoreDemographicID, &a.MrnID, &a.Firstname, &a.Middlename, &a.Lastname,
			&a.BirthDatetime, &a.DeathDatetime, &a.Alive, &a.Sex, &a.HomePostcode,
			&a.ValidFrom, &a.StoredFrom, &a.ValidUntil, &a.StoredUntil,
		); err != nil {
			return nil, err
		}
		audits = append(audits, &a)
	}
	return audits, rows.Err()
}

func (r *repoPG) DeleteDemographic(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM core_demographic WHERE core_demographic_id = $1`, id)
	return err
}

func scanMrn(row pgx.Row) (*Mrn, error) {
	var m Mrn
	err := row.Scan(&m.ID, &m.Mrn, &m.NhsNumber, &m.SourceSystem, &m.ResearchOptOut, &m.StoredFrom)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMapping(row pgx.Row) (*MrnToLive, error) {
	var m MrnToLive
	err := row.Scan(&m.ID, &m.MrnID, &m.LiveMrnID, &m.ValidFrom, &m.StoredFrom)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanDemographic(row pgx.Row) (*CoreDemographic, error) {
	var d CoreDemographic
	err := row.Scan(
		&d.ID, &d.MrnID, &d.Firstname, &d.Middlename, &d.Lastname,
		&d.BirthDatetime, &d.DeathDatetime, &d.Alive, &d.Sex, &d.HomePostcode,
		&d.ValidFrom, &d.StoredFrom,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
