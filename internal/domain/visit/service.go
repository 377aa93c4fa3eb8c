package visit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/UCLH-DHCT/emap-sub000/internal/platform/fault"
	"github.com/UCLH-DHCT/emap-sub000/internal/platform/temporal"
)

// Service reconciles visit-level state. A message from an untrusted source
// may fill gaps on an existing visit but never overwrite a value recorded
// from a trusted one.
type Service struct {
	repo    Repository
	trusted map[string]bool
}

func NewService(repo Repository, trustedSources []string) *Service {
	trusted := make(map[string]bool, len(trustedSources))
	for _, s := range trustedSources {
		trusted[s] = true
	}
	return &Service{repo: repo, trusted: trusted}
}

// GetOrCreateVisit finds the visit for a source encounter number, creating a
// minimal one when the encounter has never been seen. Any message type may
// be the first reference to a visit.
func (s *Service) GetOrCreateVisit(ctx context.Context, encounter string, mrnID uuid.UUID, sourceSystem string, validFrom, storedFrom time.Time) (*HospitalVisit, error) {
	v, err := s.repo.GetByEncounter(ctx, encounter)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	v = &HospitalVisit{
		ID:           uuid.New(),
		MrnID:        mrnID,
		Encounter:    encounter,
		SourceSystem: sourceSystem,
	}
	v.ValidFrom = validFrom
	v.StoredFrom = storedFrom
	if err := s.repo.Create(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// ProcessUpdate reconciles the visit-level fields of an admit, transfer or
// patient-update message.
func (s *Service) ProcessUpdate(ctx context.Context, mrnID uuid.UUID, upd Update) (*HospitalVisit, error) {
	v, created, err := s.resolve(ctx, upd.Encounter, mrnID, upd.SourceSystem)
	if err != nil {
		return nil, err
	}

	row := temporal.NewRow(v, auditVisit, upd.EventTime, upd.StoredFrom, created)
	canOverwrite := created || s.trusted[upd.SourceSystem]
	entityValidFrom := v.ValidFrom

	s.assignTime(row, upd.PresentationTime, v.PresentationTime,
		func(t *time.Time) { v.PresentationTime = t }, canOverwrite, upd.EventTime, entityValidFrom)
	s.assignTime(row, upd.AdmissionTime, v.AdmissionTime,
		func(t *time.Time) { v.AdmissionTime = t }, canOverwrite, upd.EventTime, entityValidFrom)
	s.assignString(row, upd.PatientClass, v.PatientClass,
		func(p *string) { v.PatientClass = p }, canOverwrite, upd.EventTime, entityValidFrom)
	s.assignString(row, upd.ArrivalMethod, v.ArrivalMethod,
		func(p *string) { v.ArrivalMethod = p }, canOverwrite, upd.EventTime, entityValidFrom)

	if mrnID != uuid.Nil {
		temporal.AssignIfDifferent(row, mrnID, v.MrnID, func(id uuid.UUID) { v.MrnID = id })
	}

	if err := s.save(ctx, row); err != nil {
		return nil, err
	}
	return v, nil
}

// ProcessDischarge closes the visit with its discharge facts.
func (s *Service) ProcessDischarge(ctx context.Context, mrnID uuid.UUID, d Discharge) (*HospitalVisit, error) {
	v, created, err := s.resolve(ctx, d.Encounter, mrnID, d.SourceSystem)
	if err != nil {
		return nil, err
	}

	row := temporal.NewRow(v, auditVisit, d.EventTime, d.StoredFrom, created)
	canOverwrite := created || s.trusted[d.SourceSystem]
	entityValidFrom := v.ValidFrom

	s.assignTime(row, temporal.From(d.DischargeTime), v.DischargeTime,
		func(t *time.Time) { v.DischargeTime = t }, canOverwrite, d.EventTime, entityValidFrom)
	s.assignString(row, d.DischargeDisposition, v.DischargeDisposition,
		func(p *string) { v.DischargeDisposition = p }, canOverwrite, d.EventTime, entityValidFrom)
	s.assignString(row, d.DischargeDestination, v.DischargeDestination,
		func(p *string) { v.DischargeDestination = p }, canOverwrite, d.EventTime, entityValidFrom)

	if err := s.save(ctx, row); err != nil {
		return nil, err
	}
	return v, nil
}

// CancelAdmission clears the admission time after the admission-created stay
// has been rolled back. A cancellation for an encounter never seen is a
// silent no-op: it means the stream started mid-history.
func (s *Service) CancelAdmission(ctx context.Context, encounter string, eventTime, storedFrom time.Time) (*HospitalVisit, error) {
	v, err := s.repo.GetByEncounter(ctx, encounter)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.Ignoredf("cancel admit for unknown encounter %s", encounter)
	}
	if err != nil {
		return nil, err
	}

	row := temporal.NewRow(v, auditVisit, eventTime, storedFrom, false)
	temporal.RemoveTimeIfExists(row, v.AdmissionTime, func(t *time.Time) { v.AdmissionTime = t }, eventTime)
	if err := s.save(ctx, row); err != nil {
		return nil, err
	}
	return v, nil
}

// CancelDischarge reopens the visit by clearing its discharge facts.
func (s *Service) CancelDischarge(ctx context.Context, encounter string, eventTime, storedFrom time.Time) (*HospitalVisit, error) {
	v, err := s.repo.GetByEncounter(ctx, encounter)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.Ignoredf("cancel discharge for unknown encounter %s", encounter)
	}
	if err != nil {
		return nil, err
	}

	row := temporal.NewRow(v, auditVisit, eventTime, storedFrom, false)
	temporal.RemoveTimeIfExists(row, v.DischargeTime, func(t *time.Time) { v.DischargeTime = t }, eventTime)
	temporal.RemoveIfExists(row, v.DischargeDisposition, func(p *string) { v.DischargeDisposition = p }, eventTime)
	temporal.RemoveIfExists(row, v.DischargeDestination, func(p *string) { v.DischargeDestination = p }, eventTime)
	if err := s.save(ctx, row); err != nil {
		return nil, err
	}
	return v, nil
}

// GetVisit returns the visit for an encounter number.
func (s *Service) GetVisit(ctx context.Context, encounter string) (*HospitalVisit, error) {
	return s.repo.GetByEncounter(ctx, encounter)
}

// ListVisits returns all visits owned by an identifier.
func (s *Service) ListVisits(ctx context.Context, mrnID uuid.UUID) ([]*HospitalVisit, error) {
	return s.repo.ListByMrnID(ctx, mrnID)
}

// DeleteVisits erases every visit owned by the identifier, writing one audit
// row per visit. The deleted visit IDs are returned so the caller can cascade
// to the location stays.
func (s *Service) DeleteVisits(ctx context.Context, mrnID uuid.UUID, validFrom, storedFrom time.Time) ([]uuid.UUID, error) {
	visits, err := s.repo.ListByMrnID(ctx, mrnID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(visits))
	for _, v := range visits {
		if err := s.repo.InsertAudit(ctx, auditVisit(v, validFrom, storedFrom)); err != nil {
			return nil, err
		}
		if err := s.repo.Delete(ctx, v.ID); err != nil {
			return nil, err
		}
		ids = append(ids, v.ID)
	}
	if len(ids) > 0 {
		log.Ctx(ctx).Info().Str("mrn_id", mrnID.String()).Int("visits", len(ids)).Msg("visits erased")
	}
	return ids, nil
}

func (s *Service) resolve(ctx context.Context, encounter string, mrnID uuid.UUID, sourceSystem string) (*HospitalVisit, bool, error) {
	v, err := s.repo.GetByEncounter(ctx, encounter)
	if err == nil {
		return v, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	v = &HospitalVisit{
		ID:           uuid.New(),
		MrnID:        mrnID,
		Encounter:    encounter,
		SourceSystem: sourceSystem,
	}
	return v, true, nil
}

func (s *Service) save(ctx context.Context, row *temporal.Row[*HospitalVisit, *HospitalVisitAudit]) error {
	return row.Save(ctx, s.repo.Create, s.repo.Update, s.repo.InsertAudit)
}

func (s *Service) assignTime(
	row *temporal.Row[*HospitalVisit, *HospitalVisitAudit],
	val temporal.Value[time.Time], cur *time.Time, set func(*time.Time),
	canOverwrite bool, eventTime, entityValidFrom time.Time,
) {
	switch {
	case val.IsUnknown():
	case val.IsDelete():
		if canOverwrite {
			temporal.RemoveTimeIfExists(row, cur, set, eventTime)
		}
	case !canOverwrite:
		if cur == nil {
			v := val.Get()
			set(&v)
			row.MarkUpdated()
		}
	default:
		temporal.AssignTimeIfNullOrNewer(row, val.Get(), cur, set, eventTime, entityValidFrom)
	}
}

func (s *Service) assignString(
	row *temporal.Row[*HospitalVisit, *HospitalVisitAudit],
	val temporal.Value[string], cur *string, set func(*string),
	canOverwrite bool, eventTime, entityValidFrom time.Time,
) {
	switch {
	case val.IsUnknown():
	case val.IsDelete():
		if canOverwrite {
			temporal.RemoveIfExists(row, cur, set, eventTime)
		}
	case !canOverwrite:
		if cur == nil {
			v := val.Get()
			set(&v)
			row.MarkUpdated()
		}
	default:
		temporal.AssignIfCurrentlyNullOrNewerAndDifferent(row, val.Get(), cur, set, eventTime, entityValidFrom)
	}
}
