package person

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/UCLH-DHCT/emap-sub000/internal/platform/fault"
	"github.com/UCLH-DHCT/emap-sub000/internal/platform/temporal"
)

// Service resolves patient identifiers to their live identity and reconciles
// demographics. All operations are idempotent: replaying a message produces
// no additional writes.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetOrCreateMrn finds the identifier matching either key and resolves it
// through the live mapping, creating the identifier and its self-referential
// mapping on first sight. Matching prefers the MRN string over the NHS
// number; a record matched by one key is backfilled with the other when it
// lacks it.
func (s *Service) GetOrCreateMrn(ctx context.Context, mrn, nhsNumber *string, sourceSystem string, validFrom, storedFrom time.Time) (*Mrn, error) {
	if mrn == nil && nhsNumber == nil {
		return nil, fmt.Errorf("identifier lookup with no mrn and no nhs number: %w", fault.ErrRequiredDataMissing)
	}

	found, err := s.findByEitherKey(ctx, mrn, nhsNumber)
	if err != nil {
		return nil, err
	}
	if found != nil {
		if backfillKeys(found, mrn, nhsNumber) {
			if err := s.repo.UpdateMrn(ctx, found); err != nil {
				return nil, err
			}
		}
		return s.resolveLive(ctx, found)
	}

	created := &Mrn{
		ID:           uuid.New(),
		Mrn:          mrn,
		NhsNumber:    nhsNumber,
		SourceSystem: sourceSystem,
		StoredFrom:   storedFrom,
	}
	if err := s.repo.CreateMrn(ctx, created); err != nil {
		return nil, err
	}
	mapping := &MrnToLive{
		ID:        uuid.New(),
		MrnID:     created.ID,
		LiveMrnID: created.ID,
	}
	mapping.ValidFrom = validFrom
	mapping.StoredFrom = storedFrom
	if err := s.repo.CreateMapping(ctx, mapping); err != nil {
		return nil, err
	}
	return created, nil
}

// MergeMrns retires one identity into another: every mapping currently
// resolving to the retiring identity is repointed at the surviving one, with
// the prior mapping audited. Mappings already pointing at the survivor, or
// with a validFrom newer than the merge event, are left alone so that
// replaying a merge writes nothing.
func (s *Service) MergeMrns(ctx context.Context, retiringMrn, retiringNhs, survivingMrn, survivingNhs *string, sourceSystem string, validFrom, storedFrom time.Time) error {
	if retiringMrn == nil && retiringNhs == nil {
		return fault.Ignoredf("merge message with no retiring identifier")
	}

	surviving, err := s.GetOrCreateMrn(ctx, survivingMrn, survivingNhs, sourceSystem, validFrom, storedFrom)
	if err != nil {
		return err
	}

	retiring, err := s.findByEitherKey(ctx, retiringMrn, retiringNhs)
	if err != nil {
		return err
	}
	if retiring == nil {
		// Never-seen retiring identity: create it pointing straight at the
		// survivor so later messages for the old key resolve correctly.
		retiring = &Mrn{
			ID:           uuid.New(),
			Mrn:          retiringMrn,
			NhsNumber:    retiringNhs,
			SourceSystem: sourceSystem,
			StoredFrom:   storedFrom,
		}
		if err := s.repo.CreateMrn(ctx, retiring); err != nil {
			return err
		}
		mapping := &MrnToLive{
			ID:        uuid.New(),
			MrnID:     retiring.ID,
			LiveMrnID: surviving.ID,
		}
		mapping.ValidFrom = validFrom
		mapping.StoredFrom = storedFrom
		if err := s.repo.CreateMapping(ctx, mapping); err != nil {
			return err
		}
		return s.propagateResearchOptOut(ctx, retiring, surviving)
	}

	retiringLive, err := s.resolveLive(ctx, retiring)
	if err != nil {
		return err
	}
	mappings, err := s.repo.ListMappingsByLiveMrnID(ctx, retiringLive.ID)
	if err != nil {
		return err
	}

	repointed := 0
	for _, mapping := range mappings {
		if mapping.LiveMrnID == surviving.ID {
			continue
		}
		if mapping.ValidFrom.After(validFrom) {
			continue
		}
		row := temporal.NewRow(mapping, auditMapping, validFrom, storedFrom, false)
		temporal.AssignIfDifferent(row, surviving.ID, mapping.LiveMrnID, func(v uuid.UUID) { mapping.LiveMrnID = v })
		if err := row.Save(ctx, s.repo.CreateMapping, s.repo.UpdateMapping, s.repo.InsertMappingAudit); err != nil {
			return err
		}
		if row.Updated() {
			repointed++
		}
	}
	log.Ctx(ctx).Debug().
		Str("surviving_mrn_id", surviving.ID.String()).
		Int("repointed", repointed).
		Msg("merge applied")

	return s.propagateResearchOptOut(ctx, retiring, surviving)
}

// ChangeIdentifiers rewrites an identifier's keys in place. The target MRN
// must be genuinely unused: if it already belongs to a different record the
// message should have been a merge instead.
func (s *Service) ChangeIdentifiers(ctx context.Context, previousMrn string, newMrn string, newNhs *string, sourceSystem string, validFrom, storedFrom time.Time) error {
	existing, err := s.repo.FindMrnByMrn(ctx, newMrn)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	current, err := s.repo.FindMrnByMrn(ctx, previousMrn)
	if errors.Is(err, pgx.ErrNoRows) {
		// Starting mid-history: the previous key was never seen, so just
		// materialize the final identity.
		_, err := s.GetOrCreateMrn(ctx, &newMrn, newNhs, sourceSystem, validFrom, storedFrom)
		return err
	}
	if err != nil {
		return err
	}

	if existing != nil && existing.ID != current.ID {
		return &fault.IncompatibleStateError{
			Reason:       "identifier change target already belongs to another record",
			Existing:     newMrn,
			Incoming:     previousMrn,
			ExistingTime: existing.StoredFrom,
			IncomingTime: validFrom,
			Err:          fault.ErrDuplicateIdentifier,
		}
	}

	current.Mrn = &newMrn
	if newNhs != nil {
		current.NhsNumber = newNhs
	}
	return s.repo.UpdateMrn(ctx, current)
}

// UpdateOrCreateDemographic reconciles a demographic message against the
// snapshot owned by the identifier. Each field follows the null-or-newer
// policy: gaps are always filled, but an older message never regresses a
// value set by a newer one.
func (s *Service) UpdateOrCreateDemographic(ctx context.Context, mrnID uuid.UUID, demo Demographics, validFrom, storedFrom time.Time) (*CoreDemographic, error) {
	d, err := s.repo.GetDemographicByMrnID(ctx, mrnID)
	created := false
	if errors.Is(err, pgx.ErrNoRows) {
		d = &CoreDemographic{ID: uuid.New(), MrnID: mrnID}
		created = true
	} else if err != nil {
		return nil, err
	}

	entityValidFrom := d.ValidFrom
	row := temporal.NewRow(d, auditDemographic, validFrom, storedFrom, created)

	assignName := func(val temporal.Value[string], cur *string, set func(*string)) {
		switch {
		case val.IsUnknown():
		case val.IsDelete():
			temporal.RemoveIfExists(row, cur, set, validFrom)
		default:
			temporal.AssignIfCurrentlyNullOrNewerAndDifferent(row, val.Get(), cur, set, validFrom, entityValidFrom)
		}
	}
	assignTime := func(val temporal.Value[time.Time], cur *time.Time, set func(*time.Time)) {
		switch {
		case val.IsUnknown():
		case val.IsDelete():
			temporal.RemoveTimeIfExists(row, cur, set, validFrom)
		default:
			temporal.AssignTimeIfNullOrNewer(row, val.Get(), cur, set, validFrom, entityValidFrom)
		}
	}

	assignName(demo.GivenName, d.Firstname, func(v *string) { d.Firstname = v })
	assignName(demo.MiddleName, d.Middlename, func(v *string) { d.Middlename = v })
	assignName(demo.FamilyName, d.Lastname, func(v *string) { d.Lastname = v })
	assignTime(demo.BirthDatetime, d.BirthDatetime, func(v *time.Time) { d.BirthDatetime = v })
	assignTime(demo.DeathDatetime, d.DeathDatetime, func(v *time.Time) { d.DeathDatetime = v })
	assignName(demo.Sex, d.Sex, func(v *string) { d.Sex = v })
	assignName(demo.HomePostcode, d.HomePostcode, func(v *string) { d.HomePostcode = v })
	if !demo.Alive.IsUnknown() {
		switch {
		case demo.Alive.IsDelete():
			temporal.RemoveIfExists(row, d.Alive, func(v *bool) { d.Alive = v }, validFrom)
		default:
			temporal.AssignIfCurrentlyNullOrNewerAndDifferent(row, demo.Alive.Get(), d.Alive,
				func(v *bool) { d.Alive = v }, validFrom, entityValidFrom)
		}
	}

	if err := row.Save(ctx, s.repo.CreateDemographic, s.repo.UpdateDemographic, s.repo.InsertDemographicAudit); err != nil {
		return nil, err
	}
	return d, nil
}

// SetResearchOptOut raises the research opt-out flag on an identifier. The
// flag is sticky: once raised it is never lowered by a message.
func (s *Service) SetResearchOptOut(ctx context.Context, mrnID uuid.UUID, optOut bool) error {
	if !optOut {
		return nil
	}
	m, err := s.repo.GetMrnByID(ctx, mrnID)
	if err != nil {
		return err
	}
	if m.ResearchOptOut {
		return nil
	}
	m.ResearchOptOut = true
	return s.repo.UpdateMrn(ctx, m)
}

// DeleteDemographic removes the identifier's demographic snapshot, first
// writing it to audit so point-in-time reconstruction survives the erasure.
func (s *Service) DeleteDemographic(ctx context.Context, mrnID uuid.UUID, validFrom, storedFrom time.Time) error {
	d, err := s.repo.GetDemographicByMrnID(ctx, mrnID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.repo.InsertDemographicAudit(ctx, auditDemographic(d, validFrom, storedFrom)); err != nil {
		return err
	}
	return s.repo.DeleteDemographic(ctx, d.ID)
}

// GetDemographic returns the current demographic snapshot for an identifier.
func (s *Service) GetDemographic(ctx context.Context, mrnID uuid.UUID) (*CoreDemographic, error) {
	return s.repo.GetDemographicByMrnID(ctx, mrnID)
}

// ListDemographicHistory returns every superseded demographic state for the
// identity an MRN resolves to, ordered by when each state stopped being
// current.
func (s *Service) ListDemographicHistory(ctx context.Context, mrn string) ([]*CoreDemographicAudit, error) {
	m, err := s.repo.FindMrnByMrn(ctx, mrn)
	if err != nil {
		return nil, err
	}
	live, err := s.resolveLive(ctx, m)
	if err != nil {
		return nil, err
	}
	return s.repo.ListDemographicAuditsByMrnID(ctx, live.ID)
}

// ListIdentifiers returns every identifier resolving to the same live
// identity as the given one.
func (s *Service) ListIdentifiers(ctx context.Context, mrn string) ([]*Mrn, error) {
	m, err := s.repo.FindMrnByMrn(ctx, mrn)
	if err != nil {
		return nil, err
	}
	live, err := s.resolveLive(ctx, m)
	if err != nil {
		return nil, err
	}
	mappings, err := s.repo.ListMappingsByLiveMrnID(ctx, live.ID)
	if err != nil {
		return nil, err
	}
	mrns := make([]*Mrn, 0, len(mappings))
	for _, mapping := range mappings {
		rec, err := s.repo.GetMrnByID(ctx, mapping.MrnID)
		if err != nil {
			return nil, err
		}
		mrns = append(mrns, rec)
	}
	return mrns, nil
}

// FindLiveMrn resolves an identifier to its live identity without creating
// anything. Returns nil when neither key has been seen.
func (s *Service) FindLiveMrn(ctx context.Context, mrn, nhsNumber *string) (*Mrn, error) {
	m, err := s.findByEitherKey(ctx, mrn, nhsNumber)
	if err != nil || m == nil {
		return nil, err
	}
	return s.resolveLive(ctx, m)
}

func (s *Service) findByEitherKey(ctx context.Context, mrn, nhsNumber *string) (*Mrn, error) {
	if mrn != nil {
		m, err := s.repo.FindMrnByMrn(ctx, *mrn)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}
	if nhsNumber != nil {
		m, err := s.repo.FindMrnByNhsNumber(ctx, *nhsNumber)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}
	return nil, nil
}

func (s *Service) resolveLive(ctx context.Context, m *Mrn) (*Mrn, error) {
	mapping, err := s.repo.GetMappingByMrnID(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if mapping.LiveMrnID == m.ID {
		return m, nil
	}
	return s.repo.GetMrnByID(ctx, mapping.LiveMrnID)
}

// propagateResearchOptOut makes the sticky flag consistent across a merge:
// if either side has opted out, both sides end up opted out.
func (s *Service) propagateResearchOptOut(ctx context.Context, retiring, surviving *Mrn) error {
	optOut := retiring.ResearchOptOut || surviving.ResearchOptOut
	if !optOut {
		return nil
	}
	for _, m := range []*Mrn{retiring, surviving} {
		if m.ResearchOptOut {
			continue
		}
		m.ResearchOptOut = true
		if err := s.repo.UpdateMrn(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func backfillKeys(m *Mrn, mrn, nhsNumber *string) bool {
	changed := false
	if m.Mrn == nil && mrn != nil {
		m.Mrn = mrn
		changed = true
	}
	if m.NhsNumber == nil && nhsNumber != nil {
		m.NhsNumber = nhsNumber
		changed = true
	}
	return changed
}
