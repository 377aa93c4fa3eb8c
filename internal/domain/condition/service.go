package condition

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

// Service applies condition messages. Updates are gated on the message's
// updated time against the row's validFrom, so a stale message never
// overwrites newer information.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ProcessCondition reconciles one condition message into the patient's
// condition list, creating the condition type and the condition row as
// needed. The reconciled condition is returned so callers can attach
// dependent records to it.
func (s *Service) ProcessCondition(ctx context.Context, msg Message) (*PatientCondition, error) {
	if msg.Code == "" {
		return nil, fmt.Errorf("condition message without a condition code: %w", fault.ErrRequiredDataMissing)
	}
	if msg.InternalID.IsUnknown() && msg.AddedTime.IsZero() {
		return nil, fmt.Errorf("condition message carries neither a source identifier nor an added time: %w",
			fault.ErrRequiredDataMissing)
	}

	ct, err := s.getOrCreateType(ctx, msg)
	if err != nil {
		return nil, err
	}

	// An identified infection feed supersedes everything the unidentified
	// feed reported before it.
	if msg.DataType == TypeInfection && msg.InternalID.IsSave() {
		if err := s.replaceUnidentifiedInfections(ctx, msg); err != nil {
			return nil, err
		}
	}

	row, err := s.resolveCondition(ctx, msg, ct)
	if err != nil {
		return nil, err
	}

	pc := row.Entity()
	if row.Created() || !msg.UpdatedTime.Before(pc.ValidFrom) {
		temporal.AssignPtrIfDifferent(row, msg.VisitID, pc.HospitalVisitID,
			func(v *uuid.UUID) { pc.HospitalVisitID = v })
		temporal.AssignValue(row, msg.Comment, pc.Comment, func(v *string) { pc.Comment = v })
		temporal.AssignValue(row, msg.Status, pc.Status, func(v *string) { pc.Status = v })
		temporal.AssignTimeValue(row, msg.Resolution, pc.ResolutionTime,
			func(v *time.Time) { pc.ResolutionTime = v })
		temporal.AssignTimeValue(row, msg.OnsetTime, pc.OnsetTime,
			func(v *time.Time) { pc.OnsetTime = v })
	} else {
		log.Ctx(ctx).Debug().
			Time("updated", msg.UpdatedTime).
			Time("valid_from", pc.ValidFrom).
			Msg("condition message older than stored state, skipping")
	}

	if err := row.Save(ctx, s.repo.CreateCondition, s.repo.UpdateCondition, s.repo.InsertConditionAudit); err != nil {
		return nil, err
	}
	return pc, nil
}

// ListConditions returns the patient's current conditions.
func (s *Service) ListConditions(ctx context.Context, mrnID uuid.UUID) ([]*PatientCondition, error) {
	return s.repo.ListByMrnID(ctx, mrnID)
}

// ListConditionIDs returns just the IDs of the patient's conditions, for
// callers that manage dependent records.
func (s *Service) ListConditionIDs(ctx context.Context, mrnID uuid.UUID) ([]uuid.UUID, error) {
	conditions, err := s.repo.ListByMrnID(ctx, mrnID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(conditions))
	for _, pc := range conditions {
		ids = append(ids, pc.ID)
	}
	return ids, nil
}

// ListConditionHistory returns the patient's superseded condition states.
func (s *Service) ListConditionHistory(ctx context.Context, mrnID uuid.UUID) ([]*PatientConditionAudit, error) {
	return s.repo.ListAuditsByMrnID(ctx, mrnID)
}

// DeleteConditionsForMrn erases every condition of the patient, one audit row
// per condition. Used by the deletion cascade.
func (s *Service) DeleteConditionsForMrn(ctx context.Context, mrnID uuid.UUID, validFrom, storedFrom time.Time) (int, error) {
	conditions, err := s.repo.ListByMrnID(ctx, mrnID)
	if err != nil {
		return 0, err
	}
	for _, pc := range conditions {
		if err := s.deleteCondition(ctx, pc, validFrom, storedFrom); err != nil {
			return 0, err
		}
	}
	if len(conditions) > 0 {
		log.Ctx(ctx).Info().Int("conditions", len(conditions)).Msg("patient conditions erased")
	}
	return len(conditions), nil
}

func (s *Service) getOrCreateType(ctx context.Context, msg Message) (*ConditionType, error) {
	ct, err := s.repo.FindType(ctx, msg.DataType, msg.Code)
	if errors.Is(err, pgx.ErrNoRows) {
		ct = &ConditionType{
			ID:           uuid.New(),
			DataType:     msg.DataType,
			InternalCode: msg.Code,
		}
		if msg.Name.IsSave() {
			name := msg.Name.Get()
			ct.Name = &name
		}
		ct.ValidFrom = msg.UpdatedTime
		ct.StoredFrom = msg.StoredFrom
		if err := s.repo.CreateType(ctx, ct); err != nil {
			return nil, err
		}
		return ct, nil
	}
	if err != nil {
		return nil, err
	}

	// Later messages may correct the display name.
	if !msg.UpdatedTime.Before(ct.ValidFrom) {
		row := temporal.NewRow(ct, auditType, msg.UpdatedTime, msg.StoredFrom, false)
		temporal.AssignValue(row, msg.Name, ct.Name, func(v *string) { ct.Name = v })
		if err := row.Save(ctx, s.repo.CreateType, s.repo.UpdateType, s.repo.InsertTypeAudit); err != nil {
			return nil, err
		}
	}
	return ct, nil
}

func (s *Service) resolveCondition(ctx context.Context, msg Message, ct *ConditionType) (*temporal.Row[*PatientCondition, *PatientConditionAudit], error) {
	var (
		pc  *PatientCondition
		err error
	)
	if msg.InternalID.IsSave() {
		pc, err = s.repo.FindByInternalID(ctx, ct.ID, msg.InternalID.Get())
	} else {
		pc, err = s.repo.FindByNaturalKey(ctx, msg.MrnID, ct.ID, msg.AddedTime)
	}
	if err == nil {
		return temporal.NewRow(pc, auditCondition, msg.UpdatedTime, msg.StoredFrom, false), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	pc = &PatientCondition{
		ID:              uuid.New(),
		MrnID:           msg.MrnID,
		ConditionTypeID: ct.ID,
		AddedTime:       msg.AddedTime,
	}
	if msg.InternalID.IsSave() {
		id := msg.InternalID.Get()
		pc.InternalID = &id
	}
	return temporal.NewRow(pc, auditCondition, msg.UpdatedTime, msg.StoredFrom, true), nil
}

func (s *Service) replaceUnidentifiedInfections(ctx context.Context, msg Message) error {
	stale, err := s.repo.ListUnidentifiedInfectionsBefore(ctx, msg.MrnID, msg.UpdatedTime)
	if err != nil {
		return err
	}
	for _, pc := range stale {
		if err := s.deleteCondition(ctx, pc, msg.UpdatedTime, msg.StoredFrom); err != nil {
			return err
		}
	}
	if len(stale) > 0 {
		log.Ctx(ctx).Debug().Int("infections", len(stale)).
			Time("until", msg.UpdatedTime).
			Msg("unidentified infections superseded by identified feed")
	}
	return nil
}

func (s *Service) deleteCondition(ctx context.Context, pc *PatientCondition, validUntil, storedUntil time.Time) error {
	if err := s.repo.InsertConditionAudit(ctx, auditCondition(pc, validUntil, storedUntil)); err != nil {
		return err
	}
	return s.repo.DeleteCondition(ctx, pc.ID)
}
