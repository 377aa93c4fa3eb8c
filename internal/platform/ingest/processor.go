package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/UCLH-DHCT/emap-sub000/internal/domain/condition"
	"github.com/UCLH-DHCT/emap-sub000/internal/domain/movement"
	"github.com/UCLH-DHCT/emap-sub000/internal/domain/person"
	"github.com/UCLH-DHCT/emap-sub000/internal/domain/question"
	"github.com/UCLH-DHCT/emap-sub000/internal/domain/visit"
	"github.com/UCLH-DHCT/emap-sub000/internal/platform/db"
	"github.com/UCLH-DHCT/emap-sub000/internal/platform/fault"
)

type identityService interface {
	GetOrCreateMrn(ctx context.Context, mrn, nhsNumber *string, sourceSystem string, validFrom, storedFrom time.Time) (*person.Mrn, error)
	MergeMrns(ctx context.Context, retiringMrn, retiringNhs, survivingMrn, survivingNhs *string, sourceSystem string, validFrom, storedFrom time.Time) error
	ChangeIdentifiers(ctx context.Context, previousMrn, newMrn string, newNhs *string, sourceSystem string, validFrom, storedFrom time.Time) error
	UpdateOrCreateDemographic(ctx context.Context, mrnID uuid.UUID, demo person.Demographics, validFrom, storedFrom time.Time) (*person.CoreDemographic, error)
	SetResearchOptOut(ctx context.Context, mrnID uuid.UUID, optOut bool) error
}

type visitService interface {
	GetVisit(ctx context.Context, encounter string) (*visit.HospitalVisit, error)
	GetOrCreateVisit(ctx context.Context, encounter string, mrnID uuid.UUID, sourceSystem string, validFrom, storedFrom time.Time) (*visit.HospitalVisit, error)
	ProcessUpdate(ctx context.Context, mrnID uuid.UUID, upd visit.Update) (*visit.HospitalVisit, error)
	ProcessDischarge(ctx context.Context, mrnID uuid.UUID, d visit.Discharge) (*visit.HospitalVisit, error)
	CancelAdmission(ctx context.Context, encounter string, eventTime, storedFrom time.Time) (*visit.HospitalVisit, error)
	CancelDischarge(ctx context.Context, encounter string, eventTime, storedFrom time.Time) (*visit.HospitalVisit, error)
}

type movementService interface {
	Admit(ctx context.Context, ev movement.AdmitEvent) error
	Transfer(ctx context.Context, ev movement.TransferEvent) error
	Discharge(ctx context.Context, ev movement.DischargeEvent) error
	CancelAdmit(ctx context.Context, ev movement.CancelAdmitEvent) (bool, error)
	CancelTransfer(ctx context.Context, ev movement.CancelTransferEvent) error
	CancelDischarge(ctx context.Context, ev movement.CancelDischargeEvent) error
	SwapLocations(ctx context.Context, visitA, visitB uuid.UUID, eventTime, storedFrom time.Time) error
}

type conditionService interface {
	ProcessCondition(ctx context.Context, msg condition.Message) (*condition.PatientCondition, error)
}

type questionService interface {
	UpsertAnswer(ctx context.Context, parentType string, parentID uuid.UUID, questionText, answer string, validFrom, storedFrom time.Time) error
}

type deletionService interface {
	DeletePersonInformation(ctx context.Context, mrn, nhsNumber *string, validFrom, storedFrom time.Time) error
}

// Processor applies one inbound message inside one database transaction. A
// message either commits in full, is dropped by design, or rolls back with an
// error for the transport to redeliver.
type Processor struct {
	run        func(ctx context.Context, fn func(ctx context.Context) error) error
	identities identityService
	visits     visitService
	movements  movementService
	conditions conditionService
	questions  questionService
	deletions  deletionService
	metrics    *Metrics
	now        func() time.Time
}

func NewProcessor(
	pool *pgxpool.Pool,
	identities identityService,
	visits visitService,
	movements movementService,
	conditions conditionService,
	questions questionService,
	deletions deletionService,
	metrics *Metrics,
) *Processor {
	return &Processor{
		run: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.RunInTx(ctx, pool, fn)
		},
		identities: identities,
		visits:     visits,
		movements:  movements,
		conditions: conditions,
		questions:  questions,
		deletions:  deletions,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Process applies the message. A nil return means the message is dealt with,
// committed or deliberately dropped. A non-nil return means nothing was
// written and the message should be redelivered.
func (p *Processor) Process(ctx context.Context, msg Message) error {
	storedFrom := p.now().UTC()
	logger := log.Ctx(ctx).With().Str("kind", msg.Kind()).Logger()
	ctx = logger.WithContext(ctx)

	err := p.run(ctx, func(ctx context.Context) error {
		return p.apply(ctx, msg, storedFrom)
	})
	switch {
	case err == nil:
		p.metrics.processed.WithLabelValues(msg.Kind()).Inc()
		return nil
	case errors.Is(err, fault.ErrMessageIgnored):
		logger.Debug().Err(err).Msg("message ignored")
		p.metrics.ignored.WithLabelValues(msg.Kind()).Inc()
		return nil
	default:
		var incompatible *fault.IncompatibleStateError
		if errors.As(err, &incompatible) {
			logger.Error().
				Str("reason", incompatible.Reason).
				Interface("existing", incompatible.Existing).
				Interface("incoming", incompatible.Incoming).
				Time("existing_time", incompatible.ExistingTime).
				Time("incoming_time", incompatible.IncomingTime).
				Msg("message conflicts with stored state")
		} else {
			logger.Error().Err(err).Msg("message processing failed")
		}
		p.metrics.failed.WithLabelValues(msg.Kind()).Inc()
		return err
	}
}

func (p *Processor) apply(ctx context.Context, msg Message, storedFrom time.Time) error {
	switch m := msg.(type) {
	case Admit:
		return p.applyAdmit(ctx, m, storedFrom)
	case Register:
		return p.applyRegister(ctx, m, storedFrom)
	case Transfer:
		return p.applyTransfer(ctx, m, storedFrom)
	case Discharge:
		return p.applyDischarge(ctx, m, storedFrom)
	case UpdatePatientInfo:
		return p.applyUpdatePatientInfo(ctx, m, storedFrom)
	case CancelAdmit:
		return p.applyCancelAdmit(ctx, m, storedFrom)
	case CancelTransfer:
		return p.applyCancelTransfer(ctx, m, storedFrom)
	case CancelDischarge:
		return p.applyCancelDischarge(ctx, m, storedFrom)
	case SwapLocations:
		return p.applySwapLocations(ctx, m, storedFrom)
	case MergeIdentity:
		return p.identities.MergeMrns(ctx, m.RetiringMrn, m.RetiringNhs, m.SurvivingMrn, m.SurvivingNhs,
			m.SourceSystem, m.EventTime, storedFrom)
	case ChangeIdentifiers:
		return p.identities.ChangeIdentifiers(ctx, m.PreviousMrn, m.NewMrn, m.NewNhs,
			m.SourceSystem, m.EventTime, storedFrom)
	case DeletePersonInformation:
		return p.deletions.DeletePersonInformation(ctx, m.Mrn, m.NhsNumber, m.EventTime, storedFrom)
	case Condition:
		return p.applyCondition(ctx, m, storedFrom)
	default:
		return fmt.Errorf("unroutable message kind %q", msg.Kind())
	}
}

func (p *Processor) applyAdmit(ctx context.Context, m Admit, storedFrom time.Time) error {
	mrn, err := p.identities.GetOrCreateMrn(ctx, m.Mrn, m.NhsNumber, m.SourceSystem, m.EventTime, storedFrom)
	if err != nil {
		return err
	}
	v, err := p.visits.ProcessUpdate(ctx, mrn.ID, visit.Update{
		Encounter:        m.Encounter,
		SourceSystem:     m.SourceSystem,
		PresentationTime: m.PresentationTime,
		AdmissionTime:    m.AdmissionTime,
		PatientClass:     m.PatientClass,
		ArrivalMethod:    m.ArrivalMethod,
		EventTime:        m.EventTime,
		StoredFrom:       storedFrom,
	})
	if err != nil {
		return err
	}
	if m.Location == "" {
		return nil
	}
	return p.movements.Admit(ctx, movement.AdmitEvent{
		VisitID:      v.ID,
		Location:     m.Location,
		PoolLocation: m.PoolLocation,
		EventTime:    m.EventTime,
		StoredFrom:   storedFrom,
	})
}

func (p *Processor) applyRegister(ctx context.Context, m Register, storedFrom time.Time) error {
	mrn, err := p.identities.GetOrCreateMrn(ctx, m.Mrn, m.NhsNumber, m.SourceSystem, m.EventTime, storedFrom)
	if err != nil {
		return err
	}
	_, err = p.visits.ProcessUpdate(ctx, mrn.ID, visit.Update{
		Encounter:        m.Encounter,
		SourceSystem:     m.SourceSystem,
		PresentationTime: m.PresentationTime,
		PatientClass:     m.PatientClass,
		EventTime:        m.EventTime,
		StoredFrom:       storedFrom,
	})
	return err
}

func (p *Processor) applyTransfer(ctx context.Context, m Transfer, storedFrom time.Time) error {
	mrn, err := p.identities.GetOrCreateMrn(ctx, m.Mrn, m.NhsNumber, m.SourceSystem, m.EventTime, storedFrom)
	if err != nil {
		return err
	}
	v, err := p.visits.ProcessUpdate(ctx, mrn.ID, visit.Update{
		Encounter:    m.Encounter,
		SourceSystem: m.SourceSystem,
		PatientClass: m.PatientClass,
		EventTime:    m.EventTime,
		StoredFrom:   storedFrom,
	})
	if err != nil {
		return err
	}
	return p.movements.Transfer(ctx, movement.TransferEvent{
		VisitID:    v.ID,
		Location:   m.Location,
		EventTime:  m.EventTime,
		StoredFrom: storedFrom,
	})
}

func (p *Processor) applyDischarge(ctx context.Context, m Discharge, storedFrom time.Time) error {
	mrn, err := p.identities.GetOrCreateMrn(ctx, m.Mrn, m.NhsNumber, m.SourceSystem, m.EventTime, storedFrom)
	if err != nil {
		return err
	}
	v, err := p.visits.ProcessDischarge(ctx, mrn.ID, visit.Discharge{
		Encounter:            m.Encounter,
		SourceSystem:         m.SourceSystem,
		DischargeTime:        m.DischargeTime,
		DischargeDisposition: m.DischargeDisposition,
		DischargeDestination: m.DischargeDestination,
		EventTime:            m.EventTime,
		StoredFrom:           storedFrom,
	})
	if err != nil {
		return err
	}
	return p.movements.Discharge(ctx, movement.DischargeEvent{
		VisitID:    v.ID,
		Location:   m.Location,
		EventTime:  m.DischargeTime,
		StoredFrom: storedFrom,
	})
}

func (p *Processor) applyUpdatePatientInfo(ctx context.Context, m UpdatePatientInfo, storedFrom time.Time) error {
	mrn, err := p.identities.GetOrCreateMrn(ctx, m.Mrn, m.NhsNumber, m.SourceSystem, m.EventTime, storedFrom)
	if err != nil {
		return err
	}
	if _, err := p.identities.UpdateOrCreateDemographic(ctx, mrn.ID, m.Demographics, m.EventTime, storedFrom); err != nil {
		return err
	}
	if m.ResearchOptOut.IsSave() {
		if err := p.identities.SetResearchOptOut(ctx, mrn.ID, m.ResearchOptOut.Get()); err != nil {
			return err
		}
	}
	if m.Encounter == "" {
		return nil
	}
	_, err = p.visits.ProcessUpdate(ctx, mrn.ID, visit.Update{
		Encounter:        m.Encounter,
		SourceSystem:     m.SourceSystem,
		PresentationTime: m.PresentationTime,
		AdmissionTime:    m.AdmissionTime,
		PatientClass:     m.PatientClass,
		EventTime:        m.EventTime,
		StoredFrom:       storedFrom,
	})
	return err
}

func (p *Processor) applyCancelAdmit(ctx context.Context, m CancelAdmit, storedFrom time.Time) error {
	v, err := p.visits.GetVisit(ctx, m.Encounter)
	if errors.Is(err, pgx.ErrNoRows) {
		return fault.Ignoredf("cancel admit for unknown encounter %s", m.Encounter)
	}
	if err != nil {
		return err
	}
	hasStays, err := p.movements.CancelAdmit(ctx, movement.CancelAdmitEvent{
		VisitID:                v.ID,
		CancelledAdmissionTime: m.CancelledAdmissionTime,
		EventTime:              m.EventTime,
		StoredFrom:             storedFrom,
	})
	if err != nil {
		return err
	}
	if hasStays {
		return nil
	}
	// No stays left: the admission itself is retracted from the visit.
	_, err = p.visits.CancelAdmission(ctx, m.Encounter, m.EventTime, storedFrom)
	return err
}

func (p *Processor) applyCancelTransfer(ctx context.Context, m CancelTransfer, storedFrom time.Time) error {
	v, err := p.visits.GetVisit(ctx, m.Encounter)
	if errors.Is(err, pgx.ErrNoRows) {
		return fault.Ignoredf("cancel transfer for unknown encounter %s", m.Encounter)
	}
	if err != nil {
		return err
	}
	return p.movements.CancelTransfer(ctx, movement.CancelTransferEvent{
		VisitID:            v.ID,
		CancelledLocation:  m.CancelledLocation,
		CancelledEventTime: m.CancelledEventTime,
		EventTime:          m.EventTime,
		StoredFrom:         storedFrom,
	})
}

func (p *Processor) applyCancelDischarge(ctx context.Context, m CancelDischarge, storedFrom time.Time) error {
	v, err := p.visits.CancelDischarge(ctx, m.Encounter, m.EventTime, storedFrom)
	if err != nil {
		return err
	}
	return p.movements.CancelDischarge(ctx, movement.CancelDischargeEvent{
		VisitID:    v.ID,
		EventTime:  m.EventTime,
		StoredFrom: storedFrom,
	})
}

func (p *Processor) applySwapLocations(ctx context.Context, m SwapLocations, storedFrom time.Time) error {
	a, err := p.visits.GetVisit(ctx, m.EncounterA)
	if errors.Is(err, pgx.ErrNoRows) {
		return fault.Ignoredf("swap for unknown encounter %s", m.EncounterA)
	}
	if err != nil {
		return err
	}
	b, err := p.visits.GetVisit(ctx, m.EncounterB)
	if errors.Is(err, pgx.ErrNoRows) {
		return fault.Ignoredf("swap for unknown encounter %s", m.EncounterB)
	}
	if err != nil {
		return err
	}
	return p.movements.SwapLocations(ctx, a.ID, b.ID, m.EventTime, storedFrom)
}

func (p *Processor) applyCondition(ctx context.Context, m Condition, storedFrom time.Time) error {
	mrn, err := p.identities.GetOrCreateMrn(ctx, m.Mrn, m.NhsNumber, m.SourceSystem, m.EventTime, storedFrom)
	if err != nil {
		return err
	}
	var visitID *uuid.UUID
	if m.Encounter != "" {
		v, err := p.visits.GetOrCreateVisit(ctx, m.Encounter, mrn.ID, m.SourceSystem, m.EventTime, storedFrom)
		if err != nil {
			return err
		}
		visitID = &v.ID
	}
	pc, err := p.conditions.ProcessCondition(ctx, condition.Message{
		DataType:     m.DataType,
		SourceSystem: m.SourceSystem,
		MrnID:        mrn.ID,
		VisitID:      visitID,
		Code:         m.Code,
		Name:         m.Name,
		InternalID:   m.InternalID,
		AddedTime:    m.AddedTime,
		OnsetTime:    m.OnsetTime,
		Resolution:   m.Resolution,
		Status:       m.Status,
		Comment:      m.Comment,
		UpdatedTime:  m.EventTime,
		StoredFrom:   storedFrom,
	})
	if err != nil {
		return err
	}
	for _, qa := range m.Questions {
		if err := p.questions.UpsertAnswer(ctx, question.ParentCondition, pc.ID, qa.Question, qa.Answer, m.EventTime, storedFrom); err != nil {
			return err
		}
	}
	return nil
}
