// Package deletion implements the erasure cascade for a patient identity:
// every row the identity owns is written to its audit table and then removed,
// within the caller's transaction.
package deletion

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/UCLH-DHCT/emap-sub000/internal/domain/person"
	"github.com/UCLH-DHCT/emap-sub000/internal/domain/question"
	"github.com/UCLH-DHCT/emap-sub000/internal/domain/visit"
	"github.com/UCLH-DHCT/emap-sub000/internal/platform/fault"
)

type identityStore interface {
	FindLiveMrn(ctx context.Context, mrn, nhsNumber *string) (*person.Mrn, error)
	DeleteDemographic(ctx context.Context, mrnID uuid.UUID, validFrom, storedFrom time.Time) error
}

type visitStore interface {
	ListVisits(ctx context.Context, mrnID uuid.UUID) ([]*visit.HospitalVisit, error)
	DeleteVisits(ctx context.Context, mrnID uuid.UUID, validFrom, storedFrom time.Time) ([]uuid.UUID, error)
}

type stayStore interface {
	DeleteStaysForVisits(ctx context.Context, visitIDs []uuid.UUID, validFrom, storedFrom time.Time) (int, error)
}

type conditionStore interface {
	ListConditionIDs(ctx context.Context, mrnID uuid.UUID) ([]uuid.UUID, error)
	DeleteConditionsForMrn(ctx context.Context, mrnID uuid.UUID, validFrom, storedFrom time.Time) (int, error)
}

type answerStore interface {
	DeleteAnswersForParent(ctx context.Context, parentType string, parentID uuid.UUID, validUntil, storedUntil time.Time) (int, error)
}

// Cascade orchestrates the per-domain delete operations. It does not open a
// transaction itself; the message processor wraps each message in one.
type Cascade struct {
	identities identityStore
	visits     visitStore
	stays      stayStore
	conditions conditionStore
	answers    answerStore
}

func NewCascade(identities identityStore, visits visitStore, stays stayStore, conditions conditionStore, answers answerStore) *Cascade {
	return &Cascade{
		identities: identities,
		visits:     visits,
		stays:      stays,
		conditions: conditions,
		answers:    answers,
	}
}

// DeletePersonInformation erases everything held against the identity the
// given keys resolve to: location stays, question answers, visits, conditions
// and demographics, each audited at the deletion time. The identifier rows
// and merge mappings survive, so later messages for the same patient still
// resolve. A deletion for a never-seen patient is ignored.
func (c *Cascade) DeletePersonInformation(ctx context.Context, mrn, nhsNumber *string, validFrom, storedFrom time.Time) error {
	live, err := c.identities.FindLiveMrn(ctx, mrn, nhsNumber)
	if err != nil {
		return err
	}
	if live == nil {
		return fault.Ignoredf("deletion request for unknown patient")
	}

	visits, err := c.visits.ListVisits(ctx, live.ID)
	if err != nil {
		return err
	}
	visitIDs := make([]uuid.UUID, 0, len(visits))
	for _, v := range visits {
		visitIDs = append(visitIDs, v.ID)
	}

	stays, err := c.stays.DeleteStaysForVisits(ctx, visitIDs, validFrom, storedFrom)
	if err != nil {
		return err
	}

	answers := 0
	for _, id := range visitIDs {
		n, err := c.answers.DeleteAnswersForParent(ctx, question.ParentVisit, id, validFrom, storedFrom)
		if err != nil {
			return err
		}
		answers += n
	}
	conditionIDs, err := c.conditions.ListConditionIDs(ctx, live.ID)
	if err != nil {
		return err
	}
	for _, id := range conditionIDs {
		n, err := c.answers.DeleteAnswersForParent(ctx, question.ParentCondition, id, validFrom, storedFrom)
		if err != nil {
			return err
		}
		answers += n
	}

	if _, err := c.visits.DeleteVisits(ctx, live.ID, validFrom, storedFrom); err != nil {
		return err
	}
	conditions, err := c.conditions.DeleteConditionsForMrn(ctx, live.ID, validFrom, storedFrom)
	if err != nil {
		return err
	}
	if err := c.identities.DeleteDemographic(ctx, live.ID, validFrom, storedFrom); err != nil {
		return err
	}

	log.Ctx(ctx).Info().
		Stringer("mrn_id", live.ID).
		Int("visits", len(visitIDs)).
		Int("stays", stays).
		Int("conditions", conditions).
		Int("answers", answers).
		Msg("person information erased")
	return nil
}
