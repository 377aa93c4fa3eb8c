package condition

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Condition types
	CreateType(ctx context.Context, ct *ConditionType) error
	UpdateType(ctx context.Context, ct *ConditionType) error
	FindType(ctx context.Context, dataType, internalCode string) (*ConditionType, error)
	InsertTypeAudit(ctx context.Context, a *ConditionTypeAudit) error

	// Patient conditions
	CreateCondition(ctx context.Context, pc *PatientCondition) error
	UpdateCondition(ctx context.Context, pc *PatientCondition) error
	DeleteCondition(ctx context.Context, id uuid.UUID) error
	InsertConditionAudit(ctx context.Context, a *PatientConditionAudit) error
	FindByNaturalKey(ctx context.Context, mrnID, typeID uuid.UUID, addedTime time.Time) (*PatientCondition, error)
	FindByInternalID(ctx context.Context, typeID uuid.UUID, internalID int64) (*PatientCondition, error)
	ListByMrnID(ctx context.Context, mrnID uuid.UUID) ([]*PatientCondition, error)
	ListAuditsByMrnID(ctx context.Context, mrnID uuid.UUID) ([]*PatientConditionAudit, error)
	// ListUnidentifiedInfectionsBefore returns infection rows with no source
	// identifier whose validFrom is at or before the cutoff.
	ListUnidentifiedInfectionsBefore(ctx context.Context, mrnID uuid.UUID, until time.Time) ([]*PatientCondition, error)
}
