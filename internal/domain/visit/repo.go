package visit

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, v *HospitalVisit) error
	Update(ctx context.Context, v *HospitalVisit) error
	GetByID(ctx context.Context, id uuid.UUID) (*HospitalVisit, error)
	GetByEncounter(ctx context.Context, encounter string) (*HospitalVisit, error)
	ListByMrnID(ctx context.Context, mrnID uuid.UUID) ([]*HospitalVisit, error)
	InsertAudit(ctx context.Context, a *HospitalVisitAudit) error
	Delete(ctx context.Context, id uuid.UUID) error
}
