package person

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Identifiers
	CreateMrn(ctx context.Context, m *Mrn) error
	UpdateMrn(ctx context.Context, m *Mrn) error
	GetMrnByID(ctx context.Context, id uuid.UUID) (*Mrn, error)
	FindMrnByMrn(ctx context.Context, mrn string) (*Mrn, error)
	FindMrnByNhsNumber(ctx context.Context, nhsNumber string) (*Mrn, error)

	// Live mappings
	CreateMapping(ctx context.Context, m *MrnToLive) error
	UpdateMapping(ctx context.Context, m *MrnToLive) error
	GetMappingByMrnID(ctx context.Context, mrnID uuid.UUID) (*MrnToLive, error)
	ListMappingsByLiveMrnID(ctx context.Context, liveMrnID uuid.UUID) ([]*MrnToLive, error)
	InsertMappingAudit(ctx context.Context, a *MrnToLiveAudit) error

	// Demographics
	CreateDemographic(ctx context.Context, d *CoreDemographic) error
	UpdateDemographic(ctx context.Context, d *CoreDemographic) error
	GetDemographicByMrnID(ctx context.Context, mrnID uuid.UUID) (*CoreDemographic, error)
	InsertDemographicAudit(ctx context.Context, a *CoreDemographicAudit) error
	ListDemographicAuditsByMrnID(ctx context.Context, mrnID uuid.UUID) ([]*CoreDemographicAudit, error)
	DeleteDemographic(ctx context.Context, id uuid.UUID) error
}
