package movement

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Locations
	CreateLocation(ctx context.Context, l *Location) error
	FindLocationByString(ctx context.Context, locationString string) (*Location, error)
	GetLocationByID(ctx context.Context, id uuid.UUID) (*Location, error)

	// Stays
	CreateStay(ctx context.Context, lv *LocationVisit) error
	UpdateStay(ctx context.Context, lv *LocationVisit) error
	DeleteStay(ctx context.Context, id uuid.UUID) error
	InsertStayAudit(ctx context.Context, a *LocationVisitAudit) error
	GetOpenStay(ctx context.Context, visitID uuid.UUID) (*LocationVisit, error)
	ListStaysByVisit(ctx context.Context, visitID uuid.UUID) ([]*LocationVisit, error)
	FindStayByAdmissionTime(ctx context.Context, visitID uuid.UUID, admissionTime time.Time) (*LocationVisit, error)
	FindPoolStay(ctx context.Context, visitID uuid.UUID, admissionTime time.Time) (*LocationVisit, error)
}
