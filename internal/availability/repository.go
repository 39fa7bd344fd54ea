package availability

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists availability windows.
type Repository interface {
	Create(ctx context.Context, w *Window) error
	GetByID(ctx context.Context, id uuid.UUID) (*Window, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*Window, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Window, error)
	ListByDoctorWeekday(ctx context.Context, doctorID uuid.UUID, weekday Weekday) ([]Window, error)
}
