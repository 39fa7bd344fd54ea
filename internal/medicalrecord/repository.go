package medicalrecord

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create fails with apperr.ErrAlreadyExists when the appointment already
	// has a record.
	Create(ctx context.Context, r *Record) error
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Record, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Record, error)
}
