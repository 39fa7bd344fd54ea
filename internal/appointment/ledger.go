package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-scheduling/internal/availability"
)

// Tx is the view of the store inside one doctor-scoped atomic unit. Reads
// observe the writes of the same Tx; nothing is visible to others until the
// unit commits.
type Tx interface {
	WindowsOn(ctx context.Context, doctorID uuid.UUID, weekday availability.Weekday) ([]availability.Window, error)
	FindOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*Appointment, error)
	FindByIdempotencyKey(ctx context.Context, patientID uuid.UUID, key string) (*Appointment, error)
	Insert(ctx context.Context, a *Appointment) error
}

// Snapshot is a consistent read of a doctor's windows and the scheduled
// appointments in a time range.
type Snapshot struct {
	Windows      []availability.Window
	Appointments []Appointment
}

// Ledger stores appointments.
type Ledger interface {
	// WithinDoctorTx runs fn in one atomic unit that is serialised with every
	// other unit for the same doctor. fn's error rolls the unit back.
	WithinDoctorTx(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error

	FindOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*Appointment, error)
	FindByIdempotencyKey(ctx context.Context, patientID uuid.UUID, key string) (*Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateStatus moves id from one status to another and fails with
	// apperr.ErrNotFound when the row is missing or no longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	List(ctx context.Context, f Filter) ([]Appointment, error)
	Snapshot(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (*Snapshot, error)
}

// firstOverlap returns the earliest scheduled appointment of doctorID that
// intersects [start, end).
func firstOverlap(appts []Appointment, doctorID uuid.UUID, start, end time.Time) *Appointment {
	var found *Appointment
	for i := range appts {
		a := appts[i]
		if a.DoctorID != doctorID || a.Status != StatusScheduled || !a.Overlaps(start, end) {
			continue
		}
		if found == nil || a.Start.Before(found.Start) {
			found = &a
		}
	}
	return found
}
