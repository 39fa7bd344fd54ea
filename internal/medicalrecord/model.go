package medicalrecord

import (
	"time"

	"github.com/google/uuid"
)

// Record holds a doctor's notes for one completed appointment.
type Record struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	DoctorID      uuid.UUID
	PatientID     uuid.UUID
	Notes         string
	CreatedAt     time.Time
}
