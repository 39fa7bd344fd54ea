// Package notify carries notification intents out of the scheduling core.
// The core only produces intents; delivery happens in the notify worker.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	RKUserRegistered       = "user.registered"
	RKAppointmentBooked    = "appointment.booked"
	RKAppointmentCancelled = "appointment.cancelled"
	RKAppointmentCompleted = "appointment.completed"
	RKMedicalRecordCreated = "medical_record.created"
)

// Keys lists every routing key the core emits.
var Keys = []string{
	RKUserRegistered,
	RKAppointmentBooked,
	RKAppointmentCancelled,
	RKAppointmentCompleted,
	RKMedicalRecordCreated,
}

// Intent is a request to notify someone about something that already happened.
type Intent struct {
	ID         uuid.UUID
	Key        string
	OccurredAt time.Time
	Payload    any
}

func NewIntent(key string, payload any) Intent {
	return Intent{
		ID:         uuid.New(),
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Envelope is the wire form of an Intent.
type Envelope struct {
	ID         uuid.UUID       `json:"id"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func (i Intent) Envelope() (Envelope, error) {
	b, err := json.Marshal(i.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", i.Key, err)
	}
	return Envelope{ID: i.ID, Key: i.Key, OccurredAt: i.OccurredAt, Payload: b}, nil
}

type UserRegistered struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	Role      string    `json:"role"`
}

type AppointmentBooked struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
}

type AppointmentStatusChanged struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	Status        string    `json:"status"`
	ChangedBy     uuid.UUID `json:"changed_by"`
}

type MedicalRecordCreated struct {
	RecordID      uuid.UUID `json:"record_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	PatientID     uuid.UUID `json:"patient_id"`
}

func Decode[T any](env Envelope) (T, error) {
	var t T
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s payload: %w", env.Key, err)
	}
	return t, nil
}
