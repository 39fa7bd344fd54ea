package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-scheduling/internal/appointment"
	"github.com/clinicdesk/clinic-scheduling/internal/availability"
	"github.com/clinicdesk/clinic-scheduling/internal/directory"
	"github.com/clinicdesk/clinic-scheduling/internal/medicalrecord"
)

type RegisterRequest struct {
	Email             string  `json:"email" validate:"required,email,max=254"`
	Password          string  `json:"password" validate:"required,min=8,max=72"`
	FirstName         string  `json:"first_name" validate:"required,max=100"`
	LastName          string  `json:"last_name" validate:"required,max=100"`
	Role              string  `json:"role" validate:"omitempty,oneof=patient doctor admin"`
	Specialization    *string `json:"specialization" validate:"omitempty,max=100"`
	InsuranceProvider *string `json:"insurance_provider" validate:"omitempty,max=100"`
	InsuranceNumber   *string `json:"insurance_number" validate:"omitempty,max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type UserResponse struct {
	ID                uuid.UUID `json:"id"`
	Email             string    `json:"email"`
	FirstName         string    `json:"first_name"`
	LastName          string    `json:"last_name"`
	Role              string    `json:"role"`
	Specialization    *string   `json:"specialization,omitempty"`
	InsuranceProvider *string   `json:"insurance_provider,omitempty"`
	InsuranceNumber   *string   `json:"insurance_number,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type TokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        UserResponse `json:"user"`
}

type AddWindowRequest struct {
	Weekday string `json:"weekday" validate:"required"`
	Start   string `json:"start" validate:"required"`
	End     string `json:"end" validate:"required"`
}

type SetWindowActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type WindowResponse struct {
	ID       uuid.UUID `json:"id"`
	DoctorID uuid.UUID `json:"doctor_id"`
	Weekday  string    `json:"weekday"`
	Start    string    `json:"start"`
	End      string    `json:"end"`
	Active   bool      `json:"active"`
}

type CreateAppointmentRequest struct {
	DoctorID  string    `json:"doctor_id" validate:"required,uuid"`
	PatientID string    `json:"patient_id" validate:"omitempty,uuid"`
	Start     time.Time `json:"start" validate:"required"`
	End       time.Time `json:"end" validate:"required"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SlotResponse struct {
	WindowID  uuid.UUID `json:"window_id"`
	Date      string    `json:"date"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

type CreateRecordRequest struct {
	Notes string `json:"notes" validate:"required,max=20000"`
}

type RecordResponse struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	Notes         string    `json:"notes"`
	CreatedAt     time.Time `json:"created_at"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func toUserResponse(u *directory.User) UserResponse {
	return UserResponse{
		ID:                u.ID,
		Email:             u.Email,
		FirstName:         u.FirstName,
		LastName:          u.LastName,
		Role:              string(u.Role),
		Specialization:    u.Specialization,
		InsuranceProvider: u.InsuranceProvider,
		InsuranceNumber:   u.InsuranceNumber,
		CreatedAt:         u.CreatedAt,
	}
}

func toWindowResponse(w *availability.Window) WindowResponse {
	return WindowResponse{
		ID:       w.ID,
		DoctorID: w.DoctorID,
		Weekday:  w.Weekday.String(),
		Start:    w.Start.String(),
		End:      w.End.String(),
		Active:   w.Active,
	}
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		Start:     a.Start,
		End:       a.End,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toRecordResponse(r *medicalrecord.Record) RecordResponse {
	return RecordResponse{
		ID:            r.ID,
		AppointmentID: r.AppointmentID,
		DoctorID:      r.DoctorID,
		PatientID:     r.PatientID,
		Notes:         r.Notes,
		CreatedAt:     r.CreatedAt,
	}
}
