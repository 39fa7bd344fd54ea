package medicalrecord

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/apperr"
	"github.com/clinicdesk/clinic-scheduling/internal/appointment"
	"github.com/clinicdesk/clinic-scheduling/internal/directory"
	"github.com/clinicdesk/clinic-scheduling/internal/notify"
)

// Appointments is the slice of the appointment ledger records need.
type Appointments interface {
	GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	List(ctx context.Context, f appointment.Filter) ([]appointment.Appointment, error)
}

type Service struct {
	repo   Repository
	appts  Appointments
	sink   notify.Sink
	logger *zap.Logger
}

func NewService(repo Repository, appts Appointments, sink notify.Sink, logger *zap.Logger) *Service {
	return &Service{repo: repo, appts: appts, sink: sink, logger: logger}
}

// Create attaches notes to a completed appointment. Only the assigned doctor
// may write them, and only once.
func (s *Service) Create(ctx context.Context, requester directory.Principal, appointmentID uuid.UUID, notes string) (*Record, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, fmt.Errorf("notes are required: %w", apperr.ErrValidation)
	}

	a, err := s.appts.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !requester.Is(a.DoctorID, directory.RoleDoctor) {
		return nil, fmt.Errorf("medical record for appointment %s: %w", appointmentID, apperr.ErrForbidden)
	}
	if a.Status != appointment.StatusCompleted {
		return nil, fmt.Errorf("appointment is %s: %w", a.Status, apperr.ErrInvalidTransition)
	}

	r := &Record{
		AppointmentID: a.ID,
		DoctorID:      a.DoctorID,
		PatientID:     a.PatientID,
		Notes:         notes,
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}

	s.logger.Info("medical record created",
		zap.String("record_id", r.ID.String()),
		zap.String("appointment_id", a.ID.String()),
	)
	s.sink.Enqueue(notify.NewIntent(notify.RKMedicalRecordCreated, notify.MedicalRecordCreated{
		RecordID:      r.ID,
		AppointmentID: r.AppointmentID,
		DoctorID:      r.DoctorID,
		PatientID:     r.PatientID,
	}))
	return r, nil
}

func (s *Service) GetByAppointment(ctx context.Context, requester directory.Principal, appointmentID uuid.UUID) (*Record, error) {
	r, err := s.repo.GetByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !requester.IsAdmin() &&
		!requester.Is(r.PatientID, directory.RolePatient) &&
		!requester.Is(r.DoctorID, directory.RoleDoctor) {
		return nil, fmt.Errorf("medical record %s: %w", r.ID, apperr.ErrForbidden)
	}
	return r, nil
}

// ListByPatient is open to the patient, admins and any doctor who has seen
// the patient.
func (s *Service) ListByPatient(ctx context.Context, requester directory.Principal, patientID uuid.UUID, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	allowed, err := s.mayRead(ctx, requester, patientID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("medical records of %s: %w", patientID, apperr.ErrForbidden)
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) mayRead(ctx context.Context, p directory.Principal, patientID uuid.UUID) (bool, error) {
	switch p.Role {
	case directory.RoleAdmin:
		return true, nil
	case directory.RolePatient:
		return p.ID == patientID, nil
	case directory.RoleDoctor:
		doctorID := p.ID
		seen, err := s.appts.List(ctx, appointment.Filter{DoctorID: &doctorID, PatientID: &patientID, Limit: 1})
		if err != nil {
			return false, fmt.Errorf("check treating doctor: %w", err)
		}
		return len(seen) > 0, nil
	default:
		return false, nil
	}
}
