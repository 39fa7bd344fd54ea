package medicalrecord

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/apperr"
	"github.com/clinicdesk/clinic-scheduling/internal/appointment"
	"github.com/clinicdesk/clinic-scheduling/internal/directory"
	"github.com/clinicdesk/clinic-scheduling/internal/notify"
)

type stubAppointments struct {
	byID map[uuid.UUID]*appointment.Appointment
}

func (s *stubAppointments) GetByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("appointment: %w", apperr.ErrNotFound)
	}
	return a, nil
}

func (s *stubAppointments) List(_ context.Context, f appointment.Filter) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	for _, a := range s.byID {
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

type countingSink struct {
	mu   sync.Mutex
	keys []string
}

func (c *countingSink) Enqueue(in notify.Intent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, in.Key)
}

type fixture struct {
	svc     *Service
	sink    *countingSink
	doctor  directory.Principal
	patient directory.Principal
	visit   *appointment.Appointment
}

func newFixture(status appointment.Status) *fixture {
	doctor := directory.Principal{ID: uuid.New(), Role: directory.RoleDoctor}
	patient := directory.Principal{ID: uuid.New(), Role: directory.RolePatient}
	visit := &appointment.Appointment{
		ID:        uuid.New(),
		DoctorID:  doctor.ID,
		PatientID: patient.ID,
		Start:     time.Date(2024, 6, 4, 10, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 6, 4, 11, 0, 0, 0, time.UTC),
		Status:    status,
	}
	sink := &countingSink{}
	appts := &stubAppointments{byID: map[uuid.UUID]*appointment.Appointment{visit.ID: visit}}

	return &fixture{
		svc:     NewService(NewMemoryRepository(), appts, sink, zap.NewNop()),
		sink:    sink,
		doctor:  doctor,
		patient: patient,
		visit:   visit,
	}
}

func TestCreateRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("assigned doctor after completion", func(t *testing.T) {
		f := newFixture(appointment.StatusCompleted)
		r, err := f.svc.Create(ctx, f.doctor, f.visit.ID, "  mild fever, rest advised ")
		require.NoError(t, err)
		assert.Equal(t, "mild fever, rest advised", r.Notes)
		assert.Equal(t, f.patient.ID, r.PatientID)
		assert.Equal(t, []string{notify.RKMedicalRecordCreated}, f.sink.keys)
	})

	t.Run("appointment not completed", func(t *testing.T) {
		f := newFixture(appointment.StatusScheduled)
		_, err := f.svc.Create(ctx, f.doctor, f.visit.ID, "notes")
		require.ErrorIs(t, err, apperr.ErrInvalidTransition)
	})

	t.Run("other doctor", func(t *testing.T) {
		f := newFixture(appointment.StatusCompleted)
		other := directory.Principal{ID: uuid.New(), Role: directory.RoleDoctor}
		_, err := f.svc.Create(ctx, other, f.visit.ID, "notes")
		require.ErrorIs(t, err, apperr.ErrForbidden)
	})

	t.Run("patient cannot write", func(t *testing.T) {
		f := newFixture(appointment.StatusCompleted)
		_, err := f.svc.Create(ctx, f.patient, f.visit.ID, "notes")
		require.ErrorIs(t, err, apperr.ErrForbidden)
	})

	t.Run("empty notes", func(t *testing.T) {
		f := newFixture(appointment.StatusCompleted)
		_, err := f.svc.Create(ctx, f.doctor, f.visit.ID, "   ")
		require.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("unknown appointment", func(t *testing.T) {
		f := newFixture(appointment.StatusCompleted)
		_, err := f.svc.Create(ctx, f.doctor, uuid.New(), "notes")
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("one record per appointment", func(t *testing.T) {
		f := newFixture(appointment.StatusCompleted)
		_, err := f.svc.Create(ctx, f.doctor, f.visit.ID, "first")
		require.NoError(t, err)
		_, err = f.svc.Create(ctx, f.doctor, f.visit.ID, "second")
		require.ErrorIs(t, err, apperr.ErrAlreadyExists)
	})
}

func TestListByPatient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(appointment.StatusCompleted)
	_, err := f.svc.Create(ctx, f.doctor, f.visit.ID, "notes")
	require.NoError(t, err)

	recs, err := f.svc.ListByPatient(ctx, f.patient, f.patient.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	recs, err = f.svc.ListByPatient(ctx, f.doctor, f.patient.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	stranger := directory.Principal{ID: uuid.New(), Role: directory.RoleDoctor}
	_, err = f.svc.ListByPatient(ctx, stranger, f.patient.ID, 10, 0)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	otherPatient := directory.Principal{ID: uuid.New(), Role: directory.RolePatient}
	_, err = f.svc.ListByPatient(ctx, otherPatient, f.patient.ID, 10, 0)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	admin := directory.Principal{ID: uuid.New(), Role: directory.RoleAdmin}
	r, err := f.svc.GetByAppointment(ctx, admin, f.visit.ID)
	require.NoError(t, err)
	assert.Equal(t, f.visit.ID, r.AppointmentID)
}
