package appointment

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/apperr"
	"github.com/clinicdesk/clinic-scheduling/internal/availability"
	"github.com/clinicdesk/clinic-scheduling/internal/directory"
	"github.com/clinicdesk/clinic-scheduling/internal/notify"
)

type fakeUsers map[uuid.UUID]*directory.User

func (f fakeUsers) Resolve(_ context.Context, id uuid.UUID) (*directory.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("user: %w", apperr.ErrNotFound)
	}
	return u, nil
}

func (f fakeUsers) add(role directory.Role) directory.Principal {
	id := uuid.New()
	f[id] = &directory.User{ID: id, Role: role, Email: id.String() + "@clinic.test"}
	return directory.Principal{ID: id, Role: role}
}

type recordingSink struct {
	mu      sync.Mutex
	intents []notify.Intent
}

func (r *recordingSink) Enqueue(in notify.Intent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, in)
}

func (r *recordingSink) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.intents))
	for _, in := range r.intents {
		out = append(out, in.Key)
	}
	return out
}

type harness struct {
	svc     *Service
	ledger  *MemoryLedger
	windows *availability.MemoryRepository
	users   fakeUsers
	sink    *recordingSink
	admin   directory.Principal
	doctor  directory.Principal
	p1      directory.Principal
	p2      directory.Principal
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		windows: availability.NewMemoryRepository(),
		users:   fakeUsers{},
		sink:    &recordingSink{},
	}
	h.ledger = NewMemoryLedger(h.windows)
	h.admin = h.users.add(directory.RoleAdmin)
	h.doctor = h.users.add(directory.RoleDoctor)
	h.p1 = h.users.add(directory.RolePatient)
	h.p2 = h.users.add(directory.RolePatient)
	h.svc = NewService(h.ledger, NewLocalLocker(), h.users, h.sink, zap.NewNop(), opts...)
	return h
}

func (h *harness) addWindow(t *testing.T, doctorID uuid.UUID, day availability.Weekday, from, to string) availability.Window {
	t.Helper()

	start, err := availability.ParseTimeOfDay(from)
	require.NoError(t, err)
	end, err := availability.ParseTimeOfDay(to)
	require.NoError(t, err)

	w := &availability.Window{DoctorID: doctorID, Weekday: day, Start: start, End: end, Active: true}
	require.NoError(t, h.windows.Create(context.Background(), w))
	return *w
}

func (h *harness) book(patient directory.Principal, from, to string) (*Appointment, error) {
	return h.svc.Book(context.Background(), BookRequest{
		DoctorID:  h.doctor.ID,
		PatientID: patient.ID,
		Start:     at(from),
		End:       at(to),
	}, patient)
}

// at parses "2006-01-02T15:04", optionally with seconds and a fraction, in UTC.
func at(s string) time.Time {
	t, err := time.Parse("2006-01-02T15:04", s)
	if err == nil {
		return t
	}
	t, err = time.Parse("2006-01-02T15:04:05.999999999", s)
	if err != nil {
		panic(err)
	}
	return t
}
