package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-scheduling/internal/apperr"
	"github.com/clinicdesk/clinic-scheduling/internal/availability"
)

// MemoryLedger keeps appointments in process memory. Windows are read from
// the availability repository it is given.
type MemoryLedger struct {
	windows availability.Repository
	doctors *LocalLocker

	mu    sync.RWMutex
	appts map[uuid.UUID]Appointment
}

func NewMemoryLedger(windows availability.Repository) *MemoryLedger {
	return &MemoryLedger{
		windows: windows,
		doctors: NewLocalLocker(),
		appts:   make(map[uuid.UUID]Appointment),
	}
}

func (m *MemoryLedger) WithinDoctorTx(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	return m.doctors.WithDoctorLock(ctx, doctorID, func(ctx context.Context) error {
		tx := &memTx{ledger: m}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("commit booking: %w", apperr.ErrBusy)
		}
		return m.commit(tx.staged)
	})
}

// commit applies the same constraints the database enforces.
func (m *MemoryLedger) commit(staged []Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.snapshotLocked()
	for _, a := range staged {
		if a.Status == StatusScheduled && firstOverlap(all, a.DoctorID, a.Start, a.End) != nil {
			return fmt.Errorf("insert appointment: %w", apperr.ErrConflict)
		}
		if a.IdempotencyKey != nil {
			if _, ok := m.byKeyLocked(a.PatientID, *a.IdempotencyKey); ok {
				return fmt.Errorf("insert appointment: %w", apperr.ErrAlreadyExists)
			}
		}
		all = append(all, a)
	}
	for _, a := range staged {
		m.appts[a.ID] = a
	}
	return nil
}

func (m *MemoryLedger) snapshotLocked() []Appointment {
	out := make([]Appointment, 0, len(m.appts))
	for _, a := range m.appts {
		out = append(out, a)
	}
	return out
}

func (m *MemoryLedger) byKeyLocked(patientID uuid.UUID, key string) (Appointment, bool) {
	for _, a := range m.appts {
		if a.PatientID == patientID && a.IdempotencyKey != nil && *a.IdempotencyKey == key {
			return a, true
		}
	}
	return Appointment{}, false
}

type memTx struct {
	ledger *MemoryLedger
	staged []Appointment
}

func (t *memTx) WindowsOn(ctx context.Context, doctorID uuid.UUID, weekday availability.Weekday) ([]availability.Window, error) {
	return t.ledger.windows.ListByDoctorWeekday(ctx, doctorID, weekday)
}

func (t *memTx) FindOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*Appointment, error) {
	if a := firstOverlap(t.staged, doctorID, start, end); a != nil {
		return a, nil
	}
	return t.ledger.FindOverlap(ctx, doctorID, start, end)
}

func (t *memTx) FindByIdempotencyKey(ctx context.Context, patientID uuid.UUID, key string) (*Appointment, error) {
	for _, a := range t.staged {
		if a.PatientID == patientID && a.IdempotencyKey != nil && *a.IdempotencyKey == key {
			return &a, nil
		}
	}
	return t.ledger.FindByIdempotencyKey(ctx, patientID, key)
}

func (t *memTx) Insert(_ context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	t.staged = append(t.staged, *a)
	return nil
}

func (m *MemoryLedger) FindOverlap(_ context.Context, doctorID uuid.UUID, start, end time.Time) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return firstOverlap(m.snapshotLocked(), doctorID, start, end), nil
}

func (m *MemoryLedger) FindByIdempotencyKey(_ context.Context, patientID uuid.UUID, key string) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.byKeyLocked(patientID, key)
	if !ok {
		return nil, fmt.Errorf("appointment: %w", apperr.ErrNotFound)
	}
	return &a, nil
}

func (m *MemoryLedger) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.appts[id]
	if !ok {
		return nil, fmt.Errorf("appointment: %w", apperr.ErrNotFound)
	}
	return &a, nil
}

func (m *MemoryLedger) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appts[id]
	if !ok || a.Status != from {
		return nil, fmt.Errorf("appointment: %w", apperr.ErrNotFound)
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	m.appts[id] = a
	return &a, nil
}

func (m *MemoryLedger) List(_ context.Context, f Filter) ([]Appointment, error) {
	f.normalize()

	m.mu.RLock()
	var result []Appointment
	for _, a := range m.appts {
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.From != nil && !a.End.After(*f.From) {
			continue
		}
		if f.To != nil && !a.Start.Before(*f.To) {
			continue
		}
		result = append(result, a)
	}
	m.mu.RUnlock()

	sortByStart(result)
	if f.Offset >= len(result) {
		return nil, nil
	}
	result = result[f.Offset:]
	if len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (m *MemoryLedger) Snapshot(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	windows, err := m.windows.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	var appts []Appointment
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.Status == StatusScheduled && a.Overlaps(from, to) {
			appts = append(appts, a)
		}
	}
	sortByStart(appts)
	return &Snapshot{Windows: windows, Appointments: appts}, nil
}

func sortByStart(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if !appts[i].Start.Equal(appts[j].Start) {
			return appts[i].Start.Before(appts[j].Start)
		}
		return appts[i].ID.String() < appts[j].ID.String()
	})
}
