package availability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-scheduling/internal/apperr"
)

// MemoryRepository keeps windows in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	windows map[uuid.UUID]Window
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{windows: make(map[uuid.UUID]Window)}
}

func (m *MemoryRepository) Create(_ context.Context, w *Window) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := time.Now()
	w.CreatedAt, w.UpdatedAt = now, now
	m.windows[w.ID] = *w
	return nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Window, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.windows[id]
	if !ok {
		return nil, fmt.Errorf("availability window: %w", apperr.ErrNotFound)
	}
	return &w, nil
}

func (m *MemoryRepository) SetActive(_ context.Context, id uuid.UUID, active bool) (*Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[id]
	if !ok {
		return nil, fmt.Errorf("availability window: %w", apperr.ErrNotFound)
	}
	w.Active = active
	w.UpdatedAt = time.Now()
	m.windows[id] = w
	return &w, nil
}

func (m *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.windows[id]; !ok {
		return fmt.Errorf("availability window: %w", apperr.ErrNotFound)
	}
	delete(m.windows, id)
	return nil
}

func (m *MemoryRepository) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]Window, error) {
	return m.filter(func(w Window) bool { return w.DoctorID == doctorID }), nil
}

func (m *MemoryRepository) ListByDoctorWeekday(_ context.Context, doctorID uuid.UUID, weekday Weekday) ([]Window, error) {
	return m.filter(func(w Window) bool { return w.DoctorID == doctorID && w.Weekday == weekday }), nil
}

func (m *MemoryRepository) filter(keep func(Window) bool) []Window {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Window
	for _, w := range m.windows {
		if keep(w) {
			result = append(result, w)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Weekday != result[j].Weekday {
			return result[i].Weekday < result[j].Weekday
		}
		if result[i].Start != result[j].Start {
			return result[i].Start < result[j].Start
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result
}
