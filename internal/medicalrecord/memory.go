package medicalrecord

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-scheduling/internal/apperr"
)

type MemoryRepository struct {
	mu            sync.RWMutex
	records       map[uuid.UUID]Record
	byAppointment map[uuid.UUID]uuid.UUID
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records:       make(map[uuid.UUID]Record),
		byAppointment: make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *MemoryRepository) Create(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byAppointment[r.AppointmentID]; ok {
		return fmt.Errorf("medical record for appointment %s: %w", r.AppointmentID, apperr.ErrAlreadyExists)
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = time.Now()
	m.records[r.ID] = *r
	m.byAppointment[r.AppointmentID] = r.ID
	return nil
}

func (m *MemoryRepository) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byAppointment[appointmentID]
	if !ok {
		return nil, fmt.Errorf("medical record: %w", apperr.ErrNotFound)
	}
	r := m.records[id]
	return &r, nil
}

func (m *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Record, error) {
	m.mu.RLock()
	var result []Record
	for _, r := range m.records {
		if r.PatientID == patientID {
			result = append(result, r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
