package availability

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/apperr"
	"github.com/clinicdesk/clinic-scheduling/internal/directory"
)

// Registry holds doctors' recurring weekly windows and answers containment
// queries. Overlapping windows for one doctor are allowed.
type Registry struct {
	repo   Repository
	users  directory.Resolver
	logger *zap.Logger
}

func NewRegistry(repo Repository, users directory.Resolver, logger *zap.Logger) *Registry {
	return &Registry{repo: repo, users: users, logger: logger}
}

// AddWindow publishes a new open window for doctorID. The requester must be
// that doctor or an admin.
func (r *Registry) AddWindow(ctx context.Context, requester directory.Principal, doctorID uuid.UUID, weekday Weekday, start, end TimeOfDay) (*Window, error) {
	if !weekday.Valid() {
		return nil, fmt.Errorf("weekday %d: %w", int(weekday), apperr.ErrValidation)
	}
	if start >= end {
		return nil, fmt.Errorf("window %s-%s: %w", start, end, apperr.ErrInvalidRange)
	}

	doctor, err := r.users.Resolve(ctx, doctorID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("doctor %s: %w", doctorID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("resolve doctor: %w", err)
	}
	if doctor.Role != directory.RoleDoctor {
		return nil, fmt.Errorf("doctor %s: %w", doctorID, apperr.ErrNotFound)
	}
	if !requester.IsAdmin() && !requester.Is(doctorID, directory.RoleDoctor) {
		return nil, fmt.Errorf("add window for %s: %w", doctorID, apperr.ErrForbidden)
	}

	w := &Window{
		DoctorID: doctorID,
		Weekday:  weekday,
		Start:    start,
		End:      end,
		Active:   true,
	}
	if err := r.repo.Create(ctx, w); err != nil {
		return nil, err
	}

	r.logger.Info("availability window added",
		zap.String("window_id", w.ID.String()),
		zap.String("doctor_id", doctorID.String()),
		zap.Stringer("weekday", weekday),
		zap.Stringer("start", start),
		zap.Stringer("end", end),
	)
	return w, nil
}

// RemoveWindow deletes a window owned by requesterID. Booked appointments in
// that time are left untouched.
func (r *Registry) RemoveWindow(ctx context.Context, windowID, requesterID uuid.UUID) error {
	if _, err := r.owned(ctx, windowID, requesterID); err != nil {
		return err
	}
	if err := r.repo.Delete(ctx, windowID); err != nil {
		return err
	}
	r.logger.Info("availability window removed", zap.String("window_id", windowID.String()))
	return nil
}

// SetActive opens or closes a window owned by requesterID.
func (r *Registry) SetActive(ctx context.Context, windowID, requesterID uuid.UUID, active bool) (*Window, error) {
	w, err := r.owned(ctx, windowID, requesterID)
	if err != nil {
		return nil, err
	}
	if w.Active == active {
		return w, nil
	}
	return r.repo.SetActive(ctx, windowID, active)
}

func (r *Registry) owned(ctx context.Context, windowID, requesterID uuid.UUID) (*Window, error) {
	w, err := r.repo.GetByID(ctx, windowID)
	if err != nil {
		return nil, err
	}
	if w.DoctorID != requesterID {
		return nil, fmt.Errorf("window %s: %w", windowID, apperr.ErrForbidden)
	}
	return w, nil
}

// Contains reports whether some open window of the doctor on weekday covers
// [start, end).
func (r *Registry) Contains(ctx context.Context, doctorID uuid.UUID, weekday Weekday, start, end TimeOfDay) (bool, error) {
	windows, err := r.repo.ListByDoctorWeekday(ctx, doctorID, weekday)
	if err != nil {
		return false, err
	}
	return AnyCovers(windows, weekday, start, end), nil
}

func (r *Registry) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Window, error) {
	return r.repo.ListByDoctor(ctx, doctorID)
}
