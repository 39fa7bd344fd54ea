package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/apperr"
	"github.com/clinicdesk/clinic-scheduling/internal/availability"
	"github.com/clinicdesk/clinic-scheduling/internal/directory"
	"github.com/clinicdesk/clinic-scheduling/internal/notify"
)

const defaultBookTimeout = 5 * time.Second

type BookRequest struct {
	DoctorID       uuid.UUID
	PatientID      uuid.UUID
	Start          time.Time
	End            time.Time
	IdempotencyKey string
}

type Service struct {
	ledger      Ledger
	locker      Locker
	users       directory.Resolver
	sink        notify.Sink
	logger      *zap.Logger
	loc         *time.Location
	bookTimeout time.Duration
}

type Option func(*Service)

// WithLocation sets the clinic time zone used to derive weekday and
// time of day. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithBookTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.bookTimeout = d
		}
	}
}

func NewService(ledger Ledger, locker Locker, users directory.Resolver, sink notify.Sink, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		ledger:      ledger,
		locker:      locker,
		users:       users,
		sink:        sink,
		logger:      logger,
		loc:         time.UTC,
		bookTimeout: defaultBookTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Location() *time.Location {
	return s.loc
}

// Book reserves [req.Start, req.End) with a doctor. The availability check,
// the overlap check and the insert happen in one unit serialised per doctor.
func (s *Service) Book(ctx context.Context, req BookRequest, requester directory.Principal) (*Appointment, error) {
	if !req.Start.Before(req.End) {
		return nil, fmt.Errorf("appointment %s-%s: %w", req.Start.Format(time.RFC3339), req.End.Format(time.RFC3339), apperr.ErrInvalidRange)
	}
	if err := s.resolveRole(ctx, req.PatientID, directory.RolePatient); err != nil {
		return nil, err
	}
	if err := s.resolveRole(ctx, req.DoctorID, directory.RoleDoctor); err != nil {
		return nil, err
	}
	if !requester.IsAdmin() && !requester.Is(req.PatientID, directory.RolePatient) {
		return nil, fmt.Errorf("book for patient %s: %w", req.PatientID, apperr.ErrForbidden)
	}

	start, end := req.Start.In(s.loc), req.End.In(s.loc)
	if !sameDay(start, end) {
		return nil, fmt.Errorf("appointment crosses midnight: %w", apperr.ErrOutsideAvailability)
	}
	weekday := availability.WeekdayOf(start)
	from := availability.ClockOf(start)
	to, ok := availability.ClockCeil(end)
	if !ok {
		return nil, fmt.Errorf("appointment ends after the last second of the day: %w", apperr.ErrOutsideAvailability)
	}

	var key *string
	if req.IdempotencyKey != "" {
		k := req.IdempotencyKey
		key = &k
	}

	ctx, cancel := context.WithTimeout(ctx, s.bookTimeout)
	defer cancel()

	var (
		booked   *Appointment
		replayed bool
	)
	err := s.locker.WithDoctorLock(ctx, req.DoctorID, func(lockCtx context.Context) error {
		return s.ledger.WithinDoctorTx(lockCtx, req.DoctorID, func(txCtx context.Context, tx Tx) error {
			if key != nil {
				prior, err := tx.FindByIdempotencyKey(txCtx, req.PatientID, *key)
				switch {
				case err == nil:
					if !sameBooking(prior, req) {
						return fmt.Errorf("idempotency key %q reused for a different booking: %w", *key, apperr.ErrAlreadyExists)
					}
					booked, replayed = prior, true
					return nil
				case !errors.Is(err, apperr.ErrNotFound):
					return err
				}
			}

			windows, err := tx.WindowsOn(txCtx, req.DoctorID, weekday)
			if err != nil {
				return err
			}
			if !availability.AnyCovers(windows, weekday, from, to) {
				return fmt.Errorf("%s %s-%s: %w", weekday, from, to, apperr.ErrOutsideAvailability)
			}

			overlap, err := tx.FindOverlap(txCtx, req.DoctorID, req.Start.UTC(), req.End.UTC())
			if err != nil {
				return err
			}
			if overlap != nil {
				return fmt.Errorf("overlaps appointment %s: %w", overlap.ID, apperr.ErrConflict)
			}

			a := &Appointment{
				DoctorID:       req.DoctorID,
				PatientID:      req.PatientID,
				Start:          req.Start.UTC(),
				End:            req.End.UTC(),
				Status:         StatusScheduled,
				IdempotencyKey: key,
			}
			if err := tx.Insert(txCtx, a); err != nil {
				return err
			}
			booked = a
			return nil
		})
	})
	if err != nil && key != nil && errors.Is(err, apperr.ErrAlreadyExists) {
		// A concurrent request with the same key won the insert.
		if prior, lookupErr := s.ledger.FindByIdempotencyKey(context.WithoutCancel(ctx), req.PatientID, *key); lookupErr == nil && sameBooking(prior, req) {
			booked, replayed, err = prior, true, nil
		}
	}
	if err != nil {
		return nil, s.bookFailure(ctx, err, req)
	}

	if replayed {
		s.logger.Info("booking replayed",
			zap.String("appointment_id", booked.ID.String()),
			zap.String("idempotency_key", *key),
		)
		return booked, nil
	}

	s.logger.Info("appointment booked",
		zap.String("appointment_id", booked.ID.String()),
		zap.String("doctor_id", booked.DoctorID.String()),
		zap.String("patient_id", booked.PatientID.String()),
		zap.Time("start", booked.Start),
		zap.Time("end", booked.End),
	)
	s.sink.Enqueue(notify.NewIntent(notify.RKAppointmentBooked, notify.AppointmentBooked{
		AppointmentID: booked.ID,
		DoctorID:      booked.DoctorID,
		PatientID:     booked.PatientID,
		Start:         booked.Start,
		End:           booked.End,
	}))
	return booked, nil
}

// bookFailure keeps domain errors as they are and turns everything caused by
// the deadline into ErrBusy.
func (s *Service) bookFailure(ctx context.Context, err error, req BookRequest) error {
	switch {
	case errors.Is(err, apperr.ErrConflict),
		errors.Is(err, apperr.ErrOutsideAvailability),
		errors.Is(err, apperr.ErrAlreadyExists):
		return err
	case errors.Is(err, apperr.ErrBusy), ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("booking timed out",
			zap.String("doctor_id", req.DoctorID.String()),
			zap.Error(err),
		)
		if errors.Is(err, apperr.ErrBusy) {
			return err
		}
		return fmt.Errorf("book appointment: %v: %w", err, apperr.ErrBusy)
	default:
		s.logger.Error("booking failed", zap.String("doctor_id", req.DoctorID.String()), zap.Error(err))
		return fmt.Errorf("book appointment: %w", err)
	}
}

func (s *Service) resolveRole(ctx context.Context, id uuid.UUID, role directory.Role) error {
	u, err := s.users.Resolve(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return fmt.Errorf("%s %s: %w", role, id, apperr.ErrNotFound)
		}
		return fmt.Errorf("resolve %s: %w", role, err)
	}
	if u.Role != role {
		return fmt.Errorf("%s %s: %w", role, id, apperr.ErrNotFound)
	}
	return nil
}

func sameDay(start, end time.Time) bool {
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	return sy == ey && sm == em && sd == ed
}

func sameBooking(a *Appointment, req BookRequest) bool {
	return a.DoctorID == req.DoctorID && a.Start.Equal(req.Start) && a.End.Equal(req.End)
}

// SetStatus moves an appointment along the state machine. Permission is
// checked before the transition.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, to Status, requester directory.Principal) (*Appointment, error) {
	a, err := s.ledger.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !mayChange(requester, a, to) {
		return nil, fmt.Errorf("set %s on appointment %s: %w", to, id, apperr.ErrForbidden)
	}
	if !a.Status.CanTransition(to) {
		return nil, fmt.Errorf("%s -> %s: %w", a.Status, to, apperr.ErrInvalidTransition)
	}

	updated, err := s.ledger.UpdateStatus(ctx, id, a.Status, to)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			// Lost a race with another transition.
			return nil, fmt.Errorf("%s -> %s: %w", a.Status, to, apperr.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.logger.Info("appointment status changed",
		zap.String("appointment_id", id.String()),
		zap.String("from", string(a.Status)),
		zap.String("to", string(to)),
		zap.String("by", requester.ID.String()),
	)

	key := notify.RKAppointmentCancelled
	if to == StatusCompleted {
		key = notify.RKAppointmentCompleted
	}
	s.sink.Enqueue(notify.NewIntent(key, notify.AppointmentStatusChanged{
		AppointmentID: updated.ID,
		DoctorID:      updated.DoctorID,
		PatientID:     updated.PatientID,
		Status:        string(to),
		ChangedBy:     requester.ID,
	}))
	return updated, nil
}

func mayChange(p directory.Principal, a *Appointment, to Status) bool {
	if p.IsAdmin() || p.Is(a.DoctorID, directory.RoleDoctor) {
		return true
	}
	return to == StatusCancelled && p.Is(a.PatientID, directory.RolePatient)
}

func mayView(p directory.Principal, a *Appointment) bool {
	return p.IsAdmin() ||
		p.Is(a.DoctorID, directory.RoleDoctor) ||
		p.Is(a.PatientID, directory.RolePatient)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID, requester directory.Principal) (*Appointment, error) {
	a, err := s.ledger.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !mayView(requester, a) {
		return nil, fmt.Errorf("appointment %s: %w", id, apperr.ErrForbidden)
	}
	return a, nil
}

// List returns appointments visible to the requester. Patients and doctors
// are always scoped to themselves.
func (s *Service) List(ctx context.Context, f Filter, requester directory.Principal) ([]Appointment, error) {
	switch requester.Role {
	case directory.RoleAdmin:
	case directory.RoleDoctor:
		if f.DoctorID != nil && *f.DoctorID != requester.ID {
			return nil, fmt.Errorf("list appointments of doctor %s: %w", *f.DoctorID, apperr.ErrForbidden)
		}
		id := requester.ID
		f.DoctorID = &id
	case directory.RolePatient:
		if f.PatientID != nil && *f.PatientID != requester.ID {
			return nil, fmt.Errorf("list appointments of patient %s: %w", *f.PatientID, apperr.ErrForbidden)
		}
		id := requester.ID
		f.PatientID = &id
	default:
		return nil, fmt.Errorf("list appointments: %w", apperr.ErrForbidden)
	}
	return s.ledger.List(ctx, f)
}
