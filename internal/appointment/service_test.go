package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinic-scheduling/internal/apperr"
	"github.com/clinicdesk/clinic-scheduling/internal/availability"
	"github.com/clinicdesk/clinic-scheduling/internal/directory"
	"github.com/clinicdesk/clinic-scheduling/internal/notify"
)

func TestBookScenarios(t *testing.T) {
	t.Run("overlapping booking conflicts", func(t *testing.T) {
		h := newHarness(t)
		h.addWindow(t, h.doctor.ID, availability.Tuesday, "09:00", "17:00")

		a, err := h.book(h.p1, "2024-06-04T10:00", "2024-06-04T11:00")
		require.NoError(t, err)
		assert.Equal(t, StatusScheduled, a.Status)

		_, err = h.book(h.p2, "2024-06-04T10:30", "2024-06-04T11:30")
		require.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("past window end is outside availability", func(t *testing.T) {
		h := newHarness(t)
		h.addWindow(t, h.doctor.ID, availability.Tuesday, "09:00", "17:00")

		_, err := h.book(h.p1, "2024-06-04T16:30", "2024-06-04T17:30")
		require.ErrorIs(t, err, apperr.ErrOutsideAvailability)
	})

	t.Run("fraction of a second past window end is outside availability", func(t *testing.T) {
		h := newHarness(t)
		h.addWindow(t, h.doctor.ID, availability.Tuesday, "09:00", "17:00")

		_, err := h.book(h.p1, "2024-06-04T16:00", "2024-06-04T17:00:00.9")
		require.ErrorIs(t, err, apperr.ErrOutsideAvailability)

		a, err := h.book(h.p1, "2024-06-04T16:00", "2024-06-04T16:59:59.5")
		require.NoError(t, err)
		assert.True(t, a.End.Equal(at("2024-06-04T16:59:59.5")))
	})

	t.Run("ending at the last fraction of the day is outside availability", func(t *testing.T) {
		h := newHarness(t)
		h.addWindow(t, h.doctor.ID, availability.Tuesday, "22:00", "23:59:59")

		_, err := h.book(h.p1, "2024-06-04T23:00", "2024-06-04T23:59:59.5")
		require.ErrorIs(t, err, apperr.ErrOutsideAvailability)

		_, err = h.book(h.p1, "2024-06-04T23:00", "2024-06-05T00:00")
		require.ErrorIs(t, err, apperr.ErrOutsideAvailability)

		_, err = h.book(h.p1, "2024-06-04T23:00", "2024-06-04T23:59:59")
		require.NoError(t, err)
	})

	t.Run("adjacent bookings both succeed", func(t *testing.T) {
		h := newHarness(t)
		h.addWindow(t, h.doctor.ID, availability.Tuesday, "09:00", "17:00")

		_, err := h.book(h.p1, "2024-06-04T10:00", "2024-06-04T11:00")
		require.NoError(t, err)
		_, err = h.book(h.p2, "2024-06-04T11:00", "2024-06-04T12:00")
		require.NoError(t, err)
	})

	t.Run("cancelled appointment frees the interval", func(t *testing.T) {
		h := newHarness(t)
		h.addWindow(t, h.doctor.ID, availability.Tuesday, "09:00", "17:00")

		a, err := h.book(h.p1, "2024-06-04T10:00", "2024-06-04T11:00")
		require.NoError(t, err)

		_, err = h.svc.SetStatus(context.Background(), a.ID, StatusCancelled, h.p1)
		require.NoError(t, err)

		b, err := h.book(h.p2, "2024-06-04T10:00", "2024-06-04T11:00")
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})
}

func TestBookValidation(t *testing.T) {
	h := newHarness(t)
	h.addWindow(t, h.doctor.ID, availability.Tuesday, "09:00", "17:00")
	ctx := context.Background()

	cases := []struct {
		name      string
		req       BookRequest
		requester directory.Principal
		want      error
	}{
		{
			name:      "empty interval",
			req:       BookRequest{DoctorID: h.doctor.ID, PatientID: h.p1.ID, Start: at("2024-06-04T10:00"), End: at("2024-06-04T10:00")},
			requester: h.p1,
			want:      apperr.ErrInvalidRange,
		},
		{
			name:      "reversed interval",
			req:       BookRequest{DoctorID: h.doctor.ID, PatientID: h.p1.ID, Start: at("2024-06-04T11:00"), End: at("2024-06-04T10:00")},
			requester: h.p1,
			want:      apperr.ErrInvalidRange,
		},
		{
			name:      "unknown doctor",
			req:       BookRequest{DoctorID: uuid.New(), PatientID: h.p1.ID, Start: at("2024-06-04T10:00"), End: at("2024-06-04T11:00")},
			requester: h.p1,
			want:      apperr.ErrNotFound,
		},
		{
			name:      "patient id of a doctor",
			req:       BookRequest{DoctorID: h.doctor.ID, PatientID: h.doctor.ID, Start: at("2024-06-04T10:00"), End: at("2024-06-04T11:00")},
			requester: h.admin,
			want:      apperr.ErrNotFound,
		},
		{
			name:      "doctor id of a patient",
			req:       BookRequest{DoctorID: h.p2.ID, PatientID: h.p1.ID, Start: at("2024-06-04T10:00"), End: at("2024-06-04T11:00")},
			requester: h.p1,
			want:      apperr.ErrNotFound,
		},
		{
			name:      "booking for someone else",
			req:       BookRequest{DoctorID: h.doctor.ID, PatientID: h.p1.ID, Start: at("2024-06-04T10:00"), End: at("2024-06-04T11:00")},
			requester: h.p2,
			want:      apperr.ErrForbidden,
		},
		{
			name:      "wrong weekday",
			req:       BookRequest{DoctorID: h.doctor.ID, PatientID: h.p1.ID, Start: at("2024-06-05T10:00"), End: at("2024-06-05T11:00")},
			requester: h.p1,
			want:      apperr.ErrOutsideAvailability,
		},
		{
			name:      "before window start",
			req:       BookRequest{DoctorID: h.doctor.ID, PatientID: h.p1.ID, Start: at("2024-06-04T08:30"), End: at("2024-06-04T09:30")},
			requester: h.p1,
			want:      apperr.ErrOutsideAvailability,
		},
		{
			name:      "crosses midnight",
			req:       BookRequest{DoctorID: h.doctor.ID, PatientID: h.p1.ID, Start: at("2024-06-04T16:00"), End: at("2024-06-05T10:00")},
			requester: h.p1,
			want:      apperr.ErrOutsideAvailability,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Book(ctx, tc.req, tc.requester)
			require.ErrorIs(t, err, tc.want)
		})
	}

	assert.Empty(t, h.sink.intents, "failed bookings must not notify")
}

func TestBookAdminOnBehalfOfPatient(t *testing.T) {
	h := newHarness(t)
	h.addWindow(t, h.doctor.ID, availability.Tuesday, "09:00", "17:00")

	a, err := h.svc.Book(context.Background(), BookRequest{
		DoctorID:  h.doctor.ID,
		PatientID: h.p1.ID,
		Start:     at("2024-06-04T09:00"),
		End:       at("2024-06-04T17:00"),
	}, h.admin)
	require.NoError(t, err)
	assert.Equal(t, h.p1.ID, a.PatientID)
	assert.Equal(t, []string{notify.RKAppointmentBooked}, h.sink.keys())
}

func TestBookClosedWindow(t *testing.T) {
	h := newHarness(t)
	w := h.addWindow(t, h.doctor.ID, availability.Tuesday, "09:00", "17:00")
	_, err := h.windows.SetActive(context.Background(), w.ID, false)
	require.NoError(t, err)

	_, err = h.book(h.p1, "2024-06-04T10:00", "2024-06-04T11:00")
	require.ErrorIs(t, err, apperr.ErrOutsideAvailability)
}

func TestBookInClinicTimezone(t *testing.T) {
	loc := time.FixedZone("WIB", 7*60*60)

	h := newHarness(t, WithLocation(loc))
	h.addWindow(t, h.doctor.ID, availability.Tuesday, "09:00", "17:00")

	// 03:00 UTC is 10:00 in WIB.
	_, err := h.book(h.p1, "2024-06-04T03:00", "2024-06-04T04:00")
	require.NoError(t, err)

	// 10:00 UTC is 17:00 in WIB, past the window.
	_, err = h.book(h.p1, "2024-06-04T10:00", "2024-06-04T11:00")
	require.ErrorIs(t, err, apperr.ErrOutsideAvailability)
}

func TestBookIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	h.addWindow(t, h.doctor.ID, availability.Tuesday, "09:00", "17:00")
	ctx := context.Background()

	req := BookRequest{
		DoctorID:       h.doctor.ID,
		PatientID:      h.p1.ID,
		Start:          at("2024-06-04T10:00"),
		End:            at("2024-06-04T11:00"),
		IdempotencyKey: "retry-1",
	}

	first, err := h.svc.Book(ctx, req, h.p1)
	require.NoError(t, err)
	second, err := h.svc.Book(ctx, req, h.p1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, h.sink.intents, 1)

	req.Start, req.End = at("2024-06-04T12:00"), at("2024-06-04T13:00")
	_, err = h.svc.Book(ctx, req, h.p1)
	require.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

func TestBookConcurrentSameInterval(t *testing.T) {
	h := newHarness(t)
	h.addWindow(t, h.doctor.ID, availability.Tuesday, "09:00", "17:00")

	const workers = 32
	patients := make([]directory.Principal, workers)
	for i := range patients {
		patients[i] = h.users.add(directory.RolePatient)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for _, p := range patients {
		wg.Add(1)
		go func(p directory.Principal) {
			defer wg.Done()
			<-start
			_, err := h.book(p, "2024-06-04T10:00", "2024-06-04T11:00")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, apperr.ErrConflict):
				conflicts++
			}
		}(p)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)

	all, err := h.ledger.List(context.Background(), Filter{DoctorID: &h.doctor.ID, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBookConcurrentNeverOverlaps(t *testing.T) {
	h := newHarness(t)
	h.addWindow(t, h.doctor.ID, availability.Tuesday, "09:00", "17:00")

	patients := make([]directory.Principal, 64)
	for i := range patients {
		patients[i] = h.users.add(directory.RolePatient)
	}

	var wg sync.WaitGroup
	base := at("2024-06-04T09:00")
	for i, p := range patients {
		offset := time.Duration(i%16) * 15 * time.Minute
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := base.Add(offset)
			_, _ = h.svc.Book(context.Background(), BookRequest{
				DoctorID:  h.doctor.ID,
				PatientID: p.ID,
				Start:     start,
				End:       start.Add(45 * time.Minute),
			}, p)
		}()
	}
	wg.Wait()

	status := StatusScheduled
	booked, err := h.ledger.List(context.Background(), Filter{DoctorID: &h.doctor.ID, Status: &status, Limit: 100})
	require.NoError(t, err)
	require.NotEmpty(t, booked)
	for i := range booked {
		for j := i + 1; j < len(booked); j++ {
			assert.False(t, booked[i].Overlaps(booked[j].Start, booked[j].End),
				"%s overlaps %s", booked[i].ID, booked[j].ID)
		}
	}
}

func TestBookDifferentDoctorsDoNotBlock(t *testing.T) {
	h := newHarness(t)
	other := h.users.add(directory.RoleDoctor)
	h.addWindow(t, h.doctor.ID, availability.Tuesday, "09:00", "17:00")
	h.addWindow(t, other.ID, availability.Tuesday, "09:00", "17:00")

	locker := NewLocalLocker()
	svc := NewService(h.ledger, locker, h.users, h.sink, h.svc.logger)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locker.WithDoctorLock(context.Background(), h.doctor.ID, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := svc.Book(ctx, BookRequest{
		DoctorID:  other.ID,
		PatientID: h.p1.ID,
		Start:     at("2024-06-04T10:00"),
		End:       at("2024-06-04T11:00"),
	}, h.p1)
	require.NoError(t, err)
}

func TestBookBusyWhenLockHeld(t *testing.T) {
	h := newHarness(t)
	h.addWindow(t, h.doctor.ID, availability.Tuesday, "09:00", "17:00")

	locker := NewLocalLocker()
	svc := NewService(h.ledger, locker, h.users, h.sink, h.svc.logger, WithBookTimeout(50*time.Millisecond))

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locker.WithDoctorLock(context.Background(), h.doctor.ID, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	_, err := svc.Book(context.Background(), BookRequest{
		DoctorID:  h.doctor.ID,
		PatientID: h.p1.ID,
		Start:     at("2024-06-04T10:00"),
		End:       at("2024-06-04T11:00"),
	}, h.p1)
	require.ErrorIs(t, err, apperr.ErrBusy)
	assert.True(t, apperr.Transient(err))
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*harness, *Appointment) {
		h := newHarness(t)
		h.addWindow(t, h.doctor.ID, availability.Tuesday, "09:00", "17:00")
		a, err := h.book(h.p1, "2024-06-04T10:00", "2024-06-04T11:00")
		require.NoError(t, err)
		return h, a
	}

	t.Run("doctor completes", func(t *testing.T) {
		h, a := setup(t)
		got, err := h.svc.SetStatus(ctx, a.ID, StatusCompleted, h.doctor)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, []string{notify.RKAppointmentBooked, notify.RKAppointmentCompleted}, h.sink.keys())
	})

	t.Run("patient cannot complete", func(t *testing.T) {
		h, a := setup(t)
		_, err := h.svc.SetStatus(ctx, a.ID, StatusCompleted, h.p1)
		require.ErrorIs(t, err, apperr.ErrForbidden)
	})

	t.Run("other patient cannot cancel", func(t *testing.T) {
		h, a := setup(t)
		_, err := h.svc.SetStatus(ctx, a.ID, StatusCancelled, h.p2)
		require.ErrorIs(t, err, apperr.ErrForbidden)
	})

	t.Run("other doctor cannot cancel", func(t *testing.T) {
		h, a := setup(t)
		other := h.users.add(directory.RoleDoctor)
		_, err := h.svc.SetStatus(ctx, a.ID, StatusCancelled, other)
		require.ErrorIs(t, err, apperr.ErrForbidden)
	})

	t.Run("admin cancels", func(t *testing.T) {
		h, a := setup(t)
		got, err := h.svc.SetStatus(ctx, a.ID, StatusCancelled, h.admin)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
	})

	t.Run("scheduled to scheduled is invalid", func(t *testing.T) {
		h, a := setup(t)
		_, err := h.svc.SetStatus(ctx, a.ID, StatusScheduled, h.admin)
		require.ErrorIs(t, err, apperr.ErrInvalidTransition)
	})

	t.Run("missing appointment", func(t *testing.T) {
		h, _ := setup(t)
		_, err := h.svc.SetStatus(ctx, uuid.New(), StatusCancelled, h.admin)
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("terminal states are closed", func(t *testing.T) {
		for _, terminal := range []Status{StatusCompleted, StatusCancelled} {
			h, a := setup(t)
			_, err := h.svc.SetStatus(ctx, a.ID, terminal, h.admin)
			require.NoError(t, err)

			for _, requester := range []directory.Principal{h.admin, h.doctor, h.p1} {
				for _, to := range []Status{StatusScheduled, StatusCompleted, StatusCancelled} {
					_, err := h.svc.SetStatus(ctx, a.ID, to, requester)
					require.Error(t, err, "%s -> %s by %s", terminal, to, requester.Role)
				}
			}

			got, err := h.ledger.GetByID(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, terminal, got.Status)
		}
	})

	t.Run("concurrent transitions have one winner", func(t *testing.T) {
		h, a := setup(t)

		var wg sync.WaitGroup
		errs := make(chan error, 2)
		for _, to := range []Status{StatusCompleted, StatusCancelled} {
			wg.Add(1)
			go func(to Status) {
				defer wg.Done()
				_, err := h.svc.SetStatus(ctx, a.ID, to, h.doctor)
				errs <- err
			}(to)
		}
		wg.Wait()
		close(errs)

		var ok, invalid int
		for err := range errs {
			if err == nil {
				ok++
			} else if assert.ErrorIs(t, err, apperr.ErrInvalidTransition) {
				invalid++
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, invalid)
	})
}

func TestGetAndList(t *testing.T) {
	h := newHarness(t)
	h.addWindow(t, h.doctor.ID, availability.Tuesday, "09:00", "17:00")
	ctx := context.Background()

	a1, err := h.book(h.p1, "2024-06-04T10:00", "2024-06-04T11:00")
	require.NoError(t, err)
	_, err = h.book(h.p2, "2024-06-04T11:00", "2024-06-04T12:00")
	require.NoError(t, err)

	_, err = h.svc.Get(ctx, a1.ID, h.p1)
	require.NoError(t, err)
	_, err = h.svc.Get(ctx, a1.ID, h.doctor)
	require.NoError(t, err)
	_, err = h.svc.Get(ctx, a1.ID, h.p2)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	mine, err := h.svc.List(ctx, Filter{}, h.p1)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, a1.ID, mine[0].ID)

	_, err = h.svc.List(ctx, Filter{PatientID: &h.p2.ID}, h.p1)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	schedule, err := h.svc.List(ctx, Filter{}, h.doctor)
	require.NoError(t, err)
	require.Len(t, schedule, 2)
	assert.True(t, schedule[0].Start.Before(schedule[1].Start))

	page, err := h.svc.List(ctx, Filter{Limit: 1, Offset: 1}, h.admin)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, at("2024-06-04T11:00"), page[0].Start)
}
