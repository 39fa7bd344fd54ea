package appointment

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-scheduling/internal/apperr"
	"github.com/clinicdesk/clinic-scheduling/internal/availability"
)

// MaxProjectionDays caps how many calendar days one projection may span.
const MaxProjectionDays = 92

// DateRange is an inclusive range of calendar days. Only the dates of From
// and To matter; their clock is ignored.
type DateRange struct {
	From time.Time
	To   time.Time
}

// SlotView is one occurrence of an open window on a concrete date.
type SlotView struct {
	Window    availability.Window
	Date      time.Time
	Start     time.Time
	End       time.Time
	Available bool
}

type Projection struct {
	ledger Ledger
	loc    *time.Location
}

func NewProjection(ledger Ledger, loc *time.Location) *Projection {
	if loc == nil {
		loc = time.UTC
	}
	return &Projection{ledger: ledger, loc: loc}
}

func (p *Projection) Location() *time.Location {
	return p.loc
}

// Project reads the doctor's schedule once and returns a sequence over every
// open window occurrence in rng, ordered by start. The sequence can be
// iterated any number of times and always yields the same views.
func (p *Projection) Project(ctx context.Context, doctorID uuid.UUID, rng DateRange) (iter.Seq[SlotView], error) {
	first := midnight(rng.From, p.loc)
	last := midnight(rng.To, p.loc)
	if last.Before(first) {
		return nil, fmt.Errorf("date range %s..%s: %w", first.Format(time.DateOnly), last.Format(time.DateOnly), apperr.ErrInvalidRange)
	}
	stop := last.AddDate(0, 0, 1)
	if days := dayCount(first, stop); days > MaxProjectionDays {
		return nil, fmt.Errorf("date range of %d days exceeds %d: %w", days, MaxProjectionDays, apperr.ErrValidation)
	}

	snap, err := p.ledger.Snapshot(ctx, doctorID, first, stop)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	byDay := make(map[availability.Weekday][]availability.Window, 7)
	for _, w := range snap.Windows {
		if w.Active {
			byDay[w.Weekday] = append(byDay[w.Weekday], w)
		}
	}
	for _, ws := range byDay {
		sort.Slice(ws, func(i, j int) bool {
			if ws[i].Start != ws[j].Start {
				return ws[i].Start < ws[j].Start
			}
			return ws[i].ID.String() < ws[j].ID.String()
		})
	}
	appts := snap.Appointments

	return func(yield func(SlotView) bool) {
		for day := first; day.Before(stop); day = day.AddDate(0, 0, 1) {
			for _, w := range byDay[availability.WeekdayOf(day)] {
				start, end := w.Start.On(day), w.End.On(day)
				view := SlotView{
					Window:    w,
					Date:      day,
					Start:     start,
					End:       end,
					Available: firstOverlap(appts, doctorID, start, end) == nil,
				}
				if !yield(view) {
					return
				}
			}
		}
	}, nil
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func dayCount(from, to time.Time) int {
	n := 0
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		n++
	}
	return n
}
