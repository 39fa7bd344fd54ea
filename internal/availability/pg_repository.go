package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic-scheduling/internal/apperr"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx, so window reads can run
// inside a booking transaction.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const windowColumns = `id, doctor_id, weekday, start_time, end_time, active, created_at, updated_at`

func toPgTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: t.Duration().Microseconds(), Valid: true}
}

func fromPgTime(t pgtype.Time) TimeOfDay {
	return TimeOfDay(time.Duration(t.Microseconds) * time.Microsecond)
}

func scanWindow(row pgx.Row) (*Window, error) {
	var (
		w          Window
		start, end pgtype.Time
	)
	err := row.Scan(
		&w.ID,
		&w.DoctorID,
		&w.Weekday,
		&start,
		&end,
		&w.Active,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("availability window: %w", apperr.ErrNotFound)
		}
		return nil, err
	}
	w.Start = fromPgTime(start)
	w.End = fromPgTime(end)
	return &w, nil
}

func collectWindows(rows pgx.Rows) ([]Window, error) {
	defer rows.Close()

	var result []Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListOn returns the windows of a doctor on a weekday using q.
func ListOn(ctx context.Context, q Querier, doctorID uuid.UUID, weekday Weekday) ([]Window, error) {
	rows, err := q.Query(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE doctor_id = $1 AND weekday = $2
		ORDER BY start_time
	`, doctorID, int(weekday))
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	return collectWindows(rows)
}

// ListAll returns every window of a doctor, open or closed, using q.
func ListAll(ctx context.Context, q Querier, doctorID uuid.UUID) ([]Window, error) {
	rows, err := q.Query(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE doctor_id = $1
		ORDER BY weekday, start_time
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	return collectWindows(rows)
}

func (r *PgRepository) Create(ctx context.Context, w *Window) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO availability_windows (id, doctor_id, weekday, start_time, end_time, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING created_at, updated_at
	`, w.ID, w.DoctorID, int(w.Weekday), toPgTime(w.Start), toPgTime(w.End), w.Active)

	if err := row.Scan(&w.CreatedAt, &w.UpdatedAt); err != nil {
		return fmt.Errorf("insert window: %w", err)
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Window, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+windowColumns+` FROM availability_windows WHERE id = $1`, id)
	return scanWindow(row)
}

func (r *PgRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) (*Window, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE availability_windows
		SET active = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+windowColumns, id, active)
	return scanWindow(row)
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM availability_windows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete window: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("availability window: %w", apperr.ErrNotFound)
	}
	return nil
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Window, error) {
	return ListAll(ctx, r.pool, doctorID)
}

func (r *PgRepository) ListByDoctorWeekday(ctx context.Context, doctorID uuid.UUID, weekday Weekday) ([]Window, error) {
	return ListOn(ctx, r.pool, doctorID, weekday)
}
