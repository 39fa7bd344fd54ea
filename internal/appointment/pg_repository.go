package appointment

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic-scheduling/internal/apperr"
	"github.com/clinicdesk/clinic-scheduling/internal/availability"
	"github.com/clinicdesk/clinic-scheduling/internal/db"
)

type PgRepository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPgRepository returns a Postgres ledger. lockTimeout bounds how long a
// booking transaction waits on row or advisory locks.
func NewPgRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *PgRepository {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &PgRepository{pool: pool, lockTimeout: lockTimeout}
}

const appointmentColumns = `id, doctor_id, patient_id, scheduled_start, scheduled_end, status, idempotency_key, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var key *string

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.Start,
		&a.End,
		&a.Status,
		&key,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("appointment: %w", apperr.ErrNotFound)
		}
		return nil, err
	}

	a.IdempotencyKey = key
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// translate maps driver failures onto domain errors.
func translate(op string, err error) error {
	switch {
	case db.IsExclusionViolation(err):
		return fmt.Errorf("%s: %w", op, apperr.ErrConflict)
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, apperr.ErrAlreadyExists)
	case db.IsContention(err), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, apperr.ErrBusy)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// advisoryKey folds a doctor id into the bigint key space of
// pg_advisory_xact_lock. Collisions only serialise unrelated doctors.
func advisoryKey(doctorID uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(doctorID[:8]))
}

func (r *PgRepository) WithinDoctorTx(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return translate("begin booking tx", err)
	}
	defer tx.Rollback(context.Background())

	if _, err := tx.Exec(ctx, fmt.Sprintf(`SET LOCAL lock_timeout = %d`, r.lockTimeout.Milliseconds())); err != nil {
		return translate("set lock timeout", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(doctorID)); err != nil {
		return translate("lock doctor", err)
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return translate("commit booking tx", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) WindowsOn(ctx context.Context, doctorID uuid.UUID, weekday availability.Weekday) ([]availability.Window, error) {
	return availability.ListOn(ctx, t.tx, doctorID, weekday)
}

func (t *pgTx) FindOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*Appointment, error) {
	return findOverlap(ctx, t.tx, doctorID, start, end)
}

func (t *pgTx) FindByIdempotencyKey(ctx context.Context, patientID uuid.UUID, key string) (*Appointment, error) {
	return findByIdempotencyKey(ctx, t.tx, patientID, key)
}

func (t *pgTx) Insert(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, scheduled_start, scheduled_end, status, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.DoctorID, a.PatientID, a.Start, a.End, a.Status, a.IdempotencyKey)

	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return translate("insert appointment", err)
	}
	return nil
}

// findOverlap returns nil, nil when nothing overlaps.
func findOverlap(ctx context.Context, q availability.Querier, doctorID uuid.UUID, start, end time.Time) (*Appointment, error) {
	row := q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'scheduled'
		  AND scheduled_start < $3
		  AND scheduled_end > $2
		ORDER BY scheduled_start
		LIMIT 1
	`, doctorID, start, end)

	a, err := scanAppointment(row)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate("find overlap", err)
	}
	return a, nil
}

func findByIdempotencyKey(ctx context.Context, q availability.Querier, patientID uuid.UUID, key string) (*Appointment, error) {
	row := q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1 AND idempotency_key = $2
	`, patientID, key)
	return scanAppointment(row)
}

func (r *PgRepository) FindOverlap(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (*Appointment, error) {
	return findOverlap(ctx, r.pool, doctorID, start, end)
}

func (r *PgRepository) FindByIdempotencyKey(ctx context.Context, patientID uuid.UUID, key string) (*Appointment, error) {
	return findByIdempotencyKey(ctx, r.pool, patientID, key)
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns, id, to, from)

	a, err := scanAppointment(row)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, translate("update appointment status", err)
	}
	return a, err
}

func (r *PgRepository) List(ctx context.Context, f Filter) ([]Appointment, error) {
	f.normalize()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.From != nil {
		add("scheduled_end > $%d", *f.From)
	}
	if f.To != nil {
		add("scheduled_start < $%d", *f.To)
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY scheduled_start LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

// Snapshot reads windows and scheduled appointments in one repeatable-read
// transaction so both halves agree.
func (r *PgRepository) Snapshot(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (*Snapshot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback(context.Background())

	windows, err := availability.ListAll(ctx, tx, doctorID)
	if err != nil {
		return nil, err
	}

	arows, err := tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'scheduled'
		  AND scheduled_start < $3
		  AND scheduled_end > $2
		ORDER BY scheduled_start
	`, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("snapshot appointments: %w", err)
	}
	appts, err := collectAppointments(arows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit snapshot: %w", err)
	}
	return &Snapshot{Windows: windows, Appointments: appts}, nil
}
