package medicalrecord

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic-scheduling/internal/apperr"
	"github.com/clinicdesk/clinic-scheduling/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const recordColumns = `id, appointment_id, doctor_id, patient_id, notes, created_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(
		&r.ID,
		&r.AppointmentID,
		&r.DoctorID,
		&r.PatientID,
		&r.Notes,
		&r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("medical record: %w", apperr.ErrNotFound)
		}
		return nil, err
	}
	return &r, nil
}

func (p *PgRepository) Create(ctx context.Context, r *Record) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	row := p.pool.QueryRow(ctx, `
		INSERT INTO medical_records (id, appointment_id, doctor_id, patient_id, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING created_at
	`, r.ID, r.AppointmentID, r.DoctorID, r.PatientID, r.Notes)

	if err := row.Scan(&r.CreatedAt); err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("medical record for appointment %s: %w", r.AppointmentID, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("insert medical record: %w", err)
	}
	return nil
}

func (p *PgRepository) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Record, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM medical_records WHERE appointment_id = $1`, appointmentID)
	return scanRecord(row)
}

func (p *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Record, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM medical_records
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list medical records: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
