package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/clinicdesk/clinic-scheduling/internal/availability"
	"github.com/clinicdesk/clinic-scheduling/internal/db"
	"github.com/clinicdesk/clinic-scheduling/internal/logging"
)

const (
	doctorCount  = 40
	patientCount = 2000
	batchSize    = 500
)

var specializations = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// shift is a weekly opening block seeded for every doctor on weekdays.
type shift struct {
	start, end availability.TimeOfDay
}

func main() {
	logger := logging.New(os.Getenv("APP_ENV"))
	defer func() { _ = logger.Sync() }()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}
	password := os.Getenv("SEED_PASSWORD")
	if password == "" {
		password = "password123"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		logger.Fatal("hash seed password", zap.Error(err))
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	doctors, err := seedDoctors(ctx, pool, faker, string(hash), doctorCount)
	if err != nil {
		logger.Fatal("seed doctors", zap.Error(err))
	}
	logger.Info("doctors seeded", zap.Int("count", len(doctors)))

	windows, err := seedWindows(ctx, pool, doctors)
	if err != nil {
		logger.Fatal("seed availability", zap.Error(err))
	}
	logger.Info("availability windows seeded", zap.Int("count", windows))

	if err := seedPatients(ctx, pool, faker, string(hash), patientCount, logger); err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}

	logger.Info("seed complete", zap.String("password", password))
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, hash string, count int) ([]uuid.UUID, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		spec := specializations[faker.Number(0, len(specializations)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, email, first_name, last_name, password_hash, role, specialization)
			VALUES ($1, $2, $3, $4, $5, 'doctor', $6)
			ON CONFLICT (email) DO NOTHING
		`, id, fmt.Sprintf("doctor%03d@seed.clinic", i), faker.FirstName(), faker.LastName(), hash, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// seedWindows opens a morning and an afternoon shift Monday to Friday for
// every doctor. Doctors whose insert was skipped on an email clash get none.
func seedWindows(ctx context.Context, pool *pgxpool.Pool, doctors []uuid.UUID) (int, error) {
	shifts := []shift{
		{start: mustClock(9, 0), end: mustClock(12, 0)},
		{start: mustClock(13, 0), end: mustClock(17, 0)},
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n := 0
	for _, doctorID := range doctors {
		for wd := availability.Monday; wd <= availability.Friday; wd++ {
			for _, s := range shifts {
				tag, err := tx.Exec(ctx, `
					INSERT INTO availability_windows (id, doctor_id, weekday, start_time, end_time, active)
					SELECT $1, $2, $3, $4::time, $5::time, TRUE
					WHERE EXISTS (SELECT 1 FROM users WHERE id = $2)
				`, uuid.New(), doctorID, int16(wd), s.start.String(), s.end.String())
				if err != nil {
					return 0, err
				}
				n += int(tag.RowsAffected())
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, hash string, count int, logger *zap.Logger) error {
	insurers := []string{"Allianz", "AXA", "Prudential", "Cigna", "Aetna"}

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, email, first_name, last_name, password_hash, role, insurance_provider, insurance_number)
				VALUES ($1, $2, $3, $4, $5, 'patient', $6, $7)
				ON CONFLICT (email) DO NOTHING
			`, uuid.New(), fmt.Sprintf("patient%05d@seed.clinic", i), faker.FirstName(), faker.LastName(), hash,
				insurers[faker.Number(0, len(insurers)-1)], faker.Numerify("INS-########"))
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
		logger.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}
	return nil
}

func mustClock(hour, minute int) availability.TimeOfDay {
	t, err := availability.NewTimeOfDay(hour, minute, 0)
	if err != nil {
		panic(err)
	}
	return t
}
