package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clinicdesk/clinic-scheduling/internal/api"
	"github.com/clinicdesk/clinic-scheduling/internal/appointment"
	"github.com/clinicdesk/clinic-scheduling/internal/auth"
	"github.com/clinicdesk/clinic-scheduling/internal/availability"
	"github.com/clinicdesk/clinic-scheduling/internal/config"
	"github.com/clinicdesk/clinic-scheduling/internal/db"
	"github.com/clinicdesk/clinic-scheduling/internal/directory"
	"github.com/clinicdesk/clinic-scheduling/internal/logging"
	"github.com/clinicdesk/clinic-scheduling/internal/medicalrecord"
	"github.com/clinicdesk/clinic-scheduling/internal/notify"
	redisclient "github.com/clinicdesk/clinic-scheduling/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger := logging.New(cfg.Env)
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("lock_backend", cfg.LockBackend),
		zap.String("timezone", cfg.Location.String()),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, logger); err != nil {
		logger.Fatal("api-server stopped with error", zap.Error(err))
	}
	logger.Info("api-server shut down")
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.WithMaxConns(int32(cfg.PostgresMaxConn)))
	cancelPg()
	if err != nil {
		return err
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	if cfg.MigrationsAuto {
		if err := migrate(ctx, pgPool, logger); err != nil {
			return err
		}
	}

	checks := []api.Checker{{Name: "postgres", Critical: true, Ping: pgPool.Ping}}

	var locker appointment.Locker = appointment.NewLocalLocker()
	if cfg.LockBackend == config.LockBackendRedis {
		rdb, err := redisclient.NewClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			TLS:      cfg.RedisTLS,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", zap.Error(err))
			}
		}()
		logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

		locker = redisclient.NewDoctorLocker(rdb, cfg.LockTTL, logger)
		checks = append(checks, api.Checker{Name: "redis", Critical: true, Ping: pingRedis(rdb)})
	}

	var publisher notify.Publisher = notify.NewLogPublisher(logger)
	if cfg.RabbitURL != "" {
		amqpPub, err := notify.NewAMQPPublisher(cfg.RabbitURL, cfg.NotifyExchange)
		if err != nil {
			return err
		}
		defer func() { _ = amqpPub.Close() }()
		publisher = amqpPub
		logger.Info("publishing notifications to RabbitMQ", zap.String("exchange", cfg.NotifyExchange))
	}
	dispatcher := notify.NewDispatcher(publisher, logger, cfg.NotifyBuffer)

	users := directory.NewService(directory.NewPgRepository(pgPool), dispatcher, logger)
	if cfg.AdminEmail != "" {
		if err := users.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return err
		}
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return err
	}

	ledger := appointment.NewPgRepository(pgPool, cfg.BookTimeout)
	appointments := appointment.NewService(ledger, locker, users, dispatcher, logger,
		appointment.WithLocation(cfg.Location),
		appointment.WithBookTimeout(cfg.BookTimeout),
	)

	router := api.NewRouter(api.RouterConfig{
		Users:        users,
		Issuer:       issuer,
		Registry:     availability.NewRegistry(availability.NewPgRepository(pgPool), users, logger),
		Appointments: appointments,
		Projection:   appointment.NewProjection(ledger, cfg.Location),
		Records:      medicalrecord.NewService(medicalrecord.NewPgRepository(pgPool), ledger, dispatcher, logger),
		Checks:       checks,
		Logger:       logger,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	m, err := db.NewMigrator(pool, logger)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Up(ctx)
}

func pingRedis(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
