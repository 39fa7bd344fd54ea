package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/appointment"
	"github.com/clinicdesk/clinic-scheduling/internal/auth"
	"github.com/clinicdesk/clinic-scheduling/internal/availability"
	"github.com/clinicdesk/clinic-scheduling/internal/directory"
	"github.com/clinicdesk/clinic-scheduling/internal/medicalrecord"
)

type RouterConfig struct {
	Users        *directory.Service
	Issuer       *auth.Issuer
	Registry     *availability.Registry
	Appointments *appointment.Service
	Projection   *appointment.Projection
	Records      *medicalrecord.Service
	Checks       []Checker
	Logger       *zap.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	unauthorized := func(w http.ResponseWriter, r *http.Request, err error) {
		writeDomainError(w, r, log, err)
	}

	r.Route("/auth", func(r chi.Router) {
		r.With(auth.Optional(cfg.Issuer)).Post("/register", registerHandler(cfg.Users, log))
		r.Post("/login", loginHandler(cfg.Users, cfg.Issuer, log))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Issuer, unauthorized))

		r.Get("/me", meHandler(cfg.Users, log))

		r.Route("/doctors/{doctorID}", func(r chi.Router) {
			r.Get("/availability", listWindowsHandler(cfg.Registry, log))
			r.Post("/availability", addWindowHandler(cfg.Registry, log))
			r.Get("/slots", slotsHandler(cfg.Projection, log))
		})
		r.Patch("/availability/{windowID}", setWindowActiveHandler(cfg.Registry, log))
		r.Delete("/availability/{windowID}", removeWindowHandler(cfg.Registry, log))

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", bookAppointmentHandler(cfg.Appointments, log))
			r.Get("/", listAppointmentsHandler(cfg.Appointments, log))
			r.Get("/{id}", getAppointmentHandler(cfg.Appointments, log))
			r.Post("/{id}/cancel", transitionHandler(cfg.Appointments, appointment.StatusCancelled, log))
			r.Post("/{id}/complete", transitionHandler(cfg.Appointments, appointment.StatusCompleted, log))
			r.Post("/{id}/medical-record", createRecordHandler(cfg.Records, log))
			r.Get("/{id}/medical-record", getRecordHandler(cfg.Records, log))
		})

		r.Get("/patients/{patientID}/medical-records", listPatientRecordsHandler(cfg.Records, log))
	})

	return r
}
