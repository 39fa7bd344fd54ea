package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/clinicdesk/clinic-scheduling/internal/appointment"
	"github.com/clinicdesk/clinic-scheduling/internal/auth"
	"github.com/clinicdesk/clinic-scheduling/internal/availability"
	"github.com/clinicdesk/clinic-scheduling/internal/directory"
	"github.com/clinicdesk/clinic-scheduling/internal/medicalrecord"
	"github.com/clinicdesk/clinic-scheduling/internal/notify"
)

const (
	adminEmail    = "admin@clinic.test"
	adminPassword = "admin-password"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
}

func newTestServer(t *testing.T, checks ...Checker) *testServer {
	t.Helper()

	logger := zap.NewNop()
	sink := notify.Discard{}

	users := directory.NewService(directory.NewMemoryRepository(), sink, logger).WithHashCost(bcrypt.MinCost)
	require.NoError(t, users.EnsureAdmin(context.Background(), adminEmail, adminPassword))

	issuer, err := auth.NewIssuer("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)

	windows := availability.NewMemoryRepository()
	ledger := appointment.NewMemoryLedger(windows)

	handler := NewRouter(RouterConfig{
		Users:        users,
		Issuer:       issuer,
		Registry:     availability.NewRegistry(windows, users, logger),
		Appointments: appointment.NewService(ledger, appointment.NewLocalLocker(), users, sink, logger),
		Projection:   appointment.NewProjection(ledger, time.UTC),
		Records:      medicalrecord.NewService(medicalrecord.NewMemoryRepository(), ledger, sink, logger),
		Checks:       checks,
		Logger:       logger,
		Env:          "test",
		Version:      "test",
	})
	return &testServer{t: t, handler: handler}
}

func (s *testServer) do(method, path, token string, body any, out any) *httptest.ResponseRecorder {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func (s *testServer) login(email, password string) (string, UserResponse) {
	s.t.Helper()

	var tok TokenResponse
	rec := s.do(http.MethodPost, "/auth/login", "", LoginRequest{Email: email, Password: password}, &tok)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return tok.AccessToken, tok.User
}

func (s *testServer) register(token string, req RegisterRequest) UserResponse {
	s.t.Helper()

	var u UserResponse
	rec := s.do(http.MethodPost, "/auth/register", token, req, &u)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return u
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e.Error
}

func TestBookingFlow(t *testing.T) {
	s := newTestServer(t)
	adminToken, _ := s.login(adminEmail, adminPassword)

	spec := "cardiology"
	doctor := s.register(adminToken, RegisterRequest{
		Email: "house@clinic.test", Password: "doctor-password", FirstName: "Greg", LastName: "House",
		Role: "doctor", Specialization: &spec,
	})
	s.register("", RegisterRequest{Email: "p1@clinic.test", Password: "patient-one", FirstName: "Pat", LastName: "One"})
	s.register("", RegisterRequest{Email: "p2@clinic.test", Password: "patient-two", FirstName: "Pat", LastName: "Two"})

	doctorToken, _ := s.login("house@clinic.test", "doctor-password")
	p1Token, p1 := s.login("p1@clinic.test", "patient-one")
	p2Token, _ := s.login("p2@clinic.test", "patient-two")

	availPath := "/doctors/" + doctor.ID.String() + "/availability"
	rec := s.do(http.MethodPost, availPath, p1Token, AddWindowRequest{Weekday: "tuesday", Start: "09:00", End: "17:00"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var win WindowResponse
	rec = s.do(http.MethodPost, availPath, doctorToken, AddWindowRequest{Weekday: "tuesday", Start: "09:00", End: "17:00"}, &win)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "tuesday", win.Weekday)

	book := func(token string, start, end string) *httptest.ResponseRecorder {
		st, _ := time.Parse(time.RFC3339, start)
		en, _ := time.Parse(time.RFC3339, end)
		return s.do(http.MethodPost, "/appointments", token, CreateAppointmentRequest{
			DoctorID: doctor.ID.String(), Start: st, End: en,
		}, nil)
	}

	var first AppointmentResponse
	rec = book(p1Token, "2024-06-04T10:00:00Z", "2024-06-04T11:00:00Z")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, p1.ID, first.PatientID)
	assert.Equal(t, "scheduled", first.Status)

	rec = book(p2Token, "2024-06-04T10:30:00Z", "2024-06-04T11:30:00Z")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", errorCode(t, rec))

	rec = book(p2Token, "2024-06-04T16:30:00Z", "2024-06-04T17:30:00Z")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "outside_availability", errorCode(t, rec))

	rec = book(p2Token, "2024-06-04T11:00:00Z", "2024-06-04T10:00:00Z")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_range", errorCode(t, rec))

	rec = book(p2Token, "2024-06-04T11:00:00Z", "2024-06-04T12:00:00Z")
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var slots []SlotResponse
	rec = s.do(http.MethodGet, "/doctors/"+doctor.ID.String()+"/slots?from=2024-06-03&to=2024-06-09", p2Token, nil, &slots)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, slots, 1)
	assert.Equal(t, "2024-06-04", slots[0].Date)
	assert.False(t, slots[0].Available)

	rec = s.do(http.MethodPost, "/appointments/"+first.ID.String()+"/cancel", p2Token, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var cancelled AppointmentResponse
	rec = s.do(http.MethodPost, "/appointments/"+first.ID.String()+"/cancel", p1Token, nil, &cancelled)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", cancelled.Status)

	rec = s.do(http.MethodPost, "/appointments/"+first.ID.String()+"/complete", doctorToken, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, rec))

	var rebooked AppointmentResponse
	rec = book(p2Token, "2024-06-04T10:00:00Z", "2024-06-04T11:00:00Z")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rebooked))

	rec = s.do(http.MethodPost, "/appointments/"+rebooked.ID.String()+"/medical-record", doctorToken, CreateRecordRequest{Notes: "checkup"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/appointments/"+rebooked.ID.String()+"/complete", doctorToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var record RecordResponse
	rec = s.do(http.MethodPost, "/appointments/"+rebooked.ID.String()+"/medical-record", doctorToken, CreateRecordRequest{Notes: "checkup"}, &record)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, rebooked.PatientID, record.PatientID)

	var records []RecordResponse
	rec = s.do(http.MethodGet, "/patients/"+rebooked.PatientID.String()+"/medical-records", p2Token, nil, &records)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, records, 1)

	var mine []AppointmentResponse
	rec = s.do(http.MethodGet, "/appointments?status=scheduled", p2Token, nil, &mine)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, mine, 1)
}

func TestAuthErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/appointments", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/auth/login", "", LoginRequest{Email: adminEmail, Password: "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/auth/register", "", RegisterRequest{
		Email: "doc@clinic.test", Password: "doctor-password", FirstName: "A", LastName: "B", Role: "doctor",
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/auth/register", "", RegisterRequest{Email: "not-an-email", Password: "x"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, "validation_error", e.Error)
	assert.Contains(t, e.Fields, "email")
	assert.Contains(t, e.Fields, "password")

	s.register("", RegisterRequest{Email: "dup@clinic.test", Password: "password-1", FirstName: "A", LastName: "B"})
	rec = s.do(http.MethodPost, "/auth/register", "", RegisterRequest{Email: "dup@clinic.test", Password: "password-1", FirstName: "A", LastName: "B"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBadPathParams(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.login(adminEmail, adminPassword)

	rec := s.do(http.MethodGet, "/appointments/not-a-uuid", token, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/doctors/00000000-0000-0000-0000-000000000001/slots?from=june&to=2024-06-09", token, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/appointments?status=pending", token, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	t.Run("degraded when optional dependency is down", func(t *testing.T) {
		s := newTestServer(t, Checker{Name: "postgres", Critical: true, Ping: up}, Checker{Name: "redis", Ping: down})
		var resp ReadinessResponse
		rec := s.do(http.MethodGet, "/health/ready", "", nil, &resp)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "down", resp.Dependencies["redis"])
	})

	t.Run("error when critical dependency is down", func(t *testing.T) {
		s := newTestServer(t, Checker{Name: "postgres", Critical: true, Ping: down})
		rec := s.do(http.MethodGet, "/health/ready", "", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("liveness", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(http.MethodGet, "/health/live", "", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})
}
