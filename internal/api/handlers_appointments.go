package api

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/appointment"
	"github.com/clinicdesk/clinic-scheduling/internal/directory"
)

// idempotencyHeader lets clients retry a booking without creating a second
// appointment.
const idempotencyHeader = "Idempotency-Key"

func bookAppointmentHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decode(w, r, &req) {
			return
		}

		requester := principal(r)
		doctorID := uuid.MustParse(req.DoctorID)

		patientID := requester.ID
		if req.PatientID != "" {
			patientID = uuid.MustParse(req.PatientID)
		} else if requester.Role != directory.RolePatient {
			writeError(w, http.StatusBadRequest, "patient_id_required", "patient_id is required unless a patient books for themselves")
			return
		}

		key := r.Header.Get(idempotencyHeader)
		if len(key) > 128 {
			writeError(w, http.StatusBadRequest, "invalid_idempotency_key", "idempotency key must be at most 128 characters")
			return
		}

		appt, err := svc.Book(r.Context(), appointment.BookRequest{
			DoctorID:       doctorID,
			PatientID:      patientID,
			Start:          req.Start,
			End:            req.End,
			IdempotencyKey: key,
		}, requester)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), id, principal(r))
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			f  appointment.Filter
			ok bool
		)
		if f.DoctorID, ok = uuidQuery(w, r, "doctor_id"); !ok {
			return
		}
		if f.PatientID, ok = uuidQuery(w, r, "patient_id"); !ok {
			return
		}
		if f.From, ok = timeQuery(w, r, "from"); !ok {
			return
		}
		if f.To, ok = timeQuery(w, r, "to"); !ok {
			return
		}
		if raw := r.URL.Query().Get("status"); raw != "" {
			status, err := appointment.ParseStatus(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
				return
			}
			f.Status = &status
		}
		f.Limit, f.Offset = pageQuery(r)

		appts, err := svc.List(r.Context(), f, principal(r))
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// transitionHandler moves an appointment to the given status.
func transitionHandler(svc *appointment.Service, to appointment.Status, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.SetStatus(r.Context(), id, to, principal(r))
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}
