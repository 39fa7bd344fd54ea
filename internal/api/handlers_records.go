package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/medicalrecord"
)

func createRecordHandler(svc *medicalrecord.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		var req CreateRecordRequest
		if !decode(w, r, &req) {
			return
		}

		rec, err := svc.Create(r.Context(), principal(r), id, req.Notes)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRecordResponse(rec))
	}
}

func getRecordHandler(svc *medicalrecord.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		rec, err := svc.GetByAppointment(r.Context(), principal(r), id)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toRecordResponse(rec))
	}
}

func listPatientRecordsHandler(svc *medicalrecord.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := uuidParam(w, r, "patientID")
		if !ok {
			return
		}
		limit, offset := pageQuery(r)

		recs, err := svc.ListByPatient(r.Context(), principal(r), patientID, limit, offset)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		resp := make([]RecordResponse, 0, len(recs))
		for i := range recs {
			resp = append(resp, toRecordResponse(&recs[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
