package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/appointment"
	"github.com/clinicdesk/clinic-scheduling/internal/availability"
)

func addWindowHandler(reg *availability.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID")
		if !ok {
			return
		}

		var req AddWindowRequest
		if !decode(w, r, &req) {
			return
		}

		weekday, err := availability.ParseWeekday(req.Weekday)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_weekday", err.Error())
			return
		}
		start, err := availability.ParseTimeOfDay(req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", err.Error())
			return
		}
		end, err := availability.ParseTimeOfDay(req.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end", err.Error())
			return
		}

		win, err := reg.AddWindow(r.Context(), principal(r), doctorID, weekday, start, end)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toWindowResponse(win))
	}
}

func listWindowsHandler(reg *availability.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID")
		if !ok {
			return
		}

		windows, err := reg.ListByDoctor(r.Context(), doctorID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		resp := make([]WindowResponse, 0, len(windows))
		for i := range windows {
			resp = append(resp, toWindowResponse(&windows[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func setWindowActiveHandler(reg *availability.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		windowID, ok := uuidParam(w, r, "windowID")
		if !ok {
			return
		}

		var req SetWindowActiveRequest
		if !decode(w, r, &req) {
			return
		}

		win, err := reg.SetActive(r.Context(), windowID, principal(r).ID, *req.Active)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toWindowResponse(win))
	}
}

func removeWindowHandler(reg *availability.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		windowID, ok := uuidParam(w, r, "windowID")
		if !ok {
			return
		}

		if err := reg.RemoveWindow(r.Context(), windowID, principal(r).ID); err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// slotsHandler serves the availability projection for ?from=&to= dates.
func slotsHandler(proj *appointment.Projection, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID")
		if !ok {
			return
		}
		from, ok := dateQuery(w, r, "from", proj.Location())
		if !ok {
			return
		}
		to, ok := dateQuery(w, r, "to", proj.Location())
		if !ok {
			return
		}

		seq, err := proj.Project(r.Context(), doctorID, appointment.DateRange{From: from, To: to})
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		resp := make([]SlotResponse, 0)
		for v := range seq {
			resp = append(resp, SlotResponse{
				WindowID:  v.Window.ID,
				Date:      v.Date.Format(time.DateOnly),
				Start:     v.Start,
				End:       v.End,
				Available: v.Available,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
