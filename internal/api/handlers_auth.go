package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/auth"
	"github.com/clinicdesk/clinic-scheduling/internal/directory"
)

func registerHandler(users *directory.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if !decode(w, r, &req) {
			return
		}

		role := directory.RolePatient
		if req.Role != "" {
			parsed, err := directory.ParseRole(req.Role)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_role", err.Error())
				return
			}
			role = parsed
		}

		var requester *directory.Principal
		if p, ok := auth.FromContext(r.Context()); ok {
			requester = &p
		}

		u, err := users.Register(r.Context(), requester, directory.RegisterInput{
			Email:             strings.TrimSpace(req.Email),
			Password:          req.Password,
			FirstName:         strings.TrimSpace(req.FirstName),
			LastName:          strings.TrimSpace(req.LastName),
			Role:              role,
			Specialization:    req.Specialization,
			InsuranceProvider: req.InsuranceProvider,
			InsuranceNumber:   req.InsuranceNumber,
		})
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toUserResponse(u))
	}
}

func loginHandler(users *directory.Service, issuer *auth.Issuer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if !decode(w, r, &req) {
			return
		}

		u, err := users.Authenticate(r.Context(), strings.TrimSpace(req.Email), req.Password)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		token, exp, err := issuer.Issue(u)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, TokenResponse{
			AccessToken: token,
			TokenType:   "Bearer",
			ExpiresAt:   exp,
			User:        toUserResponse(u),
		})
	}
}

func meHandler(users *directory.Service, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := users.Resolve(r.Context(), principal(r).ID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toUserResponse(u))
	}
}
