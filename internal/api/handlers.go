package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/oentex/oentex/internal/apperr"
	"github.com/oentex/oentex/internal/auth"
)

// Response helpers

type apiResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeError(w, status, &apiError{Code: code, Message: message})
}

func writeError(w http.ResponseWriter, status int, e *apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(apiResponse{Success: false, Error: e}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// respondAppError maps the error's kind to a status and envelope code
func respondAppError(w http.ResponseWriter, err error) {
	kind := apperr.Classify(err)
	status := statusForKind(kind)

	e := &apiError{Code: string(kind), Message: apperr.MessageOf(err)}
	switch kind {
	case apperr.KindValidation:
		e.Fields = apperr.FieldsOf(err)
	case apperr.KindServer, apperr.KindUnknown:
		slog.Error("request failed", "error", err)
		e.Message = "internal server error"
	case apperr.KindNetwork:
		slog.Warn("backend unavailable", "error", err)
		e.Message = "backend unavailable, try again later"
	}
	writeError(w, status, e)
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindPermission:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

const maxBodyBytes = 1 << 20

// decodeJSON reads a JSON body into v, answering 400 itself on failure
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Repo.Ping(r.Context()); err != nil {
		slog.Warn("readiness check failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, "not_ready", "service not ready")
		return
	}

	status := map[string]any{
		"status":        "ready",
		"auth_degraded": s.deps.AuthState.Degraded,
	}
	if s.deps.Functions != nil {
		functions := make(map[string]string)
		for name, err := range s.deps.Functions.HealthCheckAll(r.Context()) {
			functions[name] = "ok"
			if err != nil {
				functions[name] = err.Error()
			}
		}
		status["functions"] = functions
	}
	respondJSON(w, http.StatusOK, status)
}

type sessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
	AuthEnabled   bool   `json:"auth_enabled"`
	Degraded      bool   `json:"degraded"`
	RedirectPath  string `json:"redirect_path,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	resp := sessionResponse{
		AuthEnabled:  s.authMiddleware.enabled(),
		Degraded:     s.deps.AuthState.Degraded,
		RedirectPath: s.deps.OAuthRedirectPath,
	}
	if id := auth.IdentityFromContext(r.Context()); id != nil {
		resp.Authenticated = true
		resp.UserID = id.UserID
		resp.Email = id.Email
	}
	respondJSON(w, http.StatusOK, resp)
}
