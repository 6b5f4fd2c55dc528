package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/oentex/oentex/internal/apperr"
	"github.com/oentex/oentex/internal/functions"
	"github.com/oentex/oentex/internal/models"
)

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	var input models.ContactInput
	if !decodeJSON(w, r, &input) {
		return
	}
	if fields := input.Validate(); fields != nil {
		respondAppError(w, apperr.Validation("contact", fields))
		return
	}

	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		subject = models.DefaultContactSubject
	}
	msg := &models.ContactMessage{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(input.Name),
		Email:     strings.TrimSpace(input.Email),
		Subject:   subject,
		Message:   strings.TrimSpace(input.Message),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.deps.Repo.CreateContactMessage(r.Context(), msg); err != nil {
		respondAppError(w, apperr.Wrap("", "contact", err))
		return
	}

	slog.Info("contact message stored", "id", msg.ID)
	respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleNewsletterSubscribe(w http.ResponseWriter, r *http.Request) {
	var req models.NewsletterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	payload, err := json.Marshal(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	s.invoke(w, r, functions.NewsletterSubscribeName, payload)
}

// handleNewsletterStats reports zero subscribers when the function fails
func (s *Server) handleNewsletterStats(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Functions.Invoke(r.Context(), functions.NewsletterStatsName, nil)
	if err != nil {
		slog.Warn("newsletter stats unavailable", "error", err)
		respondJSON(w, http.StatusOK, models.NewsletterStats{})
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleInvokeFunction(w http.ResponseWriter, r *http.Request) {
	var payload json.RawMessage
	if !decodeJSON(w, r, &payload) {
		return
	}
	s.invoke(w, r, chi.URLParam(r, "name"), payload)
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request, name string, payload json.RawMessage) {
	out, err := s.deps.Functions.Invoke(r.Context(), name, payload)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}
