package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/atelierlabs/atelier-mentor/internal/domain"
	"github.com/atelierlabs/atelier-mentor/internal/identity"
	"github.com/atelierlabs/atelier-mentor/internal/mentor"
	"github.com/atelierlabs/atelier-mentor/internal/progression"
	"github.com/atelierlabs/atelier-mentor/internal/session"
	"github.com/atelierlabs/atelier-mentor/internal/store"
	"github.com/go-chi/chi/v5"
)

// maxTurnBodySize bounds turn request bodies (64KB); learner turns are
// short free text plus flags.
const maxTurnBodySize = 64 << 10

// SessionHandler handles session and turn endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.StartSession)
		r.Get("/", h.ListSessions)
		r.Get("/{sessionID}", h.GetSession)
		r.Post("/{sessionID}/turns", h.IngestTurn)
		r.Get("/{sessionID}/guidance", h.GetGuidance)
	})
}

type startSessionRequest struct {
	MentorType domain.MentorType `json:"mentor_type"`
}

// StartSession handles POST /api/sessions.
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	learnerID := identity.LearnerIDFromContext(r.Context())
	if learnerID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req startSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sess, err := h.sessions.StartSession(r.Context(), learnerID, req.MentorType)
	if err != nil {
		if errors.Is(err, session.ErrInvalidMentorType) {
			Error(w, http.StatusBadRequest, "invalid mentor_type")
			return
		}
		slog.Error("Failed to start session", "error", err, "learner_id", learnerID)
		Error(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	JSON(w, http.StatusCreated, sessionSummary(sess))
}

// ListSessions handles GET /api/sessions.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	learnerID := identity.LearnerIDFromContext(r.Context())
	if learnerID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessions, err := h.repo.ListLearnerSessions(r.Context(), learnerID)
	if err != nil {
		slog.Error("Failed to list sessions", "error", err, "learner_id", learnerID)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	out := make([]map[string]interface{}, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionSummary(sess))
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

// GetSession handles GET /api/sessions/{sessionID}.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	learnerID := identity.LearnerIDFromContext(r.Context())
	if learnerID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sess, err := h.sessions.GetSession(r.Context(), learnerID, chi.URLParam(r, "sessionID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("Failed to get session", "error", err, "learner_id", learnerID)
		Error(w, http.StatusInternalServerError, "failed to get session")
		return
	}

	JSON(w, http.StatusOK, sess)
}

type ingestTurnRequest struct {
	Text          string `json:"text"`
	ImageEvidence bool   `json:"image_evidence"`
}

// IngestTurn handles POST /api/sessions/{sessionID}/turns.
func (h *SessionHandler) IngestTurn(w http.ResponseWriter, r *http.Request) {
	learnerID := identity.LearnerIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")
	if learnerID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxTurnBodySize)
	var req ingestTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decision, err := h.sessions.IngestTurn(r.Context(), learnerID, sessionID, domain.TurnInput{
		Text:          req.Text,
		ImageEvidence: req.ImageEvidence,
		Timestamp:     time.Now(),
	})
	if err != nil {
		switch {
		case errors.Is(err, progression.ErrEmptyTurn):
			Error(w, http.StatusBadRequest, "turn has no text and no image evidence")
		case errors.Is(err, progression.ErrSessionComplete):
			Error(w, http.StatusConflict, "session already complete")
		case errors.Is(err, store.ErrNotFound):
			Error(w, http.StatusNotFound, "session not found")
		default:
			slog.Error("Failed to ingest turn", "error", err, "session_id", sessionID)
			Error(w, http.StatusInternalServerError, "failed to ingest turn")
		}
		return
	}

	sess, err := h.sessions.GetSession(r.Context(), learnerID, sessionID)
	if err != nil {
		slog.Error("Failed to reload session after turn", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to ingest turn")
		return
	}

	style, err := mentor.Plan(sess.MentorType, decision)
	if err != nil {
		slog.Error("Failed to plan dialogue style", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to ingest turn")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"decision": decision,
		"style":    style,
	})
}

// GetGuidance handles GET /api/sessions/{sessionID}/guidance.
func (h *SessionHandler) GetGuidance(w http.ResponseWriter, r *http.Request) {
	learnerID := identity.LearnerIDFromContext(r.Context())
	if learnerID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	mode, err := h.sessions.Guidance(r.Context(), learnerID, chi.URLParam(r, "sessionID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("Failed to get guidance", "error", err, "learner_id", learnerID)
		Error(w, http.StatusInternalServerError, "failed to get guidance")
		return
	}

	style, err := mentor.StyleFor(mode)
	if err != nil {
		slog.Error("Failed to resolve dialogue style", "error", err, "mode", mode)
		Error(w, http.StatusInternalServerError, "failed to get guidance")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"mode":  mode,
		"style": style,
	})
}

func sessionSummary(s *domain.Session) map[string]interface{} {
	return map[string]interface{}{
		"session_id":        s.ID,
		"mentor_type":       s.MentorType,
		"current_phase":     s.CurrentPhase.String(),
		"max_phase_reached": s.MaxPhaseReached.String(),
		"turn_count":        s.TurnCount(),
		"complete":          s.Complete(),
		"started_at":        s.StartedAt,
		"updated_at":        s.UpdatedAt,
	}
}
