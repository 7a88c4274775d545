// Package httpapi exposes the session manager's public operations over HTTP
// and bridges progress streams to WebSocket subscribers.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/deepresearch-labs/orchestrator/internal/session"
	"github.com/deepresearch-labs/orchestrator/internal/streaming"
)

// ResearchHandler serves the research session API.
type ResearchHandler struct {
	sessions *session.Manager
	streams  *streaming.Manager
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewResearchHandler creates the handler. A nil limiter disables rate
// limiting on session creation.
func NewResearchHandler(sessions *session.Manager, streams *streaming.Manager, limiter *rate.Limiter, logger *zap.Logger) *ResearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResearchHandler{
		sessions: sessions,
		streams:  streams,
		limiter:  limiter,
		logger:   logger,
	}
}

// RegisterRoutes registers all research endpoints on mux.
func (h *ResearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /research/start", h.handleStart)
	mux.HandleFunc("GET /research/sessions", h.handleList)
	mux.HandleFunc("GET /research/{id}/status", h.handleStatus)
	mux.HandleFunc("GET /research/{id}/result", h.handleResult)
	mux.HandleFunc("DELETE /research/{id}", h.handleCancel)
	mux.HandleFunc("GET /research/{id}/ws", h.handleWS)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /{$}", h.handleRoot)
}

// StartRequest is the session creation payload.
type StartRequest struct {
	Topic           string `json:"topic"`
	MaxReviewCycles int    `json:"max_review_cycles,omitempty"`
	Timeout         int    `json:"timeout,omitempty"` // seconds
}

// StartResponse acknowledges session creation.
type StartResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

func (h *ResearchHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}

	id, err := h.sessions.StartResearch(req.Topic, req.MaxReviewCycles, time.Duration(req.Timeout)*time.Second)
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, StartResponse{
		SessionID: id,
		Status:    "started",
		Message:   fmt.Sprintf("Research session started for topic: %s", req.Topic),
	})
}

func (h *ResearchHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.GetSession(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Research session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ResultResponse is returned by the result endpoint once a session has
// completed.
type ResultResponse struct {
	SessionID    string     `json:"session_id"`
	Topic        string     `json:"topic"`
	Report       string     `json:"report"`
	CompletedAt  *time.Time `json:"completed_at"`
	ReviewCycles int        `json:"review_cycles"`
}

func (h *ResearchHandler) handleResult(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.GetResult(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Research session not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ResultResponse{
		SessionID:    sess.ID,
		Topic:        sess.Topic,
		Report:       sess.Result,
		CompletedAt:  sess.CompletedAt,
		ReviewCycles: sess.ReviewCycles,
	})
}

func (h *ResearchHandler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.ListSessions())
}

func (h *ResearchHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cancelled, err := h.sessions.CancelSession(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Research session not found")
		return
	}
	msg := fmt.Sprintf("Research session %s was not running or already completed", id)
	if cancelled {
		msg = fmt.Sprintf("Research session %s cancelled", id)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (h *ResearchHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	sessions, subscribers := h.sessions.Counts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "healthy",
		"timestamp":         time.Now().Format(time.RFC3339),
		"active_sessions":   sessions,
		"active_websockets": subscribers,
	})
}

func (h *ResearchHandler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        "Deep Research Orchestrator",
		"version":     "1.0.0",
		"description": "Scalable API for conducting deep research with AI agents",
		"endpoints": map[string]string{
			"start_research": "POST /research/start",
			"get_status":     "GET /research/{session_id}/status",
			"get_result":     "GET /research/{session_id}/result",
			"list_sessions":  "GET /research/sessions",
			"cancel_session": "DELETE /research/{session_id}",
			"websocket":      "WS /research/{session_id}/ws",
			"health":         "GET /healthz",
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"detail": msg})
}
