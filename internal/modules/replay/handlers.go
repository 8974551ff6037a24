package replay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handlers contains HTTP handlers for the replay session API
type Handlers struct {
	manager *Manager
	log     zerolog.Logger
}

// NewHandlers creates a new replay handlers instance
func NewHandlers(manager *Manager, log zerolog.Logger) *Handlers {
	return &Handlers{
		manager: manager,
		log:     log.With().Str("handler", "replay").Logger(),
	}
}

// RegisterRoutes mounts the session API under the given router
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Post("/", h.HandleCreateSession)
	r.Get("/", h.HandleListSessions)
	r.Route("/{sessionID}", func(r chi.Router) {
		r.Get("/", h.HandleGetSession)
		r.Post("/start", h.HandleStart)
		r.Post("/pause", h.HandlePause)
		r.Post("/resume", h.HandleResume)
		r.Post("/stop", h.HandleStop)
		r.Post("/advance", h.HandleAdvance)
		r.Get("/stats", h.HandleStatistics)
		r.Get("/trades", h.HandleTrades)
		r.Get("/equity", h.HandleEquityCurve)
		r.Get("/stream", h.HandleStream)
	})
}

// HandleCreateSession opens a new replay session
// POST /api/sessions
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	view, err := h.manager.CreateSession(r.Context(), req)
	if err != nil {
		h.writeError(w, err, "Failed to create session")
		return
	}
	h.writeJSON(w, http.StatusCreated, view)
}

// HandleListSessions returns all registered sessions
// GET /api/sessions
func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.manager.List())
}

// HandleGetSession returns one session's current state
// GET /api/sessions/{sessionID}
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.manager.GetState(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err, "Failed to get session")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// HandleStart begins a pending session
// POST /api/sessions/{sessionID}/start
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	view, err := h.manager.Start(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err, "Failed to start session")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// HandlePause halts a running session
// POST /api/sessions/{sessionID}/pause
func (h *Handlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	view, err := h.manager.Pause(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err, "Failed to pause session")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// HandleResume continues a paused session
// POST /api/sessions/{sessionID}/resume
func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	view, err := h.manager.Resume(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err, "Failed to resume session")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// HandleStop ends a session early, closing all open positions
// POST /api/sessions/{sessionID}/stop
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	view, err := h.manager.Stop(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err, "Failed to stop session")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// HandleAdvance applies explicit simulation steps
// POST /api/sessions/{sessionID}/advance
func (h *Handlers) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Steps int `json:"steps"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	if body.Steps < 1 {
		body.Steps = 1
	}
	result, err := h.manager.Advance(r.Context(), chi.URLParam(r, "sessionID"), body.Steps)
	if err != nil {
		h.writeError(w, err, "Failed to advance session")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleStatistics returns the session's performance summary
// GET /api/sessions/{sessionID}/stats
func (h *Handlers) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	summary, err := h.manager.GetStatistics(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err, "Failed to compute statistics")
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// HandleTrades returns the session's trade log
// GET /api/sessions/{sessionID}/trades
func (h *Handlers) HandleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.manager.Trades(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err, "Failed to get trades")
		return
	}
	h.writeJSON(w, http.StatusOK, trades)
}

// HandleEquityCurve returns the per-step equity samples
// GET /api/sessions/{sessionID}/equity
func (h *Handlers) HandleEquityCurve(w http.ResponseWriter, r *http.Request) {
	points, err := h.manager.EquityCurve(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err, "Failed to get equity curve")
		return
	}
	h.writeJSON(w, http.StatusOK, points)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) // Ignore encode error - already committed response
}

// writeError maps domain errors to HTTP status codes: unknown session is 404,
// illegal transitions and busy sessions are 409, config validation is 400,
// everything else is 500.
func (h *Handlers) writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAdvanceInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
	case strings.Contains(err.Error(), "invalid session config"):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.log.Error().Err(err).Msg(fallback)
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}
