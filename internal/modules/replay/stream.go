package replay

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const streamWriteTimeout = 10 * time.Second

// HandleStream upgrades to a WebSocket and pushes one StepEvent per applied
// simulation step until the session ends or the client disconnects.
// GET /api/sessions/{sessionID}/stream
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ch, cancel, err := h.manager.Subscribe(sessionID)
	if err != nil {
		h.writeError(w, err, "Failed to open stream")
		return
	}
	defer cancel()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS is enforced by server middleware
	})
	if err != nil {
		h.log.Warn().Err(err).Str("session_id", sessionID).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := r.Context()
	h.log.Debug().Str("session_id", sessionID).Msg("stream opened")

	// Send the current state first so the client can render immediately
	if view, err := h.manager.GetState(sessionID); err == nil {
		if err := h.writeEvent(ctx, conn, StepEvent{
			SessionID:   view.ID,
			Step:        view.StepCount,
			CurrentTime: view.CurrentTime,
			Equity:      view.Portfolio.Equity,
			Cash:        view.Portfolio.Cash,
			Status:      view.Status,
		}); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			if err := h.writeEvent(ctx, conn, event); err != nil {
				h.log.Debug().Err(err).Str("session_id", sessionID).Msg("stream write failed, closing")
				return
			}
			if event.Status.Terminal() {
				conn.Close(websocket.StatusNormalClosure, "session finished")
				return
			}
		}
	}
}

func (h *Handlers) writeEvent(ctx context.Context, conn *websocket.Conn, event StepEvent) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, event)
}
