package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/deepresearch-labs/orchestrator/internal/streaming"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // secured via proxy in prod
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 20 * time.Second
)

// handleWS bridges one session's progress stream to a WebSocket subscriber.
// GET /research/{id}/ws?last_event_id=<seq>
func (h *ResearchHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Initial frame: current status, or an error when the session is unknown.
	sess, err := h.sessions.GetSession(id)
	if err != nil {
		_ = conn.WriteJSON(streaming.Event{
			SessionID: id,
			Type:      streaming.TypeError,
			Error:     "Session not found",
			Timestamp: time.Now(),
		})
		return
	}
	// Subscribe before the status frame goes out so nothing published in
	// between is lost.
	ch := h.streams.Subscribe(id, 256)
	defer h.streams.Unsubscribe(id, ch)
	h.logger.Info("WebSocket connected", zap.String("session_id", id))
	defer h.logger.Info("WebSocket disconnected", zap.String("session_id", id))

	if err := conn.WriteJSON(streaming.Event{
		SessionID: id,
		Type:      streaming.TypeStatus,
		Message:   string(sess.Status),
		Timestamp: time.Now(),
	}); err != nil {
		return
	}

	// Best-effort replay for reconnecting clients.
	var lastID uint64
	if q := r.URL.Query().Get("last_event_id"); q != "" {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			lastID = n
		}
	}
	if lastID > 0 {
		for _, ev := range h.streams.ReplaySince(id, lastID) {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Reader pump: discard client messages, surface disconnects.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readerDone:
			return
		case ev, ok := <-ch:
			if !ok {
				// Session evicted; the stream is gone.
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
