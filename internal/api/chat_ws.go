package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/pkg/wire"
)

var chatUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// chatWebSocket owns one client connection: it upgrades, registers a
// session, pumps inbound frames into it, and mirrors its outbound queue
// onto the socket from a dedicated writer goroutine. The read loop is
// the only goroutine that routes frames, so session ordering rules hold
// by construction.
func (h *Handler) chatWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := chatUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var resolve func(string) (string, error)
	if h.uploads != nil {
		resolve = h.uploads.Resolve
	}

	sess := chat.NewSession(r.Context(), generateID(), h.store, h.streamer, chat.SessionConfig{
		TurnTimeout:    h.cfg.TurnTimeout,
		OutboundBuffer: h.cfg.OutboundBuffer,
		ResolveImage:   resolve,
	}, h.log)
	h.registry.Add(sess)
	defer h.registry.Remove(sess.ID())

	h.log.Info().Str("session_id", sess.ID()).Str("remote", r.RemoteAddr).Msg("chat session opened")

	// Writer goroutine. After a write error it keeps draining the queue
	// so turns never block on a dead socket, and closes the connection
	// to kick the read loop out.
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer conn.Close()
		failed := false
		for frame := range sess.Outbound() {
			if failed {
				continue
			}
			if err := conn.WriteJSON(frame); err != nil {
				failed = true
				_ = conn.Close()
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var frame wire.ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			sess.ReportProtocolError("", "malformed frame")
			continue
		}
		sess.Route(frame)
	}

	sess.Close()
	<-done
	h.log.Info().Str("session_id", sess.ID()).Msg("chat session closed")
}
