package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/dunamismax/docflow/internal/session"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type SessionValidator interface {
	ValidateCookieHeader(ctx context.Context, header string) (session.Identity, error)
}

// Handler accepts websocket connections at the server's single realtime
// endpoint. The handshake cookie is the only authentication input; there
// is no in-channel auth exchange.
type Handler struct {
	hub      *Hub
	sessions SessionValidator
	logger   *log.Logger
}

func NewHandler(hub *Hub, sessions SessionValidator, logger *log.Logger) *Handler {
	return &Handler{
		hub:      hub,
		sessions: sessions,
		logger:   logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		return
	}

	conn := newConn(sock)
	h.hub.Register(conn)
	defer func() {
		h.hub.DropAll(conn)
		_ = conn.Close()
	}()

	identity, err := h.sessions.ValidateCookieHeader(r.Context(), r.Header.Get("Cookie"))
	if err != nil {
		h.logger.Printf("ws auth rejected conn=%s err=%v", conn.ID(), err)
		conn.closePolicyViolation("authentication failed")
		return
	}
	h.hub.MarkAuthenticated(conn, identity.UserID, identity.SessionID)
	h.logger.Printf("ws connected conn=%s user=%s", conn.ID(), identity.UserID)

	for {
		data, err := conn.read()
		if err != nil {
			return
		}
		h.dispatch(r.Context(), conn, data)
	}
}

// dispatch routes one inbound message. Request-level failures are reported
// to the requesting connection only; they never close it and never touch
// other subscribers.
func (h *Handler) dispatch(ctx context.Context, c *Conn, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Printf("message handling panic conn=%s: %v", c.ID(), r)
			h.hub.sendError(c, "Internal error")
		}
	}()

	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.hub.sendError(c, errInvalidMessage)
		return
	}
	h.hub.metrics.messagesTotal.WithLabelValues(messageTypeLabel(msg.Type)).Inc()

	switch msg.Type {
	case msgTypeSubscribe:
		if msg.JobID <= 0 {
			h.hub.sendError(c, errInvalidMessage)
			return
		}
		h.hub.Subscribe(ctx, c, msg.JobID)
	case msgTypeUnsubscribe:
		if msg.JobID <= 0 {
			h.hub.sendError(c, errInvalidMessage)
			return
		}
		h.hub.Unsubscribe(c, msg.JobID)
	case msgTypePing:
		_ = c.Send(serverMessage{Type: "pong"})
	default:
		h.hub.sendError(c, errInvalidMessage)
	}
}
