package realtime

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	closeTimeout = time.Second
)

var ErrConnClosed = errors.New("connection is closed")

// socket is the slice of *websocket.Conn the hub relies on; tests inject
// fakes through it.
type socket interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is the registry's handle to one live websocket peer. The hub owns it
// for its whole lifetime: created on handshake accept, destroyed on close
// or read error.
type Conn struct {
	id   string
	sock socket

	// gorilla sockets allow a single concurrent writer.
	writeMu sync.Mutex

	stateMu       sync.Mutex
	authenticated bool
	userID        string
	sessionID     string

	closed atomic.Bool
}

func newConn(sock socket) *Conn {
	return &Conn{
		id:   uuid.NewString(),
		sock: sock,
	}
}

func (c *Conn) ID() string {
	return c.id
}

// Open reports whether the transport is still usable for delivery.
func (c *Conn) Open() bool {
	return !c.closed.Load()
}

func (c *Conn) markAuthenticated(userID, sessionID string) {
	if !c.Open() {
		return
	}
	c.stateMu.Lock()
	c.authenticated = true
	c.userID = userID
	c.sessionID = sessionID
	c.stateMu.Unlock()
}

// Authenticated returns the verified user id, or ok=false before the
// handshake validation completed.
func (c *Conn) Authenticated() (string, bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.userID, c.authenticated
}

// Send delivers one JSON message. A write failure marks the connection
// dead; the caller treats it as a delivery failure, never a crash.
func (c *Conn) Send(v any) error {
	if !c.Open() {
		return ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.sock.WriteJSON(v); err != nil {
		c.closed.Store(true)
		return err
	}
	return nil
}

func (c *Conn) read() ([]byte, error) {
	_, data, err := c.sock.ReadMessage()
	return data, err
}

// Close is idempotent; repeated calls after the first are no-ops.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.sock.Close()
}

// closePolicyViolation rejects the connection with close status 1008, the
// outcome of a failed handshake authentication.
func (c *Conn) closePolicyViolation(reason string) {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = c.sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
	c.writeMu.Unlock()
	_ = c.Close()
}
