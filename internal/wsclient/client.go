// Package wsclient implements the subscriber side of the realtime protocol:
// a websocket client that authenticates with a session cookie, tracks which
// job subscriptions the server has confirmed, and transparently reconnects
// and resubscribes after transport failures.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

// State is the connection lifecycle. Authenticated is reached after the
// post-dial settle delay; the server closes unauthenticated connections well
// within it.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticated
)

// ErrPermanentlyDown is returned when the server rejects the session or the
// reconnect budget is exhausted.
var ErrPermanentlyDown = errors.New("realtime connection permanently down")

const (
	defaultSettleDelay    = 200 * time.Millisecond
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultMaxReconnects  = 5
	writeTimeout          = 10 * time.Second
)

type ProgressUpdate struct {
	JobID        int64   `json:"jobId"`
	Status       string  `json:"status"`
	Progress     int     `json:"progress"`
	CurrentStep  string  `json:"currentStep"`
	ErrorMessage *string `json:"errorMessage"`
}

type Config struct {
	URL    string
	Cookie string

	SettleDelay    time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxReconnectAttempts bounds consecutive failed reconnects. A session
	// that authenticates and receives traffic resets the budget.
	MaxReconnectAttempts int

	// OnProgress receives every progress event, snapshots included.
	OnProgress func(ProgressUpdate)
	// OnDown is invoked once when the client gives up for good.
	OnDown func(error)

	Logger *log.Logger
}

type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	writeMu sync.Mutex
	// pending holds job ids whose subscribe request is unconfirmed; active
	// holds confirmed ones. A job id lives in exactly one of the two.
	pending map[int64]struct{}
	active  map[int64]struct{}
	// healthy marks a session that authenticated and received at least one
	// server frame. Such a session resets the reconnect budget, so the
	// attempt ceiling bounds consecutive failures rather than lifetime
	// disconnects.
	healthy bool
}

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("url is required")
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnects
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &Client{
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		pending: make(map[int64]struct{}),
		active:  make(map[int64]struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers interest in a job. If the connection is authenticated
// the request goes out immediately; otherwise it is sent on the next
// (re)connect. Safe to call at any time.
func (c *Client) Subscribe(jobID int64) error {
	c.mu.Lock()
	if _, ok := c.active[jobID]; ok {
		c.mu.Unlock()
		return nil
	}
	c.pending[jobID] = struct{}{}
	send := c.state == StateAuthenticated
	c.mu.Unlock()

	if !send {
		return nil
	}
	return c.writeJSON(map[string]any{"type": "subscribe", "jobId": jobID})
}

// Unsubscribe withdraws interest in a job.
func (c *Client) Unsubscribe(jobID int64) error {
	c.mu.Lock()
	delete(c.pending, jobID)
	delete(c.active, jobID)
	send := c.state == StateAuthenticated
	c.mu.Unlock()

	if !send {
		return nil
	}
	return c.writeJSON(map[string]any{"type": "unsubscribe", "jobId": jobID})
}

// Ping sends an application-level keepalive.
func (c *Client) Ping() error {
	return c.writeJSON(map[string]any{"type": "ping"})
}

// Run connects and services the websocket until the context is cancelled,
// the server closes cleanly, or the reconnect budget runs out. Every
// reconnect resends the union of pending and active subscriptions and waits
// for fresh confirmations.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.Reset()

	attempts := 0
	for {
		err := c.runOnce(ctx)

		wasHealthy := c.demote()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			// Clean close from the server.
			return nil
		}

		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			switch closeErr.Code {
			case websocket.CloseNormalClosure:
				return nil
			case websocket.ClosePolicyViolation:
				// Session rejected; retrying cannot help.
				down := fmt.Errorf("%w: %v", ErrPermanentlyDown, err)
				c.notifyDown(down)
				return down
			}
		}

		if wasHealthy {
			attempts = 0
			bo.Reset()
		}
		attempts++
		if attempts >= c.cfg.MaxReconnectAttempts {
			down := fmt.Errorf("%w after %d attempts: %v", ErrPermanentlyDown, attempts, err)
			c.notifyDown(down)
			return down
		}

		wait := bo.NextBackOff()
		c.cfg.Logger.Printf("realtime client reconnecting in %s attempt=%d err=%v", wait, attempts, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	c.setState(StateConnecting)

	header := http.Header{}
	if c.cfg.Cookie != "" {
		header.Set("Cookie", c.cfg.Cookie)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: status=%d: %w", c.cfg.URL, resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	// Give the server time to validate the session; a rejected cookie
	// surfaces as a policy-violation close during the delay.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.SettleDelay):
	}

	if err := c.resubscribe(); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.markHealthy()
		c.dispatch(data)
	}
}

// demote records the disconnect: confirmed subscriptions fold back into
// pending immediately, not on the next connect, so ActiveSubscriptions never
// reports ids the server has stopped serving. Returns whether the dropped
// session had been healthy and clears the flag for the next one.
func (c *Client) demote() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateDisconnected
	for jobID := range c.active {
		c.pending[jobID] = struct{}{}
	}
	c.active = make(map[int64]struct{})
	wasHealthy := c.healthy
	c.healthy = false
	return wasHealthy
}

// resubscribe resends every pending request, so the new connection rebuilds
// the full subscription set from scratch.
func (c *Client) resubscribe() error {
	c.mu.Lock()
	c.state = StateAuthenticated
	ids := make([]int64, 0, len(c.pending))
	for jobID := range c.pending {
		ids = append(ids, jobID)
	}
	c.mu.Unlock()

	for _, jobID := range ids {
		if err := c.writeJSON(map[string]any{"type": "subscribe", "jobId": jobID}); err != nil {
			return fmt.Errorf("resubscribe job %d: %w", jobID, err)
		}
	}
	return nil
}

func (c *Client) dispatch(data []byte) {
	var msg struct {
		Type    string `json:"type"`
		JobID   int64  `json:"jobId"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.cfg.Logger.Printf("realtime client dropped malformed frame: %v", err)
		return
	}

	switch msg.Type {
	case "subscribed":
		c.mu.Lock()
		if _, ok := c.pending[msg.JobID]; ok {
			delete(c.pending, msg.JobID)
			c.active[msg.JobID] = struct{}{}
		}
		c.mu.Unlock()
	case "unsubscribed":
		c.mu.Lock()
		delete(c.active, msg.JobID)
		delete(c.pending, msg.JobID)
		c.mu.Unlock()
	case "progress":
		var update ProgressUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			c.cfg.Logger.Printf("realtime client dropped malformed progress frame: %v", err)
			return
		}
		if c.cfg.OnProgress != nil {
			c.cfg.OnProgress(update)
		}
	case "error":
		c.cfg.Logger.Printf("realtime server error: %s", msg.Message)
	case "pong":
	default:
		c.cfg.Logger.Printf("realtime client ignoring frame type=%q", msg.Type)
	}
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) markHealthy() {
	c.mu.Lock()
	c.healthy = true
	c.mu.Unlock()
}

func (c *Client) notifyDown(err error) {
	if c.cfg.OnDown != nil {
		c.cfg.OnDown(err)
	}
}

// ActiveSubscriptions returns the confirmed job ids, mainly for tests and
// introspection.
func (c *Client) ActiveSubscriptions() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, 0, len(c.active))
	for jobID := range c.active {
		ids = append(ids, jobID)
	}
	return ids
}
