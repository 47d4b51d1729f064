package realtime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dunamismax/docflow/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultLookupTimeout = 5 * time.Second

// JobReader is the slice of the job store the hub needs: ownership checks
// and subscribe-time snapshots. The hub never mutates job state.
type JobReader interface {
	GetJob(ctx context.Context, id int64) (domain.Job, bool, error)
}

// Hub tracks every live connection and, per job id, the set of connections
// subscribed to it. One instance is constructed at server startup and
// passed to everything that needs it.
//
// The mutex guards only the in-memory registry; job lookups run outside it.
type Hub struct {
	logger        *log.Logger
	jobs          JobReader
	lookupTimeout time.Duration
	metrics       *metrics

	mu          sync.RWMutex
	conns       map[*Conn]struct{}
	subscribers map[int64]map[*Conn]struct{}
}

func NewHub(logger *log.Logger, jobs JobReader) *Hub {
	return &Hub{
		logger:        logger,
		jobs:          jobs,
		lookupTimeout: defaultLookupTimeout,
		metrics:       newMetrics(),
		conns:         make(map[*Conn]struct{}),
		subscribers:   make(map[int64]map[*Conn]struct{}),
	}
}

// Collectors exposes the hub's metrics for registration in the API
// server's registry.
func (h *Hub) Collectors() []prometheus.Collector {
	return h.metrics.collectors()
}

// Register adds a freshly accepted connection in unauthenticated state.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.connectionsActive.Inc()
}

// MarkAuthenticated transitions a connection to authenticated; no-op if the
// connection already closed.
func (h *Hub) MarkAuthenticated(c *Conn, userID, sessionID string) {
	c.markAuthenticated(userID, sessionID)
}

// Subscribe applies a subscribe request. Ownership is re-verified against
// the store on every call; a store failure denies the request rather than
// authorizing it. On success the connection always receives a confirmation
// followed by a snapshot of current job state, so a subscriber never waits
// for the next pipeline event to learn where the job stands.
func (h *Hub) Subscribe(ctx context.Context, c *Conn, jobID int64) {
	userID, ok := c.Authenticated()
	if !ok {
		h.sendError(c, errAuthRequired)
		return
	}

	lookupCtx, cancel := context.WithTimeout(ctx, h.lookupTimeout)
	defer cancel()

	job, found, err := h.jobs.GetJob(lookupCtx, jobID)
	if err != nil {
		h.logger.Printf("subscribe lookup failed job_id=%d conn=%s err=%v", jobID, c.ID(), err)
		h.sendError(c, errJobNotFound)
		return
	}
	if !found {
		h.sendError(c, errJobNotFound)
		return
	}
	if job.UserID != userID {
		h.logger.Printf("subscribe denied job_id=%d conn=%s", jobID, c.ID())
		h.sendError(c, errJobNotAuthorized)
		return
	}

	h.mu.Lock()
	if c.Open() {
		set, ok := h.subscribers[jobID]
		if !ok {
			set = make(map[*Conn]struct{})
			h.subscribers[jobID] = set
		}
		if _, already := set[c]; !already {
			set[c] = struct{}{}
			h.metrics.subscriptionsActive.Inc()
		}
	}
	h.mu.Unlock()

	if err := c.Send(serverMessage{Type: "subscribed", JobID: jobID, Message: "Subscribed to job updates"}); err != nil {
		return
	}
	if err := c.Send(progressMessage{Type: "progress", ProgressEvent: EventFromJob(job)}); err != nil {
		h.logger.Printf("snapshot send failed job_id=%d conn=%s err=%v", jobID, c.ID(), err)
	}
}

// Unsubscribe removes the connection from the job's subscriber set and
// always confirms, whether or not a subscription existed.
func (h *Hub) Unsubscribe(c *Conn, jobID int64) {
	if _, ok := c.Authenticated(); !ok {
		h.sendError(c, errAuthRequired)
		return
	}

	h.mu.Lock()
	h.removeSubscriberLocked(c, jobID)
	h.mu.Unlock()

	_ = c.Send(serverMessage{Type: "unsubscribed", JobID: jobID, Message: "Unsubscribed from job updates"})
}

// DropAll removes the connection from every subscriber set it belongs to.
// Safe to call multiple times.
func (h *Hub) DropAll(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		h.metrics.connectionsActive.Dec()
	}
	for jobID := range h.subscribers {
		h.removeSubscriberLocked(c, jobID)
	}
}

// Broadcast delivers a progress event to every current subscriber of the
// job. Dead connections are collected during the sweep and pruned in one
// pass afterwards; the subscriber set is never mutated while iterating it
// for delivery. Broadcasting to zero subscribers is a no-op.
func (h *Hub) Broadcast(jobID int64, event ProgressEvent) {
	h.mu.RLock()
	set, ok := h.subscribers[jobID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Conn, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	msg := progressMessage{Type: "progress", ProgressEvent: event}
	var dead []*Conn
	for _, c := range targets {
		if !c.Open() {
			dead = append(dead, c)
			continue
		}
		if err := c.Send(msg); err != nil {
			h.logger.Printf("progress delivery failed job_id=%d conn=%s err=%v", jobID, c.ID(), err)
			dead = append(dead, c)
			continue
		}
		h.metrics.eventsDelivered.Inc()
	}
	h.metrics.broadcastsTotal.Inc()

	if len(dead) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range dead {
		h.removeSubscriberLocked(c, jobID)
	}
	h.mu.Unlock()
	h.metrics.deadConnsPruned.Add(float64(len(dead)))
}

// removeSubscriberLocked deletes the connection from one job's set and
// drops the set entirely once empty, so memory stays bounded by jobs with
// live subscribers. Caller holds h.mu.
func (h *Hub) removeSubscriberLocked(c *Conn, jobID int64) {
	set, ok := h.subscribers[jobID]
	if !ok {
		return
	}
	if _, member := set[c]; !member {
		return
	}
	delete(set, c)
	h.metrics.subscriptionsActive.Dec()
	if len(set) == 0 {
		delete(h.subscribers, jobID)
	}
}

func (h *Hub) sendError(c *Conn, message string) {
	if err := c.Send(serverMessage{Type: "error", Message: message}); err != nil {
		h.logger.Printf("error reply failed conn=%s err=%v", c.ID(), err)
	}
}
