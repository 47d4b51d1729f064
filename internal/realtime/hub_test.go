package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/docflow/internal/domain"
)

type fakeSocket struct {
	mu       sync.Mutex
	frames   [][]byte
	writeErr error
	closed   bool
}

func (s *fakeSocket) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.frames = append(s.frames, data)
	return nil
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	return 0, nil, io.EOF
}

func (s *fakeSocket) WriteControl(int, []byte, time.Time) error { return nil }
func (s *fakeSocket) SetWriteDeadline(time.Time) error          { return nil }

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) frame(t *testing.T, i int) map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.frames) {
		t.Fatalf("expected at least %d frames, got %d", i+1, len(s.frames))
	}
	var decoded map[string]any
	if err := json.Unmarshal(s.frames[i], &decoded); err != nil {
		t.Fatalf("decode frame %d: %v", i, err)
	}
	return decoded
}

func (s *fakeSocket) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type fakeJobReader struct {
	jobs map[int64]domain.Job
	err  error
}

func (r *fakeJobReader) GetJob(_ context.Context, id int64) (domain.Job, bool, error) {
	if r.err != nil {
		return domain.Job{}, false, r.err
	}
	job, ok := r.jobs[id]
	return job, ok, nil
}

func newTestHub(jobs *fakeJobReader) *Hub {
	return NewHub(log.New(io.Discard, "", 0), jobs)
}

func authedConn(hub *Hub, userID string) (*Conn, *fakeSocket) {
	sock := &fakeSocket{}
	c := newConn(sock)
	hub.Register(c)
	hub.MarkAuthenticated(c, userID, "sess-"+userID)
	return c, sock
}

func (h *Hub) subscriberCount(jobID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[jobID])
}

func TestSubscribeSendsConfirmationThenSnapshot(t *testing.T) {
	hub := newTestHub(&fakeJobReader{jobs: map[int64]domain.Job{
		7: {
			ID:          7,
			UserID:      "user-1",
			Status:      domain.JobStatusProcessing,
			Progress:    60,
			CurrentStep: "Structuring content with AI...",
		},
	}})
	c, sock := authedConn(hub, "user-1")

	hub.Subscribe(context.Background(), c, 7)

	confirm := sock.frame(t, 0)
	if confirm["type"] != "subscribed" || confirm["jobId"] != float64(7) {
		t.Fatalf("unexpected confirmation: %v", confirm)
	}

	snapshot := sock.frame(t, 1)
	if snapshot["type"] != "progress" {
		t.Fatalf("expected snapshot after confirmation, got %v", snapshot)
	}
	if snapshot["status"] != domain.JobStatusProcessing || snapshot["progress"] != float64(60) {
		t.Fatalf("snapshot must reflect stored state: %v", snapshot)
	}
	if snapshot["currentStep"] != "Structuring content with AI..." {
		t.Fatalf("unexpected step label: %v", snapshot["currentStep"])
	}
	if msg, present := snapshot["errorMessage"]; !present || msg != nil {
		t.Fatalf("errorMessage must be an explicit null: %v", snapshot)
	}

	if hub.subscriberCount(7) != 1 {
		t.Fatalf("expected one subscriber, got %d", hub.subscriberCount(7))
	}
}

func TestSubscribeSnapshotDefaultsForFreshJob(t *testing.T) {
	hub := newTestHub(&fakeJobReader{jobs: map[int64]domain.Job{
		3: {ID: 3, UserID: "user-1"},
	}})
	c, sock := authedConn(hub, "user-1")

	hub.Subscribe(context.Background(), c, 3)

	snapshot := sock.frame(t, 1)
	if snapshot["status"] != domain.JobStatusPending {
		t.Fatalf("expected default status PENDING, got %v", snapshot["status"])
	}
	if snapshot["progress"] != float64(0) {
		t.Fatalf("expected default progress 0, got %v", snapshot["progress"])
	}
	if snapshot["currentStep"] != "Starting..." {
		t.Fatalf("expected default step label, got %v", snapshot["currentStep"])
	}
}

func TestSubscribeRequiresAuthentication(t *testing.T) {
	hub := newTestHub(&fakeJobReader{jobs: map[int64]domain.Job{
		7: {ID: 7, UserID: "user-1"},
	}})
	sock := &fakeSocket{}
	c := newConn(sock)
	hub.Register(c)

	hub.Subscribe(context.Background(), c, 7)

	reply := sock.frame(t, 0)
	if reply["type"] != "error" || reply["message"] != "Authentication required" {
		t.Fatalf("expected authentication error, got %v", reply)
	}
	if hub.subscriberCount(7) != 0 {
		t.Fatal("unauthenticated connection must not be inserted")
	}
}

func TestSubscribeRejectsForeignJob(t *testing.T) {
	hub := newTestHub(&fakeJobReader{jobs: map[int64]domain.Job{
		42: {ID: 42, UserID: "user-b"},
	}})
	c, sock := authedConn(hub, "user-a")

	hub.Subscribe(context.Background(), c, 42)

	reply := sock.frame(t, 0)
	if reply["type"] != "error" || reply["message"] != "Not authorized to access this job" {
		t.Fatalf("expected authorization error, got %v", reply)
	}
	if hub.subscriberCount(42) != 0 {
		t.Fatal("subscriber set must remain unchanged after denial")
	}
}

func TestSubscribeUnknownJob(t *testing.T) {
	hub := newTestHub(&fakeJobReader{})
	c, sock := authedConn(hub, "user-1")

	hub.Subscribe(context.Background(), c, 99)

	reply := sock.frame(t, 0)
	if reply["type"] != "error" || reply["message"] != "Job not found" {
		t.Fatalf("expected not-found error, got %v", reply)
	}
}

func TestSubscribeStoreErrorFailsClosed(t *testing.T) {
	hub := newTestHub(&fakeJobReader{err: errors.New("db down")})
	c, sock := authedConn(hub, "user-1")

	hub.Subscribe(context.Background(), c, 7)

	reply := sock.frame(t, 0)
	if reply["type"] != "error" {
		t.Fatalf("store error must deny the subscription, got %v", reply)
	}
	if hub.subscriberCount(7) != 0 {
		t.Fatal("store error must not insert a subscriber")
	}
}

func TestSubscribeTwiceIsIdempotent(t *testing.T) {
	hub := newTestHub(&fakeJobReader{jobs: map[int64]domain.Job{
		7: {ID: 7, UserID: "user-1", Status: domain.JobStatusProcessing},
	}})
	c, sock := authedConn(hub, "user-1")

	hub.Subscribe(context.Background(), c, 7)
	hub.Subscribe(context.Background(), c, 7)

	if hub.subscriberCount(7) != 1 {
		t.Fatalf("expected subscriber set size 1, got %d", hub.subscriberCount(7))
	}
	// Both calls must produce a confirmation plus a fresh snapshot.
	if sock.frameCount() != 4 {
		t.Fatalf("expected 4 frames, got %d", sock.frameCount())
	}
	if second := sock.frame(t, 2); second["type"] != "subscribed" {
		t.Fatalf("second subscribe must still confirm, got %v", second)
	}
	if snapshot := sock.frame(t, 3); snapshot["type"] != "progress" {
		t.Fatalf("second subscribe must still send a snapshot, got %v", snapshot)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	hub := newTestHub(&fakeJobReader{jobs: map[int64]domain.Job{
		7: {ID: 7, UserID: "user-1"},
	}})
	c, sock := authedConn(hub, "user-1")

	// Never subscribed: still confirmed, state untouched.
	hub.Unsubscribe(c, 7)
	reply := sock.frame(t, 0)
	if reply["type"] != "unsubscribed" || reply["jobId"] != float64(7) {
		t.Fatalf("expected unsubscribed confirmation, got %v", reply)
	}

	hub.Subscribe(context.Background(), c, 7)
	hub.Unsubscribe(c, 7)
	if hub.subscriberCount(7) != 0 {
		t.Fatal("expected empty subscriber set after unsubscribe")
	}
	hub.mu.RLock()
	_, retained := hub.subscribers[7]
	hub.mu.RUnlock()
	if retained {
		t.Fatal("empty subscriber sets must be removed, not retained")
	}
}

func TestBroadcastDeliversToAllSubscribersOfJobOnly(t *testing.T) {
	hub := newTestHub(&fakeJobReader{jobs: map[int64]domain.Job{
		7: {ID: 7, UserID: "user-1"},
		9: {ID: 9, UserID: "user-2"},
	}})
	c1, sock1 := authedConn(hub, "user-1")
	c2, sock2 := authedConn(hub, "user-1")
	c3, sock3 := authedConn(hub, "user-2")

	hub.Subscribe(context.Background(), c1, 7)
	hub.Subscribe(context.Background(), c2, 7)
	hub.Subscribe(context.Background(), c3, 9)
	before1, before2, before3 := sock1.frameCount(), sock2.frameCount(), sock3.frameCount()

	hub.Broadcast(7, ProgressEvent{JobID: 7, Status: domain.JobStatusCompleted, Progress: 100, CurrentStep: "Completed"})

	for _, tc := range []struct {
		sock *fakeSocket
		prev int
	}{{sock1, before1}, {sock2, before2}} {
		if tc.sock.frameCount() != tc.prev+1 {
			t.Fatalf("expected exactly one new frame per subscriber, got %d", tc.sock.frameCount()-tc.prev)
		}
		event := tc.sock.frame(t, tc.prev)
		if event["type"] != "progress" || event["status"] != domain.JobStatusCompleted || event["progress"] != float64(100) {
			t.Fatalf("unexpected broadcast frame: %v", event)
		}
	}
	if sock3.frameCount() != before3 {
		t.Fatal("subscriber of a different job must not receive the event")
	}
}

func TestBroadcastWithoutSubscribersIsNoop(t *testing.T) {
	hub := newTestHub(&fakeJobReader{})

	hub.Broadcast(123, ProgressEvent{JobID: 123, Status: domain.JobStatusProcessing})

	hub.mu.RLock()
	_, created := hub.subscribers[123]
	hub.mu.RUnlock()
	if created {
		t.Fatal("broadcast must not create a registry entry")
	}
}

func TestBroadcastPrunesDeadConnections(t *testing.T) {
	hub := newTestHub(&fakeJobReader{jobs: map[int64]domain.Job{
		7: {ID: 7, UserID: "user-1"},
	}})
	c, _ := authedConn(hub, "user-1")
	hub.Subscribe(context.Background(), c, 7)

	_ = c.Close()
	hub.Broadcast(7, ProgressEvent{JobID: 7, Status: domain.JobStatusProcessing, Progress: 10})

	if hub.subscriberCount(7) != 0 {
		t.Fatal("dead connection must be pruned from the subscriber set")
	}
	hub.mu.RLock()
	_, retained := hub.subscribers[7]
	hub.mu.RUnlock()
	if retained {
		t.Fatal("sole subscriber pruned: the job entry must be deleted")
	}
}

func TestBroadcastPrunesConnectionsWithFailingTransport(t *testing.T) {
	hub := newTestHub(&fakeJobReader{jobs: map[int64]domain.Job{
		7: {ID: 7, UserID: "user-1"},
	}})
	healthy, healthySock := authedConn(hub, "user-1")
	failing, failingSock := authedConn(hub, "user-1")

	hub.Subscribe(context.Background(), healthy, 7)
	hub.Subscribe(context.Background(), failing, 7)
	failingSock.mu.Lock()
	failingSock.writeErr = errors.New("broken pipe")
	failingSock.mu.Unlock()
	before := healthySock.frameCount()

	hub.Broadcast(7, ProgressEvent{JobID: 7, Status: domain.JobStatusProcessing, Progress: 40})

	if healthySock.frameCount() != before+1 {
		t.Fatal("a failing subscriber must not block delivery to the others")
	}
	if hub.subscriberCount(7) != 1 {
		t.Fatalf("expected only the healthy subscriber to remain, got %d", hub.subscriberCount(7))
	}
	if failing.Open() {
		t.Fatal("failed send must mark the connection dead")
	}
}

func TestDropAllRemovesConnectionEverywhere(t *testing.T) {
	hub := newTestHub(&fakeJobReader{jobs: map[int64]domain.Job{
		7: {ID: 7, UserID: "user-1"},
		9: {ID: 9, UserID: "user-1"},
	}})
	c, _ := authedConn(hub, "user-1")
	other, _ := authedConn(hub, "user-1")

	hub.Subscribe(context.Background(), c, 7)
	hub.Subscribe(context.Background(), c, 9)
	hub.Subscribe(context.Background(), other, 7)

	hub.DropAll(c)
	hub.DropAll(c) // must be safe to call twice

	if hub.subscriberCount(7) != 1 {
		t.Fatalf("expected the other connection to survive, got %d subscribers", hub.subscriberCount(7))
	}
	if hub.subscriberCount(9) != 0 {
		t.Fatal("dropped connection must leave every subscriber set")
	}
}

func TestMarkAuthenticatedIgnoresClosedConnection(t *testing.T) {
	hub := newTestHub(&fakeJobReader{})
	sock := &fakeSocket{}
	c := newConn(sock)
	hub.Register(c)
	_ = c.Close()

	hub.MarkAuthenticated(c, "user-1", "sess-1")

	if _, ok := c.Authenticated(); ok {
		t.Fatal("closed connection must not become authenticated")
	}
}
