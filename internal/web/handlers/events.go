package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/kozaktomas/lens-cleaner/internal/constants"
	"github.com/kozaktomas/lens-cleaner/internal/database"
)

// JobStatus represents the status of an in-memory async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// isJobTerminal returns true if the job status is a terminal state
func isJobTerminal(status JobStatus) bool {
	return status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled
}

// JobEvent represents an event streamed to SSE listeners.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
type EventBroadcaster struct {
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// JobEvents fans persisted batch job updates out to per-job SSE listeners.
// Publish is wired as the orchestrator's update listener.
type JobEvents struct {
	broadcasters map[string]*EventBroadcaster
	mu           sync.Mutex
}

// NewJobEvents creates an empty event registry.
func NewJobEvents() *JobEvents {
	return &JobEvents{
		broadcasters: make(map[string]*EventBroadcaster),
	}
}

// Broadcaster returns the broadcaster for a job, creating it on first use.
func (e *JobEvents) Broadcaster(jobID string) *EventBroadcaster {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.broadcasters[jobID]
	if !ok {
		b = &EventBroadcaster{}
		e.broadcasters[jobID] = b
	}
	return b
}

// Publish sends a state-change event for a persisted job update.
// The event type is the job state so listeners can detect terminal states.
func (e *JobEvents) Publish(job *database.BatchJob) {
	e.Broadcaster(job.ID).SendEvent(JobEvent{
		Type: string(job.State),
		Data: newJobResponse(job),
	})
	if job.State.IsTerminal() {
		e.drop(job.ID)
	}
}

// drop forgets the broadcaster once a job is terminal. Connected listeners
// keep their channels, new listeners get a fresh empty broadcaster.
func (e *JobEvents) drop(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.broadcasters, jobID)
}

// sendSSEEvent writes a single SSE event frame and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

// setupSSEConnection sets response headers for an event stream and returns the flusher.
func setupSSEConnection(w http.ResponseWriter) (http.Flusher, bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}
	return flusher, true
}
