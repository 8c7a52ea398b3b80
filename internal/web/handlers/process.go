package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kozaktomas/lens-cleaner/internal/database"
)

// defaultEmbedConcurrency is the number of parallel embedding requests.
const defaultEmbedConcurrency = 5

// Embedder computes an embedding vector for raw image data.
type Embedder interface {
	ComputeEmbedding(ctx context.Context, imageData []byte) ([]float32, error)
}

// ProcessJob represents an async embedding computation job
type ProcessJob struct {
	EventBroadcaster

	ID              string            `json:"id"`
	Status          JobStatus         `json:"status"`
	TotalPhotos     int               `json:"total_photos"`
	ProcessedPhotos int               `json:"processed_photos"`
	Error           string            `json:"error,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	Options         ProcessJobOptions `json:"options"`
	Result          *ProcessJobResult `json:"result,omitempty"`

	cancel context.CancelFunc
}

// ProcessJobOptions represents options for a process job
type ProcessJobOptions struct {
	Concurrency int `json:"concurrency"`
	Limit       int `json:"limit"`
}

// ProcessJobResult represents the result of a process job
type ProcessJobResult struct {
	EmbedSuccess int64 `json:"embed_success"`
	EmbedError   int64 `json:"embed_error"`
}

// GetStatus returns the current job status (implements SSEJob).
func (j *ProcessJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Cancel cancels the process job.
func (j *ProcessJob) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
	j.mu.Lock()
	j.Status = JobStatusCancelled
	j.mu.Unlock()
	j.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled by user"})
}

// ProcessJobManager manages process jobs (only one at a time)
type ProcessJobManager struct {
	activeJob *ProcessJob
	mu        sync.RWMutex
}

// NewProcessJobManager creates a new process job manager
func NewProcessJobManager() *ProcessJobManager {
	return &ProcessJobManager{}
}

// GetActiveJob returns the currently active job
func (m *ProcessJobManager) GetActiveJob() *ProcessJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeJob
}

// GetJob returns a job by ID
func (m *ProcessJobManager) GetJob(id string) *ProcessJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeJob != nil && m.activeJob.ID == id {
		return m.activeJob
	}
	return nil
}

// SetActiveJob sets the active job
func (m *ProcessJobManager) SetActiveJob(job *ProcessJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeJob = job
}

// ProcessHandler handles embedding computation endpoints
type ProcessHandler struct {
	photos     database.PhotoRepository
	embedder   Embedder
	jobManager *ProcessJobManager
}

// NewProcessHandler creates a new process handler
func NewProcessHandler(photos database.PhotoRepository, embedder Embedder) *ProcessHandler {
	return &ProcessHandler{
		photos:     photos,
		embedder:   embedder,
		jobManager: NewProcessJobManager(),
	}
}

// ProcessStartRequest represents a request to start embedding computation
type ProcessStartRequest struct {
	Concurrency int `json:"concurrency"`
	Limit       int `json:"limit"`
}

// StartEmbeddings starts an async embedding computation job for ingested photos.
func (h *ProcessHandler) StartEmbeddings(w http.ResponseWriter, r *http.Request) {
	// Check no job already running
	if active := h.jobManager.GetActiveJob(); active != nil {
		status := active.GetStatus()
		if status == JobStatusRunning || status == JobStatusPending {
			respondError(w, http.StatusConflict, "a process job is already running")
			return
		}
	}

	var req ProcessStartRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}

	if req.Concurrency <= 0 {
		req.Concurrency = defaultEmbedConcurrency
	}

	job := &ProcessJob{
		ID:        uuid.New().String(),
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		Options: ProcessJobOptions{
			Concurrency: req.Concurrency,
			Limit:       req.Limit,
		},
	}
	h.jobManager.SetActiveJob(job)

	go h.runProcessJob(job)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(JobStatusPending),
	})
}

// Events streams process job events via SSE
func (h *ProcessHandler) Events(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	flusher, ok := setupSSEConnection(w)
	if !ok {
		return
	}

	eventCh := job.AddListener()
	defer job.RemoveListener(eventCh)

	sendSSEEvent(w, flusher, "status", job)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
			if isJobTerminal(job.GetStatus()) {
				return
			}
		}
	}
}

// CancelJob cancels a running process job
func (h *ProcessHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job := h.jobManager.GetJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// runProcessJob executes the embedding job in the background
func (h *ProcessHandler) runProcessJob(job *ProcessJob) {
	ctx, cancel := context.WithCancel(context.Background())
	job.cancel = cancel
	defer cancel()

	job.mu.Lock()
	job.Status = JobStatusRunning
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "started", Message: "Embedding computation started"})

	photos, err := h.photos.ListPhotos(ctx, database.PhotoStatusIngested, job.Options.Limit)
	if err != nil {
		h.failJob(job, fmt.Sprintf("failed to list photos: %v", err))
		return
	}

	job.mu.Lock()
	job.TotalPhotos = len(photos)
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "photos_counted", Data: map[string]int{"total": len(photos)}})

	if len(photos) == 0 {
		h.completeJob(job, 0, 0)
		return
	}

	var embedSuccess, embedError, processedCount int64

	sem := make(chan struct{}, job.Options.Concurrency)
	var wg sync.WaitGroup

	for _, photo := range photos {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(photo *database.Photo) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := h.embedPhoto(ctx, photo); err != nil {
				atomic.AddInt64(&embedError, 1)
				log.Printf("Failed to embed photo %s: %v", sanitizeForLog(photo.ID), err)
			} else {
				atomic.AddInt64(&embedSuccess, 1)
			}

			n := atomic.AddInt64(&processedCount, 1)
			job.mu.Lock()
			job.ProcessedPhotos = int(n)
			job.mu.Unlock()
			job.SendEvent(JobEvent{Type: "progress", Data: map[string]int64{
				"processed": n,
				"total":     int64(len(photos)),
			}})
		}(photo)
	}

	wg.Wait()

	if ctx.Err() != nil {
		// Cancel already set the status and sent the event.
		return
	}

	h.completeJob(job, embedSuccess, embedError)
}

// embedPhoto computes and stores the embedding for a single photo.
// A failed photo is marked failed so it is not retried on the next run.
func (h *ProcessHandler) embedPhoto(ctx context.Context, photo *database.Photo) error {
	vector, err := h.embedder.ComputeEmbedding(ctx, photo.ImageBlob)
	if err != nil {
		if markErr := h.photos.UpdatePhotoStatus(ctx, photo.ID, database.PhotoStatusFailed); markErr != nil {
			log.Printf("Failed to mark photo %s as failed: %v", sanitizeForLog(photo.ID), markErr)
		}
		return err
	}
	return h.photos.UpdatePhotoEmbedding(ctx, photo.ID, vector)
}

func (h *ProcessHandler) completeJob(job *ProcessJob, embedSuccess, embedError int64) {
	now := time.Now()
	job.mu.Lock()
	job.Status = JobStatusCompleted
	job.CompletedAt = &now
	job.Result = &ProcessJobResult{
		EmbedSuccess: embedSuccess,
		EmbedError:   embedError,
	}
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "completed", Data: job.Result})
}

func (h *ProcessHandler) failJob(job *ProcessJob, message string) {
	now := time.Now()
	job.mu.Lock()
	job.Status = JobStatusFailed
	job.Error = message
	job.CompletedAt = &now
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "failed", Message: message})
}
