package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/lens-cleaner/internal/batch"
	"github.com/kozaktomas/lens-cleaner/internal/database"
)

// BatchOrchestrator is the subset of the batch orchestrator the handlers use.
type BatchOrchestrator interface {
	Submit(ctx context.Context) (*database.BatchJob, error)
	Cancel(ctx context.Context, jobID string) (*database.BatchJob, error)
}

// JobsHandler exposes batch analysis jobs over HTTP.
type JobsHandler struct {
	jobs         database.JobRepository
	orchestrator BatchOrchestrator
	events       *JobEvents
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(jobs database.JobRepository, orchestrator BatchOrchestrator, events *JobEvents) *JobsHandler {
	return &JobsHandler{
		jobs:         jobs,
		orchestrator: orchestrator,
		events:       events,
	}
}

// jobResponse is the JSON shape for a batch job.
type jobResponse struct {
	ID                   string     `json:"id"`
	State                string     `json:"state"`
	Provider             string     `json:"provider"`
	SubmittedRequests    int        `json:"submitted_requests"`
	ProcessedSuggestions int        `json:"processed_suggestions"`
	Error                *string    `json:"error,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

func newJobResponse(job *database.BatchJob) jobResponse {
	return jobResponse{
		ID:                   job.ID,
		State:                string(job.State),
		Provider:             job.Provider,
		SubmittedRequests:    job.SubmittedRequests,
		ProcessedSuggestions: job.ProcessedSuggestions,
		Error:                job.ErrorMessage,
		CreatedAt:            job.CreatedAt,
		UpdatedAt:            job.UpdatedAt,
		CompletedAt:          job.CompletedAt,
	}
}

// Create builds a request payload from the current groups and submits it
// to the external batch service.
func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	job, err := h.orchestrator.Submit(r.Context())
	if errors.Is(err, batch.ErrNoEligibleGroups) {
		respondError(w, http.StatusConflict, "no photo groups eligible for analysis")
		return
	}
	if err != nil {
		log.Printf("Failed to submit batch job: %v", err)
		if job != nil {
			// Submission failed partway, the job record carries the failure.
			respondJSON(w, http.StatusInternalServerError, newJobResponse(job))
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to submit batch job")
		return
	}

	respondJSON(w, http.StatusCreated, newJobResponse(job))
}

// List returns all batch jobs, newest first.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.ListJobs(r.Context())
	if err != nil {
		log.Printf("Failed to list jobs: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	responses := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, newJobResponse(job))
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"jobs":  responses,
		"count": len(responses),
	})
}

// Get returns a single batch job.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		log.Printf("Failed to load job %s: %v", sanitizeForLog(jobID), err)
		respondError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	respondJSON(w, http.StatusOK, newJobResponse(job))
}

// Cancel stops a running batch job and cleans up its remote artifacts.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job, err := h.orchestrator.Cancel(r.Context(), jobID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if errors.Is(err, database.ErrInvalidTransition) {
		respondError(w, http.StatusConflict, "job already finished")
		return
	}
	if err != nil {
		log.Printf("Failed to cancel job %s: %v", sanitizeForLog(jobID), err)
		respondError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	respondJSON(w, http.StatusOK, newJobResponse(job))
}

// Events streams job state changes via SSE until the job reaches a terminal state.
func (h *JobsHandler) Events(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		log.Printf("Failed to load job %s: %v", sanitizeForLog(jobID), err)
		respondError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	flusher, ok := setupSSEConnection(w)
	if !ok {
		return
	}

	broadcaster := h.events.Broadcaster(jobID)
	eventCh := broadcaster.AddListener()
	defer broadcaster.RemoveListener(eventCh)

	sendSSEEvent(w, flusher, "status", newJobResponse(job))
	if job.State.IsTerminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
			if database.JobState(event.Type).IsTerminal() {
				return
			}
		}
	}
}
