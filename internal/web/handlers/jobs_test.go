package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/lens-cleaner/internal/batch"
	"github.com/kozaktomas/lens-cleaner/internal/database"
	"github.com/kozaktomas/lens-cleaner/internal/database/mock"
)

// fakeOrchestrator returns scripted results for Submit and Cancel
type fakeOrchestrator struct {
	submitJob *database.BatchJob
	submitErr error
	cancelJob *database.BatchJob
	cancelErr error
}

func (f *fakeOrchestrator) Submit(ctx context.Context) (*database.BatchJob, error) {
	return f.submitJob, f.submitErr
}

func (f *fakeOrchestrator) Cancel(ctx context.Context, jobID string) (*database.BatchJob, error) {
	return f.cancelJob, f.cancelErr
}

func seedJob(t *testing.T, repo *mock.MockRepository, id string, state database.JobState) *database.BatchJob {
	t.Helper()
	job := &database.BatchJob{
		ID:                id,
		State:             state,
		Provider:          "gemini",
		SubmittedRequests: 3,
	}
	if err := repo.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("failed to seed job: %v", err)
	}
	return job
}

func TestCreateJob(t *testing.T) {
	repo := mock.NewMockRepository()
	orchestrator := &fakeOrchestrator{
		submitJob: &database.BatchJob{
			ID:                "job-1",
			State:             database.JobStateRunning,
			Provider:          "gemini",
			SubmittedRequests: 2,
		},
	}
	handler := NewJobsHandler(repo, orchestrator, NewJobEvents())

	req := httptest.NewRequest("POST", "/api/v1/jobs", nil)
	recorder := httptest.NewRecorder()

	handler.Create(recorder, req)

	assertStatusCode(t, recorder, http.StatusCreated)

	var result jobResponse
	parseJSONResponse(t, recorder, &result)
	if result.ID != "job-1" {
		t.Errorf("expected job-1, got %s", result.ID)
	}
	if result.State != string(database.JobStateRunning) {
		t.Errorf("expected running state, got %s", result.State)
	}
}

func TestCreateJobNoEligibleGroups(t *testing.T) {
	handler := NewJobsHandler(mock.NewMockRepository(),
		&fakeOrchestrator{submitErr: batch.ErrNoEligibleGroups}, NewJobEvents())

	req := httptest.NewRequest("POST", "/api/v1/jobs", nil)
	recorder := httptest.NewRecorder()

	handler.Create(recorder, req)

	assertStatusCode(t, recorder, http.StatusConflict)
	assertJSONError(t, recorder, "no photo groups eligible for analysis")
}

func TestCreateJobSubmissionFailure(t *testing.T) {
	failed := "uploading request file: connection refused"
	handler := NewJobsHandler(mock.NewMockRepository(), &fakeOrchestrator{
		submitJob: &database.BatchJob{
			ID:           "job-1",
			State:        database.JobStateCreated,
			Provider:     "gemini",
			ErrorMessage: &failed,
		},
		submitErr: errors.New(failed),
	}, NewJobEvents())

	req := httptest.NewRequest("POST", "/api/v1/jobs", nil)
	recorder := httptest.NewRecorder()

	handler.Create(recorder, req)

	assertStatusCode(t, recorder, http.StatusInternalServerError)

	var result jobResponse
	parseJSONResponse(t, recorder, &result)
	if result.State != string(database.JobStateCreated) {
		t.Errorf("expected the job record in its last good state, got %s", result.State)
	}
	if result.Error == nil || *result.Error != failed {
		t.Error("expected the submission error on the job record")
	}
}

func TestListJobs(t *testing.T) {
	repo := mock.NewMockRepository()
	seedJob(t, repo, "job-1", database.JobStateRunning)
	seedJob(t, repo, "job-2", database.JobStateSucceeded)
	handler := NewJobsHandler(repo, &fakeOrchestrator{}, NewJobEvents())

	req := httptest.NewRequest("GET", "/api/v1/jobs", nil)
	recorder := httptest.NewRecorder()

	handler.List(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result struct {
		Jobs  []jobResponse `json:"jobs"`
		Count int           `json:"count"`
	}
	parseJSONResponse(t, recorder, &result)
	if result.Count != 2 {
		t.Errorf("expected 2 jobs, got %d", result.Count)
	}
}

func TestGetJob(t *testing.T) {
	repo := mock.NewMockRepository()
	seedJob(t, repo, "job-1", database.JobStateRunning)
	handler := NewJobsHandler(repo, &fakeOrchestrator{}, NewJobEvents())

	req := httptest.NewRequest("GET", "/api/v1/jobs/job-1", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "job-1"})
	recorder := httptest.NewRecorder()

	handler.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result jobResponse
	parseJSONResponse(t, recorder, &result)
	if result.ID != "job-1" || result.SubmittedRequests != 3 {
		t.Errorf("unexpected job response: %+v", result)
	}
}

func TestGetJobNotFound(t *testing.T) {
	handler := NewJobsHandler(mock.NewMockRepository(), &fakeOrchestrator{}, NewJobEvents())

	req := httptest.NewRequest("GET", "/api/v1/jobs/missing", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "missing"})
	recorder := httptest.NewRecorder()

	handler.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestCancelJob(t *testing.T) {
	handler := NewJobsHandler(mock.NewMockRepository(), &fakeOrchestrator{
		cancelJob: &database.BatchJob{
			ID:       "job-1",
			State:    database.JobStateCancelled,
			Provider: "gemini",
		},
	}, NewJobEvents())

	req := httptest.NewRequest("DELETE", "/api/v1/jobs/job-1", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "job-1"})
	recorder := httptest.NewRecorder()

	handler.Cancel(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result jobResponse
	parseJSONResponse(t, recorder, &result)
	if result.State != string(database.JobStateCancelled) {
		t.Errorf("expected cancelled state, got %s", result.State)
	}
}

func TestCancelJobAlreadyFinished(t *testing.T) {
	handler := NewJobsHandler(mock.NewMockRepository(),
		&fakeOrchestrator{cancelErr: database.ErrInvalidTransition}, NewJobEvents())

	req := httptest.NewRequest("DELETE", "/api/v1/jobs/job-1", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "job-1"})
	recorder := httptest.NewRecorder()

	handler.Cancel(recorder, req)

	assertStatusCode(t, recorder, http.StatusConflict)
}

func TestCancelJobNotFound(t *testing.T) {
	handler := NewJobsHandler(mock.NewMockRepository(),
		&fakeOrchestrator{cancelErr: database.ErrNotFound}, NewJobEvents())

	req := httptest.NewRequest("DELETE", "/api/v1/jobs/missing", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "missing"})
	recorder := httptest.NewRecorder()

	handler.Cancel(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestJobEventsTerminalJobClosesAfterStatus(t *testing.T) {
	repo := mock.NewMockRepository()
	seedJob(t, repo, "job-1", database.JobStateSucceeded)
	handler := NewJobsHandler(repo, &fakeOrchestrator{}, NewJobEvents())

	req := httptest.NewRequest("GET", "/api/v1/jobs/job-1/events", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "job-1"})
	recorder := httptest.NewRecorder()

	handler.Events(recorder, req)

	if ct := recorder.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event stream content type, got %s", ct)
	}
	body := recorder.Body.String()
	if !strings.Contains(body, "event: status") {
		t.Errorf("expected initial status event, got %q", body)
	}
}

func TestJobEventsStreamsUntilTerminal(t *testing.T) {
	repo := mock.NewMockRepository()
	job := seedJob(t, repo, "job-1", database.JobStateRunning)
	events := NewJobEvents()
	handler := NewJobsHandler(repo, &fakeOrchestrator{}, events)

	req := httptest.NewRequest("GET", "/api/v1/jobs/job-1/events", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "job-1"})
	recorder := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.Events(recorder, req)
	}()

	// Wait for the handler to subscribe, then publish a terminal update.
	deadline := time.Now().Add(5 * time.Second)
	for {
		events.Publish(&database.BatchJob{ID: job.ID, State: database.JobStateSucceeded, Provider: "gemini"})
		select {
		case <-done:
		case <-time.After(10 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("handler never saw the terminal event")
			}
			continue
		}
		break
	}

	body := recorder.Body.String()
	if !strings.Contains(body, "event: succeeded") {
		t.Errorf("expected succeeded event in stream, got %q", body)
	}
}
