package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/lens-cleaner/internal/database"
	"github.com/kozaktomas/lens-cleaner/internal/database/mock"
)

// fakeEmbedder returns a fixed vector or a scripted error
type fakeEmbedder struct {
	err   error
	mu    sync.Mutex
	calls int
}

func (f *fakeEmbedder) ComputeEmbedding(ctx context.Context, imageData []byte) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

// waitForJobStatus polls until the job reaches a terminal status
func waitForJobStatus(t *testing.T, job *ProcessJob, want JobStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job.GetStatus() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job never reached status %s, stuck at %s", want, job.GetStatus())
}

func TestStartEmbeddings(t *testing.T) {
	repo := mock.NewMockRepository()
	embedder := &fakeEmbedder{}
	handler := NewProcessHandler(repo, embedder)

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	seedPhoto(t, repo, "photo-1", base, nil)
	seedPhoto(t, repo, "photo-2", base.Add(time.Minute), nil)

	req := httptest.NewRequest("POST", "/api/v1/process/embeddings", nil)
	recorder := httptest.NewRecorder()

	handler.StartEmbeddings(recorder, req)

	assertStatusCode(t, recorder, http.StatusAccepted)

	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	if result["job_id"] == "" {
		t.Fatal("expected job_id in response")
	}

	job := handler.jobManager.GetJob(result["job_id"])
	if job == nil {
		t.Fatal("expected job to be registered")
	}
	waitForJobStatus(t, job, JobStatusCompleted)

	if job.Result == nil || job.Result.EmbedSuccess != 2 {
		t.Fatalf("expected 2 successful embeddings, got %+v", job.Result)
	}

	for _, id := range []string{"photo-1", "photo-2"} {
		photo, err := repo.GetPhoto(context.Background(), id)
		if err != nil {
			t.Fatalf("failed to get photo %s: %v", id, err)
		}
		if photo.Status != database.PhotoStatusEmbedded {
			t.Errorf("expected %s embedded, got %s", id, photo.Status)
		}
		if !photo.HasEmbedding() {
			t.Errorf("expected %s to have an embedding", id)
		}
	}
}

func TestStartEmbeddingsNothingToDo(t *testing.T) {
	repo := mock.NewMockRepository()
	handler := NewProcessHandler(repo, &fakeEmbedder{})

	req := httptest.NewRequest("POST", "/api/v1/process/embeddings", nil)
	recorder := httptest.NewRecorder()

	handler.StartEmbeddings(recorder, req)

	assertStatusCode(t, recorder, http.StatusAccepted)

	job := handler.jobManager.GetActiveJob()
	if job == nil {
		t.Fatal("expected active job")
	}
	waitForJobStatus(t, job, JobStatusCompleted)

	if job.TotalPhotos != 0 {
		t.Errorf("expected 0 photos, got %d", job.TotalPhotos)
	}
}

func TestStartEmbeddingsConflict(t *testing.T) {
	repo := mock.NewMockRepository()
	handler := NewProcessHandler(repo, &fakeEmbedder{})

	handler.jobManager.SetActiveJob(&ProcessJob{
		ID:     "busy",
		Status: JobStatusRunning,
	})

	req := httptest.NewRequest("POST", "/api/v1/process/embeddings", nil)
	recorder := httptest.NewRecorder()

	handler.StartEmbeddings(recorder, req)

	assertStatusCode(t, recorder, http.StatusConflict)
}

func TestStartEmbeddingsMarksFailedPhotos(t *testing.T) {
	repo := mock.NewMockRepository()
	embedder := &fakeEmbedder{err: errors.New("embedding server down")}
	handler := NewProcessHandler(repo, embedder)

	seedPhoto(t, repo, "photo-1", time.Now(), nil)

	req := httptest.NewRequest("POST", "/api/v1/process/embeddings", nil)
	recorder := httptest.NewRecorder()

	handler.StartEmbeddings(recorder, req)

	assertStatusCode(t, recorder, http.StatusAccepted)

	job := handler.jobManager.GetActiveJob()
	waitForJobStatus(t, job, JobStatusCompleted)

	if job.Result == nil || job.Result.EmbedError != 1 {
		t.Fatalf("expected 1 failed embedding, got %+v", job.Result)
	}

	photo, err := repo.GetPhoto(context.Background(), "photo-1")
	if err != nil {
		t.Fatalf("failed to get photo: %v", err)
	}
	if photo.Status != database.PhotoStatusFailed {
		t.Errorf("expected photo marked failed, got %s", photo.Status)
	}
}

func TestProcessEventsUnknownJob(t *testing.T) {
	handler := NewProcessHandler(mock.NewMockRepository(), &fakeEmbedder{})

	req := httptest.NewRequest("GET", "/api/v1/process/missing/events", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "missing"})
	recorder := httptest.NewRecorder()

	handler.Events(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestCancelProcessJobUnknown(t *testing.T) {
	handler := NewProcessHandler(mock.NewMockRepository(), &fakeEmbedder{})

	req := httptest.NewRequest("DELETE", "/api/v1/process/missing", nil)
	req = requestWithChiParams(req, map[string]string{"jobId": "missing"})
	recorder := httptest.NewRecorder()

	handler.CancelJob(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
}
