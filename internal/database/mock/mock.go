// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/lens-cleaner/internal/database"
)

// MockRepository is an in-memory implementation of database.Repository
type MockRepository struct {
	mu     sync.RWMutex
	photos map[string]*database.Photo
	jobs   map[string]*database.BatchJob

	// Error injection
	CreatePhotoError     error
	GetPhotoError        error
	ListPhotosError      error
	UpdatePhotoError     error
	ApplySuggestionError error
	CreateJobError       error
	GetJobError          error
	ListJobsError        error
	UpdateJobError       error
}

// NewMockRepository creates an empty mock repository
func NewMockRepository() *MockRepository {
	return &MockRepository{
		photos: make(map[string]*database.Photo),
		jobs:   make(map[string]*database.BatchJob),
	}
}

// AddPhoto seeds the mock store with a photo
func (m *MockRepository) AddPhoto(photo database.Photo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos[photo.ID] = &photo
}

// CreatePhoto inserts a photo
func (m *MockRepository) CreatePhoto(ctx context.Context, photo *database.Photo) error {
	if m.CreatePhotoError != nil {
		return m.CreatePhotoError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *photo
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.photos[cp.ID] = &cp
	return nil
}

// GetPhoto retrieves a photo by id
func (m *MockRepository) GetPhoto(ctx context.Context, id string) (*database.Photo, error) {
	if m.GetPhotoError != nil {
		return nil, m.GetPhotoError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	photo, ok := m.photos[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *photo
	return &cp, nil
}

// ListPhotos returns photos filtered by status, ordered by taken_at
func (m *MockRepository) ListPhotos(ctx context.Context, status database.PhotoStatus, limit int) ([]*database.Photo, error) {
	if m.ListPhotosError != nil {
		return nil, m.ListPhotosError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var photos []*database.Photo
	for _, p := range m.photos {
		if status != "" && p.Status != status {
			continue
		}
		cp := *p
		photos = append(photos, &cp)
	}
	sortByTakenAt(photos)
	if limit > 0 && len(photos) > limit {
		photos = photos[:limit]
	}
	return photos, nil
}

// ListPhotosForClustering returns embedded photos ordered by taken_at
func (m *MockRepository) ListPhotosForClustering(ctx context.Context) ([]*database.Photo, error) {
	if m.ListPhotosError != nil {
		return nil, m.ListPhotosError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var photos []*database.Photo
	for _, p := range m.photos {
		if !p.HasEmbedding() {
			continue
		}
		cp := *p
		photos = append(photos, &cp)
	}
	sortByTakenAt(photos)
	return photos, nil
}

// ListGroupedPhotos returns photos with a group assignment
func (m *MockRepository) ListGroupedPhotos(ctx context.Context) ([]*database.Photo, error) {
	if m.ListPhotosError != nil {
		return nil, m.ListPhotosError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var photos []*database.Photo
	for _, p := range m.photos {
		if p.GroupID == nil {
			continue
		}
		cp := *p
		photos = append(photos, &cp)
	}
	sort.Slice(photos, func(i, j int) bool {
		if *photos[i].GroupID != *photos[j].GroupID {
			return *photos[i].GroupID < *photos[j].GroupID
		}
		return photos[i].TakenAt.Before(photos[j].TakenAt)
	})
	return photos, nil
}

// UpdatePhotoEmbedding stores an embedding and advances the status
func (m *MockRepository) UpdatePhotoEmbedding(ctx context.Context, id string, embedding []float32) error {
	if m.UpdatePhotoError != nil {
		return m.UpdatePhotoError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	photo, ok := m.photos[id]
	if !ok {
		return database.ErrNotFound
	}
	photo.Embedding = append([]float32(nil), embedding...)
	photo.Status = database.PhotoStatusEmbedded
	return nil
}

// UpdatePhotoStatus sets the pipeline status
func (m *MockRepository) UpdatePhotoStatus(ctx context.Context, id string, status database.PhotoStatus) error {
	if m.UpdatePhotoError != nil {
		return m.UpdatePhotoError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	photo, ok := m.photos[id]
	if !ok {
		return database.ErrNotFound
	}
	photo.Status = status
	return nil
}

// SetPhotoGroup assigns or clears a group id
func (m *MockRepository) SetPhotoGroup(ctx context.Context, id string, groupID *string) error {
	if m.UpdatePhotoError != nil {
		return m.UpdatePhotoError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	photo, ok := m.photos[id]
	if !ok {
		return database.ErrNotFound
	}
	if groupID != nil {
		g := *groupID
		photo.GroupID = &g
		photo.Status = database.PhotoStatusGrouped
	} else {
		photo.GroupID = nil
		if photo.Status == database.PhotoStatusGrouped {
			photo.Status = database.PhotoStatusEmbedded
		}
	}
	return nil
}

// ClearGroups removes all group assignments and suggestions
func (m *MockRepository) ClearGroups(ctx context.Context) error {
	if m.UpdatePhotoError != nil {
		return m.UpdatePhotoError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.photos {
		p.GroupID = nil
		p.SuggestionReason = nil
		p.SuggestionConfidence = nil
		p.MarkedForDeletion = false
		if p.Status == database.PhotoStatusGrouped {
			p.Status = database.PhotoStatusEmbedded
		}
	}
	return nil
}

// ApplySuggestion records a deletion suggestion on a photo
func (m *MockRepository) ApplySuggestion(ctx context.Context, s database.DeletionSuggestion) error {
	if m.ApplySuggestionError != nil {
		return m.ApplySuggestionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	photo, ok := m.photos[s.PhotoID]
	if !ok {
		return database.ErrNotFound
	}
	reason := s.Reason
	confidence := s.Confidence
	photo.SuggestionReason = &reason
	photo.SuggestionConfidence = &confidence
	photo.MarkedForDeletion = true
	return nil
}

// SetMarkedForDeletion records the user's decision on a suggestion
func (m *MockRepository) SetMarkedForDeletion(ctx context.Context, id string, marked bool) error {
	if m.UpdatePhotoError != nil {
		return m.UpdatePhotoError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	photo, ok := m.photos[id]
	if !ok {
		return database.ErrNotFound
	}
	photo.MarkedForDeletion = marked
	if !marked {
		photo.SuggestionReason = nil
		photo.SuggestionConfidence = nil
	}
	return nil
}

// CreateJob inserts a batch job
func (m *MockRepository) CreateJob(ctx context.Context, job *database.BatchJob) error {
	if m.CreateJobError != nil {
		return m.CreateJobError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.jobs[cp.ID] = &cp
	return nil
}

// GetJob retrieves a batch job by id
func (m *MockRepository) GetJob(ctx context.Context, id string) (*database.BatchJob, error) {
	if m.GetJobError != nil {
		return nil, m.GetJobError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// ListJobs returns all jobs, newest first
func (m *MockRepository) ListJobs(ctx context.Context) ([]*database.BatchJob, error) {
	if m.ListJobsError != nil {
		return nil, m.ListJobsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var jobs []*database.BatchJob
	for _, j := range m.jobs {
		cp := *j
		jobs = append(jobs, &cp)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// UpdateJob persists job fields, enforcing forward-only state transitions
func (m *MockRepository) UpdateJob(ctx context.Context, job *database.BatchJob) error {
	if m.UpdateJobError != nil {
		return m.UpdateJobError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.jobs[job.ID]
	if !ok {
		return database.ErrNotFound
	}
	if current.State != job.State && !current.State.CanTransitionTo(job.State) {
		return database.ErrInvalidTransition
	}
	cp := *job
	cp.CreatedAt = current.CreatedAt
	cp.UpdatedAt = time.Now()
	m.jobs[job.ID] = &cp
	return nil
}

// Close is a no-op for the mock repository
func (m *MockRepository) Close() error {
	return nil
}

func sortByTakenAt(photos []*database.Photo) {
	sort.Slice(photos, func(i, j int) bool {
		return photos[i].TakenAt.Before(photos[j].TakenAt)
	})
}
