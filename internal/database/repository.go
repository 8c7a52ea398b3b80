package database

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition is returned when a job state update would move backwards.
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// PhotoRepository stores photos, their embeddings and their group assignments.
type PhotoRepository interface {
	CreatePhoto(ctx context.Context, photo *Photo) error
	GetPhoto(ctx context.Context, id string) (*Photo, error)
	ListPhotos(ctx context.Context, status PhotoStatus, limit int) ([]*Photo, error)
	// ListPhotosForClustering returns embedded photos ordered by taken_at ascending.
	ListPhotosForClustering(ctx context.Context) ([]*Photo, error)
	// ListGroupedPhotos returns photos with a group id assigned, ordered by group then taken_at.
	ListGroupedPhotos(ctx context.Context) ([]*Photo, error)
	UpdatePhotoEmbedding(ctx context.Context, id string, embedding []float32) error
	UpdatePhotoStatus(ctx context.Context, id string, status PhotoStatus) error
	// SetPhotoGroup assigns a group id, nil clears the assignment.
	SetPhotoGroup(ctx context.Context, id string, groupID *string) error
	// ClearGroups removes all group assignments before a new clustering run.
	ClearGroups(ctx context.Context) error
	// ApplySuggestion records a deletion suggestion on a photo and marks it
	// for deletion. Applying the same suggestion twice leaves the photo
	// unchanged.
	ApplySuggestion(ctx context.Context, suggestion DeletionSuggestion) error
	// SetMarkedForDeletion reflects a user's accept or reject of a suggestion.
	// Rejecting (marked=false) also clears the stored suggestion.
	SetMarkedForDeletion(ctx context.Context, id string, marked bool) error
}

// JobRepository stores batch job state.
type JobRepository interface {
	CreateJob(ctx context.Context, job *BatchJob) error
	GetJob(ctx context.Context, id string) (*BatchJob, error)
	ListJobs(ctx context.Context) ([]*BatchJob, error)
	// UpdateJob persists the mutable fields of a job. Implementations must
	// reject state transitions that CanTransitionTo forbids.
	UpdateJob(ctx context.Context, job *BatchJob) error
}

// Repository bundles everything the application needs from a storage backend.
type Repository interface {
	PhotoRepository
	JobRepository
	Close() error
}
