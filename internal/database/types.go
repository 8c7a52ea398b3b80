package database

import (
	"time"
)

// PhotoStatus tracks where a photo is in the ingest → embed → group pipeline.
type PhotoStatus string

const (
	PhotoStatusIngested PhotoStatus = "ingested"
	PhotoStatusEmbedded PhotoStatus = "embedded"
	PhotoStatusGrouped  PhotoStatus = "grouped"
	PhotoStatusFailed   PhotoStatus = "failed"
)

// Photo represents a photo stored in the database.
// Suggestion fields are only ever written by the result reconciler or by an
// explicit review action; the clustering engine never touches them.
type Photo struct {
	ID                   string
	TakenAt              time.Time
	SourceURL            string
	ImageBlob            []byte
	Embedding            []float32 // nil until the embedding step has run
	Status               PhotoStatus
	GroupID              *string
	SuggestionReason     *string
	SuggestionConfidence *string
	MarkedForDeletion    bool
	CreatedAt            time.Time
}

// HasEmbedding reports whether the embedding step has produced a vector for this photo.
func (p *Photo) HasEmbedding() bool {
	return len(p.Embedding) > 0
}

// JobState is the lifecycle state of a batch analysis job.
type JobState string

const (
	JobStateCreated   JobState = "created"
	JobStateUploaded  JobState = "uploaded"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// jobStateRank orders states so that transitions can only move forward.
// A transient "pending" report from the remote service after a job already
// reached running must never downgrade the local state.
var jobStateRank = map[JobState]int{
	JobStateCreated:   0,
	JobStateUploaded:  1,
	JobStateRunning:   2,
	JobStateSucceeded: 3,
	JobStateFailed:    3,
	JobStateCancelled: 3,
}

// IsTerminal reports whether no further transitions are possible from s.
func (s JobState) IsTerminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed || s == JobStateCancelled
}

// CanTransitionTo reports whether moving from s to next is a legal forward transition.
func (s JobState) CanTransitionTo(next JobState) bool {
	if s.IsTerminal() {
		return false
	}
	return jobStateRank[next] > jobStateRank[s]
}

// BatchJob represents one submission to the external inference service,
// covering the request records of many photo groups.
type BatchJob struct {
	ID                   string
	State                JobState
	Provider             string  // which batch service created the remote job
	RemoteJobName        *string // assigned by the remote service after job creation
	InputFileName        *string // remote handle of the uploaded request payload
	OutputFileName       *string // remote handle of the result file, set on success
	SubmittedRequests    int
	ProcessedSuggestions int
	ErrorMessage         *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	CompletedAt          *time.Time
}

// DeletionSuggestion is a single parsed suggestion from the external service,
// applied onto a photo by the reconciler.
type DeletionSuggestion struct {
	PhotoID    string `json:"photo_id"`
	Reason     string `json:"reason"`
	Confidence string `json:"confidence"` // high, medium or low
}

// Suggestion confidence levels accepted from the external service.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// ValidConfidence reports whether c is one of the accepted confidence levels.
func ValidConfidence(c string) bool {
	return c == ConfidenceHigh || c == ConfidenceMedium || c == ConfidenceLow
}
