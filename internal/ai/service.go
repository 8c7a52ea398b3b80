// Package ai wraps the external bulk inference services behind a single
// contract. Providers accept an uploaded request file, run a slow remote
// job over it and eventually produce a downloadable result file.
package ai

import "context"

// RemoteState is the vendor-neutral state of a remote batch job.
type RemoteState string

const (
	RemotePending   RemoteState = "pending"
	RemoteRunning   RemoteState = "running"
	RemoteSucceeded RemoteState = "succeeded"
	RemoteFailed    RemoteState = "failed"
	RemoteCancelled RemoteState = "cancelled"
)

// JobStatus is a point-in-time view of a remote batch job.
type JobStatus struct {
	State RemoteState
	// ResultFileName is the handle of the result file, set once the job
	// has succeeded.
	ResultFileName string
	// Message carries the provider's failure detail, if any.
	Message string
}

// BatchService is the contract every bulk inference provider implements.
// File handles and job names are provider-assigned opaque strings.
type BatchService interface {
	// Name identifies the provider ("gemini", "openai").
	Name() string
	// UploadFile stages a request payload and returns its remote handle.
	UploadFile(ctx context.Context, payload []byte, displayName string) (string, error)
	// CreateJob starts a batch job over a previously uploaded file.
	CreateJob(ctx context.Context, model, fileName, displayName string) (string, error)
	// GetJobStatus reports the current state of a job.
	GetJobStatus(ctx context.Context, jobName string) (*JobStatus, error)
	// DownloadFile fetches the content of a remote file.
	DownloadFile(ctx context.Context, fileName string) ([]byte, error)
	// CancelJob requests cancellation of a running job. Best effort, the
	// job may still complete.
	CancelJob(ctx context.Context, jobName string) error
	// DeleteFile removes a staged file. Best effort.
	DeleteFile(ctx context.Context, fileName string) error
}
