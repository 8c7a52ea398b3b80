package ai

import (
	"bytes"
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiService implements BatchService on top of the Gemini batch API.
type GeminiService struct {
	client *genai.Client
}

// NewGeminiService creates a Gemini batch service client.
func NewGeminiService(ctx context.Context, apiKey string) (*GeminiService, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiService{client: client}, nil
}

func (s *GeminiService) Name() string {
	return "gemini"
}

// UploadFile stages the request payload through the Files API. No MIME type
// is set, the service infers it from the content.
func (s *GeminiService) UploadFile(ctx context.Context, payload []byte, displayName string) (string, error) {
	file, err := s.client.Files.Upload(ctx, bytes.NewReader(payload), &genai.UploadFileConfig{
		DisplayName: displayName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload batch file: %w", err)
	}
	return file.Name, nil
}

func (s *GeminiService) CreateJob(ctx context.Context, model, fileName, displayName string) (string, error) {
	job, err := s.client.Batches.Create(ctx, model, &genai.BatchJobSource{
		FileName: fileName,
	}, &genai.CreateBatchJobConfig{
		DisplayName: displayName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create batch job: %w", err)
	}
	return job.Name, nil
}

func (s *GeminiService) GetJobStatus(ctx context.Context, jobName string) (*JobStatus, error) {
	job, err := s.client.Batches.Get(ctx, jobName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch job: %w", err)
	}

	status := &JobStatus{State: mapGeminiState(string(job.State))}
	if job.Dest != nil {
		status.ResultFileName = job.Dest.FileName
	}
	if job.Error != nil {
		status.Message = job.Error.Message
	}
	return status, nil
}

func (s *GeminiService) DownloadFile(ctx context.Context, fileName string) ([]byte, error) {
	data, err := s.client.Files.Download(ctx, &genai.File{Name: fileName}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", fileName, err)
	}
	return data, nil
}

func (s *GeminiService) CancelJob(ctx context.Context, jobName string) error {
	if err := s.client.Batches.Cancel(ctx, jobName, nil); err != nil {
		return fmt.Errorf("failed to cancel batch job: %w", err)
	}
	return nil
}

func (s *GeminiService) DeleteFile(ctx context.Context, fileName string) error {
	if _, err := s.client.Files.Delete(ctx, fileName, nil); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", fileName, err)
	}
	return nil
}

// mapGeminiState converts JOB_STATE_* values to the neutral state set.
func mapGeminiState(state string) RemoteState {
	switch state {
	case "JOB_STATE_SUCCEEDED":
		return RemoteSucceeded
	case "JOB_STATE_FAILED", "JOB_STATE_EXPIRED":
		return RemoteFailed
	case "JOB_STATE_CANCELLED", "JOB_STATE_CANCELLING":
		return RemoteCancelled
	case "JOB_STATE_RUNNING":
		return RemoteRunning
	default:
		return RemotePending
	}
}
