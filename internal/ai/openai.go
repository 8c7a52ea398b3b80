package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIService implements BatchService on top of the OpenAI batch API.
type OpenAIService struct {
	client *openai.Client
}

// NewOpenAIService creates an OpenAI batch service client.
func NewOpenAIService(apiKey string) *OpenAIService {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIService{client: &client}
}

func (s *OpenAIService) Name() string {
	return "openai"
}

func (s *OpenAIService) UploadFile(ctx context.Context, payload []byte, displayName string) (string, error) {
	file, err := s.client.Files.New(ctx, openai.FileNewParams{
		File:    bytes.NewReader(payload),
		Purpose: openai.FilePurposeBatch,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload batch file: %w", err)
	}
	return file.ID, nil
}

// CreateJob starts a batch over an uploaded file. The model is carried
// inside each request record, the batch itself only names the endpoint.
func (s *OpenAIService) CreateJob(ctx context.Context, model, fileName, displayName string) (string, error) {
	batch, err := s.client.Batches.New(ctx, openai.BatchNewParams{
		InputFileID:      fileName,
		Endpoint:         "/v1/chat/completions",
		CompletionWindow: "24h",
		Metadata:         map[string]string{"display_name": displayName},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create batch job: %w", err)
	}
	return batch.ID, nil
}

func (s *OpenAIService) GetJobStatus(ctx context.Context, jobName string) (*JobStatus, error) {
	batch, err := s.client.Batches.Get(ctx, jobName)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch job: %w", err)
	}

	status := &JobStatus{
		State:          mapOpenAIState(string(batch.Status)),
		ResultFileName: batch.OutputFileID,
	}
	if len(batch.Errors.Data) > 0 {
		status.Message = batch.Errors.Data[0].Message
	}
	return status, nil
}

func (s *OpenAIService) DownloadFile(ctx context.Context, fileName string) ([]byte, error) {
	content, err := s.client.Files.Content(ctx, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", fileName, err)
	}
	defer content.Body.Close()

	data, err := io.ReadAll(content.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", fileName, err)
	}
	return data, nil
}

func (s *OpenAIService) CancelJob(ctx context.Context, jobName string) error {
	if _, err := s.client.Batches.Cancel(ctx, jobName); err != nil {
		return fmt.Errorf("failed to cancel batch job: %w", err)
	}
	return nil
}

func (s *OpenAIService) DeleteFile(ctx context.Context, fileName string) error {
	if _, err := s.client.Files.Delete(ctx, fileName); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", fileName, err)
	}
	return nil
}

// mapOpenAIState converts OpenAI batch statuses to the neutral state set.
func mapOpenAIState(status string) RemoteState {
	switch status {
	case "completed":
		return RemoteSucceeded
	case "failed", "expired":
		return RemoteFailed
	case "cancelling", "cancelled":
		return RemoteCancelled
	case "in_progress", "finalizing":
		return RemoteRunning
	default:
		// validating and anything unrecognized
		return RemotePending
	}
}
