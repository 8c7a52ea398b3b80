package ai

import (
	"context"
	"fmt"
	"sync"
)

// MockBatchService is an in-memory BatchService for tests.
type MockBatchService struct {
	mu      sync.Mutex
	files   map[string][]byte
	nextID  int
	status  map[string]*JobStatus
	deleted map[string]bool

	Cancelled []string

	// Error injection
	UploadError   error
	CreateError   error
	StatusError   error
	DownloadError error
	CancelError   error
	DeleteError   error
}

// NewMockBatchService creates an empty mock batch service.
func NewMockBatchService() *MockBatchService {
	return &MockBatchService{
		files:   make(map[string][]byte),
		status:  make(map[string]*JobStatus),
		deleted: make(map[string]bool),
	}
}

func (m *MockBatchService) Name() string {
	return "mock"
}

func (m *MockBatchService) UploadFile(ctx context.Context, payload []byte, displayName string) (string, error) {
	if m.UploadError != nil {
		return "", m.UploadError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	name := fmt.Sprintf("files/mock-%d", m.nextID)
	m.files[name] = payload
	return name, nil
}

func (m *MockBatchService) CreateJob(ctx context.Context, model, fileName, displayName string) (string, error) {
	if m.CreateError != nil {
		return "", m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	name := fmt.Sprintf("batches/mock-%d", m.nextID)
	m.status[name] = &JobStatus{State: RemotePending}
	return name, nil
}

// SetJobStatus controls what GetJobStatus reports for a job.
func (m *MockBatchService) SetJobStatus(jobName string, status JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[jobName] = &status
}

// SetFile stages file content under a known name.
func (m *MockBatchService) SetFile(name string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = content
}

// UploadedFile returns the staged content of a file.
func (m *MockBatchService) UploadedFile(name string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[name]
}

// FileDeleted reports whether DeleteFile was called for the name.
func (m *MockBatchService) FileDeleted(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleted[name]
}

func (m *MockBatchService) GetJobStatus(ctx context.Context, jobName string) (*JobStatus, error) {
	if m.StatusError != nil {
		return nil, m.StatusError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.status[jobName]
	if !ok {
		return nil, fmt.Errorf("unknown job %s", jobName)
	}
	cp := *status
	return &cp, nil
}

func (m *MockBatchService) DownloadFile(ctx context.Context, fileName string) ([]byte, error) {
	if m.DownloadError != nil {
		return nil, m.DownloadError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[fileName]
	if !ok {
		return nil, fmt.Errorf("unknown file %s", fileName)
	}
	return content, nil
}

func (m *MockBatchService) CancelJob(ctx context.Context, jobName string) error {
	if m.CancelError != nil {
		return m.CancelError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancelled = append(m.Cancelled, jobName)
	if status, ok := m.status[jobName]; ok {
		status.State = RemoteCancelled
	}
	return nil
}

func (m *MockBatchService) DeleteFile(ctx context.Context, fileName string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, fileName)
	m.deleted[fileName] = true
	return nil
}
