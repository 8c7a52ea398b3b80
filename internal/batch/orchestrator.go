package batch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/lens-cleaner/internal/ai"
	"github.com/kozaktomas/lens-cleaner/internal/cluster"
	"github.com/kozaktomas/lens-cleaner/internal/database"
)

// DefaultPollInterval is how often a running remote job is checked.
const DefaultPollInterval = 30 * time.Second

// Clock abstracts time for the polling loop so tests can drive it.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Orchestrator drives batch jobs through their lifecycle: build and upload
// the request payload, start the remote job, poll it to completion and
// reconcile the results. Each job has at most one poller at a time.
type Orchestrator struct {
	repo         database.Repository
	service      ai.BatchService
	builder      *Builder
	reconciler   *Reconciler
	model        string
	pollInterval time.Duration
	clock        Clock
	onUpdate     func(*database.BatchJob)

	mu       sync.Mutex
	watchers map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// OrchestratorOption configures the orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithPollInterval overrides the default poll interval.
func WithPollInterval(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithClock injects a clock, used by tests.
func WithClock(c Clock) OrchestratorOption {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithUpdateListener registers a callback invoked after every persisted
// job change. Used by the web layer to stream job events.
func WithUpdateListener(fn func(*database.BatchJob)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.onUpdate = fn
	}
}

// NewOrchestrator creates an orchestrator submitting jobs to the given
// service with the given model.
func NewOrchestrator(repo database.Repository, service ai.BatchService, builder *Builder, model string, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		repo:         repo,
		service:      service,
		builder:      builder,
		reconciler:   NewReconciler(repo),
		model:        model,
		pollInterval: DefaultPollInterval,
		clock:        realClock{},
		watchers:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit builds a payload from all currently grouped photos, stages it with
// the provider, starts the remote job and begins polling. The returned job
// reflects the state reached before any error.
func (o *Orchestrator) Submit(ctx context.Context) (*database.BatchJob, error) {
	photos, err := o.repo.ListGroupedPhotos(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading grouped photos: %w", err)
	}

	payload, err := o.builder.Build(groupsFromPhotos(photos))
	if err != nil {
		return nil, err
	}

	job := &database.BatchJob{
		ID:                uuid.New().String(),
		State:             database.JobStateCreated,
		Provider:          o.service.Name(),
		SubmittedRequests: payload.Requests,
	}
	if err := o.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job record: %w", err)
	}
	o.notify(job)

	displayName := "lens-cleaner-" + job.ID

	fileName, err := o.service.UploadFile(ctx, payload.JSONL, displayName)
	if err != nil {
		// Transport failure, the job stays in created so it can be retried.
		return job, o.recordSubmitError(ctx, job, fmt.Errorf("uploading request file: %w", err))
	}
	job.State = database.JobStateUploaded
	job.InputFileName = &fileName
	if err := o.repo.UpdateJob(ctx, job); err != nil {
		return job, err
	}
	o.notify(job)

	remoteName, err := o.service.CreateJob(ctx, o.model, fileName, displayName)
	if err != nil {
		return job, o.recordSubmitError(ctx, job, fmt.Errorf("creating remote job: %w", err))
	}
	job.State = database.JobStateRunning
	job.RemoteJobName = &remoteName
	if err := o.repo.UpdateJob(ctx, job); err != nil {
		return job, err
	}
	o.notify(job)

	o.startWatcher(job.ID)
	return job, nil
}

// Cancel stops the poller, asks the provider to cancel the remote job and
// removes the staged request file. Remote calls are best effort.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*database.BatchJob, error) {
	job, err := o.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State.IsTerminal() {
		return job, database.ErrInvalidTransition
	}

	o.stopWatcher(jobID)

	if job.RemoteJobName != nil {
		if err := o.service.CancelJob(ctx, *job.RemoteJobName); err != nil {
			log.Printf("job %s: remote cancel failed: %v", jobID, err)
		}
	}
	o.removeStagedFile(ctx, job)

	job.State = database.JobStateCancelled
	now := o.clock.Now()
	job.CompletedAt = &now
	if err := o.repo.UpdateJob(ctx, job); err != nil {
		return job, err
	}
	o.notify(job)
	return job, nil
}

// Resume restarts pollers for jobs that were running when the process
// stopped. Jobs caught mid-submission cannot be picked up again and are
// marked failed.
func (o *Orchestrator) Resume(ctx context.Context) error {
	jobs, err := o.repo.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("listing jobs: %w", err)
	}

	for _, job := range jobs {
		switch job.State {
		case database.JobStateRunning:
			o.startWatcher(job.ID)
		case database.JobStateCreated, database.JobStateUploaded:
			if err := o.failJob(ctx, job, fmt.Errorf("submission interrupted by restart")); err != nil {
				log.Printf("job %s: %v", job.ID, err)
			}
		}
	}
	return nil
}

// Close stops all pollers and waits for them to exit.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	for id, cancel := range o.watchers {
		cancel()
		delete(o.watchers, id)
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// startWatcher launches the polling goroutine for a job unless one is
// already active.
func (o *Orchestrator) startWatcher(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, active := o.watchers[jobID]; active {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.watchers[jobID] = cancel
	o.wg.Add(1)
	go o.watch(ctx, jobID)
}

func (o *Orchestrator) stopWatcher(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, active := o.watchers[jobID]; active {
		cancel()
		delete(o.watchers, jobID)
	}
}

func (o *Orchestrator) watch(ctx context.Context, jobID string) {
	defer func() {
		o.stopWatcher(jobID)
		o.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.clock.After(o.pollInterval):
		}

		job, err := o.repo.GetJob(ctx, jobID)
		if err != nil {
			log.Printf("job %s: poll aborted: %v", jobID, err)
			return
		}
		if job.State.IsTerminal() || job.RemoteJobName == nil {
			return
		}

		status, err := o.service.GetJobStatus(ctx, *job.RemoteJobName)
		if err != nil {
			// transient, try again next tick
			log.Printf("job %s: status check failed: %v", jobID, err)
			continue
		}

		switch status.State {
		case ai.RemotePending, ai.RemoteRunning:
			// a late "pending" report never moves the job backwards

		case ai.RemoteSucceeded:
			if err := o.completeJob(ctx, job, status); err != nil {
				log.Printf("job %s: %v", jobID, err)
			}
			return

		case ai.RemoteFailed:
			msg := status.Message
			if msg == "" {
				msg = "remote job failed"
			}
			if err := o.failJob(ctx, job, fmt.Errorf("%s", msg)); err != nil {
				log.Printf("job %s: %v", jobID, err)
			}
			return

		case ai.RemoteCancelled:
			now := o.clock.Now()
			job.State = database.JobStateCancelled
			job.CompletedAt = &now
			if err := o.repo.UpdateJob(ctx, job); err != nil {
				log.Printf("job %s: %v", jobID, err)
				return
			}
			o.notify(job)
			return
		}
	}
}

// completeJob downloads the result file, reconciles every suggestion and
// marks the job succeeded.
func (o *Orchestrator) completeJob(ctx context.Context, job *database.BatchJob, status *ai.JobStatus) error {
	if status.ResultFileName == "" {
		return o.failJob(ctx, job, fmt.Errorf("remote job succeeded without result file"))
	}

	data, err := o.service.DownloadFile(ctx, status.ResultFileName)
	if err != nil {
		return o.failJob(ctx, job, fmt.Errorf("downloading results: %w", err))
	}

	result, err := o.reconciler.Reconcile(ctx, o.builder.format, data)
	if err != nil {
		return o.failJob(ctx, job, fmt.Errorf("reconciling results: %w", err))
	}
	if result.SkippedRecords > 0 || result.SkippedSuggestions > 0 {
		log.Printf("job %s: skipped %d records and %d suggestions",
			job.ID, result.SkippedRecords, result.SkippedSuggestions)
	}

	o.removeStagedFile(ctx, job)

	now := o.clock.Now()
	job.State = database.JobStateSucceeded
	job.OutputFileName = &status.ResultFileName
	job.ProcessedSuggestions = result.Applied
	job.CompletedAt = &now
	if err := o.repo.UpdateJob(ctx, job); err != nil {
		return err
	}
	o.notify(job)
	return nil
}

// recordSubmitError stores the failure detail without moving the job to a
// terminal state. The job keeps its last good state and the caller may
// retry the submission step.
func (o *Orchestrator) recordSubmitError(ctx context.Context, job *database.BatchJob, cause error) error {
	msg := cause.Error()
	job.ErrorMessage = &msg
	if err := o.repo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("recording submit error (%s): %w", msg, err)
	}
	o.notify(job)
	return cause
}

func (o *Orchestrator) failJob(ctx context.Context, job *database.BatchJob, cause error) error {
	msg := cause.Error()
	now := o.clock.Now()
	job.State = database.JobStateFailed
	job.ErrorMessage = &msg
	job.CompletedAt = &now
	if err := o.repo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("recording failure (%s): %w", msg, err)
	}
	o.notify(job)
	return cause
}

// removeStagedFile deletes the uploaded request file. Best effort, the
// provider expires staged files on its own eventually.
func (o *Orchestrator) removeStagedFile(ctx context.Context, job *database.BatchJob) {
	if job.InputFileName == nil {
		return
	}
	if err := o.service.DeleteFile(ctx, *job.InputFileName); err != nil {
		log.Printf("job %s: removing staged file: %v", job.ID, err)
	}
}

func (o *Orchestrator) notify(job *database.BatchJob) {
	if o.onUpdate == nil {
		return
	}
	cp := *job
	o.onUpdate(&cp)
}

// groupsFromPhotos rebuilds cluster groups from persisted group
// assignments, preserving group order by id.
func groupsFromPhotos(photos []*database.Photo) []cluster.Group {
	byID := make(map[string]*cluster.Group)
	var order []string
	for _, p := range photos {
		if p.GroupID == nil {
			continue
		}
		id := *p.GroupID
		g, ok := byID[id]
		if !ok {
			g = &cluster.Group{ID: id}
			byID[id] = g
			order = append(order, id)
		}
		g.Photos = append(g.Photos, p)
	}

	groups := make([]cluster.Group, 0, len(order))
	for _, id := range order {
		groups = append(groups, *byID[id])
	}
	return groups
}
