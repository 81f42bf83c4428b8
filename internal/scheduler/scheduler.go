// Package scheduler is the single authority for job admission, execution,
// concurrency control, and cancellation.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/commentpulse/commentpulse/internal/cache"
	"github.com/commentpulse/commentpulse/internal/store"
	"github.com/commentpulse/commentpulse/pkg/models"
	"github.com/google/uuid"
)

// Config holds scheduler tunables. MaxRunning is the concurrency cap;
// PollInterval bounds how stale the queue poll can get when no wakeup fires.
type Config struct {
	MaxRunning   int
	PollInterval time.Duration
	ResultTTL    time.Duration
}

// SubmitRequest is one submission attempt.
type SubmitRequest struct {
	OwnerID        uuid.UUID
	VideoID        string
	JobType        string
	RequestedCount int
}

// Scheduler owns the job lifecycle. It is the sole mutator of job execution
// state; read paths go straight to the store.
type Scheduler struct {
	store  store.Store
	cache  cache.Cache
	runner Runner
	cfg    Config

	// slots is a counting semaphore sized to the concurrency cap.
	slots chan struct{}
	wake  chan struct{}

	mu    sync.Mutex
	flags map[uuid.UUID]*atomic.Bool

	wg sync.WaitGroup
}

func New(st store.Store, ca cache.Cache, runner Runner, cfg Config) *Scheduler {
	if cfg.MaxRunning <= 0 {
		cfg.MaxRunning = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 72 * time.Hour
	}
	return &Scheduler{
		store:  st,
		cache:  ca,
		runner: runner,
		cfg:    cfg,
		slots:  make(chan struct{}, cfg.MaxRunning),
		wake:   make(chan struct{}, 1),
		flags:  make(map[uuid.UUID]*atomic.Bool),
	}
}

// Submit validates a request, deduplicates against the active job for the
// same (video, type), enforces the running cap, and enqueues a new job.
// The bool result is false when an existing active job was returned.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (*models.Job, bool, error) {
	if req.RequestedCount <= 0 {
		return nil, false, ErrInvalidCount
	}

	// Idempotent submission: a duplicate resolves to the active job's
	// identity, never an error and never a second job.
	if existing, err := s.store.FindActiveJob(ctx, req.VideoID, req.JobType); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	running, err := s.store.CountByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return nil, false, err
	}
	if running >= s.cfg.MaxRunning {
		return nil, false, ErrCapacity
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:             uuid.New(),
		OwnerID:        req.OwnerID,
		VideoID:        req.VideoID,
		Type:           req.JobType,
		Status:         models.JobStatusQueued,
		RequestedCount: req.RequestedCount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrDuplicateActiveJob) {
			// Lost the race against a concurrent identical submission;
			// the unique index guarantees exactly one job exists.
			if existing, ferr := s.store.FindActiveJob(ctx, req.VideoID, req.JobType); ferr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	s.wakeup()
	return job, true, nil
}

// Cancel marks a job for cancellation. Queued jobs transition immediately;
// running jobs are flagged and transition at the pipeline's next checkpoint.
func (s *Scheduler) Cancel(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return ErrJobTerminal
	}

	if job.Status == models.JobStatusQueued {
		err := s.store.UpdateJobStatus(ctx, jobID, models.JobStatusCancelled)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrInvalidTransition) {
			return err
		}
		// The job started running between the read and the update;
		// fall through to the cooperative path.
	}

	if err := s.store.MarkCancelRequested(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Reached a terminal state in the meantime.
			return ErrJobTerminal
		}
		return err
	}

	s.mu.Lock()
	if flag, ok := s.flags[jobID]; ok {
		flag.Store(true)
	}
	s.mu.Unlock()
	return nil
}

// ClearTerminal deletes completed, failed, and cancelled jobs older than
// olderThan. Queued and running jobs are never touched.
func (s *Scheduler) ClearTerminal(ctx context.Context, olderThan time.Duration) (int, error) {
	return s.store.DeleteTerminalBefore(ctx, time.Now().UTC().Add(-olderThan))
}

// RecoverOrphans fails jobs left running by a previous process. Must be
// called once at startup, before Run.
func (s *Scheduler) RecoverOrphans(ctx context.Context) (int, error) {
	n, err := s.store.FailOrphanedRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover orphaned jobs: %w", err)
	}
	if n > 0 {
		slog.Warn("recovered orphaned jobs", "count", n)
	}
	return n, nil
}

// Run is the scheduler loop: it admits queued jobs FIFO while worker slots
// are free, then blocks until woken by a submission, a finished job, or the
// poll ticker. It returns after ctx is done and all in-flight jobs finished.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		s.fill(ctx)

		select {
		case <-ctx.Done():
			slog.Info("scheduler draining", "running", len(s.slots))
			s.wg.Wait()
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// SweepStalled periodically fails running jobs that made no progress for
// staleAfter. A worker that later finishes such a job loses the status race
// and its completion is dropped.
func (s *Scheduler) SweepStalled(ctx context.Context, interval, staleAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.FailStalledRunning(ctx, time.Now().UTC().Add(-staleAfter))
			if err != nil {
				slog.Error("stalled job sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Warn("failed stalled jobs", "count", n)
			}
		}
	}
}

// fill claims queued jobs while a worker slot is free.
func (s *Scheduler) fill(ctx context.Context) {
	for {
		select {
		case s.slots <- struct{}{}:
		default:
			return
		}

		job, err := s.store.ClaimNextQueued(ctx)
		if err != nil {
			<-s.slots
			if !errors.Is(err, store.ErrNotFound) && ctx.Err() == nil {
				slog.Error("claiming queued job", "error", err)
			}
			return
		}

		flag := &atomic.Bool{}
		flag.Store(job.CancelRequested)
		s.mu.Lock()
		s.flags[job.ID] = flag
		s.mu.Unlock()

		s.wg.Add(1)
		go s.runJob(job, flag)
	}
}

// runJob executes one claimed job to a terminal state. Failures are contained
// per job: panics and collaborator errors mark the job failed and never take
// down the loop.
func (s *Scheduler) runJob(job *models.Job, flag *atomic.Bool) {
	// Execution outlives the request context; a hard process kill is
	// handled by orphan recovery on the next start.
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in job execution", "error", r, "job_id", job.ID)
			_ = s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed,
				store.WithErrorMessage(fmt.Sprintf("panic: %v", r)))
		}
		s.mu.Lock()
		delete(s.flags, job.ID)
		s.mu.Unlock()
		<-s.slots
		s.wg.Done()
		s.wakeup()
	}()

	start := time.Now()
	slog.Info("job started", "job_id", job.ID, "video_id", job.VideoID,
		"type", job.Type, "requested", job.RequestedCount)

	hooks := RunHooks{
		Progress: func(processed int) {
			_ = s.store.UpdateJobProgress(ctx, job.ID, processed,
				models.ProgressPercent(processed, job.RequestedCount))
		},
		Cancelled: flag.Load,
		Metadata: func(meta models.VideoMetadata) {
			_ = s.store.SetJobTitle(ctx, job.ID, meta.Title)
		},
	}

	payload, err := s.runner.Run(ctx, job, hooks)
	switch {
	case errors.Is(err, ErrCancelled):
		if uerr := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusCancelled); uerr != nil {
			slog.Error("marking job cancelled", "job_id", job.ID, "error", uerr)
		}
		slog.Info("job cancelled", "job_id", job.ID, "duration", time.Since(start))

	case err != nil:
		if uerr := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed,
			store.WithErrorMessage(err.Error())); uerr != nil {
			slog.Error("marking job failed", "job_id", job.ID, "error", uerr)
		}
		slog.Warn("job failed", "job_id", job.ID, "duration", time.Since(start), "error", err)

	default:
		s.completeJob(ctx, job, payload)
		slog.Info("job completed", "job_id", job.ID, "duration", time.Since(start),
			"analyzed", payload.AnalyzedCount)
	}
}

// completeJob records the result and upserts the cache entry. Preload jobs
// populate the cache only; analyze jobs also store the payload on the row.
func (s *Scheduler) completeJob(ctx context.Context, job *models.Job, payload *models.AnalysisPayload) {
	raw, err := json.Marshal(payload)
	if err != nil {
		_ = s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed,
			store.WithErrorMessage(fmt.Sprintf("encoding result: %v", err)))
		return
	}

	var opts []store.JobUpdateOption
	if job.Type == models.JobTypeAnalyze {
		opts = append(opts, store.WithResult(raw))
	}
	if err := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, opts...); err != nil {
		// Lost the race to a cancel or a stalled sweep; the terminal
		// status that won stands, and nothing is cached.
		slog.Warn("completion dropped", "job_id", job.ID, "error", err)
		return
	}

	key := cache.ResultKey(job.VideoID, job.RequestedCount, models.PayloadVersion)
	if err := s.cache.PutResult(ctx, key, raw, s.cfg.ResultTTL); err != nil {
		// Cache trouble degrades to recomputation, never a failed job.
		slog.Error("caching result", "job_id", job.ID, "key", key, "error", err)
	}
}

func (s *Scheduler) wakeup() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
