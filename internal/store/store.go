package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/commentpulse/commentpulse/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrDuplicateActiveJob is returned when a queued or running job already
// exists for the same (video, type) pair.
var ErrDuplicateActiveJob = errors.New("active job already exists for this video and type")

// ErrInvalidTransition is returned for a status change the job lifecycle
// does not allow.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultOwner(ctx context.Context) (*models.Owner, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, ownerID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) error

	// CreateJob inserts a queued job. Returns ErrDuplicateActiveJob when an
	// active job for the same (video_id, job_type) exists.
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// FindActiveJob returns the queued or running job for (videoID, jobType).
	FindActiveJob(ctx context.Context, videoID, jobType string) (*models.Job, error)
	// ClaimNextQueued atomically moves the oldest queued job to running and
	// returns it. ErrNotFound when the queue is empty.
	ClaimNextQueued(ctx context.Context) (*models.Job, error)
	CountByStatus(ctx context.Context, status string) (int, error)

	SetJobTitle(ctx context.Context, id uuid.UUID, title string) error
	// UpdateJobProgress records chunk progress. processed never decreases.
	UpdateJobProgress(ctx context.Context, id uuid.UUID, processed, progress int) error
	MarkCancelRequested(ctx context.Context, id uuid.UUID) error
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error

	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	// DeleteTerminalBefore removes terminal jobs finished before cutoff
	// (created before cutoff when completed_at is null). Returns rows deleted.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
	// FailOrphanedRunning fails every running job; called once at startup,
	// before the scheduler loop, to recover jobs a dead process left behind.
	FailOrphanedRunning(ctx context.Context) (int, error)
	// FailStalledRunning fails running jobs not updated since cutoff.
	FailStalledRunning(ctx context.Context, cutoff time.Time) (int, error)
}

// Filter values for JobFilter.Filter.
const (
	FilterActive    = "active"
	FilterCompleted = "completed"
	FilterFailed    = "failed"
	FilterCancelled = "cancelled"
	FilterHistory   = "history"
	FilterAll       = "all"
)

// Sort values for JobFilter.Sort.
const (
	SortNewest = "newest"
	SortOldest = "oldest"
	SortTitle  = "title"
)

type JobFilter struct {
	OwnerID uuid.UUID
	Filter  string
	Search  string
	Sort    string
	Page    int
	Limit   int
}

// StatusSet expands the filter name into concrete statuses. Nil means all.
func (f JobFilter) StatusSet() []string {
	switch f.Filter {
	case FilterActive:
		return []string{models.JobStatusQueued, models.JobStatusRunning}
	case FilterCompleted:
		return []string{models.JobStatusCompleted}
	case FilterFailed:
		return []string{models.JobStatusFailed}
	case FilterCancelled:
		return []string{models.JobStatusCancelled}
	case FilterHistory:
		return []string{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled}
	default:
		return nil
	}
}

type jobUpdateParams struct {
	ErrorMessage *string
	Result       json.RawMessage
}

type JobUpdateOption func(*jobUpdateParams)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithResult(result json.RawMessage) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Result = result
	}
}

var validTransitions = map[string][]string{
	models.JobStatusQueued:  {models.JobStatusRunning, models.JobStatusCancelled},
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled},
}

func transitionAllowed(from, to string) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
