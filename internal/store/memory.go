package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/commentpulse/commentpulse/pkg/models"
	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by unit tests and local development.
// It mirrors the PostgresStore semantics, including the active-job uniqueness
// rule and guarded status transitions.
type MemoryStore struct {
	mu    sync.Mutex
	owner models.Owner
	jobs  map[uuid.UUID]*models.Job
	keys  map[uuid.UUID]*models.APIKey
}

func NewMemoryStore() *MemoryStore {
	now := time.Now().UTC()
	return &MemoryStore{
		owner: models.Owner{ID: uuid.New(), Name: "default", CreatedAt: now, UpdatedAt: now},
		jobs:  make(map[uuid.UUID]*models.Job),
		keys:  make(map[uuid.UUID]*models.APIKey),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) GetDefaultOwner(context.Context) (*models.Owner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.owner
	return &o, nil
}

// --- API keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			kc := *k
			out = append(out, &kc)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.OwnerID == key.OwnerID && k.Name == key.Name && k.DeletedAt == nil {
			return ErrDuplicateKey
		}
	}
	kc := *key
	s.keys[key.ID] = &kc
	return nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context, ownerID uuid.UUID) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.OwnerID == ownerID && k.DeletedAt == nil {
			kc := *k
			out = append(out, &kc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID, ownerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.OwnerID != ownerID || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return nil
}

// --- Jobs ---

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.VideoID == job.VideoID && j.Type == job.Type && !j.IsTerminal() {
			return ErrDuplicateActiveJob
		}
	}
	jc := *job
	s.jobs[job.ID] = &jc
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	jc := *j
	return &jc, nil
}

func (s *MemoryStore) FindActiveJob(_ context.Context, videoID, jobType string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.VideoID == videoID && j.Type == jobType && !j.IsTerminal() {
			jc := *j
			return &jc, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ClaimNextQueued(context.Context) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *models.Job
	for _, j := range s.jobs {
		if j.Status != models.JobStatusQueued {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	oldest.Status = models.JobStatusRunning
	oldest.StartedAt = &now
	oldest.UpdatedAt = now
	jc := *oldest
	return &jc, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context, status string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) SetJobTitle(_ context.Context, id uuid.UUID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Title = title
		j.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) UpdateJobProgress(_ context.Context, id uuid.UUID, processed, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusRunning {
		return nil
	}
	if processed > j.RequestedCount {
		processed = j.RequestedCount
	}
	if processed > j.ProcessedCount {
		j.ProcessedCount = processed
	}
	if progress > 100 {
		progress = 100
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) MarkCancelRequested(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.IsTerminal() {
		return ErrNotFound
	}
	j.CancelRequested = true
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !transitionAllowed(j.Status, status) {
		return ErrInvalidTransition
	}

	now := time.Now().UTC()
	j.Status = status
	j.UpdatedAt = now
	switch status {
	case models.JobStatusRunning:
		j.StartedAt = &now
	case models.JobStatusCompleted:
		j.CompletedAt = &now
		j.Progress = 100
	case models.JobStatusFailed, models.JobStatusCancelled:
		j.CompletedAt = &now
	}
	if params.ErrorMessage != nil {
		j.ErrorMessage = params.ErrorMessage
	}
	if params.Result != nil {
		j.Result = params.Result
	}
	return nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*models.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := filter.StatusSet()
	match := func(j *models.Job) bool {
		if j.OwnerID != filter.OwnerID {
			return false
		}
		if statuses != nil {
			found := false
			for _, st := range statuses {
				if j.Status == st {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		if filter.Search != "" {
			q := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(j.VideoID), q) &&
				!strings.Contains(strings.ToLower(j.Title), q) &&
				!strings.Contains(strings.ToLower(j.ID.String()), q) {
				return false
			}
		}
		return true
	}

	var all []*models.Job
	for _, j := range s.jobs {
		if match(j) {
			jc := *j
			all = append(all, &jc)
		}
	}

	switch filter.Sort {
	case SortOldest:
		sort.Slice(all, func(i, k int) bool { return all[i].CreatedAt.Before(all[k].CreatedAt) })
	case SortTitle:
		sort.Slice(all, func(i, k int) bool {
			a, b := strings.ToLower(all[i].Title), strings.ToLower(all[k].Title)
			if a != b {
				return a < b
			}
			return all[i].CreatedAt.After(all[k].CreatedAt)
		})
	default:
		sort.Slice(all, func(i, k int) bool { return all[i].CreatedAt.After(all[k].CreatedAt) })
	}

	total := len(all)

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= total {
		return []*models.Job{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *MemoryStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if !j.IsTerminal() {
			continue
		}
		ref := j.CreatedAt
		if j.CompletedAt != nil {
			ref = *j.CompletedAt
		}
		if ref.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) FailOrphanedRunning(context.Context) (int, error) {
	return s.failRunning(func(*models.Job) bool { return true }, "interrupted")
}

func (s *MemoryStore) FailStalledRunning(_ context.Context, cutoff time.Time) (int, error) {
	return s.failRunning(func(j *models.Job) bool { return j.UpdatedAt.Before(cutoff) }, "timeout")
}

func (s *MemoryStore) failRunning(pred func(*models.Job) bool, msg string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for _, j := range s.jobs {
		if j.Status == models.JobStatusRunning && pred(j) {
			m := msg
			j.Status = models.JobStatusFailed
			j.ErrorMessage = &m
			j.CompletedAt = &now
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
