// Package handler contains one constructor per HTTP operation. Handlers
// depend on narrow interfaces so tests can substitute fakes.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/commentpulse/commentpulse/internal/api/middleware"
	"github.com/commentpulse/commentpulse/internal/api/response"
	"github.com/commentpulse/commentpulse/internal/scheduler"
	"github.com/commentpulse/commentpulse/internal/store"
	"github.com/commentpulse/commentpulse/pkg/models"
)

const (
	defaultRequestedCount = 100
	maxRequestedCount     = 2000
)

// Orchestrator is the job lifecycle surface the write handlers depend on.
type Orchestrator interface {
	Submit(ctx context.Context, req scheduler.SubmitRequest) (*models.Job, bool, error)
	Cancel(ctx context.Context, jobID uuid.UUID) error
	ClearTerminal(ctx context.Context, olderThan time.Duration) (int, error)
}

// JobReader is the read-only store surface the query handlers depend on.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewSubmitJobHandler(orch Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		var req struct {
			VideoID string `json:"video_id"`
			Type    string `json:"type"`
			Count   int    `json:"count"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.VideoID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "video_id is required", nil)
			return
		}
		if req.Type == "" {
			req.Type = models.JobTypeAnalyze
		}
		if !models.ValidJobType(req.Type) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"type must be one of: preload, analyze", nil)
			return
		}
		if req.Count == 0 {
			req.Count = defaultRequestedCount
		}
		if req.Count > maxRequestedCount {
			req.Count = maxRequestedCount
		}

		job, created, err := orch.Submit(r.Context(), scheduler.SubmitRequest{
			OwnerID:        ownerID,
			VideoID:        req.VideoID,
			JobType:        req.Type,
			RequestedCount: req.Count,
		})
		if err != nil {
			switch {
			case errors.Is(err, scheduler.ErrInvalidCount):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"count must be positive", nil)
			case errors.Is(err, scheduler.ErrCapacity):
				w.Header().Set("Retry-After", "30")
				response.Error(w, http.StatusTooManyRequests, "CAPACITY_EXCEEDED",
					"Maximum concurrent jobs reached, retry later", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		if !created {
			response.JSON(w, submitJobResponse{Job: job, Deduplicated: true})
			return
		}
		response.Accepted(w, submitJobResponse{Job: job})
	}
}

type submitJobResponse struct {
	Job          *models.Job `json:"job"`
	Deduplicated bool        `json:"deduplicated,omitempty"`
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(reader JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadOwnedJob(w, r, reader)
		if !ok {
			return
		}
		response.JSON(w, job)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(reader JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		q := r.URL.Query()
		filter := store.JobFilter{
			OwnerID: ownerID,
			Filter:  q.Get("filter"),
			Search:  q.Get("search"),
			Sort:    q.Get("sort"),
			Page:    atoiOrDefault(q.Get("page"), 1),
			Limit:   atoiOrDefault(q.Get("limit"), 20),
		}

		switch filter.Filter {
		case "", store.FilterActive, store.FilterCompleted, store.FilterFailed,
			store.FilterCancelled, store.FilterHistory, store.FilterAll:
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"filter must be one of: active, completed, failed, cancelled, history, all", nil)
			return
		}
		switch filter.Sort {
		case "", store.SortNewest, store.SortOldest, store.SortTitle:
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"sort must be one of: newest, oldest, title", nil)
			return
		}

		jobs, total, err := reader.ListJobs(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		page, limit := filter.Page, filter.Limit
		if page < 1 {
			page = 1
		}
		if limit < 1 {
			limit = 20
		}
		response.Collection(w, jobs, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for DELETE /api/v1/jobs/{jobID}.
func NewCancelJobHandler(reader JobReader, orch Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadOwnedJob(w, r, reader)
		if !ok {
			return
		}

		if err := orch.Cancel(r.Context(), job.ID); err != nil {
			switch {
			case errors.Is(err, scheduler.ErrJobTerminal):
				response.Error(w, http.StatusConflict, "ALREADY_TERMINAL",
					"Job has already finished", nil)
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, map[string]any{"job_id": job.ID, "cancel_requested": true})
	}
}

// NewClearJobsHandler returns an http.HandlerFunc for POST /api/v1/admin/jobs/clear.
func NewClearJobsHandler(orch Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OlderThan string `json:"older_than"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		// Empty means clear every terminal job.
		var olderThan time.Duration
		if req.OlderThan != "" {
			d, err := time.ParseDuration(req.OlderThan)
			if err != nil || d < 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"older_than must be a non-negative duration like 24h", nil)
				return
			}
			olderThan = d
		}

		cleared, err := orch.ClearTerminal(r.Context(), olderThan)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, map[string]any{"cleared": cleared})
	}
}

// loadOwnedJob parses the jobID path param, loads the job, and enforces
// ownership. Jobs belonging to another owner read as not found.
func loadOwnedJob(w http.ResponseWriter, r *http.Request, reader JobReader) (*models.Job, bool) {
	ownerID, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
		return nil, false
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"jobID must be a valid UUID", nil)
		return nil, false
	}

	job, err := reader.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
		} else {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
		}
		return nil, false
	}
	if job.OwnerID != ownerID {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
		return nil, false
	}
	return job, true
}

func atoiOrDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
