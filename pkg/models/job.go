// Package models contains shared data models used across the CommentPulse codebase.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

const (
	// JobTypePreload populates the result cache without exposing a stored result.
	JobTypePreload = "preload"
	// JobTypeAnalyze runs a full analysis whose result is stored on the job.
	JobTypeAnalyze = "analyze"
)

// Job tracks an async sentiment analysis job. The API returns a job id on
// POST /api/v1/jobs; the client polls GET /api/v1/jobs/{jobID} until the job
// reaches a terminal status.
type Job struct {
	ID              uuid.UUID       `db:"id"               json:"id"`
	OwnerID         uuid.UUID       `db:"owner_id"         json:"owner_id"`
	VideoID         string          `db:"video_id"         json:"video_id"`
	Title           string          `db:"title"            json:"title,omitempty"`
	Type            string          `db:"job_type"         json:"type"`
	Status          string          `db:"status"           json:"status"`
	RequestedCount  int             `db:"requested_count"  json:"requested_count"`
	ProcessedCount  int             `db:"processed_count"  json:"processed_count"`
	Progress        int             `db:"progress"         json:"progress"`
	ErrorMessage    *string         `db:"error_message"    json:"error_message,omitempty"`
	Result          json.RawMessage `db:"result"           json:"result,omitempty"`
	CancelRequested bool            `db:"cancel_requested" json:"-"`
	StartedAt       *time.Time      `db:"started_at"       json:"started_at,omitempty"`
	CompletedAt     *time.Time      `db:"completed_at"     json:"completed_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"       json:"updated_at"`
}

// IsTerminal reports whether the job can no longer change state.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ValidJobType reports whether t is a known job type.
func ValidJobType(t string) bool {
	return t == JobTypePreload || t == JobTypeAnalyze
}

// ProgressPercent derives the 0-100 progress value from processed/requested.
// Completed jobs report 100 regardless of the counts.
func ProgressPercent(processed, requested int) int {
	if requested <= 0 {
		return 0
	}
	p := processed * 100 / requested
	if p > 100 {
		p = 100
	}
	if p < 0 {
		p = 0
	}
	return p
}
