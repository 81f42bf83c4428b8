package scheduler

import "errors"

var (
	// ErrInvalidCount rejects submissions with a non-positive requested count.
	ErrInvalidCount = errors.New("requested count must be positive")
	// ErrCapacity signals the running-job cap is reached; the caller may retry.
	ErrCapacity = errors.New("job capacity reached, retry later")
	// ErrJobTerminal is returned when cancelling an already-finished job.
	ErrJobTerminal = errors.New("job already in a terminal state")
	// ErrCancelled is the distinguished pipeline outcome for an honored
	// cancellation; it is not recorded as a failure.
	ErrCancelled = errors.New("job cancelled")
	// ErrInsufficientData is returned when a video yields no usable comments.
	ErrInsufficientData = errors.New("no comments available to analyze")
)
