package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/commentpulse/commentpulse/internal/youtube"
	"github.com/commentpulse/commentpulse/pkg/models"
)

const defaultChunkSize = 100

// RunHooks lets the scheduler observe pipeline execution. Progress and the
// cancellation flag are evaluated at chunk boundaries, which bounds
// cancellation latency to one chunk's fetch+inference time.
type RunHooks struct {
	// Progress is called with the total items processed so far.
	Progress func(processed int)
	// Cancelled reports whether a cancellation was requested.
	Cancelled func() bool
	// Metadata is called once when the video metadata is known.
	Metadata func(meta models.VideoMetadata)
}

// Runner executes one job to a result. Implemented by Pipeline; test code
// substitutes its own.
type Runner interface {
	Run(ctx context.Context, job *models.Job, hooks RunHooks) (*models.AnalysisPayload, error)
}

// Pipeline adapts the fetch and inference collaborators into the uniform
// execution contract the scheduler runs. The aggregated payload is built only
// at the end, so a job's result is all-or-nothing.
type Pipeline struct {
	fetcher   youtube.Client
	analyzer  models.Analyzer
	chunkSize int
}

func NewPipeline(fetcher youtube.Client, analyzer models.Analyzer, chunkSize int) *Pipeline {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Pipeline{fetcher: fetcher, analyzer: analyzer, chunkSize: chunkSize}
}

func (p *Pipeline) Run(ctx context.Context, job *models.Job, hooks RunHooks) (*models.AnalysisPayload, error) {
	meta, err := p.fetcher.VideoMetadata(ctx, job.VideoID)
	if err != nil {
		return nil, fmt.Errorf("fetching video metadata: %w", err)
	}
	if hooks.Metadata != nil {
		hooks.Metadata(meta)
	}
	if hooks.Cancelled() {
		return nil, ErrCancelled
	}

	var (
		dist      models.Distribution
		scoreSum  int
		confSum   float64
		chunks    int
		processed int
		pageToken string
	)

	for processed < job.RequestedCount {
		limit := p.chunkSize
		if remaining := job.RequestedCount - processed; remaining < limit {
			limit = remaining
		}

		comments, next, err := p.fetcher.Comments(ctx, job.VideoID, pageToken, limit)
		if err != nil {
			return nil, fmt.Errorf("fetching comments: %w", err)
		}
		if len(comments) == 0 {
			if processed == 0 {
				return nil, ErrInsufficientData
			}
			break
		}
		if len(comments) > limit {
			comments = comments[:limit]
		}

		batch, err := p.analyzer.Analyze(ctx, comments)
		if err != nil {
			return nil, fmt.Errorf("analyzing comments: %w", err)
		}

		for _, l := range batch.Labels {
			switch l.Label {
			case models.SentimentPositive:
				dist.Positive++
				scoreSum++
			case models.SentimentNegative:
				dist.Negative++
				scoreSum--
			default:
				dist.Neutral++
			}
		}
		confSum += batch.Confidence
		chunks++
		processed += len(comments)

		hooks.Progress(processed)
		if hooks.Cancelled() {
			return nil, ErrCancelled
		}

		if next == "" {
			break
		}
		pageToken = next
	}

	analyzed := dist.Positive + dist.Neutral + dist.Negative
	if analyzed == 0 {
		return nil, ErrInsufficientData
	}

	payload := &models.AnalysisPayload{
		Version:        models.PayloadVersion,
		VideoID:        job.VideoID,
		Title:          meta.Title,
		RequestedCount: job.RequestedCount,
		AnalyzedCount:  analyzed,
		Distribution:   dist,
		Score:          float64(scoreSum) / float64(analyzed),
		Confidence:     confSum / float64(chunks),
		AnalyzedAt:     time.Now().UTC(),
	}
	return payload, nil
}

// Compile-time check that Pipeline implements Runner.
var _ Runner = (*Pipeline)(nil)
