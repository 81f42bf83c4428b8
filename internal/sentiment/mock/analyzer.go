// Package mock provides a configurable models.Analyzer for tests.
package mock

import (
	"context"

	"github.com/commentpulse/commentpulse/internal/sentiment"
	"github.com/commentpulse/commentpulse/pkg/models"
)

// Analyzer satisfies models.Analyzer for testing.
type Analyzer struct {
	Name_       string
	AnalyzeFunc func(ctx context.Context, comments []models.Comment) (models.BatchResult, error)
}

func (m *Analyzer) Name() string { return m.Name_ }

func (m *Analyzer) Analyze(ctx context.Context, comments []models.Comment) (models.BatchResult, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, comments)
	}
	return models.BatchResult{}, nil
}

// NewAnalyzer returns a mock that labels every comment neutral.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		Name_: "mock",
		AnalyzeFunc: func(_ context.Context, comments []models.Comment) (models.BatchResult, error) {
			res := models.BatchResult{Confidence: 0.9}
			for _, c := range comments {
				res.Labels = append(res.Labels, models.LabeledComment{
					CommentID: c.ID,
					Label:     models.SentimentNeutral,
					Score:     0.5,
				})
			}
			return res, nil
		},
	}
}

// NewFailingAnalyzer returns a mock that always returns the given error.
func NewFailingAnalyzer(err error) *Analyzer {
	return &Analyzer{
		Name_: "mock-failing",
		AnalyzeFunc: func(context.Context, []models.Comment) (models.BatchResult, error) {
			return models.BatchResult{}, err
		},
	}
}

// NewTimeoutAnalyzer returns a mock that blocks until context is cancelled.
func NewTimeoutAnalyzer() *Analyzer {
	return &Analyzer{
		Name_: "mock-timeout",
		AnalyzeFunc: func(ctx context.Context, _ []models.Comment) (models.BatchResult, error) {
			<-ctx.Done()
			return models.BatchResult{}, sentiment.ErrInferenceTimeout
		},
	}
}

// Compile-time check that Analyzer implements models.Analyzer.
var _ models.Analyzer = (*Analyzer)(nil)
