package models

import "context"

const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Analyzer is the core interface every sentiment backend must implement.
// Never call a specific backend directly — always inject this interface.
type Analyzer interface {
	// Analyze labels a batch of comments. The returned slice preserves input
	// order and may be shorter than the input when items are unusable.
	Analyze(ctx context.Context, comments []Comment) (BatchResult, error)
	// Name returns the backend identifier (e.g. "inference-http").
	Name() string
}

// LabeledComment is one analyzed comment.
type LabeledComment struct {
	CommentID string  `json:"comment_id"`
	Label     string  `json:"label"`
	Score     float64 `json:"score"`
}

// BatchResult is the output of one Analyze call.
type BatchResult struct {
	Labels     []LabeledComment `json:"labels"`
	Confidence float64          `json:"confidence"`
}
