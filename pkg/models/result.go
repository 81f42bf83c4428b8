package models

import "time"

// PayloadVersion stamps AnalysisPayload so future schema changes stay decodable.
// Bump when the payload shape or the labeling semantics change; the version is
// part of the cache fingerprint, so older cached entries are simply missed.
const PayloadVersion = 1

// Distribution counts comments per sentiment label.
type Distribution struct {
	Positive int `json:"positive"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`
}

// AnalysisPayload is the aggregated, all-or-nothing result of one job.
// Partial results are never written anywhere.
type AnalysisPayload struct {
	Version        int          `json:"version"`
	VideoID        string       `json:"video_id"`
	Title          string       `json:"title"`
	RequestedCount int          `json:"requested_count"`
	AnalyzedCount  int          `json:"analyzed_count"`
	Distribution   Distribution `json:"distribution"`
	// Score is the mean sentiment in [-1, 1]: positive counts +1, negative -1.
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}
