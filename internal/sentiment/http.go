// Package sentiment provides the inference collaborator used to label
// comment batches.
package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/commentpulse/commentpulse/pkg/models"
)

// HTTPAnalyzer implements models.Analyzer against a sentiment inference
// server exposing POST /v1/analyze.
type HTTPAnalyzer struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewHTTPAnalyzer(baseURL, model string, timeout time.Duration) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAnalyzer) Name() string { return "inference-http" }

func (a *HTTPAnalyzer) Analyze(ctx context.Context, comments []models.Comment) (models.BatchResult, error) {
	req := analyzeRequest{Model: a.model}
	req.Texts = make([]analyzeText, 0, len(comments))
	for _, c := range comments {
		req.Texts = append(req.Texts, analyzeText{ID: c.ID, Text: c.Text})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return models.BatchResult{}, fmt.Errorf("encoding analyze request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return models.BatchResult{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return models.BatchResult{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.BatchResult{}, fmt.Errorf("%w: status %d", ErrAnalyzerUnavailable, resp.StatusCode)
	}

	var out analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.BatchResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	result := models.BatchResult{Confidence: clampConfidence(out.Confidence)}
	result.Labels = make([]models.LabeledComment, 0, len(out.Results))
	for _, r := range out.Results {
		if !validLabel(r.Label) {
			return models.BatchResult{}, fmt.Errorf("%w: unknown label %q", ErrInvalidResponse, r.Label)
		}
		result.Labels = append(result.Labels, models.LabeledComment{
			CommentID: r.ID,
			Label:     r.Label,
			Score:     r.Score,
		})
	}
	return result, nil
}

func validLabel(label string) bool {
	switch label {
	case models.SentimentPositive, models.SentimentNeutral, models.SentimentNegative:
		return true
	}
	return false
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrAnalyzerUnavailable, err)
}

type analyzeText struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type analyzeRequest struct {
	Model string        `json:"model"`
	Texts []analyzeText `json:"texts"`
}

type analyzeResponse struct {
	Results []struct {
		ID    string  `json:"id"`
		Label string  `json:"label"`
		Score float64 `json:"score"`
	} `json:"results"`
	Confidence float64 `json:"confidence"`
}

// Compile-time check that HTTPAnalyzer implements Analyzer.
var _ models.Analyzer = (*HTTPAnalyzer)(nil)
