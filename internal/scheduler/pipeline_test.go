package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commentpulse/commentpulse/internal/scheduler"
	"github.com/commentpulse/commentpulse/internal/sentiment/mock"
	"github.com/commentpulse/commentpulse/internal/youtube"
	"github.com/commentpulse/commentpulse/pkg/models"
)

// fakeFetcher serves comment pages from a fixed slice, maxResults at a time.
type fakeFetcher struct {
	meta     models.VideoMetadata
	metaErr  error
	comments []models.Comment
	fetchErr error
	// overfetch makes Comments return one extra item beyond maxResults.
	overfetch bool
}

func (f *fakeFetcher) VideoMetadata(_ context.Context, videoID string) (models.VideoMetadata, error) {
	if f.metaErr != nil {
		return models.VideoMetadata{}, f.metaErr
	}
	if f.meta.VideoID == "" {
		f.meta.VideoID = videoID
	}
	return f.meta, nil
}

func (f *fakeFetcher) Comments(_ context.Context, _ string, pageToken string, maxResults int) ([]models.Comment, string, error) {
	if f.fetchErr != nil {
		return nil, "", f.fetchErr
	}
	offset := 0
	if pageToken != "" {
		var err error
		offset, err = atoi(pageToken)
		if err != nil {
			return nil, "", err
		}
	}
	if offset >= len(f.comments) {
		return nil, "", nil
	}
	end := offset + maxResults
	if f.overfetch {
		end++
	}
	if end > len(f.comments) {
		end = len(f.comments)
	}
	page := f.comments[offset:end]
	next := ""
	if end < len(f.comments) {
		next = itoa(end)
	}
	return page, next, nil
}

func atoi(s string) (int, error) {
	var n int
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

var _ youtube.Client = (*fakeFetcher)(nil)

func makeComments(n int) []models.Comment {
	out := make([]models.Comment, n)
	for i := range out {
		out[i] = models.Comment{
			ID:          itoa(i),
			Author:      "author",
			Text:        "comment text",
			PublishedAt: time.Now().UTC(),
		}
	}
	return out
}

// cyclingAnalyzer labels comments positive, negative, neutral in rotation.
func cyclingAnalyzer() *mock.Analyzer {
	labels := []string{models.SentimentPositive, models.SentimentNegative, models.SentimentNeutral}
	i := 0
	return &mock.Analyzer{
		Name_: "cycling",
		AnalyzeFunc: func(_ context.Context, comments []models.Comment) (models.BatchResult, error) {
			res := models.BatchResult{Confidence: 0.8}
			for _, c := range comments {
				res.Labels = append(res.Labels, models.LabeledComment{
					CommentID: c.ID,
					Label:     labels[i%len(labels)],
					Score:     0.7,
				})
				i++
			}
			return res, nil
		},
	}
}

func analyzeJob(videoID string, count int) *models.Job {
	now := time.Now().UTC()
	return &models.Job{
		ID:             uuid.New(),
		OwnerID:        uuid.New(),
		VideoID:        videoID,
		Type:           models.JobTypeAnalyze,
		Status:         models.JobStatusRunning,
		RequestedCount: count,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func noopHooks() scheduler.RunHooks {
	return scheduler.RunHooks{
		Progress:  func(int) {},
		Cancelled: func() bool { return false },
	}
}

func TestPipeline_AggregatesChunks(t *testing.T) {
	fetcher := &fakeFetcher{
		meta:     models.VideoMetadata{VideoID: "vid1", Title: "Test Video"},
		comments: makeComments(250),
	}
	p := scheduler.NewPipeline(fetcher, cyclingAnalyzer(), 100)

	var progressCalls []int
	var gotMeta models.VideoMetadata
	hooks := scheduler.RunHooks{
		Progress:  func(processed int) { progressCalls = append(progressCalls, processed) },
		Cancelled: func() bool { return false },
		Metadata:  func(m models.VideoMetadata) { gotMeta = m },
	}

	job := analyzeJob("vid1", 250)
	payload, err := p.Run(context.Background(), job, hooks)
	require.NoError(t, err)

	assert.Equal(t, "Test Video", gotMeta.Title)
	assert.Equal(t, []int{100, 200, 250}, progressCalls, "one progress checkpoint per chunk")

	assert.Equal(t, models.PayloadVersion, payload.Version)
	assert.Equal(t, "vid1", payload.VideoID)
	assert.Equal(t, "Test Video", payload.Title)
	assert.Equal(t, 250, payload.RequestedCount)
	assert.Equal(t, 250, payload.AnalyzedCount)

	dist := payload.Distribution
	assert.Equal(t, 250, dist.Positive+dist.Negative+dist.Neutral)
	// Cycling labels: positives lead by at most one over negatives
	assert.InDelta(t, dist.Positive, dist.Negative, 1)

	expectedScore := float64(dist.Positive-dist.Negative) / 250
	assert.InDelta(t, expectedScore, payload.Score, 1e-9)
	assert.InDelta(t, 0.8, payload.Confidence, 1e-9)
	assert.False(t, payload.AnalyzedAt.IsZero())
}

func TestPipeline_StopsWhenCommentsExhausted(t *testing.T) {
	fetcher := &fakeFetcher{
		meta:     models.VideoMetadata{VideoID: "vid1", Title: "Short Video"},
		comments: makeComments(30),
	}
	p := scheduler.NewPipeline(fetcher, mock.NewAnalyzer(), 100)

	payload, err := p.Run(context.Background(), analyzeJob("vid1", 500), noopHooks())
	require.NoError(t, err)
	assert.Equal(t, 30, payload.AnalyzedCount, "partial data still produces a result")
	assert.Equal(t, 500, payload.RequestedCount)
	assert.Equal(t, 30, payload.Distribution.Neutral)
}

func TestPipeline_EmptyVideo(t *testing.T) {
	fetcher := &fakeFetcher{meta: models.VideoMetadata{VideoID: "vid1"}}
	p := scheduler.NewPipeline(fetcher, mock.NewAnalyzer(), 100)

	_, err := p.Run(context.Background(), analyzeJob("vid1", 100), noopHooks())
	assert.ErrorIs(t, err, scheduler.ErrInsufficientData)
}

func TestPipeline_CancelledAfterMetadata(t *testing.T) {
	fetcher := &fakeFetcher{
		meta:     models.VideoMetadata{VideoID: "vid1"},
		comments: makeComments(100),
	}
	p := scheduler.NewPipeline(fetcher, mock.NewAnalyzer(), 100)

	hooks := noopHooks()
	hooks.Cancelled = func() bool { return true }

	_, err := p.Run(context.Background(), analyzeJob("vid1", 100), hooks)
	assert.ErrorIs(t, err, scheduler.ErrCancelled)
}

func TestPipeline_CancelledAtChunkBoundary(t *testing.T) {
	fetcher := &fakeFetcher{
		meta:     models.VideoMetadata{VideoID: "vid1"},
		comments: makeComments(300),
	}
	p := scheduler.NewPipeline(fetcher, mock.NewAnalyzer(), 100)

	// Flip the flag after the first chunk reports progress.
	cancelled := false
	hooks := scheduler.RunHooks{
		Progress:  func(int) { cancelled = true },
		Cancelled: func() bool { return cancelled },
	}

	_, err := p.Run(context.Background(), analyzeJob("vid1", 300), hooks)
	assert.ErrorIs(t, err, scheduler.ErrCancelled)
}

func TestPipeline_MetadataError(t *testing.T) {
	fetcher := &fakeFetcher{metaErr: youtube.ErrVideoNotFound}
	p := scheduler.NewPipeline(fetcher, mock.NewAnalyzer(), 100)

	_, err := p.Run(context.Background(), analyzeJob("missing", 100), noopHooks())
	assert.ErrorIs(t, err, youtube.ErrVideoNotFound)
}

func TestPipeline_FetchError(t *testing.T) {
	fetcher := &fakeFetcher{
		meta:     models.VideoMetadata{VideoID: "vid1"},
		fetchErr: youtube.ErrQuotaExceeded,
	}
	p := scheduler.NewPipeline(fetcher, mock.NewAnalyzer(), 100)

	_, err := p.Run(context.Background(), analyzeJob("vid1", 100), noopHooks())
	assert.ErrorIs(t, err, youtube.ErrQuotaExceeded)
}

func TestPipeline_AnalyzerError(t *testing.T) {
	fetcher := &fakeFetcher{
		meta:     models.VideoMetadata{VideoID: "vid1"},
		comments: makeComments(50),
	}
	wantErr := assert.AnError
	p := scheduler.NewPipeline(fetcher, mock.NewFailingAnalyzer(wantErr), 100)

	_, err := p.Run(context.Background(), analyzeJob("vid1", 100), noopHooks())
	assert.ErrorIs(t, err, wantErr)
}

func TestPipeline_TruncatesOverfetchedChunk(t *testing.T) {
	fetcher := &fakeFetcher{
		meta:      models.VideoMetadata{VideoID: "vid1"},
		comments:  makeComments(200),
		overfetch: true,
	}
	p := scheduler.NewPipeline(fetcher, mock.NewAnalyzer(), 100)

	payload, err := p.Run(context.Background(), analyzeJob("vid1", 150), noopHooks())
	require.NoError(t, err)
	assert.Equal(t, 150, payload.AnalyzedCount, "never analyzes more than requested")
}
