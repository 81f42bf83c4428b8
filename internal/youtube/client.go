// Package youtube fetches video metadata and comment threads from the
// YouTube Data API v3.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/commentpulse/commentpulse/pkg/models"
)

// Sentinel errors for fetch failures.
var (
	ErrVideoNotFound    = errors.New("video not found")
	ErrCommentsDisabled = errors.New("comments disabled for video")
	ErrQuotaExceeded    = errors.New("youtube api quota exceeded")
	ErrUnreachable      = errors.New("youtube api unreachable")
	ErrTimeout          = errors.New("youtube api timeout")
	ErrAPIError         = errors.New("youtube api error")
)

// maxPageSize is the API's hard cap on commentThreads maxResults.
const maxPageSize = 100

// Client is the interface for fetching video data.
type Client interface {
	// VideoMetadata returns title and comment statistics for a video.
	VideoMetadata(ctx context.Context, videoID string) (models.VideoMetadata, error)
	// Comments returns up to maxResults top-level comments starting at
	// pageToken (empty for the first page), plus the next page token
	// (empty when no more pages exist).
	Comments(ctx context.Context, videoID, pageToken string, maxResults int) ([]models.Comment, string, error)
}

// HTTPClient implements Client using the YouTube Data API v3.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a new YouTube Data API client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) VideoMetadata(ctx context.Context, videoID string) (models.VideoMetadata, error) {
	params := url.Values{
		"part": {"snippet,statistics"},
		"id":   {videoID},
		"key":  {c.apiKey},
	}
	u := fmt.Sprintf("%s/videos?%s", c.baseURL, params.Encode())

	var resp videosResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return models.VideoMetadata{}, err
	}
	if len(resp.Items) == 0 {
		return models.VideoMetadata{}, fmt.Errorf("%w: %s", ErrVideoNotFound, videoID)
	}

	item := resp.Items[0]
	count, _ := strconv.Atoi(item.Statistics.CommentCount)
	return models.VideoMetadata{
		VideoID:      videoID,
		Title:        item.Snippet.Title,
		ChannelTitle: item.Snippet.ChannelTitle,
		CommentCount: count,
	}, nil
}

func (c *HTTPClient) Comments(ctx context.Context, videoID, pageToken string, maxResults int) ([]models.Comment, string, error) {
	if maxResults <= 0 || maxResults > maxPageSize {
		maxResults = maxPageSize
	}

	params := url.Values{
		"part":       {"snippet"},
		"videoId":    {videoID},
		"maxResults": {strconv.Itoa(maxResults)},
		"textFormat": {"plainText"},
		"order":      {"relevance"},
		"key":        {c.apiKey},
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}
	u := fmt.Sprintf("%s/commentThreads?%s", c.baseURL, params.Encode())

	var resp commentThreadsResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, "", err
	}

	comments := make([]models.Comment, 0, len(resp.Items))
	for _, item := range resp.Items {
		sn := item.Snippet.TopLevelComment.Snippet
		published, _ := time.Parse(time.RFC3339, sn.PublishedAt)
		comments = append(comments, models.Comment{
			ID:          item.Snippet.TopLevelComment.ID,
			Author:      sn.AuthorDisplayName,
			Text:        sn.TextDisplay,
			LikeCount:   sn.LikeCount,
			PublishedAt: published,
		})
	}
	return comments, resp.NextPageToken, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding youtube response: %w", err)
	}
	return nil
}

// classifyStatus maps API error responses to sentinel errors using the
// error reason the API reports.
func classifyStatus(resp *http.Response) error {
	var apiErr apiErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)

	reason := ""
	if len(apiErr.Error.Errors) > 0 {
		reason = apiErr.Error.Errors[0].Reason
	}

	switch {
	case reason == "commentsDisabled":
		return fmt.Errorf("%w", ErrCommentsDisabled)
	case reason == "quotaExceeded" || reason == "rateLimitExceeded":
		return fmt.Errorf("%w", ErrQuotaExceeded)
	case resp.StatusCode == http.StatusNotFound || reason == "videoNotFound":
		return fmt.Errorf("%w", ErrVideoNotFound)
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d reason %q", ErrQuotaExceeded, resp.StatusCode, reason)
	default:
		return fmt.Errorf("%w: status %d reason %q", ErrAPIError, resp.StatusCode, reason)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// --- YouTube response types ---

type videosResponse struct {
	Items []struct {
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
		} `json:"snippet"`
		Statistics struct {
			CommentCount string `json:"commentCount"`
		} `json:"statistics"`
	} `json:"items"`
}

type commentThreadsResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		Snippet struct {
			TopLevelComment struct {
				ID      string `json:"id"`
				Snippet struct {
					AuthorDisplayName string `json:"authorDisplayName"`
					TextDisplay       string `json:"textDisplay"`
					LikeCount         int    `json:"likeCount"`
					PublishedAt       string `json:"publishedAt"`
				} `json:"snippet"`
			} `json:"topLevelComment"`
		} `json:"snippet"`
	} `json:"items"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
