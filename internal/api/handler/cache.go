package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/commentpulse/commentpulse/internal/api/response"
	"github.com/commentpulse/commentpulse/internal/cache"
	"github.com/commentpulse/commentpulse/pkg/models"
)

// NewCacheLookupHandler returns an http.HandlerFunc for
// GET /api/v1/cache/{videoID}. A hit returns the cached payload; a miss
// returns {hit: false} so clients can decide whether to submit a job.
func NewCacheLookupHandler(ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videoID := chi.URLParam(r, "videoID")
		if videoID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"videoID is required", nil)
			return
		}

		count := atoiOrDefault(r.URL.Query().Get("count"), defaultRequestedCount)
		if count <= 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"count must be positive", nil)
			return
		}
		if count > maxRequestedCount {
			count = maxRequestedCount
		}

		key := cache.ResultKey(videoID, count, models.PayloadVersion)
		payload, hit, err := ca.GetResult(r.Context(), key)
		if err != nil {
			response.Error(w, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE",
				"Result cache is not reachable", nil)
			return
		}

		if !hit {
			response.JSON(w, cacheLookupResponse{Hit: false})
			return
		}
		response.JSON(w, cacheLookupResponse{Hit: true, Payload: payload})
	}
}

type cacheLookupResponse struct {
	Hit     bool            `json:"hit"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewCacheStatsHandler returns an http.HandlerFunc for GET /api/v1/cache/stats.
func NewCacheStatsHandler(ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := ca.Stats(r.Context())
		if err != nil {
			response.Error(w, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE",
				"Result cache is not reachable", nil)
			return
		}

		var hitRate float64
		if lookups := stats.Hits + stats.Misses; lookups > 0 {
			hitRate = float64(stats.Hits) / float64(lookups) * 100
		}
		response.JSON(w, cacheStatsResponse{
			Hits:           stats.Hits,
			Misses:         stats.Misses,
			TotalKeys:      stats.TotalKeys,
			HitRatePercent: hitRate,
		})
	}
}

type cacheStatsResponse struct {
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	TotalKeys      int64   `json:"total_keys"`
	HitRatePercent float64 `json:"hit_rate_percent"`
}
