package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/commentpulse/commentpulse/internal/api"
	"github.com/commentpulse/commentpulse/internal/api/handler"
	mw "github.com/commentpulse/commentpulse/internal/api/middleware"
	"github.com/commentpulse/commentpulse/internal/cache"
	"github.com/commentpulse/commentpulse/internal/scheduler"
	"github.com/commentpulse/commentpulse/internal/store"
	"github.com/commentpulse/commentpulse/pkg/models"
)

const (
	testJobsKey  = "cp_jobskey_secret_1"
	testAdminKey = "cp_adminkey_secret1"
)

// testCache is an in-memory cache.Cache with hit/miss accounting.
type testCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	hits    int64
	misses  int64
}

func newTestCache() *testCache {
	return &testCache{entries: map[string][]byte{}}
}

func (c *testCache) GetResult(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok, nil
}

func (c *testCache) PutResult(_ context.Context, key string, payload []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = payload
	return nil
}

func (c *testCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *testCache) Stats(context.Context) (cache.Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cache.Stats{Hits: c.hits, Misses: c.misses, TotalKeys: int64(len(c.entries))}, nil
}

func (c *testCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

func (c *testCache) Ping(context.Context) error { return nil }
func (c *testCache) Close() error               { return nil }

var _ cache.Cache = (*testCache)(nil)

// blockableRunner completes jobs immediately unless hold is set, in which
// case it loops on the cancellation checkpoint.
type blockableRunner struct {
	hold bool
}

func (r *blockableRunner) Run(ctx context.Context, job *models.Job, hooks scheduler.RunHooks) (*models.AnalysisPayload, error) {
	for r.hold && !hooks.Cancelled() {
		select {
		case <-time.After(5 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if hooks.Cancelled() {
		return nil, scheduler.ErrCancelled
	}
	hooks.Progress(job.RequestedCount)
	return &models.AnalysisPayload{
		Version:        models.PayloadVersion,
		VideoID:        job.VideoID,
		RequestedCount: job.RequestedCount,
		AnalyzedCount:  job.RequestedCount,
		Distribution:   models.Distribution{Neutral: job.RequestedCount},
		Confidence:     0.9,
		AnalyzedAt:     time.Now().UTC(),
	}, nil
}

type fixture struct {
	store  *store.MemoryStore
	cache  *testCache
	sched  *scheduler.Scheduler
	router http.Handler
}

func seedTestKey(t *testing.T, st store.Store, rawKey string, scopes []string) {
	t.Helper()
	owner, err := st.GetDefaultOwner(context.Background())
	require.NoError(t, err)
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, st.CreateAPIKey(context.Background(), &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   owner.ID,
		Name:      "seed-" + rawKey[3:11],
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:8],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func newFixture(t *testing.T, runner scheduler.Runner) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	ca := newTestCache()
	if runner == nil {
		runner = &blockableRunner{}
	}
	sched := scheduler.New(st, ca, runner, scheduler.Config{
		MaxRunning:   2,
		PollInterval: 10 * time.Millisecond,
		ResultTTL:    time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	seedTestKey(t, st, testJobsKey, []string{"jobs"})
	seedTestKey(t, st, testAdminKey, []string{"jobs", "admin"})

	auth := mw.NewAuth(st)
	router := api.NewRouter(api.Dependencies{
		Auth:      auth,
		RateLimit: mw.NewRateLimit(ca, 1000),

		SubmitJobHandler: handler.NewSubmitJobHandler(sched),
		GetJobHandler:    handler.NewGetJobHandler(st),
		ListJobsHandler:  handler.NewListJobsHandler(st),
		CancelJobHandler: handler.NewCancelJobHandler(st, sched),

		CacheLookupHandler: handler.NewCacheLookupHandler(ca),
		CacheStatsHandler:  handler.NewCacheStatsHandler(ca),

		ClearJobsHandler: handler.NewClearJobsHandler(sched),
		CreateKeyHandler: handler.NewCreateKeyHandler(st),
		ListKeysHandler:  handler.NewListKeysHandler(st),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(st),
	})

	return &fixture{store: st, cache: ca, sched: sched, router: router}
}

func (f *fixture) do(t *testing.T, method, path, rawKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if rawKey != "" {
		req.Header.Set("Authorization", "Bearer "+rawKey)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func dataOf(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "expected data envelope, got: %s", w.Body.String())
	return data
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got: %s", w.Body.String())
	return errObj["code"].(string)
}

func (f *fixture) submitJob(t *testing.T, videoID string, count int) string {
	t.Helper()
	w := f.do(t, "POST", "/api/v1/jobs", testJobsKey, map[string]any{
		"video_id": videoID, "type": "analyze", "count": count,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	job := dataOf(t, w)["job"].(map[string]any)
	return job["id"].(string)
}

func (f *fixture) waitForJobStatus(t *testing.T, jobID, status string) map[string]any {
	t.Helper()
	var job map[string]any
	require.Eventually(t, func() bool {
		w := f.do(t, "GET", "/api/v1/jobs/"+jobID, testJobsKey, nil)
		if w.Code != http.StatusOK {
			return false
		}
		job = dataOf(t, w)
		return job["status"] == status
	}, 5*time.Second, 10*time.Millisecond, "job never reached %s", status)
	return job
}

// --- Auth gate ---

func TestRoutes_RequireAuth(t *testing.T) {
	f := newFixture(t, nil)

	for _, route := range []struct{ method, path string }{
		{"POST", "/api/v1/jobs"},
		{"GET", "/api/v1/jobs"},
		{"GET", "/api/v1/jobs/" + uuid.NewString()},
		{"GET", "/api/v1/cache/stats"},
		{"GET", "/api/v1/cache/someVideo"},
	} {
		w := f.do(t, route.method, route.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", route.method, route.path)
	}
}

func TestAdminRoutes_RequireAdminScope(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "POST", "/api/v1/admin/jobs/clear", testJobsKey, map[string]any{})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, "GET", "/api/v1/admin/keys", testJobsKey, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// --- Job submission ---

func TestSubmitJob_Accepted(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "POST", "/api/v1/jobs", testJobsKey, map[string]any{
		"video_id": "dQw4w9WgXcQ", "type": "analyze", "count": 150,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	job := dataOf(t, w)["job"].(map[string]any)
	assert.Equal(t, "dQw4w9WgXcQ", job["video_id"])
	assert.Equal(t, "analyze", job["type"])
	assert.Equal(t, float64(150), job["requested_count"])
	assert.Equal(t, "queued", job["status"])
}

func TestSubmitJob_DefaultsTypeAndCount(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "POST", "/api/v1/jobs", testJobsKey, map[string]any{"video_id": "vid1"})
	require.Equal(t, http.StatusAccepted, w.Code)

	job := dataOf(t, w)["job"].(map[string]any)
	assert.Equal(t, "analyze", job["type"])
	assert.Equal(t, float64(100), job["requested_count"])
}

func TestSubmitJob_Validation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing video_id", map[string]any{"count": 100}},
		{"unknown type", map[string]any{"video_id": "v", "type": "transcribe"}},
		{"negative count", map[string]any{"video_id": "v", "count": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, "POST", "/api/v1/jobs", testJobsKey, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "INVALID_REQUEST", errCode(t, w))
		})
	}
}

func TestSubmitJob_Deduplicated(t *testing.T) {
	runner := &blockableRunner{hold: true}
	f := newFixture(t, runner)

	jobID := f.submitJob(t, "vid1", 100)

	w := f.do(t, "POST", "/api/v1/jobs", testJobsKey, map[string]any{
		"video_id": "vid1", "type": "analyze", "count": 100,
	})
	require.Equal(t, http.StatusOK, w.Code, "duplicate resolves to the existing job")

	data := dataOf(t, w)
	assert.Equal(t, true, data["deduplicated"])
	dup := data["job"].(map[string]any)
	assert.Equal(t, jobID, dup["id"])
}

func TestSubmitJob_CapacityExceeded(t *testing.T) {
	runner := &blockableRunner{hold: true}
	f := newFixture(t, runner)

	a := f.submitJob(t, "vid1", 100)
	b := f.submitJob(t, "vid2", 100)
	f.waitForJobStatus(t, a, "running")
	f.waitForJobStatus(t, b, "running")

	w := f.do(t, "POST", "/api/v1/jobs", testJobsKey, map[string]any{
		"video_id": "vid3", "type": "analyze", "count": 100,
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "CAPACITY_EXCEEDED", errCode(t, w))
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
}

// --- Job polling ---

func TestGetJob_Lifecycle(t *testing.T) {
	f := newFixture(t, nil)

	jobID := f.submitJob(t, "vid1", 100)
	job := f.waitForJobStatus(t, jobID, "completed")

	assert.Equal(t, float64(100), job["progress"])
	assert.NotNil(t, job["result"])
	result := job["result"].(map[string]any)
	assert.Equal(t, "vid1", result["video_id"])
	assert.Equal(t, float64(100), result["analyzed_count"])
}

func TestGetJob_NotFound(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "GET", "/api/v1/jobs/"+uuid.NewString(), testJobsKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errCode(t, w))
}

func TestGetJob_BadID(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "GET", "/api/v1/jobs/not-a-uuid", testJobsKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Listing ---

func TestListJobs(t *testing.T) {
	f := newFixture(t, nil)

	a := f.submitJob(t, "vid1", 100)
	b := f.submitJob(t, "vid2", 100)
	f.waitForJobStatus(t, a, "completed")
	f.waitForJobStatus(t, b, "completed")

	w := f.do(t, "GET", "/api/v1/jobs?filter=completed&sort=oldest", testJobsKey, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []map[string]any `json:"data"`
		Meta map[string]any   `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, "vid1", body.Data[0]["video_id"])
	assert.Equal(t, float64(2), body.Meta["total"])
	assert.Equal(t, false, body.Meta["has_next"])
}

func TestListJobs_InvalidFilter(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "GET", "/api/v1/jobs?filter=bogus", testJobsKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, "GET", "/api/v1/jobs?sort=bogus", testJobsKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Cancel ---

func TestCancelJob_Running(t *testing.T) {
	runner := &blockableRunner{hold: true}
	f := newFixture(t, runner)

	jobID := f.submitJob(t, "vid1", 100)
	f.waitForJobStatus(t, jobID, "running")

	w := f.do(t, "DELETE", "/api/v1/jobs/"+jobID, testJobsKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, dataOf(t, w)["cancel_requested"])

	f.waitForJobStatus(t, jobID, "cancelled")
}

func TestCancelJob_AlreadyTerminal(t *testing.T) {
	f := newFixture(t, nil)

	jobID := f.submitJob(t, "vid1", 100)
	f.waitForJobStatus(t, jobID, "completed")

	w := f.do(t, "DELETE", "/api/v1/jobs/"+jobID, testJobsKey, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_TERMINAL", errCode(t, w))
}

// --- Cache facade ---

func TestCacheLookup_HitAndMiss(t *testing.T) {
	f := newFixture(t, nil)

	jobID := f.submitJob(t, "vid1", 100)
	f.waitForJobStatus(t, jobID, "completed")

	w := f.do(t, "GET", "/api/v1/cache/vid1?count=100", testJobsKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := dataOf(t, w)
	assert.Equal(t, true, data["hit"])
	payload := data["payload"].(map[string]any)
	assert.Equal(t, "vid1", payload["video_id"])

	// A different count fingerprint misses.
	w = f.do(t, "GET", "/api/v1/cache/vid1?count=500", testJobsKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data = dataOf(t, w)
	assert.Equal(t, false, data["hit"])
	_, hasPayload := data["payload"]
	assert.False(t, hasPayload)
}

func TestCacheLookup_InvalidCount(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "GET", "/api/v1/cache/vid1?count=-3", testJobsKey, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCacheStats(t *testing.T) {
	f := newFixture(t, nil)

	jobID := f.submitJob(t, "vid1", 100)
	f.waitForJobStatus(t, jobID, "completed")

	// one hit, one miss
	f.do(t, "GET", "/api/v1/cache/vid1?count=100", testJobsKey, nil)
	f.do(t, "GET", "/api/v1/cache/ghost?count=100", testJobsKey, nil)

	w := f.do(t, "GET", "/api/v1/cache/stats", testJobsKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := dataOf(t, w)
	assert.Equal(t, float64(1), data["hits"])
	assert.Equal(t, float64(1), data["misses"])
	assert.Equal(t, float64(1), data["total_keys"])
	assert.Equal(t, float64(50), data["hit_rate_percent"])
}

// --- Admin: clear jobs ---

func TestClearJobs(t *testing.T) {
	f := newFixture(t, nil)

	jobID := f.submitJob(t, "vid1", 100)
	f.waitForJobStatus(t, jobID, "completed")

	w := f.do(t, "POST", "/api/v1/admin/jobs/clear", testAdminKey, map[string]any{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), dataOf(t, w)["cleared"])

	// Gone from the store
	w = f.do(t, "GET", "/api/v1/jobs/"+jobID, testJobsKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClearJobs_BadDuration(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "POST", "/api/v1/admin/jobs/clear", testAdminKey, map[string]any{
		"older_than": "yesterday",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Admin: API keys ---

func TestCreateKey_RawKeyShownOnce(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "POST", "/api/v1/admin/keys", testAdminKey, map[string]any{
		"name": "ci-bot", "scopes": []string{"jobs"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	data := dataOf(t, w)
	rawKey := data["raw_key"].(string)
	assert.True(t, len(rawKey) > 8)
	key := data["key"].(map[string]any)
	assert.Equal(t, "ci-bot", key["name"])
	assert.Equal(t, rawKey[:8], key["key_prefix"])
	_, hashExposed := key["key_hash"]
	assert.False(t, hashExposed, "hash never leaves the server")

	// The fresh key authenticates.
	w2 := f.do(t, "GET", "/api/v1/jobs", rawKey, nil)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestCreateKey_MissingName(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "POST", "/api/v1/admin/keys", testAdminKey, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateKey_DuplicateName(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "POST", "/api/v1/admin/keys", testAdminKey, map[string]any{"name": "dupe"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, "POST", "/api/v1/admin/keys", testAdminKey, map[string]any{"name": "dupe"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_NAME", errCode(t, w))
}

func TestListAndRevokeKeys(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, "POST", "/api/v1/admin/keys", testAdminKey, map[string]any{"name": "victim"})
	require.Equal(t, http.StatusCreated, w.Code)
	created := dataOf(t, w)
	keyID := created["key"].(map[string]any)["id"].(string)
	rawKey := created["raw_key"].(string)

	// Listed alongside the two seeded keys
	w = f.do(t, "GET", "/api/v1/admin/keys", testAdminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listBody struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listBody))
	assert.Len(t, listBody.Data, 3)

	// Revoke
	w = f.do(t, "DELETE", "/api/v1/admin/keys/"+keyID, testAdminKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, dataOf(t, w)["revoked"])

	// The revoked key stops authenticating.
	w = f.do(t, "GET", "/api/v1/jobs", rawKey, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Revoking again is a 404.
	w = f.do(t, "DELETE", "/api/v1/admin/keys/"+keyID, testAdminKey, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
