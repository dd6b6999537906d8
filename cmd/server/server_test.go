package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SonGiHyeon/CV-API/internal/cache"
	"github.com/SonGiHyeon/CV-API/internal/database"
	"github.com/SonGiHyeon/CV-API/internal/ids"
	"github.com/SonGiHyeon/CV-API/internal/ledger"
	"github.com/SonGiHyeon/CV-API/internal/monitoring"
	"github.com/SonGiHyeon/CV-API/internal/ratelimit"
	"github.com/SonGiHyeon/CV-API/internal/security"
	"github.com/SonGiHyeon/CV-API/internal/types"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := database.NewRepository(db)
	metrics := monitoring.NewMetrics()
	logger := monitoring.NewLoggerWithOptions(io.Discard, slog.LevelError)
	corpus := cache.NewCorpusCache(repo, time.Minute, metrics)

	limiter := ratelimit.NewRateLimiter(&ratelimit.RedisClient{}, ratelimit.Config{IPLimitPerMin: 1000, BurstMultiplier: 1}, metrics)
	t.Cleanup(limiter.Close)

	s := &server{
		svc:     ledger.NewService(repo, corpus, ids.NewSequence(), ledger.DefaultConfig(), logger, metrics),
		db:      db,
		corpus:  corpus,
		limiter: limiter,
		redis:   &ratelimit.RedisClient{},
		metrics: metrics,
		logger:  logger,
	}
	return setupRouter(s, security.DefaultSecurityConfig()), s
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func createDraft(t *testing.T, r http.Handler) types.DraftResponse {
	t.Helper()
	w := do(t, r, http.MethodPost, "/drafts", map[string]string{
		"company": "Acme", "position": "Backend Engineer", "jd": "Go services and SQL", "tone": "formal",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[types.DraftResponse](t, w)
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := do(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	health := decode[types.HealthResponse](t, w)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Checks["database"])
	assert.Equal(t, "disabled", health.Checks["redis"])

	w = do(t, r, http.MethodPost, "/health", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDraftLifecycleOverHTTP(t *testing.T) {
	r, s := setupTestRouter(t)

	draft := createDraft(t, r)
	assert.Equal(t, "preview", draft.Meta.Status)
	assert.Equal(t, "formal", draft.Meta.Tone)
	assert.Contains(t, draft.Text, "Acme")

	w := do(t, r, http.MethodPost, "/fragments", []ledger.FragmentInput{
		{OwnerID: "u_a", Text: draft.Text, IsEligible: true},
		{OwnerID: "u_b", Text: "안녕하세요. Acme의 Backend Engineer 포지션 지원자입니다.", IsEligible: true},
		{OwnerID: "u_c", Text: "unrelated words about gardening", IsEligible: false},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 3, decode[types.IngestFragmentsResponse](t, w).Ingested)

	w = do(t, r, http.MethodPost, "/drafts/"+draft.DraftID+"/attribution", map[string]interface{}{"n": 7})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	attr := decode[types.AttributionResponse](t, w)
	assert.Equal(t, 3, attr.HeaderBadges.GramUsed)
	assert.Equal(t, 2, attr.HeaderBadges.RefCount)
	assert.Equal(t, 2, attr.HeaderBadges.ContributorCount)
	assert.Equal(t, 100.0, attr.RewardPreview.Total)
	require.NotEmpty(t, attr.TopK)
	assert.Equal(t, 1.0, attr.TopK[0].Similarity)
	assert.Equal(t, "u_a", attr.RewardPreview.Top5[0].ContributorID)

	w = do(t, r, http.MethodGet, "/drafts/"+draft.DraftID+"/attribution", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rows := decode[types.AttributionListResponse](t, w)
	require.Len(t, rows.Rows, 2)
	sum := 0.0
	for _, row := range rows.Rows {
		sum += row.NormWeight
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	w = do(t, r, http.MethodPost, "/drafts/"+draft.DraftID+"/finalize", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fin := decode[types.FinalizeResponse](t, w)
	assert.True(t, fin.OK)
	assert.Equal(t, "finalized", fin.Status)
	assert.True(t, fin.StatusChanged)
	assert.Equal(t, 2, fin.Count)
	for _, row := range fin.Sample {
		assert.LessOrEqual(t, row.AmountPreview, 60.0)
		assert.Nil(t, row.AmountSettled)
	}

	w = do(t, r, http.MethodPost, "/drafts/"+draft.DraftID+"/settle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[types.SettleResponse](t, w).Settled)

	w = do(t, r, http.MethodPost, "/drafts/"+draft.DraftID+"/settle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[types.SettleResponse](t, w).Settled)

	w = do(t, r, http.MethodGet, "/drafts/rewards/me?userId=u_a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rewards := decode[types.RewardsResponse](t, w)
	assert.Equal(t, "u_a", rewards.UserID)
	require.Len(t, rewards.List, 1)
	assert.Equal(t, "settled", rewards.List[0].Status)
	assert.Equal(t, rewards.Totals.Preview, rewards.Totals.Settled)

	w = do(t, r, http.MethodGet, "/drafts/"+draft.DraftID+"/ledger", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[types.LedgerResponse](t, w).Rows, 2)

	w = do(t, r, http.MethodGet, "/fragments/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, database.FragmentStats{Total: 3, Eligible: 2, Ineligible: 1}, decode[database.FragmentStats](t, w))

	assert.Equal(t, int64(1), s.metrics.AttributionRuns)
	assert.Equal(t, int64(2), s.metrics.SettledRows)
}

func TestAttributionWithEmptyCorpus(t *testing.T) {
	r, _ := setupTestRouter(t)
	draft := createDraft(t, r)

	w := do(t, r, http.MethodPost, "/drafts/"+draft.DraftID+"/attribution", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	attr := decode[types.AttributionResponse](t, w)
	assert.Equal(t, 2, attr.HeaderBadges.GramUsed, "empty trigram result falls back to bigrams")
	assert.Zero(t, attr.HeaderBadges.RefCount)
	assert.Empty(t, attr.RewardPreview.Top5)
}

func TestEligibilityUpdateChangesAttribution(t *testing.T) {
	r, _ := setupTestRouter(t)
	draft := createDraft(t, r)

	w := do(t, r, http.MethodPost, "/fragments", []ledger.FragmentInput{
		{ID: "frag-1", OwnerID: "u_a", Text: draft.Text, IsEligible: true},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, r, http.MethodPost, "/drafts/"+draft.DraftID+"/attribution", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[types.AttributionResponse](t, w).HeaderBadges.RefCount)

	w = do(t, r, http.MethodPut, "/fragments/frag-1/eligibility", map[string]bool{"isEligible": false})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = do(t, r, http.MethodPost, "/drafts/"+draft.DraftID+"/attribution", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[types.AttributionResponse](t, w).HeaderBadges.RefCount)
}

func TestErrorStatusMapping(t *testing.T) {
	r, _ := setupTestRouter(t)
	draft := createDraft(t, r)

	tests := []struct {
		name     string
		method   string
		path     string
		body     interface{}
		status   int
		category string
	}{
		{"missing draft", http.MethodGet, "/drafts/d_missing", nil, http.StatusNotFound, "not_found"},
		{"finalize missing draft", http.MethodPost, "/drafts/d_missing/finalize", nil, http.StatusNotFound, "not_found"},
		{"settle missing draft", http.MethodPost, "/drafts/d_missing/settle", nil, http.StatusNotFound, "not_found"},
		{"ledger missing draft", http.MethodGet, "/drafts/d_missing/ledger", nil, http.StatusNotFound, "not_found"},
		{"draft without fields", http.MethodPost, "/drafts", map[string]string{"company": "Acme"}, http.StatusBadRequest, "validation"},
		{"threshold out of range", http.MethodPost, "/drafts/" + draft.DraftID + "/attribution", map[string]float64{"threshold": 2}, http.StatusBadRequest, "validation"},
		{"negative topK", http.MethodPost, "/drafts/" + draft.DraftID + "/attribution", map[string]int{"topK": -3}, http.StatusBadRequest, "validation"},
		{"rewards without user", http.MethodGet, "/drafts/rewards/me", nil, http.StatusBadRequest, "validation"},
		{"fragment without owner", http.MethodPost, "/fragments", []map[string]string{{"text": "x"}}, http.StatusBadRequest, "validation"},
		{"fragments not an array", http.MethodPost, "/fragments", map[string]string{"text": "x"}, http.StatusBadRequest, "validation"},
		{"eligibility missing flag", http.MethodPut, "/fragments/f_1/eligibility", map[string]string{}, http.StatusBadRequest, "validation"},
		{"eligibility unknown fragment", http.MethodPut, "/fragments/f_missing/eligibility", map[string]bool{"isEligible": true}, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			body := decode[map[string]interface{}](t, w)
			assert.Equal(t, tt.category, body["category"])
		})
	}
}

func TestUnsupportedContentType(t *testing.T) {
	r, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/drafts", bytes.NewBufferString("company=Acme"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := setupTestRouter(t)
	createDraft(t, r)

	w := do(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]interface{}](t, w)
	for _, key := range []string{"corpus_cache", "db_pool", "rate_limiter", "redis_pool", "rate_limit"} {
		assert.Contains(t, body, key)
	}
}

func TestSwaggerDocIsRegistered(t *testing.T) {
	r, _ := setupTestRouter(t)

	w := do(t, r, http.MethodGet, "/swagger/doc.json", nil)
	require.Equal(t, http.StatusOK, w.Code)

	doc := decode[map[string]interface{}](t, w)
	paths, ok := doc["paths"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, paths, "/drafts/{id}/finalize")
}
