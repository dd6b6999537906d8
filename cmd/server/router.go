package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/SonGiHyeon/CV-API/internal/cache"
	"github.com/SonGiHyeon/CV-API/internal/database"
	_ "github.com/SonGiHyeon/CV-API/internal/docs"
	"github.com/SonGiHyeon/CV-API/internal/errors"
	"github.com/SonGiHyeon/CV-API/internal/ledger"
	"github.com/SonGiHyeon/CV-API/internal/monitoring"
	"github.com/SonGiHyeon/CV-API/internal/ratelimit"
	"github.com/SonGiHyeon/CV-API/internal/security"
	"github.com/SonGiHyeon/CV-API/internal/types"
)

// mutationLimitPerMin bounds finalize and settle calls per client IP
const mutationLimitPerMin = 30

type server struct {
	svc     *ledger.Service
	db      *database.DB
	corpus  *cache.CorpusCache
	limiter *ratelimit.RateLimiter
	redis   *ratelimit.RedisClient
	metrics *monitoring.Metrics
	logger  *monitoring.Logger
}

func setupRouter(s *server, secCfg security.SecurityConfig) *gin.Engine {
	r := gin.New()
	sec := security.NewSecurityMiddleware(secCfg)

	r.Use(monitoring.MonitoringMiddleware(s.metrics, s.logger))
	r.Use(errors.ErrorHandler())
	r.Use(errors.RecoveryHandler())
	r.Use(sec.CORSConfig())
	r.Use(sec.SecurityHeaders)
	r.Use(sec.RequestTimeout)
	r.Use(sec.LimitBody)
	r.Use(sec.ValidateContentType)
	if s.limiter != nil {
		r.Use(s.limiter.IPRateLimitMiddleware())
	}

	r.GET("/health", s.health)
	r.GET("/metrics", s.metricsHandler)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	drafts := r.Group("/drafts")
	{
		drafts.POST("", s.createDraft)
		drafts.GET("/rewards/me", s.rewardsForContributor)
		drafts.GET("/:id", s.getDraft)
		drafts.POST("/:id/attribution", s.computeAttribution)
		drafts.GET("/:id/attribution", s.listAttributions)
		drafts.GET("/:id/ledger", s.ledgerForDraft)

		mutations := drafts.Group("")
		if s.limiter != nil {
			mutations.Use(s.limiter.EndpointRateLimitMiddleware("ledger", mutationLimitPerMin))
		}
		mutations.POST("/:id/finalize", s.finalize)
		mutations.POST("/:id/settle", s.settle)
	}

	fragments := r.Group("/fragments")
	{
		fragments.POST("", s.ingestFragments)
		fragments.PUT("/:id/eligibility", s.setEligibility)
		fragments.GET("/stats", s.fragmentStats)
	}

	return r
}

// bindJSON decodes an optional body; an empty body leaves dst untouched
func bindJSON(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		_ = c.Error(errors.NewValidationError("invalid request body", err.Error()))
		return false
	}
	return true
}

func (s *server) createDraft(c *gin.Context) {
	var req types.CreateDraftRequest
	if !bindJSON(c, &req) {
		return
	}

	draft, err := s.svc.CreateDraft(c.Request.Context(), req.Input())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, types.NewDraftResponse(draft))
}

func (s *server) getDraft(c *gin.Context) {
	draft, err := s.svc.GetDraft(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, types.NewDraftResponse(draft))
}

func (s *server) computeAttribution(c *gin.Context) {
	var req types.ComputeAttributionRequest
	if !bindJSON(c, &req) {
		return
	}

	report, err := s.svc.ComputeAttribution(c.Request.Context(), c.Param("id"), req.Options())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, types.NewAttributionResponse(report))
}

func (s *server) listAttributions(c *gin.Context) {
	draftID := c.Param("id")
	rows, err := s.svc.ListAttributions(c.Request.Context(), draftID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, types.NewAttributionListResponse(draftID, rows))
}

func (s *server) finalize(c *gin.Context) {
	report, err := s.svc.Finalize(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, types.NewFinalizeResponse(report))
}

func (s *server) settle(c *gin.Context) {
	report, err := s.svc.Settle(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, types.SettleResponse{OK: true, DraftID: report.DraftID, Settled: report.Settled})
}

func (s *server) ledgerForDraft(c *gin.Context) {
	draftID := c.Param("id")
	entries, err := s.svc.LedgerForDraft(c.Request.Context(), draftID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, types.LedgerResponse{DraftID: draftID, Rows: types.NewLedgerRows(entries)})
}

func (s *server) rewardsForContributor(c *gin.Context) {
	summary, err := s.svc.RewardsForContributor(c.Request.Context(), c.Query("userId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, types.NewRewardsResponse(summary))
}

func (s *server) ingestFragments(c *gin.Context) {
	var in []ledger.FragmentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(errors.NewValidationError("body must be a JSON array of fragments", err.Error()))
		return
	}

	n, err := s.svc.IngestFragments(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, types.IngestFragmentsResponse{Ingested: n})
}

func (s *server) setEligibility(c *gin.Context) {
	var req types.EligibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewValidationError("isEligible is required", err.Error()))
		return
	}

	if err := s.svc.SetFragmentEligibility(c.Request.Context(), c.Param("id"), *req.IsEligible); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) fragmentStats(c *gin.Context) {
	stats, err := s.svc.FragmentStats(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := types.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{"database": "ok"},
	}
	status := http.StatusOK

	if err := s.db.PingContext(ctx); err != nil {
		resp.Checks["database"] = err.Error()
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	switch {
	case !s.redis.IsEnabled():
		resp.Checks["redis"] = "disabled"
	case s.redis.HealthCheck(ctx) != nil:
		// the limiter falls back to memory, so this does not degrade the service
		resp.Checks["redis"] = "unreachable"
	default:
		resp.Checks["redis"] = "ok"
	}

	c.JSON(status, resp)
}

func (s *server) metricsHandler(c *gin.Context) {
	stats := s.metrics.GetStats()
	stats["corpus_cache"] = s.corpus.Stats()
	stats["db_pool"] = s.db.GetPoolStats()
	if s.limiter != nil {
		stats["rate_limiter"] = s.limiter.GetStats()
	}
	stats["redis_pool"] = s.redis.GetPoolStats()
	c.JSON(http.StatusOK, stats)
}
