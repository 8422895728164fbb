// Package handlers exposes the deal-hunting pipeline over HTTP: deal
// ranking, listing queries, stats, outreach marking, manual estimation
// entry and the mail webhook trigger.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"car-deal-hunter/internal/database"
	"car-deal-hunter/internal/pipeline"
	"car-deal-hunter/internal/ratelimit"
	"car-deal-hunter/internal/search"
	"car-deal-hunter/internal/snapshot"
)

// Handler bundles the API endpoints and their collaborators.
type Handler struct {
	repo    database.Repository
	pipe    *pipeline.Pipeline
	tracker *snapshot.Tracker
	searchC *search.SearchClient // nil when search is disabled
	limiter *ratelimit.Limiter

	minDiscountPct float64
	runTimeout     time.Duration
	logger         zerolog.Logger
}

// New creates the handler set. searchClient may be nil.
func New(repo database.Repository, pipe *pipeline.Pipeline, tracker *snapshot.Tracker, searchClient *search.SearchClient, limiter *ratelimit.Limiter, minDiscountPct float64, logger zerolog.Logger) *Handler {
	if minDiscountPct <= 0 {
		minDiscountPct = 15
	}
	return &Handler{
		repo:           repo,
		pipe:           pipe,
		tracker:        tracker,
		searchC:        searchClient,
		limiter:        limiter,
		minDiscountPct: minDiscountPct,
		runTimeout:     30 * time.Minute,
		logger:         logger.With().Str("component", "handlers").Logger(),
	}
}

// Register mounts all routes on the router.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	{
		api.GET("/deals", h.GetDeals)
		api.GET("/listings", h.GetListings)
		api.GET("/listings/:id", h.GetListing)
		api.POST("/listings/:id/contacted", h.MarkContacted)
		api.POST("/listings/:id/visited", h.MarkVisited)
		api.POST("/listings/:id/estimate", h.ManualEstimate)
		api.GET("/stats", h.GetStats)
		api.GET("/changes", h.GetRecentChanges)
		api.GET("/search", h.SearchListings)
		api.GET("/ratelimit", h.GetRateLimitStats)

		// Trigger endpoints share the estimator's request budget so a
		// webhook storm cannot bypass the pacing.
		api.POST("/webhook/mail", h.rateLimitMiddleware(), h.MailWebhook)
		api.POST("/run", h.rateLimitMiddleware(), h.TriggerRun)
	}
}

// Health reports service liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// GetDeals returns uncontacted listings at or above the discount
// threshold, best first.
func (h *Handler) GetDeals(c *gin.Context) {
	minDiscount := h.minDiscountPct
	if v := c.Query("min_discount"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid min_discount"})
			return
		}
		minDiscount = parsed
	}
	limit := queryInt(c, "limit", 20)

	deals, err := h.repo.FetchBestDeals(minDiscount, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to fetch deals")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch deals"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deals":        deals,
		"count":        len(deals),
		"min_discount": minDiscount,
	})
}

// GetListings returns recent listings.
func (h *Handler) GetListings(c *gin.Context) {
	limit := queryInt(c, "limit", 50)

	listings, err := h.repo.GetAllListings(limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to fetch listings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch listings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listings": listings,
		"count":    len(listings),
	})
}

// GetListing returns one listing by ID.
func (h *Handler) GetListing(c *gin.Context) {
	listing, err := h.repo.GetListingByID(c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
			return
		}
		h.logger.Error().Err(err).Str("id", c.Param("id")).Msg("Failed to fetch listing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch listing"})
		return
	}

	c.JSON(http.StatusOK, listing)
}

// MarkContacted flags a listing as contacted so it drops out of the deal
// ranking. Repeating the call is a no-op.
func (h *Handler) MarkContacted(c *gin.Context) {
	listing, err := h.repo.GetListingByID(c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch listing"})
		return
	}

	if err := h.repo.MarkContacted(listing.CanonicalURL); err != nil {
		h.logger.Error().Err(err).Str("url", listing.CanonicalURL).Msg("Failed to mark contacted")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark contacted"})
		return
	}
	h.syncListing(listing.CanonicalURL)

	c.JSON(http.StatusOK, gin.H{"status": "contacted", "canonical_url": listing.CanonicalURL})
}

// MarkVisited records that the car was inspected in person.
func (h *Handler) MarkVisited(c *gin.Context) {
	listing, err := h.repo.GetListingByID(c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch listing"})
		return
	}

	if err := h.repo.MarkVisited(listing.CanonicalURL); err != nil {
		h.logger.Error().Err(err).Str("url", listing.CanonicalURL).Msg("Failed to mark visited")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark visited"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "visited", "canonical_url": listing.CanonicalURL})
}

type manualEstimateRequest struct {
	EstimatedValue float64 `json:"estimated_value" binding:"required"`
}

// ManualEstimate records a hand-entered valuation for listings the
// browser estimator cannot handle. The value is sticky; a second call
// with a different value is rejected.
func (h *Handler) ManualEstimate(c *gin.Context) {
	var req manualEstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "estimated_value is required"})
		return
	}
	if req.EstimatedValue <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "estimated_value must be positive"})
		return
	}

	listing, err := h.repo.GetListingByID(c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch listing"})
		return
	}
	if listing.EstimatedValue != nil && *listing.EstimatedValue != req.EstimatedValue {
		c.JSON(http.StatusConflict, gin.H{
			"error":           "listing already has an estimate",
			"estimated_value": *listing.EstimatedValue,
		})
		return
	}

	if err := h.repo.UpdateEstimatedValue(listing.CanonicalURL, req.EstimatedValue); err != nil {
		h.logger.Error().Err(err).Str("url", listing.CanonicalURL).Msg("Failed to store manual estimate")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store estimate"})
		return
	}
	h.syncListing(listing.CanonicalURL)

	c.JSON(http.StatusOK, gin.H{
		"status":          "estimated",
		"canonical_url":   listing.CanonicalURL,
		"estimated_value": req.EstimatedValue,
	})
}

// GetStats returns pipeline progress counters.
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.repo.GetStats(h.minDiscountPct)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listings":     stats,
		"min_discount": h.minDiscountPct,
	})
}

// GetRecentChanges returns the latest observed price/mileage changes.
func (h *Handler) GetRecentChanges(c *gin.Context) {
	limit := queryInt(c, "limit", 50)

	changes, err := h.tracker.Recent(limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to fetch changes")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch changes"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"changes": changes,
		"count":   len(changes),
	})
}

// SearchListings runs a filtered full-text search against the index.
func (h *Handler) SearchListings(c *gin.Context) {
	if h.searchC == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search is not configured"})
		return
	}

	params := search.FilterParams{
		Query:           c.Query("q"),
		SortBy:          c.Query("sort"),
		OnlyUncontacted: c.Query("uncontacted") == "true",
		Limit:           int64(queryInt(c, "limit", 20)),
	}
	if v := c.Query("make"); v != "" {
		params.Makes = []string{v}
	}
	if v := c.Query("min_price"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			params.MinPrice = &parsed
		}
	}
	if v := c.Query("max_price"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			params.MaxPrice = &parsed
		}
	}
	if v := c.Query("min_year"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			params.MinYear = &parsed
		}
	}
	if v := c.Query("max_mileage"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			params.MaxMileage = &parsed
		}
	}
	if v := c.Query("min_discount"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			params.MinDiscount = &parsed
		}
	}

	listings, err := h.searchC.FilterSearch(params)
	if err != nil {
		h.logger.Error().Err(err).Msg("Search failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listings": listings,
		"count":    len(listings),
	})
}

// GetRateLimitStats reports the estimator request budget.
func (h *Handler) GetRateLimitStats(c *gin.Context) {
	if h.limiter == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, h.limiter.Stats())
}

// MailWebhook triggers an asynchronous scrape of unread alert mails.
// Mail providers call it on new-message notifications.
func (h *Handler) MailWebhook(c *gin.Context) {
	go h.runPipeline(pipeline.RunOptions{
		Scrape: pipeline.ScrapeOptions{UnreadOnly: true, MarkRead: true},
	})

	c.JSON(http.StatusAccepted, gin.H{"status": "pipeline triggered"})
}

type triggerRunRequest struct {
	Source        string `json:"source"`
	Limit         int    `json:"limit"`
	EstimateLimit int    `json:"estimate_limit"`
}

// TriggerRun starts a full asynchronous pipeline pass.
func (h *Handler) TriggerRun(c *gin.Context) {
	var req triggerRunRequest
	_ = c.ShouldBindJSON(&req) // empty body means defaults

	go h.runPipeline(pipeline.RunOptions{
		Scrape: pipeline.ScrapeOptions{
			Limit:  req.Limit,
			Source: req.Source,
		},
		EstimateLimit: req.EstimateLimit,
	})

	c.JSON(http.StatusAccepted, gin.H{"status": "pipeline triggered"})
}

func (h *Handler) runPipeline(opts pipeline.RunOptions) {
	ctx, cancel := context.WithTimeout(context.Background(), h.runTimeout)
	defer cancel()

	report, err := h.pipe.Run(ctx, opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Triggered pipeline run failed")
		return
	}
	h.logger.Info().
		Int("extracted", report.Extracted).
		Int("inserted", report.Inserted).
		Int("updated", report.Updated).
		Int("offers", report.Offers).
		Msg("Triggered pipeline run finished")
}

func (h *Handler) syncListing(canonicalURL string) {
	if h.searchC == nil {
		return
	}
	listing, err := h.repo.FindByURL(canonicalURL)
	if err != nil {
		return
	}
	if err := h.searchC.IndexListing(listing); err != nil {
		h.logger.Warn().Err(err).Str("url", canonicalURL).Msg("Search sync failed")
	}
}

func (h *Handler) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter != nil && !h.limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
