// Package pipeline orchestrates one pass of the deal hunt: pull raw
// markup from the sources, extract and store listings, estimate market
// values, compute offers and surface the deals.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"car-deal-hunter/internal/database"
	"car-deal-hunter/internal/extractor"
	"car-deal-hunter/internal/models"
	"car-deal-hunter/internal/pricing"
	"car-deal-hunter/internal/publisher"
	"car-deal-hunter/internal/ratelimit"
	"car-deal-hunter/internal/sources"
)

// Indexer is the search surface the pipeline needs; satisfied by
// search.SearchClient.
type Indexer interface {
	IndexListings(listings []models.Listing) error
}

// Config carries the offer and pacing settings for a pipeline.
type Config struct {
	// Offer bounds handed to the offer engine.
	MinDiscountPct float64
	MaxDiscountPct float64

	// Listings at or above this discount count as deals and get
	// published.
	DealThresholdPct float64

	// Pause between browser estimations.
	EstimateDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.MinDiscountPct <= 0 {
		c.MinDiscountPct = 10
	}
	if c.MaxDiscountPct <= 0 {
		c.MaxDiscountPct = 20
	}
	if c.DealThresholdPct <= 0 {
		c.DealThresholdPct = 15
	}
	if c.EstimateDelay <= 0 {
		c.EstimateDelay = 2 * time.Second
	}
}

// Pipeline wires the ingestion stages together. Sources, search,
// publisher, estimator and limiter are optional; stages without their
// dependency are skipped.
type Pipeline struct {
	repo      database.Repository
	extractor *extractor.Extractor
	cfg       Config
	logger    zerolog.Logger

	sources   []sources.Source
	search    Indexer
	publisher publisher.Publisher
	estimator pricing.Estimator
	limiter   *ratelimit.Limiter
}

func New(repo database.Repository, ext *extractor.Extractor, cfg Config, logger zerolog.Logger) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		repo:      repo,
		extractor: ext,
		cfg:       cfg,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

func (p *Pipeline) WithSources(srcs ...sources.Source) *Pipeline {
	p.sources = append(p.sources, srcs...)
	return p
}

func (p *Pipeline) WithSearch(idx Indexer) *Pipeline {
	p.search = idx
	return p
}

func (p *Pipeline) WithPublisher(pub publisher.Publisher) *Pipeline {
	p.publisher = pub
	return p
}

func (p *Pipeline) WithEstimator(est pricing.Estimator) *Pipeline {
	p.estimator = est
	return p
}

func (p *Pipeline) WithLimiter(l *ratelimit.Limiter) *Pipeline {
	p.limiter = l
	return p
}

// Report totals one pipeline pass.
type Report struct {
	Messages  int `json:"messages"`
	Extracted int `json:"extracted"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Estimated int `json:"estimated"`
	Offers    int `json:"offers"`
	Published int `json:"published"`
	Errors    int `json:"errors"`
}

func (r *Report) merge(other *Report) {
	r.Messages += other.Messages
	r.Extracted += other.Extracted
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Estimated += other.Estimated
	r.Offers += other.Offers
	r.Published += other.Published
	r.Errors += other.Errors
}

// ScrapeOptions controls a scrape pass.
type ScrapeOptions struct {
	// Limit caps messages fetched per source; zero means the source
	// default.
	Limit int

	// UnreadOnly restricts mail sources to unread messages.
	UnreadOnly bool

	// MarkRead acknowledges messages whose listings stored cleanly.
	MarkRead bool

	// Source restricts the pass to one named source.
	Source string
}

// Scrape pulls messages from every configured source, extracts listings
// and stores them. A failing source or message is logged and skipped so
// one broken mail never stalls the rest.
func (p *Pipeline) Scrape(ctx context.Context, opts ScrapeOptions) (*Report, error) {
	report := &Report{}

	for _, src := range p.sources {
		if opts.Source != "" && src.Name() != opts.Source {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		messages, err := src.Fetch(ctx, opts.Limit, opts.UnreadOnly)
		if err != nil {
			p.logger.Error().Err(err).Str("source", src.Name()).Msg("Source fetch failed")
			report.Errors++
			continue
		}
		report.Messages += len(messages)

		var processedIDs []string
		var stored []models.Listing
		for _, msg := range messages {
			listings, err := p.extractor.Extract(msg.HTML, src.Name())
			if err != nil {
				p.logger.Warn().Err(err).Str("source", src.Name()).Str("message", msg.ID).Msg("Extraction failed, skipping message")
				report.Errors++
				continue
			}
			report.Extracted += len(listings)

			result, err := p.repo.StoreListings(listings)
			if err != nil {
				p.logger.Error().Err(err).Str("message", msg.ID).Msg("Store failed, leaving message unacknowledged")
				report.Errors++
				continue
			}
			report.Inserted += result.Inserted
			report.Updated += result.Updated
			processedIDs = append(processedIDs, msg.ID)

			for _, listing := range listings {
				if merged, err := p.repo.FindByURL(listing.CanonicalURL); err == nil {
					stored = append(stored, *merged)
				}
			}
		}

		p.indexListings(stored)

		if opts.MarkRead && len(processedIDs) > 0 {
			if err := src.MarkProcessed(ctx, processedIDs); err != nil {
				p.logger.Warn().Err(err).Str("source", src.Name()).Msg("Marking messages processed failed")
				report.Errors++
			}
		}
	}

	p.logger.Info().
		Int("messages", report.Messages).
		Int("extracted", report.Extracted).
		Int("inserted", report.Inserted).
		Int("updated", report.Updated).
		Msg("Scrape pass finished")
	return report, nil
}

// Estimate values listings that have none yet, oldest debt first. The
// pass stops early when the circuit opens; remaining listings wait for
// the next run.
func (p *Pipeline) Estimate(ctx context.Context, limit int) (*Report, error) {
	report := &Report{}
	if p.estimator == nil {
		return report, errors.New("no estimator configured")
	}

	candidates, err := p.repo.FetchUnestimated(limit)
	if err != nil {
		return report, err
	}
	if len(candidates) == 0 {
		p.logger.Info().Msg("Nothing to estimate")
		return report, nil
	}

	for i, listing := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if listing.Make == "" || listing.Model == "" {
			p.logger.Warn().Str("url", listing.CanonicalURL).Msg("Missing make or model, cannot estimate")
			continue
		}

		if i > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(p.cfg.EstimateDelay):
			}
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return report, err
			}
		}

		estimate, err := p.estimator.Estimate(ctx, pricing.EstimateRequest{
			Make:    listing.Make,
			Model:   listing.Model,
			Year:    listing.Year,
			Mileage: listing.Mileage,
		})
		if errors.Is(err, pricing.ErrCircuitOpen) {
			p.logger.Warn().Msg("Estimation circuit open, stopping the pass")
			break
		}
		if err != nil {
			p.logger.Warn().Err(err).Str("url", listing.CanonicalURL).Msg("Estimation failed")
			report.Errors++
			continue
		}

		if err := p.repo.UpdateEstimatedValue(listing.CanonicalURL, estimate.AvgPrice); err != nil {
			p.logger.Error().Err(err).Str("url", listing.CanonicalURL).Msg("Storing estimate failed")
			report.Errors++
			continue
		}
		report.Estimated++
		p.syncListing(listing.CanonicalURL)
	}

	p.logger.Info().Int("estimated", report.Estimated).Int("candidates", len(candidates)).Msg("Estimation pass finished")
	return report, nil
}

// ComputeOffers turns estimates into concrete offers and publishes the
// listings that clear the deal threshold.
func (p *Pipeline) ComputeOffers(ctx context.Context) (*Report, error) {
	report := &Report{}

	candidates, err := p.repo.FetchUnpriced(0)
	if err != nil {
		return report, err
	}

	for _, listing := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if listing.Price == nil || listing.EstimatedValue == nil {
			p.logger.Warn().Str("url", listing.CanonicalURL).Msg("Missing price or estimate, cannot compute offer")
			continue
		}

		result := pricing.ComputeOffer(*listing.Price, *listing.EstimatedValue, p.cfg.MinDiscountPct, p.cfg.MaxDiscountPct)
		if result.SuggestedOffer == nil {
			p.logger.Warn().Str("url", listing.CanonicalURL).Str("strategy", result.Strategy).Msg("No offer computable")
			continue
		}

		if err := p.repo.UpdateOffer(listing.CanonicalURL, result); err != nil {
			p.logger.Error().Err(err).Str("url", listing.CanonicalURL).Msg("Storing offer failed")
			report.Errors++
			continue
		}
		report.Offers++

		if result.DiscountPercentage != nil && *result.DiscountPercentage >= p.cfg.DealThresholdPct {
			p.publishDeal(ctx, listing.CanonicalURL, report)
		}
		p.syncListing(listing.CanonicalURL)
	}

	p.logger.Info().Int("offers", report.Offers).Int("published", report.Published).Msg("Offer pass finished")
	return report, nil
}

// Deals returns the current uncontacted listings at or above the
// threshold, best discount first. A threshold of zero or less falls back
// to the configured one.
func (p *Pipeline) Deals(minDiscountPct float64, limit int) ([]models.Listing, error) {
	if minDiscountPct <= 0 {
		minDiscountPct = p.cfg.DealThresholdPct
	}
	return p.repo.FetchBestDeals(minDiscountPct, limit)
}

// RunOptions controls a full pipeline run.
type RunOptions struct {
	Scrape        ScrapeOptions
	EstimateLimit int
}

// Run executes scrape, estimate and offer passes back to back.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	report, err := p.Scrape(ctx, opts.Scrape)
	if err != nil {
		return report, err
	}

	if p.estimator != nil {
		estimateReport, err := p.Estimate(ctx, opts.EstimateLimit)
		report.merge(estimateReport)
		if err != nil {
			return report, err
		}
	}

	offerReport, err := p.ComputeOffers(ctx)
	report.merge(offerReport)
	if err != nil {
		return report, err
	}

	p.logger.Info().
		Int("inserted", report.Inserted).
		Int("updated", report.Updated).
		Int("estimated", report.Estimated).
		Int("offers", report.Offers).
		Int("published", report.Published).
		Int("errors", report.Errors).
		Msg("Pipeline run finished")
	return report, nil
}

// publishDeal pushes the stored (merged) listing onto the deal stream.
func (p *Pipeline) publishDeal(ctx context.Context, canonicalURL string, report *Report) {
	if p.publisher == nil {
		return
	}
	merged, err := p.repo.FindByURL(canonicalURL)
	if err != nil {
		p.logger.Warn().Err(err).Str("url", canonicalURL).Msg("Deal vanished before publishing")
		return
	}
	if err := p.publisher.PublishDeal(ctx, *merged); err != nil {
		p.logger.Warn().Err(err).Str("url", canonicalURL).Msg("Publishing deal failed")
		report.Errors++
		return
	}
	report.Published++
}

// syncListing refreshes one listing in the search index, best effort.
func (p *Pipeline) syncListing(canonicalURL string) {
	if p.search == nil {
		return
	}
	merged, err := p.repo.FindByURL(canonicalURL)
	if err != nil {
		return
	}
	p.indexListings([]models.Listing{*merged})
}

func (p *Pipeline) indexListings(listings []models.Listing) {
	if p.search == nil || len(listings) == 0 {
		return
	}
	if err := p.search.IndexListings(listings); err != nil {
		p.logger.Warn().Err(err).Int("count", len(listings)).Msg("Search indexing failed")
	}
}
