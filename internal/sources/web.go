package sources

import (
	"context"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
	"github.com/rs/zerolog"

	"car-deal-hunter/internal/apperr"
	"car-deal-hunter/internal/models"
)

// WebSource fetches result pages straight from the listing site, for
// runs where no alert mail is available yet. Every configured search URL
// becomes one Message carrying the full page markup. Pages have no
// unread state, so unreadOnly and MarkProcessed do nothing here.
type WebSource struct {
	searchURLs  []string
	domains     []string
	randomDelay time.Duration
	logger      zerolog.Logger
}

func NewWebSource(searchURLs, domains []string, randomDelay time.Duration, logger zerolog.Logger) *WebSource {
	if len(domains) == 0 {
		domains = []string{"www.autoscout24.be", "autoscout24.be"}
	}
	if randomDelay <= 0 {
		randomDelay = 3 * time.Second
	}
	return &WebSource{
		searchURLs:  searchURLs,
		domains:     domains,
		randomDelay: randomDelay,
		logger:      logger.With().Str("component", "source.web").Logger(),
	}
}

func (s *WebSource) Name() string { return models.SourceWeb }

func (s *WebSource) Fetch(ctx context.Context, limit int, unreadOnly bool) ([]Message, error) {
	urls := s.searchURLs
	if limit > 0 && len(urls) > limit {
		urls = urls[:limit]
	}
	if len(urls) == 0 {
		return nil, nil
	}

	c := colly.NewCollector(
		colly.AllowedDomains(s.domains...),
	)
	c.DetectCharset = true
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		RandomDelay: s.randomDelay,
	}); err != nil {
		return nil, apperr.NewSource("web", "configuring rate limit", err)
	}
	extensions.RandomUserAgent(c)
	extensions.Referer(c)

	var messages []Message
	c.OnResponse(func(r *colly.Response) {
		messages = append(messages, Message{
			ID:         r.Request.URL.String(),
			Subject:    r.Request.URL.Path,
			HTML:       string(r.Body),
			ReceivedAt: time.Now(),
		})
	})
	c.OnError(func(r *colly.Response, err error) {
		s.logger.Warn().Err(err).Str("url", r.Request.URL.String()).Int("status", r.StatusCode).Msg("Page fetch failed")
	})

	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return messages, err
		}
		if err := c.Visit(u); err != nil {
			s.logger.Warn().Err(err).Str("url", u).Msg("Visit rejected")
		}
	}

	s.logger.Info().Int("pages", len(messages)).Int("requested", len(urls)).Msg("Fetched search pages")
	return messages, nil
}

func (s *WebSource) MarkProcessed(ctx context.Context, ids []string) error { return nil }

func (s *WebSource) Close() error { return nil }
