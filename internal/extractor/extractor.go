// Package extractor turns raw listing markup into structured records. The
// markup comes from alert mails and listing pages whose layout changes
// without notice, so every field is located through an ordered fallback
// chain and a failing container never aborts the batch.
package extractor

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"car-deal-hunter/internal/apperr"
	"car-deal-hunter/internal/models"
	"car-deal-hunter/internal/normalize"
)

const (
	detailsLinkText = "Détails"
	trackingHost    = "click.mails.autoscout24.com"
	directURLBase   = "https://www.autoscout24.be/fr/offres/"
)

// Container locators in priority order: the alert-mail card table first,
// then the selectors seen on listing result pages.
var containerSelectors = []string{
	"table.border-container",
	"article[data-article-id]",
	"div[data-testid='list-item']",
	"div.listing-item",
	"div.result-item",
	"div[data-item-index]",
	"div.sc-grid-item",
}

// Per-field fallback chains; first non-empty match wins.
var (
	titleSelectors = []string{
		"div.card-title a",
		"div.card-right-part-ellipse-container a",
		"h2",
		"h3",
		".title",
		"[data-testid='title']",
	}
	priceSelectors = []string{
		"a.price",
		"[data-testid='price']",
		".price",
		"span.sc-font-bold",
		"div.price",
	}
	detailsSelectors = []string{
		"a.small-details",
		".small-details",
	}
	imageSelectors = []string{
		`img[alt="vehicle"]`,
		"img[src]",
	}
)

// Hyperlink path fragments that identify a listing detail page.
var listingPathFragments = []string{"/fr/offres/", "/fr/voiture/"}

var trackedOfferPattern = regexp.MustCompile(`autoscout24\.be/fr/offres/([^?&#]+)`)

type Extractor struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Extractor {
	return &Extractor{
		logger: logger.With().Str("component", "extractor").Logger(),
	}
}

// Extract parses rawMarkup and returns one record per listing container it
// could make sense of. Containers missing their detail link are skipped
// with a warning; missing fields are left nil. The only error returned is
// a document-level parse failure.
func (e *Extractor) Extract(rawMarkup, source string) ([]models.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawMarkup))
	if err != nil {
		return nil, apperr.NewParsing("extractor", "failed to parse markup", err)
	}

	containers, selector := e.findContainers(doc)
	if containers == nil {
		// No recognizable container layout; sweep anchors for listing
		// URLs and synthesize minimal records.
		return e.extractFromAnchors(doc, source), nil
	}

	scrapedAt := time.Now().UTC().Format(time.RFC3339)
	listings := make([]models.Listing, 0, containers.Length())
	skipped := 0

	containers.Each(func(i int, container *goquery.Selection) {
		listing, err := e.extractListing(container, source, scrapedAt)
		if err != nil {
			skipped++
			e.logger.Warn().Err(err).Int("container", i).Msg("skipping container")
			return
		}
		listings = append(listings, listing)
	})

	e.logger.Info().
		Str("selector", selector).
		Str("source", source).
		Int("extracted", len(listings)).
		Int("skipped", skipped).
		Msg("extraction finished")

	return listings, nil
}

// findContainers walks the selector priority list and returns the first
// selection with at least one node.
func (e *Extractor) findContainers(doc *goquery.Document) (*goquery.Selection, string) {
	for _, selector := range containerSelectors {
		sel := doc.Find(selector)
		if sel.Length() > 0 {
			return sel, selector
		}
	}
	return nil, ""
}

func (e *Extractor) extractListing(container *goquery.Selection, source, scrapedAt string) (models.Listing, error) {
	rawURL := e.findDetailURL(container)
	if rawURL == "" {
		return models.Listing{}, apperr.NewParsing("extractor", "no detail link in container", nil)
	}
	canonicalURL := CanonicalizeURL(rawURL)

	title := e.textFromChain(container, titleSelectors, "title")
	priceText := e.textFromChain(container, priceSelectors, "price")
	detailsText := e.textFromChain(container, detailsSelectors, "details")

	makeName, modelName := SplitMakeModel(title)

	listing := models.Listing{
		ID:           models.ListingID(canonicalURL),
		CanonicalURL: canonicalURL,
		Title:        title,
		Make:         makeName,
		Model:        modelName,
		Price:        normalize.ParseNumber(priceText),
		Mileage:      normalize.ParseMileage(detailsText),
		Year:         normalize.ParseYear(detailsText),
		PriceText:    priceText,
		DetailsText:  detailsText,
		ImageURL:     e.findImageURL(container),
		Source:       source,
		ScrapedAt:    scrapedAt,
	}
	return listing, nil
}

// findDetailURL prefers the explicit details link of the mail layout, then
// falls back to any anchor pointing at a listing detail path.
func (e *Extractor) findDetailURL(container *goquery.Selection) string {
	var href string
	container.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if normalize.CleanText(a.Text()) != detailsLinkText {
			return true
		}
		href, _ = a.Attr("href")
		return href == ""
	})
	if href != "" {
		return href
	}

	container.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		candidate, _ := a.Attr("href")
		if isListingPath(candidate) {
			href = candidate
			return false
		}
		return true
	})
	return href
}

// textFromChain returns the first non-empty text among the candidate
// selectors, or "" with a warning when none match.
func (e *Extractor) textFromChain(container *goquery.Selection, selectors []string, field string) string {
	for _, selector := range selectors {
		if text := normalize.CleanText(container.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	e.logger.Warn().Str("field", field).Msg("field not found in container")
	return ""
}

func (e *Extractor) findImageURL(container *goquery.Selection) string {
	for _, selector := range imageSelectors {
		if src, ok := container.Find(selector).First().Attr("src"); ok && src != "" {
			return src
		}
	}
	return ""
}

// extractFromAnchors is the last-resort locator: collect every hyperlink
// that looks like a listing detail page and record it URL-only.
func (e *Extractor) extractFromAnchors(doc *goquery.Document, source string) []models.Listing {
	scrapedAt := time.Now().UTC().Format(time.RFC3339)
	seen := make(map[string]bool)
	var listings []models.Listing

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !isListingPath(href) {
			return
		}
		canonicalURL := CanonicalizeURL(href)
		if seen[canonicalURL] {
			return
		}
		seen[canonicalURL] = true
		listings = append(listings, models.Listing{
			ID:           models.ListingID(canonicalURL),
			CanonicalURL: canonicalURL,
			Source:       source,
			ScrapedAt:    scrapedAt,
		})
	})

	e.logger.Info().
		Str("source", source).
		Int("extracted", len(listings)).
		Msg("no containers matched, used anchor sweep")

	return listings
}

func isListingPath(href string) bool {
	for _, fragment := range listingPathFragments {
		if strings.Contains(href, fragment) {
			return true
		}
	}
	return false
}

// CanonicalizeURL rebuilds a direct listing URL from a mail click-tracking
// redirect when the destination path is embedded inline. Any other URL is
// returned unchanged.
func CanonicalizeURL(rawURL string) string {
	if !strings.Contains(rawURL, trackingHost) {
		return rawURL
	}
	match := trackedOfferPattern.FindStringSubmatch(rawURL)
	if match == nil {
		return rawURL
	}
	return fmt.Sprintf("%s%s", directURLBase, match[1])
}

// SplitMakeModel derives make and model from a listing title: the first
// whitespace token is the make, the rest is the model.
func SplitMakeModel(title string) (string, string) {
	parts := strings.Fields(title)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	case 2:
		return parts[0], parts[1]
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
