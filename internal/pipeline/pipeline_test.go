package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"car-deal-hunter/internal/database"
	"car-deal-hunter/internal/extractor"
	"car-deal-hunter/internal/models"
	"car-deal-hunter/internal/pricing"
	"car-deal-hunter/internal/sources"
)

const alertMail = `<html><body>
<table class="border-container"><tr><td>
  <div class="card-title"><a href="https://click.mails.autoscout24.com/ss/c/u001.abc">BMW 320d</a></div>
  <a class="price" href="#">&euro; 15.000,-</a>
  <a class="small-details" href="#">Essence 05/2018 116 200 km</a>
  <a href="https://www.autoscout24.be/fr/offres/bmw-320d-abc123?utm_source=mail">D&eacute;tails</a>
</td></tr></table>
</body></html>`

const dealURL = "https://www.autoscout24.be/fr/offres/bmw-320d-abc123"

type fakeSource struct {
	name     string
	messages []sources.Message
	fetchErr error
	marked   []string
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context, limit int, unreadOnly bool) ([]sources.Message, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if limit > 0 && len(f.messages) > limit {
		return f.messages[:limit], nil
	}
	return f.messages, nil
}

func (f *fakeSource) MarkProcessed(ctx context.Context, ids []string) error {
	f.marked = append(f.marked, ids...)
	return nil
}

func (f *fakeSource) Close() error { return nil }

type fakeRepo struct {
	mu       sync.Mutex
	listings map[string]*models.Listing
	storeErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{listings: make(map[string]*models.Listing)}
}

func (r *fakeRepo) InitSchema() error { return nil }

func (r *fakeRepo) StoreListings(listings []models.Listing) (database.StoreResult, error) {
	if r.storeErr != nil {
		return database.StoreResult{}, r.storeErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var result database.StoreResult
	for _, incoming := range listings {
		incoming := incoming
		if incoming.ID == "" {
			incoming.ID = models.ListingID(incoming.CanonicalURL)
		}
		if existing, ok := r.listings[incoming.CanonicalURL]; ok {
			merged := database.MergeListing(existing, &incoming)
			r.listings[incoming.CanonicalURL] = &merged
			result.Updated++
		} else {
			r.listings[incoming.CanonicalURL] = &incoming
			result.Inserted++
		}
	}
	return result, nil
}

func (r *fakeRepo) FindByURL(canonicalURL string) (*models.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	listing, ok := r.listings[canonicalURL]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *listing
	return &copied, nil
}

func (r *fakeRepo) GetListingByID(id string) (*models.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, listing := range r.listings {
		if listing.ID == id {
			copied := *listing
			return &copied, nil
		}
	}
	return nil, database.ErrNotFound
}

func (r *fakeRepo) GetAllListings(limit int) ([]models.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []models.Listing
	for _, listing := range r.listings {
		all = append(all, *listing)
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *fakeRepo) FetchUnestimated(limit int) ([]models.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []models.Listing
	for _, listing := range r.listings {
		if listing.EstimatedValue == nil {
			matched = append(matched, *listing)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *fakeRepo) FetchUnpriced(limit int) ([]models.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []models.Listing
	for _, listing := range r.listings {
		if listing.EstimatedValue != nil && listing.SuggestedOffer == nil {
			matched = append(matched, *listing)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *fakeRepo) FetchBestDeals(minDiscountPct float64, limit int) ([]models.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deals []models.Listing
	for _, listing := range r.listings {
		if listing.DiscountPercentage != nil && *listing.DiscountPercentage >= minDiscountPct && !listing.Contacted {
			deals = append(deals, *listing)
		}
	}
	sort.Slice(deals, func(i, j int) bool {
		return *deals[i].DiscountPercentage > *deals[j].DiscountPercentage
	})
	if limit > 0 && len(deals) > limit {
		deals = deals[:limit]
	}
	return deals, nil
}

func (r *fakeRepo) UpdateEstimatedValue(canonicalURL string, value float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	listing, ok := r.listings[canonicalURL]
	if !ok {
		return database.ErrNotFound
	}
	listing.EstimatedValue = &value
	return nil
}

func (r *fakeRepo) UpdateOffer(canonicalURL string, offer pricing.OfferResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	listing, ok := r.listings[canonicalURL]
	if !ok {
		return database.ErrNotFound
	}
	listing.SuggestedOffer = offer.SuggestedOffer
	listing.DiscountPercentage = offer.DiscountPercentage
	return nil
}

func (r *fakeRepo) MarkContacted(canonicalURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	listing, ok := r.listings[canonicalURL]
	if !ok {
		return database.ErrNotFound
	}
	listing.MarkContacted()
	return nil
}

func (r *fakeRepo) MarkVisited(canonicalURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	listing, ok := r.listings[canonicalURL]
	if !ok {
		return database.ErrNotFound
	}
	listing.Visited = true
	return nil
}

func (r *fakeRepo) GetRecentChanges(limit int) ([]models.ListingChange, error) { return nil, nil }

func (r *fakeRepo) PruneChangesBefore(cutoff time.Time) (int64, error) { return 0, nil }

func (r *fakeRepo) GetStats(minDiscountPct float64) (database.Stats, error) {
	return database.Stats{}, nil
}

func (r *fakeRepo) Close() error { return nil }

type fakeIndexer struct {
	batches [][]models.Listing
}

func (f *fakeIndexer) IndexListings(listings []models.Listing) error {
	f.batches = append(f.batches, listings)
	return nil
}

type fakePublisher struct {
	published []models.Listing
}

func (f *fakePublisher) PublishDeal(ctx context.Context, listing models.Listing) error {
	f.published = append(f.published, listing)
	return nil
}

func (f *fakePublisher) Trim(ctx context.Context) error { return nil }

func (f *fakePublisher) Close() error { return nil }

type stubEstimator struct {
	avg   float64
	err   error
	calls int
}

func (s *stubEstimator) Estimate(ctx context.Context, req pricing.EstimateRequest) (*pricing.Estimate, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &pricing.Estimate{
		MinPrice:    s.avg * 0.9,
		AvgPrice:    s.avg,
		MaxPrice:    s.avg * 1.1,
		EstimatedAt: time.Now(),
	}, nil
}

func (s *stubEstimator) Close() error { return nil }

func testConfig() Config {
	return Config{
		MinDiscountPct:   10,
		MaxDiscountPct:   20,
		DealThresholdPct: 15,
		EstimateDelay:    time.Millisecond,
	}
}

func TestScrapeStoresAndAcknowledges(t *testing.T) {
	repo := newFakeRepo()
	src := &fakeSource{
		name:     models.SourceEmail,
		messages: []sources.Message{{ID: "42", HTML: alertMail}},
	}
	idx := &fakeIndexer{}

	p := New(repo, extractor.New(zerolog.Nop()), testConfig(), zerolog.Nop()).
		WithSources(src).
		WithSearch(idx)

	report, err := p.Scrape(context.Background(), ScrapeOptions{Limit: 5, UnreadOnly: true, MarkRead: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Messages)
	assert.Equal(t, 1, report.Extracted)
	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, []string{"42"}, src.marked)

	stored, err := repo.FindByURL(dealURL)
	require.NoError(t, err)
	assert.Equal(t, "BMW", stored.Make)
	assert.Equal(t, "320d", stored.Model)
	require.NotNil(t, stored.Price)
	assert.Equal(t, 15000.0, *stored.Price)
	require.NotNil(t, stored.Mileage)
	assert.Equal(t, 116200.0, *stored.Mileage)

	require.Len(t, idx.batches, 1)
	assert.Equal(t, dealURL, idx.batches[0][0].CanonicalURL)
}

func TestScrapeDoesNotAcknowledgeOnStoreFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.storeErr = errors.New("database gone")
	src := &fakeSource{
		name:     models.SourceEmail,
		messages: []sources.Message{{ID: "42", HTML: alertMail}},
	}

	p := New(repo, extractor.New(zerolog.Nop()), testConfig(), zerolog.Nop()).WithSources(src)

	report, err := p.Scrape(context.Background(), ScrapeOptions{MarkRead: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Errors)
	assert.Empty(t, src.marked)
}

func TestScrapeSurvivesFailingSource(t *testing.T) {
	repo := newFakeRepo()
	broken := &fakeSource{name: models.SourceEmail, fetchErr: errors.New("imap down")}
	working := &fakeSource{
		name:     models.SourceFile,
		messages: []sources.Message{{ID: "mail.html", HTML: alertMail}},
	}

	p := New(repo, extractor.New(zerolog.Nop()), testConfig(), zerolog.Nop()).
		WithSources(broken, working)

	report, err := p.Scrape(context.Background(), ScrapeOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 1, report.Inserted)
}

func TestScrapeSourceFilter(t *testing.T) {
	repo := newFakeRepo()
	mail := &fakeSource{name: models.SourceEmail, messages: []sources.Message{{ID: "1", HTML: alertMail}}}
	web := &fakeSource{name: models.SourceWeb, messages: []sources.Message{{ID: "2", HTML: alertMail}}}

	p := New(repo, extractor.New(zerolog.Nop()), testConfig(), zerolog.Nop()).
		WithSources(mail, web)

	report, err := p.Scrape(context.Background(), ScrapeOptions{Source: models.SourceWeb})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Messages)
}

func seedListing(t *testing.T, repo *fakeRepo, price float64) {
	t.Helper()
	p := price
	_, err := repo.StoreListings([]models.Listing{{
		CanonicalURL: dealURL,
		Title:        "BMW 320d",
		Make:         "BMW",
		Model:        "320d",
		Price:        &p,
		Source:       models.SourceEmail,
	}})
	require.NoError(t, err)
}

func TestEstimateValuesListings(t *testing.T) {
	repo := newFakeRepo()
	seedListing(t, repo, 15000)
	est := &stubEstimator{avg: 13000}

	p := New(repo, extractor.New(zerolog.Nop()), testConfig(), zerolog.Nop()).WithEstimator(est)

	report, err := p.Estimate(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Estimated)
	assert.Equal(t, 1, est.calls)

	stored, err := repo.FindByURL(dealURL)
	require.NoError(t, err)
	require.NotNil(t, stored.EstimatedValue)
	assert.Equal(t, 13000.0, *stored.EstimatedValue)
}

func TestEstimateSkipsListingsWithoutMakeModel(t *testing.T) {
	repo := newFakeRepo()
	price := 9000.0
	_, err := repo.StoreListings([]models.Listing{{
		CanonicalURL: "https://www.autoscout24.be/fr/offres/mystery-car",
		Title:        "?",
		Price:        &price,
		Source:       models.SourceEmail,
	}})
	require.NoError(t, err)
	est := &stubEstimator{avg: 10000}

	p := New(repo, extractor.New(zerolog.Nop()), testConfig(), zerolog.Nop()).WithEstimator(est)

	report, err := p.Estimate(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Estimated)
	assert.Equal(t, 0, est.calls)
}

func TestEstimateStopsWhenCircuitOpens(t *testing.T) {
	repo := newFakeRepo()
	seedListing(t, repo, 15000)
	est := &stubEstimator{err: pricing.ErrCircuitOpen}

	p := New(repo, extractor.New(zerolog.Nop()), testConfig(), zerolog.Nop()).WithEstimator(est)

	report, err := p.Estimate(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Estimated)
	assert.Equal(t, 0, report.Errors)
}

func TestEstimateWithoutEstimatorFails(t *testing.T) {
	p := New(newFakeRepo(), extractor.New(zerolog.Nop()), testConfig(), zerolog.Nop())
	_, err := p.Estimate(context.Background(), 5)
	assert.Error(t, err)
}

func TestComputeOffersPublishesDeals(t *testing.T) {
	repo := newFakeRepo()
	seedListing(t, repo, 15000)
	require.NoError(t, repo.UpdateEstimatedValue(dealURL, 13000))
	pub := &fakePublisher{}

	p := New(repo, extractor.New(zerolog.Nop()), testConfig(), zerolog.Nop()).WithPublisher(pub)

	report, err := p.ComputeOffers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Offers)
	assert.Equal(t, 1, report.Published)

	stored, err := repo.FindByURL(dealURL)
	require.NoError(t, err)
	require.NotNil(t, stored.SuggestedOffer)
	assert.Equal(t, 12000.0, *stored.SuggestedOffer)
	require.NotNil(t, stored.DiscountPercentage)
	assert.Equal(t, 20.0, *stored.DiscountPercentage)

	require.Len(t, pub.published, 1)
	assert.Equal(t, dealURL, pub.published[0].CanonicalURL)
}

func TestComputeOffersBelowThresholdNotPublished(t *testing.T) {
	repo := newFakeRepo()
	seedListing(t, repo, 10500)
	require.NoError(t, repo.UpdateEstimatedValue(dealURL, 10000))
	pub := &fakePublisher{}

	p := New(repo, extractor.New(zerolog.Nop()), testConfig(), zerolog.Nop()).WithPublisher(pub)

	report, err := p.ComputeOffers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Offers)
	assert.Equal(t, 0, report.Published)
	assert.Empty(t, pub.published)
}

func TestRunEndToEnd(t *testing.T) {
	repo := newFakeRepo()
	src := &fakeSource{
		name:     models.SourceEmail,
		messages: []sources.Message{{ID: "42", HTML: alertMail}},
	}
	est := &stubEstimator{avg: 13000}
	pub := &fakePublisher{}
	idx := &fakeIndexer{}

	p := New(repo, extractor.New(zerolog.Nop()), testConfig(), zerolog.Nop()).
		WithSources(src).
		WithEstimator(est).
		WithPublisher(pub).
		WithSearch(idx)

	report, err := p.Run(context.Background(), RunOptions{
		Scrape:        ScrapeOptions{Limit: 5, UnreadOnly: true, MarkRead: true},
		EstimateLimit: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 1, report.Estimated)
	assert.Equal(t, 1, report.Offers)
	assert.Equal(t, 1, report.Published)

	deals, err := p.Deals(0, 10)
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Equal(t, dealURL, deals[0].CanonicalURL)
}
