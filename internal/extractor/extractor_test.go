package extractor

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"car-deal-hunter/internal/models"
)

const mailMarkup = `
<html><body>
<table class="border-container">
  <tr><td>
    <div class="card-title"><a href="#">BMW Série 1 118i</a></div>
    <a class="price">€ 15.000,-</a>
    <a class="small-details">Essence 05/2018 116 200 km</a>
    <img alt="vehicle" src="https://img.example.com/bmw.jpg"/>
    <a href="https://click.mails.autoscout24.com/CL0/https://www.autoscout24.be/fr/offres/bmw-serie-1-xyz123?upn=token42">Détails</a>
  </td></tr>
</table>
<table class="border-container">
  <tr><td>
    <div class="card-title"><a href="#">Renault Clio</a></div>
    <a class="small-details">Diesel 03/2016 85.000 km</a>
    <a href="https://www.autoscout24.be/fr/offres/renault-clio-789">Détails</a>
  </td></tr>
</table>
<table class="border-container">
  <tr><td><p>Publicité</p></td></tr>
</table>
</body></html>`

func newTestExtractor() *Extractor {
	return New(zerolog.Nop())
}

func TestExtractMailMarkup(t *testing.T) {
	listings, err := newTestExtractor().Extract(mailMarkup, models.SourceEmail)
	require.NoError(t, err)
	require.Len(t, listings, 2)

	first := listings[0]
	assert.Equal(t, "https://www.autoscout24.be/fr/offres/bmw-serie-1-xyz123", first.CanonicalURL)
	assert.Equal(t, models.ListingID(first.CanonicalURL), first.ID)
	assert.Equal(t, "BMW Série 1 118i", first.Title)
	assert.Equal(t, "BMW", first.Make)
	assert.Equal(t, "Série 1 118i", first.Model)
	require.NotNil(t, first.Price)
	assert.Equal(t, float64(15000), *first.Price)
	assert.Equal(t, "€ 15.000,-", first.PriceText)
	require.NotNil(t, first.Mileage)
	assert.Equal(t, float64(116200), *first.Mileage)
	require.NotNil(t, first.Year)
	assert.Equal(t, 2018, *first.Year)
	assert.Equal(t, "https://img.example.com/bmw.jpg", first.ImageURL)
	assert.Equal(t, models.SourceEmail, first.Source)
	assert.NotEmpty(t, first.ScrapedAt)
	assert.False(t, first.Contacted)
}

func TestExtractMissingPriceDoesNotAbortSiblings(t *testing.T) {
	listings, err := newTestExtractor().Extract(mailMarkup, models.SourceEmail)
	require.NoError(t, err)
	require.Len(t, listings, 2)

	second := listings[1]
	assert.Equal(t, "https://www.autoscout24.be/fr/offres/renault-clio-789", second.CanonicalURL)
	assert.Nil(t, second.Price)
	assert.Empty(t, second.PriceText)
	require.NotNil(t, second.Mileage)
	assert.Equal(t, float64(85000), *second.Mileage)
	assert.Equal(t, "Renault", second.Make)
	assert.Equal(t, "Clio", second.Model)
}

func TestExtractPageContainers(t *testing.T) {
	markup := `
<html><body>
<article data-article-id="42">
  <h2>Volkswagen Golf</h2>
  <span class="price">€ 9.990</span>
  <a href="https://www.autoscout24.be/fr/offres/vw-golf-456">Voir l'annonce</a>
</article>
</body></html>`

	listings, err := newTestExtractor().Extract(markup, models.SourceWeb)
	require.NoError(t, err)
	require.Len(t, listings, 1)

	got := listings[0]
	assert.Equal(t, "https://www.autoscout24.be/fr/offres/vw-golf-456", got.CanonicalURL)
	assert.Equal(t, "Volkswagen", got.Make)
	assert.Equal(t, "Golf", got.Model)
	require.NotNil(t, got.Price)
	assert.Equal(t, float64(9990), *got.Price)
}

func TestExtractContainerPriority(t *testing.T) {
	markup := `
<html><body>
<table class="border-container">
  <tr><td>
    <div class="card-title"><a href="#">Audi A3</a></div>
    <a href="https://www.autoscout24.be/fr/offres/audi-a3-1">Détails</a>
  </td></tr>
</table>
<article data-article-id="9">
  <h2>Should be ignored</h2>
  <a href="https://www.autoscout24.be/fr/offres/ignored-2">Voir</a>
</article>
</body></html>`

	listings, err := newTestExtractor().Extract(markup, models.SourceEmail)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "https://www.autoscout24.be/fr/offres/audi-a3-1", listings[0].CanonicalURL)
}

func TestExtractAnchorSweepFallback(t *testing.T) {
	markup := `
<html><body>
<p>Nouvelles annonces pour votre recherche</p>
<a href="https://www.autoscout24.be/fr/voiture/peugeot-208-abc">Peugeot 208</a>
<a href="https://www.autoscout24.be/fr/voiture/peugeot-208-abc">la même</a>
<a href="https://example.com/about">à propos</a>
</body></html>`

	listings, err := newTestExtractor().Extract(markup, models.SourceWeb)
	require.NoError(t, err)
	require.Len(t, listings, 1)

	got := listings[0]
	assert.Equal(t, "https://www.autoscout24.be/fr/voiture/peugeot-208-abc", got.CanonicalURL)
	assert.Empty(t, got.Title)
	assert.Nil(t, got.Price)
	assert.Equal(t, models.SourceWeb, got.Source)
}

func TestExtractEmptyDocument(t *testing.T) {
	listings, err := newTestExtractor().Extract("<html><body></body></html>", models.SourceEmail)
	require.NoError(t, err)
	assert.Empty(t, listings)
}

func TestCanonicalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"tracking redirect rebuilt",
			"https://click.mails.autoscout24.com/CL0/https://www.autoscout24.be/fr/offres/bmw-116i-abc?upn=tok",
			"https://www.autoscout24.be/fr/offres/bmw-116i-abc",
		},
		{
			"direct url untouched",
			"https://www.autoscout24.be/fr/offres/bmw-116i-abc",
			"https://www.autoscout24.be/fr/offres/bmw-116i-abc",
		},
		{
			"tracking without embedded path untouched",
			"https://click.mails.autoscout24.com/unsubscribe/xyz",
			"https://click.mails.autoscout24.com/unsubscribe/xyz",
		},
		{
			"foreign url untouched",
			"https://example.com/fr/offres/not-autoscout",
			"https://example.com/fr/offres/not-autoscout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalizeURL(tt.in))
		})
	}
}

func TestSplitMakeModel(t *testing.T) {
	tests := []struct {
		title     string
		wantMake  string
		wantModel string
	}{
		{"BMW 116i", "BMW", "116i"},
		{"Mercedes-Benz Classe A 180d", "Mercedes-Benz", "Classe A 180d"},
		{"Porsche", "Porsche", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		gotMake, gotModel := SplitMakeModel(tt.title)
		assert.Equal(t, tt.wantMake, gotMake)
		assert.Equal(t, tt.wantModel, gotModel)
	}
}
