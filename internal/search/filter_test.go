package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFilterEmpty(t *testing.T) {
	assert.Equal(t, "", buildFilter(FilterParams{Query: "bmw"}))
}

func TestBuildFilterPriceRange(t *testing.T) {
	minPrice := 5000.0
	maxPrice := 15000.0
	filter := buildFilter(FilterParams{MinPrice: &minPrice, MaxPrice: &maxPrice})
	assert.Equal(t, "price >= 5000 AND price <= 15000", filter)
}

func TestBuildFilterMakesGroup(t *testing.T) {
	filter := buildFilter(FilterParams{Makes: []string{"BMW", "Audi"}})
	assert.Equal(t, "(make = 'BMW' OR make = 'Audi')", filter)
}

func TestBuildFilterAllParams(t *testing.T) {
	minPrice := 8000.0
	minYear := 2016
	maxMileage := 120000.0
	minDiscount := 15.0

	filter := buildFilter(FilterParams{
		MinPrice:        &minPrice,
		Makes:           []string{"BMW"},
		MinYear:         &minYear,
		MaxMileage:      &maxMileage,
		MinDiscount:     &minDiscount,
		OnlyUncontacted: true,
	})

	assert.Equal(t,
		"price >= 8000 AND (make = 'BMW') AND year >= 2016 AND mileage <= 120000 AND discount_percentage >= 15 AND contacted = false",
		filter)
}

func TestListingFromHit(t *testing.T) {
	hit := map[string]interface{}{
		"id":                  "abc123",
		"canonical_url":       "https://www.autoscout24.be/fr/offres/bmw-320d",
		"title":               "BMW 320d",
		"make":                "BMW",
		"model":               "320d",
		"price":               12500.0,
		"year":                2018.0,
		"discount_percentage": 16.7,
		"contacted":           false,
	}

	listing, ok := listingFromHit(hit)
	require.True(t, ok)
	assert.Equal(t, "abc123", listing.ID)
	assert.Equal(t, "BMW", listing.Make)
	require.NotNil(t, listing.Price)
	assert.Equal(t, 12500.0, *listing.Price)
	require.NotNil(t, listing.Year)
	assert.Equal(t, 2018, *listing.Year)
	require.NotNil(t, listing.DiscountPercentage)
	assert.InDelta(t, 16.7, *listing.DiscountPercentage, 0.001)
}

func TestListingFromHitRejectsGarbage(t *testing.T) {
	_, ok := listingFromHit(map[string]interface{}{"price": "not a number"})
	assert.False(t, ok)
}
