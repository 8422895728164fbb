package search

import (
	"fmt"
	"strings"

	"car-deal-hunter/internal/models"
)

// FilterParams narrows a listing search. Nil pointers mean the bound is
// not applied.
type FilterParams struct {
	Query           string
	MinPrice        *float64
	MaxPrice        *float64
	Makes           []string
	MinYear         *int
	MaxMileage      *float64
	MinDiscount     *float64
	OnlyUncontacted bool
	SortBy          string
	Limit           int64
}

// buildFilter renders the params as a Meilisearch filter expression.
func buildFilter(params FilterParams) string {
	var filters []string

	if params.MinPrice != nil {
		filters = append(filters, fmt.Sprintf("price >= %g", *params.MinPrice))
	}
	if params.MaxPrice != nil {
		filters = append(filters, fmt.Sprintf("price <= %g", *params.MaxPrice))
	}
	if len(params.Makes) > 0 {
		makeFilters := make([]string, len(params.Makes))
		for i, m := range params.Makes {
			makeFilters[i] = fmt.Sprintf("make = '%s'", m)
		}
		filters = append(filters, fmt.Sprintf("(%s)", strings.Join(makeFilters, " OR ")))
	}
	if params.MinYear != nil {
		filters = append(filters, fmt.Sprintf("year >= %d", *params.MinYear))
	}
	if params.MaxMileage != nil {
		filters = append(filters, fmt.Sprintf("mileage <= %g", *params.MaxMileage))
	}
	if params.MinDiscount != nil {
		filters = append(filters, fmt.Sprintf("discount_percentage >= %g", *params.MinDiscount))
	}
	if params.OnlyUncontacted {
		filters = append(filters, "contacted = false")
	}

	return strings.Join(filters, " AND ")
}

// FilterSearch performs a filtered search.
func (s *SearchClient) FilterSearch(params FilterParams) ([]models.Listing, error) {
	if params.Limit == 0 {
		params.Limit = 20
	}

	req := SearchRequest{
		Query: params.Query,
		Limit: params.Limit,
	}
	if filter := buildFilter(params); filter != "" {
		req.Filter = []string{filter}
	}
	if params.SortBy != "" {
		req.Sort = []string{params.SortBy}
	}

	result, err := s.AdvancedSearch(req)
	if err != nil {
		return nil, err
	}
	return result.Hits, nil
}
