// Package search keeps a Meilisearch index of listings in sync with the
// repository and answers full-text and filtered queries for the API.
package search

import (
	"encoding/json"
	"strings"

	"github.com/meilisearch/meilisearch-go"

	"car-deal-hunter/internal/apperr"
	"car-deal-hunter/internal/models"
)

type SearchClient struct {
	client *meilisearch.Client
	index  string
}

func NewSearchClient(host, apiKey string) *SearchClient {
	client := meilisearch.NewClient(meilisearch.ClientConfig{
		Host:   host,
		APIKey: apiKey,
	})

	return &SearchClient{
		client: client,
		index:  "listings",
	}
}

// InitIndex creates the listings index and configures its attributes.
func (s *SearchClient) InitIndex() error {
	_, err := s.client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        s.index,
		PrimaryKey: "id",
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return apperr.NewSearch("meilisearch", "creating index", err)
	}

	_, err = s.client.Index(s.index).UpdateSearchableAttributes(&[]string{
		"title",
		"make",
		"model",
		"canonical_url",
		"details_text",
	})
	if err != nil {
		return apperr.NewSearch("meilisearch", "configuring searchable attributes", err)
	}

	_, err = s.client.Index(s.index).UpdateFilterableAttributes(&[]string{
		"id",
		"make",
		"model",
		"year",
		"price",
		"mileage",
		"discount_percentage",
		"contacted",
		"source",
	})
	if err != nil {
		return apperr.NewSearch("meilisearch", "configuring filterable attributes", err)
	}

	_, err = s.client.Index(s.index).UpdateSortableAttributes(&[]string{
		"price",
		"mileage",
		"year",
		"discount_percentage",
		"created_at",
	})
	if err != nil {
		return apperr.NewSearch("meilisearch", "configuring sortable attributes", err)
	}

	return nil
}

// IndexListing indexes a single listing.
func (s *SearchClient) IndexListing(listing *models.Listing) error {
	return s.IndexListings([]models.Listing{*listing})
}

// IndexListings indexes a batch; documents with known IDs are replaced.
func (s *SearchClient) IndexListings(listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	_, err := s.client.Index(s.index).AddDocuments(listings)
	if err != nil {
		return apperr.NewSearch("meilisearch", "indexing listings", err)
	}
	return nil
}

// SearchRequest represents advanced search parameters.
type SearchRequest struct {
	Query                string
	Limit                int64
	Offset               int64
	Filter               []string
	Sort                 []string
	Facets               []string
	AttributesToRetrieve []string
}

// SearchResult represents search results with facets.
type SearchResult struct {
	Hits           []models.Listing
	TotalHits      int64
	Facets         map[string]interface{}
	ProcessingTime int64
}

// Search runs a basic full-text query.
func (s *SearchClient) Search(query string, limit int64) ([]models.Listing, error) {
	result, err := s.AdvancedSearch(SearchRequest{
		Query: query,
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	return result.Hits, nil
}

// AdvancedSearch performs a search with filters, sorting and facets.
func (s *SearchClient) AdvancedSearch(req SearchRequest) (*SearchResult, error) {
	if req.Limit == 0 {
		req.Limit = 20
	}

	searchReq := &meilisearch.SearchRequest{
		Limit:  req.Limit,
		Offset: req.Offset,
	}
	if len(req.Filter) > 0 {
		searchReq.Filter = strings.Join(req.Filter, " AND ")
	}
	if len(req.Sort) > 0 {
		searchReq.Sort = req.Sort
	}
	if len(req.Facets) > 0 {
		searchReq.Facets = req.Facets
	}
	if len(req.AttributesToRetrieve) > 0 {
		searchReq.AttributesToRetrieve = req.AttributesToRetrieve
	}

	searchRes, err := s.client.Index(s.index).Search(req.Query, searchReq)
	if err != nil {
		return nil, apperr.NewSearch("meilisearch", "searching listings", err)
	}

	listings := make([]models.Listing, 0, len(searchRes.Hits))
	for _, hit := range searchRes.Hits {
		if listing, ok := listingFromHit(hit); ok {
			listings = append(listings, listing)
		}
	}

	var facets map[string]interface{}
	if searchRes.FacetDistribution != nil {
		facets, _ = searchRes.FacetDistribution.(map[string]interface{})
	}

	return &SearchResult{
		Hits:           listings,
		TotalHits:      searchRes.EstimatedTotalHits,
		Facets:         facets,
		ProcessingTime: searchRes.ProcessingTimeMs,
	}, nil
}

// listingFromHit converts a search hit back into a Listing through its
// JSON form, so the two representations cannot drift apart.
func listingFromHit(hit interface{}) (models.Listing, bool) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return models.Listing{}, false
	}
	var listing models.Listing
	if err := json.Unmarshal(raw, &listing); err != nil {
		return models.Listing{}, false
	}
	return listing, true
}

// GetFacets retrieves the facet distribution for the given fields.
func (s *SearchClient) GetFacets(facets []string) (map[string]interface{}, error) {
	searchRes, err := s.client.Index(s.index).Search("", &meilisearch.SearchRequest{
		Limit:  0,
		Facets: facets,
	})
	if err != nil {
		return nil, apperr.NewSearch("meilisearch", "fetching facets", err)
	}

	if searchRes.FacetDistribution != nil {
		if facetMap, ok := searchRes.FacetDistribution.(map[string]interface{}); ok {
			return facetMap, nil
		}
	}
	return map[string]interface{}{}, nil
}
