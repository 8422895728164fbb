// Package database persists listing records. Two backends implement the
// same Repository contract: a GORM/MySQL store and a raw PostgreSQL store.
// Both rely on the unique canonical_url index as the atomic
// insert-or-update primitive, so overlapping batches from concurrent
// ingestion runs converge without in-process locking.
package database

import (
	"errors"
	"time"

	"car-deal-hunter/internal/models"
	"car-deal-hunter/internal/pricing"
)

// ErrNotFound is returned by lookups and targeted writes when no record
// carries the given key. Both backends map their driver's sentinel to it.
var ErrNotFound = errors.New("listing not found")

// StoreResult reports how a batch of records was reconciled.
type StoreResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// Stats aggregates pipeline progress counters for the admin surface.
type Stats struct {
	Total     int64 `json:"total"`
	Estimated int64 `json:"estimated"`
	WithOffer int64 `json:"with_offer"`
	Contacted int64 `json:"contacted"`
	DealsSeen int64 `json:"deals_seen"`
}

// Repository is the persistence contract shared by both storage backends.
type Repository interface {
	InitSchema() error

	// StoreListings upserts a batch keyed by canonical_url. New keys are
	// inserted; known keys are merged with MergeListing. A duplicate-key
	// race on insert is settled as a no-op update, never an error.
	StoreListings(listings []models.Listing) (StoreResult, error)

	FindByURL(canonicalURL string) (*models.Listing, error)
	GetListingByID(id string) (*models.Listing, error)
	GetAllListings(limit int) ([]models.Listing, error)

	// Bounded work queues for the pipeline stages.
	FetchUnestimated(limit int) ([]models.Listing, error)
	FetchUnpriced(limit int) ([]models.Listing, error)
	FetchBestDeals(minDiscountPct float64, limit int) ([]models.Listing, error)

	// Targeted sticky-field writes; each is idempotent when repeated with
	// identical input.
	UpdateEstimatedValue(canonicalURL string, value float64) error
	UpdateOffer(canonicalURL string, offer pricing.OfferResult) error
	MarkContacted(canonicalURL string) error
	MarkVisited(canonicalURL string) error

	GetRecentChanges(limit int) ([]models.ListingChange, error)
	PruneChangesBefore(cutoff time.Time) (int64, error)
	GetStats(minDiscountPct float64) (Stats, error)

	Close() error
}

// MergeListing reconciles a re-ingested record with its stored version.
// Raw extraction fields take the incoming value, last write wins. Computed
// fields are sticky: an existing estimate, offer, discount, or outreach
// flag is never clobbered by re-extraction, which cannot produce them.
func MergeListing(existing, incoming *models.Listing) models.Listing {
	merged := *incoming

	merged.ID = existing.ID
	merged.CreatedAt = existing.CreatedAt

	if existing.EstimatedValue != nil {
		merged.EstimatedValue = existing.EstimatedValue
	}
	if existing.SuggestedOffer != nil {
		merged.SuggestedOffer = existing.SuggestedOffer
	}
	if existing.DiscountPercentage != nil {
		merged.DiscountPercentage = existing.DiscountPercentage
	}
	if existing.Contacted {
		merged.Contacted = true
		merged.ContactDate = existing.ContactDate
	}
	if existing.Visited {
		merged.Visited = true
	}

	return merged
}
