// Package snapshot records how listings evolve between ingestion runs.
// Sellers drop prices and correct mileage over a listing's lifetime; the
// change history makes those moves visible to the deal surface.
package snapshot

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"car-deal-hunter/internal/models"
)

// ChangeStore is the slice of the repository the tracker needs.
type ChangeStore interface {
	GetRecentChanges(limit int) ([]models.ListingChange, error)
	PruneChangesBefore(cutoff time.Time) (int64, error)
}

// Tracker serves and prunes the recorded change history.
type Tracker struct {
	store  ChangeStore
	logger zerolog.Logger
}

func NewTracker(store ChangeStore, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger.With().Str("component", "snapshot").Logger(),
	}
}

// Recent returns the latest recorded changes, newest first.
func (t *Tracker) Recent(limit int) ([]models.ListingChange, error) {
	return t.store.GetRecentChanges(limit)
}

// Prune deletes change rows older than the retention window.
func (t *Tracker) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	deleted, err := t.store.PruneChangesBefore(cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		t.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("pruned change history")
	}
	return deleted, nil
}

// DetectChanges compares the stored listing with a re-ingested record and
// returns one change row per moved field. Only the volatile numeric fields
// are tracked; title or image churn is not worth a history row.
func DetectChanges(existing, incoming *models.Listing) []models.ListingChange {
	var changes []models.ListingChange

	if !float64PtrEqual(existing.Price, incoming.Price) {
		changes = append(changes, numericChange(existing, models.ChangeTypePrice, existing.Price, incoming.Price))
	}
	if !float64PtrEqual(existing.Mileage, incoming.Mileage) {
		changes = append(changes, numericChange(existing, models.ChangeTypeMileage, existing.Mileage, incoming.Mileage))
	}

	return changes
}

// NewListingChange records the first sighting of a listing.
func NewListingChange(listing *models.Listing) models.ListingChange {
	return models.ListingChange{
		ListingID:    listing.ID,
		CanonicalURL: listing.CanonicalURL,
		ChangeType:   models.ChangeTypeNewListing,
		NewValue:     listing.Title,
		DetectedAt:   time.Now(),
	}
}

func numericChange(listing *models.Listing, changeType string, oldPtr, newPtr *float64) models.ListingChange {
	oldVal := "nil"
	newVal := "nil"
	var magnitude *float64

	if oldPtr != nil {
		oldVal = fmt.Sprintf("%.0f", *oldPtr)
	}
	if newPtr != nil {
		newVal = fmt.Sprintf("%.0f", *newPtr)
	}
	if oldPtr != nil && newPtr != nil {
		diff := *newPtr - *oldPtr
		magnitude = &diff
	}

	return models.ListingChange{
		ListingID:       listing.ID,
		CanonicalURL:    listing.CanonicalURL,
		ChangeType:      changeType,
		OldValue:        oldVal,
		NewValue:        newVal,
		ChangeMagnitude: magnitude,
		DetectedAt:      time.Now(),
	}
}

func float64PtrEqual(a, b *float64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
