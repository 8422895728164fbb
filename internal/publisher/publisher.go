// Package publisher pushes freshly detected deals onto a stream so
// downstream consumers (notifiers, bots) can react without polling the
// database.
package publisher

import (
	"context"

	"car-deal-hunter/internal/models"
)

// Publisher emits deal events.
type Publisher interface {
	// PublishDeal emits one listing whose discount cleared the deal
	// threshold.
	PublishDeal(ctx context.Context, listing models.Listing) error

	// Trim caps the stream at the configured maximum length.
	Trim(ctx context.Context) error

	Close() error
}
