// Package sources feeds the pipeline with raw listing markup. Alert mails
// over IMAP, the Gmail API, saved HTML files, and live listing pages all
// yield the same Message stream, so the extractor never knows which
// channel a payload came from.
package sources

import (
	"context"
	"time"
)

// Message is one raw markup payload together with the channel-specific
// bookkeeping needed to acknowledge it later.
type Message struct {
	ID         string
	Subject    string
	HTML       string
	ReceivedAt time.Time
}

// Source yields raw listing markup from one ingestion channel.
type Source interface {
	// Name identifies the channel; it is recorded on every extracted
	// listing.
	Name() string

	// Fetch returns up to limit pending messages. When unreadOnly is set,
	// messages already acknowledged by MarkProcessed are excluded where
	// the channel can tell them apart.
	Fetch(ctx context.Context, limit int, unreadOnly bool) ([]Message, error)

	// MarkProcessed acknowledges messages by ID so they are not served
	// again. Channels with no acknowledgement concept treat it as a no-op.
	MarkProcessed(ctx context.Context, ids []string) error

	Close() error
}
