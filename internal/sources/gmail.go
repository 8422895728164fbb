package sources

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"car-deal-hunter/internal/apperr"
	"car-deal-hunter/internal/models"
)

// GmailSource pulls alert mails through the Gmail REST API instead of
// IMAP, which survives accounts where app passwords are disabled. The
// OAuth token must exist on disk already; expired access tokens are
// refreshed transparently by the token source.
type GmailSource struct {
	svc    *gmail.Service
	query  string
	logger zerolog.Logger
}

// NewGmailSource builds a source from an OAuth client credentials file
// and a stored user token. query is a Gmail search expression such as
// "from:noreply@rdv.autoscout24.com" and may be empty.
func NewGmailSource(ctx context.Context, credentialsFile, tokenFile, query string, logger zerolog.Logger) (*GmailSource, error) {
	credBytes, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, apperr.NewSource("gmail", fmt.Sprintf("reading credentials %s", credentialsFile), err)
	}
	oauthCfg, err := google.ConfigFromJSON(credBytes, gmail.GmailModifyScope)
	if err != nil {
		return nil, apperr.NewSource("gmail", "parsing OAuth credentials", err)
	}

	tokBytes, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, apperr.NewSource("gmail", fmt.Sprintf("reading token %s; run the authorization flow first", tokenFile), err)
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(tokBytes, tok); err != nil {
		return nil, apperr.NewSource("gmail", "parsing stored token", err)
	}

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(oauthCfg.Client(ctx, tok)))
	if err != nil {
		return nil, apperr.NewSource("gmail", "creating Gmail client", err)
	}
	return &GmailSource{
		svc:    svc,
		query:  query,
		logger: logger.With().Str("component", "source.gmail").Logger(),
	}, nil
}

func (s *GmailSource) Name() string { return models.SourceGmailAPI }

func (s *GmailSource) Fetch(ctx context.Context, limit int, unreadOnly bool) ([]Message, error) {
	query := s.query
	if unreadOnly {
		query += " is:unread"
	}

	call := s.svc.Users.Messages.List("me").Q(query).Context(ctx)
	if limit > 0 {
		call = call.MaxResults(int64(limit))
	}
	res, err := call.Do()
	if err != nil {
		return nil, apperr.NewSource("gmail", "listing mail", err)
	}
	if len(res.Messages) == 0 {
		s.logger.Info().Str("query", query).Msg("No matching mail")
		return nil, nil
	}

	var messages []Message
	for _, ref := range res.Messages {
		if err := ctx.Err(); err != nil {
			return messages, err
		}
		full, err := s.svc.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			s.logger.Warn().Err(err).Str("id", ref.Id).Msg("Fetching mail failed, skipping")
			continue
		}
		html := htmlPart(full.Payload)
		if html == "" {
			s.logger.Warn().Str("id", ref.Id).Msg("Mail has no HTML part, skipping")
			continue
		}
		messages = append(messages, Message{
			ID:         full.Id,
			Subject:    headerValue(full.Payload, "Subject"),
			HTML:       html,
			ReceivedAt: time.UnixMilli(full.InternalDate),
		})
	}

	s.logger.Info().Int("messages", len(messages)).Str("query", query).Msg("Fetched mail")
	return messages, nil
}

// MarkProcessed strips the UNREAD label from the given message IDs.
func (s *GmailSource) MarkProcessed(ctx context.Context, ids []string) error {
	for _, id := range ids {
		req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{"UNREAD"}}
		if _, err := s.svc.Users.Messages.Modify("me", id, req).Context(ctx).Do(); err != nil {
			return apperr.NewSource("gmail", fmt.Sprintf("marking %s as read", id), err)
		}
	}
	if len(ids) > 0 {
		s.logger.Info().Int("count", len(ids)).Msg("Marked mail as read")
	}
	return nil
}

func (s *GmailSource) Close() error { return nil }

// htmlPart walks the MIME tree depth-first for the first text/html body.
func htmlPart(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}
	if part.MimeType == "text/html" && part.Body != nil && part.Body.Data != "" {
		decoded, err := decodeBase64URL(part.Body.Data)
		if err != nil {
			return ""
		}
		return string(decoded)
	}
	for _, child := range part.Parts {
		if html := htmlPart(child); html != "" {
			return html
		}
	}
	return ""
}

func headerValue(part *gmail.MessagePart, name string) string {
	if part == nil {
		return ""
	}
	for _, h := range part.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// decodeBase64URL accepts both padded and unpadded web-safe base64; the
// API is inconsistent about which it returns.
func decodeBase64URL(data string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(data)
}
