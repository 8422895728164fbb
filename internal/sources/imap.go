package sources

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"car-deal-hunter/internal/apperr"
	"car-deal-hunter/internal/models"
)

// ImapSource pulls alert mails from an IMAP mailbox. Bodies are fetched
// with BODY.PEEK so reading never sets \Seen; acknowledgement is an
// explicit MarkProcessed call. The blank go-message/charset import
// registers legacy charset decoders for non-UTF-8 mail parts.
type ImapSource struct {
	addr       string
	username   string
	password   string
	mailbox    string
	fromFilter string
	logger     zerolog.Logger

	c *client.Client
}

// NewImapSource prepares a source for the given server. addr may omit the
// port, in which case the IMAPS default 993 is used. fromFilter narrows
// the search to a sender address and may be empty.
func NewImapSource(addr, username, password, mailbox, fromFilter string, logger zerolog.Logger) *ImapSource {
	if !strings.Contains(addr, ":") {
		addr += ":993"
	}
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &ImapSource{
		addr:       addr,
		username:   username,
		password:   password,
		mailbox:    mailbox,
		fromFilter: fromFilter,
		logger:     logger.With().Str("component", "source.imap").Logger(),
	}
}

func (s *ImapSource) Name() string { return models.SourceEmail }

func (s *ImapSource) connect() error {
	if s.c != nil {
		return nil
	}
	c, err := client.DialTLS(s.addr, nil)
	if err != nil {
		return apperr.NewSource("imap", fmt.Sprintf("connecting to %s", s.addr), err)
	}
	c.Timeout = 30 * time.Second
	if err := c.Login(s.username, s.password); err != nil {
		_ = c.Logout()
		return apperr.NewSource("imap", "login failed", err)
	}
	if _, err := c.Select(s.mailbox, false); err != nil {
		_ = c.Logout()
		return apperr.NewSource("imap", fmt.Sprintf("selecting mailbox %s", s.mailbox), err)
	}
	s.c = c
	return nil
}

func (s *ImapSource) Fetch(ctx context.Context, limit int, unreadOnly bool) ([]Message, error) {
	if err := s.connect(); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	if unreadOnly {
		criteria.WithoutFlags = []string{imap.SeenFlag}
	}
	if s.fromFilter != "" {
		criteria.Header.Add("From", s.fromFilter)
	}
	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, apperr.NewSource("imap", "searching mailbox", err)
	}
	if len(uids) == 0 {
		s.logger.Info().Str("mailbox", s.mailbox).Msg("No matching mail")
		return nil, nil
	}
	// UIDs come back in ascending order; the tail is the newest mail.
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchEnvelope, imap.FetchUid}

	ch := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqset, items, ch)
	}()

	var messages []Message
	for msg := range ch {
		if err := ctx.Err(); err != nil {
			// Drain so the fetch goroutine can finish.
			for range ch {
			}
			<-done
			return messages, err
		}
		m, ok := s.decodeMessage(msg, section)
		if !ok {
			continue
		}
		messages = append(messages, m)
	}
	if err := <-done; err != nil {
		return messages, apperr.NewSource("imap", "fetching mail bodies", err)
	}

	s.logger.Info().Int("messages", len(messages)).Str("mailbox", s.mailbox).Msg("Fetched mail")
	return messages, nil
}

// decodeMessage walks the MIME tree for the first text/html part. Alert
// mails without one carry nothing the extractor can use.
func (s *ImapSource) decodeMessage(msg *imap.Message, section *imap.BodySectionName) (Message, bool) {
	body := msg.GetBody(section)
	if body == nil {
		s.logger.Warn().Uint32("uid", msg.Uid).Msg("Mail arrived without the requested body section")
		return Message{}, false
	}
	mr, err := mail.CreateReader(body)
	if err != nil {
		s.logger.Warn().Err(err).Uint32("uid", msg.Uid).Msg("Unparseable mail, skipping")
		return Message{}, false
	}

	var html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.logger.Warn().Err(err).Uint32("uid", msg.Uid).Msg("Broken MIME part, skipping rest of mail")
			break
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := h.ContentType()
		if err != nil || contentType != "text/html" {
			continue
		}
		raw, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}
		html = string(raw)
		break
	}
	if html == "" {
		s.logger.Warn().Uint32("uid", msg.Uid).Msg("Mail has no HTML part, skipping")
		return Message{}, false
	}

	out := Message{
		ID:   strconv.FormatUint(uint64(msg.Uid), 10),
		HTML: html,
	}
	if msg.Envelope != nil {
		out.Subject = msg.Envelope.Subject
		out.ReceivedAt = msg.Envelope.Date
	}
	return out, true
}

// MarkProcessed sets \Seen on the given UIDs.
func (s *ImapSource) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.connect(); err != nil {
		return err
	}
	seqset := new(imap.SeqSet)
	for _, id := range ids {
		uid, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			return apperr.NewSource("imap", fmt.Sprintf("invalid uid %q", id), err)
		}
		seqset.AddNum(uint32(uid))
	}
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.c.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return apperr.NewSource("imap", "marking mail as read", err)
	}
	s.logger.Info().Int("count", len(ids)).Msg("Marked mail as read")
	return nil
}

func (s *ImapSource) Close() error {
	if s.c == nil {
		return nil
	}
	err := s.c.Logout()
	s.c = nil
	return err
}
