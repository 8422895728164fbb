package sources

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html/charset"

	"car-deal-hunter/internal/apperr"
	"car-deal-hunter/internal/models"
)

// DirSource serves HTML files dropped into a local directory, newest
// first. Acknowledged files move into a processed/ subdirectory, so the
// directory itself is the unread set and the unreadOnly flag has no
// extra effect.
type DirSource struct {
	dir    string
	logger zerolog.Logger
}

func NewDirSource(dir string, logger zerolog.Logger) *DirSource {
	return &DirSource{
		dir:    dir,
		logger: logger.With().Str("component", "source.file").Logger(),
	}
}

func (s *DirSource) Name() string { return models.SourceFile }

func (s *DirSource) Fetch(ctx context.Context, limit int, unreadOnly bool) ([]Message, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, apperr.NewSource("file", fmt.Sprintf("reading directory %s", s.dir), err)
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".html" && ext != ".htm" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			path:    filepath.Join(s.dir, entry.Name()),
			modTime: info.ModTime(),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.After(candidates[j].modTime)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	var messages []Message
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return messages, err
		}
		raw, err := os.ReadFile(c.path)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", c.path).Msg("Skipping unreadable file")
			continue
		}
		messages = append(messages, Message{
			ID:         c.path,
			Subject:    filepath.Base(c.path),
			HTML:       s.decodeToUTF8(raw, c.path),
			ReceivedAt: c.modTime,
		})
	}

	s.logger.Info().Int("messages", len(messages)).Str("dir", s.dir).Msg("Fetched local files")
	return messages, nil
}

// MarkProcessed moves files into processed/ so later fetches skip them.
func (s *DirSource) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	processedDir := filepath.Join(s.dir, "processed")
	if err := os.MkdirAll(processedDir, 0o755); err != nil {
		return apperr.NewSource("file", "creating processed directory", err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		dest := filepath.Join(processedDir, filepath.Base(id))
		if err := os.Rename(id, dest); err != nil {
			return apperr.NewSource("file", fmt.Sprintf("moving %s to processed", id), err)
		}
	}
	return nil
}

func (s *DirSource) Close() error { return nil }

// decodeToUTF8 converts legacy encodings to UTF-8. Saved alert mails are
// frequently windows-1252 or ISO-8859-1, which mangles French accents if
// passed through untouched.
func (s *DirSource) decodeToUTF8(raw []byte, path string) string {
	enc, name, _ := charset.DetermineEncoding(raw, "text/html")
	if enc == nil || name == "utf-8" {
		return string(raw)
	}
	decoded, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(raw)))
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Str("charset", name).Msg("Charset conversion failed, using raw bytes")
		return string(raw)
	}
	return string(decoded)
}
