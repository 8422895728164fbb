package sources

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, dir, name string, content []byte, modTime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
	return path
}

func TestDirSourceFetchNewestFirst(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeTestFile(t, dir, "old.html", []byte("<html>old</html>"), now.Add(-time.Hour))
	writeTestFile(t, dir, "new.html", []byte("<html>new</html>"), now)

	src := NewDirSource(dir, zerolog.Nop())
	messages, err := src.Fetch(context.Background(), 0, true)
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, "new.html", messages[0].Subject)
	assert.Equal(t, "old.html", messages[1].Subject)
	assert.Contains(t, messages[0].HTML, "new")
}

func TestDirSourceFetchLimit(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeTestFile(t, dir, "a.html", []byte("<html>a</html>"), now.Add(-2*time.Hour))
	writeTestFile(t, dir, "b.html", []byte("<html>b</html>"), now.Add(-time.Hour))
	writeTestFile(t, dir, "c.html", []byte("<html>c</html>"), now)

	src := NewDirSource(dir, zerolog.Nop())
	messages, err := src.Fetch(context.Background(), 2, true)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "c.html", messages[0].Subject)
	assert.Equal(t, "b.html", messages[1].Subject)
}

func TestDirSourceIgnoresNonHTML(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeTestFile(t, dir, "mail.html", []byte("<html>mail</html>"), now)
	writeTestFile(t, dir, "notes.txt", []byte("not markup"), now)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	src := NewDirSource(dir, zerolog.Nop())
	messages, err := src.Fetch(context.Background(), 0, true)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "mail.html", messages[0].Subject)
}

func TestDirSourceDecodesLegacyCharset(t *testing.T) {
	dir := t.TempDir()
	// "Prix demandé" in windows-1252: é is a single 0xE9 byte.
	raw := []byte("<html><head><meta charset=\"windows-1252\"></head><body>Prix demand\xe9</body></html>")
	writeTestFile(t, dir, "legacy.html", raw, time.Now())

	src := NewDirSource(dir, zerolog.Nop())
	messages, err := src.Fetch(context.Background(), 0, true)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].HTML, "Prix demandé")
}

func TestDirSourceMarkProcessed(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "done.html", []byte("<html>done</html>"), time.Now())
	writeTestFile(t, dir, "pending.html", []byte("<html>pending</html>"), time.Now())

	src := NewDirSource(dir, zerolog.Nop())
	require.NoError(t, src.MarkProcessed(context.Background(), []string{path}))

	assert.FileExists(t, filepath.Join(dir, "processed", "done.html"))
	assert.NoFileExists(t, path)

	messages, err := src.Fetch(context.Background(), 0, true)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "pending.html", messages[0].Subject)
}

func TestDirSourceMarkProcessedNothing(t *testing.T) {
	src := NewDirSource(t.TempDir(), zerolog.Nop())
	assert.NoError(t, src.MarkProcessed(context.Background(), nil))
}
