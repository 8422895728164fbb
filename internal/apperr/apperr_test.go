package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStorage("mysql", "failed to store listings", cause)

	assert.Contains(t, err.Error(), "storage")
	assert.Contains(t, err.Error(), "mysql")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorWithoutCause(t *testing.T) {
	err := NewValidation("extractor", "title is empty")

	assert.Contains(t, err.Error(), "validation")
	assert.NotContains(t, err.Error(), "<nil>")
	assert.Nil(t, errors.Unwrap(err))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, NewSource("imap", "fetch failed", nil).IsRetryable())
	assert.True(t, NewEstimation("chromedp", "timeout", nil).IsRetryable())
	assert.False(t, NewParsing("extractor", "bad markup", nil).IsRetryable())
	assert.False(t, NewConflict("postgres", "duplicate key").IsRetryable())
}

func TestKindOf(t *testing.T) {
	err := NewConflict("mysql", "duplicate canonical_url")

	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, IsConflict(err))
	assert.True(t, IsConflict(fmt.Errorf("store: %w", err)))
	assert.False(t, IsConflict(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
