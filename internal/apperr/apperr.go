package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind represents the category of an error
type Kind string

const (
	// KindSource represents mail/web source fetch errors
	KindSource Kind = "source"
	// KindParsing represents markup extraction errors
	KindParsing Kind = "parsing"
	// KindStorage represents repository errors
	KindStorage Kind = "storage"
	// KindConflict represents duplicate-key conflicts
	KindConflict Kind = "conflict"
	// KindEstimation represents valuation lookup errors
	KindEstimation Kind = "estimation"
	// KindValidation represents input validation errors
	KindValidation Kind = "validation"
	// KindConfiguration represents configuration errors
	KindConfiguration Kind = "configuration"
	// KindSearch represents search index errors
	KindSearch Kind = "search"
	// KindCache represents cache errors
	KindCache Kind = "cache"
	// KindPublish represents deal stream publish errors
	KindPublish Kind = "publish"
)

// Error is an application error carrying its category and origin component
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Err       error
	Time      time.Time
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Kind, e.Component, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the operation may succeed on retry
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindSource, KindEstimation, KindCache, KindPublish:
		return true
	default:
		return false
	}
}

// New creates a new Error
func New(kind Kind, component, message string, err error) *Error {
	return &Error{
		Kind:      kind,
		Component: component,
		Message:   message,
		Err:       err,
		Time:      time.Now(),
	}
}

// NewSource creates a new source error
func NewSource(component, message string, err error) *Error {
	return New(KindSource, component, message, err)
}

// NewParsing creates a new parsing error
func NewParsing(component, message string, err error) *Error {
	return New(KindParsing, component, message, err)
}

// NewStorage creates a new storage error
func NewStorage(component, message string, err error) *Error {
	return New(KindStorage, component, message, err)
}

// NewConflict creates a new duplicate-key conflict error
func NewConflict(component, message string) *Error {
	return New(KindConflict, component, message, nil)
}

// NewEstimation creates a new estimation error
func NewEstimation(component, message string, err error) *Error {
	return New(KindEstimation, component, message, err)
}

// NewValidation creates a new validation error
func NewValidation(component, message string) *Error {
	return New(KindValidation, component, message, nil)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *Error {
	return New(KindConfiguration, "", message, err)
}

// NewSearch creates a new search index error
func NewSearch(component, message string, err error) *Error {
	return New(KindSearch, component, message, err)
}

// NewCache creates a new cache error
func NewCache(component, message string, err error) *Error {
	return New(KindCache, component, message, err)
}

// NewPublish creates a new publish error
func NewPublish(component, message string, err error) *Error {
	return New(KindPublish, component, message, err)
}

// KindOf extracts the Kind from err, or "" when err is not an *Error
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsConflict reports whether err is a duplicate-key conflict
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}
