package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("invalid request")
	ErrQuotaExceeded       = errors.New("quota exceeded")
	ErrProviderFailure     = errors.New("provider failure")
	ErrStorageFailure      = errors.New("storage failure")
	ErrInsufficientResults = errors.New("insufficient results")
	ErrAlreadyFinalized    = errors.New("request already finalized")
	ErrRequestInProgress   = errors.New("request still in progress")
)

// ValidationError rejects malformed input before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// QuotaExceededError is returned when admission is denied.
type QuotaExceededError struct {
	Plan      string
	Needed    int
	Remaining int
	Message   string
}

func (e *QuotaExceededError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("quota exceeded: need %d, remaining %d", e.Needed, e.Remaining)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// Shortfall is the number of units missing for admission.
func (e *QuotaExceededError) Shortfall() int {
	if d := e.Needed - e.Remaining; d > 0 {
		return d
	}
	return 0
}

// ProviderError wraps a failed call to an external generation provider.
type ProviderError struct {
	Provider   string
	Capability string
	Status     int
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Capability != "" {
		b.WriteString(" ")
		b.WriteString(e.Capability)
	}
	if e.Status > 0 {
		fmt.Fprintf(&b, " status %d", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProviderFailure}
	}
	return []error{ErrProviderFailure, e.Err}
}

// ShapeError reports a provider response with no recognizable artifact
// field. It only carries top-level field names, never payload content.
type ShapeError struct {
	Provider string
	Fields   []string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: unrecognized response shape (fields: %s)", e.Provider, strings.Join(e.Fields, ","))
}

func (e *ShapeError) Unwrap() error { return ErrProviderFailure }

// StorageError wraps a failed object storage operation.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStorageFailure}
	}
	return []error{ErrStorageFailure, e.Err}
}

// InsufficientResultsError is raised when a fan-out misses its minimum.
type InsufficientResultsError struct {
	Generated int
	Expected  int
	Noun      string
}

func (e *InsufficientResultsError) Error() string {
	noun := e.Noun
	if noun == "" {
		noun = "results"
	}
	return fmt.Sprintf("Generated %d %s; expected %d", e.Generated, noun, e.Expected)
}

func (e *InsufficientResultsError) Unwrap() error { return ErrInsufficientResults }
