package sentinel

import (
	"errors"
	"fmt"
)

// ErrNotConfigured marks a source whose feed URL or credentials are missing.
var ErrNotConfigured = errors.New("source not configured")

// FetchErrorKind classifies why a sniper produced no data.
type FetchErrorKind string

// Fetch error kinds.
const (
	FetchNetwork       FetchErrorKind = "network"
	FetchStatus        FetchErrorKind = "status"
	FetchParse         FetchErrorKind = "parse"
	FetchNotConfigured FetchErrorKind = "not_configured"
	FetchStore         FetchErrorKind = "store"
	FetchTimeout       FetchErrorKind = "timeout"
	FetchPanic         FetchErrorKind = "panic"
)

// FetchError is returned by a sniper when its feed could not be read.
// The orchestrator treats it as an empty result.
type FetchError struct {
	Source string
	Kind   FetchErrorKind
	Err    error
}

// NewFetchError wraps err for source.
func NewFetchError(source string, kind FetchErrorKind, err error) *FetchError {
	return &FetchError{Source: source, Kind: kind, Err: err}
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failure", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Source, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf returns the FetchErrorKind carried by err, or "" when err is not a FetchError.
func KindOf(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
