// Typed failures for each pipeline stage. Every stage returns one of these
// so the orchestrator can report what went wrong for a URL without
// inspecting error strings.
package main

import (
	"errors"
	"fmt"
)

// errNoReadableContent is the cause recorded when readability ran but
// produced nothing worth packaging.
var errNoReadableContent = errors.New("no readable content")

// FetchError is a network or HTTP failure while retrieving a page.
type FetchError struct {
	URL    string
	Status int // HTTP status, 0 when the request never completed
	Cause  error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// NoContentError means the page could not be turned into an article.
type NoContentError struct {
	URL   string
	Cause error
}

func (e *NoContentError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Cause)
}

func (e *NoContentError) Unwrap() error {
	return e.Cause
}

// StageError is a filesystem failure while writing the staged files.
type StageError struct {
	Path  string
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Path, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// PackagingError is a failure of the packaging engine. Diagnostics holds
// whatever the engine reported (stderr for external tools).
type PackagingError struct {
	Engine      string
	Output      string
	Diagnostics string
	Cause       error
}

func (e *PackagingError) Error() string {
	msg := fmt.Sprintf("package %s with %s: %v", e.Output, e.Engine, e.Cause)
	if e.Diagnostics != "" {
		msg += ": " + e.Diagnostics
	}
	return msg
}

func (e *PackagingError) Unwrap() error {
	return e.Cause
}

// AdapterError is a URL source that failed to produce its list.
type AdapterError struct {
	Source string
	Cause  error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Cause)
}

func (e *AdapterError) Unwrap() error {
	return e.Cause
}
