package pipeline

import (
	"context"
	"errors"
	"fmt"

	"lecker/internal/browser"
	"lecker/internal/extractor"
	"lecker/internal/fetcher"
	"lecker/internal/normalize"
)

// Stage names the pipeline step that failed.
type Stage string

const (
	StageNormalize Stage = "normalize"
	StageSession   Stage = "session"
	StageSettle    Stage = "settle"
	StageExtract   Stage = "extract"
	StageSerialize Stage = "serialize"
)

// Kind classifies a failure.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindSessionUnavailable Kind = "session_unavailable"
	KindNavigation         Kind = "navigation"
	KindTimeout            Kind = "timeout"
	KindNoContent          Kind = "no_content"
	KindSerialize          Kind = "serialize"
	KindCanceled           Kind = "canceled"
)

// Retryable reports whether another attempt can change the outcome.
func (k Kind) Retryable() bool {
	return k == KindNavigation || k == KindTimeout
}

// FetchError is the terminal error of a pipeline run.
type FetchError struct {
	Stage    Stage
	Kind     Kind
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s failed (%s) for %s after %d attempt(s): %v", e.Stage, e.Kind, e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// classify maps a stage error to its Kind.
func classify(stage Stage, err error) Kind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, normalize.ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, browser.ErrSessionUnavailable):
		return KindSessionUnavailable
	case errors.Is(err, fetcher.ErrTimeout):
		return KindTimeout
	case errors.Is(err, fetcher.ErrNavigation):
		return KindNavigation
	case errors.Is(err, extractor.ErrNoContent):
		return KindNoContent
	}
	switch stage {
	case StageSession:
		return KindSessionUnavailable
	case StageSettle:
		return KindNavigation
	case StageExtract:
		// A selector that does not compile.
		return KindInvalidInput
	default:
		return KindSerialize
	}
}
