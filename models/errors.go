package models

import (
	"errors"
	"fmt"
)

// Error codes used in logs, run summaries and internal error handling.
const (
	ErrCodeSession      = "SESSION_FAILED"
	ErrCodeExtraction   = "EXTRACTION_FAILED"
	ErrCodeNavTimeout   = "NAVIGATION_TIMEOUT"
	ErrCodeStaleElement = "STALE_ELEMENT"
	ErrCodeSinkWrite    = "SINK_WRITE_FAILED"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. A *ScrapeError matches the sentinel carrying the
// same code, regardless of message or wrapped cause.
var (
	ErrSession           = &ScrapeError{Code: ErrCodeSession}
	ErrExtraction        = &ScrapeError{Code: ErrCodeExtraction}
	ErrNavigationTimeout = &ScrapeError{Code: ErrCodeNavTimeout}
	ErrStaleElement      = &ScrapeError{Code: ErrCodeStaleElement}
	ErrSinkWrite         = &ScrapeError{Code: ErrCodeSinkWrite}
	ErrInvalidInput      = &ScrapeError{Code: ErrCodeInvalidInput}
)

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	switch {
	case e.Message == "":
		return e.Code
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a ScrapeError with the same code.
func (e *ScrapeError) Is(target error) bool {
	t, ok := target.(*ScrapeError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the outermost ScrapeError in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) string {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}
