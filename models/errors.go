package models

import (
	"errors"
	"fmt"
)

// Error codes recorded on crawl results and returned by the status API.
const (
	// Render failures: recorded on the result, never fatal to a batch.
	ErrCodeTimeout          = "RENDER_TIMEOUT"
	ErrCodeNavigation       = "NAVIGATION_FAILED"
	ErrCodeBrowserCrash     = "BROWSER_CRASH"
	ErrCodeRobotsDisallowed = "ROBOTS_DISALLOWED"

	// Extraction failures: malformed page content, recorded on the result.
	ErrCodeExtraction = "EXTRACTION_FAILED"

	// Persistence failures stop the current run.
	ErrCodePersistence = "PERSISTENCE_FAILED"

	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CrawlError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type CrawlError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *CrawlError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CrawlError) Unwrap() error {
	return e.Err
}

// NewCrawlError creates a new CrawlError.
func NewCrawlError(code, message string, err error) *CrawlError {
	return &CrawlError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *CrawlError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// ErrorCode returns the code of the first CrawlError in err's chain,
// or ErrCodeInternal when there is none.
func ErrorCode(err error) string {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}

// IsRenderFailure reports whether err belongs to the render failure family
// (timeouts, navigation errors, browser crashes, robots exclusions).
func IsRenderFailure(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeTimeout, ErrCodeNavigation, ErrCodeBrowserCrash, ErrCodeRobotsDisallowed:
		return true
	}
	return false
}

// IsPersistenceFailure reports whether err is a checkpoint or result write failure.
func IsPersistenceFailure(err error) bool {
	return ErrorCode(err) == ErrCodePersistence
}
