package repository

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried in the scheduling service's error payloads
const (
	CodeValidation   = "validation_error"
	CodeNotFound     = "not_found"
	CodeInvalidState = "invalid_state"
	CodeConflict     = "conflict"
)

// DomainError is a 4xx answer from the scheduling service: the request was
// understood and rejected. Message is the server's wording, shown verbatim,
// and the action is never retried automatically.
type DomainError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *DomainError) Error() string {
	return e.Message
}

// TransportError covers network failures, timeouts and 5xx answers: the
// outcome is unknown or the service is unhealthy. It is surfaced as a generic
// failure and the periodic refresh will retry on its next tick.
type TransportError struct {
	StatusCode int   // zero when the request never reached the service
	Err        error // underlying cause, if any
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scheduling service unreachable: %v", e.Err)
	}
	return fmt.Sprintf("scheduling service failed with HTTP %d", e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is the service rejecting an unknown schedule id
func IsNotFound(err error) bool {
	var derr *DomainError
	return errors.As(err, &derr) && (derr.Code == CodeNotFound || derr.StatusCode == http.StatusNotFound)
}

// IsInvalidState reports whether err is a rejected lifecycle transition
func IsInvalidState(err error) bool {
	var derr *DomainError
	return errors.As(err, &derr) && derr.Code == CodeInvalidState
}

// IsConflict reports whether err is a concurrent-modification rejection
func IsConflict(err error) bool {
	var derr *DomainError
	return errors.As(err, &derr) && derr.Code == CodeConflict
}

// IsDomain reports whether err came back as a 4xx rejection
func IsDomain(err error) bool {
	var derr *DomainError
	return errors.As(err, &derr)
}

// IsTransport reports whether err is transient and worth retrying later
func IsTransport(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr)
}
