// Package errors models the exchange's error kinds as a single Kind-tagged
// type that supports errors.Is/errors.As/Unwrap and projects to an RFC
// 7807-flavored Problem Details response.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions re-exported for convenience at call sites that
// otherwise only import this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)

// Kind enumerates the error kinds named in the error handling design.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindNotFound            Kind = "not_found"
	KindCannotCancel        Kind = "cannot_cancel"
	KindProcessingError     Kind = "processing_error"
	KindInternal            Kind = "internal"
)

// httpStatus maps each Kind to its HTTP status code.
var httpStatus = map[Kind]int{
	KindValidation:          http.StatusBadRequest,
	KindInsufficientBalance: http.StatusBadRequest,
	KindNotFound:            http.StatusNotFound,
	KindCannotCancel:        http.StatusBadRequest,
	KindProcessingError:     http.StatusInternalServerError,
	KindInternal:            http.StatusInternalServerError,
}

// Error is the only error type that crosses component boundaries in this
// repository. Internal library errors (gorm, kafka-go, redis) must be
// wrapped into one of these before leaving the component that produced them.
type Error struct {
	Kind    Kind
	Message string

	cause error
}

var _ error = (*Error)(nil)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports kind equality, which is what callers mean by errors.Is(err, SomeKind).
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// StatusCode returns the HTTP status code associated with the error's kind.
func (e *Error) StatusCode() int {
	if code, ok := httpStatus[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Sentinel values usable with errors.Is(err, errors.Validation) etc.
var (
	Validation          = &Error{Kind: KindValidation}
	InsufficientBalance = &Error{Kind: KindInsufficientBalance}
	NotFound            = &Error{Kind: KindNotFound}
	CannotCancel        = &Error{Kind: KindCannotCancel}
	ProcessingError     = &Error{Kind: KindProcessingError}
	Internal            = &Error{Kind: KindInternal}
)

func IsKind(err error, kind Kind) bool {
	var e *Error
	if As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ProblemDetails is an RFC 7807-flavored projection of an Error, used by the
// routes that return the {error, message, statusCode} response shape.
type ProblemDetails struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"statusCode"`
	Detail    string `json:"message"`
	ErrorKind string `json:"error"`
	TraceID   string `json:"traceId,omitempty"`
}

func (p *ProblemDetails) Error() string { return p.Detail }

// MarshalJSON keeps traceId out of the payload when empty, matching the
// teacher's habit of omitting blank correlator fields rather than emitting
// them as "".
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"type":       p.Type,
		"title":      p.Title,
		"statusCode": p.Status,
		"message":    p.Detail,
		"error":      p.ErrorKind,
	}
	if p.TraceID != "" {
		out["traceId"] = p.TraceID
	}
	return json.Marshal(out)
}

var problemType = map[Kind]string{
	KindValidation:          "https://exchange.local/problems/validation",
	KindInsufficientBalance: "https://exchange.local/problems/insufficient-balance",
	KindNotFound:            "https://exchange.local/problems/not-found",
	KindCannotCancel:        "https://exchange.local/problems/cannot-cancel",
	KindProcessingError:     "https://exchange.local/problems/processing-error",
	KindInternal:            "https://exchange.local/problems/internal",
}

var problemTitle = map[Kind]string{
	KindValidation:          "Validation Error",
	KindInsufficientBalance: "Insufficient Balance",
	KindNotFound:            "Not Found",
	KindCannotCancel:        "Cannot Cancel",
	KindProcessingError:     "Processing Error",
	KindInternal:            "Internal Server Error",
}

// ToProblemDetails projects err into a ProblemDetails, wrapping unrecognized
// errors as Internal so a handler never leaks a raw library error message.
func ToProblemDetails(err error, traceID string) *ProblemDetails {
	var e *Error
	if !As(err, &e) {
		e = &Error{Kind: KindInternal, Message: "an internal error occurred"}
	}
	return &ProblemDetails{
		Type:      problemType[e.Kind],
		Title:     problemTitle[e.Kind],
		Status:    e.StatusCode(),
		Detail:    e.Message,
		ErrorKind: string(e.Kind),
		TraceID:   traceID,
	}
}
