// Package errdefs defines the error taxonomy shared by the pipeline
// components and the HTTP layer. Orchestrators translate component failures
// into these kinds; handlers map kinds onto status codes. Raw upstream error
// text never reaches a client.
package errdefs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind string

const (
	KindInvalidInput    Kind = "invalid_input"
	KindUnauthorized    Kind = "unauthorized"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindThrottled       Kind = "throttled"
	KindRequestTooLarge Kind = "request_too_large"

	KindEmbeddingUnavailable   Kind = "embedding_unavailable"
	KindVectorIndexUnavailable Kind = "vector_index_unavailable"
	KindChunkStoreUnavailable  Kind = "chunk_store_unavailable"
	KindObjectStoreUnavailable Kind = "object_store_unavailable"
	KindSessionUnavailable     Kind = "session_unavailable"
	KindGenerationUnavailable  Kind = "generation_unavailable"

	KindPartialFailure    Kind = "partial_failure"
	KindDeadlineExceeded  Kind = "deadline_exceeded"
	KindGenerationBlocked Kind = "generation_blocked"
	KindInternal          Kind = "internal"
)

// Error is the taxonomy error. Stage names the pipeline transition that
// failed, Retryable hints whether the caller may retry the same request.
type Error struct {
	Kind      Kind
	Stage     string
	Retryable bool

	// RetryAfter is set for throttled errors: the time until one token
	// becomes available.
	RetryAfter time.Duration

	Msg   string
	Cause error
}

func (e *Error) Error() string {
	switch {
	case e.Stage != "" && e.Cause != nil:
		return fmt.Sprintf("%s (stage %s): %s: %v", e.Kind, e.Stage, e.Msg, e.Cause)
	case e.Stage != "":
		return fmt.Sprintf("%s (stage %s): %s", e.Kind, e.Stage, e.Msg)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches against another taxonomy error by kind only, so callers can use
// errors.Is(err, errdefs.Throttled(0)) style sentinels.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.Kind == te.Kind
}

// New constructs a taxonomy error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap attaches a cause to a taxonomy error.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// WithStage returns a copy annotated with the failing pipeline stage.
func (e *Error) WithStage(stage string) *Error {
	cp := *e
	cp.Stage = stage
	return &cp
}

// WithRetryable returns a copy with the retryability hint set.
func (e *Error) WithRetryable(retryable bool) *Error {
	cp := *e
	cp.Retryable = retryable
	return &cp
}

// InvalidInput builds a 400-class error.
func InvalidInput(msg string) *Error {
	return New(KindInvalidInput, msg)
}

// NotFound builds a 404-class error.
func NotFound(msg string) *Error {
	return New(KindNotFound, msg)
}

// Forbidden builds a 403-class error.
func Forbidden(msg string) *Error {
	return New(KindForbidden, msg)
}

// Throttled builds a 429-class error carrying the retry-after interval.
func Throttled(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindThrottled,
		Msg:        "rate limit exceeded",
		Retryable:  true,
		RetryAfter: retryAfter,
	}
}

// RequestTooLarge builds a 413-class error.
func RequestTooLarge(msg string) *Error {
	return New(KindRequestTooLarge, msg)
}

// Unavailable builds a dependency-unavailable error of the given sub-kind.
func Unavailable(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Msg: "dependency unavailable", Retryable: true, Cause: cause}
}

// DeadlineExceeded builds a 504-class error.
func DeadlineExceeded(stage string) *Error {
	return &Error{Kind: KindDeadlineExceeded, Stage: stage, Msg: "request deadline exceeded"}
}

// Internal wraps an unexpected failure.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Msg: "internal error", Cause: cause}
}

// KindOf extracts the taxonomy kind from an error chain, defaulting to
// KindInternal for unclassified errors. Context deadline errors classify as
// KindDeadlineExceeded even when a component forgot to translate them.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindDeadlineExceeded
	}
	return KindInternal
}

// RetryAfterOf extracts the retry-after hint, zero when absent.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// IsRetryable reports the retryability hint for an error chain.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// ClientMessage renders an error for a client-facing payload: kind, stage,
// and taxonomy message only, never the wrapped cause.
func ClientMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(nil).Error()
	}
	cp := *e
	cp.Cause = nil
	return cp.Error()
}

// HTTPStatus maps an error kind to the response status code of the API
// contract.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindThrottled:
		return http.StatusTooManyRequests
	case KindRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindVectorIndexUnavailable:
		return http.StatusFailedDependency
	case KindEmbeddingUnavailable, KindChunkStoreUnavailable,
		KindObjectStoreUnavailable, KindSessionUnavailable,
		KindGenerationUnavailable:
		return http.StatusServiceUnavailable
	case KindPartialFailure:
		return http.StatusInsufficientStorage
	case KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
