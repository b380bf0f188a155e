// Package apperr maps the error-kind taxonomy from the spec's error
// handling design onto HTTP status codes and opaque reason codes, mirroring
// the teacher's convention of small per-package respondError helpers rather
// than a single catch-all error-translation middleware.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is an opaque reason code surfaced to callers. It never carries
// interpolated detail: callers needing structured detail return it
// alongside the Kind in the response body.
type Kind string

const (
	// Auth
	MissingToken          Kind = "missing_token"
	InvalidToken          Kind = "invalid_token"
	Expired               Kind = "expired"
	InsufficientPerm      Kind = "insufficient_permission"
	ScopeMissing          Kind = "scope_missing"
	JTINotAllowlisted     Kind = "jti_not_allowlisted"
	MissingSandboxJWT     Kind = "missing_sandbox_jwt"
	RateLimited           Kind = "rate_limited"

	// Signature (C7)
	MissingSigningSecret     Kind = "missing_signing_secret"
	MissingSignatureHeader   Kind = "missing_signature_header"
	MissingTimestampHeader   Kind = "missing_timestamp_header"
	StaleTimestamp           Kind = "stale_timestamp"
	InvalidSignatureFormat   Kind = "invalid_signature_format"
	BadSignature             Kind = "bad_signature"

	// Config (C2/C3)
	ImmutableField Kind = "immutable_field"
	SchemaViolation Kind = "schema_violation"
	Conflict       Kind = "conflict"
	NotFound       Kind = "not_found"

	// Integration (C4/C11)
	IntegrationNotConfigured Kind = "integration_not_configured"

	// Runtime (C10)
	SandboxUnavailable Kind = "sandbox_unavailable"
	SandboxTimeout     Kind = "sandbox_timeout"
	MaxTurnsExceeded   Kind = "max_turns_exceeded"
	AgentError         Kind = "agent_error"

	// Persistence
	OptimisticLockFailed Kind = "optimistic_lock_failed"
	UniqueViolation      Kind = "unique_violation"

	// Upstream (C11)
	Upstream4xx     Kind = "upstream_4xx"
	Upstream5xx     Kind = "upstream_5xx"
	UpstreamTimeout Kind = "upstream_timeout"
)

// Error is an application error carrying a Kind and an optional structured
// Detail payload (e.g. {integration_id, missing_fields} for
// IntegrationNotConfigured).
type Error struct {
	Kind    Kind
	Message string
	Detail  any
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// New constructs an *Error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithDetail attaches a structured detail payload and returns the receiver.
func (e *Error) WithDetail(d any) *Error {
	e.Detail = d
	return e
}

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps a Kind to the status code the spec's error design
// requires.
func HTTPStatus(kind Kind) int {
	switch kind {
	case MissingToken, InvalidToken, Expired, JTINotAllowlisted, MissingSandboxJWT,
		MissingSigningSecret, MissingSignatureHeader, MissingTimestampHeader,
		StaleTimestamp, InvalidSignatureFormat, BadSignature:
		return http.StatusUnauthorized
	case InsufficientPerm, ScopeMissing:
		return http.StatusForbidden
	case RateLimited:
		return http.StatusTooManyRequests
	case NotFound:
		return http.StatusNotFound
	case Conflict, OptimisticLockFailed, UniqueViolation:
		return http.StatusConflict
	case ImmutableField, SchemaViolation:
		return http.StatusUnprocessableEntity
	case IntegrationNotConfigured:
		return http.StatusFailedDependency
	case SandboxUnavailable, SandboxTimeout, UpstreamTimeout:
		return http.StatusGatewayTimeout
	case MaxTurnsExceeded, AgentError, Upstream5xx:
		return http.StatusBadGateway
	case Upstream4xx:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
