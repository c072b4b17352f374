package registra

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypeRejected    ErrorType = "rejected"
	ErrorTypeUnavailable ErrorType = "unavailable"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeMalformed   ErrorType = "malformed"
	ErrorTypeInternal    ErrorType = "internal"
)

// Error codes
const (
	ErrCodeSchemaNotFound     = "SCHEMA_NOT_FOUND"
	ErrCodeVersionNotFound    = "VERSION_NOT_FOUND"
	ErrCodePublishConflict    = "PUBLISH_CONFLICT"
	ErrCodePolicyViolation    = "POLICY_VIOLATION"
	ErrCodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrCodeBackendTimeout     = "BACKEND_TIMEOUT"
	ErrCodeMalformedDocument  = "MALFORMED_DOCUMENT"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// RegistryError represents unified errors from the registry core. The Type
// drives retry semantics for callers: NotFound and Conflict are recoverable,
// Rejected is not retryable without changing the candidate, Unavailable and
// Timeout are retryable with backoff and are never conflated with NotFound.
type RegistryError struct {
	Type     ErrorType      `json:"type"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	SchemaID string         `json:"schema_id,omitempty"`
	Version  string         `json:"version,omitempty"`
	Reasons  []string       `json:"reasons,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Cause    error          `json:"-"`
}

func (e *RegistryError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s:%s]", e.Type, e.Code)
	if e.SchemaID != "" {
		fmt.Fprintf(&b, " schema %s", e.SchemaID)
		if e.Version != "" {
			fmt.Fprintf(&b, "@%s", e.Version)
		}
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	if len(e.Reasons) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Reasons, "; "))
	}
	return b.String()
}

func (e *RegistryError) Unwrap() error {
	return e.Cause
}

// WithCause attaches an underlying cause.
func (e *RegistryError) WithCause(cause error) *RegistryError {
	e.Cause = cause
	return e
}

// WithVersion attaches version context.
func (e *RegistryError) WithVersion(version string) *RegistryError {
	e.Version = version
	return e
}

// WithDetail adds a single detail entry.
func (e *RegistryError) WithDetail(key string, value any) *RegistryError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ============================================================================
// Constructors
// ============================================================================

// NewSchemaNotFoundError creates a not-found error for an unknown schema id.
func NewSchemaNotFoundError(schemaID string) *RegistryError {
	return &RegistryError{
		Type:     ErrorTypeNotFound,
		Code:     ErrCodeSchemaNotFound,
		Message:  "schema not found",
		SchemaID: schemaID,
	}
}

// NewVersionNotFoundError creates a not-found error for an unknown version.
func NewVersionNotFoundError(schemaID string, version Version) *RegistryError {
	return &RegistryError{
		Type:     ErrorTypeNotFound,
		Code:     ErrCodeVersionNotFound,
		Message:  "schema version not found",
		SchemaID: schemaID,
		Version:  version.String(),
	}
}

// NewConflictError creates a retryable error for a lost publish race.
func NewConflictError(schemaID string, message string) *RegistryError {
	return &RegistryError{
		Type:     ErrorTypeConflict,
		Code:     ErrCodePublishConflict,
		Message:  message,
		SchemaID: schemaID,
	}
}

// NewRejectedError creates a policy-violation error. The reasons list is
// surfaced to callers so they can render a precise explanation.
func NewRejectedError(schemaID, message string, reasons ...string) *RegistryError {
	return &RegistryError{
		Type:     ErrorTypeRejected,
		Code:     ErrCodePolicyViolation,
		Message:  message,
		SchemaID: schemaID,
		Reasons:  reasons,
	}
}

// NewUnavailableError creates an error for an unreachable backend.
func NewUnavailableError(message string, cause error) *RegistryError {
	return &RegistryError{
		Type:    ErrorTypeUnavailable,
		Code:    ErrCodeBackendUnavailable,
		Message: message,
		Cause:   cause,
	}
}

// NewTimeoutError creates an error for a backend call exceeding its deadline.
func NewTimeoutError(message string, cause error) *RegistryError {
	return &RegistryError{
		Type:    ErrorTypeTimeout,
		Code:    ErrCodeBackendTimeout,
		Message: message,
		Cause:   cause,
	}
}

// NewMalformedDocumentError creates an error for a candidate that violates a
// structural invariant. Malformed candidates are rejected before any diff.
func NewMalformedDocumentError(schemaID, message string, reasons ...string) *RegistryError {
	return &RegistryError{
		Type:     ErrorTypeMalformed,
		Code:     ErrCodeMalformedDocument,
		Message:  message,
		SchemaID: schemaID,
		Reasons:  reasons,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *RegistryError {
	return &RegistryError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
	}
}

// ============================================================================
// Error checking utilities
// ============================================================================

func hasType(err error, t ErrorType) bool {
	var re *RegistryError
	if errors.As(err, &re) {
		return re.Type == t
	}
	return false
}

// IsNotFound checks if an error is a not-found error.
func IsNotFound(err error) bool { return hasType(err, ErrorTypeNotFound) }

// IsConflict checks if an error is a publish-race conflict.
func IsConflict(err error) bool { return hasType(err, ErrorTypeConflict) }

// IsRejected checks if an error is a version-policy rejection.
func IsRejected(err error) bool { return hasType(err, ErrorTypeRejected) }

// IsUnavailable checks if an error reports an unreachable backend.
func IsUnavailable(err error) bool { return hasType(err, ErrorTypeUnavailable) }

// IsTimeout checks if an error reports a backend deadline.
func IsTimeout(err error) bool { return hasType(err, ErrorTypeTimeout) }

// IsMalformed checks if an error reports a malformed candidate document.
func IsMalformed(err error) bool { return hasType(err, ErrorTypeMalformed) }
