// Package errors provides standardized error handling patterns for QueryGate
// components. It defines the closed gateway error taxonomy, standard error
// variables, and helper functions for consistent error wrapping and
// classification across the system.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies gateway errors. The set is closed: every Kind maps to an
// HTTP status, a header-safe type name, and a generic client-facing message.
type Kind int

const (
	// Internal represents unexpected failures with no more specific kind
	Internal Kind = iota
	// Validation represents parameter validation failures (carries field errors)
	Validation
	// Parse represents request body parse failures (carries the content type)
	Parse
	// NotFound represents a request that matched no configured endpoint
	NotFound
	// BadRequest represents malformed request conditions outside validation
	BadRequest
	// Database represents execution-engine failures (carries the statement id)
	Database
	// AdmissionRejected represents concurrency-capacity exhaustion
	AdmissionRejected
	// NetworkDenied represents a client address outside the allow-list
	NetworkDenied
	// AuthFailed represents missing or invalid credentials
	AuthFailed
	// ExecutionTimeout represents a request whose statement did not finish
	// within the per-request deadline; the statement may still complete in
	// the background
	ExecutionTimeout
)

// String returns the header-safe type name for the kind.
func (k Kind) String() string {
	switch k {
	case Validation:
		return "ValidationError"
	case Parse:
		return "ParseError"
	case NotFound:
		return "NotFound"
	case BadRequest:
		return "BadRequest"
	case Database:
		return "DatabaseError"
	case AdmissionRejected:
		return "AdmissionRejected"
	case NetworkDenied:
		return "NetworkDenied"
	case AuthFailed:
		return "AuthFailed"
	case ExecutionTimeout:
		return "ExecutionTimeout"
	default:
		return "InternalError"
	}
}

// HTTPStatus returns the HTTP status code bound to the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case Validation, Parse, BadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case AdmissionRejected:
		return http.StatusTooManyRequests
	case NetworkDenied:
		return http.StatusForbidden
	case AuthFailed:
		return http.StatusUnauthorized
	case ExecutionTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// GenericMessage returns the client-facing message used when detail
// exposure is disabled.
func (k Kind) GenericMessage() string {
	switch k {
	case Validation:
		return "Request validation failed"
	case Parse:
		return "Invalid request format"
	case NotFound:
		return "The requested endpoint does not exist"
	case BadRequest:
		return "Invalid request parameters"
	case Database:
		return "A database error occurred"
	case AdmissionRejected:
		return "Too many requests, please retry later"
	case NetworkDenied:
		return "Access denied from this network"
	case AuthFailed:
		return "Authentication required"
	case ExecutionTimeout:
		return "Execution did not complete in time"
	default:
		return "An unexpected error occurred"
	}
}

// Standard error variables for common conditions
var (
	// Configuration errors
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingConfig  = errors.New("missing required configuration")
	ErrConfigNotFound = errors.New("configuration not found")

	// Lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Execution errors
	ErrStatementNotFound = errors.New("statement not found")
	ErrNoConnection      = errors.New("no connection available")
)

// Error is the gateway error type. It carries the taxonomy kind plus the
// context fields each kind needs for client rendering and server-side
// correlation.
type Error struct {
	Kind        Kind
	Err         error
	Message     string
	FieldErrors []string // Validation: one entry per failed field
	ContentType string   // Parse: the declared request content type
	StatementID string   // Database: statement id, logged but not disclosed by default
	Method      string   // NotFound: request method
	Path        string   // NotFound: request path
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.GenericMessage()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a gateway error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a gateway error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewValidation creates a Validation error carrying every accumulated
// field failure.
func NewValidation(fieldErrors []string) *Error {
	return &Error{
		Kind:        Validation,
		Message:     "validation failed: " + strings.Join(fieldErrors, "; "),
		FieldErrors: fieldErrors,
	}
}

// NewParse creates a Parse error tagged with the declared content type.
func NewParse(contentType string, err error) *Error {
	return &Error{
		Kind:        Parse,
		Err:         err,
		Message:     fmt.Sprintf("invalid %s body: %v", contentType, err),
		ContentType: contentType,
	}
}

// NewNotFound creates a NotFound error for an unmatched (method, path).
func NewNotFound(method, path string) *Error {
	return &Error{
		Kind:    NotFound,
		Message: fmt.Sprintf("no endpoint configured for %s %s", method, path),
		Method:  method,
		Path:    path,
	}
}

// NewDatabase wraps an execution-engine failure, tagged with the statement
// id for server-side correlation. The underlying driver message is retained
// in the chain for logging but is never rendered to clients by default.
func NewDatabase(statementID string, err error) *Error {
	return &Error{
		Kind:        Database,
		Err:         err,
		Message:     fmt.Sprintf("statement %s failed", statementID),
		StatementID: statementID,
	}
}

// KindOf returns the gateway kind for an error, defaulting to Internal for
// errors outside the taxonomy.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return Internal
}

// AsGateway returns the gateway error in err's chain, or wraps err as
// Internal when there is none.
func AsGateway(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return &Error{Kind: Internal, Err: err}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapKind wraps an error with component context and binds it to a
// taxonomy kind.
func WrapKind(kind Kind, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &Error{Kind: kind, Err: wrapped, Message: wrapped.Error()}
}

// Is reports whether any error in err's chain matches target.
// Re-exported so callers need only this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// Re-exported so callers need only this package.
func As(err error, target any) bool {
	return errors.As(err, target)
}
