package firefly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/fivetwenty-io/firefly-mcp/internal/constants"
)

// ErrorKind is the closed set of error kinds surfaced to callers.
type ErrorKind string

// Error kinds.
const (
	KindValidation      ErrorKind = "ValidationError"
	KindAuth            ErrorKind = "AuthError"
	KindNotFound        ErrorKind = "NotFoundError"
	KindRateLimit       ErrorKind = "RateLimitError"
	KindServer          ErrorKind = "ServerError"
	KindConnectivity    ErrorKind = "ConnectivityError"
	KindPaginationLimit ErrorKind = "PaginationLimitError"
	KindInvalidAction   ErrorKind = "InvalidActionError"
	KindSkipped         ErrorKind = "SkippedError"
	KindUnknown         ErrorKind = "UnknownError"
)

// Sentinels matched by (*Error).Is, one per kind.
var (
	ErrValidation      = errors.New("validation error")
	ErrAuth            = errors.New("authentication error")
	ErrNotFound        = errors.New("resource not found")
	ErrRateLimited     = errors.New("rate limited")
	ErrServer          = errors.New("server error")
	ErrConnectivity    = errors.New("connectivity error")
	ErrPaginationLimit = errors.New("pagination limit exceeded")
	ErrInvalidAction   = errors.New("invalid action")
	ErrSkipped         = errors.New("operation skipped")
	ErrUnknown         = errors.New("unknown error")
)

var kindSentinels = map[ErrorKind]error{
	KindValidation:      ErrValidation,
	KindAuth:            ErrAuth,
	KindNotFound:        ErrNotFound,
	KindRateLimit:       ErrRateLimited,
	KindServer:          ErrServer,
	KindConnectivity:    ErrConnectivity,
	KindPaginationLimit: ErrPaginationLimit,
	KindInvalidAction:   ErrInvalidAction,
	KindSkipped:         ErrSkipped,
	KindUnknown:         ErrUnknown,
}

// Error describes a failed operation. It never carries the bearer token,
// the request body or the raw server response.
type Error struct {
	Kind    ErrorKind `json:"error_kind"       yaml:"error_kind"`
	Message string    `json:"message"          yaml:"message"`
	Status  int       `json:"status,omitempty" yaml:"status,omitempty"`
}

// NewError creates an Error with a bounded message.
func NewError(kind ErrorKind, message string, status int) *Error {
	return &Error{
		Kind:    kind,
		Message: truncateMessage(message),
		Status:  status,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status: %d)", e.Kind, e.Message, e.Status)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]

	return ok && sentinel == target
}

// TransportError is returned by the transport when no response was received.
type TransportError struct {
	Timeout bool
	Err     error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Timeout {
		return "request timed out"
	}

	return "connection failed"
}

// Unwrap returns the underlying network error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError classifies a failed round trip as a timeout or a
// connection failure.
func NewTransportError(err error) *TransportError {
	return &TransportError{Timeout: isTimeout(err), Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// fireflyErrorBody is the error payload returned by Firefly III.
type fireflyErrorBody struct {
	Message   string              `json:"message"`
	Exception string              `json:"exception"`
	Errors    map[string][]string `json:"errors"`
}

// Classify maps a received response to an Error. It returns nil for 2xx.
func Classify(resp *Response) *Error {
	if resp == nil {
		return NewError(KindUnknown, "no response", 0)
	}

	status := resp.StatusCode
	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		return nil
	}

	body := parseErrorBody(resp.Body)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(KindAuth, messageOr(body, "authentication failed"), status)
	case status == http.StatusNotFound:
		return NewError(KindNotFound, messageOr(body, "resource not found"), status)
	case status == http.StatusUnprocessableEntity:
		return NewError(KindValidation, validationSummary(body), status)
	case status == http.StatusTooManyRequests:
		return NewError(KindRateLimit, messageOr(body, "too many requests"), status)
	case status >= constants.HTTPStatusInternalServerError && status <= constants.HTTPStatusMaxServerError:
		return NewError(KindServer, messageOr(body, "server error"), status)
	case status >= constants.HTTPStatusBadRequest && status < constants.HTTPStatusInternalServerError &&
		body != nil && len(body.Errors) > 0:
		return NewError(KindValidation, validationSummary(body), status)
	default:
		return NewError(KindUnknown, fmt.Sprintf("unexpected response status %d", status), status)
	}
}

// ClassifyError maps a transport failure to an Error.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return NewError(KindConnectivity, transportErr.Error(), 0)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindConnectivity, "request timed out", 0)
	}

	if errors.Is(err, context.Canceled) {
		return NewError(KindConnectivity, "request cancelled", 0)
	}

	return NewError(KindUnknown, err.Error(), 0)
}

// AsError converts any error into an *Error. An existing *Error in the
// chain is returned unchanged.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	var fireflyErr *Error
	if errors.As(err, &fireflyErr) {
		return fireflyErr
	}

	return ClassifyError(err)
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAuthError checks if the error is an authentication or authorization error.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsRateLimited checks if the error is a rate limit error.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func newValidationError(format string, args ...interface{}) *Error {
	return NewError(KindValidation, fmt.Sprintf(format, args...), 0)
}

func parseErrorBody(data []byte) *fireflyErrorBody {
	if len(data) == 0 {
		return nil
	}

	var body fireflyErrorBody

	err := json.Unmarshal(data, &body)
	if err != nil {
		return nil
	}

	return &body
}

func messageOr(body *fireflyErrorBody, fallback string) string {
	if body != nil && strings.TrimSpace(body.Message) != "" {
		return strings.TrimSpace(body.Message)
	}

	return fallback
}

// validationSummary renders "field: first message; ..." sorted by field.
func validationSummary(body *fireflyErrorBody) string {
	if body == nil || len(body.Errors) == 0 {
		return messageOr(body, "validation failed")
	}

	fields := make([]string, 0, len(body.Errors))
	for field := range body.Errors {
		fields = append(fields, field)
	}

	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		messages := body.Errors[field]
		if len(messages) == 0 {
			parts = append(parts, field+": invalid")

			continue
		}

		parts = append(parts, field+": "+messages[0])
	}

	return strings.Join(parts, "; ")
}

func truncateMessage(message string) string {
	if len(message) <= constants.MaxErrorMessageLength {
		return message
	}

	cut := constants.MaxErrorMessageLength
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}

	return message[:cut]
}
