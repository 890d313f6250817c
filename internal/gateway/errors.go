package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"botwatch/internal/pkg/text"

	"github.com/tidwall/gjson"
)

// Kind classifies a gateway failure. Callers branch on the kind, never on
// message text.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransport covers network errors, timeouts and undecodable bodies.
	KindTransport
	// KindAuth means the bearer credential is missing, invalid or expired.
	KindAuth
	// KindValidation means the request payload was rejected as malformed.
	KindValidation
	// KindBusiness is a server-side refusal; Message carries the literal text.
	KindBusiness
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport_failure"
	case KindAuth:
		return "auth_failure"
	case KindValidation:
		return "validation_failure"
	case KindBusiness:
		return "business_rejection"
	default:
		return "unknown"
	}
}

// ErrNoCredential is wrapped when no bearer token is configured.
var ErrNoCredential = errors.New("missing bearer credential")

// Error is returned by every Client call that fails.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Status > 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind. Context deadline/cancel errors that were
// never wrapped count as transport failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransport
	}
	return KindUnknown
}

// Message returns the human-readable part of err: the server text for
// rejections, otherwise err.Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	var gerr *Error
	if errors.As(err, &gerr) && gerr.Message != "" {
		return gerr.Message
	}
	return err.Error()
}

func IsAuth(err error) bool       { return KindOf(err) == KindAuth }
func IsTransport(err error) bool  { return KindOf(err) == KindTransport }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsBusiness(err error) bool   { return KindOf(err) == KindBusiness }

// NewValidationError builds a client-side validation failure so that local
// schema checks and server 400s surface identically.
func NewValidationError(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindTransport
	default:
		return KindBusiness
	}
}

// serverMessage pulls {error} or {message} out of a response body, falling
// back to the trimmed raw text.
func serverMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if gjson.ValidBytes(body) {
		for _, key := range []string{"error", "message", "detail"} {
			if v := gjson.GetBytes(body, key); v.Exists() && v.Type == gjson.String {
				if s := strings.TrimSpace(v.String()); s != "" {
					return s
				}
			}
		}
	}
	return text.Truncate(strings.TrimSpace(string(body)), 512)
}
