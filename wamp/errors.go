package wamp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Standard WAMP error URIs returned by the chat backend.
const (
	ErrURINotAuthorized       = "wamp.error.not_authorized"
	ErrURIAuthorizationFailed = "wamp.error.authorization_failed"
	ErrURINoSuchProcedure     = "wamp.error.no_such_procedure"
	ErrURINoSuchSubscription  = "wamp.error.no_such_subscription"
)

// Error is a structured ERROR response from the router. Callers extract it
// with errors.As:
//
//	var wampErr *wamp.Error
//	if errors.As(err, &wampErr) {
//	    if wampErr.URI == wamp.ErrURINotAuthorized { ... }
//	}
type Error struct {
	// URI is the WAMP error URI (e.g. "wamp.error.authorization_failed").
	URI string
	// Details is the raw details dictionary from the ERROR message.
	Details json.RawMessage
	// Args are the raw positional error arguments, if any.
	Args []json.RawMessage
}

func (e *Error) Error() string {
	return fmt.Sprintf("wamp: %s", e.URI)
}

// Is lets errors.Is match two wamp errors by URI.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.URI == other.URI
	}
	return false
}

// IsAuthorizationFailed reports whether err is a WAMP error carrying the
// authorization-failed URI, the signal that the session credential was
// rejected mid-flight. The outbound message queue treats this as retryable.
func IsAuthorizationFailed(err error) bool {
	var wampErr *Error
	if errors.As(err, &wampErr) {
		return wampErr.URI == ErrURIAuthorizationFailed
	}
	return false
}

// Session state errors.
var (
	ErrNotAuthenticated = errors.New("wamp: session not authenticated")
	ErrSessionClosed    = errors.New("wamp: session closed")
)
