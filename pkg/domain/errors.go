package domain

import "errors"

// ErrNotFound is returned when a referenced node, connection, subscription or
// client does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidGeometry is returned when a geometry is non-finite, degenerate or
// outside the configured coordinate bounds.
var ErrInvalidGeometry = errors.New("invalid geometry")

// ErrInvalidEndpoint is returned when a connection names a node that is not live.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// ErrDuplicateConnection is returned when an identical connection already exists.
var ErrDuplicateConnection = errors.New("duplicate connection")

// ErrResourceExhausted is returned when a configured limit has been reached.
var ErrResourceExhausted = errors.New("resource exhausted")

// ErrEventsDropped marks a gap in a subscriber's event stream.
var ErrEventsDropped = errors.New("events dropped")

// ErrInvalidRequest is returned for malformed protocol requests.
var ErrInvalidRequest = errors.New("invalid request")

var (
	ErrNotActive          = errors.New("client not active")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrUnknownOp          = errors.New("unknown operation")
	ErrClosed             = errors.New("closed")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "not_found"},
	{ErrInvalidGeometry, "invalid_geometry"},
	{ErrInvalidEndpoint, "invalid_endpoint"},
	{ErrDuplicateConnection, "duplicate_connection"},
	{ErrResourceExhausted, "resource_exhausted"},
	{ErrEventsDropped, "events_dropped"},
	{ErrInvalidRequest, "invalid_request"},
	{ErrNotActive, "not_active"},
	{ErrUnauthorized, "unauthorized"},
	{ErrUnsupportedVersion, "unsupported_version"},
	{ErrUnknownOp, "unknown_op"},
	{ErrClosed, "closed"},
}

// Code maps err to its stable wire code. Nil maps to "ok" and unknown errors to
// "internal".
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
