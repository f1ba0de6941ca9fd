package protocol

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/loomwm/loom/pkg/domain"
)

// State is the lifecycle state of a protocol client.
type State int

const (
	StateConnected State = iota
	StateAuthorized
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthorized:
		return "authorized"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(text []byte) error {
	for st := StateConnected; st <= StateClosed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("%w: unknown client state %q", domain.ErrInvalidRequest, text)
}

// ClientInfo is a snapshot of a connected client.
type ClientInfo struct {
	ID          domain.ClientID `json:"id"`
	Name        string          `json:"name,omitempty"`
	State       State           `json:"state"`
	Trusted     bool            `json:"trusted,omitempty"`
	ConnectedAt time.Time       `json:"connected_at"`
}

type client struct {
	info ClientInfo
}

// Authorizer decides whether a client may proceed past Connected.
type Authorizer interface {
	Authorize(clientName, token string) bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(clientName, token string) bool

func (f AuthorizerFunc) Authorize(clientName, token string) bool { return f(clientName, token) }

// TokenAuthorizer accepts clients presenting a shared token. An empty token
// accepts everyone.
func TokenAuthorizer(token string) Authorizer {
	return AuthorizerFunc(func(_ string, presented string) bool {
		if token == "" {
			return true
		}
		return subtle.ConstantTimeCompare([]byte(token), []byte(presented)) == 1
	})
}
