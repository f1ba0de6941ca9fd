package domain

import (
	"fmt"
	"strconv"
	"time"
)

// ConnectionID identifies a connection between two nodes.
type ConnectionID uint64

func (id ConnectionID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ConnectionKind classifies what a connection means.
type ConnectionKind string

const (
	ConnectionData      ConnectionKind = "data"
	ConnectionReference ConnectionKind = "reference"
	ConnectionTemporal  ConnectionKind = "temporal"
)

// ParseConnectionKind validates a wire value.
func ParseConnectionKind(s string) (ConnectionKind, error) {
	switch k := ConnectionKind(s); k {
	case ConnectionData, ConnectionReference, ConnectionTemporal:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown connection kind %q", ErrInvalidRequest, s)
}

// Connection is a typed edge between two live nodes.
type Connection struct {
	ID        ConnectionID   `json:"id" yaml:"id"`
	Source    NodeID         `json:"source" yaml:"source"`
	Target    NodeID         `json:"target" yaml:"target"`
	Kind      ConnectionKind `json:"kind" yaml:"kind"`
	Directed  bool           `json:"directed" yaml:"directed"`
	Owner     ClientID       `json:"owner,omitempty" yaml:"owner,omitempty"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
}

// Touches reports whether the connection names id as either endpoint.
func (c Connection) Touches(id NodeID) bool {
	return c.Source == id || c.Target == id
}
