package id

import "github.com/google/uuid"

// Generator creates opaque identifiers.
type Generator interface {
	New() string
}

// UUID generates random RFC 4122 identifiers, used to correlate command
// requests with their responses.
type UUID struct{}

func (UUID) New() string {
	return uuid.NewString()
}
