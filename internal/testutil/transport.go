package testutil

import (
	"usm-go/internal/transport"
)

// NewTestTransport creates an in-memory transport for testing.
func NewTestTransport() *transport.MemoryTransport {
	return transport.NewMemoryTransport("test-transport")
}
