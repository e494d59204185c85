package testutil

import (
	"usm-go/internal/encryption"
	"usm-go/internal/usm"
)

// NewTestEncryptor creates a deterministic encryptor for testing.
func NewTestEncryptor() usm.Encryptor {
	return encryption.NewTestEncryptor()
}
