package testutil

import (
	"testing"

	"pinnit-go/internal/encryption"
)

// NewTestSealer returns a Sealer backed by the reversible test encryptor.
func NewTestSealer(t *testing.T) *encryption.Sealer {
	t.Helper()

	enc := encryption.NewTestEncryptor()
	dec, err := enc.Unlock("")
	if err != nil {
		t.Fatalf("failed to unlock test encryptor: %v", err)
	}
	return encryption.NewSealer(enc, dec)
}
