package encryption

import (
	"fmt"

	"pinnit-go/internal/config"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
// It returns nil for "none": remote payloads are then stored as plain JSON.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// NewSealerFromConfig creates and unlocks the configured encryptor.
// It returns nil when encryption is disabled.
func NewSealerFromConfig(cfg config.EncryptionConfig, passphrase string) (*Sealer, error) {
	enc, err := NewEncryptorFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, nil
	}

	if !enc.IsConfigured() {
		return nil, fmt.Errorf("encryption keys not found (run 'pinnit config keys')")
	}

	dec, err := enc.Unlock(passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlocking encryption keys: %w", err)
	}
	return NewSealer(enc, dec), nil
}
