package encryption

import (
	"bytes"
	"fmt"
	"io"
)

// Encryptor seals remote pin payloads with a key pair kept on the device.
type Encryptor interface {
	// Setup generates a new key pair. An empty passphrase stores the private
	// key unprotected so background syncs can run without a prompt.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	// Only the public key is needed.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock loads the private key and returns a context that can decrypt.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether the key pair exists.
	IsConfigured() bool

	// NeedsPassphrase reports whether Unlock requires a non-empty passphrase.
	NeedsPassphrase() bool
}

// DecryptionContext holds an unlocked private key.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}

// Sealer pairs an Encryptor with an unlocked DecryptionContext so whole
// payloads can be sealed and opened without further prompts.
type Sealer struct {
	enc Encryptor
	dec DecryptionContext
}

// NewSealer creates a Sealer.
func NewSealer(enc Encryptor, dec DecryptionContext) *Sealer {
	return &Sealer{enc: enc, dec: dec}
}

// Seal encrypts plain.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.enc.Encrypt(bytes.NewReader(plain), &buf); err != nil {
		return nil, fmt.Errorf("sealing payload: %w", err)
	}
	return buf.Bytes(), nil
}

// Open decrypts a payload produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.dec.Decrypt(bytes.NewReader(sealed), &buf); err != nil {
		return nil, fmt.Errorf("opening payload: %w", err)
	}
	return buf.Bytes(), nil
}
