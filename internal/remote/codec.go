package remote

import (
	"encoding/json"
	"fmt"
	"strings"

	"pinnit-go/internal/encryption"
	"pinnit-go/internal/pinnit"
)

// blobCodec turns a pin collection into the single object stored per
// identity by the blob backends, sealing it when a Sealer is configured.
type blobCodec struct {
	sealer *encryption.Sealer
}

func (c blobCodec) encode(pins []pinnit.Pin) ([]byte, error) {
	if pins == nil {
		pins = []pinnit.Pin{}
	}
	data, err := json.Marshal(pins)
	if err != nil {
		return nil, fmt.Errorf("encoding pins: %w", err)
	}
	if c.sealer == nil {
		return data, nil
	}
	return c.sealer.Seal(data)
}

func (c blobCodec) decode(data []byte) ([]pinnit.Pin, error) {
	if c.sealer != nil {
		opened, err := c.sealer.Open(data)
		if err != nil {
			return nil, err
		}
		data = opened
	}

	var pins []pinnit.Pin
	if err := json.Unmarshal(data, &pins); err != nil {
		return nil, fmt.Errorf("decoding pins: %w", err)
	}
	return pinnit.SortPins(pins), nil
}

// objectName returns the blob name for an identity.
func (c blobCodec) objectName(identityID string) (string, error) {
	if identityID == "" || identityID == "." || identityID == ".." ||
		strings.ContainsAny(identityID, `/\`) {
		return "", fmt.Errorf("invalid identity id %q", identityID)
	}
	if c.sealer != nil {
		return identityID + ".age", nil
	}
	return identityID + ".json", nil
}
