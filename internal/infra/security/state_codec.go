package security

import (
	"bytes"
	"encoding/json"
	"fmt"

	"incident-assistant/internal/domain/model"
)

// StateCodec serializes SessionState for the stores. With an EncryptionService
// the JSON is sealed with AES-GCM; without one it is stored as plain JSON.
type StateCodec struct {
	enc *EncryptionService
}

// NewStateCodec returns a codec; an empty key disables encryption.
func NewStateCodec(key string) (*StateCodec, error) {
	if key == "" {
		return &StateCodec{}, nil
	}
	enc, err := NewEncryptionService(key)
	if err != nil {
		return nil, err
	}
	return &StateCodec{enc: enc}, nil
}

func (c *StateCodec) Encrypted() bool { return c != nil && c.enc != nil }

func (c *StateCodec) Encode(s *model.SessionState) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session state: %w", err)
	}
	if !c.Encrypted() {
		return data, nil
	}
	sealed, err := c.enc.Encrypt(string(data))
	if err != nil {
		return nil, fmt.Errorf("encrypt session state: %w", err)
	}
	return []byte(sealed), nil
}

// Decode accepts sealed records and, so that encryption can be switched on for an
// existing store, plain JSON records as well.
func (c *StateCodec) Decode(data []byte) (*model.SessionState, error) {
	raw := bytes.TrimSpace(data)
	if c.Encrypted() && !bytes.HasPrefix(raw, []byte("{")) {
		plain, err := c.enc.Decrypt(string(raw))
		if err != nil {
			return nil, fmt.Errorf("decrypt session state: %w", err)
		}
		raw = []byte(plain)
	}
	var s model.SessionState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}
	return &s, nil
}
