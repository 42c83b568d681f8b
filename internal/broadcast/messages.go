package broadcast

import (
	"encoding/json"
	"time"

	"conto/internal/core"
)

// ChangeMessage wraps a change event with the identity of the client that
// produced it, so consumers can skip their own publications.
type ChangeMessage struct {
	Origin    string           `json:"origin"`
	Change    core.ChangeEvent `json:"change"`
	Timestamp time.Time        `json:"timestamp"`
}

func NewChangeMessage(origin string, change core.ChangeEvent) *ChangeMessage {
	return &ChangeMessage{
		Origin:    origin,
		Change:    change,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON creates a message from JSON bytes
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
