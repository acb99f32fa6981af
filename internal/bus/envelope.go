package bus

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/phrazzld/imagen-api/internal/domain"
)

// ErrMalformedEnvelope is returned when a wire envelope does not contain
// exactly one session entry.
var ErrMalformedEnvelope = errors.New("malformed event envelope")

// EncodeEnvelope serializes a (session, event) pair as the wire envelope:
// a single-entry object mapping the session id to the tagged event.
func EncodeEnvelope(sessionID domain.SessionID, event domain.Event) (string, error) {
	eventData, err := domain.MarshalEvent(event)
	if err != nil {
		return "", fmt.Errorf("encoding event: %w", err)
	}
	envelope, err := json.Marshal(map[domain.SessionID]json.RawMessage{
		sessionID: eventData,
	})
	if err != nil {
		return "", err
	}
	return string(envelope), nil
}

// DecodeEnvelope parses a wire envelope back into its (session, event)
// pair. Envelopes with zero or more than one entry are rejected.
func DecodeEnvelope(data string) (domain.SessionID, domain.Event, error) {
	var entries map[domain.SessionID]json.RawMessage
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(entries) != 1 {
		return "", nil, fmt.Errorf("%w: expected one entry, got %d", ErrMalformedEnvelope, len(entries))
	}
	for sessionID, eventData := range entries {
		event, err := domain.UnmarshalEvent(eventData)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return sessionID, event, nil
	}
	// Unreachable: the map has exactly one entry.
	return "", nil, ErrMalformedEnvelope
}
