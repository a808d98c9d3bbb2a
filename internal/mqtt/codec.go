package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/AaronLay10/SentientLock/internal/channel"
	"github.com/AaronLay10/SentientLock/internal/lock"
)

// SubmitTopic is where peers publish calls for the session sequencer.
func SubmitTopic(sessionID string) string {
	return "sentientlock/" + sessionID + "/submit"
}

// PresenceTopic is where peers announce themselves and heartbeat.
func PresenceTopic(sessionID string) string {
	return "sentientlock/" + sessionID + "/presence"
}

// SubmitPayload represents a v1 call submission.
type SubmitPayload struct {
	Version int          `json:"version"`
	Call    channel.Call `json:"call"`
}

// EncodeSubmit serializes a call for the submit topic.
func EncodeSubmit(call channel.Call) ([]byte, error) {
	return json.Marshal(SubmitPayload{Version: 1, Call: call})
}

// ParseSubmit parses a submission and checks the call is well formed.
func ParseSubmit(data []byte) (*SubmitPayload, error) {
	var payload SubmitPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid submit JSON: %w", err)
	}

	if payload.Version != 1 {
		return nil, fmt.Errorf("unsupported submit version: %d", payload.Version)
	}

	if err := payload.Call.Validate(); err != nil {
		return nil, err
	}

	return &payload, nil
}

// PresencePayload represents a v1 peer announcement or heartbeat.
type PresencePayload struct {
	Version int      `json:"version"`
	Peer    PeerInfo `json:"peer"`
}

// PeerInfo contains peer metadata.
type PeerInfo struct {
	ID           string    `json:"id"`
	Role         lock.Role `json:"role"`
	HeartbeatSec int       `json:"heartbeat_sec"`
	Applied      uint64    `json:"applied"`
	// Leaving announces a clean shutdown.
	Leaving bool `json:"leaving,omitempty"`
}

// EncodePresence serializes a presence message.
func EncodePresence(info PeerInfo) ([]byte, error) {
	return json.Marshal(PresencePayload{Version: 1, Peer: info})
}

// ParsePresence parses a presence payload from JSON bytes.
func ParsePresence(data []byte) (*PresencePayload, error) {
	var payload PresencePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid presence JSON: %w", err)
	}

	if payload.Version != 1 {
		return nil, fmt.Errorf("unsupported presence version: %d", payload.Version)
	}

	if payload.Peer.ID == "" {
		return nil, fmt.Errorf("peer.id is required")
	}

	if !payload.Peer.Role.IsPlayer() {
		return nil, fmt.Errorf("peer %s: %q is not a player role", payload.Peer.ID, payload.Peer.Role)
	}

	return &payload, nil
}
