package channel

import (
	"fmt"
	"time"

	"github.com/AaronLay10/SentientLock/internal/lock"
	"github.com/AaronLay10/SentientLock/internal/sequence"
)

// Call is one lock operation broadcast by a peer.
type Call struct {
	ID       string             `json:"id"`
	PuzzleID string             `json:"puzzle_id"`
	Action   lock.Action        `json:"call"`
	Token    sequence.Direction `json:"token,omitempty"`
	PeerID   string             `json:"peer_id,omitempty"`
	Role     lock.Role          `json:"role,omitempty"`
}

// Validate checks the call is well formed. It does not check authorization.
func (c Call) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("call id is required")
	}
	if c.PuzzleID == "" {
		return fmt.Errorf("puzzle_id is required")
	}
	if !c.Action.IsValid() {
		return fmt.Errorf("unknown call: %q", c.Action)
	}
	if c.Action == lock.ActionTrigger && !c.Token.IsValid() {
		return fmt.Errorf("trigger requires a direction token")
	}
	return nil
}

// Entry is a call stamped with its position in the session's total order.
// Seq starts at 1 and has no gaps.
type Entry struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Call      Call      `json:"call"`
}
