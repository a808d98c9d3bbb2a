package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/AaronLay10/SentientLock/internal/channel"
	"github.com/AaronLay10/SentientLock/internal/events"
)

// Replay applies history to a replica without emitting lock events. Lock
// state is never stored; it is always rebuilt from the call log.
func Replay(r *Runtime, entries []channel.Entry) (int, error) {
	r.SetReplaying(true)
	defer r.SetReplaying(false)

	applied := 0
	for _, e := range entries {
		_, err := r.Apply(e)
		switch {
		case err == nil, errors.Is(err, ErrUnknownPuzzle):
			// An entry for a lock removed from the config still holds its seq.
			applied++
		case errors.Is(err, ErrStaleEntry):
		default:
			return applied, err
		}
	}
	return applied, nil
}

// Restore loads the persisted log and rebuilds the host replica from it.
// It must run before Start and before any call is submitted. Returns the
// number of restored entries.
func (h *Host) Restore(ctx context.Context) (int, error) {
	n, err := h.log.Restore(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore log: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	if _, err := Replay(h.runtime, h.log.Since(1)); err != nil {
		return 0, fmt.Errorf("replay log: %w", err)
	}
	h.applied.advance(h.runtime.Applied())

	EmitSessionRestored(n, h.cfg.Session.ID)
	h.logger.Infow("session restored", "entries", n, "applied", h.runtime.Applied())
	return n, nil
}

// EmitSessionRestored emits the session.restored event.
func EmitSessionRestored(restored int, sessionID string) {
	events.Emit("info", "session.restored", "", map[string]interface{}{
		"restored":   restored,
		"session_id": sessionID,
	})
}
