package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AaronLay10/SentientLock/internal/channel"
	"github.com/AaronLay10/SentientLock/internal/config"
	"github.com/AaronLay10/SentientLock/internal/events"
	"github.com/AaronLay10/SentientLock/internal/lock"
	"github.com/AaronLay10/SentientLock/internal/logging"
)

// ErrInvalidCall wraps malformed calls rejected by the sequencer.
var ErrInvalidCall = errors.New("orchestrator: invalid call")

// HostStats are running counters exported as metrics.
type HostStats struct {
	Appended   uint64
	Rejected   uint64
	Duplicates uint64
	Applied    uint64
	Head       uint64
}

// Host is the session sequencer. It gates and appends calls to the log and
// applies the log to its own replica of every lock.
type Host struct {
	cfg     *config.SessionConfig
	log     *channel.MemoryLog
	runtime *Runtime
	gate    lock.Gate
	logger  *zap.SugaredLogger
	applied *progress

	appended   atomic.Uint64
	rejected   atomic.Uint64
	duplicates atomic.Uint64

	mu   sync.Mutex
	sub  *channel.Subscription
	done chan struct{}
}

// NewHost builds the host replica and an empty log. store may be nil, in
// which case the log lives in memory only.
func NewHost(cfg *config.SessionConfig, store channel.Store, logger *zap.SugaredLogger) (*Host, error) {
	rt, err := NewRuntime(cfg, "host")
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Host{
		cfg:     cfg,
		log:     channel.NewMemoryLog(cfg.Session.ID, store),
		runtime: rt,
		gate:    lock.OperatorGate{},
		logger:  logger,
		applied: newProgress(),
	}, nil
}

// SetGate replaces the role gate applied when sequencing.
func (h *Host) SetGate(g lock.Gate) {
	h.gate = g
}

// Log returns the sequencer log peers subscribe to.
func (h *Host) Log() *channel.MemoryLog {
	return h.log
}

// Runtime returns the host replica.
func (h *Host) Runtime() *Runtime {
	return h.runtime
}

// SessionID returns the session id.
func (h *Host) SessionID() string {
	return h.cfg.Session.ID
}

// Start runs the host apply loop until ctx is cancelled or the log closes.
// Restore, if used, must be called first.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.sub != nil {
		h.mu.Unlock()
		return fmt.Errorf("host already started")
	}
	sub, err := h.log.Subscribe(h.runtime.Applied() + 1)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.sub = sub
	h.done = make(chan struct{})
	h.mu.Unlock()

	events.Emit("info", "session.started", "", map[string]interface{}{
		"session_id": h.cfg.Session.ID,
		"puzzles":    len(h.cfg.Puzzles),
		"applied":    h.runtime.Applied(),
	})

	go h.loop(ctx, sub)
	return nil
}

func (h *Host) loop(ctx context.Context, sub *channel.Subscription) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			sub.Cancel()
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			h.apply(e)
		}
	}
}

func (h *Host) apply(e channel.Entry) {
	outcome, err := h.runtime.Apply(e)
	switch {
	case errors.Is(err, ErrStaleEntry):
		return
	case err != nil:
		h.logger.Warnw("apply failed", "seq", e.Seq, "error", err)
	default:
		h.logger.Debugw("applied", "seq", e.Seq, "puzzle_id", e.Call.PuzzleID, "call", e.Call.Action, "outcome", outcome)
	}
	h.applied.advance(h.runtime.Applied())
}

// Submit gates and appends a player call. A repeated call id returns the
// originally stamped entry together with channel.ErrDuplicate, so
// redelivered calls are harmless.
func (h *Host) Submit(ctx context.Context, call channel.Call) (channel.Entry, error) {
	if err := call.Validate(); err != nil {
		h.reject(call, "invalid", err)
		return channel.Entry{}, fmt.Errorf("%w: %v", ErrInvalidCall, err)
	}

	m := h.runtime.Lock(call.PuzzleID)
	if m == nil {
		h.reject(call, "unknown_puzzle", nil)
		return channel.Entry{}, fmt.Errorf("%w: %s", ErrUnknownPuzzle, call.PuzzleID)
	}
	if !h.gate.Authorized(call.Role, m, call.Action) {
		h.reject(call, "unauthorized", nil)
		return channel.Entry{}, lock.ErrUnauthorized
	}

	return h.append(ctx, call)
}

// Override opens a lock on behalf of an authenticated operator. It is
// sequenced like any other call so every replica unlocks at the same seq.
func (h *Host) Override(ctx context.Context, puzzleID, operator string) (channel.Entry, error) {
	return h.operatorCall(ctx, puzzleID, operator, lock.ActionOverride, "operator.override")
}

// CloseLock relocks an open lock on behalf of an authenticated operator.
func (h *Host) CloseLock(ctx context.Context, puzzleID, operator string) (channel.Entry, error) {
	return h.operatorCall(ctx, puzzleID, operator, lock.ActionClose, "operator.close")
}

func (h *Host) operatorCall(ctx context.Context, puzzleID, operator string, action lock.Action, event string) (channel.Entry, error) {
	if h.runtime.Lock(puzzleID) == nil {
		return channel.Entry{}, fmt.Errorf("%w: %s", ErrUnknownPuzzle, puzzleID)
	}
	call := channel.Call{
		ID:       uuid.NewString(),
		PuzzleID: puzzleID,
		Action:   action,
		PeerID:   "operator:" + operator,
		Role:     lock.RoleNone,
	}
	e, err := h.append(ctx, call)
	if err != nil {
		return e, err
	}
	events.Emit("info", event, "", map[string]interface{}{
		"session_id": h.cfg.Session.ID,
		"puzzle_id":  puzzleID,
		"operator":   operator,
		"seq":        e.Seq,
	})
	return e, nil
}

func (h *Host) append(ctx context.Context, call channel.Call) (channel.Entry, error) {
	e, err := h.log.Append(ctx, call)
	switch {
	case errors.Is(err, channel.ErrDuplicate):
		h.duplicates.Add(1)
		h.logger.Debugw("duplicate call", "call_id", call.ID, "seq", e.Seq)
		return e, err
	case err != nil:
		h.reject(call, "append_failed", err)
		return e, err
	}

	h.appended.Add(1)
	events.Emit("info", "call.appended", "", map[string]interface{}{
		"session_id": h.cfg.Session.ID,
		"seq":        e.Seq,
		"call_id":    call.ID,
		"puzzle_id":  call.PuzzleID,
		"call":       string(call.Action),
		"peer_id":    call.PeerID,
		"role":       string(call.Role),
	})
	return e, nil
}

func (h *Host) reject(call channel.Call, reason string, err error) {
	h.rejected.Add(1)
	fields := map[string]interface{}{
		"session_id": h.cfg.Session.ID,
		"call_id":    call.ID,
		"puzzle_id":  call.PuzzleID,
		"call":       string(call.Action),
		"peer_id":    call.PeerID,
		"role":       string(call.Role),
		"reason":     reason,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	events.Emit("warn", "call.rejected", "", fields)
	h.logger.Debugw("call rejected", "reason", reason, "call_id", call.ID, "error", err)
}

// WaitApplied blocks until the host replica has applied seq.
func (h *Host) WaitApplied(ctx context.Context, seq uint64) error {
	return h.applied.wait(ctx, seq)
}

// Stats returns the current counters.
func (h *Host) Stats() HostStats {
	return HostStats{
		Appended:   h.appended.Load(),
		Rejected:   h.rejected.Load(),
		Duplicates: h.duplicates.Load(),
		Applied:    h.runtime.Applied(),
		Head:       h.log.Len(),
	}
}

// Shutdown closes the log, ending every subscription once drained, and
// waits for the apply loop to finish.
func (h *Host) Shutdown(ctx context.Context) error {
	if err := h.log.Close(); err != nil {
		return err
	}
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
