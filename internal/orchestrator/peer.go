package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AaronLay10/SentientLock/internal/channel"
	"github.com/AaronLay10/SentientLock/internal/config"
	"github.com/AaronLay10/SentientLock/internal/events"
	"github.com/AaronLay10/SentientLock/internal/lock"
	"github.com/AaronLay10/SentientLock/internal/logging"
	"github.com/AaronLay10/SentientLock/internal/sequence"
)

// Peer is a player's replica. Input goes through the role gate into the
// log; the replica only changes when entries come back from the log, so
// every peer applies the same calls in the same order.
type Peer struct {
	id      string
	role    lock.Role
	gate    lock.Gate
	log     channel.Log
	runtime *Runtime
	logger  *zap.SugaredLogger
	applied *progress

	caughtUp     chan struct{}
	caughtUpOnce sync.Once
}

// NewPeer builds a peer replica from the shared session config. An empty id
// is replaced by a random one.
func NewPeer(cfg *config.SessionConfig, id string, role lock.Role, log channel.Log, logger *zap.SugaredLogger) (*Peer, error) {
	if !role.IsPlayer() {
		return nil, fmt.Errorf("peer role %q is not a player role", role)
	}
	if id == "" {
		id = uuid.NewString()
	}
	rt, err := NewRuntime(cfg, id)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Peer{
		id:       id,
		role:     role,
		gate:     lock.OperatorGate{},
		log:      log,
		runtime:  rt,
		logger:   logger.With("peer_id", id, "role", role),
		applied:  newProgress(),
		caughtUp: make(chan struct{}),
	}, nil
}

// ID returns the peer id.
func (p *Peer) ID() string {
	return p.id
}

// Role returns the role this peer plays.
func (p *Peer) Role() lock.Role {
	return p.role
}

// Runtime returns the peer replica.
func (p *Peer) Runtime() *Runtime {
	return p.runtime
}

// SetGate replaces the local role gate.
func (p *Peer) SetGate(g lock.Gate) {
	p.gate = g
}

// On attaches a presentation observer to one lock.
func (p *Peer) On(puzzleID string, o lock.Outcome, fn lock.Observer) (*lock.Subscription, error) {
	return p.runtime.On(puzzleID, o, fn)
}

// CaughtUp is closed once the replica has applied every entry that existed
// when Run started.
func (p *Peer) CaughtUp() <-chan struct{} {
	return p.caughtUp
}

// TriggerLeft submits a left trigger.
func (p *Peer) TriggerLeft(ctx context.Context, puzzleID string) error {
	return p.Trigger(ctx, puzzleID, sequence.Left)
}

// TriggerRight submits a right trigger.
func (p *Peer) TriggerRight(ctx context.Context, puzzleID string) error {
	return p.Trigger(ctx, puzzleID, sequence.Right)
}

// TriggerUp submits an up trigger.
func (p *Peer) TriggerUp(ctx context.Context, puzzleID string) error {
	return p.Trigger(ctx, puzzleID, sequence.Up)
}

// TriggerDown submits a down trigger.
func (p *Peer) TriggerDown(ctx context.Context, puzzleID string) error {
	return p.Trigger(ctx, puzzleID, sequence.Down)
}

// Trigger submits a directional token.
func (p *Peer) Trigger(ctx context.Context, puzzleID string, d sequence.Direction) error {
	return p.submit(ctx, puzzleID, lock.ActionTrigger, d)
}

// Check submits a check of the accumulated input.
func (p *Peer) Check(ctx context.Context, puzzleID string) error {
	return p.submit(ctx, puzzleID, lock.ActionCheck, 0)
}

// Close submits a relock of an open lock.
func (p *Peer) Close(ctx context.Context, puzzleID string) error {
	return p.submit(ctx, puzzleID, lock.ActionClose, 0)
}

func (p *Peer) submit(ctx context.Context, puzzleID string, action lock.Action, token sequence.Direction) error {
	m := p.runtime.Lock(puzzleID)
	if m == nil {
		return fmt.Errorf("%w: %s", ErrUnknownPuzzle, puzzleID)
	}
	if !p.gate.Authorized(p.role, m, action) {
		p.logger.Debugw("input dropped by role gate", "puzzle_id", puzzleID, "call", action)
		return lock.ErrUnauthorized
	}

	call := channel.Call{
		ID:       uuid.NewString(),
		PuzzleID: puzzleID,
		Action:   action,
		Token:    token,
		PeerID:   p.id,
		Role:     p.role,
	}
	if _, err := p.log.Append(ctx, call); err != nil && !errors.Is(err, channel.ErrDuplicate) {
		return fmt.Errorf("append %s %s: %w", action, puzzleID, err)
	}
	return nil
}

// Run subscribes from the first unapplied seq and applies entries until ctx
// is cancelled or the log ends. A gap in the stream causes a resubscribe
// from applied+1; entries already applied are skipped.
func (p *Peer) Run(ctx context.Context) error {
	var head uint64
	if h, ok := p.log.(channel.Header); ok {
		n, err := h.Head(ctx)
		if err != nil {
			return fmt.Errorf("read log head: %w", err)
		}
		head = n
	}
	p.checkCaughtUp(head)

	for {
		from := p.runtime.Applied() + 1
		sub, err := p.log.Subscribe(from)
		if err != nil {
			return fmt.Errorf("subscribe from %d: %w", from, err)
		}
		p.logger.Debugw("subscribed", "from", from)

		resubscribe, err := p.consume(ctx, sub, head)
		sub.Cancel()
		if !resubscribe {
			return err
		}
	}
}

// consume applies entries from sub. It returns true when the caller should
// resubscribe after a gap.
func (p *Peer) consume(ctx context.Context, sub *channel.Subscription, head uint64) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case e, ok := <-sub.C():
			if !ok {
				return false, channel.ErrClosed
			}

			outcome, err := p.runtime.Apply(e)
			switch {
			case errors.Is(err, ErrStaleEntry):
				continue
			case errors.Is(err, ErrGap):
				events.Emit("warn", "peer.gap", "", map[string]interface{}{
					"peer_id": p.id,
					"applied": p.runtime.Applied(),
					"seq":     e.Seq,
				})
				p.logger.Warnw("gap in log stream, resubscribing", "applied", p.runtime.Applied(), "seq", e.Seq)
				return true, nil
			case err != nil:
				p.logger.Warnw("apply failed", "seq", e.Seq, "error", err)
			default:
				p.logger.Debugw("applied", "seq", e.Seq, "puzzle_id", e.Call.PuzzleID, "call", e.Call.Action, "outcome", outcome)
			}

			applied := p.runtime.Applied()
			p.applied.advance(applied)
			p.checkCaughtUp(head)
		}
	}
}

func (p *Peer) checkCaughtUp(head uint64) {
	if p.runtime.Applied() < head {
		return
	}
	p.caughtUpOnce.Do(func() {
		close(p.caughtUp)
		events.Emit("info", "peer.caught_up", "", map[string]interface{}{
			"peer_id": p.id,
			"role":    string(p.role),
			"applied": p.runtime.Applied(),
		})
	})
}

// WaitApplied blocks until the peer replica has applied seq.
func (p *Peer) WaitApplied(ctx context.Context, seq uint64) error {
	return p.applied.wait(ctx, seq)
}
