package orchestrator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/AaronLay10/SentientLock/internal/channel"
	"github.com/AaronLay10/SentientLock/internal/config"
	"github.com/AaronLay10/SentientLock/internal/events"
	"github.com/AaronLay10/SentientLock/internal/lock"
	"github.com/AaronLay10/SentientLock/internal/sequence"
)

var (
	// ErrUnknownPuzzle is returned for calls naming a lock the session does not have.
	ErrUnknownPuzzle = errors.New("orchestrator: unknown puzzle")
	// ErrStaleEntry is returned for an entry at or below the applied seq.
	ErrStaleEntry = errors.New("orchestrator: entry already applied")
	// ErrGap is returned for an entry that skips past applied+1.
	ErrGap = errors.New("orchestrator: entry out of order")
)

// Runtime is one replica of a session's locks. Entries must be applied in
// seq order from a single goroutine.
type Runtime struct {
	sessionID string
	source    string

	// locks and order never change after NewRuntime.
	locks map[string]*lock.Machine
	order []string

	mu        sync.RWMutex
	resolved  map[string]Resolution
	applied   uint64
	current   channel.Entry
	replaying bool
}

// NewRuntime builds every lock of the session. Codes are derived from the
// session seed per puzzle unless the puzzle pins its own seed, so every
// replica built from the same config holds the same targets. source names
// the replica in emitted events.
func NewRuntime(cfg *config.SessionConfig, source string) (*Runtime, error) {
	r := &Runtime{
		sessionID: cfg.Session.ID,
		source:    source,
		locks:     make(map[string]*lock.Machine, len(cfg.Puzzles)),
		resolved:  make(map[string]Resolution, len(cfg.Puzzles)),
	}

	for _, p := range cfg.Puzzles {
		seed := sequence.PuzzleSeed(cfg.Session.Seed, p.ID)
		if p.Seed != nil {
			seed = *p.Seed
		}
		target, err := sequence.Generate(p.Length, sequence.AllDirections(), seed)
		if err != nil {
			return nil, fmt.Errorf("puzzle %s: %w", p.ID, err)
		}

		m := lock.NewMachine(p.ID, target, p.Operators, nil)
		r.locks[p.ID] = m
		r.order = append(r.order, p.ID)
		r.resolved[p.ID] = ResolutionUnresolved
		r.attach(m)

		r.emitEvent("lock.created", map[string]interface{}{
			"puzzle_id": p.ID,
			"length":    p.Length,
			"operators": m.Operators(),
		})
	}

	return r, nil
}

// attach registers the replica's own observers ahead of any presentation
// observer, so resolution is updated before they run.
func (r *Runtime) attach(m *lock.Machine) {
	id := m.ID()
	d := m.Dispatcher()

	d.OnEntry(func() {
		r.emitLock("lock.entry_accepted", m)
	})
	d.OnSuccess(func() {
		if r.current.Call.Action == lock.ActionOverride {
			r.resolved[id] = ResolutionOverridden
			r.emitLock("lock.overridden", m)
			return
		}
		r.resolved[id] = ResolutionSolved
		r.emitLock("lock.solved", m)
	})
	d.OnError(func() {
		r.emitLock("lock.failed", m)
	})
	d.OnClose(func() {
		r.resolved[id] = ResolutionUnresolved
		r.emitLock("lock.closed", m)
	})
}

// Apply feeds one log entry to its lock. Entries at or below the applied
// seq return ErrStaleEntry and change nothing; an entry past applied+1
// returns ErrGap and changes nothing. An entry for an unknown puzzle still
// advances the applied seq and returns ErrUnknownPuzzle.
//
// Observers run inside Apply on the caller's goroutine. They may read their
// machine but must not call back into the Runtime.
func (r *Runtime) Apply(e channel.Entry) (lock.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case e.Seq <= r.applied:
		return lock.OutcomeNone, ErrStaleEntry
	case e.Seq > r.applied+1:
		return lock.OutcomeNone, fmt.Errorf("%w: applied %d, got %d", ErrGap, r.applied, e.Seq)
	}
	r.applied = e.Seq

	m, ok := r.locks[e.Call.PuzzleID]
	if !ok {
		return lock.OutcomeNone, fmt.Errorf("%w: %s (seq %d)", ErrUnknownPuzzle, e.Call.PuzzleID, e.Seq)
	}

	r.current = e
	defer func() { r.current = channel.Entry{} }()
	return m.Apply(e.Call.Action, e.Call.Token), nil
}

// SetReplaying mutes lock events while history is re-applied after a
// restart; the events were emitted when the entries were first applied.
func (r *Runtime) SetReplaying(on bool) {
	r.mu.Lock()
	r.replaying = on
	r.mu.Unlock()
}

// Applied returns the seq of the last applied entry.
func (r *Runtime) Applied() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.applied
}

// SessionID returns the session this replica belongs to.
func (r *Runtime) SessionID() string {
	return r.sessionID
}

// Lock returns the machine with the given id, or nil. The machine must only
// be driven through Apply.
func (r *Runtime) Lock(id string) *lock.Machine {
	return r.locks[id]
}

// PuzzleIDs returns lock ids in configuration order.
func (r *Runtime) PuzzleIDs() []string {
	return append([]string(nil), r.order...)
}

// On attaches a presentation observer to one lock.
func (r *Runtime) On(puzzleID string, o lock.Outcome, fn lock.Observer) (*lock.Subscription, error) {
	m := r.locks[puzzleID]
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPuzzle, puzzleID)
	}
	return m.Dispatcher().On(o, fn), nil
}

// Status returns a view of one lock. Target is included only when
// withTarget is set.
func (r *Runtime) Status(id string, withTarget bool) (LockStatus, bool) {
	m := r.locks[id]
	if m == nil {
		return LockStatus{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status(m, withTarget), true
}

// Snapshot returns every lock in configuration order.
func (r *Runtime) Snapshot(withTarget bool) []LockStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LockStatus, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.status(r.locks[id], withTarget))
	}
	return out
}

func (r *Runtime) status(m *lock.Machine, withTarget bool) LockStatus {
	s := LockStatus{
		ID:         m.ID(),
		State:      m.State(),
		Resolution: r.resolved[m.ID()],
		Length:     len(m.Target()),
		Current:    m.Current(),
		Operators:  m.Operators(),
	}
	if withTarget {
		s.Target = m.Target()
	}
	return s
}

// GetResolution returns how a lock was last opened (for testing).
func (r *Runtime) GetResolution(id string) Resolution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if res, ok := r.resolved[id]; ok {
		return res
	}
	return ResolutionUnresolved
}

// emitLock is only called from observers, with r.mu held by Apply.
func (r *Runtime) emitLock(name string, m *lock.Machine) {
	if r.replaying {
		return
	}
	fields := map[string]interface{}{
		"puzzle_id": m.ID(),
		"state":     string(m.State()),
		"entered":   len(m.Current()),
		"seq":       r.current.Seq,
		"call":      string(r.current.Call.Action),
	}
	if r.current.Call.PeerID != "" {
		fields["peer_id"] = r.current.Call.PeerID
	}
	if r.current.Call.Role != "" {
		fields["role"] = string(r.current.Call.Role)
	}
	r.emitEvent(name, fields)
}

func (r *Runtime) emitEvent(name string, fields map[string]interface{}) {
	fields["session_id"] = r.sessionID
	fields["replica"] = r.source
	events.Emit("info", name, "", fields)
}
