// Package lock implements the directional-sequence lock: a deterministic state
// machine that every peer runs on the same ordered stream of calls.
package lock

import (
	"sort"

	"github.com/zyedidia/generic/mapset"

	"github.com/AaronLay10/SentientLock/internal/sequence"
)

// Machine is one lock instance. It is not safe for concurrent use; each
// replica drives its machines from a single apply loop.
type Machine struct {
	id         string
	target     []sequence.Direction
	current    []sequence.Direction
	unlocked   bool
	operators  mapset.Set[Role]
	dispatcher *Dispatcher
}

// NewMachine creates a locked machine. target is copied and never changes.
// A nil dispatcher is replaced by an empty one.
func NewMachine(id string, target []sequence.Direction, operators []Role, dispatcher *Dispatcher) *Machine {
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}
	ops := mapset.New[Role]()
	for _, r := range operators {
		ops.Put(r)
	}
	return &Machine{
		id:         id,
		target:     append([]sequence.Direction(nil), target...),
		current:    make([]sequence.Direction, 0, len(target)),
		operators:  ops,
		dispatcher: dispatcher,
	}
}

// ID returns the lock identifier.
func (m *Machine) ID() string {
	return m.id
}

// Dispatcher returns the outcome dispatcher this machine notifies.
func (m *Machine) Dispatcher() *Dispatcher {
	return m.dispatcher
}

// Target returns a copy of the unlock code.
func (m *Machine) Target() []sequence.Direction {
	return append([]sequence.Direction(nil), m.target...)
}

// Current returns a copy of the accumulated input.
func (m *Machine) Current() []sequence.Direction {
	return append([]sequence.Direction(nil), m.current...)
}

// IsUnlocked reports whether the lock is open.
func (m *Machine) IsUnlocked() bool {
	return m.unlocked
}

// HasOperator reports whether role is designated to drive this lock.
func (m *Machine) HasOperator(role Role) bool {
	return m.operators.Has(role)
}

// Operators returns the designated roles in name order.
func (m *Machine) Operators() []Role {
	out := make([]Role, 0, m.operators.Size())
	m.operators.Each(func(r Role) {
		out = append(out, r)
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// State derives the current lifecycle state.
func (m *Machine) State() State {
	switch {
	case m.unlocked:
		return StateUnlocked
	case len(m.current) == 0:
		return StateEmpty
	case len(m.current) < len(m.target):
		return StateAccumulating
	default:
		return StateFull
	}
}

// ApplyTrigger appends token while the lock is locked and not yet full.
// Triggers arriving when full or unlocked are dropped.
func (m *Machine) ApplyTrigger(token sequence.Direction) Outcome {
	if m.unlocked || len(m.current) >= len(m.target) {
		return OutcomeNone
	}
	m.current = append(m.current, token)
	return m.emit(OutcomeEntryAccepted)
}

// Check compares the accumulated input with the target and clears it.
// A premature check is a failure. Check is a no-op while unlocked.
func (m *Machine) Check() Outcome {
	if m.unlocked {
		return OutcomeNone
	}
	matched := m.matches()
	m.current = m.current[:0]
	if !matched {
		return m.emit(OutcomeFailure)
	}
	m.unlocked = true
	return m.emit(OutcomeSuccess)
}

// Close re-locks an unlocked lock. No-op while locked.
func (m *Machine) Close() Outcome {
	if !m.unlocked {
		return OutcomeNone
	}
	m.unlocked = false
	m.current = m.current[:0]
	return m.emit(OutcomeClosed)
}

// Override unlocks without a check. No-op while unlocked.
func (m *Machine) Override() Outcome {
	if m.unlocked {
		return OutcomeNone
	}
	m.current = m.current[:0]
	m.unlocked = true
	return m.emit(OutcomeSuccess)
}

// Apply routes an action to the matching operation. Unknown actions and
// invalid trigger tokens are no-ops.
func (m *Machine) Apply(action Action, token sequence.Direction) Outcome {
	switch action {
	case ActionTrigger:
		if !token.IsValid() {
			return OutcomeNone
		}
		return m.ApplyTrigger(token)
	case ActionCheck:
		return m.Check()
	case ActionClose:
		return m.Close()
	case ActionOverride:
		return m.Override()
	default:
		return OutcomeNone
	}
}

func (m *Machine) matches() bool {
	if len(m.current) != len(m.target) {
		return false
	}
	for i := range m.target {
		if m.current[i] != m.target[i] {
			return false
		}
	}
	return true
}

func (m *Machine) emit(o Outcome) Outcome {
	m.dispatcher.Dispatch(o)
	return o
}
