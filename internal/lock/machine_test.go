package lock

import (
	"slices"
	"testing"

	"pgregory.net/rapid"

	"github.com/AaronLay10/SentientLock/internal/sequence"
)

var (
	left  = sequence.Left
	right = sequence.Right
	up    = sequence.Up
	down  = sequence.Down
)

// recorder counts dispatched outcomes in order.
type recorder struct {
	got []Outcome
}

func attachRecorder(d *Dispatcher) *recorder {
	r := &recorder{}
	for _, o := range []Outcome{OutcomeEntryAccepted, OutcomeSuccess, OutcomeFailure, OutcomeClosed} {
		o := o
		d.On(o, func() { r.got = append(r.got, o) })
	}
	return r
}

func newTestMachine(target ...sequence.Direction) (*Machine, *recorder) {
	d := NewDispatcher()
	rec := attachRecorder(d)
	return NewMachine("door_a", target, []Role{RoleSecurityGuard}, d), rec
}

func TestScenarioSuccessThenClose(t *testing.T) {
	m, rec := newTestMachine(left, up, right)

	if m.State() != StateEmpty {
		t.Fatalf("expected initial state %s, got %s", StateEmpty, m.State())
	}

	m.ApplyTrigger(left)
	if m.State() != StateAccumulating {
		t.Errorf("expected %s after one trigger, got %s", StateAccumulating, m.State())
	}
	m.ApplyTrigger(up)
	m.ApplyTrigger(right)
	if m.State() != StateFull {
		t.Errorf("expected %s after three triggers, got %s", StateFull, m.State())
	}

	if got := m.Check(); got != OutcomeSuccess {
		t.Fatalf("expected success, got %s", got)
	}
	if m.State() != StateUnlocked {
		t.Errorf("expected unlocked, got %s", m.State())
	}
	if len(m.Current()) != 0 {
		t.Errorf("expected current cleared after check, got %v", m.Current())
	}

	if got := m.Close(); got != OutcomeClosed {
		t.Fatalf("expected closed, got %s", got)
	}
	if m.State() != StateEmpty {
		t.Errorf("expected %s after close, got %s", StateEmpty, m.State())
	}

	want := []Outcome{OutcomeEntryAccepted, OutcomeEntryAccepted, OutcomeEntryAccepted, OutcomeSuccess, OutcomeClosed}
	if len(rec.got) != len(want) {
		t.Fatalf("expected outcomes %v, got %v", want, rec.got)
	}
	for i := range want {
		if rec.got[i] != want[i] {
			t.Errorf("outcome %d: expected %s, got %s", i, want[i], rec.got[i])
		}
	}
}

func TestScenarioWrongOrderFails(t *testing.T) {
	m, rec := newTestMachine(left, up, right)

	m.ApplyTrigger(left)
	m.ApplyTrigger(right)
	m.ApplyTrigger(up)

	if got := m.Check(); got != OutcomeFailure {
		t.Fatalf("expected failure, got %s", got)
	}
	if m.State() != StateEmpty {
		t.Errorf("expected %s after failure, got %s", StateEmpty, m.State())
	}
	if len(m.Current()) != 0 {
		t.Errorf("expected empty current, got %v", m.Current())
	}
	if rec.got[len(rec.got)-1] != OutcomeFailure {
		t.Errorf("expected last dispatched outcome failure, got %v", rec.got)
	}
}

func TestScenarioExcessTriggersDropped(t *testing.T) {
	m, rec := newTestMachine(left, up, right)

	for _, d := range []sequence.Direction{left, up, right, down, down} {
		m.ApplyTrigger(d)
	}

	if got := len(m.Current()); got != 3 {
		t.Fatalf("expected 3 retained tokens, got %d", got)
	}
	if len(rec.got) != 3 {
		t.Errorf("expected 3 entry outcomes, got %d", len(rec.got))
	}
	if got := m.Check(); got != OutcomeSuccess {
		t.Errorf("expected check over first three tokens to succeed, got %s", got)
	}
}

func TestPrematureCheckFails(t *testing.T) {
	m, _ := newTestMachine(left, up, right)
	m.ApplyTrigger(left)
	m.ApplyTrigger(up)

	if got := m.Check(); got != OutcomeFailure {
		t.Fatalf("expected failure on premature check, got %s", got)
	}
	if m.State() != StateEmpty {
		t.Errorf("expected %s, got %s", StateEmpty, m.State())
	}

	if got := m.Check(); got != OutcomeFailure {
		t.Errorf("expected failure on empty check, got %s", got)
	}
}

func TestUnlockedIgnoresTriggersAndChecks(t *testing.T) {
	m, rec := newTestMachine(left)
	m.ApplyTrigger(left)
	m.Check()
	before := len(rec.got)

	if got := m.ApplyTrigger(up); got != OutcomeNone {
		t.Errorf("expected trigger ignored while unlocked, got %s", got)
	}
	if got := m.Check(); got != OutcomeNone {
		t.Errorf("expected check ignored while unlocked, got %s", got)
	}
	if got := m.Override(); got != OutcomeNone {
		t.Errorf("expected override ignored while unlocked, got %s", got)
	}
	if len(rec.got) != before {
		t.Errorf("expected no outcomes while unlocked, got %v", rec.got[before:])
	}
	if !m.IsUnlocked() {
		t.Error("expected lock to stay unlocked")
	}
}

func TestCloseWhileLockedIsNoop(t *testing.T) {
	m, rec := newTestMachine(left, up)
	m.ApplyTrigger(left)

	if got := m.Close(); got != OutcomeNone {
		t.Errorf("expected no-op close, got %s", got)
	}
	if m.State() != StateAccumulating {
		t.Errorf("expected state unchanged, got %s", m.State())
	}
	if len(m.Current()) != 1 {
		t.Errorf("expected current unchanged, got %v", m.Current())
	}
	if len(rec.got) != 1 {
		t.Errorf("expected only the entry outcome, got %v", rec.got)
	}
}

func TestOverrideUnlocks(t *testing.T) {
	m, rec := newTestMachine(left, up)
	m.ApplyTrigger(down)

	if got := m.Override(); got != OutcomeSuccess {
		t.Fatalf("expected success, got %s", got)
	}
	if m.State() != StateUnlocked || len(m.Current()) != 0 {
		t.Errorf("expected unlocked and empty, got %s %v", m.State(), m.Current())
	}
	if rec.got[len(rec.got)-1] != OutcomeSuccess {
		t.Errorf("expected success dispatched, got %v", rec.got)
	}
}

func TestApplyRoutesActions(t *testing.T) {
	m, _ := newTestMachine(up)

	if got := m.Apply(ActionTrigger, 0); got != OutcomeNone {
		t.Errorf("expected invalid token ignored, got %s", got)
	}
	if got := m.Apply(Action("explode"), up); got != OutcomeNone {
		t.Errorf("expected unknown action ignored, got %s", got)
	}
	if got := m.Apply(ActionTrigger, up); got != OutcomeEntryAccepted {
		t.Errorf("expected entry accepted, got %s", got)
	}
	if got := m.Apply(ActionCheck, 0); got != OutcomeSuccess {
		t.Errorf("expected success, got %s", got)
	}
	if got := m.Apply(ActionClose, 0); got != OutcomeClosed {
		t.Errorf("expected closed, got %s", got)
	}
}

func TestTargetIsCopied(t *testing.T) {
	target := []sequence.Direction{left, up}
	m, _ := newTestMachine(target...)
	target[0] = down

	got := m.Target()
	if got[0] != left {
		t.Errorf("expected target to be isolated from caller, got %v", got)
	}
	got[1] = down
	if m.Target()[1] != up {
		t.Error("expected Target to return a copy")
	}
}

func drawDirections(t *rapid.T, label string, min, max int) []sequence.Direction {
	return rapid.SliceOfN(rapid.SampledFrom(sequence.AllDirections()), min, max).Draw(t, label)
}

func TestPropertyDeterminism(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		target := drawDirections(t, "target", 1, 8)
		inputs := drawDirections(t, "inputs", 0, 16)

		run := func() (Outcome, State, []Outcome) {
			m, rec := newTestMachine(target...)
			for _, d := range inputs {
				m.ApplyTrigger(d)
			}
			o := m.Check()
			return o, m.State(), rec.got
		}

		o1, s1, r1 := run()
		o2, s2, r2 := run()
		if o1 != o2 || s1 != s2 || len(r1) != len(r2) {
			t.Fatalf("replays diverged: %s/%s vs %s/%s", o1, s1, o2, s2)
		}
	})
}

func TestPropertyCapacityBound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		target := drawDirections(t, "target", 1, 8)
		inputs := drawDirections(t, "inputs", len(target)+1, len(target)+20)

		m, _ := newTestMachine(target...)
		for _, d := range inputs {
			m.ApplyTrigger(d)
			if len(m.Current()) > len(target) {
				t.Fatalf("current length %d exceeds target %d", len(m.Current()), len(target))
			}
		}
		if len(m.Current()) != len(target) {
			t.Fatalf("expected full lock, got %d of %d", len(m.Current()), len(target))
		}
	})
}

func TestPropertyRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		target := drawDirections(t, "target", 2, 8)

		m, _ := newTestMachine(target...)
		for _, d := range target {
			m.ApplyTrigger(d)
		}
		if got := m.Check(); got != OutcomeSuccess {
			t.Fatalf("exact target: expected success, got %s", got)
		}

		i := rapid.IntRange(0, len(target)-2).Draw(t, "i")
		j := rapid.IntRange(i+1, len(target)-1).Draw(t, "j")
		swapped := append([]sequence.Direction(nil), target...)
		swapped[i], swapped[j] = swapped[j], swapped[i]
		if swapped[i] == swapped[j] {
			// Swapping equal tokens yields the same sequence.
			return
		}

		m2, _ := newTestMachine(target...)
		for _, d := range swapped {
			m2.ApplyTrigger(d)
		}
		if got := m2.Check(); got != OutcomeFailure {
			t.Fatalf("swapped %d,%d: expected failure, got %s", i, j, got)
		}
	})
}

func TestPropertyResetOnFailure(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		target := drawDirections(t, "target", 1, 8)
		inputs := drawDirections(t, "inputs", 0, 12)

		m, _ := newTestMachine(target...)
		for _, d := range inputs {
			m.ApplyTrigger(d)
		}
		if m.Check() == OutcomeFailure {
			if m.State() != StateEmpty || len(m.Current()) != 0 {
				t.Fatalf("after failure: state %s, current %v", m.State(), m.Current())
			}
		}
	})
}

func TestPropertyIdempotentClose(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		target := drawDirections(t, "target", 1, 8)
		inputs := drawDirections(t, "inputs", 0, len(target))
		n := rapid.IntRange(0, len(inputs)).Draw(t, "n")

		m, rec := newTestMachine(target...)
		for _, d := range inputs[:n] {
			m.ApplyTrigger(d)
		}
		state, current := m.State(), m.Current()
		rec.got = nil

		for i := 0; i < 2; i++ {
			if got := m.Close(); got != OutcomeNone {
				t.Fatalf("close %d on %s: expected none, got %s", i+1, state, got)
			}
			if m.State() != state {
				t.Fatalf("close %d: state changed from %s to %s", i+1, state, m.State())
			}
			if !slices.Equal(m.Current(), current) {
				t.Fatalf("close %d: current changed from %v to %v", i+1, current, m.Current())
			}
		}
		if len(rec.got) != 0 {
			t.Fatalf("close on a locked lock dispatched %v", rec.got)
		}
	})
}
