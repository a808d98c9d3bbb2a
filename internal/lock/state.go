package lock

// State is the observable lifecycle state of a lock.
type State string

const (
	StateEmpty        State = "locked.empty"
	StateAccumulating State = "locked.accumulating"
	StateFull         State = "locked.full"
	StateUnlocked     State = "unlocked"
)

// IsLocked returns true for every locked.* sub-state.
func (s State) IsLocked() bool {
	return s != StateUnlocked
}

// Outcome is the result of applying one operation to a lock.
type Outcome string

const (
	// OutcomeNone means the operation was a no-op.
	OutcomeNone          Outcome = "none"
	OutcomeEntryAccepted Outcome = "entry_accepted"
	OutcomeSuccess       Outcome = "success"
	OutcomeFailure       Outcome = "failure"
	OutcomeClosed        Outcome = "closed"
)

// Action names an operation carried over the broadcast channel.
type Action string

const (
	ActionTrigger  Action = "trigger"
	ActionCheck    Action = "check"
	ActionClose    Action = "close"
	ActionOverride Action = "override"
)

// IsValid returns true for the known actions.
func (a Action) IsValid() bool {
	switch a {
	case ActionTrigger, ActionCheck, ActionClose, ActionOverride:
		return true
	}
	return false
}
