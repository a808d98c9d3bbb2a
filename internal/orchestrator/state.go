package orchestrator

import (
	"github.com/AaronLay10/SentientLock/internal/lock"
	"github.com/AaronLay10/SentientLock/internal/sequence"
)

// Resolution indicates how a lock was last opened.
type Resolution string

const (
	ResolutionUnresolved Resolution = "unresolved"
	ResolutionSolved     Resolution = "solved"
	ResolutionOverridden Resolution = "overridden"
)

// LockStatus is a point-in-time view of one lock on a replica.
type LockStatus struct {
	ID         string               `json:"id"`
	State      lock.State           `json:"state"`
	Resolution Resolution           `json:"resolution"`
	Length     int                  `json:"length"`
	Current    []sequence.Direction `json:"current"`
	Target     []sequence.Direction `json:"target,omitempty"`
	Operators  []lock.Role          `json:"operators"`
}

// IsResolved returns true if the lock is open (solved or overridden).
func (s LockStatus) IsResolved() bool {
	return s.Resolution == ResolutionSolved || s.Resolution == ResolutionOverridden
}
