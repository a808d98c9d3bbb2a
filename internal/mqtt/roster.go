package mqtt

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AaronLay10/SentientLock/internal/lock"
)

// ErrRoleTaken is returned when a role is already held by another connected peer.
var ErrRoleTaken = errors.New("mqtt: role already held")

// Roster maps each player role to the peer currently holding it.
type Roster struct {
	mu      sync.RWMutex
	holders map[lock.Role]string
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{
		holders: make(map[lock.Role]string),
	}
}

// Claim assigns role to peerID. Claiming a role the peer already holds is a
// no-op; a peer claiming a new role releases its old one.
func (r *Roster) Claim(role lock.Role, peerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, ok := r.holders[role]; ok && holder != peerID {
		return fmt.Errorf("%w: %s by %s", ErrRoleTaken, role, holder)
	}
	for rl, holder := range r.holders {
		if holder == peerID && rl != role {
			delete(r.holders, rl)
		}
	}
	r.holders[role] = peerID
	return nil
}

// Release frees whatever role peerID holds.
func (r *Roster) Release(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for rl, holder := range r.holders {
		if holder == peerID {
			delete(r.holders, rl)
		}
	}
}

// Holder returns the peer holding role, or empty string.
func (r *Roster) Holder(role lock.Role) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.holders[role]
}

// RoleOf returns the role held by peerID.
func (r *Roster) RoleOf(peerID string) (lock.Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for rl, holder := range r.holders {
		if holder == peerID {
			return rl, true
		}
	}
	return "", false
}

// Assignment is one role held by one peer.
type Assignment struct {
	Role   lock.Role `json:"role"`
	PeerID string    `json:"peer_id"`
}

// All returns every assignment in role order.
func (r *Roster) All() []Assignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Assignment, 0, len(r.holders))
	for rl, holder := range r.holders {
		result = append(result, Assignment{Role: rl, PeerID: holder})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Role < result[j].Role })
	return result
}

// Clear removes all assignments.
func (r *Roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.holders = make(map[lock.Role]string)
}
