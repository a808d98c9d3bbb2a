package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AaronLay10/SentientLock/internal/channel"
	"github.com/AaronLay10/SentientLock/internal/config"
	"github.com/AaronLay10/SentientLock/internal/events"
	"github.com/AaronLay10/SentientLock/internal/lock"
	"github.com/AaronLay10/SentientLock/internal/sequence"
)

const testSession = `
version: 1
session:
  id: test-session
  seed: 99
puzzles:
  - id: vault_door
    length: 4
    operators: [security_guard]
  - id: lab_door
    length: 3
    operators: [technician]
  - id: server_door
    length: 2
    seed: 5
    operators: [security_guard, technician]
`

func testConfig(t *testing.T) *config.SessionConfig {
	t.Helper()
	cfg, err := config.ParseSessionConfig([]byte(testSession))
	if err != nil {
		t.Fatalf("failed to parse test session: %v", err)
	}
	return cfg
}

var callSeq struct {
	sync.Mutex
	n int
}

func nextCallID() string {
	callSeq.Lock()
	defer callSeq.Unlock()
	callSeq.n++
	return fmt.Sprintf("call-%d", callSeq.n)
}

func triggerCall(puzzleID string, d sequence.Direction, role lock.Role) channel.Call {
	return channel.Call{ID: nextCallID(), PuzzleID: puzzleID, Action: lock.ActionTrigger, Token: d, PeerID: "p-" + string(role), Role: role}
}

func actionCall(puzzleID string, a lock.Action, role lock.Role) channel.Call {
	return channel.Call{ID: nextCallID(), PuzzleID: puzzleID, Action: a, PeerID: "p-" + string(role), Role: role}
}

func entry(seq uint64, c channel.Call) channel.Entry {
	return channel.Entry{Seq: seq, Timestamp: time.Unix(int64(seq), 0).UTC(), Call: c}
}

// solveEntries returns the entries that enter target and check, numbered from seq.
func solveEntries(seq uint64, puzzleID string, target []sequence.Direction, role lock.Role) []channel.Entry {
	var out []channel.Entry
	for _, d := range target {
		out = append(out, entry(seq, triggerCall(puzzleID, d, role)))
		seq++
	}
	return append(out, entry(seq, actionCall(puzzleID, lock.ActionCheck, role)))
}

// wrong returns a direction different from d.
func wrong(d sequence.Direction) sequence.Direction {
	if d == sequence.Left {
		return sequence.Right
	}
	return sequence.Left
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func eventNames() []string {
	var names []string
	for _, e := range events.Snapshot() {
		names = append(names, e.Name)
	}
	return names
}

func countEvents(name string) int {
	n := 0
	for _, e := range events.Snapshot() {
		if e.Name == name {
			n++
		}
	}
	return n
}

// memStore is an in-memory channel.Store.
type memStore struct {
	mu      sync.Mutex
	entries map[string][]channel.Entry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string][]channel.Entry)}
}

func (s *memStore) AppendEntry(_ context.Context, sessionID string, e channel.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = append(s.entries[sessionID], e)
	return nil
}

func (s *memStore) LoadEntries(_ context.Context, sessionID string) ([]channel.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]channel.Entry(nil), s.entries[sessionID]...), nil
}
