package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AaronLay10/SentientLock/internal/lock"
	"github.com/AaronLay10/SentientLock/internal/sequence"
)

type memStore struct {
	mu      sync.Mutex
	entries map[string][]Entry
	failOn  uint64
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string][]Entry)}
}

func (s *memStore) AppendEntry(ctx context.Context, sessionID string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != 0 && e.Seq == s.failOn {
		return errors.New("disk full")
	}
	s.entries[sessionID] = append(s.entries[sessionID], e)
	return nil
}

func (s *memStore) LoadEntries(ctx context.Context, sessionID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry{}, s.entries[sessionID]...), nil
}

func trigger(id string, d sequence.Direction) Call {
	return Call{ID: id, PuzzleID: "door_a", Action: lock.ActionTrigger, Token: d, PeerID: "p1", Role: lock.RoleSecurityGuard}
}

func recv(t *testing.T, sub *Subscription) Entry {
	t.Helper()
	select {
	case e, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for entry")
	}
	return Entry{}
}

func TestAppendAssignsGapFreeSeq(t *testing.T) {
	l := NewMemoryLog("s1", nil)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		e, err := l.Append(ctx, trigger(fmt.Sprintf("c%d", i), sequence.Up))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if e.Seq != uint64(i) {
			t.Errorf("expected seq %d, got %d", i, e.Seq)
		}
	}
	if l.Len() != 5 {
		t.Errorf("expected len 5, got %d", l.Len())
	}
}

func TestAppendRejectsInvalidCall(t *testing.T) {
	l := NewMemoryLog("s1", nil)
	bad := []Call{
		{PuzzleID: "door_a", Action: lock.ActionCheck},
		{ID: "x", Action: lock.ActionCheck},
		{ID: "x", PuzzleID: "door_a", Action: "explode"},
		{ID: "x", PuzzleID: "door_a", Action: lock.ActionTrigger},
	}
	for i, c := range bad {
		if _, err := l.Append(context.Background(), c); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
	if l.Len() != 0 {
		t.Errorf("expected nothing appended, got %d", l.Len())
	}
}

func TestAppendDeduplicatesCallID(t *testing.T) {
	l := NewMemoryLog("s1", nil)
	ctx := context.Background()

	first, err := l.Append(ctx, trigger("same", sequence.Left))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	again, err := l.Append(ctx, trigger("same", sequence.Left))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if again.Seq != first.Seq {
		t.Errorf("expected duplicate to return seq %d, got %d", first.Seq, again.Seq)
	}
	if l.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", l.Len())
	}
}

func TestLateSubscriberReplaysHistory(t *testing.T) {
	l := NewMemoryLog("s1", nil)
	ctx := context.Background()
	tokens := []sequence.Direction{sequence.Left, sequence.Up, sequence.Right}
	for i, d := range tokens {
		if _, err := l.Append(ctx, trigger(fmt.Sprintf("c%d", i), d)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	sub, err := l.Subscribe(0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	for i, d := range tokens {
		e := recv(t, sub)
		if e.Seq != uint64(i+1) || e.Call.Token != d {
			t.Errorf("entry %d: got seq %d token %s", i, e.Seq, e.Call.Token)
		}
	}

	if _, err := l.Append(ctx, trigger("live", sequence.Down)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if e := recv(t, sub); e.Seq != 4 || e.Call.ID != "live" {
		t.Errorf("expected live entry seq 4, got %d %s", e.Seq, e.Call.ID)
	}
}

func TestSubscribeFromMiddle(t *testing.T) {
	l := NewMemoryLog("s1", nil)
	for i := 0; i < 4; i++ {
		l.Append(context.Background(), trigger(fmt.Sprintf("c%d", i), sequence.Up))
	}
	sub, err := l.Subscribe(3)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()
	if e := recv(t, sub); e.Seq != 3 {
		t.Errorf("expected seq 3, got %d", e.Seq)
	}
}

func TestSubscribersSeeSameOrder(t *testing.T) {
	l := NewMemoryLog("s1", nil)
	ctx := context.Background()
	subA, _ := l.Subscribe(1)
	subB, _ := l.Subscribe(1)
	defer subA.Cancel()
	defer subB.Cancel()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				l.Append(ctx, trigger(fmt.Sprintf("w%d-%d", w, i), sequence.Left))
			}
		}(w)
	}
	wg.Wait()

	for i := 0; i < 100; i++ {
		a := recv(t, subA)
		b := recv(t, subB)
		if a.Seq != b.Seq || a.Call.ID != b.Call.ID {
			t.Fatalf("position %d: subscribers diverged: %d/%s vs %d/%s", i, a.Seq, a.Call.ID, b.Seq, b.Call.ID)
		}
		if a.Seq != uint64(i+1) {
			t.Fatalf("position %d: expected seq %d, got %d", i, i+1, a.Seq)
		}
	}
}

func TestCancelEndsSubscription(t *testing.T) {
	l := NewMemoryLog("s1", nil)
	sub, _ := l.Subscribe(1)
	sub.Cancel()
	sub.Cancel()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Error("expected no entries after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("expected channel to close after cancel")
	}
}

func TestCloseDrainsThenEnds(t *testing.T) {
	l := NewMemoryLog("s1", nil)
	l.Append(context.Background(), trigger("c1", sequence.Up))
	sub, _ := l.Subscribe(1)
	l.Close()

	if e := recv(t, sub); e.Seq != 1 {
		t.Errorf("expected drained entry seq 1, got %d", e.Seq)
	}
	select {
	case _, ok := <-sub.C():
		if ok {
			t.Error("expected stream to end after close")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for stream end")
	}

	if _, err := l.Append(context.Background(), trigger("c2", sequence.Up)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := l.Subscribe(1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on subscribe, got %v", err)
	}
}

func TestStorePersistsAndRestores(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	l := NewMemoryLog("s1", store)
	l.Append(ctx, trigger("c1", sequence.Left))
	l.Append(ctx, trigger("c2", sequence.Up))

	restored := NewMemoryLog("s1", store)
	n, err := restored.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != 2 || restored.Len() != 2 {
		t.Fatalf("expected 2 restored entries, got %d (len %d)", n, restored.Len())
	}

	// Restored call ids still dedupe.
	if _, err := restored.Append(ctx, trigger("c1", sequence.Left)); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate after restore, got %v", err)
	}
	e, err := restored.Append(ctx, trigger("c3", sequence.Right))
	if err != nil || e.Seq != 3 {
		t.Errorf("expected seq 3 after restore, got %d (%v)", e.Seq, err)
	}
}

func TestStoreFailureDoesNotPublish(t *testing.T) {
	store := newMemStore()
	store.failOn = 2
	l := NewMemoryLog("s1", store)
	ctx := context.Background()

	l.Append(ctx, trigger("c1", sequence.Left))
	if _, err := l.Append(ctx, trigger("c2", sequence.Left)); err == nil {
		t.Fatal("expected persist error")
	}
	if l.Len() != 1 {
		t.Errorf("expected failed entry to be withheld, got len %d", l.Len())
	}

	store.failOn = 0
	if e, err := l.Append(ctx, trigger("c2", sequence.Left)); err != nil || e.Seq != 2 {
		t.Errorf("expected retry to take seq 2, got %d (%v)", e.Seq, err)
	}
}

func TestSince(t *testing.T) {
	l := NewMemoryLog("s1", nil)
	for i := 0; i < 3; i++ {
		l.Append(context.Background(), trigger(fmt.Sprintf("c%d", i), sequence.Up))
	}
	if got := l.Since(2); len(got) != 2 || got[0].Seq != 2 {
		t.Errorf("Since(2) = %v", got)
	}
	if got := l.Since(0); len(got) != 3 {
		t.Errorf("Since(0) returned %d entries", len(got))
	}
	if got := l.Since(10); len(got) != 0 {
		t.Errorf("Since(10) returned %d entries", len(got))
	}
}
