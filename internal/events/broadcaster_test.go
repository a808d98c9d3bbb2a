package events

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func receive(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case e := <-sub.C:
		return e
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for broadcast event")
	}
	return Event{}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	CloseAllSubscribers()

	sub1 := Subscribe(nil)
	sub2 := Subscribe(nil)
	if SubscriberCount() != 2 {
		t.Errorf("expected 2 subscribers, got %d", SubscriberCount())
	}

	Unsubscribe(sub1)
	Unsubscribe(sub1)
	if SubscriberCount() != 1 {
		t.Errorf("expected 1 subscriber after unsubscribe, got %d", SubscriberCount())
	}
	if _, ok := <-sub1.C; ok {
		t.Error("expected channel closed after unsubscribe")
	}

	CloseAllSubscribers()
	if _, ok := <-sub2.C; ok {
		t.Error("expected channel closed by CloseAllSubscribers")
	}
	Unsubscribe(sub2)
	if SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", SubscriberCount())
	}
}

func TestBroadcastToSubscribers(t *testing.T) {
	all := Subscribe(nil)
	locks := Subscribe(NamePrefix("lock."))
	defer Unsubscribe(all)
	defer Unsubscribe(locks)

	Emit("info", "call.appended", "", nil)
	Emit("info", "lock.entry_accepted", "test", map[string]interface{}{"puzzle_id": "door_a"})

	if e := receive(t, all); e.Name != "call.appended" {
		t.Errorf("unfiltered subscriber: expected call.appended first, got %s", e.Name)
	}
	if e := receive(t, all); e.Name != "lock.entry_accepted" {
		t.Errorf("unfiltered subscriber: expected lock.entry_accepted, got %s", e.Name)
	}

	e := receive(t, locks)
	if e.Name != "lock.entry_accepted" || e.Fields["puzzle_id"] != "door_a" {
		t.Errorf("filtered subscriber: unexpected event %+v", e)
	}
	select {
	case extra := <-locks.C:
		t.Errorf("filtered subscriber got non-matching event %s", extra.Name)
	default:
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	sub := Subscribe(nil)
	defer Unsubscribe(sub)

	for i := 0; i < subscriberBuffer+10; i++ {
		Emit("info", "call.appended", "", nil)
	}
	if sub.Dropped() != 10 {
		t.Errorf("expected 10 dropped events, got %d", sub.Dropped())
	}
}

func TestRecentEvents(t *testing.T) {
	Clear()
	for i := 0; i < 10; i++ {
		name := "call.appended"
		if i%2 == 0 {
			name = "lock.solved"
		}
		Emit("info", name, "", map[string]interface{}{"i": i})
	}

	recent := RecentEvents(5, nil)
	if len(recent) != 5 || recent[0].Fields["i"] != 5 {
		t.Errorf("expected last 5 events starting at i=5, got %+v", recent)
	}
	if n := len(RecentEvents(100, nil)); n != 10 {
		t.Errorf("expected 10 events when requesting 100, got %d", n)
	}
	if n := len(RecentEvents(0, nil)); n != 10 {
		t.Errorf("expected 10 events when requesting 0, got %d", n)
	}

	solved := RecentEvents(2, NamePrefix("lock."))
	if len(solved) != 2 || solved[0].Fields["i"] != 6 || solved[1].Fields["i"] != 8 {
		t.Errorf("unexpected filtered events: %+v", solved)
	}
}

func TestRingKeepsNewestInOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 16).Draw(t, "capacity")
		pushes := rapid.IntRange(0, 64).Draw(t, "pushes")
		n := rapid.IntRange(0, 20).Draw(t, "n")

		r := NewRing[int](capacity)
		for i := 0; i < pushes; i++ {
			r.Push(i)
		}

		held := pushes
		if held > capacity {
			held = capacity
		}
		want := held
		if n > 0 && n < held {
			want = n
		}

		got := r.Last(n)
		if len(got) != want {
			t.Fatalf("Last(%d) returned %d values, want %d", n, len(got), want)
		}
		for i, v := range got {
			if v != pushes-want+i {
				t.Fatalf("Last(%d)[%d] = %d, want %d", n, i, v, pushes-want+i)
			}
		}
		if r.Total() != uint64(pushes) || r.Len() != held {
			t.Fatalf("total %d len %d, want %d and %d", r.Total(), r.Len(), pushes, held)
		}
	})
}

type failingPersister struct {
	calls int
}

func (f *failingPersister) AppendEvent(ts time.Time, level, event, msg string, fields map[string]interface{}) error {
	f.calls++
	return errors.New("connection refused")
}

func TestPersistFailureReportedOnce(t *testing.T) {
	Clear()
	p := &failingPersister{}
	SetPersister(p)
	defer SetPersister(nil)

	Emit("info", "lock.created", "", nil)
	Emit("info", "lock.created", "", nil)

	if p.calls != 2 {
		t.Errorf("expected 2 persist attempts, got %d", p.calls)
	}
	if n := len(RecentEvents(0, NamePrefix("system.error"))); n != 1 {
		t.Errorf("expected exactly one system.error, got %d", n)
	}
}

func TestEmitRejectsUnknownEvent(t *testing.T) {
	if _, err := Emit("info", "scene.started", "", nil); err == nil {
		t.Error("expected error for unknown event name")
	}
}

func TestTotalCount(t *testing.T) {
	Clear()
	for i := 0; i < 300; i++ {
		Emit("info", "call.appended", "", nil)
	}
	if TotalCount() != 300 {
		t.Errorf("expected total 300, got %d", TotalCount())
	}
	if len(Snapshot()) != 256 {
		t.Errorf("expected ring capped at 256, got %d", len(Snapshot()))
	}
}
