package events

import (
	"strings"
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 64

// Filter selects the events a subscriber receives.
type Filter func(Event) bool

// NamePrefix matches events whose name starts with any of prefixes, such
// as "lock." or "peer.". No prefixes matches everything.
func NamePrefix(prefixes ...string) Filter {
	if len(prefixes) == 0 {
		return nil
	}
	return func(e Event) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(e.Name, p) {
				return true
			}
		}
		return false
	}
}

// Subscriber is one live event consumer. Events are delivered on C, which
// is closed by Unsubscribe or CloseAllSubscribers. A consumer that falls
// behind loses events instead of stalling Emit; Dropped counts them.
type Subscriber struct {
	C       chan Event
	filter  Filter
	dropped atomic.Uint64
}

// Matches reports whether e passes the subscriber's filter.
func (s *Subscriber) Matches(e Event) bool {
	return s.filter == nil || s.filter(e)
}

// Dropped returns how many matching events were lost to a full buffer.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

var fanout = struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}{subs: make(map[*Subscriber]struct{})}

// Subscribe registers a consumer. filter may be nil.
func Subscribe(filter Filter) *Subscriber {
	sub := &Subscriber{C: make(chan Event, subscriberBuffer), filter: filter}
	fanout.mu.Lock()
	fanout.subs[sub] = struct{}{}
	fanout.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel. It is a no-op for a
// subscriber already removed by CloseAllSubscribers.
func Unsubscribe(sub *Subscriber) {
	fanout.mu.Lock()
	defer fanout.mu.Unlock()
	if _, ok := fanout.subs[sub]; !ok {
		return
	}
	delete(fanout.subs, sub)
	close(sub.C)
}

func broadcast(e Event) {
	fanout.mu.RLock()
	defer fanout.mu.RUnlock()
	for sub := range fanout.subs {
		if !sub.Matches(e) {
			continue
		}
		select {
		case sub.C <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}

// CloseAllSubscribers removes and closes every subscriber. Used on shutdown.
func CloseAllSubscribers() {
	fanout.mu.Lock()
	defer fanout.mu.Unlock()
	for sub := range fanout.subs {
		close(sub.C)
	}
	fanout.subs = make(map[*Subscriber]struct{})
}

// SubscriberCount returns the current number of subscribers.
func SubscriberCount() int {
	fanout.mu.RLock()
	defer fanout.mu.RUnlock()
	return len(fanout.subs)
}

// RecentEvents returns up to n of the most recent events matching filter,
// oldest first. n <= 0 means all buffered events.
func RecentEvents(n int, filter Filter) []Event {
	all := recent.Last(0)
	if filter != nil {
		kept := all[:0]
		for _, e := range all {
			if filter(e) {
				kept = append(kept, e)
			}
		}
		all = kept
	}
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// TotalCount returns the number of events emitted since startup.
func TotalCount() uint64 {
	return recent.Total()
}
