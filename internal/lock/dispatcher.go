package lock

import "sync"

// Observer is a zero-argument presentation hook.
type Observer func()

// Subscription is the handle returned by Dispatcher.On.
type Subscription struct {
	id         uint64
	outcome    Outcome
	dispatcher *Dispatcher
}

// Cancel detaches the observer. Calling it more than once is safe.
func (s *Subscription) Cancel() {
	if s == nil || s.dispatcher == nil {
		return
	}
	s.dispatcher.Unsubscribe(s)
}

type observerEntry struct {
	id uint64
	fn Observer
}

// Dispatcher fans lock outcomes out to registered observers, synchronously
// and in registration order.
type Dispatcher struct {
	mu        sync.Mutex
	nextID    uint64
	observers map[Outcome][]observerEntry
}

// NewDispatcher creates a dispatcher with no observers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		observers: make(map[Outcome][]observerEntry),
	}
}

// On attaches fn to outcome o.
func (d *Dispatcher) On(o Outcome, fn Observer) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.observers[o] = append(d.observers[o], observerEntry{id: d.nextID, fn: fn})
	return &Subscription{id: d.nextID, outcome: o, dispatcher: d}
}

// OnEntry attaches an on_entry hook.
func (d *Dispatcher) OnEntry(fn Observer) *Subscription { return d.On(OutcomeEntryAccepted, fn) }

// OnSuccess attaches an on_success hook.
func (d *Dispatcher) OnSuccess(fn Observer) *Subscription { return d.On(OutcomeSuccess, fn) }

// OnError attaches an on_error hook.
func (d *Dispatcher) OnError(fn Observer) *Subscription { return d.On(OutcomeFailure, fn) }

// OnClose attaches an on_close hook.
func (d *Dispatcher) OnClose(fn Observer) *Subscription { return d.On(OutcomeClosed, fn) }

// Unsubscribe detaches the observer behind sub.
func (d *Dispatcher) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.observers[sub.outcome]
	for i, e := range list {
		if e.id == sub.id {
			// Copy so a dispatch in progress keeps iterating its own snapshot.
			next := make([]observerEntry, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			d.observers[sub.outcome] = next
			return
		}
	}
}

// Count returns the number of observers attached to o.
func (d *Dispatcher) Count(o Outcome) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.observers[o])
}

// Dispatch delivers o to its observers. OutcomeNone is never delivered.
func (d *Dispatcher) Dispatch(o Outcome) {
	if o == OutcomeNone {
		return
	}
	d.mu.Lock()
	snapshot := d.observers[o]
	d.mu.Unlock()

	for _, e := range snapshot {
		e.fn()
	}
}
