package channel

import "sync"

// Subscription is an ordered stream of entries. C is closed when the source
// ends or the subscription is cancelled.
type Subscription struct {
	ch       chan Entry
	done     chan struct{}
	once     sync.Once
	onCancel func()
}

func newSubscription() *Subscription {
	return &Subscription{
		ch:   make(chan Entry, 16),
		done: make(chan struct{}),
	}
}

// NewSubscription creates a subscription fed by a producer outside this
// package through Send and End. onCancel may be nil.
func NewSubscription(onCancel func()) *Subscription {
	s := newSubscription()
	s.onCancel = onCancel
	return s
}

// C returns the entry stream.
func (s *Subscription) C() <-chan Entry {
	return s.ch
}

// Done is closed once Cancel has been called.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Send delivers e, blocking until it is read or the subscription is
// cancelled. It returns false if cancelled.
func (s *Subscription) Send(e Entry) bool {
	select {
	case s.ch <- e:
		return true
	case <-s.done:
		return false
	}
}

// End closes the entry stream. Only the producer calls End.
func (s *Subscription) End() {
	close(s.ch)
}

// Cancel stops delivery. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		close(s.done)
		if s.onCancel != nil {
			s.onCancel()
		}
	})
}

func (s *Subscription) isCancelled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
