// Package channel models the broadcast channel as an ordered, replayable log
// of lock calls.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by operations on a closed log.
	ErrClosed = errors.New("channel: log closed")
	// ErrDuplicate is returned when a call id has already been appended.
	ErrDuplicate = errors.New("channel: duplicate call")
)

// Log is the contract a replica needs from the broadcast channel. Every
// subscriber observes entries in the same order, including subscribers that
// attach after the entries were appended.
type Log interface {
	Append(ctx context.Context, call Call) (Entry, error)
	Subscribe(from uint64) (*Subscription, error)
}

// Header is implemented by logs that can report their last assigned seq.
type Header interface {
	Head(ctx context.Context) (uint64, error)
}

// Store persists entries so a restarted host can rebuild its log.
type Store interface {
	AppendEntry(ctx context.Context, sessionID string, e Entry) error
	LoadEntries(ctx context.Context, sessionID string) ([]Entry, error)
}

// MemoryLog is the sequencer: it stamps every call with the next seq and
// keeps the full history in memory for replay.
type MemoryLog struct {
	mu        sync.Mutex
	cond      *sync.Cond
	sessionID string
	entries   []Entry
	seen      map[string]uint64 // call id -> seq
	store     Store
	closed    bool
	now       func() time.Time
}

// NewMemoryLog creates an empty log. store may be nil.
func NewMemoryLog(sessionID string, store Store) *MemoryLog {
	l := &MemoryLog{
		sessionID: sessionID,
		seen:      make(map[string]uint64),
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Restore loads the persisted history. It must be called before any Append.
func (l *MemoryLog) Restore(ctx context.Context) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	entries, err := l.store.LoadEntries(ctx, l.sessionID)
	if err != nil {
		return 0, fmt.Errorf("load entries: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) > 0 {
		return 0, fmt.Errorf("restore into non-empty log")
	}
	for i, e := range entries {
		if e.Seq != uint64(i+1) {
			return 0, fmt.Errorf("persisted log has gap at seq %d (found %d)", i+1, e.Seq)
		}
		l.entries = append(l.entries, e)
		l.seen[e.Call.ID] = e.Seq
	}
	l.cond.Broadcast()
	return len(entries), nil
}

// Append stamps and stores call. A call id that was already appended
// returns the original entry together with ErrDuplicate.
func (l *MemoryLog) Append(ctx context.Context, call Call) (Entry, error) {
	if err := call.Validate(); err != nil {
		return Entry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Entry{}, ErrClosed
	}
	if seq, ok := l.seen[call.ID]; ok {
		return l.entries[seq-1], ErrDuplicate
	}

	e := Entry{
		Seq:       uint64(len(l.entries) + 1),
		Timestamp: l.now(),
		Call:      call,
	}
	// Persist before publishing so no subscriber sees an entry a restart would lose.
	if l.store != nil {
		if err := l.store.AppendEntry(ctx, l.sessionID, e); err != nil {
			return Entry{}, fmt.Errorf("persist entry %d: %w", e.Seq, err)
		}
	}

	l.entries = append(l.entries, e)
	l.seen[call.ID] = e.Seq
	l.cond.Broadcast()
	return e, nil
}

// Since returns a copy of the entries with seq >= from.
func (l *MemoryLog) Since(from uint64) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if from == 0 {
		from = 1
	}
	if from > uint64(len(l.entries)) {
		return []Entry{}
	}
	return append([]Entry{}, l.entries[from-1:]...)
}

// Len returns the number of entries, which is also the last seq.
func (l *MemoryLog) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.entries))
}

// Head returns the last assigned seq, zero for an empty log.
func (l *MemoryLog) Head(ctx context.Context) (uint64, error) {
	return l.Len(), nil
}

// Subscribe streams entries starting at seq from (0 and 1 both mean the
// beginning). History is replayed before live entries. The stream ends when
// the log is closed and drained or the subscription is cancelled.
func (l *MemoryLog) Subscribe(from uint64) (*Subscription, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	l.mu.Unlock()

	if from == 0 {
		from = 1
	}
	sub := newSubscription()
	sub.onCancel = l.wake
	go l.pump(sub, from)
	return sub, nil
}

// pump delivers entries to sub in order. It never drops: a slow subscriber
// only delays itself.
func (l *MemoryLog) pump(sub *Subscription, next uint64) {
	defer sub.End()
	for {
		l.mu.Lock()
		for uint64(len(l.entries)) < next && !l.closed && !sub.isCancelled() {
			l.cond.Wait()
		}
		if sub.isCancelled() || (l.closed && uint64(len(l.entries)) < next) {
			l.mu.Unlock()
			return
		}
		e := l.entries[next-1]
		l.mu.Unlock()

		select {
		case sub.ch <- e:
			next++
		case <-sub.done:
			return
		}
	}
}

// Close stops all subscriptions once they have drained and rejects further appends.
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.cond.Broadcast()
	return nil
}

// wake is used by Subscription.Cancel to release a pump blocked in Wait.
func (l *MemoryLog) wake() {
	l.mu.Lock()
	l.cond.Broadcast()
	l.mu.Unlock()
}
