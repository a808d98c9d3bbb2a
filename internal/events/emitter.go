package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// recent holds the last events for late WebSocket clients and /events.
var recent = NewRing[Event](256)

// Persister stores emitted events. The Postgres client implements it.
type Persister interface {
	AppendEvent(ts time.Time, level, event, msg string, fields map[string]interface{}) error
}

var (
	persister      Persister
	persistMu      sync.RWMutex
	persistErrOnce bool

	logger   *zap.SugaredLogger
	loggerMu sync.RWMutex
)

// SetPersister sets the store used for event persistence. nil disables it.
func SetPersister(p Persister) {
	persistMu.Lock()
	persister = p
	persistErrOnce = false
	persistMu.Unlock()
}

// SetLogger mirrors every emitted event to the process log. nil disables it.
func SetLogger(l *zap.SugaredLogger) {
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	recent.Push(e)
	broadcast(e)
	mirror(e)

	persistMu.RLock()
	p := persister
	persistMu.RUnlock()

	if p != nil {
		if err := p.AppendEvent(ts, level, name, msg, fields); err != nil {
			// Report once. Added directly to the ring, not through Emit,
			// so a failing store cannot recurse.
			persistMu.Lock()
			first := !persistErrOnce
			persistErrOnce = true
			persistMu.Unlock()
			if first {
				errEvent := Event{
					Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
					Level:     "error",
					Name:      "system.error",
					Message:   "event persistence failed",
					Fields: map[string]interface{}{
						"error": err.Error(),
					},
				}
				recent.Push(errEvent)
				broadcast(errEvent)
				mirror(errEvent)
			}
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return b, nil
}

func mirror(e Event) {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return
	}

	kv := make([]interface{}, 0, 2+2*len(e.Fields))
	kv = append(kv, "event", e.Name)
	for k, v := range e.Fields {
		kv = append(kv, k, v)
	}
	msg := e.Message
	if msg == "" {
		msg = e.Name
	}
	switch e.Level {
	case "error":
		l.Errorw(msg, kv...)
	case "warning", "warn":
		l.Warnw(msg, kv...)
	case "debug":
		l.Debugw(msg, kv...)
	default:
		l.Infow(msg, kv...)
	}
}

func Snapshot() []Event {
	return recent.Last(0)
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	recent.Reset()
}
