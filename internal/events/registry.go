package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// lock
	"lock.created":        {},
	"lock.entry_accepted": {},
	"lock.solved":         {},
	"lock.failed":         {},
	"lock.closed":         {},
	"lock.overridden":     {},

	// call log
	"call.appended": {},
	"call.rejected": {},

	// peer
	"peer.connected":    {},
	"peer.disconnected": {},
	"peer.caught_up":    {},
	"peer.gap":          {},

	// session
	"session.started":  {},
	"session.restored": {},

	// operator
	"operator.override": {},
	"operator.close":    {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
