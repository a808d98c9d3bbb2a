package mqtt

import (
	"context"
	"fmt"
	"time"

	"github.com/AaronLay10/SentientLock/internal/channel"
)

// Publisher is the peer side of the submit and presence topics.
type Publisher struct {
	client    Bus
	sessionID string
}

// NewPublisher creates a publisher for one session.
func NewPublisher(client Bus, sessionID string) *Publisher {
	return &Publisher{client: client, sessionID: sessionID}
}

// Submit publishes a call to the sequencer. Delivery is at-least-once; the
// entry comes back through the log subscription.
func (p *Publisher) Submit(call channel.Call) error {
	data, err := EncodeSubmit(call)
	if err != nil {
		return fmt.Errorf("encode call: %w", err)
	}
	return p.client.Publish(SubmitTopic(p.sessionID), data)
}

// Announce publishes one presence message.
func (p *Publisher) Announce(info PeerInfo) error {
	data, err := EncodePresence(info)
	if err != nil {
		return fmt.Errorf("encode presence: %w", err)
	}
	return p.client.Publish(PresenceTopic(p.sessionID), data)
}

// Heartbeat announces immediately and then every interval until ctx is
// done, when it announces leaving. info is called for each message so the
// applied seq stays current. Publish errors are passed to onErr, if set.
func (p *Publisher) Heartbeat(ctx context.Context, interval time.Duration, info func() PeerInfo, onErr func(error)) {
	report := func(err error) {
		if err != nil && onErr != nil {
			onErr(err)
		}
	}

	report(p.Announce(info()))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			last := info()
			last.Leaving = true
			report(p.Announce(last))
			return
		case <-ticker.C:
			report(p.Announce(info()))
		}
	}
}
