package mqtt

import (
	"context"
	"errors"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/AaronLay10/SentientLock/internal/channel"
	"github.com/AaronLay10/SentientLock/internal/events"
	"github.com/AaronLay10/SentientLock/internal/logging"
)

// Submitter is the sequencer side of the submit topic.
type Submitter interface {
	Submit(ctx context.Context, call channel.Call) (channel.Entry, error)
}

// SubmitSubscriber feeds calls published by peers to the sequencer.
type SubmitSubscriber struct {
	client    Bus
	submitter Submitter
	topic     string
	timeout   time.Duration
	logger    *zap.SugaredLogger
}

// NewSubmitSubscriber creates a subscriber for the session's submit topic.
func NewSubmitSubscriber(client Bus, submitter Submitter, sessionID string, logger *zap.SugaredLogger) *SubmitSubscriber {
	if logger == nil {
		logger = logging.Nop()
	}
	return &SubmitSubscriber{
		client:    client,
		submitter: submitter,
		topic:     SubmitTopic(sessionID),
		timeout:   5 * time.Second,
		logger:    logger,
	}
}

// Topic returns the subscribed topic.
func (s *SubmitSubscriber) Topic() string {
	return s.topic
}

// Start subscribes to the submit topic.
func (s *SubmitSubscriber) Start() error {
	return s.client.Subscribe(s.topic, s.Handler())
}

// Handler returns the submit topic message handler. Redelivered calls are
// dropped by the sequencer's call-id dedupe.
func (s *SubmitSubscriber) Handler() paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		payload, err := ParseSubmit(msg.Payload())
		if err != nil {
			events.Emit("warn", "call.rejected", "undecodable submission", map[string]interface{}{
				"topic":  msg.Topic(),
				"reason": "decode",
				"error":  err.Error(),
			})
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		e, err := s.submitter.Submit(ctx, payload.Call)
		switch {
		case errors.Is(err, channel.ErrDuplicate):
			s.logger.Debugw("redelivered call", "call_id", payload.Call.ID, "seq", e.Seq)
		case err != nil:
			s.logger.Debugw("submission rejected", "call_id", payload.Call.ID, "error", err)
		default:
			s.logger.Debugw("submission sequenced", "call_id", payload.Call.ID, "seq", e.Seq)
		}
	}
}
