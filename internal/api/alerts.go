package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/AaronLay10/SentientLock/internal/config"
	"github.com/AaronLay10/SentientLock/internal/logging"
)

// Alert severity levels
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Alert event types
const (
	AlertMQTTDisconnected    = "mqtt_disconnected"
	AlertPostgresUnavailable = "postgres_unavailable"
)

// AlertPayload is the JSON structure sent to the webhook.
type AlertPayload struct {
	Session   string                 `json:"session"`
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// linkWatch turns a connected/disconnected signal into one alert after the
// link has been down for delay, and one recovery alert when it comes back.
type linkWatch struct {
	event    string
	severity string
	name     string
	delay    time.Duration
	since    time.Time
	alerted  bool
}

func (w *linkWatch) observe(connected bool, now time.Time) (severity, msg string, details map[string]interface{}, fire bool) {
	if connected {
		recovered := w.alerted
		w.since = time.Time{}
		w.alerted = false
		if recovered {
			return SeverityInfo, w.name + " connection restored",
				map[string]interface{}{"recovered_at": now.UTC().Format(time.RFC3339)}, true
		}
		return "", "", nil, false
	}

	if w.since.IsZero() {
		w.since = now
	}
	down := now.Sub(w.since)
	if w.alerted || down < w.delay {
		return "", "", nil, false
	}
	w.alerted = true
	return w.severity, w.name + " disconnected", map[string]interface{}{
		"disconnected_since":   w.since.UTC().Format(time.RFC3339),
		"disconnected_seconds": int(down.Seconds()),
	}, true
}

// Alerter posts connection alerts to a webhook. Without a webhook alerts
// are only logged.
type Alerter struct {
	mu         sync.Mutex
	webhookURL string
	session    string
	mqtt       linkWatch
	postgres   linkWatch
	client     *http.Client
	logger     *zap.SugaredLogger
	now        func() time.Time
}

// NewAlerter reads SENTIENTLOCK_ALERT_WEBHOOK_URL, SENTIENTLOCK_MQTT_ALERT_DELAY
// and SENTIENTLOCK_POSTGRES_ALERT_DELAY.
func NewAlerter(session string, logger *zap.SugaredLogger) (*Alerter, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	mqttDelay, err := time.ParseDuration(config.EnvOr("SENTIENTLOCK_MQTT_ALERT_DELAY", "30s"))
	if err != nil {
		return nil, fmt.Errorf("SENTIENTLOCK_MQTT_ALERT_DELAY: %w", err)
	}
	pgDelay, err := time.ParseDuration(config.EnvOr("SENTIENTLOCK_POSTGRES_ALERT_DELAY", "5s"))
	if err != nil {
		return nil, fmt.Errorf("SENTIENTLOCK_POSTGRES_ALERT_DELAY: %w", err)
	}

	a := &Alerter{
		webhookURL: config.EnvOr("SENTIENTLOCK_ALERT_WEBHOOK_URL", ""),
		session:    session,
		mqtt:       linkWatch{event: AlertMQTTDisconnected, severity: SeverityWarning, name: "MQTT broker", delay: mqttDelay},
		postgres:   linkWatch{event: AlertPostgresUnavailable, severity: SeverityCritical, name: "PostgreSQL", delay: pgDelay},
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		now:        time.Now,
	}
	if a.webhookURL != "" {
		logger.Infow("alerts enabled", "mqtt_delay", mqttDelay, "postgres_delay", pgDelay)
	}
	return a, nil
}

// Check evaluates the current readiness flags once.
func (a *Alerter) Check(ctx context.Context) {
	_, mqttOK, pgOK := readinessSnapshot()

	a.mu.Lock()
	now := a.now()
	var pending []AlertPayload
	for _, w := range []*linkWatch{&a.mqtt, &a.postgres} {
		connected := mqttOK
		if w == &a.postgres {
			connected = pgOK
		}
		if sev, msg, details, fire := w.observe(connected, now); fire {
			pending = append(pending, AlertPayload{
				Session:   a.session,
				Event:     w.event,
				Timestamp: now.UTC().Format(time.RFC3339),
				Severity:  sev,
				Message:   msg,
				Details:   details,
			})
		}
	}
	a.mu.Unlock()

	for _, p := range pending {
		a.send(ctx, p)
	}
}

func (a *Alerter) send(ctx context.Context, p AlertPayload) {
	a.logger.Warnw("alert", "event", p.Event, "severity", p.Severity, "message", p.Message, "details", p.Details)
	if a.webhookURL == "" {
		return
	}

	body, err := json.Marshal(p)
	if err != nil {
		a.logger.Errorw("alert marshal failed", "error", err)
		return
	}

	b, err := retry.NewExponential(500 * time.Millisecond)
	if err != nil {
		a.logger.Errorw("alert backoff", "error", err)
		return
	}
	err = retry.Do(ctx, retry.WithMaxRetries(3, b), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := a.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("webhook returned status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		a.logger.Errorw("alert webhook failed", "event", p.Event, "error", err)
	}
}
