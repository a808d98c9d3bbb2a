// Package remote gives a peer access to the host's call log over the
// network: calls go up over MQTT (or HTTP), entries come back over a
// WebSocket stream.
package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/AaronLay10/SentientLock/internal/channel"
	"github.com/AaronLay10/SentientLock/internal/lock"
	"github.com/AaronLay10/SentientLock/internal/logging"
	"github.com/AaronLay10/SentientLock/internal/mqtt"
	"github.com/AaronLay10/SentientLock/internal/orchestrator"
)

// Log is a channel.Log backed by a host's HTTP API.
type Log struct {
	baseURL   string
	wsURL     string
	client    *http.Client
	dialer    *websocket.Dialer
	publisher *mqtt.Publisher
	logger    *zap.SugaredLogger
	retries   uint64
	backoff   time.Duration
}

// Option configures a Log.
type Option func(*Log)

// WithPublisher sends calls over MQTT instead of HTTP.
func WithPublisher(p *mqtt.Publisher) Option {
	return func(l *Log) { l.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(l *Log) { l.logger = logger }
}

// WithRetry sets how many times a request or stream reconnect is retried
// and the initial backoff.
func WithRetry(max uint64, base time.Duration) Option {
	return func(l *Log) {
		l.retries = max
		l.backoff = base
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Log) { l.client = c }
}

// WithTLS sets the TLS client config for both the HTTP client and the
// WebSocket dialer, typically to trust a self-signed orchestrator.
func WithTLS(cfg *tls.Config) Option {
	return func(l *Log) {
		l.client = &http.Client{
			Timeout:   10 * time.Second,
			Transport: &http.Transport{TLSClientConfig: cfg},
		}
		dialer := *websocket.DefaultDialer
		dialer.TLSClientConfig = cfg
		l.dialer = &dialer
	}
}

// New creates a remote log for the host at baseURL (http or https).
func New(baseURL string, opts ...Option) (*Log, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse host url: %w", err)
	}

	ws := *u
	switch u.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return nil, fmt.Errorf("host url %q: scheme must be http or https", baseURL)
	}

	l := &Log{
		baseURL: u.String(),
		wsURL:   ws.String(),
		client:  &http.Client{Timeout: 10 * time.Second},
		dialer:  websocket.DefaultDialer,
		logger:  logging.Nop(),
		retries: 8,
		backoff: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Log) retrier() (retry.Backoff, error) {
	b, err := retry.NewExponential(l.backoff)
	if err != nil {
		return nil, err
	}
	return retry.WithMaxRetries(l.retries, retry.WithCappedDuration(5*time.Second, b)), nil
}

// Append submits a call. Over MQTT the returned entry is unsequenced
// (Seq 0); the stamped entry arrives through Subscribe. Over HTTP transport
// failures are retried with the same call id, which the host dedupes.
func (l *Log) Append(ctx context.Context, call channel.Call) (channel.Entry, error) {
	if l.publisher != nil {
		if err := l.publisher.Submit(call); err != nil {
			return channel.Entry{}, fmt.Errorf("publish call: %w", err)
		}
		return channel.Entry{Call: call}, nil
	}

	body, err := json.Marshal(call)
	if err != nil {
		return channel.Entry{}, fmt.Errorf("encode call: %w", err)
	}

	b, err := l.retrier()
	if err != nil {
		return channel.Entry{}, err
	}

	var entry channel.Entry
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		e, err := l.post(ctx, body)
		entry = e
		return err
	})
	return entry, err
}

type callResponse struct {
	OK        bool           `json:"ok"`
	Entry     *channel.Entry `json:"entry,omitempty"`
	Duplicate bool           `json:"duplicate,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func (l *Log) post(ctx context.Context, body []byte) (channel.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/calls", bytes.NewReader(body))
	if err != nil {
		return channel.Entry{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return channel.Entry{}, retry.RetryableError(err)
	}
	defer resp.Body.Close()

	var cr callResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return channel.Entry{}, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}

	var entry channel.Entry
	if cr.Entry != nil {
		entry = *cr.Entry
	}
	switch {
	case resp.StatusCode == http.StatusOK && cr.Duplicate:
		return entry, channel.ErrDuplicate
	case resp.StatusCode == http.StatusOK:
		return entry, nil
	case resp.StatusCode >= 500 && resp.StatusCode != http.StatusServiceUnavailable:
		return channel.Entry{}, retry.RetryableError(fmt.Errorf("host returned %d: %s", resp.StatusCode, cr.Error))
	default:
		return channel.Entry{}, errorFor(resp.StatusCode, cr.Error)
	}
}

// errorFor maps host status codes back to the sentinel errors callers
// match on.
func errorFor(status int, msg string) error {
	var base error
	switch status {
	case http.StatusForbidden:
		return lock.ErrUnauthorized
	case http.StatusNotFound:
		base = orchestrator.ErrUnknownPuzzle
	case http.StatusBadRequest:
		base = orchestrator.ErrInvalidCall
	case http.StatusServiceUnavailable:
		base = channel.ErrClosed
	default:
		return fmt.Errorf("host returned %d: %s", status, msg)
	}
	return fmt.Errorf("%w (%s)", base, msg)
}

// Head returns the host's last assigned seq.
func (l *Log) Head(ctx context.Context) (uint64, error) {
	b, err := l.retrier()
	if err != nil {
		return 0, err
	}

	var head uint64
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/log/head", nil)
		if err != nil {
			return err
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return retry.RetryableError(fmt.Errorf("log head: status %d", resp.StatusCode))
		}
		var hr struct {
			Seq uint64 `json:"seq"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
			return fmt.Errorf("decode log head: %w", err)
		}
		head = hr.Seq
		return nil
	})
	return head, err
}

// Subscribe opens the entry stream at from. A dropped connection is redialed
// from the seq after the last delivered entry; the stream ends when the host
// closes its log, when reconnecting gives up, or on Cancel.
func (l *Log) Subscribe(from uint64) (*channel.Subscription, error) {
	if from == 0 {
		from = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	conn, err := l.dial(ctx, from)
	if err != nil {
		cancel()
		return nil, err
	}

	sub := channel.NewSubscription(cancel)
	go l.stream(ctx, sub, conn, from)
	return sub, nil
}

func (l *Log) dial(ctx context.Context, from uint64) (*websocket.Conn, error) {
	conn, _, err := l.dialer.DialContext(ctx, fmt.Sprintf("%s/ws/log?from=%d", l.wsURL, from), nil)
	if err != nil {
		return nil, fmt.Errorf("dial log stream: %w", err)
	}
	return conn, nil
}

func (l *Log) stream(ctx context.Context, sub *channel.Subscription, conn *websocket.Conn, next uint64) {
	defer sub.End()

	for {
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		var closed bool
		next, closed = l.read(sub, conn, next)
		stop()
		conn.Close()
		if closed || ctx.Err() != nil {
			return
		}

		l.logger.Infow("log stream dropped, reconnecting", "from", next)
		b, err := l.retrier()
		if err != nil {
			return
		}
		err = retry.Do(ctx, b, func(ctx context.Context) error {
			c, err := l.dial(ctx, next)
			if err != nil {
				return retry.RetryableError(err)
			}
			conn = c
			return nil
		})
		if err != nil {
			l.logger.Warnw("log stream reconnect failed", "from", next, "error", err)
			return
		}
	}
}

// read forwards entries until the connection fails. It returns the next
// expected seq and whether the host closed the stream for good.
func (l *Log) read(sub *channel.Subscription, conn *websocket.Conn, next uint64) (uint64, bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseGoingAway {
				return next, true
			}
			return next, false
		}

		var e channel.Entry
		if err := json.Unmarshal(data, &e); err != nil {
			l.logger.Warnw("dropping undecodable log frame", "error", err)
			continue
		}
		if e.Seq < next {
			continue
		}
		if !sub.Send(e) {
			return next, true
		}
		next = e.Seq + 1
	}
}
