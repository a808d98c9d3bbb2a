package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sethvargo/go-retry"

	"github.com/AaronLay10/SentientLock/internal/channel"
	"github.com/AaronLay10/SentientLock/internal/config"
	"github.com/AaronLay10/SentientLock/internal/lock"
)

// EventRow represents an event stored in Postgres.
type EventRow struct {
	EventID   int64                  `json:"event_id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   *string                `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	SessionID string                 `json:"session_id"`
}

// Client stores the session call log and the event stream.
type Client struct {
	db        *sql.DB
	sessionID string
}

// ConnString builds a libpq connection string from PG* environment
// variables. PGPASSWORD may be supplied through PGPASSWORD_FILE.
func ConnString() (string, error) {
	host := config.EnvOr("PGHOST", "127.0.0.1")
	port := config.EnvOr("PGPORT", "5432")
	user := config.EnvOr("PGUSER", "sentient")
	dbname := config.EnvOr("PGDATABASE", "sentientlock")
	password, err := config.ResolveSecret("PGPASSWORD")
	if err != nil {
		return "", err
	}

	if password != "" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			host, port, user, password, dbname), nil
	}
	return fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		host, port, user, dbname), nil
}

// New connects using environment variables, retrying the initial ping with
// exponential backoff up to attempts times.
func New(ctx context.Context, sessionID string, attempts uint64) (*Client, error) {
	connStr, err := ConnString()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	backoff, err := retry.NewExponential(250 * time.Millisecond)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to build backoff: %w", err)
	}
	backoff = retry.WithMaxRetries(attempts, backoff)

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{
		db:        db,
		sessionID: sessionID,
	}

	if err := client.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return client, nil
}

func (c *Client) createTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS lock_calls (
			session_id TEXT NOT NULL,
			seq        BIGINT NOT NULL,
			ts         TIMESTAMPTZ NOT NULL,
			call_id    TEXT NOT NULL,
			puzzle_id  TEXT NOT NULL,
			call       TEXT NOT NULL,
			token      TEXT,
			peer_id    TEXT,
			role       TEXT,
			PRIMARY KEY (session_id, seq),
			UNIQUE (session_id, call_id)
		);
		CREATE TABLE IF NOT EXISTS events (
			event_id   BIGSERIAL PRIMARY KEY,
			ts         TIMESTAMPTZ NOT NULL,
			level      TEXT NOT NULL,
			event      TEXT NOT NULL,
			msg        TEXT,
			fields     JSONB,
			session_id TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_events_session_id ON events(session_id);
	`
	_, err := c.db.ExecContext(ctx, query)
	return err
}

// AppendEntry persists one call log entry. It implements channel.Store.
func (c *Client) AppendEntry(ctx context.Context, sessionID string, e channel.Entry) error {
	var token *string
	if e.Call.Token.IsValid() {
		s := e.Call.Token.String()
		token = &s
	}

	query := `
		INSERT INTO lock_calls (session_id, seq, ts, call_id, puzzle_id, call, token, peer_id, role)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := c.db.ExecContext(ctx, query, sessionID, int64(e.Seq), e.Timestamp, e.Call.ID,
		e.Call.PuzzleID, string(e.Call.Action), token, nullable(e.Call.PeerID), nullable(string(e.Call.Role)))
	return err
}

// LoadEntries returns the persisted log of a session in seq order.
func (c *Client) LoadEntries(ctx context.Context, sessionID string) ([]channel.Entry, error) {
	query := `
		SELECT seq, ts, call_id, puzzle_id, call, token, peer_id, role
		FROM lock_calls
		WHERE session_id = $1
		ORDER BY seq ASC
	`
	rows, err := c.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []channel.Entry
	for rows.Next() {
		var (
			e                   channel.Entry
			seq                 int64
			action              string
			token, peer, roleNS sql.NullString
		)
		if err := rows.Scan(&seq, &e.Timestamp, &e.Call.ID, &e.Call.PuzzleID, &action, &token, &peer, &roleNS); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		e.Call.Action = lock.Action(action)
		if token.Valid {
			if err := e.Call.Token.UnmarshalText([]byte(token.String)); err != nil {
				return nil, fmt.Errorf("entry %d: %w", seq, err)
			}
		}
		e.Call.PeerID = peer.String
		e.Call.Role = lock.Role(roleNS.String)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// AppendEvent inserts an event. It implements events.Persister.
func (c *Client) AppendEvent(ts time.Time, level, event, msg string, fields map[string]interface{}) error {
	var fieldsJSON []byte
	var err error
	if fields != nil {
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	query := `
		INSERT INTO events (ts, level, event, msg, fields, session_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = c.db.Exec(query, ts, level, event, nullable(msg), fieldsJSON, c.sessionID)
	return err
}

// QueryEvents returns the last N events of the session, newest first.
func (c *Client) QueryEvents(ctx context.Context, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 10000 {
		limit = 10000
	}

	query := `
		SELECT event_id, ts, level, event, msg, fields, session_id
		FROM events
		WHERE session_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, query, c.sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.SessionID); err != nil {
			return nil, err
		}
		if msg.Valid {
			e.Message = &msg.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}
		out = append(out, e)
	}

	return out, rows.Err()
}

// Ping reports whether the database is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
