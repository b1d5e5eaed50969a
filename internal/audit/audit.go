// Package audit implements an append-only SQLite sink for orchestrator
// events (spec.md §6 "Optional: structured append-only audit log of
// user interactions and orchestrator actions, one record per line,
// keyed by session id"), grounded on the pure-Go modernc.org/sqlite
// driver usage in nexus's imessage adapter — the only sqlite usage in
// the retrieval pack (the teacher itself never uses sqlite).
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flowmind/orchestrator/internal/eventbus"
)

// Sink writes every published StreamEvent to a local SQLite database.
// It is an optional observer: nothing in the orchestrators depends on
// it, so its absence never affects turn execution.
type Sink struct {
	db *sql.DB
}

// Open creates (or reuses) the sqlite file at dsn and ensures the
// schema exists.
func Open(dsn string) (*Sink, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit.Open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit.Open: ping: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS orchestrator_events (
	session_id TEXT NOT NULL,
	turn       INTEGER NOT NULL,
	seq        INTEGER NOT NULL,
	ts         TEXT NOT NULL,
	kind       TEXT NOT NULL,
	payload    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orchestrator_events_session ON orchestrator_events(session_id);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit.Open: creating schema: %w", err)
	}

	return &Sink{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Sink) Close() error {
	return s.db.Close()
}

// Record appends one event row. Failures are logged by the caller, not
// fatal: a broken audit sink must never abort a turn (spec.md §9
// "audit log sinks" are out of scope for the core's correctness).
func (s *Sink) Record(ctx context.Context, event eventbus.StreamEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("audit.Record: marshaling payload: %w", err)
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orchestrator_events (session_id, turn, seq, ts, kind, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		event.SessionID, event.Turn, event.Seq, ts.Format(time.RFC3339Nano), string(event.Type), string(payload),
	)
	return err
}

// Tail returns the most recent events for sessionID, newest last.
func (s *Sink) Tail(ctx context.Context, sessionID string, limit int) ([]eventbus.StreamEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT turn, seq, ts, kind, payload FROM orchestrator_events WHERE session_id = ? ORDER BY seq DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("audit.Tail: %w", err)
	}
	defer rows.Close()

	var out []eventbus.StreamEvent
	for rows.Next() {
		var (
			turn, seq    int
			tsStr, kind  string
			payloadBytes string
		)
		if err := rows.Scan(&turn, &seq, &tsStr, &kind, &payloadBytes); err != nil {
			return nil, fmt.Errorf("audit.Tail: scanning row: %w", err)
		}
		ts, _ := time.Parse(time.RFC3339Nano, tsStr)
		var payload map[string]interface{}
		_ = json.Unmarshal([]byte(payloadBytes), &payload)
		out = append(out, eventbus.StreamEvent{
			Type: eventbus.EventType(kind), SessionID: sessionID, Turn: turn, Seq: seq, Timestamp: ts, Payload: payload,
		})
	}

	// Rows were fetched newest-first; reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
