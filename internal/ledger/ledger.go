// Package ledger provides an append-only compensation event history for
// heatd. It supports per-room auditing and retention cleanup.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventCompensationApplied EventType = "compensation_applied"
	EventWriteFailed         EventType = "write_failed"
	EventCycleRecorded       EventType = "cycle_recorded"
	EventPreheatArmed        EventType = "preheat_armed"
	EventLearningReset       EventType = "learning_reset"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID             int64
	Room           string
	EventType      EventType
	Timestamp      time.Time
	Payload        map[string]any
	IdempotencyKey string
}

// Ledger provides append-only event logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new event to the ledger. A non-empty idempotency key makes
// the insert first-writer-wins: the unique index silently drops duplicates.
func (l *Ledger) Append(room string, eventType EventType, idempotencyKey string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	now := time.Now().UTC().Unix()

	insertSQL := `INSERT INTO compensation_ledger (room, event_type, timestamp, payload, idempotency_key) VALUES (?, ?, ?, ?, ?)`
	if idempotencyKey != "" {
		insertSQL = `INSERT OR IGNORE INTO compensation_ledger (room, event_type, timestamp, payload, idempotency_key) VALUES (?, ?, ?, ?, ?)`
	}

	_, err = l.db.Exec(insertSQL, room, string(eventType), now, string(payloadJSON), idempotencyKey)

	return err
}

// GetByType returns entries filtered by event type
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, room, event_type, timestamp, payload, idempotency_key
		FROM compensation_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByRoom returns entries for a room, newest first
func (l *Ledger) GetByRoom(room string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, room, event_type, timestamp, payload, idempotency_key
		FROM compensation_ledger
		WHERE room = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, room, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByTimeRange returns entries within a time range
func (l *Ledger) GetByTimeRange(start, end time.Time, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, room, event_type, timestamp, payload, idempotency_key
		FROM compensation_ledger
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, start.Unix(), end.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM compensation_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr sql.NullString
		var idempotencyKey sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.Room, &entry.EventType, &timestamp, &payloadStr, &idempotencyKey,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		if idempotencyKey.Valid {
			entry.IdempotencyKey = idempotencyKey.String
		}

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
