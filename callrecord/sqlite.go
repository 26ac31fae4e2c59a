/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callrecord

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/tejzpr/gateway-calling-go/callsdk"
)

const schema = `CREATE TABLE IF NOT EXISTS calls (
	call_id         TEXT PRIMARY KEY,
	caller_id       TEXT NOT NULL,
	receiver_id     TEXT NOT NULL,
	conversation_id TEXT NOT NULL DEFAULT '',
	type            TEXT NOT NULL,
	status          TEXT NOT NULL,
	start_time      INTEGER NOT NULL DEFAULT 0,
	answered_at     INTEGER NOT NULL DEFAULT 0,
	end_time        INTEGER NOT NULL DEFAULT 0,
	duration        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS calls_receiver_status ON calls (receiver_id, status);`

const selectColumns = `SELECT call_id, caller_id, receiver_id, conversation_id, type, status,
	start_time, answered_at, end_time, duration FROM calls`

// DefaultPollInterval is how often SQLite watchers re-read the file for
// writes made by other processes.
const DefaultPollInterval = 500 * time.Millisecond

// SQLiteStore is a Channel persisted in a SQLite file. Writes made through
// this instance reach watchers at once; writes made by another process
// sharing the file are picked up by polling.
type SQLiteStore struct {
	db   *sql.DB
	hub  *hub
	log  *logrus.Entry
	poll time.Duration

	// serializes read-check-write in UpdateStatus with watcher registration
	mu sync.Mutex
}

// SQLiteOption configures an SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithPollInterval sets how often watchers poll the file. Zero or less
// disables polling, leaving only writes made through this instance.
func WithPollInterval(d time.Duration) SQLiteOption {
	return func(s *SQLiteStore) { s.poll = d }
}

// OpenSQLite opens (or creates) the store at path. Use ":memory:" for a
// throwaway database.
func OpenSQLite(path string, log logrus.FieldLogger, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// each connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	entry := callsdk.Component(log, "callrecord")
	s := &SQLiteStore{db: db, hub: newHub(entry), log: entry, poll: DefaultPollInterval}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var r Record
	var typ, status string
	if err := row.Scan(&r.CallID, &r.CallerID, &r.ReceiverID, &r.ConversationID, &typ, &status,
		&r.StartTime, &r.AnsweredAt, &r.EndTime, &r.Duration); err != nil {
		return nil, err
	}
	r.Type = CallType(typ)
	r.Status = Status(status)
	return &r, nil
}

// Create implements Channel.
func (s *SQLiteStore) Create(ctx context.Context, r *Record) error {
	if err := validate(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `INSERT INTO calls
		(call_id, caller_id, receiver_id, conversation_id, type, status, start_time, answered_at, end_time, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(call_id) DO NOTHING`,
		r.CallID, r.CallerID, r.ReceiverID, r.ConversationID, string(r.Type), string(r.Status),
		r.StartTime, r.AnsweredAt, r.EndTime, r.Duration)
	if err != nil {
		return fmt.Errorf("insert call %s: %w", r.CallID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrExists, r.CallID)
	}
	s.hub.publish(*r, true)
	return nil
}

func (s *SQLiteStore) get(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, callID string) (*Record, error) {
	r, err := scanRecord(q.QueryRowContext(ctx, selectColumns+` WHERE call_id = ?`, callID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	if err != nil {
		return nil, fmt.Errorf("load call %s: %w", callID, err)
	}
	return r, nil
}

// UpdateStatus implements Channel.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, callID string, status Status, at time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	r, err := s.get(ctx, tx, callID)
	if err != nil {
		return nil, err
	}
	prev := r.Status
	changed, err := r.apply(status, at)
	if err != nil {
		return nil, err
	}
	if !changed {
		return r, nil
	}

	// The status guard keeps a concurrent writer in another process from
	// being overwritten.
	res, err := tx.ExecContext(ctx, `UPDATE calls SET status = ?, answered_at = ?, end_time = ?, duration = ?
		WHERE call_id = ? AND status = ?`,
		string(r.Status), r.AnsweredAt, r.EndTime, r.Duration, callID, string(prev))
	if err != nil {
		return nil, fmt.Errorf("update call %s: %w", callID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: call %s changed concurrently", ErrInvalidTransition, callID)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.hub.publish(*r, false)
	return r, nil
}

// Get implements Channel.
func (s *SQLiteStore) Get(ctx context.Context, callID string) (*Record, error) {
	return s.get(ctx, s.db, callID)
}

// WatchCall implements Channel.
func (s *SQLiteStore) WatchCall(ctx context.Context, callID string) (<-chan Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.get(ctx, s.db, callID)
	if err != nil {
		return nil, err
	}
	local := s.hub.watchCall(ctx, callID, r)
	if s.poll <= 0 {
		return local, nil
	}
	out := make(chan Record, watchBuffer)
	go s.followCall(ctx, callID, local, out)
	return out, nil
}

// followCall forwards local updates and polled rows, each status once.
// Statuses only move forward, so anything that is not a valid transition
// from the last delivered one is already stale.
func (s *SQLiteStore) followCall(ctx context.Context, callID string, local <-chan Record, out chan<- Record) {
	defer close(out)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	var last Status
	forward := func(r Record) bool {
		if last != "" && !CanTransition(last, r.Status) {
			return true
		}
		last = r.Status
		select {
		case out <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case r, ok := <-local:
			if !ok || !forward(r) {
				return
			}
		case <-ticker.C:
			r, err := s.get(ctx, s.db, callID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.WithError(err).WithField("call_id", callID).Debug("poll call")
				continue
			}
			if !forward(*r) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// WatchIncoming implements Channel.
func (s *SQLiteStore) WatchIncoming(ctx context.Context, receiverID string) (<-chan Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ringing, err := s.ringing(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	local := s.hub.watchIncoming(ctx, receiverID, ringing)
	if s.poll <= 0 {
		return local, nil
	}
	out := make(chan Record, watchBuffer)
	go s.followIncoming(ctx, receiverID, local, out)
	return out, nil
}

func (s *SQLiteStore) ringing(ctx context.Context, receiverID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE receiver_id = ? AND status = ? ORDER BY start_time`,
		receiverID, string(StatusRinging))
	if err != nil {
		return nil, fmt.Errorf("query incoming calls: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// followIncoming forwards local announcements and polled RINGING rows,
// each call id once.
func (s *SQLiteStore) followIncoming(ctx context.Context, receiverID string, local <-chan Record, out chan<- Record) {
	defer close(out)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	seen := make(map[string]struct{})
	forward := func(r Record) bool {
		if _, ok := seen[r.CallID]; ok {
			return true
		}
		seen[r.CallID] = struct{}{}
		select {
		case out <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case r, ok := <-local:
			if !ok || !forward(r) {
				return
			}
		case <-ticker.C:
			ringing, err := s.ringing(ctx, receiverID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.WithError(err).WithField("receiver_id", receiverID).Debug("poll incoming calls")
				continue
			}
			for _, r := range ringing {
				if !forward(r) {
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Recent returns the latest records involving userID, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE caller_id = ? OR receiver_id = ?
		ORDER BY start_time DESC LIMIT ?`, userID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Prune implements Pruner.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM calls WHERE status IN (?, ?, ?) AND end_time > 0 AND end_time < ?`,
		string(StatusRejected), string(StatusMissed), string(StatusEnded), before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
