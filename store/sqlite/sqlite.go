// Package sqlite implements the durable stores on a single SQLite file.
// Pure Go driver (modernc.org/sqlite), WAL mode, idempotent migrations.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gatherkit/gather-go/core"
	"github.com/gatherkit/gather-go/store"
)

// DB owns the SQLite handle shared by all store views.
type DB struct {
	db *sql.DB
}

// Open creates the data directory if needed, opens the database and runs
// migrations.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}

	s := &DB{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// Events returns the EventStore view.
func (d *DB) Events() store.EventStore { return &eventStore{d.db} }

// Availability returns the AvailabilityStore view.
func (d *DB) Availability() store.AvailabilityStore { return &availabilityStore{d.db} }

// Users returns the UserStore view.
func (d *DB) Users() store.UserStore { return &userStore{d.db} }

// Sessions returns the SessionStore view.
func (d *DB) Sessions() store.SessionStore { return &sessionStore{d.db} }

func (d *DB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			start_at    TEXT NOT NULL,
			end_at      TEXT NOT NULL,
			location    TEXT NOT NULL DEFAULT '',
			tags        TEXT NOT NULL DEFAULT '[]',
			updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
		);
		CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_at);

		CREATE TABLE IF NOT EXISTS busy_hours (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id  TEXT NOT NULL,
			start_at TEXT NOT NULL,
			end_at   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_busy_user ON busy_hours(user_id, start_at);

		CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			preferences  TEXT NOT NULL DEFAULT '[]',
			notes        TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS sessions (
			conversation_id TEXT PRIMARY KEY,
			state           TEXT NOT NULL,
			updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
		);
	`
	_, err := d.db.Exec(schema)
	return err
}

// storeErr classifies driver failures as StoreUnavailable while passing
// not-found and invariant errors through.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrInvariantViolation) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", core.ErrStoreUnavailable, op, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// ─── Events ─────────────────────────────────────────────────────────────

type eventStore struct {
	db *sql.DB
}

func (s *eventStore) Get(ctx context.Context, id string) (*core.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, start_at, end_at, location, tags FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get event", err)
	}
	return ev, nil
}

func (s *eventStore) List(ctx context.Context, q store.EventQuery) ([]core.Event, error) {
	// Window and tag filters run in Go: times are RFC3339 text and tags are
	// JSON, neither of which SQLite compares usefully here.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, start_at, end_at, location, tags FROM events ORDER BY start_at ASC`)
	if err != nil {
		return nil, storeErr("list events", err)
	}
	defer rows.Close()

	var out []core.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, storeErr("scan event", err)
		}
		if q.Window != nil && !ev.Window().Overlaps(*q.Window) {
			continue
		}
		if len(q.Tags) > 0 && !hasAnyTag(ev.Tags, q.Tags) {
			continue
		}
		out = append(out, *ev)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, storeErr("list events", rows.Err())
}

func (s *eventStore) Upsert(ctx context.Context, event core.Event) (bool, error) {
	if err := event.Validate(); err != nil {
		return false, err
	}

	prev, err := s.Get(ctx, event.ID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return false, err
	}
	if prev != nil && eventsEqual(*prev, event) {
		return false, nil
	}

	tags, err := json.Marshal(event.Tags)
	if err != nil {
		return false, fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, title, description, start_at, end_at, location, tags, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   description = excluded.description,
		   start_at = excluded.start_at,
		   end_at = excluded.end_at,
		   location = excluded.location,
		   tags = excluded.tags,
		   updated_at = datetime('now')`,
		event.ID, event.Title, event.Description,
		formatTime(event.Start), formatTime(event.End), event.Location, string(tags))
	if err != nil {
		return false, storeErr("upsert event", err)
	}
	return true, nil
}

func (s *eventStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	return storeErr("delete event", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*core.Event, error) {
	var ev core.Event
	var startStr, endStr, tagsJSON string
	if err := row.Scan(&ev.ID, &ev.Title, &ev.Description, &startStr, &endStr, &ev.Location, &tagsJSON); err != nil {
		return nil, err
	}
	var err error
	if ev.Start, err = parseTime(startStr); err != nil {
		return nil, fmt.Errorf("parse start: %w", err)
	}
	if ev.End, err = parseTime(endStr); err != nil {
		return nil, fmt.Errorf("parse end: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &ev.Tags); err != nil {
		return nil, fmt.Errorf("parse tags: %w", err)
	}
	return &ev, nil
}

// ─── Busy hours ─────────────────────────────────────────────────────────

type availabilityStore struct {
	db *sql.DB
}

func (s *availabilityStore) ListByUsers(ctx context.Context, userIDs []string, window *core.Interval) ([]core.BusyInterval, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	query := `SELECT user_id, start_at, end_at FROM busy_hours WHERE user_id IN (?` +
		strings.Repeat(",?", len(userIDs)-1) + `) ORDER BY user_id, start_at`
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list busy hours", err)
	}
	defer rows.Close()

	var out []core.BusyInterval
	for rows.Next() {
		var iv core.BusyInterval
		var startStr, endStr string
		if err := rows.Scan(&iv.UserID, &startStr, &endStr); err != nil {
			return nil, storeErr("scan busy hours", err)
		}
		if iv.Start, err = parseTime(startStr); err != nil {
			return nil, storeErr("parse busy start", err)
		}
		if iv.End, err = parseTime(endStr); err != nil {
			return nil, storeErr("parse busy end", err)
		}
		if window != nil && !iv.Interval().Overlaps(*window) {
			continue
		}
		out = append(out, iv)
	}
	return out, storeErr("list busy hours", rows.Err())
}

func (s *availabilityStore) Add(ctx context.Context, interval core.BusyInterval) error {
	if err := interval.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO busy_hours (user_id, start_at, end_at) VALUES (?, ?, ?)`,
		interval.UserID, formatTime(interval.Start), formatTime(interval.End))
	return storeErr("add busy hours", err)
}

func (s *availabilityStore) Clear(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM busy_hours WHERE user_id = ?`, userID)
	return storeErr("clear busy hours", err)
}

// ─── Users ──────────────────────────────────────────────────────────────

type userStore struct {
	db *sql.DB
}

func (s *userStore) Get(ctx context.Context, id string) (*core.UserProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, preferences, notes FROM users WHERE id = ?`, id)

	var u core.UserProfile
	var prefsJSON string
	err := row.Scan(&u.ID, &u.DisplayName, &prefsJSON, &u.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get user", err)
	}
	if err := json.Unmarshal([]byte(prefsJSON), &u.Preferences); err != nil {
		return nil, storeErr("parse preferences", err)
	}
	return &u, nil
}

func (s *userStore) Upsert(ctx context.Context, profile core.UserProfile) error {
	prefs, err := json.Marshal(profile.Preferences)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, preferences, notes)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   display_name = excluded.display_name,
		   preferences = excluded.preferences,
		   notes = excluded.notes`,
		profile.ID, profile.DisplayName, string(prefs), profile.Notes)
	return storeErr("upsert user", err)
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return storeErr("delete user", err)
}

// ─── Sessions ───────────────────────────────────────────────────────────

type sessionStore struct {
	db *sql.DB
}

func (s *sessionStore) Get(ctx context.Context, conversationID string) (*core.SessionState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE conversation_id = ?`, conversationID)

	var blob string
	err := row.Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get session", err)
	}

	var state core.SessionState
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return nil, storeErr("parse session", err)
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *sessionStore) Put(ctx context.Context, state *core.SessionState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (conversation_id, state, updated_at)
		 VALUES (?, ?, datetime('now'))
		 ON CONFLICT(conversation_id) DO UPDATE SET
		   state = excluded.state,
		   updated_at = datetime('now')`,
		state.ConversationID, string(blob))
	return storeErr("put session", err)
}

func (s *sessionStore) Delete(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE conversation_id = ?`, conversationID)
	return storeErr("delete session", err)
}

// ─── Helpers ────────────────────────────────────────────────────────────

func hasAnyTag(tags, wanted []string) bool {
	for _, t := range tags {
		for _, w := range wanted {
			if strings.EqualFold(t, w) {
				return true
			}
		}
	}
	return false
}

func eventsEqual(a, b core.Event) bool {
	if a.Title != b.Title || a.Description != b.Description || a.Location != b.Location ||
		!a.Start.Equal(b.Start) || !a.End.Equal(b.End) {
		return false
	}
	if len(a.Tags) != len(b.Tags) {
		return false
	}
	for i := range a.Tags {
		if a.Tags[i] != b.Tags[i] {
			return false
		}
	}
	return true
}
