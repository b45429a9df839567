// Package sessiondb persists capture session and trigger metadata in sqlite.
// The artifact directories hold the frame data; this database is the queryable
// record of what was captured, when, and whether the write succeeded.
package sessiondb

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the sqlite session database.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the database at path and migrates it to the latest
// schema version.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	d := &DB{db}
	if err := d.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("session database ready at %s", path)
	return d, nil
}

// migrateUp applies all pending embedded migrations.
func (db *DB) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// Note: we don't close m because it would close the underlying DB
	// connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SessionRecord is one capture session row.
type SessionRecord struct {
	ID           string `json:"session_id"`
	Seq          uint64 `json:"seq"`
	TriggerNanos int64  `json:"trigger_ns"`
	ObjectID     string `json:"object_id,omitempty"`
	PreFrames    int    `json:"pre_frames"`
	TotalFrames  int    `json:"total_frames"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
}

// RecordSession inserts or replaces a session row.
func (db *DB) RecordSession(rec SessionRecord) error {
	_, err := db.Exec(`
		INSERT INTO sessions (session_id, seq, trigger_ns, object_id, pre_frames, total_frames, artifact_path, status, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			total_frames = excluded.total_frames,
			artifact_path = excluded.artifact_path,
			status = excluded.status,
			reason = excluded.reason
	`, rec.ID, rec.Seq, rec.TriggerNanos, rec.ObjectID, rec.PreFrames, rec.TotalFrames, rec.ArtifactPath, rec.Status, rec.Reason)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %v", rec.ID, err)
	}
	return nil
}

// UpdateSessionStatus updates the status and reason of an existing session.
func (db *DB) UpdateSessionStatus(id, status, reason string) error {
	res, err := db.Exec(`UPDATE sessions SET status = ?, reason = ? WHERE session_id = ?`, status, reason, id)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %v", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no session %s", id)
	}
	return nil
}

// GetSession returns one session row.
func (db *DB) GetSession(id string) (SessionRecord, error) {
	var rec SessionRecord
	err := db.QueryRow(`
		SELECT session_id, seq, trigger_ns, object_id, pre_frames, total_frames, artifact_path, status, reason
		FROM sessions WHERE session_id = ?
	`, id).Scan(&rec.ID, &rec.Seq, &rec.TriggerNanos, &rec.ObjectID, &rec.PreFrames, &rec.TotalFrames, &rec.ArtifactPath, &rec.Status, &rec.Reason)
	if err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}

// ListSessions returns the most recent sessions, newest trigger first.
func (db *DB) ListSessions(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT session_id, seq, trigger_ns, object_id, pre_frames, total_frames, artifact_path, status, reason
		FROM sessions ORDER BY trigger_ns DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.Seq, &rec.TriggerNanos, &rec.ObjectID, &rec.PreFrames, &rec.TotalFrames, &rec.ArtifactPath, &rec.Status, &rec.Reason); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TriggerRecord is one received trigger event, including ones the engine
// ignored.
type TriggerRecord struct {
	ID             string `json:"trigger_id"`
	TimestampNanos int64  `json:"ts_ns"`
	ObjectID       string `json:"object_id,omitempty"`
	Source         string `json:"source"`
	Disposition    string `json:"disposition"`
}

// RecordTrigger inserts a trigger event row.
func (db *DB) RecordTrigger(rec TriggerRecord) error {
	_, err := db.Exec(`
		INSERT INTO trigger_events (trigger_id, ts_ns, object_id, source, disposition)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.TimestampNanos, rec.ObjectID, rec.Source, rec.Disposition)
	if err != nil {
		return fmt.Errorf("failed to record trigger %s: %v", rec.ID, err)
	}
	return nil
}

// ListTriggers returns the most recent trigger events, newest first.
func (db *DB) ListTriggers(limit int) ([]TriggerRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT trigger_id, ts_ns, object_id, source, disposition
		FROM trigger_events ORDER BY ts_ns DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TriggerRecord
	for rows.Next() {
		var rec TriggerRecord
		if err := rows.Scan(&rec.ID, &rec.TimestampNanos, &rec.ObjectID, &rec.Source, &rec.Disposition); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
