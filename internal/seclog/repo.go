// Package seclog implements the structured security event log subsystem.
// Events are written asynchronously to a SQLite database.
package seclog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/gatewarden/gatewarden/internal/model"
)

// Repo owns the security event database.
type Repo struct {
	db *sql.DB
}

// OpenRepo opens (creating if needed) the event database under stateDir and
// applies migrations.
func OpenRepo(stateDir string) (*Repo, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("seclog: create state dir: %w", err)
	}
	path := filepath.Join(stateDir, "security_events.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("seclog: open %s: %w", path, err)
	}
	// Single writer; SQLite serializes anyway and this avoids lock churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("seclog: enable WAL: %w", err)
	}
	if err := migrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

// Close closes the database.
func (r *Repo) Close() error {
	return r.db.Close()
}

// InsertBatch writes a batch of events in a single transaction.
// Returns the number of rows inserted.
func (r *Repo) InsertBatch(events []model.SecurityEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("seclog insert: begin: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO security_events
		(id, ts_ns, kind, namespace, client_id, session_digest, source_addr, country, user_id, reason, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("seclog insert: prepare: %w", err)
	}
	defer stmt.Close()

	n := 0
	for _, e := range events {
		if _, err := stmt.Exec(
			e.ID, e.TsNs, e.Kind, e.Namespace, e.ClientID, e.SessionDigest,
			e.SourceAddr, e.Country, e.UserID, e.Reason, e.Detail,
		); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("seclog insert: exec: %w", err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("seclog insert: commit: %w", err)
	}
	return n, nil
}

// ListFilter narrows event queries. Zero values mean "no constraint".
type ListFilter struct {
	Kind       string
	ClientID   string
	SourceAddr string
	Namespace  string
	After      int64 // ts_ns strictly after
	Before     int64 // ts_ns strictly before
}

// List returns matching events, newest first, up to limit.
func (r *Repo) List(f ListFilter, limit int) ([]model.SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var where []string
	var args []any
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.ClientID != "" {
		where = append(where, "client_id = ?")
		args = append(args, f.ClientID)
	}
	if f.SourceAddr != "" {
		where = append(where, "source_addr = ?")
		args = append(args, f.SourceAddr)
	}
	if f.Namespace != "" {
		where = append(where, "namespace = ?")
		args = append(args, f.Namespace)
	}
	if f.After > 0 {
		where = append(where, "ts_ns > ?")
		args = append(args, f.After)
	}
	if f.Before > 0 {
		where = append(where, "ts_ns < ?")
		args = append(args, f.Before)
	}

	q := "SELECT id, ts_ns, kind, namespace, client_id, session_digest, source_addr, country, user_id, reason, detail FROM security_events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts_ns DESC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("seclog list: %w", err)
	}
	defer rows.Close()

	var out []model.SecurityEvent
	for rows.Next() {
		var e model.SecurityEvent
		if err := rows.Scan(
			&e.ID, &e.TsNs, &e.Kind, &e.Namespace, &e.ClientID, &e.SessionDigest,
			&e.SourceAddr, &e.Country, &e.UserID, &e.Reason, &e.Detail,
		); err != nil {
			return nil, fmt.Errorf("seclog list: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes events with ts_ns strictly below the cutoff.
// Returns the number of rows removed.
func (r *Repo) DeleteOlderThan(cutoffNs int64) (int64, error) {
	res, err := r.db.Exec("DELETE FROM security_events WHERE ts_ns < ?", cutoffNs)
	if err != nil {
		return 0, fmt.Errorf("seclog retention: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
