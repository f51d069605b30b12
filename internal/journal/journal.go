// Package journal persists the security audit trail: every dispatched
// action and every trust level transition, in a local SQLite database.
// The journal is append-only from the engine's point of view; rows are
// only ever read back for inspection.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sentinel/internal/behavior"
)

// Schema for the sentinel audit journal.
const schema = `
CREATE TABLE IF NOT EXISTS security_actions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    at_ms       INTEGER NOT NULL,
    action      TEXT NOT NULL,
    reason      TEXT,
    score       REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actions_at ON security_actions(at_ms);

CREATE TABLE IF NOT EXISTS trust_transitions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    at_ms       INTEGER NOT NULL,
    from_level  TEXT NOT NULL,
    to_level    TEXT NOT NULL,
    from_score  REAL NOT NULL,
    to_score    REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_at ON trust_transitions(at_ms);
`

// ActionRecord is one dispatched security action.
type ActionRecord struct {
	ID     int64
	At     time.Time
	Action behavior.Action
	Reason string
	Score  float64
}

// TransitionRecord is one trust level transition.
type TransitionRecord struct {
	ID        int64
	At        time.Time
	FromLevel behavior.TrustLevel
	ToLevel   behavior.TrustLevel
	FromScore float64
	ToScore   float64
}

// Journal is the SQLite-backed audit trail.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal database at the given path.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// RecordAction appends a dispatched security action.
func (j *Journal) RecordAction(action behavior.Action, reason string, score float64) error {
	_, err := j.db.Exec(`
		INSERT INTO security_actions (at_ms, action, reason, score)
		VALUES (?, ?, ?, ?)`,
		time.Now().UnixMilli(), string(action), reason, score,
	)
	if err != nil {
		return fmt.Errorf("insert security action: %w", err)
	}
	return nil
}

// RecordTransition appends a trust level transition.
func (j *Journal) RecordTransition(prev, cur behavior.TrustSnapshot) error {
	at := cur.CapturedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.Exec(`
		INSERT INTO trust_transitions (at_ms, from_level, to_level, from_score, to_score)
		VALUES (?, ?, ?, ?, ?)`,
		at.UnixMilli(), prev.Level.String(), cur.Level.String(), prev.Score, cur.Score,
	)
	if err != nil {
		return fmt.Errorf("insert trust transition: %w", err)
	}
	return nil
}

// RecentActions returns the most recent actions, newest first.
func (j *Journal) RecentActions(limit int) ([]ActionRecord, error) {
	rows, err := j.db.Query(`
		SELECT id, at_ms, action, reason, score
		FROM security_actions
		ORDER BY at_ms DESC, id DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query security actions: %w", err)
	}
	defer rows.Close()

	var records []ActionRecord
	for rows.Next() {
		var r ActionRecord
		var atMs int64
		var action string
		if err := rows.Scan(&r.ID, &atMs, &action, &r.Reason, &r.Score); err != nil {
			return nil, fmt.Errorf("scan security action: %w", err)
		}
		r.At = time.UnixMilli(atMs)
		r.Action = behavior.Action(action)
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security actions: %w", err)
	}

	return records, nil
}

// RecentTransitions returns the most recent trust transitions, newest first.
func (j *Journal) RecentTransitions(limit int) ([]TransitionRecord, error) {
	rows, err := j.db.Query(`
		SELECT id, at_ms, from_level, to_level, from_score, to_score
		FROM trust_transitions
		ORDER BY at_ms DESC, id DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query trust transitions: %w", err)
	}
	defer rows.Close()

	var records []TransitionRecord
	for rows.Next() {
		var r TransitionRecord
		var atMs int64
		var from, to string
		if err := rows.Scan(&r.ID, &atMs, &from, &to, &r.FromScore, &r.ToScore); err != nil {
			return nil, fmt.Errorf("scan trust transition: %w", err)
		}
		r.At = time.UnixMilli(atMs)
		fromLevel, err := behavior.ParseTrustLevel(from)
		if err != nil {
			return nil, fmt.Errorf("parse from_level: %w", err)
		}
		toLevel, err := behavior.ParseTrustLevel(to)
		if err != nil {
			return nil, fmt.Errorf("parse to_level: %w", err)
		}
		r.FromLevel = fromLevel
		r.ToLevel = toLevel
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trust transitions: %w", err)
	}

	return records, nil
}

// CountActions returns the number of recorded actions since the given time.
func (j *Journal) CountActions(since time.Time) (int64, error) {
	var n int64
	err := j.db.QueryRow(`
		SELECT COUNT(*) FROM security_actions WHERE at_ms >= ?`,
		since.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count security actions: %w", err)
	}
	return n, nil
}
