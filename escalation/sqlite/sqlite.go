// Package sqlite persists pending escalations in SQLite so they survive a
// restart of the process hosting the episodes.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal/escalation"

	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS escalations (
    id          TEXT PRIMARY KEY,
    episode_id  TEXT NOT NULL,
    status      TEXT NOT NULL,
    created_at  TEXT NOT NULL,
    body        TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status)`,
}

// Store implements escalation.Store.
type Store struct {
	db *sql.DB
}

// New prepares the schema on db.
func New(db *sql.DB) (*Store, error) {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return nil, goerr.Wrap(err, "failed to create escalations table")
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Save(ctx context.Context, p escalation.Pending) error {
	body, err := json.Marshal(p)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal escalation", goerr.V("id", p.ID))
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO escalations (id, episode_id, status, created_at, body)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, body = excluded.body`,
		p.ID,
		p.EpisodeID,
		string(p.Status),
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
		string(body),
	); err != nil {
		return goerr.Wrap(err, "failed to save escalation", goerr.V("id", p.ID))
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*escalation.Pending, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM escalations WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(escalation.ErrNotFound, "no such escalation", goerr.V("id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get escalation", goerr.V("id", id))
	}

	var p escalation.Pending
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal escalation", goerr.V("id", id))
	}
	return &p, nil
}

func (s *Store) List(ctx context.Context, status escalation.Status) ([]escalation.Pending, error) {
	query := `SELECT body FROM escalations`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list escalations")
	}
	defer rows.Close()

	var out []escalation.Pending
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, goerr.Wrap(err, "failed to scan escalation")
		}
		var p escalation.Pending
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal escalation")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate escalations")
	}
	return out, nil
}

var _ escalation.Store = (*Store)(nil)
