// Package sqlite stores the decision log in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/decisionlog"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS decision_records (
    seq               INTEGER PRIMARY KEY AUTOINCREMENT,
    goal_id           TEXT NOT NULL,
    goal_type         TEXT NOT NULL,
    episode_id        TEXT NOT NULL DEFAULT '',
    step_id           TEXT NOT NULL DEFAULT '',
    result_ref        TEXT NOT NULL DEFAULT '',
    action            TEXT NOT NULL,
    confidence        REAL NOT NULL,
    reasoning         TEXT NOT NULL,
    source            TEXT NOT NULL,
    model_action      TEXT,
    model_confidence  REAL,
    model_reasoning   TEXT,
    escalated         INTEGER NOT NULL DEFAULT 0,
    resolves_seq      INTEGER NOT NULL DEFAULT 0,
    violation         TEXT NOT NULL DEFAULT '',
    created_at        TEXT NOT NULL
);
`

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_decision_records_goal_type ON decision_records(goal_type)`,
	`CREATE INDEX IF NOT EXISTS idx_decision_records_resolves ON decision_records(resolves_seq)`,
}

const columns = `seq, goal_id, goal_type, episode_id, step_id, result_ref,
	action, confidence, reasoning, source,
	model_action, model_confidence, model_reasoning,
	escalated, resolves_seq, violation, created_at`

// Log implements decisionlog.Log on SQLite.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database file and prepares the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Log, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to open sqlite", goerr.V("path", path))
	}
	// a single connection serializes writers and keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	l, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return l, db, nil
}

// New prepares the schema on db.
func New(db *sql.DB) (*Log, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, goerr.Wrap(err, "failed to create decision_records")
	}
	for _, stmt := range indexes {
		if _, err := db.Exec(stmt); err != nil {
			return nil, goerr.Wrap(err, "failed to create decision_records index")
		}
	}
	return &Log{db: db}, nil
}

func (l *Log) Append(ctx context.Context, rec decisionlog.Record) (decisionlog.Record, error) {
	if err := rec.Validate(); err != nil {
		return decisionlog.Record{}, err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	var (
		modelAction     sql.NullString
		modelConfidence sql.NullFloat64
		modelReasoning  sql.NullString
	)
	if m := rec.ModelJudgment; m != nil {
		modelAction = sql.NullString{String: string(m.Action), Valid: true}
		modelConfidence = sql.NullFloat64{Float64: m.Confidence, Valid: true}
		modelReasoning = sql.NullString{String: m.Reasoning, Valid: true}
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO decision_records
		(goal_id, goal_type, episode_id, step_id, result_ref,
		 action, confidence, reasoning, source,
		 model_action, model_confidence, model_reasoning,
		 escalated, resolves_seq, violation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.GoalID,
		rec.GoalType,
		rec.EpisodeID,
		rec.StepID,
		rec.ResultRef,
		string(rec.Judgment.Action),
		rec.Judgment.Confidence,
		rec.Judgment.Reasoning,
		string(rec.Judgment.Source),
		modelAction,
		modelConfidence,
		modelReasoning,
		boolToInt(rec.Escalated),
		int64(rec.ResolvesSeq), // #nosec G115
		rec.Violation,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return decisionlog.Record{}, goerr.Wrap(decisionlog.ErrAppendFailed, "insert failed", goerr.V("error", err.Error()), goerr.V("goal_id", rec.GoalID))
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return decisionlog.Record{}, goerr.Wrap(decisionlog.ErrAppendFailed, "failed to read sequence", goerr.V("error", err.Error()))
	}
	rec.Seq = uint64(seq) // #nosec G115
	return rec, nil
}

func (l *Log) Query(ctx context.Context, filter decisionlog.Filter) ([]decisionlog.Record, error) {
	var (
		where []string
		args  []any
	)
	if filter.GoalType != "" {
		where = append(where, "goal_type = ?")
		args = append(args, filter.GoalType)
	}
	if filter.EpisodeID != "" {
		where = append(where, "episode_id = ?")
		args = append(args, filter.EpisodeID)
	}
	if filter.Source != "" {
		where = append(where, "source = ?")
		args = append(args, string(filter.Source))
	}
	if filter.Escalated {
		where = append(where, "escalated = 1")
	}
	if filter.Resolutions {
		where = append(where, "resolves_seq > 0")
	}
	if filter.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, int64(filter.AfterSeq)) // #nosec G115
	}

	query := "SELECT " + columns + " FROM decision_records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query decision_records")
	}
	defer rows.Close()

	var out []decisionlog.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate decision_records")
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (decisionlog.Record, error) {
	var (
		rec             decisionlog.Record
		seq             int64
		resolvesSeq     int64
		action, source  string
		modelAction     sql.NullString
		modelConfidence sql.NullFloat64
		modelReasoning  sql.NullString
		escalated       int
		createdAt       string
	)

	if err := rows.Scan(
		&seq, &rec.GoalID, &rec.GoalType, &rec.EpisodeID, &rec.StepID, &rec.ResultRef,
		&action, &rec.Judgment.Confidence, &rec.Judgment.Reasoning, &source,
		&modelAction, &modelConfidence, &modelReasoning,
		&escalated, &resolvesSeq, &rec.Violation, &createdAt,
	); err != nil {
		return rec, goerr.Wrap(err, "failed to scan decision record")
	}

	rec.Seq = uint64(seq)                 // #nosec G115
	rec.ResolvesSeq = uint64(resolvesSeq) // #nosec G115
	rec.Judgment.Action = tribunal.Action(action)
	rec.Judgment.Source = tribunal.Source(source)
	rec.Escalated = escalated == 1

	if modelAction.Valid {
		rec.ModelJudgment = &tribunal.Judgment{
			Action:     tribunal.Action(modelAction.String),
			Confidence: modelConfidence.Float64,
			Reasoning:  modelReasoning.String,
			Source:     tribunal.SourceModel,
		}
	}

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return rec, goerr.Wrap(err, "invalid created_at", goerr.V("seq", seq), goerr.V("created_at", createdAt))
	}
	rec.Timestamp = ts
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
