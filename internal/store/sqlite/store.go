// Package sqlite archives rounds, event logs and tool execution records
// for post-round analysis. The engine holds live state in memory; this
// store is the durable trail.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cyber_range/internal/domain"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS rounds (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	red_team TEXT NOT NULL,
	blue_team TEXT NOT NULL,
	red_score INTEGER NOT NULL DEFAULT 0,
	blue_score INTEGER NOT NULL DEFAULT 0,
	current_phase TEXT NOT NULL,
	winner TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	ends_at INTEGER NOT NULL,
	ended_at INTEGER NULL
);

CREATE TABLE IF NOT EXISTS round_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	round_id TEXT NOT NULL,
	type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(round_id) REFERENCES rounds(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_round_events_round ON round_events(round_id, created_at);

CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	round_id TEXT NOT NULL,
	tool_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	target TEXT NOT NULL,
	success INTEGER NOT NULL,
	trace_generated INTEGER NOT NULL DEFAULT 0,
	effectiveness REAL NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(round_id) REFERENCES rounds(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_executions_round ON executions(round_id, created_at);
`

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) SaveRound(ctx context.Context, round domain.Round) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO rounds(
			id, status, red_team, blue_team, red_score, blue_score,
			current_phase, winner, started_at, ends_at, ended_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, '', ?, ?, NULL)`,
		round.ID, string(round.Status), round.RedTeam, round.BlueTeam,
		round.RedScore, round.BlueScore, round.CurrentPhase,
		round.StartedAt.Unix(), round.EndsAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save round: %w", err)
	}
	return nil
}

func (s *Store) UpdateRound(ctx context.Context, round domain.Round) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE rounds
		SET status = ?, red_score = ?, blue_score = ?, current_phase = ?
		WHERE id = ?`,
		string(round.Status), round.RedScore, round.BlueScore, round.CurrentPhase, round.ID,
	)
	if err != nil {
		return fmt.Errorf("update round: %w", err)
	}
	return nil
}

func (s *Store) FinishRound(ctx context.Context, summary domain.RoundSummary) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE rounds
		SET status = ?, red_score = ?, blue_score = ?, current_phase = ?, winner = ?, ended_at = ?
		WHERE id = ?`,
		string(domain.RoundStatusCompleted), summary.RedScore, summary.BlueScore,
		summary.FinalPhase, string(summary.Winner), summary.EndedAt.Unix(), summary.RoundID,
	)
	if err != nil {
		return fmt.Errorf("finish round: %w", err)
	}
	return nil
}

func (s *Store) GetRound(ctx context.Context, roundID string) (domain.Round, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, red_team, blue_team, red_score, blue_score, current_phase, started_at, ends_at
		FROM rounds WHERE id = ?`,
		roundID,
	)
	var r domain.Round
	var status string
	var started, ends int64
	if err := row.Scan(
		&r.ID, &status, &r.RedTeam, &r.BlueTeam, &r.RedScore, &r.BlueScore,
		&r.CurrentPhase, &started, &ends,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Round{}, fmt.Errorf("get round %s: %w", roundID, ErrNotFound)
		}
		return domain.Round{}, fmt.Errorf("get round: %w", err)
	}
	r.Status = domain.RoundStatus(status)
	r.StartedAt = unixToTime(started)
	r.EndsAt = unixToTime(ends)
	return r, nil
}

func (s *Store) ListRounds(ctx context.Context, limit int) ([]domain.Round, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, status, red_team, blue_team, red_score, blue_score, current_phase, started_at, ends_at
		FROM rounds ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Round, 0)
	for rows.Next() {
		var r domain.Round
		var status string
		var started, ends int64
		if err := rows.Scan(
			&r.ID, &status, &r.RedTeam, &r.BlueTeam, &r.RedScore, &r.BlueScore,
			&r.CurrentPhase, &started, &ends,
		); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		r.Status = domain.RoundStatus(status)
		r.StartedAt = unixToTime(started)
		r.EndsAt = unixToTime(ends)
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rounds: %w", err)
	}
	return result, nil
}

func (s *Store) AppendEvent(ctx context.Context, evt domain.Event) error {
	payload := string(evt.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO round_events(round_id, type, payload, created_at)
		VALUES(?, ?, ?, ?)`,
		evt.RoundID, string(evt.Type), payload, evt.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *Store) ListRoundEvents(ctx context.Context, roundID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT round_id, type, payload, created_at
		FROM round_events
		WHERE round_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`,
		roundID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list round events: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Event, 0, limit)
	for rows.Next() {
		var evt domain.Event
		var typ string
		var payload string
		var created int64
		if err := rows.Scan(&evt.RoundID, &typ, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan round event: %w", err)
		}
		evt.Type = domain.EventType(typ)
		evt.Payload = []byte(payload)
		evt.CreatedAt = unixToTime(created)
		result = append(result, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate round events: %w", err)
	}
	return result, nil
}

func (s *Store) AppendExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	success := 0
	if rec.Success {
		success = 1
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO executions(
			id, round_id, tool_id, agent_id, target, success, trace_generated, effectiveness, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RoundID, rec.ToolID, rec.AgentID, rec.Target,
		success, rec.TraceGenerated, rec.Effectiveness, rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append execution: %w", err)
	}
	return nil
}

func (s *Store) ListRoundExecutions(ctx context.Context, roundID string, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, round_id, tool_id, agent_id, target, success, trace_generated, effectiveness, created_at
		FROM executions
		WHERE round_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`,
		roundID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list round executions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ExecutionRecord, 0, limit)
	for rows.Next() {
		var rec domain.ExecutionRecord
		var success int
		var created int64
		if err := rows.Scan(
			&rec.ID, &rec.RoundID, &rec.ToolID, &rec.AgentID, &rec.Target,
			&success, &rec.TraceGenerated, &rec.Effectiveness, &created,
		); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.Success = success == 1
		rec.CreatedAt = unixToTime(created)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return result, nil
}

func unixToTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}
