// ABOUTME: SQLite turn ledger using modernc.org/sqlite
// ABOUTME: Append-only audit trail of finished turns; never used to restore sessions

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/parley/internal/conversation"
)

// ErrNotFound is returned when a turn does not exist.
var ErrNotFound = errors.New("turn not found")

// writeTimeout bounds one observer write.
const writeTimeout = 5 * time.Second

// timeFormat is fixed width so timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// DefaultLimit caps ListTurns when the filter sets no limit.
const DefaultLimit = 100

// Store persists turn records.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Filter narrows ListTurns. Zero values match everything.
type Filter struct {
	SessionID string
	Model     string
	Outcome   conversation.Outcome
	Since     *time.Time
	Limit     int
}

// ModelStats aggregates turns for one model.
type ModelStats struct {
	Model         string  `json:"model"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	Cancelled     int     `json:"cancelled"`
	Total         int     `json:"total"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// Open creates or opens the ledger at path. The schema is created if needed
// and parent directories are created.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ledger")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("turn ledger initialized", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS turns (
			turn_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			model TEXT NOT NULL,
			prompt TEXT NOT NULL,
			reply TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			fault_reason TEXT NOT NULL DEFAULT '',
			fragments INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_turns_session
			ON turns(session_id, started_at);

		CREATE INDEX IF NOT EXISTS idx_turns_model_outcome
			ON turns(model, outcome);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTurn stores one finished turn.
func (s *Store) RecordTurn(ctx context.Context, rec *conversation.TurnRecord) error {
	query := `
		INSERT INTO turns (
			turn_id, session_id, model, prompt, reply, outcome, fault_reason,
			fragments, duration_ms, started_at, finished_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.SessionID,
		rec.Model,
		rec.Prompt,
		rec.Reply,
		string(rec.Outcome),
		rec.FaultReason,
		rec.Fragments,
		rec.Duration().Milliseconds(),
		rec.StartedAt.UTC().Format(timeFormat),
		rec.FinishedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}

	s.logger.Debug("recorded turn",
		"turn_id", rec.ID,
		"session_id", rec.SessionID,
		"model", rec.Model,
		"outcome", string(rec.Outcome),
	)
	return nil
}

// GetTurn returns one turn by id.
func (s *Store) GetTurn(ctx context.Context, id string) (*conversation.TurnRecord, error) {
	row := s.db.QueryRowContext(ctx, selectTurns+" WHERE turn_id = ?", id)
	rec, err := scanTurn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

const selectTurns = `
	SELECT turn_id, session_id, model, prompt, reply, outcome, fault_reason,
	       fragments, started_at, finished_at
	FROM turns
`

// ListTurns returns turns newest first.
func (s *Store) ListTurns(ctx context.Context, filter Filter) ([]*conversation.TurnRecord, error) {
	query := selectTurns + " WHERE 1=1"
	args := []any{}

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Model != "" {
		query += " AND model = ?"
		args = append(args, filter.Model)
	}
	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, string(filter.Outcome))
	}
	if filter.Since != nil {
		query += " AND started_at >= ?"
		args = append(args, filter.Since.UTC().Format(timeFormat))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*conversation.TurnRecord
	for rows.Next() {
		rec, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turn rows: %w", err)
	}
	return out, nil
}

// Stats aggregates turn outcomes per model, ordered by model id.
func (s *Store) Stats(ctx context.Context) ([]ModelStats, error) {
	query := `
		SELECT
			model,
			COALESCE(SUM(CASE WHEN outcome = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'cancelled' THEN 1 ELSE 0 END), 0),
			COUNT(*),
			COALESCE(AVG(duration_ms), 0)
		FROM turns
		GROUP BY model
		ORDER BY model
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying turn stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ModelStats
	for rows.Next() {
		var m ModelStats
		if err := rows.Scan(&m.Model, &m.Completed, &m.Failed, &m.Cancelled, &m.Total, &m.AvgDurationMS); err != nil {
			return nil, fmt.Errorf("scanning turn stats: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turn stats: %w", err)
	}
	return out, nil
}

// TurnStarted is a no-op; only finished turns are recorded.
func (s *Store) TurnStarted(sessionID, model string) {}

// TurnFinished records rec, logging rather than returning write failures.
func (s *Store) TurnFinished(rec conversation.TurnRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.RecordTurn(ctx, &rec); err != nil {
		s.logger.Error("failed to record turn",
			"turn_id", rec.ID,
			"session_id", rec.SessionID,
			"error", err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(row rowScanner) (*conversation.TurnRecord, error) {
	var rec conversation.TurnRecord
	var outcome, startedAt, finishedAt string

	err := row.Scan(
		&rec.ID,
		&rec.SessionID,
		&rec.Model,
		&rec.Prompt,
		&rec.Reply,
		&outcome,
		&rec.FaultReason,
		&rec.Fragments,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning turn row: %w", err)
	}

	rec.Outcome = conversation.Outcome(outcome)
	if rec.StartedAt, err = time.Parse(timeFormat, startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if rec.FinishedAt, err = time.Parse(timeFormat, finishedAt); err != nil {
		return nil, fmt.Errorf("parsing finished_at: %w", err)
	}
	return &rec, nil
}

// Ensure Store observes turns.
var _ conversation.TurnObserver = (*Store)(nil)
