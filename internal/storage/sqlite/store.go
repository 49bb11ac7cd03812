package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/campaign-gateway/internal/storage"
)

// Store is a SQLite implementation of RunStore
type Store struct {
	db *sql.DB
}

var _ storage.RunStore = (*Store)(nil)

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS campaign_runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			callback_url TEXT,
			result TEXT,
			error TEXT,
			stages TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_campaign_runs_created ON campaign_runs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_campaign_runs_status ON campaign_runs(status)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func marshalStages(stages []storage.StageTrace) (string, error) {
	if stages == nil {
		stages = []storage.StageTrace{}
	}
	b, err := json.Marshal(stages)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stages: %w", err)
	}
	return string(b), nil
}

func (s *Store) Create(ctx context.Context, run *storage.Run) error {
	stages, err := marshalStages(run.Stages)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	query := `INSERT INTO campaign_runs (id, kind, status, callback_url, result, error, stages, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		run.ID, string(run.Kind), string(run.Status), run.CallbackURL, run.Result, run.Error,
		stages, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

func (s *Store) Update(ctx context.Context, run *storage.Run) error {
	stages, err := marshalStages(run.Stages)
	if err != nil {
		return err
	}

	run.UpdatedAt = time.Now().UTC()

	query := `UPDATE campaign_runs
	          SET kind = ?, status = ?, callback_url = ?, result = ?, error = ?, stages = ?, updated_at = ?
	          WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query,
		string(run.Kind), string(run.Status), run.CallbackURL, run.Result, run.Error,
		stages, run.UpdatedAt, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, storage.ErrNotFound)
	}

	return nil
}

const selectRun = `SELECT id, kind, status, callback_url, result, error, stages, created_at, updated_at
	          FROM campaign_runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*storage.Run, error) {
	var (
		run                          storage.Run
		kind, status                 string
		callbackURL, result, errText sql.NullString
		stagesJSON                   string
	)

	if err := row.Scan(&run.ID, &kind, &status, &callbackURL, &result, &errText,
		&stagesJSON, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}

	run.Kind = storage.Kind(kind)
	run.Status = storage.Status(status)
	run.CallbackURL = callbackURL.String
	run.Result = result.String
	run.Error = errText.String

	if err := json.Unmarshal([]byte(stagesJSON), &run.Stages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stages: %w", err)
	}

	return &run, nil
}

func (s *Store) Get(ctx context.Context, id string) (*storage.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]*storage.Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, selectRun+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*storage.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
