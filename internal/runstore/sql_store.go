package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"liberator/internal/types"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "pgx"
)

// SQLStore keeps one JSON document per run.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect

	schemaOnce sync.Once
	schemaErr  error
}

func OpenSQL(dialect Dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(string(dialect), strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if dialect == DialectSQLite {
		// one writer; modernc serializes on the connection anyway
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS pipeline_runs (
  run_id TEXT PRIMARY KEY,
  stage TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  snapshot TEXT NOT NULL
)`)
	})
	return s.schemaErr
}

// rebind rewrites ? placeholders for postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Save(ctx context.Context, run types.PipelineRun) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	doc, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
INSERT INTO pipeline_runs (run_id, stage, created_at, updated_at, snapshot)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (run_id) DO UPDATE SET
  stage = excluded.stage,
  updated_at = excluded.updated_at,
  snapshot = excluded.snapshot`),
		run.ID, run.Stage.String(),
		run.CreatedAt.UTC().Format(time.RFC3339Nano),
		run.UpdatedAt.UTC().Format(time.RFC3339Nano),
		string(doc))
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (types.PipelineRun, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return types.PipelineRun{}, err
	}
	var doc string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT snapshot FROM pipeline_runs WHERE run_id = ?`), strings.TrimSpace(id)).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PipelineRun{}, ErrNotFound
	}
	if err != nil {
		return types.PipelineRun{}, err
	}
	var run types.PipelineRun
	if err := json.Unmarshal([]byte(doc), &run); err != nil {
		return types.PipelineRun{}, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, nil
}

func (s *SQLStore) List(ctx context.Context) ([]types.PipelineRun, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT snapshot FROM pipeline_runs ORDER BY created_at DESC, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.PipelineRun
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var run types.PipelineRun
		if err := json.Unmarshal([]byte(doc), &run); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error { return s.db.Close() }
