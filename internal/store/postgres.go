package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/Ai-Whisperers/LangAi-sub013/internal/research"
)

// Postgres stores each record as a JSONB payload with the columns queries
// filter on lifted out alongside it.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection, verifies it and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := &Postgres{db: db}
	if err := p.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresFromDB wraps an existing handle without touching the schema.
func NewPostgresFromDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS research_tasks (
			id         TEXT PRIMARY KEY,
			subject    TEXT NOT NULL,
			status     TEXT NOT NULL,
			payload    JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS research_tasks_status_idx ON research_tasks (status)`,
		`CREATE TABLE IF NOT EXISTS research_batches (
			id         TEXT PRIMARY KEY,
			payload    JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) SaveTask(ctx context.Context, t *research.Task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO research_tasks (id, subject, status, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			payload = EXCLUDED.payload,
			updated_at = NOW()`,
		t.ID, t.Subject.Name, string(t.Status), payload, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (p *Postgres) GetTask(ctx context.Context, id string) (*research.Task, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT payload FROM research_tasks WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, research.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	var t research.Task
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, nil
}

func (p *Postgres) ListTasks(ctx context.Context, f TaskFilter) ([]*research.Task, error) {
	query := `SELECT payload FROM research_tasks`
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Subject != "" {
		args = append(args, "%"+f.Subject+"%")
		clauses = append(clauses, fmt.Sprintf("subject ILIKE $%d", len(args)))
	}
	if !f.CreatedFrom.IsZero() {
		args = append(args, f.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !f.CreatedTo.IsZero() {
		args = append(args, f.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at ASC, id ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*research.Task
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		var t research.Task
		if err := json.Unmarshal(payload, &t); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveBatch(ctx context.Context, b *research.Batch) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO research_batches (id, payload, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload`,
		b.ID, payload, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("save batch %s: %w", b.ID, err)
	}
	return nil
}

func (p *Postgres) GetBatch(ctx context.Context, id string) (*research.Batch, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT payload FROM research_batches WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, research.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}
	var b research.Batch
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil, fmt.Errorf("decode batch %s: %w", id, err)
	}
	return &b, nil
}

func (p *Postgres) Close() error { return p.db.Close() }
