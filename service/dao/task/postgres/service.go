package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/viant/overseer/model/task"
	"github.com/viant/overseer/service/dao"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Service stores task records in Postgres, one JSONB row per task.
type Service struct {
	pool *pgxpool.Pool
}

var _ dao.Service[string, task.Task] = (*Service)(nil)

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Service, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Service{pool: pool}, nil
}

func (s *Service) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RunMigrations executes the embedded SQL migrations in order.
func (s *Service) RunMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		content, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
	}
	return nil
}

// Save upserts a task row.
func (s *Service) Save(ctx context.Context, aTask *task.Task) error {
	if aTask == nil {
		return dao.ErrNilEntity
	}
	if aTask.ID == "" {
		return dao.ErrInvalidID
	}
	record, err := json.Marshal(aTask)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (id, status, category, created_at, updated_at, record)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at, record = EXCLUDED.record`,
		aTask.ID, string(aTask.Status), string(aTask.Category), aTask.CreatedAt, aTask.UpdatedAt, record)
	if err != nil {
		return fmt.Errorf("save task %s: %w", aTask.ID, err)
	}
	return nil
}

// Load returns a task by id.
func (s *Service) Load(ctx context.Context, id string) (*task.Task, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	var record []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM tasks WHERE id = $1`, id).Scan(&record)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, dao.ErrNotFound
		}
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}
	var aTask task.Task
	if err := json.Unmarshal(record, &aTask); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &aTask, nil
}

// Delete removes a task row.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return dao.ErrNotFound
	}
	return nil
}

// List returns tasks ordered by creation time, narrowed by status/category.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*task.Task, error) {
	query := `SELECT record FROM tasks`
	var (
		where []string
		args  []any
	)
	if status, ok := dao.Lookup(dao.ParamStatus, parameters...); ok {
		args = append(args, status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if category, ok := dao.Lookup(dao.ParamCategory, parameters...); ok {
		args = append(args, category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		var aTask task.Task
		if err := json.Unmarshal(record, &aTask); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		tasks = append(tasks, &aTask)
	}
	return tasks, rows.Err()
}
