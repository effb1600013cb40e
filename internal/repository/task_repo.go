package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"taskapi/internal/model"
	"taskapi/pkg/metrics"
	"taskapi/pkg/otel"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const tasksTable = "tasks"

const taskColumns = `id, title, description, priority, due_date, due_date_only, completed`

// PostgresTaskRepository stores tasks in PostgreSQL.
type PostgresTaskRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

var _ TaskRepository = (*PostgresTaskRepository)(nil)

func NewTaskRepository(db *pgxpool.Pool, logger *zap.Logger) *PostgresTaskRepository {
	return &PostgresTaskRepository{db: db, logger: logger}
}

// EnsureSchema creates the tasks table if it does not exist.
func (r *PostgresTaskRepository) EnsureSchema(ctx context.Context) error {
	query := `
        CREATE TABLE IF NOT EXISTS tasks (
            id            BIGSERIAL PRIMARY KEY,
            title         TEXT        NOT NULL,
            description   TEXT,
            priority      SMALLINT    NOT NULL CHECK (priority BETWEEN 1 AND 3),
            due_date      TIMESTAMPTZ NOT NULL,
            due_date_only BOOLEAN     NOT NULL DEFAULT FALSE,
            completed     BOOLEAN     NOT NULL DEFAULT FALSE,
            created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )
    `
	err := r.timed(ctx, "create_table", query, func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, query)
		return err
	})
	if err != nil {
		r.logger.Error("Failed to ensure tasks schema", zap.Error(err))
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *PostgresTaskRepository) Insert(ctx context.Context, t model.Task) (*model.Task, error) {
	r.logger.Debug("Inserting task",
		zap.String("title", t.Title),
		zap.Int("priority", int(t.Priority)),
	)
	query := `
        INSERT INTO tasks (title, description, priority, due_date, due_date_only, completed)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING ` + taskColumns

	var out *model.Task
	err := r.timed(ctx, "insert", query, func(ctx context.Context) error {
		var err error
		out, err = scanTask(r.db.QueryRow(ctx, query,
			t.Title,
			t.Description,
			int16(t.Priority),
			t.DueDate.Time,
			t.DueDate.DateOnly,
			t.Completed,
		))
		return err
	})
	if err != nil {
		r.logger.Error("Failed to insert task", zap.Error(err), zap.String("title", t.Title))
		return nil, fmt.Errorf("insert task: %w", err)
	}
	r.logger.Info("Task inserted successfully", zap.Int64("task_id", out.ID))
	return out, nil
}

func (r *PostgresTaskRepository) Get(ctx context.Context, id int64) (*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	var out *model.Task
	err := r.timed(ctx, "select", query, func(ctx context.Context) error {
		var err error
		out, err = scanTask(r.db.QueryRow(ctx, query, id))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get task", zap.Error(err), zap.Int64("task_id", id))
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return out, nil
}

// buildListQuery turns a filter into a WHERE clause with positional args.
func buildListQuery(filter model.TaskFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Completed != nil {
		conds = append(conds, "completed = "+next(*filter.Completed))
	}
	if filter.Priority != nil {
		conds = append(conds, "priority = "+next(int16(*filter.Priority)))
	}
	if filter.Search != "" {
		p := next(strings.ToLower(filter.Search))
		conds = append(conds, "(strpos(lower(title), "+p+") > 0 OR strpos(lower(coalesce(description, '')), "+p+") > 0)")
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id ASC"
	return query, args
}

func (r *PostgresTaskRepository) List(ctx context.Context, filter model.TaskFilter) ([]model.Task, error) {
	query, args := buildListQuery(filter)
	r.logger.Debug("Listing tasks", zap.String("query", query), zap.Int("args", len(args)))

	tasks := []model.Task{}
	err := r.timed(ctx, "select", query, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				return err
			}
			tasks = append(tasks, *t)
		}
		return rows.Err()
	})
	if err != nil {
		r.logger.Error("Failed to list tasks", zap.Error(err))
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	r.logger.Debug("Tasks listed successfully", zap.Int("count", len(tasks)))
	return tasks, nil
}

// Update locks the row for the duration of the mutation.
func (r *PostgresTaskRepository) Update(ctx context.Context, id int64, mutate func(*model.Task) error) (*model.Task, error) {
	selectQuery := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 FOR UPDATE`
	updateQuery := `
        UPDATE tasks
        SET title = $2, description = $3, priority = $4, due_date = $5,
            due_date_only = $6, completed = $7, updated_at = NOW()
        WHERE id = $1
        RETURNING ` + taskColumns

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin update of task %d: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current *model.Task
	err = r.timed(ctx, "select", selectQuery, func(ctx context.Context) error {
		var err error
		current, err = scanTask(tx.QueryRow(ctx, selectQuery, id))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		r.logger.Error("Failed to lock task", zap.Error(err), zap.Int64("task_id", id))
		return nil, fmt.Errorf("lock task %d: %w", id, err)
	}

	if err := mutate(current); err != nil {
		return nil, err
	}

	var out *model.Task
	err = r.timed(ctx, "update", updateQuery, func(ctx context.Context) error {
		var err error
		out, err = scanTask(tx.QueryRow(ctx, updateQuery,
			id,
			current.Title,
			current.Description,
			int16(current.Priority),
			current.DueDate.Time,
			current.DueDate.DateOnly,
			current.Completed,
		))
		return err
	})
	if err != nil {
		r.logger.Error("Failed to update task", zap.Error(err), zap.Int64("task_id", id))
		return nil, fmt.Errorf("update task %d: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update of task %d: %w", id, err)
	}

	r.logger.Info("Task updated successfully", zap.Int64("task_id", id))
	return out, nil
}

func (r *PostgresTaskRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM tasks WHERE id = $1`

	var affected int64
	err := r.timed(ctx, "delete", query, func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, query, id)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		r.logger.Error("Failed to delete task", zap.Error(err), zap.Int64("task_id", id))
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	r.logger.Info("Task deleted successfully", zap.Int64("task_id", id))
	return nil
}

func (r *PostgresTaskRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// timed wraps fn in a DB span and records its latency.
func (r *PostgresTaskRepository) timed(ctx context.Context, operation, query string, fn func(context.Context) error) error {
	start := time.Now()
	err := otel.Query(ctx, operation, query, fn)
	metrics.RecordDBQueryDuration(operation, tasksTable, time.Since(start))
	return err
}

func scanTask(row pgx.Row) (*model.Task, error) {
	var (
		t        model.Task
		priority int16
		due      time.Time
	)
	if err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&priority,
		&due,
		&t.DueDate.DateOnly,
		&t.Completed,
	); err != nil {
		return nil, err
	}
	t.Priority = model.Priority(priority)
	t.DueDate.Time = due.UTC()
	return &t, nil
}
