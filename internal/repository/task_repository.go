package repository

import (
	"context"
	"errors"

	"taskapi/internal/model"
)

var ErrTaskNotFound = errors.New("task not found")

// TaskRepository is the authoritative holder of task records.
type TaskRepository interface {
	// Insert assigns a fresh id to t and stores it.
	Insert(ctx context.Context, t model.Task) (*model.Task, error)
	Get(ctx context.Context, id int64) (*model.Task, error)
	// List returns matching tasks in insertion order.
	List(ctx context.Context, filter model.TaskFilter) ([]model.Task, error)
	// Update applies mutate to the stored record atomically. If mutate
	// returns an error the record is left unchanged and that error is returned.
	Update(ctx context.Context, id int64, mutate func(*model.Task) error) (*model.Task, error)
	Delete(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}
