package repository

import (
	"context"
	"sync"

	"taskapi/internal/model"

	"go.uber.org/zap"
)

// MemoryTaskRepository keeps tasks in process memory behind one RWMutex.
type MemoryTaskRepository struct {
	mu     sync.RWMutex
	tasks  map[int64]model.Task
	order  []int64
	nextID int64
	logger *zap.Logger
}

var _ TaskRepository = (*MemoryTaskRepository)(nil)

func NewMemoryTaskRepository(logger *zap.Logger) *MemoryTaskRepository {
	return &MemoryTaskRepository{
		tasks:  make(map[int64]model.Task),
		logger: logger,
	}
}

func (r *MemoryTaskRepository) Insert(_ context.Context, t model.Task) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	t = t.Clone()
	t.ID = r.nextID
	r.tasks[t.ID] = t
	r.order = append(r.order, t.ID)

	r.logger.Debug("Task inserted in memory", zap.Int64("task_id", t.ID))
	out := t.Clone()
	return &out, nil
}

func (r *MemoryTaskRepository) Get(_ context.Context, id int64) (*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	out := t.Clone()
	return &out, nil
}

func (r *MemoryTaskRepository) List(_ context.Context, filter model.TaskFilter) ([]model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := []model.Task{}
	for _, id := range r.order {
		t := r.tasks[id]
		if filter.Matches(t) {
			tasks = append(tasks, t.Clone())
		}
	}
	return tasks, nil
}

func (r *MemoryTaskRepository) Update(_ context.Context, id int64, mutate func(*model.Task) error) (*model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	next := current.Clone()
	if err := mutate(&next); err != nil {
		return nil, err
	}
	next.ID = id
	r.tasks[id] = next

	out := next.Clone()
	return &out, nil
}

func (r *MemoryTaskRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(r.tasks, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Debug("Task deleted from memory", zap.Int64("task_id", id))
	return nil
}

func (r *MemoryTaskRepository) Ping(context.Context) error {
	return nil
}
