package task

import (
	"context"
	"errors"
	"fmt"

	"taskapi/internal/events"
	"taskapi/internal/model"
	"taskapi/internal/repository"
	"taskapi/pkg/logger"
	"taskapi/pkg/metrics"

	"go.uber.org/zap"
)

type Service struct {
	repo      repository.TaskRepository
	publisher events.Publisher
	logger    *zap.Logger
}

func NewService(repo repository.TaskRepository, publisher events.Publisher, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
	}
}

// Create validates req, stores the task and publishes task.created.
func (s *Service) Create(ctx context.Context, req model.CreateTaskRequest) (*model.Task, error) {
	if fields := req.Validate(); fields != nil {
		s.record("create", errInvalid)
		return nil, &ValidationError{Fields: fields}
	}

	t, err := s.repo.Insert(ctx, req.NewTask())
	if err != nil {
		s.record("create", err)
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.record("create", nil)

	if err := s.publisher.TaskCreated(ctx, *t); err != nil {
		s.publishFailed(ctx, "task.created", t.ID, err)
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*model.Task, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		s.record("get", err)
		return nil, s.translate(id, err)
	}
	s.record("get", nil)
	return t, nil
}

// List returns the tasks matching every criterion of filter, in insertion order.
func (s *Service) List(ctx context.Context, filter model.TaskFilter) ([]model.Task, error) {
	if filter.Priority != nil && !filter.Priority.Valid() {
		s.record("list", errInvalid)
		return nil, NewValidationError("priority", "must be 1 (high), 2 (medium) or 3 (low)")
	}
	tasks, err := s.repo.List(ctx, filter)
	if err != nil {
		s.record("list", err)
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	s.record("list", nil)
	return tasks, nil
}

// Update merges the non-nil fields of req into the stored task.
func (s *Service) Update(ctx context.Context, id int64, req model.UpdateTaskRequest) (*model.Task, error) {
	if fields := req.Validate(); fields != nil {
		s.record("update", errInvalid)
		return nil, &ValidationError{Fields: fields}
	}

	t, err := s.repo.Update(ctx, id, func(t *model.Task) error {
		req.ApplyTo(t)
		return nil
	})
	if err != nil {
		s.record("update", err)
		return nil, s.translate(id, err)
	}
	s.record("update", nil)

	if err := s.publisher.TaskUpdated(ctx, *t); err != nil {
		s.publishFailed(ctx, "task.updated", id, err)
	}
	return t, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		s.record("delete", err)
		return s.translate(id, err)
	}
	s.record("delete", nil)

	if err := s.publisher.TaskDeleted(ctx, id); err != nil {
		s.publishFailed(ctx, "task.deleted", id, err)
	}
	return nil
}

// Ping reports whether the task store can serve requests.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

var errInvalid = errors.New("invalid")

func (s *Service) translate(id int64, err error) error {
	if errors.Is(err, repository.ErrTaskNotFound) {
		return &NotFoundError{ID: id}
	}
	return fmt.Errorf("task %d: %w", id, err)
}

func (s *Service) record(operation string, err error) {
	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, errInvalid):
		result = "invalid"
	case errors.Is(err, repository.ErrTaskNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	metrics.IncrementTaskOperation(operation, result)
}

// publishFailed logs a lost event. The write it describes is already committed.
func (s *Service) publishFailed(ctx context.Context, routingKey string, id int64, err error) {
	logger.WithTrace(ctx, s.logger).Warn("Failed to publish task event",
		zap.String("routing_key", routingKey),
		zap.Int64("task_id", id),
		zap.Error(err),
	)
}
