package events

import (
	"context"
	"time"

	mqcontracts "taskapi/contracts/mq"
	"taskapi/internal/model"
	"taskapi/pkg/circuitbreaker"
	"taskapi/pkg/metrics"
	"taskapi/pkg/trace"

	"go.uber.org/zap"
)

// Publisher hands task events to the outside world.
type Publisher interface {
	TaskCreated(ctx context.Context, t model.Task) error
	TaskUpdated(ctx context.Context, t model.Task) error
	TaskDeleted(ctx context.Context, id int64) error
}

// Sender is the transport used by BrokerPublisher; *mq.Publisher implements it.
type Sender interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// NoopPublisher drops every event. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) TaskCreated(context.Context, model.Task) error { return nil }
func (NoopPublisher) TaskUpdated(context.Context, model.Task) error { return nil }
func (NoopPublisher) TaskDeleted(context.Context, int64) error      { return nil }

// BrokerPublisher sends events through a circuit breaker so a dead broker
// costs one fast failure per request instead of a timeout.
type BrokerPublisher struct {
	sender  Sender
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	now     func() time.Time
}

var _ Publisher = (*BrokerPublisher)(nil)

func NewBrokerPublisher(sender Sender, cfg circuitbreaker.Config, logger *zap.Logger) *BrokerPublisher {
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("Event publisher circuit state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &BrokerPublisher{
		sender:  sender,
		breaker: circuitbreaker.NewCircuitBreaker(cfg),
		logger:  logger,
		now:     time.Now,
	}
}

func (p *BrokerPublisher) TaskCreated(ctx context.Context, t model.Task) error {
	return p.publish(ctx, mqcontracts.RoutingKeyTaskCreated, t.ID, snapshot(t))
}

func (p *BrokerPublisher) TaskUpdated(ctx context.Context, t model.Task) error {
	return p.publish(ctx, mqcontracts.RoutingKeyTaskUpdated, t.ID, snapshot(t))
}

func (p *BrokerPublisher) TaskDeleted(ctx context.Context, id int64) error {
	return p.publish(ctx, mqcontracts.RoutingKeyTaskDeleted, id, nil)
}

func (p *BrokerPublisher) publish(ctx context.Context, routingKey string, id int64, task *mqcontracts.TaskSnapshot) error {
	payload := mqcontracts.TaskEventPayload{
		TaskID:     id,
		Task:       task,
		TraceID:    trace.FromContext(ctx),
		OccurredAt: p.now().UTC(),
	}

	err := p.breaker.Execute(func() error {
		return p.sender.Publish(ctx, routingKey, payload)
	})
	if err != nil {
		metrics.IncrementEventPublish(routingKey, "failed")
		return err
	}
	metrics.IncrementEventPublish(routingKey, "published")
	p.logger.Debug("Task event published",
		zap.String("routing_key", routingKey),
		zap.Int64("task_id", id),
	)
	return nil
}

func snapshot(t model.Task) *mqcontracts.TaskSnapshot {
	return &mqcontracts.TaskSnapshot{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Priority:    int(t.Priority),
		DueDate:     t.DueDate.String(),
		Completed:   t.Completed,
	}
}
