package mq

import "time"

// Routing keys for task lifecycle events on the "tasks.events" exchange.
const (
	RoutingKeyTaskCreated = "task.created"
	RoutingKeyTaskUpdated = "task.updated"
	RoutingKeyTaskDeleted = "task.deleted"
)

// TaskSnapshot is the task state carried by an event.
type TaskSnapshot struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Priority    int     `json:"priority"`
	DueDate     string  `json:"due_date"` // YYYY-MM-DD or RFC 3339, as submitted
	Completed   bool    `json:"completed"`
}

// TaskEventPayload is published after every successful write.
// Task is nil for task.deleted.
type TaskEventPayload struct {
	TaskID     int64         `json:"task_id"`
	Task       *TaskSnapshot `json:"task,omitempty"`
	TraceID    string        `json:"trace_id,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}
