package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"taskapi/internal/model"
	"taskapi/internal/service/task"
	"taskapi/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TaskService is the subset of the task service the HTTP layer needs.
type TaskService interface {
	Create(ctx context.Context, req model.CreateTaskRequest) (*model.Task, error)
	Get(ctx context.Context, id int64) (*model.Task, error)
	List(ctx context.Context, filter model.TaskFilter) ([]model.Task, error)
	Update(ctx context.Context, id int64, req model.UpdateTaskRequest) (*model.Task, error)
	Delete(ctx context.Context, id int64) error
}

type TaskHandler struct {
	svc    TaskService
	logger *zap.Logger
}

func NewTaskHandler(svc TaskService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{svc: svc, logger: logger}
}

// CreateTask handles POST /tasks.
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req model.CreateTaskRequest
	if err := bindJSON(c, &req); err != nil {
		h.writeError(c, "CreateTask", bindError(err))
		return
	}

	t, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, "CreateTask", err)
		return
	}

	h.log(c).Info("CreateTask: success", zap.Int64("task_id", t.ID))
	c.JSON(http.StatusOK, t)
}

// ListTasks handles GET /tasks?completed=&priority=&search=.
func (h *TaskHandler) ListTasks(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		h.writeError(c, "ListTasks", err)
		return
	}

	tasks, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, "ListTasks", err)
		return
	}

	h.log(c).Debug("ListTasks: success", zap.Int("task_count", len(tasks)))
	c.JSON(http.StatusOK, tasks)
}

// GetTask handles GET /tasks/:id.
func (h *TaskHandler) GetTask(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		h.writeError(c, "GetTask", err)
		return
	}

	t, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "GetTask", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// UpdateTask handles PUT /tasks/:id with merge semantics.
func (h *TaskHandler) UpdateTask(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		h.writeError(c, "UpdateTask", err)
		return
	}

	var req model.UpdateTaskRequest
	if err := bindJSON(c, &req); err != nil {
		h.writeError(c, "UpdateTask", bindError(err))
		return
	}

	t, err := h.svc.Update(c.Request.Context(), id, req)
	if err != nil {
		h.writeError(c, "UpdateTask", err)
		return
	}

	h.log(c).Info("UpdateTask: success", zap.Int64("task_id", id))
	c.JSON(http.StatusOK, t)
}

// DeleteTask handles DELETE /tasks/:id.
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		h.writeError(c, "DeleteTask", err)
		return
	}

	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, "DeleteTask", err)
		return
	}

	h.log(c).Info("DeleteTask: success", zap.Int64("task_id", id))
	c.JSON(http.StatusOK, gin.H{"message": "Task deleted successfully."})
}

func (h *TaskHandler) log(c *gin.Context) *zap.Logger {
	return logger.WithTrace(c.Request.Context(), h.logger)
}

// writeError is the single mapping point from service errors to HTTP responses.
func (h *TaskHandler) writeError(c *gin.Context, op string, err error) {
	var (
		ve *task.ValidationError
		nf *task.NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		h.log(c).Warn(op+": invalid request", zap.Any("fields", ve.Fields))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "fields": ve.Fields})
	case errors.As(err, &nf):
		h.log(c).Warn(op+": task not found", zap.Int64("task_id", nf.ID))
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	default:
		h.log(c).Error(op+": failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func parseID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, task.NewValidationError("id", "must be an integer")
	}
	return id, nil
}

func parseFilter(c *gin.Context) (model.TaskFilter, error) {
	var filter model.TaskFilter

	if raw, ok := c.GetQuery("completed"); ok && raw != "" {
		completed, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, task.NewValidationError("completed", "must be true or false")
		}
		filter.Completed = &completed
	}
	if raw, ok := c.GetQuery("priority"); ok && raw != "" {
		p, err := model.ParsePriority(raw)
		if err != nil {
			var fe *model.FieldError
			if errors.As(err, &fe) {
				return filter, task.NewValidationError(fe.Field, fe.Message)
			}
			return filter, err
		}
		filter.Priority = &p
	}
	filter.Search = c.Query("search")
	return filter, nil
}

var errTrailingData = errors.New("unexpected data after JSON object")

// bindJSON decodes exactly one JSON value from the request body.
func bindJSON(c *gin.Context, v any) error {
	if c.Request.Body == nil {
		return io.EOF
	}
	dec := json.NewDecoder(c.Request.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}

// bindError converts a JSON decoding failure into a field-level ValidationError.
func bindError(err error) error {
	var (
		fe  *model.FieldError
		ute *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &fe):
		return task.NewValidationError(fe.Field, fe.Message)
	case errors.As(err, &ute) && ute.Field != "":
		return task.NewValidationError(ute.Field, "must be a "+ute.Type.String())
	default:
		return task.NewValidationError("body", "must be a valid JSON object")
	}
}
