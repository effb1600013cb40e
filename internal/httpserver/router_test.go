package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"taskapi/internal/handler"
	"taskapi/internal/repository"
	"taskapi/internal/service/task"
	"taskapi/pkg/trace"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type taskResp struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Priority    int     `json:"priority"`
	DueDate     string  `json:"due_date"`
	Completed   bool    `json:"completed"`
}

type errorResp struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

func newTestRouter(t *testing.T, checks ...ReadinessCheck) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	svc := task.NewService(repository.NewMemoryTaskRepository(log), nil, log)
	return NewRouter(handler.NewTaskHandler(svc, log), log, checks...)
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return v
}

func createTask(t *testing.T, r http.Handler, body string) taskResp {
	t.Helper()
	w := do(t, r, http.MethodPost, "/tasks", body)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /tasks: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	return decode[taskResp](t, w)
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t)
	for _, path := range []string{"/health", "/healthz"} {
		w := do(t, r, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, w.Code)
		}
		w = do(t, r, http.MethodHead, path, "")
		if w.Code != http.StatusOK {
			t.Errorf("HEAD %s: expected 200, got %d", path, w.Code)
		}
	}
}

func TestReadiness(t *testing.T) {
	r := newTestRouter(t, ReadinessCheck{Name: "store", Check: func(context.Context) error { return nil }})
	if w := do(t, r, http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	r = newTestRouter(t, ReadinessCheck{Name: "cache", Check: func(context.Context) error { return errors.New("down") }})
	w := do(t, r, http.MethodGet, "/readyz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "cache_not_ready") {
		t.Errorf("expected failing dependency in body, got %s", w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(t)
	do(t, r, http.MethodGet, "/health", "")
	w := do(t, r, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "http_request_duration_seconds") {
		t.Error("expected HTTP duration histogram in exposition")
	}
}

func TestTraceIDIsEchoed(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(trace.HeaderName, "given-id")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(trace.HeaderName); got != "given-id" {
		t.Errorf("expected echoed trace id, got %q", got)
	}

	w = do(t, r, http.MethodGet, "/health", "")
	if got := w.Header().Get(trace.HeaderName); len(got) != 32 {
		t.Errorf("expected generated trace id, got %q", got)
	}
}

// The end-to-end scenario: create, read, merge-update, delete.
func TestTaskLifecycle(t *testing.T) {
	r := newTestRouter(t)

	created := createTask(t, r, `{"title":"title","priority":"1","due_date":"2025-09-18"}`)
	if created.ID == 0 {
		t.Fatal("expected assigned id")
	}
	if created.Title != "title" || created.Priority != 1 || created.DueDate != "2025-09-18" ||
		created.Completed || created.Description != nil {
		t.Fatalf("created task does not echo input: %+v", created)
	}

	path := "/tasks/" + strconv.FormatInt(created.ID, 10)
	w := do(t, r, http.MethodGet, path, "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET: expected 200, got %d", w.Code)
	}
	if got := decode[taskResp](t, w); got.Title != created.Title || got.DueDate != created.DueDate || got.Priority != created.Priority {
		t.Errorf("GET returned %+v, want %+v", got, created)
	}

	w = do(t, r, http.MethodPut, path, `{"description":"desc"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	got := decode[taskResp](t, do(t, r, http.MethodGet, path, ""))
	if got.Description == nil || *got.Description != "desc" {
		t.Errorf("expected description desc, got %v", got.Description)
	}
	if got.Title != "title" || got.Priority != 1 || got.DueDate != "2025-09-18" || got.Completed {
		t.Errorf("PUT clobbered fields: %+v", got)
	}

	w = do(t, r, http.MethodDelete, path, "")
	if w.Code != http.StatusOK {
		t.Fatalf("DELETE: expected 200, got %d", w.Code)
	}
	if msg := decode[map[string]string](t, w)["message"]; msg != "Task deleted successfully." {
		t.Errorf("unexpected delete message %q", msg)
	}

	if w = do(t, r, http.MethodGet, path, ""); w.Code != http.StatusNotFound {
		t.Fatalf("GET after DELETE: expected 404, got %d", w.Code)
	}
}

func TestCreateWithTimestampAndDescription(t *testing.T) {
	r := newTestRouter(t)
	created := createTask(t, r, `{"title":"title","description":"desc","priority":1,"due_date":"2025-09-10T05:03:43Z"}`)
	if created.DueDate != "2025-09-10T05:03:43Z" {
		t.Errorf("expected timestamp echo, got %q", created.DueDate)
	}
	if created.Description == nil || *created.Description != "desc" {
		t.Errorf("unexpected description %v", created.Description)
	}
}

func TestCreateUnprocessable(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"wrong type", `{"title":36}`, "title"},
		{"missing fields", `{"title":"t"}`, "priority"},
		{"bad priority", `{"title":"t","priority":"urgent","due_date":"2025-09-18"}`, "priority"},
		{"priority out of range", `{"title":"t","priority":5,"due_date":"2025-09-18"}`, "priority"},
		{"bad date", `{"title":"t","priority":1,"due_date":"18/09/2025"}`, "due_date"},
		{"empty title", `{"title":"  ","priority":1,"due_date":"2025-09-18"}`, "title"},
		{"not json", `title=t`, "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/tasks", tt.body)
			if w.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
			}
			resp := decode[errorResp](t, w)
			if _, ok := resp.Fields[tt.field]; !ok {
				t.Errorf("expected field %q in %v", tt.field, resp.Fields)
			}
		})
	}
}

func TestListEmpty(t *testing.T) {
	r := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/tasks", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", w.Body.String())
	}
}

func TestListFilters(t *testing.T) {
	r := newTestRouter(t)

	a := createTask(t, r, `{"title":"Task 1","description":"First task","priority":1,"due_date":"2024-01-01"}`)
	b := createTask(t, r, `{"title":"Task 2","description":"Second task","priority":3,"due_date":"2024-01-02"}`)
	c := createTask(t, r, `{"title":"Task 3","priority":1,"due_date":"2024-01-03"}`)
	if w := do(t, r, http.MethodPut, "/tasks/"+strconv.FormatInt(c.ID, 10), `{"completed":true}`); w.Code != http.StatusOK {
		t.Fatalf("PUT: expected 200, got %d", w.Code)
	}

	tests := []struct {
		query string
		want  []int64
	}{
		{"", []int64{a.ID, b.ID, c.ID}},
		{"?completed=false&priority=1", []int64{a.ID}},
		{"?completed=true", []int64{c.ID}},
		{"?priority=3", []int64{b.ID}},
		{"?search=FIRST", []int64{a.ID}},
		{"?search=task", []int64{a.ID, b.ID, c.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := do(t, r, http.MethodGet, "/tasks"+tt.query, "")
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
			got := decode[[]taskResp](t, w)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d tasks, got %d: %+v", len(tt.want), len(got), got)
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("position %d: id %d, want %d", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestListBadQuery(t *testing.T) {
	r := newTestRouter(t)
	for _, q := range []string{"?completed=maybe", "?priority=7", "?priority=high"} {
		if w := do(t, r, http.MethodGet, "/tasks"+q, ""); w.Code != http.StatusUnprocessableEntity {
			t.Errorf("GET /tasks%s: expected 422, got %d", q, w.Code)
		}
	}
}

func TestMissingTaskIsNotFound(t *testing.T) {
	r := newTestRouter(t)
	for _, tc := range []struct{ method, body string }{
		{http.MethodGet, ""},
		{http.MethodPut, `{"title":"new title"}`},
		{http.MethodDelete, ""},
	} {
		w := do(t, r, tc.method, "/tasks/123", tc.body)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s /tasks/123: expected 404, got %d", tc.method, w.Code)
		}
		if resp := decode[errorResp](t, w); resp.Error != "task not found" {
			t.Errorf("%s: unexpected error body %+v", tc.method, resp)
		}
	}
}

func TestNonIntegerID(t *testing.T) {
	r := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/tasks/abc", "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	if _, ok := decode[errorResp](t, w).Fields["id"]; !ok {
		t.Errorf("expected id field error, got %s", w.Body.String())
	}
}

func TestUpdateTitleKeepsOtherFields(t *testing.T) {
	r := newTestRouter(t)
	created := createTask(t, r, `{"title":"title","description":"desc","priority":2,"due_date":"2025-09-10T05:03:43Z"}`)
	path := "/tasks/" + strconv.FormatInt(created.ID, 10)

	w := do(t, r, http.MethodPut, path, `{"title":"new title","priority":null}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got := decode[taskResp](t, w)
	if got.ID != created.ID || got.Title != "new title" {
		t.Errorf("unexpected update result %+v", got)
	}
	if *got.Description != *created.Description || got.Priority != created.Priority ||
		got.DueDate != created.DueDate || got.Completed != created.Completed {
		t.Errorf("update clobbered fields: before %+v after %+v", created, got)
	}
}

func TestUpdateRejectsEmptyTitle(t *testing.T) {
	r := newTestRouter(t)
	created := createTask(t, r, `{"title":"title","priority":1,"due_date":"2025-09-18"}`)
	w := do(t, r, http.MethodPut, "/tasks/"+strconv.FormatInt(created.ID, 10), `{"title":""}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestTitleWhitespaceIsEchoed(t *testing.T) {
	r := newTestRouter(t)
	created := createTask(t, r, `{"title":"  spaced  ","priority":2,"due_date":"2025-09-18"}`)
	if created.Title != "  spaced  " {
		t.Errorf("expected title echoed verbatim, got %q", created.Title)
	}
	got := decode[taskResp](t, do(t, r, http.MethodGet, "/tasks/"+strconv.FormatInt(created.ID, 10), ""))
	if got.Title != "  spaced  " {
		t.Errorf("expected stored title verbatim, got %q", got.Title)
	}
}
