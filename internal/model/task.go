package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Priority is a task rank: 1 is the most urgent.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

const priorityRule = "must be 1 (high), 2 (medium) or 3 (low)"

func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return strconv.Itoa(int(p))
	}
}

// ParsePriority parses the numeric form used in query strings and JSON strings.
func ParsePriority(s string) (Priority, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &FieldError{Field: "priority", Message: priorityRule}
	}
	p := Priority(n)
	if !p.Valid() {
		return 0, &FieldError{Field: "priority", Message: priorityRule}
	}
	return p, nil
}

// UnmarshalJSON accepts both 1 and "1".
func (p *Priority) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return &FieldError{Field: "priority", Message: priorityRule}
		}
		raw = s
	}
	parsed, err := ParsePriority(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// DueDate is a calendar date, optionally carrying a time of day. It is
// written back in the same form it was read: YYYY-MM-DD or RFC 3339.
type DueDate struct {
	time.Time
	DateOnly bool
}

const dueDateRule = "must be a date (YYYY-MM-DD) or an RFC 3339 timestamp"

func NewDate(year int, month time.Month, day int) DueDate {
	return DueDate{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), DateOnly: true}
}

func ParseDueDate(s string) (DueDate, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return DueDate{Time: t, DateOnly: true}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return DueDate{Time: t}, nil
	}
	// ISO timestamps without an offset are read as UTC.
	if t, err := time.Parse("2006-01-02T15:04:05.999999999", s); err == nil {
		return DueDate{Time: t}, nil
	}
	return DueDate{}, &FieldError{Field: "due_date", Message: dueDateRule}
}

func (d DueDate) String() string {
	if d.DateOnly {
		return d.Time.Format(time.DateOnly)
	}
	return d.Time.Format(time.RFC3339Nano)
}

func (d DueDate) Equal(other DueDate) bool {
	return d.DateOnly == other.DateOnly && d.Time.Equal(other.Time)
}

func (d DueDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DueDate) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return &FieldError{Field: "due_date", Message: dueDateRule}
	}
	parsed, err := ParseDueDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// FieldError reports a malformed value for a single request field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

type Task struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Description *string  `json:"description"`
	Priority    Priority `json:"priority"`
	DueDate     DueDate  `json:"due_date"`
	Completed   bool     `json:"completed"`
}

// Clone returns a copy that shares no memory with t.
func (t Task) Clone() Task {
	if t.Description != nil {
		d := *t.Description
		t.Description = &d
	}
	return t
}

type CreateTaskRequest struct {
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Priority    *Priority `json:"priority"`
	DueDate     *DueDate  `json:"due_date"`
}

// Validate returns per-field problems, or nil. Titles are checked trimmed
// but stored as received.
func (r CreateTaskRequest) Validate() map[string]string {
	fields := map[string]string{}
	if strings.TrimSpace(r.Title) == "" {
		fields["title"] = "is required"
	}
	if r.Priority == nil {
		fields["priority"] = "is required"
	} else if !r.Priority.Valid() {
		fields["priority"] = priorityRule
	}
	if r.DueDate == nil || r.DueDate.IsZero() {
		fields["due_date"] = "is required"
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// NewTask builds the record to insert; the store assigns the id.
func (r CreateTaskRequest) NewTask() Task {
	t := Task{
		Title:       r.Title,
		Description: r.Description,
	}
	if r.Priority != nil {
		t.Priority = *r.Priority
	}
	if r.DueDate != nil {
		t.DueDate = *r.DueDate
	}
	return t.Clone()
}

// UpdateTaskRequest carries a merge update: nil fields are left untouched.
type UpdateTaskRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Priority    *Priority `json:"priority"`
	DueDate     *DueDate  `json:"due_date"`
	Completed   *bool     `json:"completed"`
}

func (r UpdateTaskRequest) Validate() map[string]string {
	fields := map[string]string{}
	if r.Title != nil && strings.TrimSpace(*r.Title) == "" {
		fields["title"] = "must not be empty"
	}
	if r.Priority != nil && !r.Priority.Valid() {
		fields["priority"] = priorityRule
	}
	if r.DueDate != nil && r.DueDate.IsZero() {
		fields["due_date"] = dueDateRule
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// ApplyTo merges the present fields into t.
func (r UpdateTaskRequest) ApplyTo(t *Task) {
	if r.Title != nil {
		t.Title = *r.Title
	}
	if r.Description != nil {
		d := *r.Description
		t.Description = &d
	}
	if r.Priority != nil {
		t.Priority = *r.Priority
	}
	if r.DueDate != nil {
		t.DueDate = *r.DueDate
	}
	if r.Completed != nil {
		t.Completed = *r.Completed
	}
}

// TaskFilter selects tasks; every non-empty criterion must match.
type TaskFilter struct {
	Completed *bool
	Priority  *Priority
	// Search is a case-insensitive substring of the title or description.
	Search string
}

func (f TaskFilter) Matches(t Task) bool {
	if f.Completed != nil && t.Completed != *f.Completed {
		return false
	}
	if f.Priority != nil && t.Priority != *f.Priority {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		inTitle := strings.Contains(strings.ToLower(t.Title), needle)
		inDesc := t.Description != nil && strings.Contains(strings.ToLower(*t.Description), needle)
		if !inTitle && !inDesc {
			return false
		}
	}
	return true
}
