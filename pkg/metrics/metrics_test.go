package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIncrementTaskOperation(t *testing.T) {
	before := testutil.ToFloat64(TaskOperationCount.WithLabelValues("create", "success"))
	IncrementTaskOperation("create", "success")
	IncrementTaskOperation("create", "success")
	after := testutil.ToFloat64(TaskOperationCount.WithLabelValues("create", "success"))
	if after-before != 2 {
		t.Errorf("expected counter to grow by 2, grew by %v", after-before)
	}
}

func TestIncrementCacheLookup(t *testing.T) {
	before := testutil.ToFloat64(CacheLookupCount.WithLabelValues("miss"))
	IncrementCacheLookup("miss")
	if got := testutil.ToFloat64(CacheLookupCount.WithLabelValues("miss")); got-before != 1 {
		t.Errorf("expected miss counter to grow by 1, grew by %v", got-before)
	}
}

func TestRecordHTTPRequestDuration(t *testing.T) {
	RecordHTTPRequestDuration("GET", "/tasks", "200", 5*time.Millisecond)
	if n := testutil.CollectAndCount(HTTPRequestDuration); n == 0 {
		t.Error("expected at least one histogram series")
	}
}
