package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequestIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("image", "COMPLETED"))
	RecordRequest("image", "COMPLETED", 1.5)
	after := testutil.ToFloat64(RequestsTotal.WithLabelValues("image", "COMPLETED"))
	if after-before != 1 {
		t.Fatalf("counter delta = %v, want 1", after-before)
	}
}

func TestStatusLabel(t *testing.T) {
	if Status(nil) != "success" || Status(errors.New("x")) != "error" {
		t.Fatalf("unexpected status labels")
	}
}
