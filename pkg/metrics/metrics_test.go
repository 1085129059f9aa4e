package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewWithRegistryIsolated(t *testing.T) {
	a := NewWithRegistry(prometheus.NewRegistry())
	b := NewWithRegistry(prometheus.NewRegistry())

	a.PoolWorkerCrashes.Inc()
	a.GridWriteFailures.WithLabelValues("add").Add(2)

	if got := testutil.ToFloat64(a.PoolWorkerCrashes); got != 1 {
		t.Errorf("crashes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.PoolWorkerCrashes); got != 0 {
		t.Errorf("second registry crashes = %v, want 0", got)
	}
	if got := testutil.ToFloat64(a.GridWriteFailures.WithLabelValues("add")); got != 2 {
		t.Errorf("add failures = %v, want 2", got)
	}
}
