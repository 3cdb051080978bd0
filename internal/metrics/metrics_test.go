package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitAndObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)
	Init(reg) // idempotent

	ObserveForcedStop("rain")
	ObserveForcedStop("rain")
	ObserveSync("push", ResultError, 10*time.Millisecond)
	SetZoneActive(2, true)
	SetErrorFlags(0x0A)

	if got := testutil.ToFloat64(forcedStops.WithLabelValues("rain")); got != 2 {
		t.Errorf("forced_stops_total{rain} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(syncRequests.WithLabelValues("push", ResultError)); got != 1 {
		t.Errorf("sync_requests_total{push,error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(zoneActive.WithLabelValues("2")); got != 1 {
		t.Errorf("zone_active{2} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(errorFlags); got != 10 {
		t.Errorf("error_flags = %v, want 10", got)
	}
}
