package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Inbound("message:send", "OK")
	m.Inbound("message:send", "OK")
	m.Inbound("message:send", "FORBIDDEN")
	m.Flushed(3)
	m.Flushed(0)
	m.SetConnections(2)

	if got := testutil.ToFloat64(m.InboundTotal.WithLabelValues("message:send", "OK")); got != 2 {
		t.Fatalf("inbound ok=%v", got)
	}
	if got := testutil.CollectAndCount(m.InboundTotal); got != 2 {
		t.Fatalf("label sets=%d", got)
	}
	if got := testutil.ToFloat64(m.OfflineFlushed); got != 3 {
		t.Fatalf("flushed=%v", got)
	}
	if got := testutil.ToFloat64(m.Connections); got != 2 {
		t.Fatalf("connections=%v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Inbound("x", "OK")
	m.Dropped()
	m.SetRooms(1)
	m.MirrorFailure()
}
