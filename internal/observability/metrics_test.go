package observability

import (
	"testing"
	"time"

	"github.com/danmuck/agrilink/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("ground-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordSendAttempt("ok")
	RecordSend(true, 30*time.Millisecond)
	RecordTransfer("send", "done")
	RecordTransferPacket("send", "ok")
	RecordFrame("data", "telemetry", "ok")
	RecordNormalize("telemetry", "ok")
	SetBusQueueDepth(3)
	RecordBusQueueFull()
	RecordRelayPost("telemetry", true)
}

func TestBusQueueFullCounterIncrements(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(busQueueFull)
	RecordBusQueueFull()
	if got := testutil.ToFloat64(busQueueFull); got != before+1 {
		t.Fatalf("queue_full_total=%v want %v", got, before+1)
	}
}
