package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/tclink/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("tclink-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordFrameError("crc_failed")
	RecordIgnoredFrame()
	RecordReassemblyError(3, 1, "residual_data")
	ConnectionOpened()
	ConnectionClosed()

	testlog.Logf("observability/metrics: registration idempotent and recording paths executed")
}

func TestFrameCounterLabels(t *testing.T) {
	before := testutil.ToFloat64(framesTotal.WithLabelValues("3", "AD", "accept"))
	RecordFrame(3, "AD", "accept")
	RecordFrame(3, "AD", "accept")
	if got := testutil.ToFloat64(framesTotal.WithLabelValues("3", "AD", "accept")); got != before+2 {
		t.Fatalf("expected %v, got %v", before+2, got)
	}
}

func TestCLCWGaugeAndDeliveries(t *testing.T) {
	SetCLCW(0x010c0005)
	if got := testutil.ToFloat64(clcwWord); got != float64(0x010c0005) {
		t.Fatalf("unexpected clcw gauge: %v", got)
	}
	before := testutil.ToFloat64(packetsDelivered.WithLabelValues("0x00000100"))
	RecordPacketDelivered("0x00000100", 64)
	if got := testutil.ToFloat64(packetsDelivered.WithLabelValues("0x00000100")); got != before+1 {
		t.Fatalf("expected delivery counted, got %v", got)
	}
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(log.Logger), RequestMetricsMiddleware("tclink-mw"))
	r.POST("/channels/:vcid/release", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, vcid := range []string{"1", "2"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/channels/"+vcid+"/release", nil))
	}
	got := testutil.ToFloat64(httpRequests.WithLabelValues("tclink-mw", "POST", "/channels/:vcid/release", "204"))
	if got != 2 {
		t.Fatalf("expected both requests under one series, got %v", got)
	}
}
