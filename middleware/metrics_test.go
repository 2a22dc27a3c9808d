package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddleware_RecordsRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(MetricsMiddleware())
	router.GET("/api/donations/status/:sessionId", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/donations/status/:sessionId", "200"))

	req := httptest.NewRequest("GET", "/api/donations/status/cs_test_1", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/donations/status/:sessionId", "200"))
	if after-before != 1 {
		t.Errorf("Expected one request recorded, got %v", after-before)
	}
}

func TestRecordSettlement(t *testing.T) {
	counter := settlementOperationsTotal.WithLabelValues("settle_success", "applied")
	before := testutil.ToFloat64(counter)

	RecordSettlement("settle_success", "applied")

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("Expected counter to increase by 1, got %v", got)
	}
}

func TestPrometheusHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/metrics", PrometheusHandler())

	RecordWebhookEvent("checkout.session.completed", "processed")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), "webhook_events_total") {
		t.Error("Expected webhook_events_total in metrics output")
	}
}
