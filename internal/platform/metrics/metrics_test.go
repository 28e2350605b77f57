package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	e := echo.New()
	e.GET(Path, m.Handler())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Path, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape: expected 200, got %d", rec.Code)
	}
	return rec.Body.String()
}

func assertLine(t *testing.T, body, line string) {
	t.Helper()
	for _, l := range strings.Split(body, "\n") {
		if l == line {
			return
		}
	}
	t.Errorf("missing %q in exposition:\n%s", line, body)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordTransition("Accepted")
	m.RecordResult()
	m.RecordStoreCall("list", nil)
	m.RecordStoreRetry("list")

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	scrape(t, m)
}

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordTransition("Accepted")
	m.RecordTransition("Accepted")
	m.RecordTransition("Rejected")
	m.RecordResult()
	m.RecordStoreCall("list", nil)
	m.RecordStoreCall("list", errors.New("boom"))
	m.RecordStoreRetry("list")

	body := scrape(t, m)
	assertLine(t, body, `britlab_sample_transitions_total{status="Accepted"} 2`)
	assertLine(t, body, `britlab_sample_transitions_total{status="Rejected"} 1`)
	assertLine(t, body, `britlab_sample_results_attached_total 1`)
	assertLine(t, body, `britlab_store_calls_total{op="list",outcome="error"} 1`)
	assertLine(t, body, `britlab_store_calls_total{op="list",outcome="ok"} 1`)
	assertLine(t, body, `britlab_store_retries_total{op="list"} 1`)
}

func TestMiddleware_LabelsRoutePattern(t *testing.T) {
	m := New(nil)
	e := echo.New()
	e.Use(m.Middleware())
	e.GET(Path, m.Handler())
	e.GET("/samples/:id", func(c echo.Context) error {
		if c.Param("id") == "missing" {
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}
		return c.NoContent(http.StatusOK)
	})

	for _, path := range []string{"/samples/a", "/samples/b", "/samples/missing"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Path, nil))
	body := rec.Body.String()
	assertLine(t, body, `britlab_http_requests_total{code="200",method="GET",route="/samples/:id"} 2`)
	assertLine(t, body, `britlab_http_requests_total{code="404",method="GET",route="/samples/:id"} 1`)
	assertLine(t, body, `britlab_http_requests_in_flight 0`)
	if strings.Contains(body, `route="/metrics"`) {
		t.Error("scrapes should not be counted")
	}
}
