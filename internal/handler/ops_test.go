package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/chorecast/internal/metrics"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) PingContext(_ context.Context) error { return f.err }

func TestHealthEndpointOK(t *testing.T) {
	router := NewOpsRouter(&OpsDeps{
		DB:       &fakePinger{},
		Gatherer: prometheus.NewRegistry(),
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスコードが不正: %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("statusが不正: %s", body["status"])
	}
}

func TestHealthEndpointDBDown(t *testing.T) {
	router := NewOpsRouter(&OpsDeps{
		DB:       &fakePinger{err: errors.New("connection refused")},
		Gatherer: prometheus.NewRegistry(),
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ステータスコードが不正: %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	collector.ScanReceived()

	router := NewOpsRouter(&OpsDeps{
		DB:       &fakePinger{},
		Gatherer: reg,
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスコードが不正: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "chorecast_scans_received_total") {
		t.Error("メトリクスの出力にカウンタが含まれていない")
	}
}
