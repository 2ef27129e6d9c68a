package prometheus

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestRecordSynthesis(t *testing.T) {
	synthesisDuration.Reset()
	synthesisTotal.Reset()

	RecordSynthesis("edge", "success", 0.5)
	RecordSynthesis("edge", "success", 1.0)
	RecordSynthesis("openai", "error", 0.2)

	successCount := testutil.ToFloat64(synthesisTotal.WithLabelValues("edge", "success"))
	errorCount := testutil.ToFloat64(synthesisTotal.WithLabelValues("openai", "error"))

	if successCount != 2 {
		t.Errorf("Expected 2 edge successes, got %f", successCount)
	}
	if errorCount != 1 {
		t.Errorf("Expected 1 openai error, got %f", errorCount)
	}

	if count := testutil.CollectAndCount(synthesisDuration); count == 0 {
		t.Error("Expected non-zero histogram observations")
	}
}

func TestRecordSynthesisCharacters(t *testing.T) {
	synthesisCharactersTotal.Reset()

	RecordSynthesisCharacters("edge", 100)
	RecordSynthesisCharacters("edge", 250)
	RecordSynthesisCharacters("edge", 0) // zero is not recorded

	total := testutil.ToFloat64(synthesisCharactersTotal.WithLabelValues("edge"))
	if total != 350 {
		t.Errorf("Expected 350 characters, got %f", total)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	httpRequestDuration.Reset()
	httpRequestsTotal.Reset()

	RecordHTTPRequest("/v1/tts/synthesize", "POST", "200", 0.8)
	RecordHTTPRequest("/v1/tts/synthesize", "POST", "400", 0.01)

	okCount := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/v1/tts/synthesize", "POST", "200"))
	badCount := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/v1/tts/synthesize", "POST", "400"))

	if okCount != 1 {
		t.Errorf("Expected 1 ok request, got %f", okCount)
	}
	if badCount != 1 {
		t.Errorf("Expected 1 bad request, got %f", badCount)
	}
}

func TestRecordCacheHitMiss(t *testing.T) {
	cacheOperationsTotal.Reset()

	RecordCacheHit()
	RecordCacheHit()
	RecordCacheMiss()

	hits := testutil.ToFloat64(cacheOperationsTotal.WithLabelValues("hit"))
	misses := testutil.ToFloat64(cacheOperationsTotal.WithLabelValues("miss"))

	if hits != 2 {
		t.Errorf("Expected 2 hits, got %f", hits)
	}
	if misses != 1 {
		t.Errorf("Expected 1 miss, got %f", misses)
	}
}

func TestRecordStreamStartEnd(t *testing.T) {
	streamsActive.Set(0)

	RecordStreamStart()
	RecordStreamStart()
	if active := testutil.ToFloat64(streamsActive); active != 2 {
		t.Errorf("Expected 2 active streams, got %f", active)
	}

	RecordStreamEnd()
	if active := testutil.ToFloat64(streamsActive); active != 1 {
		t.Errorf("Expected 1 active stream after end, got %f", active)
	}
}

func TestNewExporter(t *testing.T) {
	exporter := NewExporter(":9091")
	if exporter == nil {
		t.Fatal("Expected non-nil exporter")
	}
	if exporter.Registry() == nil {
		t.Error("Expected non-nil registry")
	}
}

func TestNewExporter_RegistersGatewayMetrics(t *testing.T) {
	exporter := NewExporter(":9091")

	families, err := exporter.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}

	// The namespaced counters appear once something is recorded; the
	// runtime collectors are present immediately.
	if _, ok := byName["go_goroutines"]; !ok {
		t.Error("expected go runtime collector to be registered")
	}

	RecordSynthesis("edge", "success", 0.1)
	families, err = exporter.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "ttsgw_synthesis_total" && mf.GetType() == dto.MetricType_COUNTER {
			found = true
		}
	}
	if !found {
		t.Error("expected ttsgw_synthesis_total counter family")
	}
}

func TestExporterHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "Test counter",
	})
	reg.MustRegister(counter)
	counter.Inc()

	exporter := NewExporterWithRegistry(":9093", reg)
	handler := exporter.Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	resp := rec.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "test_counter") {
		t.Error("Expected response to contain test_counter metric")
	}
}

func TestExporterRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	exporter := NewExporterWithRegistry(":9094", reg)

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "custom_counter",
		Help: "Custom counter",
	})

	if err := exporter.Register(counter); err != nil {
		t.Errorf("Expected no error registering counter, got %v", err)
	}

	// Registering again should fail
	if err := exporter.Register(counter); err == nil {
		t.Error("Expected error when registering duplicate counter")
	}
}

func TestExporterStartShutdown(t *testing.T) {
	exporter := NewExporterWithRegistry(":0", prometheus.NewRegistry())

	errCh := make(chan error, 1)
	go func() {
		errCh <- exporter.Start()
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := exporter.Shutdown(ctx); err != nil {
		t.Errorf("Expected no error on shutdown, got %v", err)
	}

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			t.Errorf("Expected ErrServerClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for server to stop")
	}
}
