package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})
	logger.Info("run finished", "run_id", "r-1", "status", "succeeded")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if record["msg"] != "run finished" || record["run_id"] != "r-1" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})
	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatal("info record emitted at warn level")
	}
	if !strings.Contains(out, "kept") {
		t.Fatal("warn record missing")
	}
}

func TestNewLoggerDefaultsToInfoJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "nonsense", Output: &buf})
	logger.Debug("dropped")
	logger.Info("kept")
	if strings.Contains(buf.String(), "dropped") {
		t.Fatal("debug record emitted at default level")
	}
	if !strings.Contains(buf.String(), `"msg":"kept"`) {
		t.Fatalf("default format is not JSON: %s", buf.String())
	}
}

func TestMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RouteIntents.WithLabelValues("ADVANCE").Inc()
	m.RouteIntents.WithLabelValues("ADVANCE").Inc()
	m.RunsCompleted.WithLabelValues("succeeded").Inc()
	m.ActiveRuns.Inc()
	m.TruncationEvents.Inc()
	m.PhaseDuration.WithLabelValues("stub", "work").Observe((50 * time.Millisecond).Seconds())

	if got := testutil.ToFloat64(m.RouteIntents.WithLabelValues("ADVANCE")); got != 2 {
		t.Fatalf("route intents = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ActiveRuns); got != 1 {
		t.Fatalf("active runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TruncationEvents); got != 1 {
		t.Fatalf("truncations = %v, want 1", got)
	}
}

func TestMetricsDistinctRegistriesDoNotCollide(t *testing.T) {
	// Two instances on separate registries must not panic on duplicate
	// registration.
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())
	a.StepsExecuted.WithLabelValues("stub").Inc()
	if got := testutil.ToFloat64(b.StepsExecuted.WithLabelValues("stub")); got != 0 {
		t.Fatalf("registries shared state: %v", got)
	}
}

func TestNewTracerNoopWithoutEndpoint(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			t.Fatal(err)
		}
	}()

	ctx, span := tracer.Start(context.Background(), "flowline.step")
	if ctx == nil || span == nil {
		t.Fatal("no-op tracer must still produce spans")
	}
	span.End()
}

func TestRecordErrorNilIsSafe(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	defer shutdown(context.Background())
	_, span := tracer.Start(context.Background(), "flowline.step")
	defer span.End()
	RecordError(span, nil)
}
