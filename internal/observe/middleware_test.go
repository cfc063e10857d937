package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrumented wires a mux with health-like routes behind Middleware and
// returns the collectors for its metrics and spans.
func instrumented(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /trace", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Trace", CorrelationID(r.Context()))
	})
	return Middleware(m)(mux), reader, exp
}

// durationPoints returns the request duration data points keyed by
// "route status".
func durationPoints(t *testing.T, reader *sdkmetric.ManualReader) map[string]uint64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "glyphrec.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric is %T, want histogram", met.Data)
	}
	out := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		status, _ := dp.Attributes.Value("status")
		out[route.AsString()+" "+status.AsString()] += dp.Count
	}
	return out
}

func TestMiddleware_RecordsRouteAndStatus(t *testing.T) {
	h, reader, _ := instrumented(t)

	for _, path := range []string{"/healthz", "/healthz", "/readyz", "/wp-admin", "/.env"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	got := durationPoints(t, reader)
	want := map[string]uint64{
		"GET /healthz 2xx": 2,
		"GET /readyz 5xx":  1,
		"unmatched 4xx":    2,
	}
	if len(got) != len(want) {
		t.Fatalf("data points = %v, want %v", got, want)
	}
	for k, n := range want {
		if got[k] != n {
			t.Errorf("%s: count = %d, want %d", k, got[k], n)
		}
	}
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	h, _, exp := instrumented(t)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /readyz" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusServiceUnavailable {
		t.Errorf("span status code = %d, want 503", status)
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{"new trace", "", ""},
		{"continued trace", "00-" + traceID + "-00f067aa0ba902b7-01", traceID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := instrumented(t)
			req := httptest.NewRequest(http.MethodGet, "/trace", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			cid := rec.Header().Get("X-Correlation-ID")
			if len(cid) != 32 {
				t.Fatalf("X-Correlation-ID = %q, want a 32-char trace ID", cid)
			}
			if seen := rec.Header().Get("X-Seen-Trace"); seen != cid {
				t.Errorf("handler saw trace %q, response carries %q", seen, cid)
			}
			if tt.want != "" && cid != tt.want {
				t.Errorf("X-Correlation-ID = %q, want %q", cid, tt.want)
			}
		})
	}
}

func TestStatusWriter_DefaultsToOK(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}
	_, _ = sw.Write([]byte("body"))
	sw.WriteHeader(http.StatusTeapot)

	if sw.status != http.StatusOK {
		t.Errorf("status = %d, want 200 after an implicit header write", sw.status)
	}
	if sw.Unwrap() != rec {
		t.Error("Unwrap does not return the wrapped writer")
	}
}
