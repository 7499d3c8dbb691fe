package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// --- Shutdown Coordinator ---

func TestShutdownCoordinatorLIFO(t *testing.T) {
	var order []int
	sc := &ShutdownCoordinator{}

	for i := 1; i <= 3; i++ {
		sc.Register(fmt.Sprintf("h%d", i), func(ctx context.Context) error {
			order = append(order, i)
			return nil
		})
	}

	if err := sc.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Fatalf("expected LIFO [3,2,1], got %v", order)
	}
}

func TestShutdownCoordinatorEmpty(t *testing.T) {
	sc := &ShutdownCoordinator{}
	if err := sc.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestShutdownCoordinatorError(t *testing.T) {
	var order []int
	sc := &ShutdownCoordinator{}

	sc.Register("first", func(ctx context.Context) error {
		order = append(order, 1)
		return nil
	})
	sc.Register("bad", func(ctx context.Context) error {
		order = append(order, 2)
		return errors.New("fail")
	})
	sc.Register("third", func(ctx context.Context) error {
		order = append(order, 3)
		return nil
	})

	err := sc.Shutdown(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Fatalf("error should mention 'bad': %v", err)
	}
	if len(order) != 3 {
		t.Fatalf("expected all 3 handlers to run, got %v", order)
	}
}

// --- Metrics ---

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m.Registry == nil {
		t.Fatal("registry is nil")
	}

	m.RecordsWritten.Inc()
	m.BytesWritten.Add(1 << 20)
	m.WriteFailures.WithLabelValues("quota").Inc()
	m.QuotaBytes.Set(100)

	if got := testutil.ToFloat64(m.RecordsWritten); got != 1 {
		t.Fatalf("records written = %f, want 1", got)
	}
	if got := testutil.ToFloat64(m.BytesWritten); got != 1<<20 {
		t.Fatalf("bytes written = %f, want %d", got, 1<<20)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"quotafill_records_written_total",
		"quotafill_bytes_written_total",
		"quotafill_write_failures_total",
		"quotafill_quota_bytes",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

// --- Logging ---

func TestSetupLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger("info", "json", &buf)

	logger.Info("hello", "key", "val")

	var entry map[string]any
	if err := json.NewDecoder(&buf).Decode(&entry); err != nil {
		t.Fatalf("output not valid JSON: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "hello" {
		t.Fatalf("expected msg=hello, got %v", entry["msg"])
	}
}

func TestSetupLoggerTextNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	SetupLogger("info", "text", &buf)

	slog.Info("testmsg")

	out := buf.String()
	if !strings.Contains(out, "msg=testmsg") {
		t.Fatalf("expected plain slog text output, got: %s", out)
	}
	if strings.Contains(out, "\033[") {
		t.Fatalf("expected no ANSI codes for a non-terminal writer: %q", out)
	}
}

func TestSetupLoggerPretty(t *testing.T) {
	var buf bytes.Buffer
	SetupLogger("info", "pretty", &buf)

	slog.Info("prettymsg", "k", "v")

	out := buf.String()
	if !strings.Contains(out, "prettymsg") || !strings.Contains(out, "k=v") {
		t.Fatalf("unexpected pretty output: %s", out)
	}
	if !strings.Contains(out, "INF") {
		t.Fatalf("expected level tag in pretty output: %s", out)
	}
}

func TestSetupLoggerLevels(t *testing.T) {
	tests := []struct {
		level      string
		logAt      slog.Level
		shouldShow bool
	}{
		{"debug", slog.LevelDebug, true},
		{"DEBUG", slog.LevelDebug, true},
		{"info", slog.LevelDebug, false},
		{"info", slog.LevelInfo, true},
		{"warn", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, true},
		{"error", slog.LevelWarn, false},
		{"error", slog.LevelError, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.level, tt.logAt), func(t *testing.T) {
			var buf bytes.Buffer
			logger := SetupLogger(tt.level, "json", &buf)

			logger.Log(context.Background(), tt.logAt, "test")

			got := buf.Len() > 0
			if got != tt.shouldShow {
				t.Fatalf("level=%s logAt=%s: expected visible=%v got %v", tt.level, tt.logAt, tt.shouldShow, got)
			}
		})
	}
}

func TestOpenLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "quotafill.log")
	w, err := OpenLogFile(path)
	if err != nil {
		t.Fatalf("OpenLogFile: %v", err)
	}
	if _, err := w.Write([]byte("line\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "line") {
		t.Fatalf("log file missing content: %q", data)
	}
}

// --- PrettyHandler ---

func TestPrettyHandlerEnabled(t *testing.T) {
	h := NewPrettyHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn})

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelWarn) {
		t.Fatal("warn should be enabled at warn level")
	}
}

func TestPrettyHandlerEnabledNilLevel(t *testing.T) {
	h := NewPrettyHandler(io.Discard, nil)
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should be disabled with nil/default level")
	}
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info should be enabled with nil/default level")
	}
}

func TestPrettyHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("session", "abc")}))

	logger.Info("with attrs")

	if !strings.Contains(buf.String(), "session=abc") {
		t.Fatalf("expected inherited attr: %s", buf.String())
	}
}

func TestTraceHandlerHandleWithTraceContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	h := &TraceHandler{Handler: inner}

	traceID, _ := trace.TraceIDFromHex("00000000000000000000000000000001")
	spanID, _ := trace.SpanIDFromHex("0000000000000001")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	slog.New(h).InfoContext(ctx, "traced message")

	out := buf.String()
	if !strings.Contains(out, "trace_id") || !strings.Contains(out, "span_id") {
		t.Fatalf("expected trace ids in output: %s", out)
	}
}

func TestColorLevel(t *testing.T) {
	tests := []struct {
		level    slog.Level
		contains string
	}{
		{slog.LevelDebug, "DBG"},
		{slog.LevelInfo, "INF"},
		{slog.LevelWarn, "WRN"},
		{slog.LevelError, "ERR"},
	}

	for _, tt := range tests {
		t.Run(tt.contains, func(t *testing.T) {
			got := colorLevel(tt.level)
			if !strings.Contains(got, tt.contains) {
				t.Fatalf("colorLevel(%v) = %q, expected to contain %q", tt.level, got, tt.contains)
			}
		})
	}
}

// --- Operation ---

func TestStartOperationEnd(t *testing.T) {
	m := NewMetrics()

	op, _ := StartOperation(context.Background(), m, "test_op", attribute.String("key", "val"))
	op.End(nil)

	if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues("test_op", "ok")); got != 1 {
		t.Fatalf("expected 1 ok operation, got %f", got)
	}
}

func TestStartOperationEndError(t *testing.T) {
	m := NewMetrics()

	op, _ := StartOperation(context.Background(), m, "fail_op")
	op.End(errors.New("boom"))

	if got := testutil.ToFloat64(m.OperationTotal.WithLabelValues("fail_op", "error")); got != 1 {
		t.Fatalf("expected 1 error operation, got %f", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("fail_op", "error")); got != 1 {
		t.Fatalf("expected 1 error count, got %f", got)
	}
}

type typedErr struct{}

func (typedErr) Error() string     { return "typed" }
func (typedErr) ErrorType() string { return "quota" }

func TestErrorType(t *testing.T) {
	if got := ErrorType(errors.New("x")); got != "error" {
		t.Errorf("ErrorType(plain) = %q", got)
	}
	if got := ErrorType(typedErr{}); got != "quota" {
		t.Errorf("ErrorType(typed) = %q", got)
	}
	if got := ErrorType(errors.Join(errors.New("put"), typedErr{})); got != "quota" {
		t.Errorf("ErrorType(wrapped) = %q", got)
	}
}

func TestStartOperationNilMetrics(t *testing.T) {
	op, ctx := StartOperation(context.Background(), nil, "nil_metrics")
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
	op.End(errors.New("ignored"))
}

// --- HTTP middleware ---

func TestHTTPMiddleware(t *testing.T) {
	m := NewMetrics()
	h := HTTPMiddleware(m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/status", "418")); got != 1 {
		t.Fatalf("http request count = %f, want 1", got)
	}
}

func TestHTTPMiddlewareFlush(t *testing.T) {
	h := HTTPMiddleware(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Flusher); !ok {
			t.Error("wrapped writer should implement http.Flusher")
		}
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Body.String() != "ok" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

// --- Observability ---

func newTestObservability(t *testing.T) *Observability {
	t.Helper()
	obs, err := New(context.Background(), ObsConfig{
		LogLevel:       "error",
		LogFormat:      "json",
		ServiceName:    "test",
		ServiceVersion: "0.0.1",
	}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return obs
}

func TestNewObservabilityNoOTLP(t *testing.T) {
	obs := newTestObservability(t)
	if obs.Logger == nil || obs.Metrics == nil {
		t.Fatal("logger and metrics must be set")
	}

	switch obs.TracerProvider.(type) {
	case *tracenoop.TracerProvider, tracenoop.TracerProvider:
	default:
		t.Fatalf("expected noop tracer provider, got %T", obs.TracerProvider)
	}
}

func TestNewObservabilityLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obs.log")
	obs, err := New(context.Background(), ObsConfig{
		LogLevel:  "info",
		LogFormat: "json",
		LogFile:   path,
	}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obs.Logger.Info("to file")
	if err := obs.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Fatalf("log file missing entry: %s", data)
	}
}

func TestObservabilityCloseError(t *testing.T) {
	obs := newTestObservability(t)
	obs.Shutdown.Register("fail-close", func(ctx context.Context) error {
		return errors.New("close fail")
	})

	if err := obs.Close(context.Background()); err == nil {
		t.Fatal("expected error from Close")
	}
}

func TestInitTracerHTTP(t *testing.T) {
	tp, sdkTP, err := InitTracer(context.Background(), TracerConfig{
		Endpoint:       "localhost:4318",
		Protocol:       "http",
		ServiceName:    "test-svc",
		ServiceVersion: "0.0.1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil || sdkTP == nil {
		t.Fatal("expected non-nil providers")
	}
	_ = sdkTP.Shutdown(context.Background())
}

func TestInitTracerGRPC(t *testing.T) {
	tp, sdkTP, err := InitTracer(context.Background(), TracerConfig{
		Endpoint:       "localhost:4317",
		Protocol:       "grpc",
		ServiceName:    "test-svc",
		ServiceVersion: "0.0.1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil || sdkTP == nil {
		t.Fatal("expected non-nil providers")
	}
	_ = sdkTP.Shutdown(context.Background())
}

func TestHandlerEndpoints(t *testing.T) {
	obs := newTestObservability(t)
	obs.Metrics.RecordsWritten.Inc()

	srv := httptest.NewServer(obs.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("/health = %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "quotafill_records_written_total 1") {
		t.Fatalf("/metrics missing counter:\n%s", body)
	}
}

func TestShutdownCoordinatorLogsWithServiceLogger(t *testing.T) {
	var buf bytes.Buffer
	sc := &ShutdownCoordinator{
		Logger: slog.New(slog.NewJSONHandler(&buf, nil)).With("service", "quotafill-test"),
	}
	sc.Register("store", func(context.Context) error { return errors.New("disk gone") })

	err := sc.Shutdown(context.Background())
	if err == nil || !strings.Contains(err.Error(), "store: disk gone") {
		t.Fatalf("Shutdown error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"service":"quotafill-test"`) || !strings.Contains(out, `"component":"store"`) {
		t.Fatalf("shutdown log missing attributes: %s", out)
	}

	if err := sc.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown = %v, want nil", err)
	}
}

// --- Tracing ---

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func spanAttr(s sdktrace.ReadOnlySpan, key attribute.Key) (string, bool) {
	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

func TestNewSetsTracerName(t *testing.T) {
	t.Cleanup(func() { SetTracerName("") })

	newTestObservability(t)
	if got := TracerName(); got != "test" {
		t.Fatalf("TracerName = %q, want %q", got, "test")
	}
	SetTracerName("")
	if got := TracerName(); got != DefaultServiceName {
		t.Fatalf("TracerName after reset = %q, want %q", got, DefaultServiceName)
	}
}

func TestOperationSpanCarriesAttrsAndErrorType(t *testing.T) {
	t.Cleanup(func() { SetTracerName("") })
	SetTracerName("fill-test")
	sr := recordSpans(t)

	op, _ := StartOperation(context.Background(), nil, "recordstore.put",
		StoreAttrs("storageTestDB", "testStore", "memory")...)
	op.End(typedErr{})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if got := span.InstrumentationScope().Name; got != "fill-test" {
		t.Errorf("tracer name = %q, want %q", got, "fill-test")
	}
	if got, _ := spanAttr(span, AttrBackend); got != "memory" {
		t.Errorf("backend attr = %q", got)
	}
	if got, _ := spanAttr(span, AttrObjectStore); got != "testStore" {
		t.Errorf("object store attr = %q", got)
	}
	if got, _ := spanAttr(span, AttrErrorType); got != "quota" {
		t.Errorf("error.type = %q, want quota", got)
	}
}

func TestEndSpanOK(t *testing.T) {
	sr := recordSpans(t)
	_, span := StartSpan(context.Background(), "ok")
	EndSpan(span, nil)

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d", len(ended))
	}
	if _, ok := spanAttr(ended[0], AttrErrorType); ok {
		t.Error("successful span should not carry error.type")
	}
}

func TestNewResource(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TracerConfig
		service string
		extra   string
	}{
		{"configured", TracerConfig{ServiceName: "qf", ServiceVersion: "1.2.3", Attributes: []attribute.KeyValue{attribute.String("quotafill.profile", "quota")}}, "qf", "quota"},
		{"default name", TracerConfig{}, DefaultServiceName, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewResource(tt.cfg)
			if err != nil {
				t.Fatal(err)
			}
			got, ok := res.Set().Value("service.name")
			if !ok || got.AsString() != tt.service {
				t.Errorf("service.name = %q, want %q", got.AsString(), tt.service)
			}
			if tt.cfg.ServiceVersion != "" {
				if v, _ := res.Set().Value("service.version"); v.AsString() != tt.cfg.ServiceVersion {
					t.Errorf("service.version = %q", v.AsString())
				}
			}
			if tt.extra != "" {
				if v, _ := res.Set().Value("quotafill.profile"); v.AsString() != tt.extra {
					t.Errorf("quotafill.profile = %q", v.AsString())
				}
			}
		})
	}
}

func TestInitTracerUnknownProtocol(t *testing.T) {
	_, _, err := InitTracer(context.Background(), TracerConfig{Endpoint: "localhost:4318", Protocol: "udp"})
	if err == nil || !strings.Contains(err.Error(), "udp") {
		t.Fatalf("err = %v, want unknown protocol", err)
	}
}
