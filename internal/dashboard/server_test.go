package dashboard

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/goccy/go-json"

	"github.com/gezibash/quotafill/internal/fill"
	"github.com/gezibash/quotafill/internal/observability"
	"github.com/gezibash/quotafill/internal/report"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeController reports button presses to the panel the way a session does.
type fakeController struct {
	panel   *report.Panel
	running bool
	calls   []string
}

func (c *fakeController) Start(ctx context.Context) bool {
	c.calls = append(c.calls, "start")
	if c.running {
		return false
	}
	c.running = true
	c.panel.Report(ctx, fill.Event{Kind: fill.EventStarting, State: fill.StateRunning, Button: fill.ButtonStart})
	return true
}

func (c *fakeController) Stop(ctx context.Context) {
	c.calls = append(c.calls, "stop")
	c.running = false
	c.panel.Report(ctx, fill.Event{Kind: fill.EventStopRequested, State: fill.StateStopped, Button: fill.ButtonStop})
}

func (c *fakeController) Resume(ctx context.Context) bool {
	c.calls = append(c.calls, "resume")
	if c.running {
		return false
	}
	c.running = true
	c.panel.Report(ctx, fill.Event{Kind: fill.EventResuming, State: fill.StateRunning, Button: fill.ButtonResume})
	return true
}

func newTestServer(t *testing.T, obs *observability.Observability) (*Server, *fakeController, *report.Panel) {
	t.Helper()
	panel := report.NewPanel()
	ctrl := &fakeController{panel: panel}
	srv := New(Config{Controller: ctrl, Panel: panel, Title: "Quota <Test>", Obs: obs, Logger: testLogger()})
	return srv, ctrl, panel
}

func TestDashboardPage(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, id := range []string{"storage-result", "total-storage", "used-storage", "remaining-storage", "start-btn", "stop-btn", "resume-btn"} {
		if !strings.Contains(body, `id="`+id+`"`) {
			t.Errorf("page missing element %q", id)
		}
	}
	if !strings.Contains(body, "Quota &lt;Test&gt;") {
		t.Error("title should be substituted and escaped")
	}
	if strings.Contains(body, titlePlaceholder) {
		t.Error("title placeholder left in page")
	}
}

func TestDashboardNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDashboardMissingAsset(t *testing.T) {
	panel := report.NewPanel()
	srv := New(Config{Controller: &fakeController{panel: panel}, Panel: panel, Assets: fstest.MapFS{}, Logger: testLogger()})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestActionsToggleActiveButton(t *testing.T) {
	srv, ctrl, _ := newTestServer(t, nil)

	steps := []struct {
		path     string
		accepted bool
		active   string
	}{
		{"/api/start", true, fill.ButtonStart},
		{"/api/start", false, fill.ButtonStart},
		{"/api/stop", true, fill.ButtonStop},
		{"/api/resume", true, fill.ButtonResume},
		{"/api/resume", false, fill.ButtonResume},
	}
	for _, st := range steps {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, st.path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", st.path, rec.Code)
		}
		var resp actionResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: decode: %v", st.path, err)
		}
		if resp.Accepted != st.accepted {
			t.Errorf("%s: accepted = %v, want %v", st.path, resp.Accepted, st.accepted)
		}
		if resp.Status.Active != st.active {
			t.Errorf("%s: active = %q, want %q", st.path, resp.Status.Active, st.active)
		}
	}
	if len(ctrl.calls) != len(steps) {
		t.Errorf("controller calls = %v", ctrl.calls)
	}
}

func TestActionsRequirePost(t *testing.T) {
	srv, ctrl, _ := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/start", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
	if len(ctrl.calls) != 0 {
		t.Errorf("GET should not reach the controller: %v", ctrl.calls)
	}
}

func TestStatus(t *testing.T) {
	srv, _, panel := newTestServer(t, nil)
	panel.Report(context.Background(), fill.Event{Kind: fill.EventProgress, State: fill.StateRunning, Records: 2, RunRecords: 2})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var snap report.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.StorageResult != "Stored 2.00 MB" || snap.Records != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestMetricsMounted(t *testing.T) {
	obs, err := observability.New(context.Background(), observability.ObsConfig{LogLevel: "error", LogFormat: "text"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	srv, _, _ := newTestServer(t, obs)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `quotafill_http_requests_total{code="200",path="/api/status"} 1`) {
		t.Errorf("request counter missing from /metrics:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("/health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestSSEStreamsSnapshots(t *testing.T) {
	srv, _, panel := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/sse")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	next := func() report.Snapshot {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var snap report.Snapshot
				if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &snap); err != nil {
					t.Fatalf("decode: %v", err)
				}
				return snap
			}
		}
	}

	if first := next(); first.State != fill.StateIdle {
		t.Errorf("initial state = %q, want idle", first.State)
	}

	panel.Report(context.Background(), fill.Event{Kind: fill.EventProgress, State: fill.StateRunning, Records: 1, RunRecords: 1})
	if snap := next(); snap.StorageResult != "Stored 1.00 MB" {
		t.Errorf("streamed StorageResult = %q", snap.StorageResult)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ServeListener: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
