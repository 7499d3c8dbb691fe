package fill

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gezibash/quotafill/internal/observability"
	"github.com/gezibash/quotafill/internal/quota"
	"github.com/gezibash/quotafill/internal/record"
	"github.com/gezibash/quotafill/internal/recordstore"

	_ "github.com/gezibash/quotafill/internal/recordstore/physical/memory"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

var errDiskFull = errors.New("disk full")

type fakeStore struct {
	mu        sync.Mutex
	attempts  int
	written   int
	failAfter int // fail every put once written reaches this; 0 disables
	closed    int

	// entered, when set, receives before each put; release gates it.
	entered chan struct{}
	release chan struct{}

	est    quota.Estimate
	estErr error
}

func (f *fakeStore) Put(ctx context.Context, value []byte) (uint64, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failAfter > 0 && f.written >= f.failAfter {
		return 0, errDiskFull
	}
	f.written++
	return uint64(f.written), nil
}

func (f *fakeStore) Estimate(context.Context) (quota.Estimate, error) {
	return f.est, f.estErr
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeStore) counts() (attempts, written int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts, f.written
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	hook   func(Event)
}

func (r *recorder) Report(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (r *recorder) kinds(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func openerFor(store Store, opens *atomic.Int32) OpenFunc {
	return func(context.Context) (Store, error) {
		if opens != nil {
			opens.Add(1)
		}
		return store, nil
	}
}

func tinyGenerator() record.Generator { return record.Fixed{Size: 8} }

func TestRunUntilWriteFailure(t *testing.T) {
	store := &fakeStore{failAfter: 3}
	rec := &recorder{}
	s := NewSession(Config{Open: openerFor(store, nil), Generator: tinyGenerator(), Reporter: rec})
	defer s.Close()

	res := s.Run(context.Background())
	if res.State != StateQuotaExceeded {
		t.Fatalf("State = %q, want %q", res.State, StateQuotaExceeded)
	}
	if res.Records != 3 || res.RunRecords != 3 {
		t.Errorf("Records = %d/%d, want 3/3", res.Records, res.RunRecords)
	}
	if !errors.Is(res.Err, errDiskFull) {
		t.Errorf("Err = %v, want errDiskFull", res.Err)
	}

	// The run halts permanently: no further attempts after the failing one.
	time.Sleep(20 * time.Millisecond)
	if attempts, _ := store.counts(); attempts != 4 {
		t.Errorf("attempts = %d, want 4", attempts)
	}

	failed := rec.kinds(EventQuotaExceeded)
	if len(failed) != 1 || failed[0].Records != 3 {
		t.Fatalf("quota events = %+v", failed)
	}
	if got := len(rec.kinds(EventProgress)); got != 3 {
		t.Errorf("progress events = %d, want 3", got)
	}
	if s.State() != StateQuotaExceeded || s.Running() {
		t.Errorf("State = %q, Running = %v", s.State(), s.Running())
	}
}

func TestStopAllowsAtMostOneWrite(t *testing.T) {
	store := &fakeStore{entered: make(chan struct{}), release: make(chan struct{})}
	rec := &recorder{}
	s := NewSession(Config{Open: openerFor(store, nil), Generator: tinyGenerator(), Reporter: rec})
	defer s.Close()

	if !s.Start(context.Background()) {
		t.Fatal("Start returned false")
	}
	<-store.entered // first write in flight
	s.Stop(context.Background())
	close(store.release)

	res := s.Wait()
	if res.State != StateStopped {
		t.Fatalf("State = %q, want %q", res.State, StateStopped)
	}
	if _, written := store.counts(); written != 1 {
		t.Errorf("written = %d, want 1", written)
	}

	stops := rec.kinds(EventStopRequested)
	if len(stops) != 1 || stops[0].Button != ButtonStop {
		t.Errorf("stop events = %+v", stops)
	}
}

func TestResumeReusesStore(t *testing.T) {
	store := &fakeStore{}
	var opens atomic.Int32
	rec := &recorder{}
	s := NewSession(Config{Open: openerFor(store, &opens), Generator: tinyGenerator(), Reporter: rec})
	defer s.Close()

	rec.hook = func(ev Event) {
		if ev.Kind == EventProgress && ev.RunRecords == 2 {
			s.Stop(context.Background())
		}
	}

	s.Start(context.Background())
	first := s.Wait()
	if first.State != StateStopped || first.Records != 2 {
		t.Fatalf("first run = %+v", first)
	}

	if !s.Resume(context.Background()) {
		t.Fatal("Resume returned false")
	}
	second := s.Wait()
	if second.State != StateStopped {
		t.Fatalf("second run state = %q", second.State)
	}
	if second.RunRecords != 2 || second.Records != 4 {
		t.Errorf("second run = %+v, want 2 run records of 4 total", second)
	}
	if n := opens.Load(); n != 1 {
		t.Errorf("opens = %d, want 1", n)
	}
	if _, written := store.counts(); written != 4 {
		t.Errorf("written = %d, want 4", written)
	}

	resumes := rec.kinds(EventResuming)
	if len(resumes) != 1 || resumes[0].Button != ButtonResume {
		t.Errorf("resume events = %+v", resumes)
	}
}

func TestResumeDuringInFlightWriteKeepsRunning(t *testing.T) {
	store := &fakeStore{entered: make(chan struct{}), release: make(chan struct{})}
	rec := &recorder{}
	s := NewSession(Config{Open: openerFor(store, nil), Generator: tinyGenerator(), Reporter: rec})
	defer s.Close()

	ctx := context.Background()
	s.Start(ctx)
	<-store.entered // first run's write in flight
	s.Stop(ctx)
	if !s.Resume(ctx) {
		t.Fatal("Resume after Stop returned false")
	}
	store.release <- struct{}{} // first run finishes its write and halts
	<-store.entered             // resumed run is writing

	if got := s.State(); got != StateRunning {
		t.Errorf("session State = %q, want %q", got, StateRunning)
	}
	halted := rec.kinds(EventHalted)
	if len(halted) != 1 {
		t.Fatalf("halted events = %d, want 1", len(halted))
	}
	if halted[0].State != StateRunning {
		t.Errorf("superseded run reported State = %q, want %q", halted[0].State, StateRunning)
	}

	s.Stop(ctx)
	close(store.release)
	if res := s.Wait(); res.State != StateStopped {
		t.Errorf("resumed run ended in %q, want %q", res.State, StateStopped)
	}
}

func TestStartWhileRunningIsNoop(t *testing.T) {
	store := &fakeStore{entered: make(chan struct{}), release: make(chan struct{})}
	s := NewSession(Config{Open: openerFor(store, nil), Generator: tinyGenerator()})

	if !s.Start(context.Background()) {
		t.Fatal("first Start returned false")
	}
	<-store.entered
	if s.Start(context.Background()) {
		t.Error("second Start should be a no-op")
	}
	if s.Resume(context.Background()) {
		t.Error("Resume while running should be a no-op")
	}

	s.Stop(context.Background())
	close(store.release)
	s.Wait()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOpenFailure(t *testing.T) {
	var opens atomic.Int32
	rec := &recorder{}
	s := NewSession(Config{
		Open: func(context.Context) (Store, error) {
			opens.Add(1)
			return nil, errors.New("access denied")
		},
		Reporter: rec,
	})
	defer s.Close()

	res := s.Run(context.Background())
	if res.State != StateIdle || res.Err == nil {
		t.Fatalf("result = %+v", res)
	}
	if got := rec.kinds(EventOpenFailed); len(got) != 1 || got[0].Err == nil {
		t.Fatalf("open failed events = %+v", got)
	}

	// A later start tries to open again.
	s.Run(context.Background())
	if n := opens.Load(); n != 2 {
		t.Errorf("opens = %d, want 2", n)
	}
}

func TestEstimateEvents(t *testing.T) {
	store := &fakeStore{failAfter: 2, est: quota.Estimate{Quota: 100, Usage: 40}}
	rec := &recorder{}
	m := observability.NewMetrics()
	s := NewSession(Config{
		Open:           openerFor(store, nil),
		Generator:      tinyGenerator(),
		ReportEstimate: true,
		Reporter:       rec,
		Metrics:        m,
	})
	defer s.Close()

	s.Run(context.Background())

	ests := rec.kinds(EventEstimate)
	if len(ests) != 2 {
		t.Fatalf("estimate events = %d, want 2", len(ests))
	}
	if ests[0].Estimate.Remaining() != 60 {
		t.Errorf("Remaining = %d, want 60", ests[0].Estimate.Remaining())
	}
	if got := testutil.ToFloat64(m.QuotaBytes); got != 100 {
		t.Errorf("QuotaBytes = %v, want 100", got)
	}
	if got := testutil.ToFloat64(m.WriteFailures.WithLabelValues("backend")); got != 1 {
		t.Errorf("backend write failures = %v, want 1", got)
	}
}

func TestRunCancelStops(t *testing.T) {
	store := &fakeStore{}
	s := NewSession(Config{Open: openerFor(store, nil), Generator: tinyGenerator(), Throttle: time.Hour})
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := s.Run(ctx)
	if res.State != StateStopped {
		t.Fatalf("State = %q, want %q", res.State, StateStopped)
	}
}

func TestCloseInterruptsThrottle(t *testing.T) {
	store := &fakeStore{}
	s := NewSession(Config{Open: openerFor(store, nil), Generator: tinyGenerator(), Throttle: time.Hour})

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not interrupt the throttle")
	}

	if store.closed != 1 {
		t.Errorf("store closed %d times, want 1", store.closed)
	}
	if s.Start(context.Background()) {
		t.Error("Start after Close should fail")
	}
}

func TestFillsRecordStoreToQuota(t *testing.T) {
	const mib = 1 << 20
	m := observability.NewMetrics()
	s := NewSession(Config{
		Open: func(ctx context.Context) (Store, error) {
			return recordstore.Open(ctx, recordstore.Options{Backend: "memory", Quota: 3 * mib, Metrics: m})
		},
		Generator: record.Fixed{},
		Metrics:   m,
	})
	defer s.Close()

	res := s.Run(context.Background())
	if res.State != StateQuotaExceeded {
		t.Fatalf("State = %q", res.State)
	}
	if !errors.Is(res.Err, recordstore.ErrQuotaExceeded) {
		t.Errorf("Err = %v, want ErrQuotaExceeded", res.Err)
	}
	if res.Records != 3 {
		t.Errorf("Records = %d, want 3", res.Records)
	}
	if got := testutil.ToFloat64(m.WriteFailures.WithLabelValues("quota")); got != 1 {
		t.Errorf("quota write failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Running); got != 0 {
		t.Errorf("Running gauge = %v after run", got)
	}
}
