// Package fill drives the write loop that fills a record store until its
// quota is exhausted.
package fill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gezibash/quotafill/internal/observability"
	"github.com/gezibash/quotafill/internal/quota"
	"github.com/gezibash/quotafill/internal/record"
	"github.com/gezibash/quotafill/internal/recordstore"
)

// State is the session's position in the fill state machine.
type State string

const (
	StateIdle          State = "idle"
	StateRunning       State = "running"
	StateStopped       State = "stopped"
	StateQuotaExceeded State = "quota-exceeded"
)

// Store is the database handle a session writes to.
type Store interface {
	Put(ctx context.Context, value []byte) (uint64, error)
	quota.Estimator
	Close() error
}

// OpenFunc opens the session's store. It is called at most once per
// successful open; resuming never reopens.
type OpenFunc func(ctx context.Context) (Store, error)

// Config configures a Session.
type Config struct {
	Open      OpenFunc
	Generator record.Generator

	// Throttle is the pause after each successful write.
	Throttle time.Duration

	// ReportEstimate refreshes quota metrics after each write.
	ReportEstimate bool

	Reporter Reporter
	Metrics  *observability.Metrics
}

// Result summarizes a finished run.
type Result struct {
	State      State
	Records    int64
	RunRecords int64
	Err        error
}

// run is one pass of the write loop. Its flag is cleared by Stop and
// read at the top of each iteration.
type run struct {
	active atomic.Bool
	halted chan struct{} // closed by stop, wakes the throttle
	done   chan struct{}
	result Result
}

func newRun() *run {
	r := &run{halted: make(chan struct{}), done: make(chan struct{})}
	r.active.Store(true)
	return r
}

func (r *run) stop() {
	if r.active.CompareAndSwap(true, false) {
		close(r.halted)
	}
}

// Session owns the run flag, the database handle, and the record tally
// that a fill test accumulates. Records counts every successful write
// across stop/resume cycles of the session.
type Session struct {
	id     string
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	store   Store
	state   State
	records int64
	current *run
	closed  bool
}

// NewSession creates an idle session.
func NewSession(cfg Config) *Session {
	if cfg.Generator == nil {
		cfg.Generator = record.Fixed{}
	}
	if cfg.Reporter == nil {
		cfg.Reporter = Reporters(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:     uuid.NewString(),
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Records returns the number of successful writes in this session.
func (s *Session) Records() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records
}

// Running reports whether a run is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && s.current.active.Load()
}

// Start begins a run. It returns false, doing nothing, while a run is
// already active.
func (s *Session) Start(ctx context.Context) bool {
	return s.launch(ctx, EventStarting, ButtonStart)
}

// Resume continues filling after a stop. It behaves like Start but keeps
// the displayed progress; the database handle from the first start is
// reused.
func (s *Session) Resume(ctx context.Context) bool {
	return s.launch(ctx, EventResuming, ButtonResume)
}

// Stop clears the run flag. The loop notices at its next iteration, so
// at most one more write completes.
func (s *Session) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.current != nil {
		s.current.stop()
	}
	ev := s.event(EventStopRequested)
	s.mu.Unlock()

	ev.Button = ButtonStop
	s.cfg.Reporter.Report(ctx, ev)
}

// Wait blocks until the current run, if any, has exited and returns its
// result.
func (s *Session) Wait() Result {
	s.mu.Lock()
	r := s.current
	state, records := s.state, s.records
	s.mu.Unlock()

	if r == nil {
		return Result{State: state, Records: records}
	}
	<-r.done
	return r.result
}

// Run starts a run and blocks until it ends. Cancelling ctx stops it.
func (s *Session) Run(ctx context.Context) Result {
	if !s.Start(ctx) {
		return s.Wait()
	}
	stop := context.AfterFunc(ctx, func() { s.Stop(context.WithoutCancel(ctx)) })
	defer stop()
	return s.Wait()
}

// Close stops any run, waits for it, and closes the store.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.current != nil {
		s.current.stop()
	}
	s.mu.Unlock()

	s.cancel()
	s.Wait()

	s.mu.Lock()
	store := s.store
	s.store = nil
	s.mu.Unlock()

	if store == nil {
		return nil
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("close session store: %w", err)
	}
	return nil
}

func (s *Session) launch(ctx context.Context, kind EventKind, button string) bool {
	s.mu.Lock()
	if s.closed || (s.current != nil && s.current.active.Load()) {
		s.mu.Unlock()
		return false
	}

	var prev <-chan struct{}
	if s.current != nil {
		prev = s.current.done
	}
	r := newRun()
	s.current = r
	s.state = StateRunning
	ev := s.event(kind)
	s.mu.Unlock()

	ev.Button = button
	s.cfg.Reporter.Report(ctx, ev)

	go s.loop(s.ctx, r, prev)
	return true
}

// event builds an event from the current tallies. Callers hold s.mu.
func (s *Session) event(kind EventKind) Event {
	return Event{
		Kind:      kind,
		SessionID: s.id,
		State:     s.state,
		Time:      time.Now(),
		Records:   s.records,
	}
}

// openStore returns the session's store, opening it on first use.
func (s *Session) openStore(ctx context.Context) (Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return s.store, nil
	}
	if s.cfg.Open == nil {
		return nil, errors.New("no store opener configured")
	}
	store, err := s.cfg.Open(ctx)
	if err != nil {
		return nil, err
	}
	s.store = store
	return store, nil
}

func (s *Session) loop(ctx context.Context, r *run, prev <-chan struct{}) {
	defer close(r.done)
	if prev != nil {
		<-prev
	}

	m := s.cfg.Metrics
	if m != nil {
		m.Running.Set(1)
		defer m.Running.Set(0)
	}

	logger := slog.Default().With("session", s.id)

	store, err := s.openStore(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "storage test failed", "error", err)
		r.stop()
		s.finish(ctx, r, StateIdle, EventOpenFailed, 0, err)
		return
	}

	var runRecords int64
	for r.active.Load() {
		value, err := s.cfg.Generator.Generate()
		if err == nil {
			_, err = store.Put(ctx, value)
		}
		if err != nil && ctx.Err() != nil {
			r.stop()
			break
		}
		if err != nil {
			reason := "backend"
			if errors.Is(err, recordstore.ErrQuotaExceeded) {
				reason = "quota"
			}
			if m != nil {
				m.WriteFailures.WithLabelValues(reason).Inc()
			}
			logger.InfoContext(ctx, "write failed, ending run", "reason", reason, "error", err, "run_records", runRecords)
			r.stop()
			s.finish(ctx, r, StateQuotaExceeded, EventQuotaExceeded, runRecords, err)
			return
		}

		runRecords++
		s.mu.Lock()
		s.records++
		ev := s.event(EventProgress)
		s.mu.Unlock()
		ev.RunRecords = runRecords
		s.cfg.Reporter.Report(ctx, ev)

		if s.cfg.ReportEstimate {
			s.reportEstimate(ctx, store)
		}

		if s.cfg.Throttle > 0 {
			t := time.NewTimer(s.cfg.Throttle)
			select {
			case <-t.C:
			case <-r.halted:
				t.Stop()
			case <-ctx.Done():
				t.Stop()
				r.stop()
			}
		}
	}

	s.finish(ctx, r, StateStopped, EventHalted, runRecords, nil)
}

func (s *Session) reportEstimate(ctx context.Context, store Store) {
	est, err := store.Estimate(ctx)
	if err == nil && s.cfg.Metrics != nil {
		s.cfg.Metrics.QuotaBytes.Set(float64(est.Quota))
		s.cfg.Metrics.UsageBytes.Set(float64(est.Usage))
	}

	s.mu.Lock()
	ev := s.event(EventEstimate)
	s.mu.Unlock()
	ev.Estimate = est
	ev.Err = err
	s.cfg.Reporter.Report(ctx, ev)
}

// finish records the run's terminal state and reports it. A run already
// superseded by a resume leaves the session state alone, and its event
// carries the state of the run that replaced it.
func (s *Session) finish(ctx context.Context, r *run, state State, kind EventKind, runRecords int64, err error) {
	s.mu.Lock()
	if s.current == r {
		s.state = state
	}
	ev := s.event(kind)
	r.result = Result{State: state, Records: s.records, RunRecords: runRecords, Err: err}
	s.mu.Unlock()

	ev.RunRecords = runRecords
	ev.Err = err
	s.cfg.Reporter.Report(ctx, ev)
}
