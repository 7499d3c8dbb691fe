package report

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gezibash/quotafill/internal/fill"
	"github.com/gezibash/quotafill/internal/quota"
)

// StartingText is shown when a run is started, until the first write.
const StartingText = "Starting storage test..."

// Snapshot is everything a control surface displays. The text fields
// map to the dashboard elements of the same id.
type Snapshot struct {
	SessionID string     `json:"session_id,omitempty"`
	State     fill.State `json:"state"`
	Active    string     `json:"active,omitempty"`

	StorageResult    string `json:"storage_result"`
	TotalStorage     string `json:"total_storage"`
	UsedStorage      string `json:"used_storage"`
	RemainingStorage string `json:"remaining_storage"`

	Records     int64          `json:"records"`
	RunRecords  int64          `json:"run_records"`
	Estimate    quota.Estimate `json:"estimate"`
	HasEstimate bool           `json:"has_estimate"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Panel holds the latest Snapshot and fans updates out to subscribers.
// It implements fill.Reporter.
type Panel struct {
	mu   sync.Mutex
	snap Snapshot
	subs map[chan Snapshot]struct{}
}

// NewPanel creates an idle panel.
func NewPanel() *Panel {
	return &Panel{
		snap: Snapshot{State: fill.StateIdle, UpdatedAt: time.Now()},
		subs: make(map[chan Snapshot]struct{}),
	}
}

// Snapshot returns a copy of the current state.
func (p *Panel) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Subscribe returns a channel receiving every subsequent snapshot, and a
// function that unsubscribes. Slow subscribers miss intermediate updates
// but always hold the newest pending one.
func (p *Panel) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, ch)
			p.mu.Unlock()
		})
	}
}

// Report applies a session event to the panel.
func (p *Panel) Report(ctx context.Context, ev fill.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := &p.snap
	if ev.SessionID != "" {
		s.SessionID = ev.SessionID
	}
	if ev.Button != "" {
		s.Active = ev.Button
	}
	s.State = ev.State
	s.Records = ev.Records

	switch ev.Kind {
	case fill.EventStarting:
		s.StorageResult = StartingText
		s.RunRecords = 0
	case fill.EventResuming:
		s.RunRecords = 0
	case fill.EventProgress:
		s.RunRecords = ev.RunRecords
		s.StorageResult = StoredText(ev.Records)
	case fill.EventQuotaExceeded:
		s.RunRecords = ev.RunRecords
		s.StorageResult += QuotaReachedText(ev.Records)
	case fill.EventOpenFailed:
		s.StorageResult = "Error: " + errText(ev.Err)
	case fill.EventEstimate:
		if ev.Err != nil {
			slog.WarnContext(ctx, "storage quota estimate unavailable", "error", ev.Err)
			break
		}
		p.applyEstimate(ev.Estimate)
	}

	s.UpdatedAt = time.Now()
	p.publish()
}

// UpdateEstimate queries est and renders total/used/remaining. When the
// estimate is unavailable it logs a warning, leaves the prior values, and
// returns the error.
func (p *Panel) UpdateEstimate(ctx context.Context, est quota.Estimator) error {
	e, err := est.Estimate(ctx)
	if err != nil {
		slog.WarnContext(ctx, "storage quota estimate unavailable", "error", err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEstimate(e)
	p.snap.UpdatedAt = time.Now()
	p.publish()
	return nil
}

// applyEstimate renders e. Callers hold p.mu.
func (p *Panel) applyEstimate(e quota.Estimate) {
	p.snap.Estimate = e
	p.snap.HasEstimate = true
	p.snap.TotalStorage = FormatBytes(e.Quota)
	p.snap.UsedStorage = FormatBytes(e.Usage)
	p.snap.RemainingStorage = FormatBytes(e.Remaining())
}

// publish hands the snapshot to every subscriber, replacing any update
// it has not consumed yet. Callers hold p.mu.
func (p *Panel) publish() {
	for ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- p.snap:
		default:
		}
	}
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
