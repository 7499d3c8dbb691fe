package fill

import (
	"context"
	"time"

	"github.com/gezibash/quotafill/internal/quota"
)

// EventKind identifies what happened in a session.
type EventKind string

const (
	EventStarting      EventKind = "starting"
	EventResuming      EventKind = "resuming"
	EventOpenFailed    EventKind = "open_failed"
	EventProgress      EventKind = "progress"
	EventEstimate      EventKind = "estimate"
	EventStopRequested EventKind = "stop_requested"
	EventQuotaExceeded EventKind = "quota_exceeded"
	EventHalted        EventKind = "halted"
)

// Control ids, shared by every control surface.
const (
	ButtonStart  = "start-btn"
	ButtonStop   = "stop-btn"
	ButtonResume = "resume-btn"
)

// Event is delivered to a Reporter for every observable change.
type Event struct {
	Kind      EventKind
	SessionID string
	State     State
	Time      time.Time

	// Button is the control to highlight, set on start/stop/resume.
	Button string

	// Records is the session total; RunRecords counts the current run only.
	Records    int64
	RunRecords int64

	Estimate quota.Estimate
	Err      error
}

// Reporter receives session events. Implementations must be safe for
// concurrent use: control actions and the write loop report from
// different goroutines.
type Reporter interface {
	Report(ctx context.Context, ev Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, ev Event)

// Report calls f(ctx, ev).
func (f ReporterFunc) Report(ctx context.Context, ev Event) { f(ctx, ev) }

// Reporters fans an event out to each reporter in order.
type Reporters []Reporter

// Report implements Reporter.
func (rs Reporters) Report(ctx context.Context, ev Event) {
	for _, r := range rs {
		if r != nil {
			r.Report(ctx, ev)
		}
	}
}
