package report

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/gezibash/quotafill/internal/fill"
	"github.com/gezibash/quotafill/internal/quota"
	"github.com/gezibash/quotafill/internal/record"
)

func progress(records int64) fill.Event {
	return fill.Event{Kind: fill.EventProgress, State: fill.StateRunning, Records: records, RunRecords: records}
}

func TestPanelProgressText(t *testing.T) {
	p := NewPanel()
	ctx := context.Background()

	p.Report(ctx, fill.Event{Kind: fill.EventStarting, State: fill.StateRunning, Button: fill.ButtonStart})
	if got := p.Snapshot().StorageResult; got != StartingText {
		t.Fatalf("StorageResult = %q, want %q", got, StartingText)
	}

	for n := int64(1); n <= 5; n++ {
		p.Report(ctx, progress(n))
		if got, want := p.Snapshot().StorageResult, StoredText(n); got != want {
			t.Fatalf("after %d writes StorageResult = %q, want %q", n, got, want)
		}
	}

	p.Report(ctx, fill.Event{Kind: fill.EventQuotaExceeded, State: fill.StateQuotaExceeded, Records: 5, RunRecords: 5, Err: errors.New("full")})
	want := "Stored 5.00 MB\nQuota reached! Stored approximately 5.00 MB"
	snap := p.Snapshot()
	if snap.StorageResult != want {
		t.Errorf("StorageResult = %q, want %q", snap.StorageResult, want)
	}
	if snap.State != fill.StateQuotaExceeded {
		t.Errorf("State = %q", snap.State)
	}
}

func TestPanelOpenFailure(t *testing.T) {
	p := NewPanel()
	p.Report(context.Background(), fill.Event{Kind: fill.EventOpenFailed, State: fill.StateIdle, Err: errors.New("access denied")})
	if got := p.Snapshot().StorageResult; got != "Error: access denied" {
		t.Errorf("StorageResult = %q", got)
	}
}

func TestPanelActiveButtonExclusive(t *testing.T) {
	p := NewPanel()
	ctx := context.Background()
	steps := []struct {
		ev   fill.Event
		want string
	}{
		{fill.Event{Kind: fill.EventStarting, Button: fill.ButtonStart}, fill.ButtonStart},
		{progress(1), fill.ButtonStart},
		{fill.Event{Kind: fill.EventStopRequested, Button: fill.ButtonStop}, fill.ButtonStop},
		{fill.Event{Kind: fill.EventResuming, Button: fill.ButtonResume}, fill.ButtonResume},
	}
	for _, st := range steps {
		p.Report(ctx, st.ev)
		if got := p.Snapshot().Active; got != st.want {
			t.Fatalf("after %s Active = %q, want %q", st.ev.Kind, got, st.want)
		}
	}
}

func TestPanelResumeKeepsText(t *testing.T) {
	p := NewPanel()
	ctx := context.Background()
	p.Report(ctx, progress(3))
	p.Report(ctx, fill.Event{Kind: fill.EventResuming, Button: fill.ButtonResume, Records: 3})
	if got := p.Snapshot().StorageResult; got != "Stored 3.00 MB" {
		t.Errorf("StorageResult after resume = %q", got)
	}
}

func TestPanelEstimate(t *testing.T) {
	p := NewPanel()
	ctx := context.Background()

	p.Report(ctx, fill.Event{Kind: fill.EventEstimate, Estimate: quota.Estimate{Quota: 1 << 30, Usage: 1 << 20}})
	snap := p.Snapshot()
	if snap.TotalStorage != "1.00 GB" || snap.UsedStorage != "1.00 MB" || snap.RemainingStorage != "1023.00 MB" {
		t.Fatalf("estimate texts = %q %q %q", snap.TotalStorage, snap.UsedStorage, snap.RemainingStorage)
	}

	// An unavailable estimate leaves the prior values in place.
	p.Report(ctx, fill.Event{Kind: fill.EventEstimate, Err: quota.ErrUnsupported})
	if err := p.UpdateEstimate(ctx, quota.Unsupported); !errors.Is(err, quota.ErrUnsupported) {
		t.Errorf("UpdateEstimate(unsupported) = %v, want ErrUnsupported", err)
	}
	after := p.Snapshot()
	if after.TotalStorage != snap.TotalStorage || after.UsedStorage != snap.UsedStorage || after.RemainingStorage != snap.RemainingStorage {
		t.Errorf("unavailable estimate changed the panel: %+v", after)
	}

	if err := p.UpdateEstimate(ctx, quota.Fixed{Capacity: 2048, Used: func() int64 { return 1024 }}); err != nil {
		t.Fatal(err)
	}
	if got := p.Snapshot().RemainingStorage; got != "1.00 KB" {
		t.Errorf("RemainingStorage = %q", got)
	}
}

func TestPanelSubscribe(t *testing.T) {
	p := NewPanel()
	ch, unsubscribe := p.Subscribe()

	p.Report(context.Background(), progress(1))
	p.Report(context.Background(), progress(2))

	snap := <-ch
	if snap.Records != 2 {
		t.Errorf("subscriber got Records = %d, want the newest (2)", snap.Records)
	}

	unsubscribe()
	unsubscribe()
	p.Report(context.Background(), progress(3))
	select {
	case s := <-ch:
		t.Errorf("unexpected snapshot after unsubscribe: %+v", s)
	default:
	}
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := Log(logger)
	ctx := context.Background()

	r.Report(ctx, fill.Event{Kind: fill.EventStarting, SessionID: "s1"})
	r.Report(ctx, progress(10))
	r.Report(ctx, fill.Event{Kind: fill.EventQuotaExceeded, Records: 10, Err: errors.New("full")})

	out := buf.String()
	for _, want := range []string{"storage test starting", "Stored 10.00 MB", "quota reached", "stored=\"10.00 MB\""} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

// gatedStore blocks each put until released.
type gatedStore struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Put(context.Context, []byte) (uint64, error) {
	g.entered <- struct{}{}
	<-g.release
	return 1, nil
}

func (g *gatedStore) Estimate(context.Context) (quota.Estimate, error) {
	return quota.Estimate{}, quota.ErrUnsupported
}

func (g *gatedStore) Close() error { return nil }

func TestPanelStateAfterResumeDuringWrite(t *testing.T) {
	store := &gatedStore{entered: make(chan struct{}), release: make(chan struct{})}
	p := NewPanel()
	s := fill.NewSession(fill.Config{
		Open:      func(context.Context) (fill.Store, error) { return store, nil },
		Generator: record.Fixed{Size: 8},
		Reporter:  p,
	})
	defer s.Close()

	ctx := context.Background()
	s.Start(ctx)
	<-store.entered
	s.Stop(ctx)
	s.Resume(ctx)
	store.release <- struct{}{}
	<-store.entered

	snap := p.Snapshot()
	if snap.State != fill.StateRunning || snap.Active != fill.ButtonResume {
		t.Errorf("panel state=%q active=%q, want %q/%q", snap.State, snap.Active, fill.StateRunning, fill.ButtonResume)
	}

	s.Stop(ctx)
	close(store.release)
	s.Wait()
	if got := p.Snapshot().State; got != fill.StateStopped {
		t.Errorf("panel state after final stop = %q, want %q", got, fill.StateStopped)
	}
}
