package report

import (
	"context"
	"log/slog"

	"github.com/gezibash/quotafill/internal/fill"
)

// Log returns a fill.Reporter that writes session events to logger.
// Progress and estimates log at debug; every tenth record is promoted
// to info so a long run stays visible.
func Log(logger *slog.Logger) fill.Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return fill.ReporterFunc(func(ctx context.Context, ev fill.Event) {
		attrs := []any{"session", ev.SessionID, "state", ev.State, "records", ev.Records}
		switch ev.Kind {
		case fill.EventStarting, fill.EventResuming:
			logger.InfoContext(ctx, "storage test "+string(ev.Kind), attrs...)
		case fill.EventProgress:
			level := slog.LevelDebug
			if ev.Records%10 == 0 {
				level = slog.LevelInfo
			}
			logger.Log(ctx, level, StoredText(ev.Records), append(attrs, "run_records", ev.RunRecords)...)
		case fill.EventEstimate:
			if ev.Err != nil {
				return
			}
			logger.DebugContext(ctx, "storage estimate",
				"total", FormatBytes(ev.Estimate.Quota),
				"used", FormatBytes(ev.Estimate.Usage),
				"remaining", FormatBytes(ev.Estimate.Remaining()),
			)
		case fill.EventStopRequested:
			logger.InfoContext(ctx, "stop requested", attrs...)
		case fill.EventHalted:
			logger.InfoContext(ctx, "storage test stopped", append(attrs, "run_records", ev.RunRecords)...)
		case fill.EventQuotaExceeded:
			logger.WarnContext(ctx, "quota reached", append(attrs, "stored", FormatMiB(ev.Records)+" MB", "error", ev.Err)...)
		case fill.EventOpenFailed:
			logger.ErrorContext(ctx, "storage test failed", "error", ev.Err)
		}
	})
}
