package ingest

import (
	"context"
	"log/slog"
	"time"

	"apishield/internal/config"
	"apishield/internal/model"
	"apishield/internal/normalize"
)

// SkipCounter receives one call per malformed row. A single bad row never
// aborts a stream.
type SkipCounter interface {
	RecordSkip()
}

func SendNonBlocking(ctx context.Context, out chan<- model.Event, ev model.Event, logger *slog.Logger) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("event channel full, dropping event", "client_ip", ev.ClientIP, "timestamp", ev.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// dispatchLine parses and normalizes one raw row, forwarding it on success
// and counting it on failure.
func dispatchLine(ctx context.Context, line, source string, cfg *config.Manager, parser *Parser, out chan<- model.Event, skips SkipCounter, logger *slog.Logger) {
	fields, err := parser.ParseLine(line)
	if err != nil {
		if skips != nil {
			skips.RecordSkip()
		}
		if logger != nil {
			logger.Debug("unparseable row skipped", "source", source, "err", err)
		}
		return
	}
	if fields == nil {
		return
	}
	ev, err := normalize.Normalize(*fields, cfg.Get())
	if err != nil {
		if skips != nil {
			skips.RecordSkip()
		}
		if logger != nil {
			logger.Debug("malformed row skipped", "source", source, "err", err)
		}
		return
	}
	ev.Source = source
	SendNonBlocking(ctx, out, ev, logger)
}
