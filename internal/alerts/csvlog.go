package alerts

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"

	"apishield/internal/config"
	"apishield/internal/model"
)

// ErrSinkWrite marks a persistence failure after retries were exhausted.
// The alert is buffered in memory and surfaced via Pending/Healthy; it is
// never silently dropped.
var ErrSinkWrite = errors.New("alert sink write failed")

// Column order of the persisted alert log. Downstream readers re-parse it,
// so the order is part of the contract.
var csvColumns = []string{
	"timestamp", "client_ip", "api_name", "method", "resource",
	"status_code", "risk_score", "ml_probability", "suggested_action",
}

// Log is the append-only alert sink: one CSV row per alert, stable column
// order, bounded retry with backoff on write failures.
type Log struct {
	mu       sync.Mutex
	path     string
	attempts int
	backoff  time.Duration
	limit    int
	buffer   []model.Alert
	dropped  int64
	logger   *slog.Logger
}

func NewLog(cfg config.AlertLogConfig, logger *slog.Logger) *Log {
	return &Log{
		path:     cfg.Path,
		attempts: cfg.RetryAttempts,
		backoff:  cfg.RetryBackoff,
		limit:    cfg.BufferLimit,
		logger:   logger,
	}
}

// Append persists one alert. Buffered alerts from earlier failures are
// flushed first so the on-disk order matches arrival order.
func (l *Log) Append(alert model.Alert) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buffer) > 0 {
		if err := l.flushLocked(); err != nil {
			l.bufferLocked(alert)
			return fmt.Errorf("%w: %v", ErrSinkWrite, err)
		}
	}
	if err := l.writeRows([]model.Alert{alert}); err != nil {
		l.bufferLocked(alert)
		if l.logger != nil {
			l.logger.Error("alert sink write failed, buffering", "err", err, "pending", len(l.buffer))
		}
		return fmt.Errorf("%w: %v", ErrSinkWrite, err)
	}
	return nil
}

// Flush retries any buffered alerts, preserving order.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

func (l *Log) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}
	if err := l.writeRows(l.buffer); err != nil {
		return err
	}
	l.buffer = nil
	return nil
}

// Pending reports alerts held in memory after exhausted retries.
func (l *Log) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer)
}

func (l *Log) Healthy() bool {
	return l.Pending() == 0
}

// Dropped reports alerts lost to buffer overflow.
func (l *Log) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

func (l *Log) Path() string {
	return l.path
}

func (l *Log) bufferLocked(alert model.Alert) {
	if l.limit > 0 && len(l.buffer) >= l.limit {
		// oldest-first drop keeps the buffer bounded under a dead sink
		copy(l.buffer, l.buffer[1:])
		l.buffer[len(l.buffer)-1] = alert
		l.dropped++
		return
	}
	l.buffer = append(l.buffer, alert)
}

func (l *Log) writeRows(batch []model.Alert) error {
	r := retry.New(
		retry.Attempts(uint(l.attempts)),
		retry.Delay(l.backoff),
		retry.DelayType(retry.BackOffDelay),
	)
	return r.Do(func() error {
		return l.appendBatch(batch)
	})
}

func (l *Log) appendBatch(batch []model.Alert) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvColumns); err != nil {
			return err
		}
	}
	for _, a := range batch {
		if err := w.Write(formatRow(a)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

func formatRow(a model.Alert) []string {
	return []string{
		a.Timestamp.UTC().Format(time.RFC3339),
		a.ClientIP,
		a.APIName,
		a.Method,
		a.Resource,
		strconv.Itoa(a.StatusCode),
		strconv.Itoa(a.RiskScore),
		strconv.FormatFloat(a.Probability, 'f', 4, 64),
		string(a.Action),
	}
}
