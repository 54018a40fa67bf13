package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"apishield/internal/alerts"
	"apishield/internal/classifier"
	"apishield/internal/config"
	"apishield/internal/metrics"
	"apishield/internal/model"
	"apishield/internal/storage"
)

// State of the detector loop.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
	StateDrained
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateDrained:
		return "drained"
	}
	return "unknown"
}

// ErrAlreadyStarted is returned when Run is called on a detector that has
// left the idle state.
var ErrAlreadyStarted = errors.New("detector already started")

// ErrDetectorRunning is returned when Reset is called while the loop is
// still consuming events.
var ErrDetectorRunning = errors.New("detector is running")

// Classifier is the pre-trained attack model the detector consults per
// event. classifier.Provider satisfies it.
type Classifier interface {
	Classify(se model.ScoredEvent) (float64, error)
	Version() string
}

// Sink receives alerts for append-only persistence. alerts.Log satisfies it.
type Sink interface {
	Append(alert model.Alert) error
	Flush() error
	Pending() int
}

// Engine orchestrates the per-event pipeline: aggregate, score, classify,
// band, emit. Alerts come out in the same order the generating events
// were observed.
type Engine struct {
	logger   *slog.Logger
	cfg      atomic.Value
	agg      *Aggregator
	clf      Classifier
	alerts   *alerts.Store
	features *metrics.Store
	sink     Sink
	store    storage.Store
	notifier *alerts.Notifier
	limiter  *rate.Limiter

	state      atomic.Int32
	processed  atomic.Int64
	skipped    atomic.Int64
	alertCount atomic.Int64
}

func NewEngine(cfg *config.Config, logger *slog.Logger, clf Classifier, alertsStore *alerts.Store, featureStore *metrics.Store, sink Sink, store storage.Store, notifier *alerts.Notifier) *Engine {
	e := &Engine{
		logger:   logger,
		agg:      NewAggregator(cfg.Detection.WindowSize, cfg.Detection.RetentionWindows),
		clf:      clf,
		alerts:   alertsStore,
		features: featureStore,
		sink:     sink,
		store:    store,
		notifier: notifier,
	}
	e.cfg.Store(cfg)
	if cfg.Detection.PaceInterval > 0 {
		e.limiter = rate.NewLimiter(rate.Every(cfg.Detection.PaceInterval), 1)
	}
	e.state.Store(int32(StateIdle))
	return e
}

// UpdateConfig swaps thresholds, weights and bands. The window size and
// retention horizon are fixed at construction; changing them needs a
// restart.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// Start runs the detector loop in its own goroutine.
func (e *Engine) Start(ctx context.Context, in <-chan model.Event) {
	go func() {
		if err := e.Run(ctx, in); err != nil && !errors.Is(err, context.Canceled) {
			if e.logger != nil {
				e.logger.Error("detector stopped", "err", err)
			}
		}
	}()
}

// Run consumes events until the context is cancelled (state STOPPED) or
// the channel is closed (state DRAINED). Cancellation is checked between
// events only; an in-flight classification is never interrupted. On exit
// buffered sink writes are flushed and partial window state is discarded.
func (e *Engine) Run(ctx context.Context, in <-chan model.Event) error {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	for {
		select {
		case <-ctx.Done():
			e.shutdown(StateStopped)
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				e.shutdown(StateDrained)
				return nil
			}
			if e.limiter != nil {
				if err := e.limiter.Wait(ctx); err != nil {
					e.shutdown(StateStopped)
					return err
				}
			}
			e.ProcessEvent(ev)
		}
	}
}

func (e *Engine) shutdown(next State) {
	if e.sink != nil {
		if err := e.sink.Flush(); err != nil && e.logger != nil {
			e.logger.Error("sink flush on shutdown failed", "pending", e.sink.Pending(), "err", err)
		}
	}
	e.agg.Reset()
	e.state.Store(int32(next))
	if e.logger != nil {
		e.logger.Info("detector shut down",
			"state", next.String(),
			"processed", e.processed.Load(),
			"skipped", e.skipped.Load(),
			"alerts", e.alertCount.Load(),
		)
	}
}

// ProcessEvent runs one event through the full pipeline and returns the
// scored event plus the alert, if one fired.
func (e *Engine) ProcessEvent(ev model.Event) (model.ScoredEvent, *model.Alert) {
	cfg := e.config()

	wf := e.agg.Observe(ev)
	risk := ScoreWindow(wf, cfg.Detection)
	se := model.ScoredEvent{
		Event:          ev,
		WindowFeatures: wf,
		BurstFlag:      risk.Burst,
		ScanFlag:       risk.Scan,
		AuthAbuseFlag:  risk.AuthAbuse,
		RiskScore:      risk.Score,
		AttackDetected: risk.Attack,
	}

	prob, err := e.clf.Classify(se)
	if err != nil {
		se.Probability = 0.0
		se.Action = model.ActionModelNotLoaded
		if !errors.Is(err, classifier.ErrModelUnavailable) && e.logger != nil {
			e.logger.Warn("classification failed", "client_ip", ev.ClientIP, "err", err)
		}
	} else {
		se.Probability = prob
		se.Action = SelectAction(prob, cfg.Detection.Bands)
	}

	if e.features != nil {
		e.features.Update(ev.ClientIP, wf)
	}
	if e.store != nil {
		_ = e.store.SaveFeatures(context.Background(), ev.ClientIP, wf)
	}
	e.processed.Add(1)

	if err != nil || se.Probability < cfg.Detection.AlertThreshold {
		return se, nil
	}

	alert := model.Alert{
		ID:          uuid.NewString(),
		Timestamp:   ev.Timestamp,
		ClientIP:    ev.ClientIP,
		APIName:     ev.APIName,
		Method:      ev.Method,
		Resource:    ev.Resource,
		StatusCode:  ev.StatusCode,
		RiskScore:   se.RiskScore,
		Probability: se.Probability,
		Action:      se.Action,
	}
	e.emit(alert)
	return se, &alert
}

func (e *Engine) emit(alert model.Alert) {
	e.alertCount.Add(1)
	if e.alerts != nil {
		e.alerts.Add(alert)
	}
	if e.logger != nil {
		e.logger.Warn("alert",
			"client_ip", alert.ClientIP,
			"api", alert.APIName,
			"resource", alert.Resource,
			"risk_score", alert.RiskScore,
			"ml_probability", alert.Probability,
			"action", alert.Action,
		)
	}
	if e.sink != nil {
		_ = e.sink.Append(alert)
	}
	if e.store != nil {
		_ = e.store.SaveAlert(context.Background(), alert)
	}
	e.notifier.Publish(context.Background(), alert)
}

// RecordSkip counts a malformed record rejected by the normalizer.
func (e *Engine) RecordSkip() {
	e.skipped.Add(1)
}

// Reset clears window state and counters, returning the detector to idle.
// A running detector refuses the reset: only stopped, drained or idle
// detectors can transition back to idle.
func (e *Engine) Reset() error {
	cur := e.state.Load()
	if State(cur) == StateRunning {
		return ErrDetectorRunning
	}
	if !e.state.CompareAndSwap(cur, int32(StateIdle)) {
		return ErrDetectorRunning
	}
	e.agg.Reset()
	e.processed.Store(0)
	e.skipped.Store(0)
	e.alertCount.Store(0)
	return nil
}

// Stats is a point-in-time view of the detector for the status facade.
type Stats struct {
	State         string `json:"state"`
	Processed     int64  `json:"processed"`
	Skipped       int64  `json:"skipped"`
	Alerts        int64  `json:"alerts"`
	ActiveWindows int    `json:"active_windows"`
	SinkPending   int    `json:"sink_pending"`
	ModelVersion  string `json:"model_version"`
}

func (e *Engine) Stats() Stats {
	s := Stats{
		State:         e.State().String(),
		Processed:     e.processed.Load(),
		Skipped:       e.skipped.Load(),
		Alerts:        e.alertCount.Load(),
		ActiveWindows: e.agg.Len(),
	}
	if e.sink != nil {
		s.SinkPending = e.sink.Pending()
	}
	if e.clf != nil {
		s.ModelVersion = e.clf.Version()
	}
	return s
}
