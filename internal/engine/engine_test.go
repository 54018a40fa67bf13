package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"apishield/internal/alerts"
	"apishield/internal/classifier"
	"apishield/internal/config"
	"apishield/internal/metrics"
	"apishield/internal/model"
)

type stubClassifier struct {
	fn  func(se model.ScoredEvent) float64
	err error
}

func (s stubClassifier) Classify(se model.ScoredEvent) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.fn(se), nil
}

func (s stubClassifier) Version() string { return "stub" }

type memSink struct {
	appended []model.Alert
	flushed  int
}

func (m *memSink) Append(alert model.Alert) error {
	m.appended = append(m.appended, alert)
	return nil
}

func (m *memSink) Flush() error {
	m.flushed++
	return nil
}

func (m *memSink) Pending() int { return 0 }

func testConfig() *config.Config {
	return config.DefaultConfig()
}

func newEngineForTest(cfg *config.Config, clf Classifier, sink Sink) *Engine {
	return NewEngine(cfg, nil, clf, alerts.NewStore(100), metrics.NewStore(100), sink, nil, nil)
}

func fixedProb(p float64) stubClassifier {
	return stubClassifier{fn: func(model.ScoredEvent) float64 { return p }}
}

func TestBenignSingleRequest(t *testing.T) {
	eng := newEngineForTest(testConfig(), fixedProb(0.05), nil)
	se, alert := eng.ProcessEvent(model.Event{
		Timestamp:  time.Date(2026, 3, 1, 9, 0, 1, 0, time.UTC),
		ClientIP:   "172.16.0.9",
		APIName:    "UserAPI",
		Method:     "GET",
		Resource:   "/user/profile",
		StatusCode: 200,
	})
	if alert != nil {
		t.Fatalf("unexpected alert for benign request")
	}
	if se.RequestCount != 1 {
		t.Fatalf("request count = %d, want 1", se.RequestCount)
	}
	if se.BurstFlag || se.ScanFlag || se.AuthAbuseFlag {
		t.Fatalf("flags raised: %+v", se)
	}
	if se.RiskScore != 0 || se.AttackDetected {
		t.Fatalf("risk=%d attack=%v", se.RiskScore, se.AttackDetected)
	}
	if se.Action != model.ActionAllow {
		t.Fatalf("action = %s, want ALLOW", se.Action)
	}
}

func TestAttackWindowScenario(t *testing.T) {
	sink := &memSink{}
	eng := newEngineForTest(testConfig(), fixedProb(0.97), sink)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	endpoints := []string{"/user/login", "/admin/health", "/admin/metrics", "/payment/charge", "/order/create", "/inventory/check"}

	var last model.ScoredEvent
	for i := 0; i < 20; i++ {
		status := 200
		if i < 8 {
			status = 401
		}
		last, _ = eng.ProcessEvent(model.Event{
			Timestamp:  base.Add(time.Duration(i) * 400 * time.Millisecond),
			ClientIP:   "91.210.10.4",
			APIName:    "UserAPI",
			Method:     "POST",
			Resource:   endpoints[i%len(endpoints)],
			StatusCode: status,
		})
	}
	if last.RequestCount != 20 || last.DistinctEndpoint != 6 || last.AuthFailures != 8 {
		t.Fatalf("window snapshot: %+v", last.WindowFeatures)
	}
	if !last.BurstFlag || !last.ScanFlag || !last.AuthAbuseFlag {
		t.Fatalf("expected all flags raised: %+v", last)
	}
	if last.RiskScore != 100 || !last.AttackDetected {
		t.Fatalf("risk=%d attack=%v, want 100/true", last.RiskScore, last.AttackDetected)
	}
	if last.Action != model.ActionBlock {
		t.Fatalf("action = %s, want %s", last.Action, model.ActionBlock)
	}
	if len(sink.appended) == 0 {
		t.Fatalf("no alerts reached the sink")
	}
	got := sink.appended[len(sink.appended)-1]
	if got.ClientIP != "91.210.10.4" || got.Action != model.ActionBlock {
		t.Fatalf("sink alert mismatch: %+v", got)
	}
}

func TestModelUnavailableDegrades(t *testing.T) {
	sink := &memSink{}
	eng := newEngineForTest(testConfig(), stubClassifier{err: classifier.ErrModelUnavailable}, sink)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		se, alert := eng.ProcessEvent(model.Event{
			Timestamp:  base.Add(time.Duration(i) * 100 * time.Millisecond),
			ClientIP:   "91.210.10.4",
			APIName:    "AdminAPI",
			Method:     "GET",
			Resource:   fmt.Sprintf("/admin/%d", i),
			StatusCode: 401,
		})
		if alert != nil {
			t.Fatalf("alert emitted without a model")
		}
		if se.Probability != 0.0 {
			t.Fatalf("probability = %v, want 0", se.Probability)
		}
		if se.Action != model.ActionModelNotLoaded {
			t.Fatalf("action = %s, want MODEL_NOT_LOADED", se.Action)
		}
	}
	if len(sink.appended) != 0 {
		t.Fatalf("sink received %d alerts while degraded", len(sink.appended))
	}
}

func TestAlertOrderingDeterministic(t *testing.T) {
	mkEvents := func() []model.Event {
		base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		out := make([]model.Event, 0, 40)
		for i := 0; i < 40; i++ {
			status := 200
			if i%3 == 0 {
				status = 401
			}
			out = append(out, model.Event{
				Timestamp:  base.Add(time.Duration(i) * 250 * time.Millisecond),
				ClientIP:   fmt.Sprintf("10.0.0.%d", i%4),
				APIName:    "OrderAPI",
				Method:     "GET",
				Resource:   fmt.Sprintf("/order/%d", i%7),
				StatusCode: status,
			})
		}
		return out
	}
	clf := stubClassifier{fn: func(se model.ScoredEvent) float64 {
		if se.StatusCode == 401 {
			return 0.9
		}
		return 0.1
	}}

	run := func() []model.Alert {
		sink := &memSink{}
		eng := newEngineForTest(testConfig(), clf, sink)
		for _, ev := range mkEvents() {
			eng.ProcessEvent(ev)
		}
		return sink.appended
	}

	first := run()
	second := run()
	if len(first) == 0 {
		t.Fatalf("no alerts fired")
	}
	if len(first) != len(second) {
		t.Fatalf("replay produced %d alerts vs %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.Timestamp != b.Timestamp || a.ClientIP != b.ClientIP || a.Resource != b.Resource ||
			a.RiskScore != b.RiskScore || a.Probability != b.Probability || a.Action != b.Action {
			t.Fatalf("alert %d diverged between replays:\n%+v\n%+v", i, a, b)
		}
	}
	// arrival order preserved
	for i := 1; i < len(first); i++ {
		if first[i].Timestamp.Before(first[i-1].Timestamp) {
			t.Fatalf("alerts out of arrival order at %d", i)
		}
	}
}

func TestRunDrainsOnChannelClose(t *testing.T) {
	sink := &memSink{}
	eng := newEngineForTest(testConfig(), fixedProb(0.1), sink)
	in := make(chan model.Event, 4)
	in <- model.Event{Timestamp: time.Now().UTC(), ClientIP: "10.0.0.1", Resource: "/a", StatusCode: 200}
	close(in)
	if err := eng.Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	if eng.State() != StateDrained {
		t.Fatalf("state = %s, want drained", eng.State())
	}
	if sink.flushed == 0 {
		t.Fatalf("sink not flushed on drain")
	}
	if eng.Stats().Processed != 1 {
		t.Fatalf("processed = %d", eng.Stats().Processed)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	sink := &memSink{}
	eng := newEngineForTest(testConfig(), fixedProb(0.1), sink)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := make(chan model.Event)
	if err := eng.Run(ctx, in); err != context.Canceled {
		t.Fatalf("run returned %v, want context.Canceled", err)
	}
	if eng.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", eng.State())
	}
	if sink.flushed == 0 {
		t.Fatalf("sink not flushed on stop")
	}
}

func TestRunRejectsSecondStart(t *testing.T) {
	eng := newEngineForTest(testConfig(), fixedProb(0.1), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := make(chan model.Event)
	_ = eng.Run(ctx, in)
	if err := eng.Run(context.Background(), in); err != ErrAlreadyStarted {
		t.Fatalf("second run returned %v, want ErrAlreadyStarted", err)
	}
}

func waitForState(t *testing.T, eng *Engine, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if eng.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", eng.State(), want)
}

func TestResetRefusedWhileRunning(t *testing.T) {
	eng := newEngineForTest(testConfig(), fixedProb(0.1), nil)
	in := make(chan model.Event)
	done := make(chan error, 1)
	go func() { done <- eng.Run(context.Background(), in) }()
	waitForState(t, eng, StateRunning)

	if err := eng.Reset(); err != ErrDetectorRunning {
		t.Fatalf("reset mid-run returned %v, want ErrDetectorRunning", err)
	}
	if eng.State() != StateRunning {
		t.Fatalf("state = %s after refused reset, want running", eng.State())
	}
	if err := eng.Run(context.Background(), in); err != ErrAlreadyStarted {
		t.Fatalf("second run returned %v, want ErrAlreadyStarted", err)
	}

	close(in)
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := eng.Reset(); err != nil {
		t.Fatalf("reset after drain: %v", err)
	}
	if eng.State() != StateIdle {
		t.Fatalf("state = %s after reset, want idle", eng.State())
	}
}

func TestSkipCounter(t *testing.T) {
	eng := newEngineForTest(testConfig(), fixedProb(0.1), nil)
	eng.RecordSkip()
	eng.RecordSkip()
	if got := eng.Stats().Skipped; got != 2 {
		t.Fatalf("skipped = %d, want 2", got)
	}
}
