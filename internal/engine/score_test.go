package engine

import (
	"testing"

	"apishield/internal/config"
	"apishield/internal/model"
)

func detCfg() config.DetectionConfig {
	return config.DefaultConfig().Detection
}

func TestScoreWindowQuiet(t *testing.T) {
	wf := model.WindowFeatures{RequestCount: 1, DistinctEndpoint: 1, AuthFailures: 0}
	r := ScoreWindow(wf, detCfg())
	if r.Burst || r.Scan || r.AuthAbuse {
		t.Fatalf("flags raised on quiet window: %+v", r)
	}
	if r.Score != 0 || r.Attack {
		t.Fatalf("quiet window scored %d attack=%v", r.Score, r.Attack)
	}
}

func TestScoreWindowAllFlags(t *testing.T) {
	wf := model.WindowFeatures{RequestCount: 20, DistinctEndpoint: 6, AuthFailures: 8}
	r := ScoreWindow(wf, detCfg())
	if !r.Burst || !r.Scan || !r.AuthAbuse {
		t.Fatalf("expected all flags, got %+v", r)
	}
	if r.Score != 100 {
		t.Fatalf("score = %d, want 100", r.Score)
	}
	if !r.Attack {
		t.Fatalf("expected attack detection at score 100")
	}
}

func TestScoreWindowSingleFlagBelowCutoff(t *testing.T) {
	wf := model.WindowFeatures{RequestCount: 20, DistinctEndpoint: 1, AuthFailures: 0}
	r := ScoreWindow(wf, detCfg())
	if !r.Burst || r.Scan || r.AuthAbuse {
		t.Fatalf("expected burst only, got %+v", r)
	}
	if r.Score != 40 || r.Attack {
		t.Fatalf("burst-only window: score=%d attack=%v", r.Score, r.Attack)
	}
}

func TestScoreBounded(t *testing.T) {
	det := detCfg()
	det.Weights = config.WeightsConfig{Burst: 90, Scan: 90, AuthAbuse: 90}
	wf := model.WindowFeatures{RequestCount: 100, DistinctEndpoint: 50, AuthFailures: 50}
	r := ScoreWindow(wf, det)
	if r.Score < 0 || r.Score > 100 {
		t.Fatalf("score %d out of [0,100]", r.Score)
	}
}

func TestAttackMonotonicInThreshold(t *testing.T) {
	wf := model.WindowFeatures{RequestCount: 20, DistinctEndpoint: 6, AuthFailures: 8}
	det := detCfg()
	prev := true
	for cutoff := 0; cutoff <= 100; cutoff += 5 {
		det.RiskThreshold = cutoff
		got := ScoreWindow(wf, det).Attack
		if got && !prev {
			t.Fatalf("attack flag flipped false->true while raising cutoff to %d", cutoff)
		}
		prev = got
	}
}

func TestSelectActionBands(t *testing.T) {
	bands := detCfg().Bands
	cases := []struct {
		prob float64
		want model.Action
	}{
		{0.97, model.ActionBlock},
		{0.95, model.ActionBlock},
		{0.90, model.ActionThrottle},
		{0.85, model.ActionThrottle},
		{0.75, model.ActionMonitor},
		{0.70, model.ActionMonitor},
		{0.69, model.ActionAllow},
		{0.0, model.ActionAllow},
	}
	for _, tc := range cases {
		if got := SelectAction(tc.prob, bands); got != tc.want {
			t.Fatalf("SelectAction(%v) = %s, want %s", tc.prob, got, tc.want)
		}
	}
}
