package engine

import (
	"apishield/internal/config"
	"apishield/internal/model"
)

// RiskResult holds the behavior flags and bounded risk score derived from
// one window snapshot.
type RiskResult struct {
	Burst     bool
	Scan      bool
	AuthAbuse bool
	Score     int
	Attack    bool
}

// ScoreWindow derives the behavior flags and risk score for one window
// snapshot. Pure function of its inputs.
func ScoreWindow(wf model.WindowFeatures, det config.DetectionConfig) RiskResult {
	r := RiskResult{
		Burst:     wf.RequestCount >= det.BurstThreshold,
		Scan:      wf.DistinctEndpoint >= det.ScanThreshold,
		AuthAbuse: wf.AuthFailures >= det.AuthFailThreshold,
	}
	score := 0
	if r.Burst {
		score += det.Weights.Burst
	}
	if r.Scan {
		score += det.Weights.Scan
	}
	if r.AuthAbuse {
		score += det.Weights.AuthAbuse
	}
	r.Score = clip(score, 0, 100)
	r.Attack = r.Score >= det.RiskThreshold
	return r
}

// SelectAction maps a classifier probability onto the tiered mitigation
// recommendation for that band.
func SelectAction(prob float64, bands config.BandsConfig) model.Action {
	switch {
	case prob >= bands.Block:
		return model.ActionBlock
	case prob >= bands.Throttle:
		return model.ActionThrottle
	case prob >= bands.Monitor:
		return model.ActionMonitor
	default:
		return model.ActionAllow
	}
}

func clip(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
