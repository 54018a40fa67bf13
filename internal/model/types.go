package model

import "time"

// Action is a tiered mitigation recommendation. The detector only ever
// suggests these; it never enforces them.
type Action string

const (
	ActionBlock          Action = "BLOCK_IP_AND_REVOKE_TOKEN"
	ActionThrottle       Action = "THROTTLE_AND_STEPUP_AUTH"
	ActionMonitor        Action = "TEMP_RATE_LIMIT_MONITOR"
	ActionAllow          Action = "ALLOW"
	ActionModelNotLoaded Action = "MODEL_NOT_LOADED"
)

// Event is one normalized API-gateway access record.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	ClientIP    string    `json:"client_ip"`
	APIName     string    `json:"api_name"`
	Method      string    `json:"http_method"`
	Resource    string    `json:"resource"`
	StatusCode  int       `json:"status_code"`
	LatencyMS   int       `json:"latency_ms"`
	PayloadSize int       `json:"payload_size"`
	UserAgent   string    `json:"user_agent,omitempty"`
	Source      string    `json:"source,omitempty"`
	Raw         string    `json:"raw,omitempty"`
}

// AuthFailure reports whether the response status counts as an
// authentication failure.
func (e Event) AuthFailure() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// WindowFeatures is the aggregator snapshot for one (client, window)
// bucket, taken after the triggering event was counted.
type WindowFeatures struct {
	WindowStart      time.Time `json:"window_start"`
	WindowSec        int       `json:"window_sec"`
	RequestCount     int       `json:"req_count_bucket"`
	DistinctEndpoint int       `json:"unique_endpoints_bucket"`
	AuthFailures     int       `json:"auth_fails_bucket"`
}

// ScoredEvent is an Event enriched with its window features, behavior
// flags, bounded risk score and classifier verdict.
type ScoredEvent struct {
	Event
	WindowFeatures
	BurstFlag      bool    `json:"burst_flag"`
	ScanFlag       bool    `json:"scan_flag"`
	AuthAbuseFlag  bool    `json:"auth_abuse_flag"`
	RiskScore      int     `json:"attack_risk_score"`
	AttackDetected bool    `json:"attack_detected"`
	Probability    float64 `json:"ml_probability"`
	Action         Action  `json:"suggested_action"`
}

// Alert is the persisted record produced when the classifier probability
// crosses the alert threshold. Alerts are append-only in the order their
// generating events arrived.
type Alert struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	ClientIP    string    `json:"client_ip"`
	APIName     string    `json:"api_name"`
	Method      string    `json:"method"`
	Resource    string    `json:"resource"`
	StatusCode  int       `json:"status_code"`
	RiskScore   int       `json:"risk_score"`
	Probability float64   `json:"ml_probability"`
	Action      Action    `json:"suggested_action"`
}
