package classifier

import (
	"errors"
	"fmt"
	"math"
	"os"

	json "github.com/goccy/go-json"

	"apishield/internal/model"
)

// ErrModelUnavailable is returned when no classifier artifact is loaded.
// Callers degrade to probability 0.0 and action MODEL_NOT_LOADED.
var ErrModelUnavailable = errors.New("classifier model not loaded")

// UnknownBucket is the categorical level unseen values project onto.
const UnknownBucket = "__unknown__"

// Feature columns in training order. The artifact is only valid against
// this exact projection.
var (
	CategoricalColumns = []string{"api_name", "http_method", "resource"}
	NumericColumns     = []string{
		"status_code", "latency_ms", "payload_size",
		"req_count_bucket", "unique_endpoints_bucket", "auth_fails_bucket",
		"burst_flag", "scan_flag", "auth_abuse_flag",
		"attack_risk_score",
	}
)

type artifact struct {
	Version     string                        `json:"version"`
	Bias        float64                       `json:"bias"`
	Numeric     map[string]float64            `json:"numeric"`
	Categorical map[string]map[string]float64 `json:"categorical"`
}

// Model is an immutable, pre-trained attack classifier. Training happens
// elsewhere; the artifact carries a bias, one weight per numeric column and
// one weight per categorical level.
type Model struct {
	version     string
	bias        float64
	numeric     map[string]float64
	categorical map[string]map[string]float64
}

func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var art artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	if len(art.Numeric) == 0 {
		return nil, errors.New("model artifact has no numeric weights")
	}
	for _, col := range NumericColumns {
		if _, ok := art.Numeric[col]; !ok {
			return nil, fmt.Errorf("model artifact missing weight for %q", col)
		}
	}
	if art.Version == "" {
		art.Version = "unversioned"
	}
	return &Model{
		version:     art.Version,
		bias:        art.Bias,
		numeric:     art.Numeric,
		categorical: art.Categorical,
	}, nil
}

func (m *Model) Version() string {
	return m.version
}

// Classify projects the scored event onto the training feature vector and
// returns the attack probability.
func (m *Model) Classify(se model.ScoredEvent) (float64, error) {
	if m == nil {
		return 0, ErrModelUnavailable
	}
	cats, nums := Project(se)
	z := m.bias
	for _, col := range CategoricalColumns {
		vocab := m.categorical[col]
		if vocab == nil {
			continue
		}
		w, ok := vocab[cats[col]]
		if !ok {
			w = vocab[UnknownBucket]
		}
		z += w
	}
	for _, col := range NumericColumns {
		z += m.numeric[col] * nums[col]
	}
	return sigmoid(z), nil
}

// Project maps a scored event onto the categorical and numeric feature
// values the model was trained on.
func Project(se model.ScoredEvent) (map[string]string, map[string]float64) {
	cats := map[string]string{
		"api_name":    se.APIName,
		"http_method": se.Method,
		"resource":    se.Resource,
	}
	nums := map[string]float64{
		"status_code":             float64(se.StatusCode),
		"latency_ms":              float64(se.LatencyMS),
		"payload_size":            float64(se.PayloadSize),
		"req_count_bucket":        float64(se.RequestCount),
		"unique_endpoints_bucket": float64(se.DistinctEndpoint),
		"auth_fails_bucket":       float64(se.AuthFailures),
		"burst_flag":              boolToFloat(se.BurstFlag),
		"scan_flag":               boolToFloat(se.ScanFlag),
		"auth_abuse_flag":         boolToFloat(se.AuthAbuseFlag),
		"attack_risk_score":       float64(se.RiskScore),
	}
	return cats, nums
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
