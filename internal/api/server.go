package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"apishield/internal/alerts"
	"apishield/internal/classifier"
	"apishield/internal/config"
	"apishield/internal/engine"
	"apishield/internal/metrics"
	"apishield/internal/model"
)

// EngineControl is the slice of the detector the facade needs.
type EngineControl interface {
	Reset() error
	Stats() engine.Stats
}

type Server struct {
	cfg      *config.Manager
	features *metrics.Store
	alerts   *alerts.Store
	sink     *alerts.Log
	engine   EngineControl
	clf      *classifier.Provider
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status      string       `json:"status"`
	Time        string       `json:"time"`
	Version     string       `json:"version"`
	ConfigPath  string       `json:"config_path"`
	ModelLoaded bool         `json:"model_loaded"`
	Detector    engine.Stats `json:"detector"`
	Sink        sinkStatus   `json:"sink"`
	Ingest      ingestStatus `json:"ingest"`
}

type sinkStatus struct {
	Path    string `json:"path"`
	Healthy bool   `json:"healthy"`
	Pending int    `json:"pending"`
	Dropped int64  `json:"dropped"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
}

func Start(ctx context.Context, cfg *config.Manager, featureStore *metrics.Store, alertsStore *alerts.Store, sink *alerts.Log, eng EngineControl, clf *classifier.Provider, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:      cfg,
		features: featureStore,
		alerts:   alertsStore,
		sink:     sink,
		engine:   eng,
		clf:      clf,
		logger:   logger,
		version:  version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/detect", server.handleDetect)
	mux.HandleFunc("/alerts", server.handleAlerts)
	mux.HandleFunc("/stats", server.handleStats)
	mux.HandleFunc("/metrics", server.handleMetrics)
	mux.HandleFunc("/metrics/", server.handleMetrics)
	mux.HandleFunc("/admin/reload-model", server.handleReloadModel)
	mux.HandleFunc("/admin/clear", server.handleClear)
	mux.HandleFunc("/admin/restart", server.handleRestart)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:      "ok",
		Time:        time.Now().UTC().Format(time.RFC3339Nano),
		Version:     s.version,
		ConfigPath:  s.cfg.Path(),
		ModelLoaded: s.clf != nil && s.clf.Loaded(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
	}
	if s.engine != nil {
		resp.Detector = s.engine.Stats()
	}
	if s.sink != nil {
		resp.Sink = sinkStatus{
			Path:    s.sink.Path(),
			Healthy: s.sink.Healthy(),
			Pending: s.sink.Pending(),
			Dropped: s.sink.Dropped(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// detectRequest mirrors the trained feature vector: the caller supplies the
// window buckets and flags along with the request fields.
type detectRequest struct {
	APIName     string `json:"api_name"`
	Method      string `json:"http_method"`
	Resource    string `json:"resource"`
	StatusCode  int    `json:"status_code"`
	LatencyMS   int    `json:"latency_ms"`
	PayloadSize int    `json:"payload_size"`

	RequestCount     int `json:"req_count_bucket"`
	DistinctEndpoint int `json:"unique_endpoints_bucket"`
	AuthFailures     int `json:"auth_fails_bucket"`

	BurstFlag     int `json:"burst_flag"`
	ScanFlag      int `json:"scan_flag"`
	AuthAbuseFlag int `json:"auth_abuse_flag"`

	RiskScore int `json:"attack_risk_score"`
}

type detectResponse struct {
	Probability     float64      `json:"attack_probability"`
	PredictedAttack bool         `json:"predicted_attack"`
	SuggestedAction model.Action `json:"suggested_action"`
	ModelVersion    string       `json:"model_version"`
	Timestamp       string       `json:"timestamp"`
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.clf == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req detectRequest
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	se := model.ScoredEvent{
		Event: model.Event{
			APIName:     req.APIName,
			Method:      req.Method,
			Resource:    req.Resource,
			StatusCode:  req.StatusCode,
			LatencyMS:   req.LatencyMS,
			PayloadSize: req.PayloadSize,
		},
		WindowFeatures: model.WindowFeatures{
			RequestCount:     req.RequestCount,
			DistinctEndpoint: req.DistinctEndpoint,
			AuthFailures:     req.AuthFailures,
		},
		BurstFlag:     req.BurstFlag != 0,
		ScanFlag:      req.ScanFlag != 0,
		AuthAbuseFlag: req.AuthAbuseFlag != 0,
		RiskScore:     req.RiskScore,
	}
	prob, err := s.clf.Classify(se)
	if err != nil {
		writeJSON(w, http.StatusOK, detectResponse{
			Probability:     0.0,
			PredictedAttack: false,
			SuggestedAction: model.ActionModelNotLoaded,
			ModelVersion:    "none",
			Timestamp:       now,
		})
		return
	}
	writeJSON(w, http.StatusOK, detectResponse{
		Probability:     prob,
		PredictedAttack: prob >= 0.5,
		SuggestedAction: engine.SelectAction(prob, s.cfg.Get().Detection.Bands),
		ModelVersion:    s.clf.Version(),
		Timestamp:       now,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sinceStr := r.URL.Query().Get("since")
	var list []model.Alert
	if sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.alerts.Since(ts)
	} else {
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.alerts.Summarize(10))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/metrics")
	path = strings.TrimPrefix(path, "/")
	if path != "" {
		wf, updated, ok := s.features.Get(path)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"client_ip":  path,
			"updated_at": updated.Format(time.RFC3339Nano),
			"features":   wf,
		})
		return
	}
	all := s.features.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"features": all,
		"count":    len(all),
	})
}

func (s *Server) handleReloadModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.clf == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if err := s.clf.Reload(); err != nil {
		if s.logger != nil {
			s.logger.Error("model reload failed", "err", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.clf.Version(),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.features != nil {
			s.features.Clear()
		}
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "alerts":
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "metrics", "features":
		if s.features != nil {
			s.features.Clear()
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine != nil {
		if err := s.engine.Reset(); err != nil {
			writeJSON(w, http.StatusConflict, map[string]any{
				"status": "error",
				"error":  err.Error(),
			})
			return
		}
	}
	if s.features != nil {
		s.features.Clear()
	}
	if s.alerts != nil {
		s.alerts.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
