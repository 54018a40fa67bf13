package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Model     ModelConfig     `json:"model" yaml:"model"`
	AlertLog  AlertLogConfig  `json:"alert_log" yaml:"alert_log"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type ParserConfig struct {
	Timezone       string `json:"timezone" yaml:"timezone"`
	DefaultAPIName string `json:"default_api_name" yaml:"default_api_name"`
}

// DetectionConfig carries the windowing scheme, behavior thresholds,
// risk weights and alerting bands. Defaults follow the 10-second
// bucket scheme: thresholds 15/5/5, weights 40/35/25, risk cutoff 50.
type DetectionConfig struct {
	WindowSize        time.Duration `json:"window_size" yaml:"window_size"`
	BurstThreshold    int           `json:"burst_threshold" yaml:"burst_threshold"`
	ScanThreshold     int           `json:"scan_threshold" yaml:"scan_threshold"`
	AuthFailThreshold int           `json:"auth_fail_threshold" yaml:"auth_fail_threshold"`
	Weights           WeightsConfig `json:"weights" yaml:"weights"`
	RiskThreshold     int           `json:"risk_threshold" yaml:"risk_threshold"`
	AlertThreshold    float64       `json:"alert_threshold" yaml:"alert_threshold"`
	Bands             BandsConfig   `json:"action_bands" yaml:"action_bands"`
	RetentionWindows  int           `json:"retention_windows" yaml:"retention_windows"`
	// PaceInterval throttles replay speed for demos. Zero disables
	// pacing entirely; it never affects scoring or ordering.
	PaceInterval time.Duration `json:"pace_interval" yaml:"pace_interval"`
}

type WeightsConfig struct {
	Burst     int `json:"burst" yaml:"burst"`
	Scan      int `json:"scan" yaml:"scan"`
	AuthAbuse int `json:"auth_abuse" yaml:"auth_abuse"`
}

type BandsConfig struct {
	Block    float64 `json:"block" yaml:"block"`
	Throttle float64 `json:"throttle" yaml:"throttle"`
	Monitor  float64 `json:"monitor" yaml:"monitor"`
}

type ModelConfig struct {
	Path string `json:"path" yaml:"path"`
}

type AlertLogConfig struct {
	Path          string        `json:"path" yaml:"path"`
	RetryAttempts int           `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff  time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
	BufferLimit   int           `json:"buffer_limit" yaml:"buffer_limit"`
}

type NotifyConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
	Channel string `json:"channel" yaml:"channel"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			Parser:        ParserConfig{Timezone: "UTC", DefaultAPIName: "unknown"},
		},
		Detection: DetectionConfig{
			WindowSize:        10 * time.Second,
			BurstThreshold:    15,
			ScanThreshold:     5,
			AuthFailThreshold: 5,
			Weights:           WeightsConfig{Burst: 40, Scan: 35, AuthAbuse: 25},
			RiskThreshold:     50,
			AlertThreshold:    0.80,
			Bands:             BandsConfig{Block: 0.95, Throttle: 0.85, Monitor: 0.70},
			RetentionWindows:  2,
			PaceInterval:      0,
		},
		Model: ModelConfig{Path: "models/attack_model.json"},
		AlertLog: AlertLogConfig{
			Path:          "reports/live_alerts.csv",
			RetryAttempts: 3,
			RetryBackoff:  200 * time.Millisecond,
			BufferLimit:   10000,
		},
		Notify:  NotifyConfig{Enabled: false, Addr: "localhost:6379", Channel: "apishield.alerts"},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:apishield.db?_pragma=busy_timeout(5000)"},
		Metrics: MetricsConfig{StoreLimit: 5000},
		Alerts:  AlertsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Detection.WindowSize <= 0 {
		cfg.Detection.WindowSize = 10 * time.Second
	}
	if cfg.Detection.RetentionWindows <= 0 {
		cfg.Detection.RetentionWindows = 2
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = 5000
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Ingest.Parser.DefaultAPIName == "" {
		cfg.Ingest.Parser.DefaultAPIName = "unknown"
	}
	if cfg.AlertLog.RetryAttempts <= 0 {
		cfg.AlertLog.RetryAttempts = 3
	}
	if cfg.AlertLog.RetryBackoff <= 0 {
		cfg.AlertLog.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.AlertLog.BufferLimit <= 0 {
		cfg.AlertLog.BufferLimit = 10000
	}
}

// Validate rejects configurations the detector must not start with.
func Validate(cfg *Config) error {
	if cfg.Detection.WindowSize <= 0 {
		return errors.New("detection.window_size must be > 0")
	}
	if cfg.Detection.BurstThreshold <= 0 || cfg.Detection.ScanThreshold <= 0 || cfg.Detection.AuthFailThreshold <= 0 {
		return errors.New("detection thresholds must be > 0")
	}
	w := cfg.Detection.Weights
	if w.Burst < 0 || w.Scan < 0 || w.AuthAbuse < 0 {
		return errors.New("detection.weights must be >= 0")
	}
	if cfg.Detection.RiskThreshold < 0 || cfg.Detection.RiskThreshold > 100 {
		return errors.New("detection.risk_threshold must be in [0,100]")
	}
	if cfg.Detection.AlertThreshold <= 0 || cfg.Detection.AlertThreshold > 1 {
		return errors.New("detection.alert_threshold must be in (0,1]")
	}
	b := cfg.Detection.Bands
	if b.Block < b.Throttle || b.Throttle < b.Monitor || b.Monitor <= 0 || b.Block > 1 {
		return fmt.Errorf("detection.action_bands must satisfy 0 < monitor <= throttle <= block <= 1, got %v/%v/%v", b.Block, b.Throttle, b.Monitor)
	}
	if cfg.Detection.RetentionWindows < 1 {
		return errors.New("detection.retention_windows must be >= 1")
	}
	if cfg.AlertLog.Path == "" {
		return errors.New("alert_log.path is required")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Notify.Enabled && (cfg.Notify.Addr == "" || cfg.Notify.Channel == "") {
		return errors.New("notify requires addr and channel when enabled")
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an already validated config with no backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
