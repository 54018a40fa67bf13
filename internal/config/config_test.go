package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
	if cfg.Detection.WindowSize != 10*time.Second {
		t.Fatalf("window size = %v", cfg.Detection.WindowSize)
	}
	if cfg.Detection.BurstThreshold != 15 || cfg.Detection.ScanThreshold != 5 || cfg.Detection.AuthFailThreshold != 5 {
		t.Fatalf("thresholds = %d/%d/%d", cfg.Detection.BurstThreshold, cfg.Detection.ScanThreshold, cfg.Detection.AuthFailThreshold)
	}
	if cfg.Detection.Weights.Burst+cfg.Detection.Weights.Scan+cfg.Detection.Weights.AuthAbuse != 100 {
		t.Fatalf("weights do not sum to 100: %+v", cfg.Detection.Weights)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero window", func(c *Config) { c.Detection.WindowSize = 0 }},
		{"zero burst threshold", func(c *Config) { c.Detection.BurstThreshold = 0 }},
		{"negative weight", func(c *Config) { c.Detection.Weights.Scan = -1 }},
		{"risk threshold above 100", func(c *Config) { c.Detection.RiskThreshold = 120 }},
		{"alert threshold above 1", func(c *Config) { c.Detection.AlertThreshold = 1.5 }},
		{"inverted bands", func(c *Config) { c.Detection.Bands = BandsConfig{Block: 0.70, Throttle: 0.85, Monitor: 0.95} }},
		{"missing alert log path", func(c *Config) { c.AlertLog.Path = "" }},
		{"kafka without brokers", func(c *Config) { c.Ingest.Kafka.Enabled = true }},
		{"notify without channel", func(c *Config) { c.Notify = NotifyConfig{Enabled: true, Addr: "localhost:6379"} }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
log_level: debug
detection:
  burst_threshold: 20
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
	if cfg.Detection.BurstThreshold != 20 {
		t.Fatalf("burst threshold = %d", cfg.Detection.BurstThreshold)
	}
	// untouched fields keep defaults
	if cfg.Detection.ScanThreshold != 5 || cfg.Detection.RiskThreshold != 50 {
		t.Fatalf("defaults not preserved: %+v", cfg.Detection)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"log_level": "warn", "detection": {"alert_threshold": 0.9}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.Detection.AlertThreshold != 0.9 {
		t.Fatalf("json config not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "detection:\n  risk_threshold: 500\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for risk_threshold 500")
	}
}

func TestStaticManager(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "debug"
	m := NewStaticManager(cfg)
	if got := m.Get(); got.LogLevel != "debug" {
		t.Fatalf("manager returned %q", got.LogLevel)
	}
}
