package normalize

import (
	"errors"
	"testing"
	"time"

	"apishield/internal/config"
)

func fullFields() EventFields {
	return EventFields{
		Timestamp:   "2026-03-01 09:00:05",
		ClientIP:    "91.210.10.4",
		APIName:     "UserAPI",
		Method:      "post",
		Resource:    "/user/login",
		StatusCode:  "401",
		LatencyMS:   "930",
		PayloadSize: "1480",
		UserAgent:   "curl/8.0.1",
	}
}

func TestNormalizeValidRow(t *testing.T) {
	cfg := config.DefaultConfig()
	ev, err := Normalize(fullFields(), cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.ClientIP != "91.210.10.4" || ev.Method != "POST" || ev.StatusCode != 401 {
		t.Fatalf("event mismatch: %+v", ev)
	}
	if !ev.AuthFailure() {
		t.Fatalf("401 not counted as auth failure")
	}
	want := time.Date(2026, 3, 1, 9, 0, 5, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", ev.Timestamp, want)
	}
}

func TestNormalizeRejectsMissingClient(t *testing.T) {
	cfg := config.DefaultConfig()
	f := fullFields()
	f.ClientIP = " "
	if _, err := Normalize(f, cfg); !errors.Is(err, ErrInput) {
		t.Fatalf("expected ErrInput, got %v", err)
	}
}

func TestNormalizeRejectsBadStatus(t *testing.T) {
	cfg := config.DefaultConfig()
	for _, status := range []string{"", "abc", "42", "9000"} {
		f := fullFields()
		f.StatusCode = status
		if _, err := Normalize(f, cfg); !errors.Is(err, ErrInput) {
			t.Fatalf("status %q: expected ErrInput, got %v", status, err)
		}
	}
}

func TestNormalizeToleratesFloatNumerics(t *testing.T) {
	cfg := config.DefaultConfig()
	f := fullFields()
	f.LatencyMS = "930.0"
	f.PayloadSize = ""
	ev, err := Normalize(f, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.LatencyMS != 930 || ev.PayloadSize != 0 {
		t.Fatalf("numeric defaults: %+v", ev)
	}
}

func TestNormalizeDefaultsAPIName(t *testing.T) {
	cfg := config.DefaultConfig()
	f := fullFields()
	f.APIName = ""
	ev, err := Normalize(f, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.APIName != cfg.Ingest.Parser.DefaultAPIName {
		t.Fatalf("api name = %q", ev.APIName)
	}
}
