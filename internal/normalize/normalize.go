package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"apishield/internal/config"
	"apishield/internal/model"
)

// ErrInput marks a malformed or incomplete record. Callers skip the row,
// count it, and keep consuming the stream.
var ErrInput = errors.New("invalid input record")

// EventFields is the loosely typed row shape handed over by the parsers.
// Extras carries fields the schema does not name; they are ignored.
type EventFields struct {
	Timestamp   string
	ClientIP    string
	APIName     string
	Method      string
	Resource    string
	StatusCode  string
	LatencyMS   string
	PayloadSize string
	UserAgent   string
	Extras      map[string]string
	Raw         string
}

// Normalize validates one raw row and produces the canonical Event.
func Normalize(fields EventFields, cfg *config.Config) (model.Event, error) {
	clientIP := strings.TrimSpace(fields.ClientIP)
	if clientIP == "" {
		return model.Event{}, fmt.Errorf("%w: missing client_ip", ErrInput)
	}
	resource := strings.TrimSpace(fields.Resource)
	if resource == "" {
		return model.Event{}, fmt.Errorf("%w: missing resource", ErrInput)
	}

	status, err := strconv.Atoi(strings.TrimSpace(fields.StatusCode))
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: status_code %q", ErrInput, fields.StatusCode)
	}
	if status < 100 || status > 599 {
		return model.Event{}, fmt.Errorf("%w: status_code %d out of range", ErrInput, status)
	}

	loc := time.UTC
	if cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}
	ts := time.Now().UTC()
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.Event{}, fmt.Errorf("%w: %v", ErrInput, err)
		}
		ts = parsed.UTC()
	}

	apiName := strings.TrimSpace(fields.APIName)
	if apiName == "" {
		apiName = cfg.Ingest.Parser.DefaultAPIName
	}
	method := strings.ToUpper(strings.TrimSpace(fields.Method))
	if method == "" {
		method = "GET"
	}

	latency, err := parseNonNegative(fields.LatencyMS)
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: latency_ms %q", ErrInput, fields.LatencyMS)
	}
	payload, err := parseNonNegative(fields.PayloadSize)
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: payload_size %q", ErrInput, fields.PayloadSize)
	}

	return model.Event{
		Timestamp:   ts,
		ClientIP:    clientIP,
		APIName:     apiName,
		Method:      method,
		Resource:    resource,
		StatusCode:  status,
		LatencyMS:   latency,
		PayloadSize: payload,
		UserAgent:   strings.TrimSpace(fields.UserAgent),
		Source:      "log",
		Raw:         fields.Raw,
	}, nil
}

func parseNonNegative(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	// tolerate float renderings like "900.0" from upstream exporters
	if i := strings.IndexByte(value, '.'); i >= 0 {
		value = value[:i]
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative value")
	}
	return n, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
