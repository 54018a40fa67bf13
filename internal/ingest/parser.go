package ingest

import (
	"encoding/csv"
	"strings"

	"apishield/internal/normalize"
)

// Parser turns one raw log row into loosely typed EventFields. Rows may be
// JSON objects or CSV records; CSV headers are learned from the first
// header-looking row, otherwise the gateway dataset column order is
// assumed: timestamp, api_name, api_version, http_method, resource,
// status_code, latency_ms, payload_size, client_ip, user_agent.
// A Parser carries per-stream header state and is not safe for concurrent
// use: every ingest stream owns its own instance.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

func (p *Parser) ParseLine(line string) (*normalize.EventFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := ParseJSONBytes([]byte(trim)); err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	fields, err := p.csv.Parse(trim)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, nil
	}
	fields.Raw = line
	return fields, nil
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

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

// default column order of the gateway access-log dataset
var defaultColumns = []string{
	"timestamp", "api_name", "api_version", "http_method", "resource",
	"status_code", "latency_ms", "payload_size", "client_ip", "user_agent",
}

func (p *CSVParser) Parse(line string) (*normalize.EventFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	fields := &normalize.EventFields{Extras: map[string]string{}}
	columns := p.header
	if columns == nil {
		columns = defaultColumns
	}
	for i, name := range columns {
		if i >= len(record) {
			break
		}
		assignField(fields, name, record[i])
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		v = strings.ToLower(strings.TrimSpace(v))
		switch v {
		case "timestamp", "time", "ts", "client_ip", "api_name", "http_method",
			"method", "resource", "endpoint", "status_code", "latency_ms", "payload_size":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func assignField(fields *normalize.EventFields, name string, value string) {
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	switch name {
	case "timestamp", "time", "ts":
		fields.Timestamp = value
	case "client_ip", "client", "ip", "remote_addr":
		fields.ClientIP = value
	case "api_name", "api":
		fields.APIName = value
	case "http_method", "method", "verb":
		fields.Method = value
	case "resource", "endpoint", "path", "uri":
		fields.Resource = value
	case "status_code", "status", "code":
		fields.StatusCode = value
	case "latency_ms", "latency", "duration_ms":
		fields.LatencyMS = value
	case "payload_size", "payload", "bytes", "size":
		fields.PayloadSize = value
	case "user_agent", "agent", "ua":
		fields.UserAgent = value
	default:
		if fields.Extras != nil {
			fields.Extras[name] = value
		}
	}
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}
