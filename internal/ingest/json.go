package ingest

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"apishield/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.EventFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]interface{}) *normalize.EventFields {
	fields := &normalize.EventFields{Extras: map[string]string{}}
	for key, val := range obj {
		fields.Extras[strings.ToLower(key)] = fmt.Sprint(val)
	}
	fields.Timestamp = firstNonEmpty(fields.Extras, "timestamp", "time", "ts")
	fields.ClientIP = firstNonEmpty(fields.Extras, "client_ip", "client", "ip", "remote_addr")
	fields.APIName = firstNonEmpty(fields.Extras, "api_name", "api")
	fields.Method = firstNonEmpty(fields.Extras, "http_method", "method", "verb")
	fields.Resource = firstNonEmpty(fields.Extras, "resource", "endpoint", "path", "uri")
	fields.StatusCode = firstNonEmpty(fields.Extras, "status_code", "status", "code")
	fields.LatencyMS = firstNonEmpty(fields.Extras, "latency_ms", "latency", "duration_ms")
	fields.PayloadSize = firstNonEmpty(fields.Extras, "payload_size", "payload", "bytes", "size")
	fields.UserAgent = firstNonEmpty(fields.Extras, "user_agent", "agent", "ua")
	return fields
}
