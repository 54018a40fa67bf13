package ingest

import "testing"

func TestParseCSVWithHeader(t *testing.T) {
	p := NewParser()
	header := "timestamp,api_name,api_version,http_method,resource,status_code,latency_ms,payload_size,client_ip,user_agent"
	if fields, _ := p.ParseLine(header); fields != nil {
		t.Fatalf("expected header row to return nil")
	}
	fields, err := p.ParseLine("2026-03-01 09:00:05,UserAPI,2.1.0,POST,/user/login,401,930,1480,91.210.10.4,curl/8.0.1")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.ClientIP != "91.210.10.4" || fields.Resource != "/user/login" {
		t.Fatalf("csv parse mismatch: %+v", fields)
	}
	if fields.StatusCode != "401" || fields.Method != "POST" {
		t.Fatalf("csv parse mismatch: %+v", fields)
	}
	if fields.Extras["api_version"] != "2.1.0" {
		t.Fatalf("extra column lost: %+v", fields.Extras)
	}
}

func TestParseCSVDefaultColumns(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("2026-03-01T09:00:05Z,PaymentAPI,1.0.0,GET,/payment/refund,200,120,880,10.0.0.7,Mozilla/5.0")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.APIName != "PaymentAPI" || fields.ClientIP != "10.0.0.7" {
		t.Fatalf("default column mapping: %+v", fields)
	}
}

func TestParseJSON(t *testing.T) {
	p := NewParser()
	line := `{"timestamp":"2026-03-01T09:00:05Z","client_ip":"10.0.0.7","api":"OrderAPI","method":"PUT","endpoint":"/order/status","status":"503","latency_ms":2100,"payload_size":5200}`
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.ClientIP != "10.0.0.7" || fields.APIName != "OrderAPI" {
		t.Fatalf("json parse mismatch: %+v", fields)
	}
	if fields.Resource != "/order/status" || fields.StatusCode != "503" {
		t.Fatalf("json alias mapping: %+v", fields)
	}
}

func TestParseBlankLine(t *testing.T) {
	p := NewParser()
	if fields, err := p.ParseLine("   "); err != nil || fields != nil {
		t.Fatalf("blank line: fields=%v err=%v", fields, err)
	}
}
