package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"apishield/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/apishield?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id UUID PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			client_ip TEXT NOT NULL,
			api_name TEXT NOT NULL,
			method TEXT NOT NULL,
			resource TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			risk_score INTEGER NOT NULL,
			ml_probability DOUBLE PRECISION NOT NULL,
			suggested_action TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_client ON alerts(client_ip)`,
		`CREATE TABLE IF NOT EXISTS window_features (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			client_ip TEXT NOT NULL,
			window_start TIMESTAMPTZ NOT NULL,
			window_sec INTEGER NOT NULL,
			req_count INTEGER NOT NULL,
			unique_endpoints INTEGER NOT NULL,
			auth_fails INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_features_client_window ON window_features(client_ip, window_start)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, ts, client_ip, api_name, method, resource, status_code, risk_score, ml_probability, suggested_action)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		alert.ID,
		alert.Timestamp.UTC(),
		alert.ClientIP,
		alert.APIName,
		alert.Method,
		alert.Resource,
		alert.StatusCode,
		alert.RiskScore,
		alert.Probability,
		string(alert.Action),
	)
	return err
}

func (s *postgresStore) SaveFeatures(ctx context.Context, clientIP string, wf model.WindowFeatures) error {
	if s.db == nil || clientIP == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO window_features (ts, client_ip, window_start, window_sec, req_count, unique_endpoints, auth_fails)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		nowUTC(),
		clientIP,
		wf.WindowStart.UTC(),
		wf.WindowSec,
		wf.RequestCount,
		wf.DistinctEndpoint,
		wf.AuthFailures,
	)
	return err
}
