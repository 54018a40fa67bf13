package alerts

import (
	"context"
	"log/slog"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"apishield/internal/config"
	"apishield/internal/model"
)

// Notifier publishes fired alerts to a redis channel so operator tooling
// can subscribe without polling the read facade. Best effort: a failed
// publish is logged, never retried, and never blocks the detector.
type Notifier struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewNotifier(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	if !cfg.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	return &Notifier{client: client, channel: cfg.Channel, logger: logger}
}

func (n *Notifier) Publish(ctx context.Context, alert model.Alert) {
	if n == nil {
		return
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		if n.logger != nil {
			n.logger.Warn("alert notify failed", "channel", n.channel, "err", err)
		}
	}
}

func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}
	return n.client.Close()
}
