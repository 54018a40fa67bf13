package ingest

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"apishield/internal/config"
	"apishield/internal/model"
)

// StartKafka consumes gateway access-log rows from a kafka topic, one row
// per message.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.Event, skips SkipCounter, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		parser := NewParser()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			dispatchLine(ctx, string(m.Value), "kafka", cfg, parser, out, skips, logger)
		}
	}()
}
