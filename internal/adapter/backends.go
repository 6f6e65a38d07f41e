// Package adapter selects concrete backends from configuration.
package adapter

import (
	"context"
	"log/slog"

	kafkaadapter "github.com/couchcryptid/storm-alert-pipeline/internal/adapter/kafka"
	redisadapter "github.com/couchcryptid/storm-alert-pipeline/internal/adapter/redis"
	"github.com/couchcryptid/storm-alert-pipeline/internal/checkpoint"
	"github.com/couchcryptid/storm-alert-pipeline/internal/config"
	"github.com/couchcryptid/storm-alert-pipeline/internal/stream"
)

// OpenStore connects the stream store selected by STORE_BACKEND.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (stream.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn("using in-memory stream store; entries are lost on exit")
		return stream.NewMemoryStore(stream.MemoryOptions{MaxLen: cfg.StreamMaxLen}), nil
	case config.BackendKafka:
		return kafkaadapter.Open(ctx, kafkaadapter.Options{
			Brokers:      cfg.KafkaBrokers,
			BlockTimeout: cfg.StoreBlockTimeout,
		}, logger)
	default:
		return redisadapter.Open(ctx, cfg.RedisURL, redisadapter.Options{
			BlockTimeout: cfg.StoreBlockTimeout,
			MaxLen:       int64(cfg.StreamMaxLen),
		}, logger)
	}
}

// OpenCheckpoints opens the cursor store selected by CURSOR_BACKEND. A redis
// checkpoint store shares the stream store's client when both use Redis.
func OpenCheckpoints(ctx context.Context, cfg *config.Config, store stream.Store) (checkpoint.Store, error) {
	switch cfg.CursorBackend {
	case config.CursorRedis:
		if rs, ok := store.(*redisadapter.Store); ok {
			return checkpoint.NewRedis(rs.Client()), nil
		}
		return checkpoint.OpenRedis(ctx, cfg.RedisURL)
	case config.CursorSQLite:
		return checkpoint.OpenSQL(ctx, checkpoint.DialectSQLite, cfg.CursorDSN)
	case config.CursorPostgres:
		return checkpoint.OpenSQL(ctx, checkpoint.DialectPostgres, cfg.CursorDSN)
	default:
		return checkpoint.Nop{}, nil
	}
}
