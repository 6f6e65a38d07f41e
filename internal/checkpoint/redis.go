package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/storm-alert-pipeline/internal/stream"
)

const redisKeyPrefix = "stormwatch:cursor:"

// Redis stores each cursor as a plain string key next to the stream it tracks.
type Redis struct {
	client *redis.Client
	owned  bool
}

// NewRedis wraps an existing client. Close leaves the client open.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// OpenRedis dials url and owns the resulting client.
func OpenRedis(ctx context.Context, url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, owned: true}, nil
}

func (r *Redis) Load(ctx context.Context, name string) (stream.EntryID, bool, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return stream.EntryID{}, false, nil
	}
	if err != nil {
		return stream.EntryID{}, false, fmt.Errorf("load cursor %s: %w", name, err)
	}
	id, err := stream.ParseEntryID(raw)
	if err != nil {
		return stream.EntryID{}, false, fmt.Errorf("load cursor %s: %w", name, err)
	}
	return id, true, nil
}

func (r *Redis) Save(ctx context.Context, name string, id stream.EntryID) error {
	if err := r.client.Set(ctx, redisKeyPrefix+name, id.String(), 0).Err(); err != nil {
		return fmt.Errorf("save cursor %s: %w", name, err)
	}
	return nil
}

func (r *Redis) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}
