package alerting

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"hydropulse/internal/model"
)

// DefaultStream is the Redis stream alerts are appended to.
const DefaultStream = "hydropulse:alerts"

// StreamAdder is the slice of the Redis client the journal uses.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisJournal appends alerts to a capped Redis stream.
type RedisJournal struct {
	client StreamAdder
	stream string
	maxLen int64
}

func NewRedisJournal(client StreamAdder, stream string, maxLen int64) *RedisJournal {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisJournal{client: client, stream: stream, maxLen: maxLen}
}

// NewRedisClient dials nothing; go-redis connects lazily on first command.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func (j *RedisJournal) Record(ctx context.Context, a model.Alert) error {
	args := &redis.XAddArgs{
		Stream: j.stream,
		Values: map[string]interface{}{
			"id":           a.ID,
			"severity":     string(a.Severity),
			"message":      a.Message,
			"timestamp_ms": a.TimestampMs,
			"source":       a.Source,
		},
	}
	if j.maxLen > 0 {
		args.MaxLen = j.maxLen
		args.Approx = true
	}
	if err := j.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", j.stream, err)
	}
	return nil
}
