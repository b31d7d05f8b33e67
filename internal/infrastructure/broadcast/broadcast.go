package broadcast

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"hyperarb/internal/application/port"
)

// Publisher publishes the latest edge payload to a Redis channel so any
// number of read-only observers (a dashboard, an alerting job) can follow
// the live edge without touching the engine's own persistence path.
type Publisher struct {
	rdb     *redis.Client
	channel string
}

func NewPublisher(rdb *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = "hyperarb:edges"
	}
	return &Publisher{rdb: rdb, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, payload port.EdgePayload) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, b).Err()
}

var _ port.Broadcaster = (*Publisher)(nil)
