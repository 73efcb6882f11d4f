package effects

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pilot-net/healthdash/pkg/types"
)

// DefaultRedisChannel is the pub/sub channel alerts are published to.
const DefaultRedisChannel = "healthdash:notifications"

// RedisNotifier publishes alerts to a Redis channel so desktop agents on
// other machines can raise native notifications.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// notification is the published payload.
type notification struct {
	Alert      types.Alert `json:"alert"`
	NotifiedAt time.Time   `json:"notifiedAt"`
}

// NewRedisNotifier connects to redisURL and verifies the connection.
func NewRedisNotifier(redisURL, channel string, logger *slog.Logger) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if channel == "" {
		channel = DefaultRedisChannel
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisNotifier{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "redis_notifier"),
	}, nil
}

// Notify publishes the alert as JSON.
func (n *RedisNotifier) Notify(ctx context.Context, alert types.Alert) error {
	data, err := json.Marshal(notification{Alert: alert, NotifiedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	receivers, err := n.client.Publish(ctx, n.channel, data).Result()
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", n.channel, err)
	}
	n.logger.Debug("notification published",
		"alert_id", alert.ID,
		"channel", n.channel,
		"receivers", receivers)
	return nil
}

// Close closes the Redis connection.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
