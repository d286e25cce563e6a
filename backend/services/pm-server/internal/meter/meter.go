package meter

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Registry resolves registered power meters by serial.
type Registry interface {
	PowerMeter(ctx context.Context, serial string) (int, bool, error)
}

// Publisher fans readings out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, message string) error
}

// RedisPublisher publishes on a single Redis channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher returns a publisher for channel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Publish sends message to the channel.
func (p *RedisPublisher) Publish(ctx context.Context, message string) error {
	if err := p.client.Publish(ctx, p.channel, message).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}

// Reading is one sample reported by a meter.
type Reading struct {
	Serial    string      `json:"serial"`
	Voltage   float64     `json:"voltage"`
	Current   *float64    `json:"current"`
	Power     float64     `json:"power"`
	Energy    float64     `json:"energy"`
	Frequency float64     `json:"frequency"`
	PF        float64     `json:"pf"`
	Timestamp interface{} `json:"timestamp"`
}

// FormatCurrent renders the current the way subscribers expect it, e.g. "12.500A".
func FormatCurrent(amps float64) string {
	return fmt.Sprintf("%.3fA", amps)
}
