// Package pubsub wraps Redis Pub/Sub as the message-oriented PUB/SUB
// transport for topics, cross-site replication, and heartbeat
// publication (spec §4.7's CC-PUB, REPL-PUB/SUB, HB-PUB endpoints),
// grounded on wisbric-nightowl's use of redis/go-redis/v9.
package pubsub

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher publishes messages on named channels ("topics").
type Publisher struct {
	client *redis.Client
}

// NewPublisher dials a Redis endpoint used purely as a pub/sub broker.
func NewPublisher(addr string) *Publisher {
	return &Publisher{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Publish sends payload on channel. Publication sends are non-blocking
// at the transport layer per spec §5; go-redis's PUBLISH is fire-and-
// forget from the caller's perspective (it does not wait for a
// subscriber to consume the message).
func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// Close releases the underlying connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Subscriber consumes messages from one or more channels, polling with a
// bounded timeout so callers can observe a shutdown signal within one
// poll period, matching spec §5's "every recv call uses a short polling
// timeout" requirement.
type Subscriber struct {
	client *redis.Client
	pubsub *redis.PubSub
}

// NewSubscriber subscribes to exact channel names.
func NewSubscriber(addr string, channels ...string) *Subscriber {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &Subscriber{client: client, pubsub: client.Subscribe(context.Background(), channels...)}
}

// NewPatternSubscriber subscribes using glob patterns, used by the
// Replicator's "wildcard subscription (all topics)" requirement
// (spec §4.3) via PSUBSCRIBE.
func NewPatternSubscriber(addr string, patterns ...string) *Subscriber {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &Subscriber{client: client, pubsub: client.PSubscribe(context.Background(), patterns...)}
}

// Recv waits up to timeout for the next message. A nil message with a
// nil error means the poll period elapsed with nothing received — the
// normal, loop-continuing case documented in spec §4.3/§5.
func (s *Subscriber) Recv(timeout time.Duration) (channel string, payload []byte, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	msg, err := s.pubsub.ReceiveMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, nil // timeout: normal, loop continues
		}
		return "", nil, err
	}
	return msg.Channel, []byte(msg.Payload), nil
}

// Close releases the subscription and underlying connection.
func (s *Subscriber) Close() error {
	_ = s.pubsub.Close()
	return s.client.Close()
}
