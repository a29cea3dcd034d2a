// Package relay publishes every broadcast session event to redis pub/sub so
// external observers (recorders, notification services) can follow sessions
// without holding an engine subscription.
package relay

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "session:"

type message struct {
	sessionID string
	payload   []byte
}

// RedisRelay fans events into redis asynchronously. Publish never blocks the
// engine: messages queue in a bounded buffer and overflow is dropped and
// logged, since the relay is observational, not authoritative.
type RedisRelay struct {
	client *redis.Client
	queue  chan message
	done   chan struct{}
}

func NewRedisRelay(redisURL string, queueSize int) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisRelayWithClient(client, queueSize), nil
}

func NewRedisRelayWithClient(client *redis.Client, queueSize int) *RedisRelay {
	if queueSize <= 0 {
		queueSize = 256
	}
	r := &RedisRelay{
		client: client,
		queue:  make(chan message, queueSize),
		done:   make(chan struct{}),
	}
	go r.pump()
	return r
}

func (r *RedisRelay) pump() {
	defer close(r.done)
	for msg := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.client.Publish(ctx, Channel(msg.sessionID), msg.payload).Err()
		cancel()
		if err != nil {
			log.Printf("relay: publish to %s failed: %v", Channel(msg.sessionID), err)
		}
	}
}

// Publish enqueues one event payload for the session's channel.
func (r *RedisRelay) Publish(sessionID string, payload []byte) {
	select {
	case r.queue <- message{sessionID: sessionID, payload: payload}:
	default:
		log.Printf("relay: queue full, dropping event for session %s", sessionID)
	}
}

// Close flushes the queue and closes the redis connection.
func (r *RedisRelay) Close() error {
	close(r.queue)
	<-r.done
	return r.client.Close()
}

// Channel is the pub/sub channel name for a session.
func Channel(sessionID string) string {
	return channelPrefix + sessionID
}
