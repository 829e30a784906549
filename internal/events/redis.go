package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/neoraffle/internal/logging"
)

// DefaultChannel is the Redis channel notifications are published on.
const DefaultChannel = "neoraffle:events"

// RedisClient is the subset of *redis.Client the publisher needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes notifications as JSON to a Redis channel. A single
// worker drains the queue so messages leave in the order they were notified.
type RedisPublisher struct {
	client  RedisClient
	channel string
	timeout time.Duration
	log     *logging.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Notification
	done   chan struct{}
}

// NewRedisPublisher creates a publisher over client. queueSize bounds the
// number of notifications waiting to be published; extra ones are dropped.
func NewRedisPublisher(client RedisClient, channel string, queueSize int, log *logging.Logger) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = logging.NewDefault("events")
	}
	p := &RedisPublisher{
		client:  client,
		channel: channel,
		timeout: 5 * time.Second,
		log:     log,
		queue:   make(chan Notification, queueSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// NewRedisClient builds a go-redis client for addr.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Notify enqueues n without blocking.
func (p *RedisPublisher) Notify(_ context.Context, n Notification) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- n:
	default:
		p.log.WithField("sequence", n.Sequence).
			WithField("type", n.Type).
			Warn("redis publish queue full, dropping notification")
	}
}

// Close stops the worker after the queued notifications are flushed.
func (p *RedisPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
}

func (p *RedisPublisher) run() {
	defer close(p.done)
	for n := range p.queue {
		p.publish(n)
	}
}

func (p *RedisPublisher) publish(n Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		p.log.WithError(err).Error("marshal notification")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.log.WithError(err).
			WithField("sequence", n.Sequence).
			WithField("channel", p.channel).
			Warn("redis publish failed")
	}
}
