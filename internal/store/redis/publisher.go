package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"signal-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Pub/sub channels fanned out to the transport and persistence layers.
const (
	ChannelIndicatorUpdated   = "events:indicator.updated"
	ChannelStrategyTransition = "events:strategy.transition"
)

// PublisherConfig configures the Redis event publisher.
type PublisherConfig struct {
	Addr     string
	Password string
	DB       int

	// Breaker settings. Zero values fall back to 5 failures / 10s cooldown.
	MaxFailures int
	Cooldown    time.Duration

	// MaxBuffer is the cap on events held locally while the breaker is
	// open. Oldest events are dropped past the cap. Default 10000.
	MaxBuffer int
}

type pendingPublish struct {
	channel string
	payload []byte
}

// Publisher publishes indicator updates and strategy transitions over
// Redis pub/sub. Publishes run through a circuit breaker; while the
// breaker is open events are buffered locally and replayed when it
// closes, so a Redis blip degrades delivery latency rather than the
// compute path.
type Publisher struct {
	client  *goredis.Client
	breaker *Breaker

	mu     sync.Mutex
	buffer []pendingPublish
	maxBuf int

	// Callbacks for metrics (optional).
	OnPublishError func()
	OnBuffer       func()
	OnFlush        func(count int)
}

// NewPublisher connects to Redis and pings the server.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 10 * time.Second
	}
	maxBuf := cfg.MaxBuffer
	if maxBuf <= 0 {
		maxBuf = 10000
	}

	p := &Publisher{
		client:  client,
		breaker: NewBreaker(maxFailures, cooldown),
		buffer:  make([]pendingPublish, 0, 256),
		maxBuf:  maxBuf,
	}
	p.breaker.OnStateChange = func(from, to BreakerState) {
		log.Printf("[redis-publisher] breaker %s -> %s", from, to)
		if to == BreakerClosed {
			go p.flush()
		}
	}

	log.Printf("[redis-publisher] connected to %s", cfg.Addr)
	return p, nil
}

// Breaker exposes the publisher's circuit breaker for metrics wiring.
func (p *Publisher) Breaker() *Breaker { return p.breaker }

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// PublishIndicatorUpdate publishes an indicator.updated event.
func (p *Publisher) PublishIndicatorUpdate(ctx context.Context, v model.IndicatorValue) error {
	return p.publish(ctx, ChannelIndicatorUpdated, v)
}

// PublishTransition publishes a strategy.state_transition event.
func (p *Publisher) PublishTransition(ctx context.Context, t model.TransitionEvent) error {
	return p.publish(ctx, ChannelStrategyTransition, t)
}

func (p *Publisher) publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", channel, err)
	}

	err = p.breaker.Do(func() error {
		return p.client.Publish(ctx, channel, data).Err()
	})
	if err == nil {
		return nil
	}
	if p.OnPublishError != nil {
		p.OnPublishError()
	}
	if err == ErrBreakerOpen {
		p.bufferPublish(channel, data)
		return nil // buffered, not lost
	}
	log.Printf("[redis-publisher] publish %s error: %v", channel, err)
	return err
}

func (p *Publisher) bufferPublish(channel string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buffer) >= p.maxBuf {
		// Full — drop oldest
		p.buffer = p.buffer[1:]
	}
	p.buffer = append(p.buffer, pendingPublish{channel: channel, payload: data})

	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays buffered publishes after the breaker closes.
func (p *Publisher) flush() {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	toFlush := p.buffer
	p.buffer = make([]pendingPublish, 0, 256)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	flushed := 0
	for i, pp := range toFlush {
		if err := p.client.Publish(ctx, pp.channel, pp.payload).Err(); err != nil {
			log.Printf("[redis-publisher] flush error after %d/%d: %v", flushed, len(toFlush), err)
			// Keep the undelivered tail for the next flush attempt.
			p.mu.Lock()
			p.buffer = append(p.buffer, toFlush[i:]...)
			p.mu.Unlock()
			break
		}
		flushed++
	}
	log.Printf("[redis-publisher] flushed %d buffered events", flushed)

	if p.OnFlush != nil {
		p.OnFlush(flushed)
	}
}

// Pending returns the number of locally buffered events.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Close makes a best-effort attempt to flush locally buffered events, then
// closes the underlying Redis client. Events that still cannot be delivered
// are dropped with a log line.
func (p *Publisher) Close() error {
	p.flush()
	if remaining := p.Pending(); remaining > 0 {
		log.Printf("[redis-publisher] closing with %d undelivered buffered events", remaining)
	}
	return p.client.Close()
}
