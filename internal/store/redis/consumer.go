// Package redis holds the Redis collaborators: the market-event stream
// consumer feeding the engine and the pub/sub event publisher behind a
// circuit breaker.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"signal-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// DefaultStream is the market-event stream consumed when none is configured.
const DefaultStream = "stream:market.events"

// ConsumerConfig configures the Redis Streams market-event consumer.
type ConsumerConfig struct {
	Addr     string
	Password string
	DB       int

	Streams       []string // streams to consume, default [DefaultStream]
	ConsumerGroup string   // consumer group name, e.g. "sigengine"
	ConsumerName  string   // unique consumer name, e.g. hostname
}

// Consumer reads market events from Redis Streams via consumer groups and
// pushes them into the engine's ingest channel. Messages are ACKed after
// they have been handed off, so a crash replays unprocessed events.
type Consumer struct {
	client   *goredis.Client
	streams  []string
	group    string
	consumer string
}

// NewConsumer creates a Consumer and pings the server.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
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

	streams := cfg.Streams
	if len(streams) == 0 {
		streams = []string{DefaultStream}
	}
	group := cfg.ConsumerGroup
	if group == "" {
		group = "sigengine"
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "worker-1"
	}

	log.Printf("[redis-consumer] connected to %s (streams=%v group=%s consumer=%s)",
		cfg.Addr, streams, group, consumer)
	return &Consumer{
		client:   client,
		streams:  streams,
		group:    group,
		consumer: consumer,
	}, nil
}

// EnsureConsumerGroup creates the consumer group on each stream if it does
// not exist. Fresh groups start at "$" (only new messages).
func (c *Consumer) EnsureConsumerGroup(ctx context.Context) error {
	for _, stream := range c.streams {
		err := c.client.XGroupCreateMkStream(ctx, stream, c.group, "$").Err()
		if err != nil {
			// BUSYGROUP means the group already exists
			if err.Error() != "BUSYGROUP Consumer Group name already exists" {
				return fmt.Errorf("xgroup create %s: %w", stream, err)
			}
		}
	}
	return nil
}

// Run blocks on XREADGROUP and sends parsed market events to eventCh
// until ctx is cancelled. Pending messages from a previous crash are
// claimed and replayed first.
func (c *Consumer) Run(ctx context.Context, eventCh chan<- model.MarketEvent) error {
	if err := c.recoverPending(ctx, eventCh); err != nil {
		return err
	}

	// [stream1, stream2, ..., ">", ">", ...]
	args := make([]string, len(c.streams)*2)
	for i, s := range c.streams {
		args[i] = s
		args[len(c.streams)+i] = ">"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  args,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[redis-consumer] xreadgroup error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			for _, msg := range stream.Messages {
				if err := c.deliver(ctx, stream.Stream, msg, eventCh); err != nil {
					return err
				}
			}
		}
	}
}

// deliver parses one stream message and hands it to eventCh, ACKing on
// success. Malformed messages are ACKed and skipped to avoid a poison pill.
func (c *Consumer) deliver(ctx context.Context, stream string, msg goredis.XMessage, eventCh chan<- model.MarketEvent) error {
	data, ok := msg.Values["data"].(string)
	if !ok {
		c.client.XAck(ctx, stream, c.group, msg.ID)
		return nil
	}

	var ev model.MarketEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		log.Printf("[redis-consumer] unmarshal event error: %v", err)
		c.client.XAck(ctx, stream, c.group, msg.ID)
		return nil
	}

	select {
	case eventCh <- ev:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.client.XAck(ctx, stream, c.group, msg.ID)
	return nil
}

// recoverPending claims and replays unACKed messages left by a previous
// consumer, giving at-least-once delivery across restarts.
func (c *Consumer) recoverPending(ctx context.Context, eventCh chan<- model.MarketEvent) error {
	for _, stream := range c.streams {
		for {
			pending, err := c.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: stream,
				Group:  c.group,
				Start:  "-",
				End:    "+",
				Count:  100,
			}).Result()
			if err != nil || len(pending) == 0 {
				break
			}

			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}

			claimed, err := c.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    c.group,
				Consumer: c.consumer,
				MinIdle:  0,
				Messages: ids,
			}).Result()
			if err != nil {
				log.Printf("[redis-consumer] xclaim error on %s: %v", stream, err)
				break
			}

			recovered := 0
			for _, msg := range claimed {
				if err := c.deliver(ctx, stream, msg, eventCh); err != nil {
					return err
				}
				recovered++
			}
			if recovered > 0 {
				log.Printf("[redis-consumer] recovered %d pending events from %s", recovered, stream)
			}
		}
	}
	return nil
}

// Close closes the underlying Redis client.
func (c *Consumer) Close() error {
	return c.client.Close()
}
