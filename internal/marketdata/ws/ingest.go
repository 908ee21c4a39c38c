// Package ws provides a WebSocket event source that connects to a market
// data feed and pushes normalized events into the engine pipeline.
//
// The expected JSON frame format on the wire is identical to
// model.MarketEvent:
//
//	{"symbol":"BTCUSDT","kind":"tick","ts":"...","price":64123.5,"qty":0.02}
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"signal-systemv1/internal/model"

	"github.com/gorilla/websocket"
)

// Config holds configuration for the WS event source.
type Config struct {
	// URL of the market event feed, e.g. "ws://localhost:9001/ws"
	URL string

	// Symbols to subscribe on connect. Empty means the feed's default set.
	Symbols []string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// subscribeMsg is sent once per connection to select symbols.
type subscribeMsg struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Source connects to a plain-JSON WebSocket feed and pushes
// model.MarketEvent values into eventCh. Reconnects automatically with
// exponential backoff on disconnect.
type Source struct {
	cfg Config

	// Optional hooks for metrics and health.
	OnReconnect func()
	OnConnected func(bool)
}

// New creates a Source. Returns an error if the URL is unparseable.
func New(cfg Config) (*Source, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("ws source: %w", err)
	}
	return &Source{cfg: cfg}, nil
}

// Run connects to the feed and streams events into eventCh.
// Blocks until ctx is cancelled.
func (s *Source) Run(ctx context.Context, eventCh chan<- model.MarketEvent) error {
	delay := s.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := s.runOnce(ctx, eventCh)
		if err == nil {
			// Context cancelled cleanly
			return nil
		}

		log.Printf("[ws] disconnected (%v), reconnecting in %s...", err, delay)
		if s.OnConnected != nil {
			s.OnConnected(false)
		}
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. A nil return means clean shutdown.
func (s *Source) runOnce(ctx context.Context, eventCh chan<- model.MarketEvent) error {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[ws] connected to %s", s.cfg.URL)
	if s.OnConnected != nil {
		s.OnConnected(true)
	}

	if len(s.cfg.Symbols) > 0 {
		sub := subscribeMsg{Action: "subscribe", Symbols: s.cfg.Symbols}
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		log.Printf("[ws] subscribed to %v", s.cfg.Symbols)
	}

	// Closes the connection when ctx is cancelled so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		var ev model.MarketEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Printf("[ws] parse error: %v (raw: %s)", err, raw)
			continue
		}

		if ev.Symbol == "" {
			log.Printf("[ws] skipping event with empty symbol")
			continue
		}
		if ev.TS.IsZero() {
			ev.TS = time.Now().UTC()
		}

		select {
		case eventCh <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

// Close is a no-op; the connection lifecycle is owned by Run.
func (s *Source) Close() error { return nil }
