// Package replay provides an event source that reads recorded market
// events from a JSON-lines file and emits them at configurable speed.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"signal-systemv1/internal/model"
)

// Config configures the replayer.
type Config struct {
	// Path to a JSON-lines file, one model.MarketEvent per line.
	Path string

	// Speed controls the playback rate: 1.0 = real-time, 10.0 = 10x,
	// 0 = as fast as possible.
	Speed float64

	// Loop restarts playback from the beginning when the file is
	// exhausted. Event timestamps are shifted forward on each pass so
	// windows keep advancing.
	Loop bool
}

// Replayer reads recorded market events and replays them with the
// original inter-event gaps scaled by the speed multiplier.
type Replayer struct {
	cfg    Config
	events []model.MarketEvent
}

// New loads the event file up front so malformed input fails fast.
// Lines that don't parse are skipped with a warning.
func New(cfg Config) (*Replayer, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("replay open: %w", err)
	}
	defer f.Close()

	var events []model.MarketEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev model.MarketEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			log.Printf("[replay] skipping line %d: %v", line, err)
			continue
		}
		if ev.Symbol == "" || !ev.Kind.Valid() {
			log.Printf("[replay] skipping line %d: missing symbol or kind", line)
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("replay read: %w", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("replay: no events in %s", cfg.Path)
	}

	// Recorded files may interleave symbols out of order
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TS.Before(events[j].TS)
	})

	log.Printf("[replay] loaded %d events from %s, speed=%.1fx", len(events), cfg.Path, cfg.Speed)
	return &Replayer{cfg: cfg, events: events}, nil
}

// Len returns the number of loaded events.
func (r *Replayer) Len() int { return len(r.events) }

// Run emits events into eventCh until the file is exhausted (or forever
// when looping). Blocks until done or ctx is cancelled.
func (r *Replayer) Run(ctx context.Context, eventCh chan<- model.MarketEvent) error {
	var shift time.Duration
	span := r.events[len(r.events)-1].TS.Sub(r.events[0].TS) + time.Second

	for pass := 0; ; pass++ {
		emitted := 0
		var prevTS time.Time

		for _, ev := range r.events {
			select {
			case <-ctx.Done():
				log.Printf("[replay] cancelled after %d events", emitted)
				return ctx.Err()
			default:
			}

			if r.cfg.Speed > 0 && !prevTS.IsZero() {
				gap := ev.TS.Sub(prevTS)
				if gap > 0 {
					scaled := time.Duration(float64(gap) / r.cfg.Speed)
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(scaled):
					}
				}
			}
			prevTS = ev.TS

			out := ev
			out.TS = ev.TS.Add(shift)
			select {
			case eventCh <- out:
				emitted++
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		log.Printf("[replay] pass %d done, emitted %d events", pass+1, emitted)
		if !r.cfg.Loop {
			return nil
		}
		shift += span
	}
}

// Close is a no-op; the file is fully read at construction.
func (r *Replayer) Close() error { return nil }
