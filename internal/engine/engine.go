// Package engine is the streaming indicator engine: it routes market events
// onto per-symbol workers, recomputes the affected variants through the
// algorithm registry, maintains the indicator value cache, and publishes
// indicator-updated notifications.
//
// All mutable state lives in the ring buffer manager and the per-symbol
// value cache; the orchestration itself is stateless.
package engine

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"signal-systemv1/internal/algo"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/ringbuf"
)

const (
	// DefaultWorkers is the number of symbol-sharded workers. Events for
	// one symbol always land on the same worker, preserving arrival order.
	DefaultWorkers = 4
	// DefaultConcurrency bounds concurrent variant computations globally.
	DefaultConcurrency = 12
	// DefaultComputeTimeout abandons a computation that exceeds it: the
	// value is marked unavailable and the pipeline moves on.
	DefaultComputeTimeout = 500 * time.Millisecond
	// DefaultHistorySize bounds the per-variant value history feeding
	// second-order aggregations.
	DefaultHistorySize = 256
	// DefaultQueueSize is the per-worker event queue depth.
	DefaultQueueSize = 2048
)

// Config tunes the engine. Zero fields fall back to the defaults above.
type Config struct {
	Workers        int
	Concurrency    int
	ComputeTimeout time.Duration
	HistorySize    int
	QueueSize      int
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.ComputeTimeout <= 0 {
		c.ComputeTimeout = DefaultComputeTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
}

// Hooks are optional observation points, wired to metrics by the service.
type Hooks struct {
	OnCompute     func(d time.Duration)        // every finished computation
	OnTimeout     func(variantID string)       // computation abandoned
	OnDrop        func(symbol string)          // event dropped, worker queue full
	OnUpdate      func(v model.IndicatorValue) // after each cache update
	OnUnavailable func(bt model.BaseType)      // computation yielded no value
	OnResize      func(symbol string, kind model.DataKind, capacity int)
}

// Engine computes indicator variants over streaming market data.
type Engine struct {
	cfg      Config
	buffers  *ringbuf.Manager
	registry *algo.Registry
	logger   *slog.Logger
	hooks    Hooks

	sem chan struct{} // global computation semaphore

	mu       sync.RWMutex
	variants map[string]model.Variant // by id
	bySymbol map[string][]string      // symbol → variant ids, first-order before second-order

	caches sync.Map // symbol → *symbolCache

	workers []chan model.MarketEvent
	wg      sync.WaitGroup
	stopped atomic.Bool
}

// New creates an engine. The registry must already be validated; a nil
// registry is a programming error and panics via the first Get.
func New(cfg Config, buffers *ringbuf.Manager, registry *algo.Registry, logger *slog.Logger, hooks Hooks) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:      cfg,
		buffers:  buffers,
		registry: registry,
		logger:   logger,
		hooks:    hooks,
		sem:      make(chan struct{}, cfg.Concurrency),
		variants: make(map[string]model.Variant),
		bySymbol: make(map[string][]string),
		workers:  make([]chan model.MarketEvent, cfg.Workers),
	}
	if hooks.OnResize != nil {
		buffers.OnResize = hooks.OnResize
	}
	return e
}

// Start launches the symbol workers.
func (e *Engine) Start() {
	for i := range e.workers {
		ch := make(chan model.MarketEvent, e.cfg.QueueSize)
		e.workers[i] = ch
		e.wg.Add(1)
		go func(ch <-chan model.MarketEvent) {
			defer e.wg.Done()
			for ev := range ch {
				e.process(ev)
			}
		}(ch)
	}
	e.logger.Info("indicator engine started",
		slog.Int("workers", e.cfg.Workers),
		slog.Int("concurrency", e.cfg.Concurrency),
		slog.Duration("compute_timeout", e.cfg.ComputeTimeout))
}

// Stop closes intake and waits for in-flight work to drain. New events are
// rejected immediately; queued events and running computations finish.
func (e *Engine) Stop() {
	if !e.stopped.CompareAndSwap(false, true) {
		return
	}
	for _, ch := range e.workers {
		close(ch)
	}
	e.wg.Wait()
	e.logger.Info("indicator engine stopped")
}

// Ingest routes one market event onto its symbol's worker. Events for the
// same symbol are processed strictly in arrival order; a full worker queue
// drops the event rather than blocking the feed.
func (e *Engine) Ingest(ev model.MarketEvent) {
	if e.stopped.Load() || !ev.Kind.Valid() {
		return
	}
	h := fnv.New32a()
	h.Write([]byte(ev.Symbol))
	ch := e.workers[h.Sum32()%uint32(len(e.workers))]
	select {
	case ch <- ev:
	default:
		if e.hooks.OnDrop != nil {
			e.hooks.OnDrop(ev.Symbol)
		}
		e.logger.Warn("worker queue full, dropping event", slog.String("symbol", ev.Symbol))
	}
}

// RegisterVariant validates the variant's base type against the registry and
// adds it to the computed set, re-evaluating the symbol's buffer capacity.
func (e *Engine) RegisterVariant(v model.Variant) error {
	if !e.registry.Has(v.BaseType) {
		return fmt.Errorf("%w: %q", algo.ErrUnknownIndicatorType, v.BaseType)
	}
	e.mu.Lock()
	if _, dup := e.variants[v.ID]; !dup {
		e.variants[v.ID] = v
		ids := e.bySymbol[v.Symbol]
		if v.BaseType.SecondOrder() {
			ids = append(ids, v.ID)
		} else {
			// First-order variants run before second-order ones so the
			// value history a composite reads is current for this event.
			ids = append([]string{v.ID}, ids...)
		}
		e.bySymbol[v.Symbol] = ids
	}
	e.mu.Unlock()

	e.reevaluateCapacity(v.Symbol)
	return nil
}

// UnregisterVariant drops the variant, its cached value, and its history,
// then re-evaluates capacity — the symbol's buffers may shrink, and are
// destroyed entirely when nothing references the symbol any longer.
func (e *Engine) UnregisterVariant(id string) {
	e.mu.Lock()
	v, ok := e.variants[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.variants, id)
	ids := e.bySymbol[v.Symbol]
	for i, vid := range ids {
		if vid == id {
			e.bySymbol[v.Symbol] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	remaining := len(e.bySymbol[v.Symbol])
	if remaining == 0 {
		delete(e.bySymbol, v.Symbol)
	}
	e.mu.Unlock()

	if sc := e.cacheFor(v.Symbol, false); sc != nil {
		sc.drop(id)
	}
	if remaining == 0 {
		e.buffers.DropSymbol(v.Symbol)
		e.caches.Delete(v.Symbol)
		return
	}
	e.reevaluateCapacity(v.Symbol)
}

// reevaluateCapacity recomputes the symbol's maximum lookback across all
// live variants and pushes it to the buffer manager.
func (e *Engine) reevaluateCapacity(symbol string) {
	e.mu.RLock()
	var maxLB float64
	for _, id := range e.bySymbol[symbol] {
		v := e.variants[id]
		if lb := e.lookbackSeconds(v); lb > maxLB {
			maxLB = lb
		}
	}
	e.mu.RUnlock()
	e.buffers.SetLookback(symbol, maxLB)
}

// lookbackSeconds translates a variant's parameters into elapsed time.
// Period counts are converted using the observed sampling cadence, since
// cadence is not fixed.
func (e *Engine) lookbackSeconds(v model.Variant) float64 {
	if lb := v.Params.Lookback(); lb > 0 {
		return lb
	}
	if period := v.Params[model.ParamPeriod]; period > 0 {
		return period * e.buffers.CadenceSeconds(v.Symbol, v.BaseType.DataKindFor())
	}
	return 0
}

// Variants returns the registered variants for a symbol, computation order.
func (e *Engine) Variants(symbol string) []model.Variant {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := e.bySymbol[symbol]
	out := make([]model.Variant, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.variants[id])
	}
	return out
}
