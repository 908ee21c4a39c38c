package engine

import (
	"sync"
	"time"

	"signal-systemv1/internal/model"
)

// symbolCache holds the computed values and bounded value histories for one
// symbol. Caches are partitioned by symbol, so cross-symbol contention is
// structurally impossible; within a symbol only that symbol's worker writes.
type symbolCache struct {
	mu        sync.RWMutex
	values    map[string]model.IndicatorValue
	hist      map[string][]model.Sample
	histSize  int
	lastTouch time.Time
}

func newSymbolCache(histSize int) *symbolCache {
	return &symbolCache{
		values:   make(map[string]model.IndicatorValue),
		hist:     make(map[string][]model.Sample),
		histSize: histSize,
	}
}

// put stores the latest value and, for available results, appends to the
// variant's bounded value history.
func (c *symbolCache) put(v model.IndicatorValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[v.VariantID] = v
	c.lastTouch = time.Now()
	if v.Unavailable {
		return
	}
	h := append(c.hist[v.VariantID], model.Sample{TS: v.TS, Price: v.Value})
	if len(h) > c.histSize {
		h = h[len(h)-c.histSize:]
	}
	c.hist[v.VariantID] = h
}

// history returns a copy of the variant's value history within
// [now-t1, now-t2], oldest first.
func (c *symbolCache) history(variantID string, t1, t2 time.Duration, now time.Time) []model.Sample {
	lo := now.Add(-t1)
	hi := now.Add(-t2)
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []model.Sample
	for _, s := range c.hist[variantID] {
		if s.TS.Before(lo) || s.TS.After(hi) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// snapshot copies all current values.
func (c *symbolCache) snapshot() model.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(model.Snapshot, len(c.values))
	for id, v := range c.values {
		out[id] = v
	}
	return out
}

// drop removes one variant's value and history.
func (c *symbolCache) drop(variantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, variantID)
	delete(c.hist, variantID)
}

// touchedBefore reports whether the cache has been idle since the cutoff.
func (c *symbolCache) touchedBefore(cutoff time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastTouch.Before(cutoff)
}

// cacheFor fetches (optionally creating) the symbol's cache.
func (e *Engine) cacheFor(symbol string, create bool) *symbolCache {
	if v, ok := e.caches.Load(symbol); ok {
		return v.(*symbolCache)
	}
	if !create {
		return nil
	}
	v, _ := e.caches.LoadOrStore(symbol, newSymbolCache(e.cfg.HistorySize))
	return v.(*symbolCache)
}

// Snapshot returns a consistent copy of every cached value for the symbol,
// keyed by variant id. Safe to hand to the condition evaluator.
func (e *Engine) Snapshot(symbol string) model.Snapshot {
	sc := e.cacheFor(symbol, false)
	if sc == nil {
		return model.Snapshot{}
	}
	return sc.snapshot()
}

// Value returns the cached value for one variant.
func (e *Engine) Value(variantID string) (model.IndicatorValue, bool) {
	e.mu.RLock()
	v, ok := e.variants[variantID]
	e.mu.RUnlock()
	if !ok {
		return model.IndicatorValue{}, false
	}
	sc := e.cacheFor(v.Symbol, false)
	if sc == nil {
		return model.IndicatorValue{}, false
	}
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	val, ok := sc.values[variantID]
	return val, ok
}

// SweepIdle evicts buffers and caches untouched for longer than ttl.
// Returns the number of evicted buffers and caches.
func (e *Engine) SweepIdle(ttl time.Duration, now time.Time) (buffers, caches int) {
	buffers = e.buffers.SweepIdle(ttl, now)
	cutoff := now.Add(-ttl)
	e.caches.Range(func(key, value any) bool {
		if value.(*symbolCache).touchedBefore(cutoff) {
			e.caches.Delete(key)
			caches++
		}
		return true
	})
	return buffers, caches
}
