package engine

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"signal-systemv1/internal/algo"
	"signal-systemv1/internal/model"
)

// process handles one market event on its symbol worker: append to the
// buffer, recompute every variant bound to the symbol (first-order fanned
// out across the bounded pool, second-order after), update the cache, and
// publish each updated value.
//
// Each variant's computation is isolated: an error or unavailable result is
// logged and skipped without touching the other variants of the same event.
func (e *Engine) process(ev model.MarketEvent) {
	e.buffers.Append(ev.Symbol, ev.Kind, ev.Sample())

	variants := e.Variants(ev.Symbol)
	if len(variants) == 0 {
		return
	}
	now := ev.TS
	sc := e.cacheFor(ev.Symbol, true)

	// First-order variants read immutable window snapshots, so they can
	// fan out concurrently for the same event.
	var wg sync.WaitGroup
	results := make([]model.IndicatorValue, len(variants))
	for i, v := range variants {
		if v.BaseType.SecondOrder() {
			continue
		}
		wg.Add(1)
		go func(i int, v model.Variant) {
			defer wg.Done()
			results[i] = e.computeOne(v, e.windowFor(v, now), now)
		}(i, v)
	}
	wg.Wait()

	for i, v := range variants {
		if v.BaseType.SecondOrder() {
			continue
		}
		e.publish(sc, results[i])
	}

	// Second-order variants reduce over the (now current) value history of
	// their base variant, never the raw buffer.
	for i, v := range variants {
		if !v.BaseType.SecondOrder() {
			continue
		}
		t1 := time.Duration(v.Params.T1() * float64(time.Second))
		t2 := time.Duration(v.Params.T2() * float64(time.Second))
		hist := sc.history(v.BaseID, t1, t2, now)
		results[i] = e.computeOne(v, hist, now)
		e.publish(sc, results[i])
	}
}

// windowFor pulls the variant's governing window snapshot from its buffer.
// Period-count variants translate the period into elapsed time at the
// prevailing sampling cadence.
func (e *Engine) windowFor(v model.Variant, now time.Time) []model.Sample {
	kind := v.BaseType.DataKindFor()
	t1 := e.lookbackSeconds(v)
	t2 := v.Params.T2()
	win, err := e.buffers.Window(v.Symbol, kind,
		time.Duration(t1*float64(time.Second)),
		time.Duration(t2*float64(time.Second)), now)
	if err != nil {
		e.logger.Warn("window lookup failed",
			slog.String("variant", v.ID), slog.String("err", err.Error()))
		return nil
	}
	return win
}

// computeOne runs a single computation through the bounded pool with a
// timeout. A task that exceeds the timeout is abandoned — marked
// unavailable, logged — rather than blocking the pipeline; the goroutine
// releases its pool slot whenever it eventually finishes.
func (e *Engine) computeOne(v model.Variant, win []model.Sample, now time.Time) model.IndicatorValue {
	out := model.IndicatorValue{VariantID: v.ID, Symbol: v.Symbol, TS: now}

	fn, err := e.registry.Get(v.BaseType)
	if err != nil {
		// Unreachable after registration-time validation.
		e.logger.Error("variant with unregistered base type",
			slog.String("variant", v.ID), slog.String("err", err.Error()))
		out.Unavailable = true
		return out
	}

	type result struct {
		val float64
		err error
	}
	resCh := make(chan result, 1)
	start := time.Now()

	e.sem <- struct{}{}
	go func() {
		defer func() { <-e.sem }()
		val, err := fn(win, v.Params, now)
		resCh <- result{val, err}
	}()

	select {
	case res := <-resCh:
		if e.hooks.OnCompute != nil {
			e.hooks.OnCompute(time.Since(start))
		}
		switch {
		case res.err == nil:
			out.Value = res.val
		case errors.Is(res.err, algo.ErrUnavailable):
			out.Unavailable = true
		default:
			e.logger.Warn("variant computation failed",
				slog.String("variant", v.ID),
				slog.String("symbol", v.Symbol),
				slog.String("err", res.err.Error()))
			out.Unavailable = true
		}
	case <-time.After(e.cfg.ComputeTimeout):
		if e.hooks.OnTimeout != nil {
			e.hooks.OnTimeout(v.ID)
		}
		e.logger.Warn("variant computation timed out, abandoning",
			slog.String("variant", v.ID),
			slog.String("symbol", v.Symbol),
			slog.Duration("timeout", e.cfg.ComputeTimeout))
		out.Unavailable = true
	}
	if out.Unavailable && e.hooks.OnUnavailable != nil {
		e.hooks.OnUnavailable(v.BaseType)
	}
	return out
}

// publish updates the cache and emits the indicator-updated notification.
// Unavailable values are published as such — explicitly, never as zero.
func (e *Engine) publish(sc *symbolCache, v model.IndicatorValue) {
	if v.VariantID == "" {
		return
	}
	sc.put(v)
	if e.hooks.OnUpdate != nil {
		e.hooks.OnUpdate(v)
	}
}
