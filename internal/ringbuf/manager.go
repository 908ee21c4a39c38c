package ringbuf

import (
	"log"
	"math"
	"sync"
	"time"

	"signal-systemv1/internal/model"
)

const (
	// DefaultMinSize is the smallest capacity a ring is ever sized to.
	DefaultMinSize = 100
	// DefaultMaxSize caps derived capacity regardless of lookback.
	DefaultMaxSize = 10000
	// DefaultMargin is the safety factor applied on top of the raw
	// lookback-derived sample count.
	DefaultMargin = 1.2

	// cadenceAlpha is the EWMA smoothing factor for inter-sample gaps.
	cadenceAlpha = 0.1
	// reEvalEvery triggers a capacity re-check from the append path, since
	// cadence drifts while the lookback stays fixed.
	reEvalEvery = 256
)

// ManagerConfig bounds derived ring capacities.
type ManagerConfig struct {
	MinSize int
	MaxSize int
	Margin  float64
}

// DefaultManagerConfig returns the documented defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{MinSize: DefaultMinSize, MaxSize: DefaultMaxSize, Margin: DefaultMargin}
}

type ringKey struct {
	symbol string
	kind   model.DataKind
}

// ringState couples a ring with its observed sampling cadence.
type ringState struct {
	ring    *Ring
	gapEWMA float64 // seconds between samples, smoothed
	lastTS  time.Time
	appends int
}

// Manager owns one Ring per (symbol, data kind). Rings are created lazily on
// first append, sized from the symbol's registered lookback, and dropped by
// the idle sweeper once nothing references the symbol.
type Manager struct {
	cfg ManagerConfig

	mu       sync.RWMutex
	rings    map[ringKey]*ringState
	lookback map[string]float64 // seconds, max across live variants per symbol

	// OnResize, if set, is called with (symbol, kind, capacity) after a
	// capacity change. Used for metrics.
	OnResize func(symbol string, kind model.DataKind, capacity int)

	// OnOverflow, if set, is called when an append evicts the oldest
	// sample from a full ring.
	OnOverflow func(symbol string, kind model.DataKind)
}

// NewManager creates a Manager. Zero-value config fields fall back to the
// documented defaults.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.MinSize <= 0 {
		cfg.MinSize = DefaultMinSize
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Margin <= 0 {
		cfg.Margin = DefaultMargin
	}
	return &Manager{
		cfg:      cfg,
		rings:    make(map[ringKey]*ringState),
		lookback: make(map[string]float64),
	}
}

// Append inserts a sample into the (symbol, kind) ring, creating it lazily.
// The observed cadence is updated on every append, and capacity is
// re-evaluated periodically as cadence drifts.
func (m *Manager) Append(symbol string, kind model.DataKind, s model.Sample) {
	key := ringKey{symbol, kind}

	m.mu.Lock()
	st, ok := m.rings[key]
	if !ok {
		st = &ringState{ring: New(m.required(m.lookback[symbol], 0))}
		m.rings[key] = st
	}

	// Track inter-sample gap EWMA for the points-per-second estimate.
	if !st.lastTS.IsZero() {
		gap := s.TS.Sub(st.lastTS).Seconds()
		if gap > 0 {
			if st.gapEWMA == 0 {
				st.gapEWMA = gap
			} else {
				st.gapEWMA = st.gapEWMA*(1-cadenceAlpha) + gap*cadenceAlpha
			}
		}
	}
	st.lastTS = s.TS
	st.appends++
	reEval := st.appends%reEvalEvery == 0
	lb := m.lookback[symbol]
	m.mu.Unlock()

	if st.ring.Append(s) && m.OnOverflow != nil {
		m.OnOverflow(symbol, kind)
	}

	if reEval {
		m.resizeRing(symbol, kind, st, lb)
	}
}

// Window returns samples for (symbol, kind) within [now-t1, now-t2].
// A symbol with no ring yet yields an empty window, not an error.
func (m *Manager) Window(symbol string, kind model.DataKind, t1, t2 time.Duration, now time.Time) ([]model.Sample, error) {
	if t1 < t2 || t2 < 0 {
		return nil, ErrBadWindow
	}
	m.mu.RLock()
	st, ok := m.rings[ringKey{symbol, kind}]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return st.ring.Window(t1, t2, now)
}

// SetLookback registers the maximum lookback (seconds) any live variant
// requires for the symbol and resizes every ring of that symbol to the newly
// derived capacity. Called by the engine on every variant add/remove.
// A lookback of 0 means no variant references the symbol any longer.
func (m *Manager) SetLookback(symbol string, seconds float64) {
	m.mu.Lock()
	if seconds <= 0 {
		delete(m.lookback, symbol)
	} else {
		m.lookback[symbol] = seconds
	}
	states := make(map[model.DataKind]*ringState)
	for key, st := range m.rings {
		if key.symbol == symbol {
			states[key.kind] = st
		}
	}
	m.mu.Unlock()

	for kind, st := range states {
		m.resizeRing(symbol, kind, st, seconds)
	}
}

// resizeRing applies the derived capacity to one ring if it changed.
func (m *Manager) resizeRing(symbol string, kind model.DataKind, st *ringState, lookbackSec float64) {
	m.mu.RLock()
	gap := st.gapEWMA
	m.mu.RUnlock()

	want := m.required(lookbackSec, gap)
	if st.ring.Cap() == want {
		return
	}
	st.ring.Resize(want)
	log.Printf("[ringbuf] %s/%s resized to %d (lookback=%.0fs)", symbol, kind, want, lookbackSec)
	if m.OnResize != nil {
		m.OnResize(symbol, kind, want)
	}
}

// required derives the clamped capacity:
// clamp(ceil(lookback * rate * margin), min, max) where rate is the observed
// samples-per-second (1.0 until a cadence has been measured).
func (m *Manager) required(lookbackSec, gapEWMA float64) int {
	rate := 1.0
	if gapEWMA > 0 {
		rate = 1.0 / gapEWMA
	}
	n := int(math.Ceil(lookbackSec * rate * m.cfg.Margin))
	if n < m.cfg.MinSize {
		n = m.cfg.MinSize
	}
	if n > m.cfg.MaxSize {
		n = m.cfg.MaxSize
	}
	return n
}

// CadenceSeconds returns the observed average gap between samples for the
// ring, in seconds. Defaults to 1.0 until a cadence has been measured.
func (m *Manager) CadenceSeconds(symbol string, kind model.DataKind) float64 {
	m.mu.RLock()
	st, ok := m.rings[ringKey{symbol, kind}]
	m.mu.RUnlock()
	if !ok || st.gapEWMA <= 0 {
		return 1.0
	}
	return st.gapEWMA
}

// Capacity reports the current capacity of a ring, 0 if absent.
func (m *Manager) Capacity(symbol string, kind model.DataKind) int {
	m.mu.RLock()
	st, ok := m.rings[ringKey{symbol, kind}]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return st.ring.Cap()
}

// Len reports the current sample count of a ring, 0 if absent.
func (m *Manager) Len(symbol string, kind model.DataKind) int {
	m.mu.RLock()
	st, ok := m.rings[ringKey{symbol, kind}]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return st.ring.Len()
}

// DropSymbol removes every ring of the symbol. Used when the last variant
// referencing it is deleted and on session teardown.
func (m *Manager) DropSymbol(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.rings {
		if key.symbol == symbol {
			delete(m.rings, key)
		}
	}
	delete(m.lookback, symbol)
}

// SweepIdle drops rings untouched for longer than ttl and returns how many
// were evicted. Run periodically to bound memory for inactive symbols.
func (m *Manager) SweepIdle(ttl time.Duration, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for key, st := range m.rings {
		last := st.ring.LastTouched()
		if last.IsZero() || now.Sub(last) > ttl {
			delete(m.rings, key)
			evicted++
		}
	}
	if evicted > 0 {
		log.Printf("[ringbuf] sweep evicted %d idle buffers", evicted)
	}
	return evicted
}
