package strategy

import (
	"log/slog"
	"sync"
	"time"

	"signal-systemv1/internal/condition"
	"signal-systemv1/internal/model"
)

// Config defines one strategy: its rule sections, thresholds, and the
// symbols it is activated on.
type Config struct {
	ID         string                                  `json:"id"`
	Symbols    []string                                `json:"symbols"`
	Rules      map[model.Section][]model.ConditionRule `json:"rules"`
	Thresholds map[model.Section]float64               `json:"thresholds,omitempty"`
}

type instKey struct {
	strategyID string
	symbol     string
}

// Manager owns every strategy instance. Instances for different pairs
// transition independently and concurrently; each instance serializes its
// own transitions.
type Manager struct {
	logger  *slog.Logger
	publish func(model.TransitionEvent)

	// OnRejected, if set, is called for every rejected trigger.
	OnRejected func(strategyID, symbol string)

	mu         sync.RWMutex
	instances  map[instKey]*Instance
	bySymbol   map[string][]*Instance
	evaluators map[string]*condition.Evaluator
}

// NewManager creates a manager. publish receives every transition event; the
// service wires it to the event bus.
func NewManager(logger *slog.Logger, publish func(model.TransitionEvent)) *Manager {
	return &Manager{
		logger:     logger,
		publish:    publish,
		instances:  make(map[instKey]*Instance),
		bySymbol:   make(map[string][]*Instance),
		evaluators: make(map[string]*condition.Evaluator),
	}
}

// Activate creates one instance per (strategy, symbol) pair. An already
// active pair is left untouched, preserving its current lifecycle state.
func (m *Manager) Activate(cfg Config, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.evaluators[cfg.ID]
	if !ok {
		ev = condition.New(cfg.Rules, cfg.Thresholds, m.logger)
		m.evaluators[cfg.ID] = ev
	}
	for _, sym := range cfg.Symbols {
		key := instKey{cfg.ID, sym}
		if _, exists := m.instances[key]; exists {
			continue
		}
		in := NewInstance(cfg.ID, sym, ev, now)
		m.instances[key] = in
		m.bySymbol[sym] = append(m.bySymbol[sym], in)
		m.logger.Info("strategy instance activated",
			slog.String("strategy", cfg.ID), slog.String("symbol", sym))
	}
}

// Deactivate destroys every instance of the strategy. Intra-run state is
// ephemeral; durability is the persistence collaborator's concern.
func (m *Manager) Deactivate(strategyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.evaluators, strategyID)
	for key, in := range m.instances {
		if key.strategyID != strategyID {
			continue
		}
		delete(m.instances, key)
		syms := m.bySymbol[key.symbol]
		for i, cand := range syms {
			if cand == in {
				m.bySymbol[key.symbol] = append(syms[:i], syms[i+1:]...)
				break
			}
		}
		if len(m.bySymbol[key.symbol]) == 0 {
			delete(m.bySymbol, key.symbol)
		}
	}
	m.logger.Info("strategy deactivated", slog.String("strategy", strategyID))
}

// OnIndicatorUpdate steps every instance bound to the symbol against a fresh
// snapshot and publishes the resulting transitions.
func (m *Manager) OnIndicatorUpdate(symbol string, snap model.Snapshot, now time.Time) {
	m.mu.RLock()
	targets := make([]*Instance, len(m.bySymbol[symbol]))
	copy(targets, m.bySymbol[symbol])
	m.mu.RUnlock()

	for _, in := range targets {
		for _, ev := range in.Step(snap, now) {
			m.logger.Info("state transition",
				slog.String("strategy", ev.StrategyID),
				slog.String("symbol", ev.Symbol),
				slog.String("from", string(ev.From)),
				slog.String("to", string(ev.To)),
				slog.String("trigger", TriggerCode(ev.Trigger)))
			if m.publish != nil {
				m.publish(ev)
			}
		}
	}
}

// Trigger applies one externally driven trigger to a specific instance. A
// trigger with no edge from the current state is logged and rejected, the
// instance unchanged.
func (m *Manager) Trigger(strategyID, symbol string, section model.Section, res condition.Result, now time.Time) error {
	m.mu.RLock()
	in, ok := m.instances[instKey{strategyID, symbol}]
	m.mu.RUnlock()
	if !ok {
		if m.OnRejected != nil {
			m.OnRejected(strategyID, symbol)
		}
		return ErrTransitionRejected
	}
	events, err := in.Apply(section, res, now)
	if err != nil {
		if m.OnRejected != nil {
			m.OnRejected(strategyID, symbol)
		}
		state, _ := in.State()
		m.logger.Warn("transition rejected",
			slog.String("strategy", strategyID),
			slog.String("symbol", symbol),
			slog.String("trigger", TriggerCode(section)),
			slog.String("state", string(state)))
		return err
	}
	for _, ev := range events {
		if m.publish != nil {
			m.publish(ev)
		}
	}
	return nil
}

// Count returns the number of active instances.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}

// Instance looks up one instance.
func (m *Manager) Instance(strategyID, symbol string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.instances[instKey{strategyID, symbol}]
	return in, ok
}
