package strategy

import (
	"fmt"
	"sync"
	"time"

	"signal-systemv1/internal/condition"
	"signal-systemv1/internal/model"
)

// Instance is the state machine for one (strategy, symbol) pair. Exactly one
// instance exists per pair; it holds exactly one state at a time. All
// transitions go through the instance mutex, so at most one transition is in
// flight per instance and every transition is an atomic state replacement.
type Instance struct {
	StrategyID string
	Symbol     string

	evaluator *condition.Evaluator

	mu        sync.Mutex
	state     model.State
	enteredAt time.Time
}

// NewInstance creates an instance in MONITORING.
func NewInstance(strategyID, symbol string, evaluator *condition.Evaluator, now time.Time) *Instance {
	return &Instance{
		StrategyID: strategyID,
		Symbol:     symbol,
		evaluator:  evaluator,
		state:      model.StateMonitoring,
		enteredAt:  now,
	}
}

// State returns the current state and when it was entered.
func (in *Instance) State() (model.State, time.Time) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state, in.enteredAt
}

// Step evaluates the sections bound to the current state, in their fixed
// precedence order, against the snapshot. The first passing section drives
// the transition (plus any auto-followed tail) and the emitted transition
// events are returned. No section passing means no events and no change.
func (in *Instance) Step(snap model.Snapshot, now time.Time) []model.TransitionEvent {
	in.mu.Lock()
	defer in.mu.Unlock()

	for _, section := range evalOrder[in.state] {
		res := in.evaluator.Evaluate(section, snap)
		if !res.Passed {
			continue
		}
		events, err := in.applyLocked(section, res, now)
		if err != nil {
			// Unreachable: evalOrder only lists sections with edges.
			return nil
		}
		return events
	}
	return nil
}

// Apply forces one trigger against the current state, validating it against
// the transition table. Used for externally driven triggers; Step is the
// normal path.
func (in *Instance) Apply(trigger model.Section, res condition.Result, now time.Time) ([]model.TransitionEvent, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.applyLocked(trigger, res, now)
}

// applyLocked walks the edge for (state, trigger), then the auto chain,
// emitting one event per hop. Caller holds the mutex.
func (in *Instance) applyLocked(trigger model.Section, res condition.Result, now time.Time) ([]model.TransitionEvent, error) {
	e, ok := edges[in.state][trigger]
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s) from %s",
			ErrTransitionRejected, trigger, TriggerCode(trigger), in.state)
	}

	hops := append([]model.State{e.to}, e.chain...)
	events := make([]model.TransitionEvent, 0, len(hops))
	for _, to := range hops {
		events = append(events, model.TransitionEvent{
			StrategyID:      in.StrategyID,
			Symbol:          in.Symbol,
			From:            in.state,
			To:              to,
			Trigger:         trigger,
			Confidence:      res.Confidence,
			RuleEvaluations: res.Evaluations,
			TS:              now,
		})
		in.state = to
		in.enteredAt = now
	}
	return events, nil
}

// Reactivate starts a new activation cycle from EXITED back to MONITORING.
// Returns false if the instance is not in EXITED.
func (in *Instance) Reactivate(now time.Time) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state != model.StateExited {
		return false
	}
	in.state = model.StateMonitoring
	in.enteredAt = now
	return true
}
