package model

import (
	"encoding/json"
	"time"
)

// State is one stage of the per-(strategy,symbol) signal lifecycle.
type State string

const (
	StateMonitoring      State = "MONITORING"
	StateSignalDetected  State = "SIGNAL_DETECTED"
	StateSignalCancelled State = "SIGNAL_CANCELLED"
	StateEntryEval       State = "ENTRY_EVALUATION"
	StatePositionActive  State = "POSITION_ACTIVE"
	StateCloseEval       State = "CLOSE_ORDER_EVALUATION"
	StateEmergencyExit   State = "EMERGENCY_EXIT"
	StateExited          State = "EXITED"
)

// Terminal reports whether the state ends an activation cycle.
func (s State) Terminal() bool { return s == StateExited }

// TransitionEvent describes one state machine transition. It is published to
// the event bus and never stored by this core.
type TransitionEvent struct {
	StrategyID      string           `json:"strategy_id"`
	Symbol          string           `json:"symbol"`
	From            State            `json:"from"`
	To              State            `json:"to"`
	Trigger         Section          `json:"trigger"`
	Confidence      float64          `json:"confidence"`
	RuleEvaluations []RuleEvaluation `json:"rule_evaluations,omitempty"`
	TS              time.Time        `json:"ts"`
}

// JSON returns the JSON-encoded transition event.
func (t *TransitionEvent) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}
