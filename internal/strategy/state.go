// Package strategy runs one lifecycle state machine per (strategy, symbol)
// pair. Transitions are driven exclusively by condition evaluator output for
// the section bound to the current state; an invalid trigger is rejected and
// logged, never silently coerced.
package strategy

import (
	"errors"

	"signal-systemv1/internal/model"
)

// ErrTransitionRejected means the trigger does not match any edge from the
// instance's current state. The instance is left unchanged.
var ErrTransitionRejected = errors.New("strategy: transition rejected")

// edge is one legal transition plus the auto-followed tail states
// (e.g. SIGNAL_CANCELLED immediately falls back to MONITORING).
type edge struct {
	to    model.State
	chain []model.State
}

// edges is the fixed transition table. Anything absent here is invalid.
var edges = map[model.State]map[model.Section]edge{
	model.StateMonitoring: {
		model.SectionSignalDetect: {to: model.StateSignalDetected},
	},
	model.StateSignalDetected: {
		model.SectionCancel: {to: model.StateSignalCancelled, chain: []model.State{model.StateMonitoring}},
		model.SectionEntry:  {to: model.StateEntryEval, chain: []model.State{model.StatePositionActive}},
	},
	model.StatePositionActive: {
		model.SectionEmergencyExit: {to: model.StateEmergencyExit, chain: []model.State{model.StateExited}},
		model.SectionClose:         {to: model.StateCloseEval, chain: []model.State{model.StateExited}},
	},
}

// evalOrder fixes the section evaluation order per state, resolving the
// precedence between sections that could pass simultaneously: emergency-exit
// pre-empts close evaluation, cancel pre-empts entry.
var evalOrder = map[model.State][]model.Section{
	model.StateMonitoring:     {model.SectionSignalDetect},
	model.StateSignalDetected: {model.SectionCancel, model.SectionEntry},
	model.StatePositionActive: {model.SectionEmergencyExit, model.SectionClose},
}

// TriggerCode returns the domain shorthand for a section's transition
// (S1/O1/Z1/ZE1/E1), used in log lines.
func TriggerCode(s model.Section) string {
	switch s {
	case model.SectionSignalDetect:
		return "S1"
	case model.SectionCancel:
		return "O1"
	case model.SectionEntry:
		return "Z1"
	case model.SectionClose:
		return "ZE1"
	case model.SectionEmergencyExit:
		return "E1"
	}
	return string(s)
}
