// Package condition turns weighted indicator comparisons into boolean
// decisions with a confidence score in [0,1].
package condition

import (
	"log/slog"
	"math"

	"signal-systemv1/internal/model"
)

// DefaultPassThreshold applies to any section without an explicit one.
const DefaultPassThreshold = 0.6

// eqEpsilon is the tolerance for the == operator on floats.
const eqEpsilon = 1e-9

// Result is the outcome of evaluating one section against a snapshot.
type Result struct {
	Section     model.Section
	Passed      bool
	Confidence  float64
	Evaluations []model.RuleEvaluation
}

// Evaluator holds one strategy's rule sections and their pass thresholds.
// It is stateless across calls: the same snapshot always yields the same
// result.
type Evaluator struct {
	rules      map[model.Section][]model.ConditionRule
	thresholds map[model.Section]float64
	logger     *slog.Logger
}

// New creates an evaluator. Sections absent from thresholds use
// DefaultPassThreshold.
func New(rules map[model.Section][]model.ConditionRule, thresholds map[model.Section]float64, logger *slog.Logger) *Evaluator {
	return &Evaluator{rules: rules, thresholds: thresholds, logger: logger}
}

// Threshold returns the pass threshold for a section.
func (e *Evaluator) Threshold(section model.Section) float64 {
	if t, ok := e.thresholds[section]; ok {
		return t
	}
	return DefaultPassThreshold
}

// Evaluate scores one section against an indicator snapshot.
//
// Each rule's satisfaction (0 or 1) is multiplied by its weight; confidence
// is the weighted sum divided by the sum of weights. A rule whose indicator
// is unavailable is excluded from both numerator and denominator — by
// policy, not accident: the section must decide exactly as if the rule were
// absent. A section with no effective rules has confidence 0 and never
// passes.
func (e *Evaluator) Evaluate(section model.Section, snap model.Snapshot) Result {
	rules := e.rules[section]
	res := Result{Section: section, Evaluations: make([]model.RuleEvaluation, 0, len(rules))}

	var num, den float64
	for _, r := range rules {
		ev := model.RuleEvaluation{
			VariantID: r.VariantID,
			Op:        r.Op,
			Threshold: r.Threshold,
			Weight:    r.Weight,
		}
		val, ok := snap[r.VariantID]
		if !ok || val.Unavailable {
			ev.Excluded = true
			res.Evaluations = append(res.Evaluations, ev)
			continue
		}
		ev.Value = val.Value
		ev.Satisfied = compare(val.Value, r.Op, r.Threshold)
		res.Evaluations = append(res.Evaluations, ev)

		den += r.Weight
		if ev.Satisfied {
			num += r.Weight
		}
	}

	if den > 0 {
		res.Confidence = num / den
	}
	res.Passed = den > 0 && res.Confidence >= e.Threshold(section)
	return res
}

func compare(value float64, op model.Op, threshold float64) bool {
	switch op {
	case model.OpGT:
		return value > threshold
	case model.OpLT:
		return value < threshold
	case model.OpGE:
		return value >= threshold
	case model.OpLE:
		return value <= threshold
	case model.OpEQ:
		return math.Abs(value-threshold) <= eqEpsilon
	}
	return false
}
