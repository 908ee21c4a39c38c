package model

// Section names one rule group of a strategy. Each section produces one
// confidence score and gates one lifecycle transition.
type Section string

const (
	SectionSignalDetect  Section = "signal_detect"  // S1
	SectionCancel        Section = "cancel"         // O1
	SectionEntry         Section = "entry"          // Z1
	SectionClose         Section = "close"          // ZE1
	SectionEmergencyExit Section = "emergency_exit" // E1
)

// Sections lists every rule section.
func Sections() []Section {
	return []Section{SectionSignalDetect, SectionCancel, SectionEntry, SectionClose, SectionEmergencyExit}
}

// Op is a rule comparison operator.
type Op string

const (
	OpGT Op = ">"
	OpLT Op = "<"
	OpGE Op = ">="
	OpLE Op = "<="
	OpEQ Op = "=="
)

// Valid reports whether the operator is one of the known comparisons.
func (o Op) Valid() bool {
	switch o {
	case OpGT, OpLT, OpGE, OpLE, OpEQ:
		return true
	}
	return false
}

// ConditionRule compares one variant's current value against a threshold.
// Weight scales the rule's contribution to the section confidence.
type ConditionRule struct {
	VariantID string  `json:"variant_id"`
	Op        Op      `json:"op"`
	Threshold float64 `json:"threshold"`
	Weight    float64 `json:"weight"`
}

// RuleEvaluation records how one rule scored during a section evaluation.
// Excluded=true means the referenced indicator was unavailable and the rule
// contributed to neither numerator nor denominator.
type RuleEvaluation struct {
	VariantID string  `json:"variant_id"`
	Op        Op      `json:"op"`
	Threshold float64 `json:"threshold"`
	Weight    float64 `json:"weight"`
	Value     float64 `json:"value"`
	Satisfied bool    `json:"satisfied"`
	Excluded  bool    `json:"excluded,omitempty"`
}
