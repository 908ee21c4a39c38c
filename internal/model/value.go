package model

import (
	"encoding/json"
	"time"
)

// IndicatorValue is the latest computed value for one variant.
// Unavailable=true means the window held too few samples (or the
// computation timed out); Value must be ignored in that case and is
// never reported as zero downstream.
type IndicatorValue struct {
	VariantID   string    `json:"variant_id"`
	Symbol      string    `json:"symbol"`
	Value       float64   `json:"value"`
	TS          time.Time `json:"ts"`
	Unavailable bool      `json:"unavailable,omitempty"`
}

// JSON returns the JSON-encoded value.
func (v *IndicatorValue) JSON() []byte {
	b, _ := json.Marshal(v)
	return b
}

// Snapshot is a point-in-time view of every cached indicator value for one
// symbol, keyed by variant id. Handed to the condition evaluator; the map
// is a copy and safe to read without locks.
type Snapshot map[string]IndicatorValue
