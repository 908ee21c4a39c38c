package model

import (
	"fmt"
	"time"
)

// BaseType is the closed set of base indicator algorithms. Anything outside
// this set is rejected at variant creation, not at compute time.
type BaseType string

const (
	// TWPA is a time-weighted price average: each price is weighted by the
	// duration it was the prevailing price within the window.
	TWPA BaseType = "TWPA"
	// VWPA is a volume-weighted price average over the window.
	VWPA BaseType = "VWPA"
	// VTWPA weights each price by volume multiplied by holding duration.
	VTWPA BaseType = "VTWPA"
	// Velocity is the price change per second across the window.
	Velocity BaseType = "VELOCITY"
	// VolumeSurge is the ratio of the recent window's volume rate to a
	// longer reference window's volume rate.
	VolumeSurge BaseType = "VOLUME_SURGE"
	// BookImbalance is (bidQty-askQty)/(bidQty+askQty) averaged over
	// top-of-book snapshots in the window.
	BookImbalance BaseType = "BOOK_IMBALANCE"
	// WindowMax is a second-order aggregation: the running maximum of a
	// base variant's computed values over an outer window.
	WindowMax BaseType = "WINDOW_MAX"
	// WindowMin is the running minimum counterpart of WindowMax.
	WindowMin BaseType = "WINDOW_MIN"
)

// BaseTypes lists every known base type, in registration order.
func BaseTypes() []BaseType {
	return []BaseType{TWPA, VWPA, VTWPA, Velocity, VolumeSurge, BookImbalance, WindowMax, WindowMin}
}

// SecondOrder reports whether the type reduces over a base variant's value
// history instead of raw buffer samples.
func (b BaseType) SecondOrder() bool {
	return b == WindowMax || b == WindowMin
}

// DataKindFor returns the ring-buffer data kind the type reads from.
func (b BaseType) DataKindFor() DataKind {
	switch b {
	case BookImbalance:
		return KindBook
	case VWPA, VTWPA, VolumeSurge:
		return KindDeal
	default:
		return KindTick
	}
}

// Params holds the numeric parameters of a variant. Window bounds t1/t2 are
// in seconds-ago (t1 > t2 >= 0); period-style params are sample counts.
type Params map[string]float64

// Well-known parameter keys.
const (
	ParamT1     = "t1"      // outer window bound, seconds ago
	ParamT2     = "t2"      // inner window bound, seconds ago
	ParamRefT1  = "ref_t1"  // reference window outer bound (volume surge)
	ParamPeriod = "period"  // sample count, converted to time via cadence
)

// T1 returns the t1 bound, 0 if unset.
func (p Params) T1() float64 { return p[ParamT1] }

// T2 returns the t2 bound, 0 if unset.
func (p Params) T2() float64 { return p[ParamT2] }

// Lookback returns the farthest seconds-ago bound the variant needs,
// covering both the main and any reference window.
func (p Params) Lookback() float64 {
	lb := p[ParamT1]
	if ref := p[ParamRefT1]; ref > lb {
		lb = ref
	}
	return lb
}

// Variant is a named, parameterized instance of a base indicator type bound
// to one symbol. It owns no runtime state: buffers and computed values are
// keyed off it, never embedded in it.
type Variant struct {
	ID        string     `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	BaseType  BaseType   `json:"base_type" db:"base_type"`
	Symbol    string     `json:"symbol" db:"symbol"`
	Params    Params     `json:"params" db:"-"`
	Owner     string     `json:"owner,omitempty" db:"owner"`
	BaseID    string     `json:"base_id,omitempty" db:"base_id"` // referenced variant for second-order types
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Deleted reports whether the variant has been soft-deleted.
func (v *Variant) Deleted() bool { return v.DeletedAt != nil }

// String implements fmt.Stringer for log lines.
func (v *Variant) String() string {
	return fmt.Sprintf("%s(%s@%s)", v.Name, v.BaseType, v.Symbol)
}
