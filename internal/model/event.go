package model

import (
	"encoding/json"
	"time"
)

// DataKind identifies the kind of market data a sample carries.
type DataKind string

const (
	// KindTick is a last-traded price/quantity tick.
	KindTick DataKind = "tick"
	// KindBook is a top-of-book snapshot (best bid/ask with sizes).
	KindBook DataKind = "book"
	// KindDeal is an executed trade record with an aggressor side.
	KindDeal DataKind = "deal"
)

// Valid reports whether k is one of the known data kinds.
func (k DataKind) Valid() bool {
	switch k {
	case KindTick, KindBook, KindDeal:
		return true
	}
	return false
}

// MarketEvent is one market data event pushed by an ingestion source.
// A single struct covers all three kinds; fields that don't apply to a
// kind are left zero (e.g. Bid/Ask on a tick).
type MarketEvent struct {
	Symbol string    `json:"symbol"`
	Kind   DataKind  `json:"kind"`
	TS     time.Time `json:"ts"` // UTC

	Price float64 `json:"price,omitempty"` // last traded / deal price
	Qty   float64 `json:"qty,omitempty"`   // traded quantity

	Bid    float64 `json:"bid,omitempty"`
	BidQty float64 `json:"bid_qty,omitempty"`
	Ask    float64 `json:"ask,omitempty"`
	AskQty float64 `json:"ask_qty,omitempty"`

	Side string `json:"side,omitempty"` // "buy"/"sell" for deals
}

// JSON returns the JSON-encoded event (ignoring errors for hot-path usage).
func (e *MarketEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Sample converts the event into its ring-buffer stored form.
func (e *MarketEvent) Sample() Sample {
	return Sample{
		TS:     e.TS,
		Price:  e.Price,
		Qty:    e.Qty,
		Bid:    e.Bid,
		BidQty: e.BidQty,
		Ask:    e.Ask,
		AskQty: e.AskQty,
	}
}

// Sample is one timestamped observation stored in a ring buffer.
type Sample struct {
	TS     time.Time `json:"ts"`
	Price  float64   `json:"price"`
	Qty    float64   `json:"qty"`
	Bid    float64   `json:"bid,omitempty"`
	BidQty float64   `json:"bid_qty,omitempty"`
	Ask    float64   `json:"ask,omitempty"`
	AskQty float64   `json:"ask_qty,omitempty"`
}
