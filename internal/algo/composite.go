package algo

import (
	"time"

	"signal-systemv1/internal/model"
)

// Second-order aggregations reduce over a base variant's value history, not
// over raw buffer samples. The engine synthesizes the window from the base
// variant's maintained history (value in Price, computed-at in TS) and hands
// it over here, so these stay uniform ComputeFuncs.

// computeWindowMax is the running maximum of the base variant's values
// inside the outer window.
func computeWindowMax(win []model.Sample, _ model.Params, _ time.Time) (float64, error) {
	if len(win) == 0 {
		return 0, ErrUnavailable
	}
	max := win[0].Price
	for _, s := range win[1:] {
		if s.Price > max {
			max = s.Price
		}
	}
	return max, nil
}

// computeWindowMin is the running minimum counterpart of computeWindowMax.
func computeWindowMin(win []model.Sample, _ model.Params, _ time.Time) (float64, error) {
	if len(win) == 0 {
		return 0, ErrUnavailable
	}
	min := win[0].Price
	for _, s := range win[1:] {
		if s.Price < min {
			min = s.Price
		}
	}
	return min, nil
}
