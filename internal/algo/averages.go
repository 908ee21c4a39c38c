package algo

import (
	"time"

	"signal-systemv1/internal/model"
)

// computeTWPA is the time-weighted price average: each price is weighted by
// the duration it remained the prevailing price inside the window. The last
// sample's price is held from its timestamp until the window's end
// (now - t2). Needs at least two samples spanning a positive duration.
func computeTWPA(win []model.Sample, p model.Params, now time.Time) (float64, error) {
	if len(win) < 2 {
		return 0, ErrUnavailable
	}
	end := now.Add(-time.Duration(p.T2() * float64(time.Second)))

	var weighted, total float64
	for i, s := range win {
		var held float64
		if i < len(win)-1 {
			held = win[i+1].TS.Sub(s.TS).Seconds()
		} else {
			held = end.Sub(s.TS).Seconds()
		}
		if held <= 0 {
			continue
		}
		weighted += s.Price * held
		total += held
	}
	if total <= 0 {
		return 0, ErrUnavailable
	}
	return weighted / total, nil
}

// computeVWPA is the volume-weighted price average over deal records.
func computeVWPA(win []model.Sample, _ model.Params, _ time.Time) (float64, error) {
	var weighted, volume float64
	for _, s := range win {
		weighted += s.Price * s.Qty
		volume += s.Qty
	}
	if volume <= 0 {
		return 0, ErrUnavailable
	}
	return weighted / volume, nil
}

// computeVTWPA weights each price by traded volume multiplied by holding
// duration, blending TWPA and VWPA.
func computeVTWPA(win []model.Sample, p model.Params, now time.Time) (float64, error) {
	if len(win) < 2 {
		return 0, ErrUnavailable
	}
	end := now.Add(-time.Duration(p.T2() * float64(time.Second)))

	var weighted, total float64
	for i, s := range win {
		var held float64
		if i < len(win)-1 {
			held = win[i+1].TS.Sub(s.TS).Seconds()
		} else {
			held = end.Sub(s.TS).Seconds()
		}
		if held <= 0 || s.Qty <= 0 {
			continue
		}
		w := s.Qty * held
		weighted += s.Price * w
		total += w
	}
	if total <= 0 {
		return 0, ErrUnavailable
	}
	return weighted / total, nil
}
