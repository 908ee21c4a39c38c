package algo

import (
	"time"

	"signal-systemv1/internal/model"
)

// computeVelocity is the price change per second across the window:
// (newest - oldest) / elapsed seconds. Positive means the price is rising.
func computeVelocity(win []model.Sample, _ model.Params, _ time.Time) (float64, error) {
	if len(win) < 2 {
		return 0, ErrUnavailable
	}
	first, last := win[0], win[len(win)-1]
	elapsed := last.TS.Sub(first.TS).Seconds()
	if elapsed <= 0 {
		return 0, ErrUnavailable
	}
	return (last.Price - first.Price) / elapsed, nil
}

// computeVolumeSurge compares the recent window's volume rate against a
// longer reference window: rate(now-t1, now-t2) / rate(now-ref_t1, now-t1).
// The engine hands over the full [now-ref_t1, now-t2] span; the split happens
// here from the parameters. A value above 1 means volume is accelerating.
func computeVolumeSurge(win []model.Sample, p model.Params, now time.Time) (float64, error) {
	t1, t2, ref := p.T1(), p.T2(), p[model.ParamRefT1]
	if ref <= t1 || t1 <= t2 {
		return 0, ErrUnavailable
	}
	recentFrom := now.Add(-time.Duration(t1 * float64(time.Second)))

	var recentVol, refVol float64
	for _, s := range win {
		if s.TS.Before(recentFrom) {
			refVol += s.Qty
		} else {
			recentVol += s.Qty
		}
	}
	refRate := refVol / (ref - t1)
	if refRate <= 0 {
		return 0, ErrUnavailable
	}
	recentRate := recentVol / (t1 - t2)
	return recentRate / refRate, nil
}

// computeBookImbalance averages (bidQty-askQty)/(bidQty+askQty) over
// top-of-book snapshots. Result is in [-1, 1]; positive means bid pressure.
func computeBookImbalance(win []model.Sample, _ model.Params, _ time.Time) (float64, error) {
	var sum float64
	n := 0
	for _, s := range win {
		depth := s.BidQty + s.AskQty
		if depth <= 0 {
			continue
		}
		sum += (s.BidQty - s.AskQty) / depth
		n++
	}
	if n == 0 {
		return 0, ErrUnavailable
	}
	return sum / float64(n), nil
}
