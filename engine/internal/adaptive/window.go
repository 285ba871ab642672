package adaptive

import (
	"time"

	"stride/engine/models"
)

const (
	windowCapacity  = 300
	paceWindowSize  = 30
	driftMinSamples = 15
)

// metricsWindow is the bounded rolling sample window behind drift and pace
// estimation. Owned exclusively by the adaptive executor; not safe for
// concurrent use on its own.
type metricsWindow struct {
	samples []models.LiveRunMetrics
}

func (w *metricsWindow) append(m models.LiveRunMetrics) {
	w.samples = append(w.samples, m)
	if len(w.samples) > windowCapacity {
		w.samples = w.samples[len(w.samples)-windowCapacity:]
	}
}

func (w *metricsWindow) len() int { return len(w.samples) }

// driftSlope fits ordinary least squares to (minutes since window start,
// HR/pace) over samples carrying both channels. Fewer than 15 usable points
// yields zero.
func (w *metricsWindow) driftSlope() float64 {
	var (
		xs, ys []float64
		origin time.Time
	)
	for _, s := range w.samples {
		if s.HeartRateBPM == nil || s.PaceSecPerMile == nil || *s.PaceSecPerMile <= 0 {
			continue
		}
		if origin.IsZero() {
			origin = s.Timestamp
		}
		xs = append(xs, s.Timestamp.Sub(origin).Minutes())
		ys = append(ys, *s.HeartRateBPM / *s.PaceSecPerMile)
	}
	if len(xs) < driftMinSamples {
		return 0
	}
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// movingPace is the arithmetic mean of the last 30 pace values, or zero when
// no pace samples exist.
func (w *metricsWindow) movingPace() float64 {
	var (
		sum   float64
		count int
	)
	for i := len(w.samples) - 1; i >= 0 && count < paceWindowSize; i-- {
		p := w.samples[i].PaceSecPerMile
		if p == nil || *p <= 0 {
			continue
		}
		sum += *p
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
