// Package biomech derives gait metrics from batched accelerometer samples.
// Analyze is a pure batch function safe to call from any goroutine.
package biomech

import (
	"math"
	"time"

	"stride/engine/models"
)

const (
	oscillationScaleCM  = 3.0
	balanceScalePercent = 5.0
	balanceFloor        = 40.0
	balanceCeiling      = 60.0

	contactMinMS = 50.0
	contactMaxMS = 500.0

	powerScale   = 70.0
	powerCeiling = 600.0
	gravity      = 9.81
	powerLever   = 0.1
)

// Analyze converts a motion batch into oscillation, balance, ground-contact
// time, and running-power estimates. Batches with fewer than two samples or a
// nonpositive time span produce zero metrics.
func Analyze(samples []models.MotionSample) models.BiomechanicalMetrics {
	if len(samples) < 2 {
		return models.BiomechanicalMetrics{}
	}
	span := samples[len(samples)-1].Timestamp.Sub(samples[0].Timestamp)
	if span <= 0 {
		return models.BiomechanicalMetrics{}
	}

	var sumVert, sumAbsVert, sumSqVert, sumLat float64
	for _, s := range samples {
		sumVert += s.VerticalAccel
		sumAbsVert += math.Abs(s.VerticalAccel)
		sumSqVert += s.VerticalAccel * s.VerticalAccel
		sumLat += s.LateralAccel
	}
	n := float64(len(samples))
	meanVert := sumVert / n
	meanAbsVert := sumAbsVert / n
	rmsVert := math.Sqrt(sumSqVert / n)
	meanLat := sumLat / n

	osc := meanVert * oscillationScaleCM
	if osc < 0 {
		osc = 0
	}

	balance := 50.0 + meanLat*balanceScalePercent
	if balance < balanceFloor {
		balance = balanceFloor
	}
	if balance > balanceCeiling {
		balance = balanceCeiling
	}

	power := powerScale * rmsVert * (meanAbsVert * gravity * powerLever)
	if power < 0 {
		power = 0
	}
	if power > powerCeiling {
		power = powerCeiling
	}

	return models.BiomechanicalMetrics{
		VerticalOscillationCM: osc,
		ContactBalancePercent: balance,
		GroundContactTimeMS:   contactTimeMS(samples),
		RunningPowerWatts:     power,
	}
}

// contactTimeMS walks zero-crossings of vertical acceleration: a
// positive-to-negative crossing starts a contact, negative-to-positive ends
// it. Intervals outside [50, 500] ms are discarded as sensor noise.
func contactTimeMS(samples []models.MotionSample) float64 {
	var (
		contactStart time.Time
		inContact    bool
		total        float64
		count        int
	)
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		switch {
		case prev.VerticalAccel > 0 && cur.VerticalAccel <= 0:
			contactStart = cur.Timestamp
			inContact = true
		case prev.VerticalAccel <= 0 && cur.VerticalAccel > 0:
			if !inContact {
				continue
			}
			inContact = false
			ms := float64(cur.Timestamp.Sub(contactStart).Microseconds()) / 1000.0
			if ms < contactMinMS || ms > contactMaxMS {
				continue
			}
			total += ms
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}
