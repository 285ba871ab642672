// Package adaptive hosts the per-tick decision orchestrator. One Engine
// instance exists per run session; its state (readiness baseline, fueling
// engine, rolling window, split tracking) is serialized behind a mutex so
// the session executor and baseline updates never interleave mid-decision.
package adaptive

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"stride/engine/internal/fueling"
	"stride/engine/internal/readiness"
	"stride/engine/models"
)

// Tunables are the calibration constants the decision rules key on. A
// snapshot is swapped atomically by the config watcher; changes take effect
// on the next tick.
type Tunables struct {
	PaceVarianceRatio float64 // relative deviation from moving pace
	DriftSlopeAlert   float64 // per-minute HR/pace slope
	HighHRZone        int     // zone at or above which high_heart_rate fires
	DriftMinZone      int     // zone at or above which cardiac_drift fires
}

// DefaultTunables returns the shipped calibration constants.
func DefaultTunables() Tunables {
	return Tunables{
		PaceVarianceRatio: 0.05,
		DriftSlopeAlert:   0.015,
		HighHRZone:        4,
		DriftMinZone:      3,
	}
}

func (t Tunables) normalize() Tunables {
	if t.PaceVarianceRatio <= 0 {
		t.PaceVarianceRatio = 0.05
	}
	if t.DriftSlopeAlert <= 0 {
		t.DriftSlopeAlert = 0.015
	}
	if t.HighHRZone <= 0 {
		t.HighHRZone = 4
	}
	if t.DriftMinZone <= 0 {
		t.DriftMinZone = 3
	}
	return t
}

// Engine fuses readiness, fueling, drift, and kinematics into one Decision
// per tick.
type Engine struct {
	mu            sync.Mutex
	baseline      models.ReadinessBaseline
	fuel          *fueling.Engine
	window        metricsWindow
	lastSplitMile int
	lastIngest    time.Time
	tunables      Tunables
}

// NewEngine builds an engine for one run. weightKg sizes the glycogen
// reserve; thresholds and tunables default when zero-valued.
func NewEngine(baseline models.ReadinessBaseline, weightKg float64, th fueling.Thresholds, tun Tunables) *Engine {
	return &Engine{
		baseline: baseline,
		fuel:     fueling.NewEngine(weightKg, th),
		tunables: tun.normalize(),
	}
}

// UpdateBaseline replaces the readiness input wholesale. Effective on the
// next ingest.
func (e *Engine) UpdateBaseline(b models.ReadinessBaseline) {
	e.mu.Lock()
	e.baseline = b
	e.mu.Unlock()
}

// SetTunables swaps the calibration constants. Effective on the next ingest.
func (e *Engine) SetTunables(t Tunables) {
	e.mu.Lock()
	e.tunables = t.normalize()
	e.mu.Unlock()
}

// LogGel forwards an intake event to the fueling engine.
func (e *Engine) LogGel(grams float64) models.FuelingStatus {
	return e.fuel.LogGel(grams)
}

// FuelingStatus reads the current reserve without mutating it.
func (e *Engine) FuelingStatus() models.FuelingStatus {
	return e.fuel.Status()
}

// Ingest runs the per-tick decision path: window append, readiness
// evaluation, fueling depletion, drift regression, and alert classification.
// The context participates only in cancellation between ticks; the body runs
// to completion once entered.
func (e *Engine) Ingest(ctx context.Context, m models.LiveRunMetrics) (models.Decision, error) {
	if err := ctx.Err(); err != nil {
		return models.Decision{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.window.append(m)
	tun := e.tunables

	res := readiness.Evaluate(e.baseline)

	var fuel models.FuelingStatus
	if m.KcalPerMin != nil {
		elapsed := time.Duration(0)
		if !e.lastIngest.IsZero() && m.Timestamp.After(e.lastIngest) {
			elapsed = m.Timestamp.Sub(e.lastIngest)
		}
		zone := 1
		if m.HRZone != nil {
			zone = *m.HRZone
		}
		fuel = e.fuel.Ingest(*m.KcalPerMin, zone, elapsed)
	} else {
		fuel = e.fuel.Status()
	}
	e.lastIngest = m.Timestamp

	slope := e.window.driftSlope()

	d := models.Decision{
		Timestamp:             m.Timestamp,
		FatigueCoefficient:    res.FatigueCoefficient,
		PaceAdjustmentPercent: res.PaceAdjustmentPercent,
		Fueling:               fuel,
		DriftSlopePerMin:      slope,
	}
	d.Alerts = e.classifyAlerts(m, fuel, slope, tun)
	return d, nil
}

// classifyAlerts builds the ordered alert list: fueling first, then heart
// rate, drift, pace variance, and finally mile splits.
func (e *Engine) classifyAlerts(m models.LiveRunMetrics, fuel models.FuelingStatus, slope float64, tun Tunables) []models.Alert {
	var alerts []models.Alert

	switch fuel.Severity {
	case models.FuelCritical:
		alerts = append(alerts, models.Alert{Kind: models.AlertFuelCritical, Detail: fmt.Sprintf("%.0fg remaining", fuel.RemainingGrams)})
	case models.FuelWarning:
		alerts = append(alerts, models.Alert{Kind: models.AlertFuelWarning, Detail: fmt.Sprintf("%.0fg remaining", fuel.RemainingGrams)})
	}

	zone := 0
	if m.HRZone != nil {
		zone = *m.HRZone
	}
	pace := 0.0
	if m.PaceSecPerMile != nil {
		pace = *m.PaceSecPerMile
	}
	if zone >= tun.HighHRZone && pace > 0 {
		alerts = append(alerts, models.Alert{Kind: models.AlertHighHeartRate, Detail: fmt.Sprintf("zone %d", zone)})
	}
	if slope > tun.DriftSlopeAlert && zone >= tun.DriftMinZone {
		alerts = append(alerts, models.Alert{Kind: models.AlertCardiacDrift, Detail: fmt.Sprintf("slope %.4f/min", slope)})
	}
	if moving := e.window.movingPace(); moving > 0 && pace > 0 {
		if math.Abs(pace-moving)/moving >= tun.PaceVarianceRatio {
			alerts = append(alerts, models.Alert{Kind: models.AlertPaceVariance, Detail: fmt.Sprintf("current %.0fs/mi vs moving %.0fs/mi", pace, moving)})
		}
	}
	if mile := int(math.Floor(m.DistanceMiles)); mile > e.lastSplitMile {
		e.lastSplitMile = mile
		alerts = append(alerts, models.Alert{Kind: models.AlertSplit, Detail: fmt.Sprintf("mile %d", mile)})
	}
	return alerts
}

// WindowLen reports the rolling window depth (diagnostics).
func (e *Engine) WindowLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.window.len()
}
