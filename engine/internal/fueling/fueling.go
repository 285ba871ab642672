// Package fueling maintains the simulated glycogen reserve. The engine owns
// one instance per run; all methods are serialized behind a mutex so the
// adaptive executor and external intake events never race on the scalar.
package fueling

import (
	"sync"
	"time"

	"stride/engine/models"
)

const (
	// ReserveFloor and ReserveCeiling bound the reserve in grams.
	ReserveFloor   = 0.0
	ReserveCeiling = 500.0

	startingReserveMin    = 300.0
	startingReserveMax    = 500.0
	gramsPerKgBodyWeight  = 6.0
	kcalPerGramCarb       = 4.0
	DefaultGelGrams       = 25.0
	criticalThresholdGram = 20.0
	warningThresholdGram  = 35.0
)

// Thresholds are the severity cut lines. The defaults mirror the shipped
// constants; the config layer may override them at engine construction.
type Thresholds struct {
	WarningGrams  float64
	CriticalGrams float64
}

// DefaultThresholds returns the shipped severity cut lines.
func DefaultThresholds() Thresholds {
	return Thresholds{WarningGrams: warningThresholdGram, CriticalGrams: criticalThresholdGram}
}

// Engine depletes the reserve from intensity-weighted calorie burn and
// accepts intake events.
type Engine struct {
	mu         sync.Mutex
	remaining  float64
	thresholds Thresholds
}

// NewEngine sizes the starting reserve from body weight:
// clamp(weight_kg * 6.0, 300, 500) grams.
func NewEngine(weightKg float64, th Thresholds) *Engine {
	if th.WarningGrams <= 0 {
		th.WarningGrams = warningThresholdGram
	}
	if th.CriticalGrams <= 0 {
		th.CriticalGrams = criticalThresholdGram
	}
	start := weightKg * gramsPerKgBodyWeight
	if start < startingReserveMin {
		start = startingReserveMin
	}
	if start > startingReserveMax {
		start = startingReserveMax
	}
	return &Engine{remaining: start, thresholds: th}
}

// carbFraction maps an HR zone onto the fraction of burned calories drawn
// from carbohydrate.
func carbFraction(zone int) float64 {
	switch {
	case zone <= 1:
		return 0.40
	case zone == 2:
		return 0.50
	case zone == 3:
		return 0.60
	case zone == 4:
		return 0.75
	default:
		return 0.85
	}
}

// Ingest burns (kcal_per_min * carb_fraction(zone)) / 4.0 grams per minute,
// prorated over elapsed, and floors at zero. The caller owns the clock; a
// nonpositive elapsed burns nothing.
func (e *Engine) Ingest(kcalPerMin float64, zone int, elapsed time.Duration) models.FuelingStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	if elapsed > 0 && kcalPerMin > 0 {
		gramsPerMin := (kcalPerMin * carbFraction(zone)) / kcalPerGramCarb
		e.remaining -= gramsPerMin * elapsed.Minutes()
		if e.remaining < ReserveFloor {
			e.remaining = ReserveFloor
		}
	}
	return e.statusLocked()
}

// LogGel adds an intake of up to grams (default 25 when grams <= 0), capped
// at the reserve ceiling.
func (e *Engine) LogGel(grams float64) models.FuelingStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	if grams <= 0 {
		grams = DefaultGelGrams
	}
	e.remaining += grams
	if e.remaining > ReserveCeiling {
		e.remaining = ReserveCeiling
	}
	return e.statusLocked()
}

// Status returns the current reserve and severity without mutating it.
func (e *Engine) Status() models.FuelingStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() models.FuelingStatus {
	sev := models.FuelNominal
	switch {
	case e.remaining <= e.thresholds.CriticalGrams:
		sev = models.FuelCritical
	case e.remaining <= e.thresholds.WarningGrams:
		sev = models.FuelWarning
	}
	return models.FuelingStatus{RemainingGrams: e.remaining, Severity: sev}
}
