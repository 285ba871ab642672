package engine

import (
	"log/slog"
	"time"

	"stride/engine/models"
)

// Calibration bundles the hot-reloadable decision constants. Zero fields
// fall back to the shipped defaults.
type Calibration struct {
	PaceVarianceRatio float64
	DriftSlopeAlert   float64
	FuelWarningGrams  float64
	FuelCriticalGrams float64
}

// DefaultCalibration returns the shipped constants.
func DefaultCalibration() Calibration {
	return Calibration{
		PaceVarianceRatio: 0.05,
		DriftSlopeAlert:   0.015,
		FuelWarningGrams:  35,
		FuelCriticalGrams: 20,
	}
}

// Config is the public configuration surface for the Engine facade. It
// narrows the underlying component configs; collaborators are injected via
// Deps.
type Config struct {
	// AthleteWeightKg sizes the starting glycogen reserve.
	AthleteWeightKg float64

	// DefaultBaseline seeds readiness when a run starts; the style bias is
	// applied on top of it.
	DefaultBaseline models.ReadinessBaseline

	// StorePath locates the session database. ":memory:" for tests.
	StorePath string

	// TickInterval is the decision cadence (1 s in production; tests shrink it).
	TickInterval time.Duration

	// MotionBufferCap bounds the raw motion ring; overflow drops oldest.
	MotionBufferCap int

	// FlushThreshold is the buffered-entry count that triggers a store flush.
	FlushThreshold int

	// PeerThrottle spaces non-forced direct peer sends.
	PeerThrottle time.Duration

	// DisplayInterval spaces non-forced display publishes.
	DisplayInterval time.Duration

	// CoachCooldown spaces spoken prompts.
	CoachCooldown time.Duration

	// ThermalPollInterval spaces thermal class observations.
	ThermalPollInterval time.Duration

	// Calibration carries the decision constants; replaceable at runtime via
	// UpdateCalibration.
	Calibration Calibration

	// MetricsEnabled toggles the metrics provider wiring.
	MetricsEnabled bool

	// MetricsBackend selects the implementation when MetricsEnabled:
	//   "prom" (default), "otel", "noop".
	MetricsBackend string
}

// Defaults returns a Config with production values.
func Defaults() Config {
	return Config{
		AthleteWeightKg:     70,
		DefaultBaseline:     models.ReadinessBaseline{AcuteLoad: 100, ChronicLoad: 100},
		StorePath:           "stride.db",
		TickInterval:        time.Second,
		MotionBufferCap:     800,
		FlushThreshold:      60,
		PeerThrottle:        5 * time.Second,
		DisplayInterval:     15 * time.Second,
		CoachCooldown:       45 * time.Second,
		ThermalPollInterval: 5 * time.Second,
		Calibration:         DefaultCalibration(),
		MetricsEnabled:      false,
		MetricsBackend:      "prom",
	}
}

func (c *Config) normalize() {
	if c.AthleteWeightKg <= 0 {
		c.AthleteWeightKg = 70
	}
	if c.StorePath == "" {
		c.StorePath = "stride.db"
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.MotionBufferCap <= 0 {
		c.MotionBufferCap = 800
	}
	if c.FlushThreshold <= 0 {
		c.FlushThreshold = 60
	}
	if c.PeerThrottle <= 0 {
		c.PeerThrottle = 5 * time.Second
	}
	if c.DisplayInterval <= 0 {
		c.DisplayInterval = 15 * time.Second
	}
	if c.CoachCooldown <= 0 {
		c.CoachCooldown = 45 * time.Second
	}
	if c.ThermalPollInterval <= 0 {
		c.ThermalPollInterval = 5 * time.Second
	}
}

// Deps are the collaborator instances wired at construction. The store
// handle and peer transport are the only legitimate process-wide instances;
// everything else is per-engine.
type Deps struct {
	Source    TelemetrySource
	Transport PeerTransport
	Coach     CoachingSink
	Display   DisplayPublisher
	Intents   IntentRelay
	Thermal   ThermalSource
	Logger    *slog.Logger
}
