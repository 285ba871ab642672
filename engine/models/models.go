package models

import (
	"errors"
	"fmt"
	"time"
)

// LifecycleState is the coarse state of a run session. Transitions are
// total-ordered and monotonic except for the running/paused oscillation.
type LifecycleState string

const (
	LifecycleIdle      LifecycleState = "idle"
	LifecyclePreparing LifecycleState = "preparing"
	LifecycleRunning   LifecycleState = "running"
	LifecyclePaused    LifecycleState = "paused"
	LifecycleEnded     LifecycleState = "ended"
)

// Valid reports whether s is one of the enumerated lifecycle states.
func (s LifecycleState) Valid() bool {
	switch s {
	case LifecycleIdle, LifecyclePreparing, LifecycleRunning, LifecyclePaused, LifecycleEnded:
		return true
	}
	return false
}

// Active reports whether a session record must exist while in this state.
func (s LifecycleState) Active() bool {
	return s == LifecyclePreparing || s == LifecycleRunning || s == LifecyclePaused
}

// RunStyle biases the readiness baseline at session start.
type RunStyle string

const (
	StyleRecovery RunStyle = "recovery"
	StyleBase     RunStyle = "base"
	StyleLong     RunStyle = "long"
	StyleTempo    RunStyle = "tempo"
	StyleSpeed    RunStyle = "speed"
	StyleCross    RunStyle = "cross"
	StyleRest     RunStyle = "rest"
)

// AcuteLoadBias returns the multiplicative bias applied to the acute training
// load when a run of this style starts.
func (s RunStyle) AcuteLoadBias() float64 {
	switch s {
	case StyleRecovery:
		return 0.92
	case StyleLong:
		return 1.08
	case StyleTempo, StyleSpeed:
		return 1.16
	default: // base, cross, rest
		return 1.0
	}
}

// ReadinessBaseline is the training-load input to the readiness estimator.
// Immutable per run; replaced wholesale via Engine.UpdateBaseline.
type ReadinessBaseline struct {
	AcuteLoad       float64 `json:"acute_load" yaml:"acute_load"`
	ChronicLoad     float64 `json:"chronic_load" yaml:"chronic_load"`
	RestingHRDelta  float64 `json:"resting_hr_delta" yaml:"resting_hr_delta"`
	HRVDeltaPercent float64 `json:"hrv_delta_percent" yaml:"hrv_delta_percent"`
}

// LiveRunMetrics is one fused telemetry sample presented to the adaptive
// engine each tick. Optional channels are pointers; the engine degrades
// gracefully when they are absent.
type LiveRunMetrics struct {
	Timestamp      time.Time `json:"timestamp"`
	HeartRateBPM   *float64  `json:"heart_rate_bpm,omitempty"`
	PaceSecPerMile *float64  `json:"pace_sec_per_mile,omitempty"`
	DistanceMiles  float64   `json:"distance_miles"`
	CadenceSPM     *float64  `json:"cadence_spm,omitempty"`
	GradePercent   *float64  `json:"grade_percent,omitempty"`
	KcalPerMin     *float64  `json:"kcal_per_min,omitempty"`
	HRZone         *int      `json:"hr_zone,omitempty"` // 1..5
}

// SensorSample is one raw reading pushed by the telemetry source. Delivery
// may occur on any goroutine; the session manager marshals it onto its
// executor.
type SensorSample struct {
	Timestamp       time.Time `json:"timestamp"`
	HeartRateBPM    *float64  `json:"heart_rate_bpm,omitempty"`
	DistanceMiles   float64   `json:"distance_miles"`
	KcalPerMin      *float64  `json:"kcal_per_min,omitempty"`
	CadenceSPM      *float64  `json:"cadence_spm,omitempty"`
	GradePercent    *float64  `json:"grade_percent,omitempty"`
	HRZone          *int      `json:"hr_zone,omitempty"`
	TotalEnergyKcal *float64  `json:"total_energy_kcal,omitempty"`
}

// MotionSample is one raw accelerometer reading on the batched motion path.
type MotionSample struct {
	VerticalAccel float64   `json:"vertical_accel"`
	LateralAccel  float64   `json:"lateral_accel"`
	Timestamp     time.Time `json:"timestamp"`
}

// BiomechanicalMetrics is the derived gait summary for one motion batch.
type BiomechanicalMetrics struct {
	VerticalOscillationCM float64 `json:"vertical_oscillation_cm"`
	ContactBalancePercent float64 `json:"contact_balance_percent"`
	GroundContactTimeMS   float64 `json:"ground_contact_time_ms"`
	RunningPowerWatts     float64 `json:"running_power_watts"`
}

// FuelSeverity classifies the remaining glycogen reserve.
type FuelSeverity string

const (
	FuelNominal  FuelSeverity = "nominal"
	FuelWarning  FuelSeverity = "warning"
	FuelCritical FuelSeverity = "critical"
)

// FuelingStatus is the fueling engine's observable state.
type FuelingStatus struct {
	RemainingGrams float64      `json:"remaining_grams"`
	Severity       FuelSeverity `json:"severity"`
}

// AlertKind enumerates decision alerts.
type AlertKind string

const (
	AlertFuelWarning   AlertKind = "fuel_warning"
	AlertFuelCritical  AlertKind = "fuel_critical"
	AlertHighHeartRate AlertKind = "high_heart_rate"
	AlertCardiacDrift  AlertKind = "cardiac_drift"
	AlertPaceVariance  AlertKind = "pace_variance"
	AlertSplit         AlertKind = "split"
)

// Alert is one classified condition attached to a decision.
type Alert struct {
	Kind   AlertKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// Decision is the per-tick output of the adaptive engine.
type Decision struct {
	Timestamp             time.Time     `json:"timestamp"`
	FatigueCoefficient    float64       `json:"fatigue_coefficient"` // clamped to [0.4, 2.0]
	PaceAdjustmentPercent int           `json:"pace_adjustment_percent"`
	Fueling               FuelingStatus `json:"fueling"`
	DriftSlopePerMin      float64       `json:"drift_slope_per_min"`
	Alerts                []Alert       `json:"alerts,omitempty"`
}

// FirstAlert returns the highest-priority alert, or nil when none fired.
func (d Decision) FirstAlert() *Alert {
	if len(d.Alerts) == 0 {
		return nil
	}
	return &d.Alerts[0]
}

// TelemetrySnapshot is a timestamped projection of sample values used for
// both persistence buffering and display publication.
type TelemetrySnapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	DistanceMiles  float64   `json:"distance_miles"`
	HeartRateBPM   *float64  `json:"heart_rate_bpm,omitempty"`
	PaceSecPerMile *float64  `json:"pace_sec_per_mile,omitempty"`
	CadenceSPM     *float64  `json:"cadence_spm,omitempty"`
	GradePercent   *float64  `json:"grade_percent,omitempty"`
	FuelRemaining  *float64  `json:"fuel_remaining_grams,omitempty"`
}

// RunEventKind enumerates durable run events.
type RunEventKind string

const (
	EventStarted           RunEventKind = "started"
	EventPaused            RunEventKind = "paused"
	EventResumed           RunEventKind = "resumed"
	EventEnded             RunEventKind = "ended"
	EventFuelLogged        RunEventKind = "fuel_logged"
	EventLapMarked         RunEventKind = "lap_marked"
	EventAlertAcknowledged RunEventKind = "alert_acknowledged"
	EventPaceAdjustment    RunEventKind = "pace_adjustment"

	// EventMetricRecorded appears only on peer-rebuilt sessions, one per
	// inbound metric snapshot.
	EventMetricRecorded RunEventKind = "metric_snapshot"
)

// HapticKind enumerates coaching sink haptic cues.
type HapticKind string

const (
	HapticClick        HapticKind = "click"
	HapticNotification HapticKind = "notification"
	HapticRetry        HapticKind = "retry"
	HapticFailure      HapticKind = "failure"
	HapticSuccess      HapticKind = "success"
)

// WidgetState is the complication/widget projection published to the display.
type WidgetState struct {
	Updated       time.Time      `json:"updated"`
	Lifecycle     LifecycleState `json:"lifecycle"`
	ElapsedSec    float64        `json:"elapsed_sec"`
	DistanceMiles float64        `json:"distance_miles"`
	HeartRateBPM  *float64       `json:"heart_rate_bpm,omitempty"`
	PaceSecPerMi  *float64       `json:"pace_sec_per_mile,omitempty"`
	FuelRemaining *float64       `json:"fuel_remaining_grams,omitempty"`
	ShowDetail    bool           `json:"show_detail"`
}

// ThermalMode is the degradation mode published by the thermal governor.
type ThermalMode string

const (
	ThermalNominal  ThermalMode = "nominal"
	ThermalFair     ThermalMode = "fair"
	ThermalSerious  ThermalMode = "serious"
	ThermalCritical ThermalMode = "critical"
)

// MotionRateHz returns the motion sample rate for the mode.
func (m ThermalMode) MotionRateHz() int {
	switch m {
	case ThermalFair:
		return 40
	case ThermalSerious:
		return 25
	case ThermalCritical:
		return 15
	default:
		return 50
	}
}

// VoiceEnabled reports whether spoken prompts are allowed in this mode.
func (m ThermalMode) VoiceEnabled() bool {
	return m == ThermalNominal || m == ThermalFair
}

// AnimationsEnabled reports whether display animations are allowed.
func (m ThermalMode) AnimationsEnabled() bool { return m != ThermalCritical }

// IntentKind enumerates relayed external actions drained at tick start.
type IntentKind string

const (
	IntentStartRun      IntentKind = "start_run"
	IntentLogFuel       IntentKind = "log_fuel"
	IntentMarkLap       IntentKind = "mark_lap"
	IntentDismissAlert  IntentKind = "dismiss_alert"
	IntentToggleMetrics IntentKind = "toggle_metrics"
)

// Intent is one pending action from the CLI/widget relay.
type Intent struct {
	Kind      IntentKind `json:"kind"`
	FuelGrams *float64   `json:"fuel_grams,omitempty"`
	Style     RunStyle   `json:"style,omitempty"`
	Indoor    bool       `json:"indoor,omitempty"`
}

// Domain error taxonomy. Recoverable failures are captured as per-session
// last-error strings; none of these may violate a state invariant.
var (
	ErrPermissionDenied      = errors.New("health authorization refused")
	ErrSessionStartFailed    = errors.New("sensor session start refused")
	ErrSessionFinalizeFailed = errors.New("sensor session finalize failed")
	ErrPersistence           = errors.New("persistence failure")
	ErrTransport             = errors.New("peer transport failure")
	ErrProtocol              = errors.New("peer message undecodable")
	ErrInvalidTransition     = errors.New("lifecycle transition not allowed")
	ErrNoActiveSession       = errors.New("no active session")
)

// SessionError wraps a failure with the session and stage it occurred in.
type SessionError struct {
	SessionID string
	Stage     string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Stage, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// NewSessionError builds a SessionError.
func NewSessionError(sessionID, stage string, err error) *SessionError {
	return &SessionError{SessionID: sessionID, Stage: stage, Err: err}
}
