package models

import "time"

// Session is the durable record of one run. It owns cascade-deleted
// collections of telemetry points, run events, and state snapshots; children
// reference the parent by SessionID and are looked up through the store.
type Session struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	TotalEnergy   float64    `json:"total_energy_kcal"`
	TotalDistance float64    `json:"total_distance_miles"`
	AverageHR     *float64   `json:"average_hr,omitempty"`
	PeerWorkoutID *string    `json:"peer_workout_id,omitempty"`
	Effort        *int       `json:"effort,omitempty"` // 1..5, post-run
	Reflection    *string    `json:"reflection,omitempty"`
	SyncPending   bool       `json:"sync_pending"`
}

// TelemetryPoint is one persisted telemetry snapshot. Append-only during a
// run; ordered by timestamp.
type TelemetryPoint struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id"`
	Timestamp      time.Time `json:"timestamp"`
	DistanceMiles  float64   `json:"distance_miles"`
	HeartRateBPM   *float64  `json:"heart_rate_bpm,omitempty"`
	PaceSecPerMile *float64  `json:"pace_sec_per_mile,omitempty"`
	CadenceSPM     *float64  `json:"cadence_spm,omitempty"`
	GradePercent   *float64  `json:"grade_percent,omitempty"`
	FuelRemaining  *float64  `json:"fuel_remaining_grams,omitempty"`
}

// RunEvent is one persisted discrete event with an opaque JSON payload.
type RunEvent struct {
	ID        int64        `json:"id"`
	SessionID string       `json:"session_id"`
	Timestamp time.Time    `json:"timestamp"`
	Kind      RunEventKind `json:"kind"`
	Payload   []byte       `json:"payload,omitempty"` // opaque JSON
}

// StateSnapshot is one persisted per-tick lifecycle/kinematic snapshot.
type StateSnapshot struct {
	ID         int64             `json:"id"`
	SessionID  string            `json:"session_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Lifecycle  LifecycleState    `json:"lifecycle"`
	ElapsedSec float64           `json:"elapsed_sec"`
	Sample     TelemetrySnapshot `json:"sample"`
}

// TrainingPlan is a durable race-training plan. At most one plan is active.
type TrainingPlan struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RaceDate  time.Time `json:"race_date"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// TrainingSession is one planned day inside a training plan.
type TrainingSession struct {
	ID          string    `json:"id"`
	PlanID      string    `json:"plan_id"`
	Date        time.Time `json:"date"`
	Style       RunStyle  `json:"style"`
	TargetMiles float64   `json:"target_miles"`
	Completed   bool      `json:"completed"`
	ActualMiles *float64  `json:"actual_miles,omitempty"`
	Effort      *int      `json:"effort,omitempty"`
}

// NewTelemetryPoint materializes a buffered snapshot into a durable point.
func NewTelemetryPoint(sessionID string, s TelemetrySnapshot) TelemetryPoint {
	return TelemetryPoint{
		SessionID:      sessionID,
		Timestamp:      s.Timestamp,
		DistanceMiles:  s.DistanceMiles,
		HeartRateBPM:   s.HeartRateBPM,
		PaceSecPerMile: s.PaceSecPerMile,
		CadenceSPM:     s.CadenceSPM,
		GradePercent:   s.GradePercent,
		FuelRemaining:  s.FuelRemaining,
	}
}
