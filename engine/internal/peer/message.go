// Package peer implements the cross-device bridge: the wire dictionary
// codec, the throttled outbound publisher, and the inbound rebuild path that
// materializes a durable session from a peer's message stream.
package peer

import (
	"fmt"
	"time"

	"stride/engine/models"
)

// EventKind enumerates peer message kinds on the wire.
type EventKind string

const (
	EventRunStarted     EventKind = "run_started"
	EventRunPaused      EventKind = "run_paused"
	EventRunResumed     EventKind = "run_resumed"
	EventRunEnded       EventKind = "run_ended"
	EventMetricSnapshot EventKind = "metric_snapshot"
	EventFuelLogged     EventKind = "fuel_logged"
	EventLapMarked      EventKind = "lap_marked"
)

func (k EventKind) valid() bool {
	switch k {
	case EventRunStarted, EventRunPaused, EventRunResumed, EventRunEnded,
		EventMetricSnapshot, EventFuelLogged, EventLapMarked:
		return true
	}
	return false
}

// RunMessage is one peer bridge message. Optional fields are pointers;
// absent fields stay off the wire.
type RunMessage struct {
	Event      EventKind
	RunID      *string
	Lifecycle  *models.LifecycleState
	Timestamp  *time.Time
	HeartRate  *float64
	CarbsGrams *float64
	LapIndex   *int
	Discarded  bool
	Metric     *models.TelemetrySnapshot
}

// Wire dictionary keys. These are a bit-compatible contract with the paired
// device; do not rename.
const (
	keyEvent      = "event"
	keyRunID      = "runId"
	keyLifecycle  = "lifecycleState"
	keyTimestamp  = "timestamp"
	keyHeartRate  = "heartRate"
	keyCarbsGrams = "carbsGrams"
	keyLapIndex   = "lapIndex"
	keyDiscarded  = "discarded"
	keyMetric     = "metric"

	metricKeyTimestamp = "timestamp"
	metricKeyDistance  = "distanceMiles"
	metricKeyHeartRate = "heartRateBPM"
	metricKeyPace      = "paceSecondsPerMile"
	metricKeyCadence   = "cadenceSPM"
	metricKeyGrade     = "gradePercent"
	metricKeyFuel      = "fuelRemainingGrams"
)

// Encode renders the message as the transport dictionary. Timestamps become
// seconds-since-epoch doubles at this boundary.
func (m RunMessage) Encode() map[string]interface{} {
	d := map[string]interface{}{keyEvent: string(m.Event)}
	if m.RunID != nil {
		d[keyRunID] = *m.RunID
	}
	if m.Lifecycle != nil {
		d[keyLifecycle] = string(*m.Lifecycle)
	}
	if m.Timestamp != nil {
		d[keyTimestamp] = epochSeconds(*m.Timestamp)
	}
	if m.HeartRate != nil {
		d[keyHeartRate] = *m.HeartRate
	}
	if m.CarbsGrams != nil {
		d[keyCarbsGrams] = *m.CarbsGrams
	}
	if m.LapIndex != nil {
		d[keyLapIndex] = *m.LapIndex
	}
	if m.Discarded {
		d[keyDiscarded] = true
	}
	if m.Metric != nil {
		metric := map[string]interface{}{
			metricKeyTimestamp: epochSeconds(m.Metric.Timestamp),
			metricKeyDistance:  m.Metric.DistanceMiles,
		}
		if m.Metric.HeartRateBPM != nil {
			metric[metricKeyHeartRate] = *m.Metric.HeartRateBPM
		}
		if m.Metric.PaceSecPerMile != nil {
			metric[metricKeyPace] = *m.Metric.PaceSecPerMile
		}
		if m.Metric.CadenceSPM != nil {
			metric[metricKeyCadence] = *m.Metric.CadenceSPM
		}
		if m.Metric.GradePercent != nil {
			metric[metricKeyGrade] = *m.Metric.GradePercent
		}
		if m.Metric.FuelRemaining != nil {
			metric[metricKeyFuel] = *m.Metric.FuelRemaining
		}
		d[keyMetric] = metric
	}
	return d
}

// Decode parses a transport dictionary. Unknown keys are ignored; a missing
// or unknown event kind fails with ErrProtocol.
func Decode(d map[string]interface{}) (RunMessage, error) {
	raw, ok := asString(d[keyEvent])
	if !ok {
		return RunMessage{}, fmt.Errorf("%w: missing event", models.ErrProtocol)
	}
	kind := EventKind(raw)
	if !kind.valid() {
		return RunMessage{}, fmt.Errorf("%w: unknown event %q", models.ErrProtocol, raw)
	}
	m := RunMessage{Event: kind}
	if v, ok := asString(d[keyRunID]); ok {
		m.RunID = &v
	}
	if v, ok := asString(d[keyLifecycle]); ok {
		state := models.LifecycleState(v)
		if state.Valid() {
			m.Lifecycle = &state
		}
	}
	if v, ok := asFloat(d[keyTimestamp]); ok {
		t := fromEpochSeconds(v)
		m.Timestamp = &t
	}
	if v, ok := asFloat(d[keyHeartRate]); ok {
		m.HeartRate = &v
	}
	if v, ok := asFloat(d[keyCarbsGrams]); ok {
		m.CarbsGrams = &v
	}
	if v, ok := asFloat(d[keyLapIndex]); ok {
		idx := int(v)
		m.LapIndex = &idx
	}
	if v, ok := d[keyDiscarded].(bool); ok {
		m.Discarded = v
	}
	if raw, ok := d[keyMetric].(map[string]interface{}); ok {
		snap := models.TelemetrySnapshot{}
		if v, ok := asFloat(raw[metricKeyTimestamp]); ok {
			snap.Timestamp = fromEpochSeconds(v)
		}
		if v, ok := asFloat(raw[metricKeyDistance]); ok {
			snap.DistanceMiles = v
		}
		if v, ok := asFloat(raw[metricKeyHeartRate]); ok {
			snap.HeartRateBPM = &v
		}
		if v, ok := asFloat(raw[metricKeyPace]); ok {
			snap.PaceSecPerMile = &v
		}
		if v, ok := asFloat(raw[metricKeyCadence]); ok {
			snap.CadenceSPM = &v
		}
		if v, ok := asFloat(raw[metricKeyGrade]); ok {
			snap.GradePercent = &v
		}
		if v, ok := asFloat(raw[metricKeyFuel]); ok {
			snap.FuelRemaining = &v
		}
		m.Metric = &snap
	}
	return m, nil
}

func epochSeconds(t time.Time) float64 { return float64(t.UnixNano()) / 1e9 }

func fromEpochSeconds(sec float64) time.Time {
	return time.Unix(0, int64(sec*1e9)).UTC()
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// asFloat tolerates the numeric shapes a transport or JSON layer may hand
// back for a double on the wire.
func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
