package peer

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stride/engine/models"
)

func ptr[T any](v T) *T { return &v }

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 500000000).UTC()
	lifecycle := models.LifecycleRunning
	msg := RunMessage{
		Event:      EventMetricSnapshot,
		RunID:      ptr("9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d"),
		Lifecycle:  &lifecycle,
		Timestamp:  &now,
		HeartRate:  ptr(152.0),
		CarbsGrams: ptr(25.0),
		LapIndex:   ptr(3),
		Metric: &models.TelemetrySnapshot{
			Timestamp:      now,
			DistanceMiles:  2.4,
			HeartRateBPM:   ptr(152.0),
			PaceSecPerMile: ptr(555.0),
			CadenceSPM:     ptr(176.0),
			GradePercent:   ptr(1.5),
			FuelRemaining:  ptr(310.0),
		},
	}

	decoded, err := Decode(msg.Encode())
	require.NoError(t, err)
	assert.Equal(t, msg.Event, decoded.Event)
	assert.Equal(t, *msg.RunID, *decoded.RunID)
	assert.Equal(t, lifecycle, *decoded.Lifecycle)
	assert.True(t, msg.Timestamp.Equal(*decoded.Timestamp))
	assert.Equal(t, *msg.HeartRate, *decoded.HeartRate)
	assert.Equal(t, *msg.CarbsGrams, *decoded.CarbsGrams)
	assert.Equal(t, *msg.LapIndex, *decoded.LapIndex)
	assert.False(t, decoded.Discarded)
	require.NotNil(t, decoded.Metric)
	assert.Equal(t, msg.Metric.DistanceMiles, decoded.Metric.DistanceMiles)
	assert.Equal(t, *msg.Metric.PaceSecPerMile, *decoded.Metric.PaceSecPerMile)
	assert.Equal(t, *msg.Metric.FuelRemaining, *decoded.Metric.FuelRemaining)
}

func TestEncodeOmitsAbsentFields(t *testing.T) {
	d := RunMessage{Event: EventRunPaused}.Encode()
	assert.Equal(t, map[string]interface{}{"event": "run_paused"}, d)
}

func TestDecodeIgnoresUnknownKeys(t *testing.T) {
	d := map[string]interface{}{
		"event":            "run_started",
		"runId":            "abc",
		"futureExtension":  map[string]interface{}{"x": 1},
		"anotherNewField":  42.0,
		"yetAnotherString": "ignored",
	}
	msg, err := Decode(d)
	require.NoError(t, err)
	assert.Equal(t, EventRunStarted, msg.Event)
	assert.Equal(t, "abc", *msg.RunID)
}

func TestDecodeRejectsBadEvent(t *testing.T) {
	_, err := Decode(map[string]interface{}{"event": "teleported"})
	assert.True(t, errors.Is(err, models.ErrProtocol))

	_, err = Decode(map[string]interface{}{"runId": "abc"})
	assert.True(t, errors.Is(err, models.ErrProtocol))

	_, err = Decode(map[string]interface{}{"event": 7})
	assert.True(t, errors.Is(err, models.ErrProtocol))
}

func TestDecodeSurvivesJSONTransit(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	msg := RunMessage{Event: EventRunEnded, RunID: ptr("r1"), Timestamp: &now, Discarded: true, LapIndex: ptr(2)}

	raw, err := json.Marshal(msg.Encode())
	require.NoError(t, err)
	var transit map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &transit))

	decoded, err := Decode(transit)
	require.NoError(t, err)
	assert.Equal(t, EventRunEnded, decoded.Event)
	assert.True(t, decoded.Discarded)
	assert.Equal(t, 2, *decoded.LapIndex) // arrives as float64 over JSON
	assert.True(t, now.Equal(*decoded.Timestamp))
}

func TestDecodeInvalidLifecycleDropped(t *testing.T) {
	msg, err := Decode(map[string]interface{}{"event": "run_started", "lifecycleState": "warp"})
	require.NoError(t, err)
	assert.Nil(t, msg.Lifecycle)
}
