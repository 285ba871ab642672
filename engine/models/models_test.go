package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifecycleValidity(t *testing.T) {
	for _, s := range []LifecycleState{LifecycleIdle, LifecyclePreparing, LifecycleRunning, LifecyclePaused, LifecycleEnded} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, LifecycleState("warp").Valid())
}

func TestLifecycleActive(t *testing.T) {
	assert.True(t, LifecyclePreparing.Active())
	assert.True(t, LifecycleRunning.Active())
	assert.True(t, LifecyclePaused.Active())
	assert.False(t, LifecycleIdle.Active())
	assert.False(t, LifecycleEnded.Active())
}

func TestStyleBias(t *testing.T) {
	cases := map[RunStyle]float64{
		StyleRecovery: 0.92,
		StyleBase:     1.0,
		StyleCross:    1.0,
		StyleRest:     1.0,
		StyleLong:     1.08,
		StyleTempo:    1.16,
		StyleSpeed:    1.16,
	}
	for style, want := range cases {
		assert.Equal(t, want, style.AcuteLoadBias(), string(style))
	}
}

func TestFirstAlert(t *testing.T) {
	assert.Nil(t, Decision{}.FirstAlert())
	d := Decision{Alerts: []Alert{{Kind: AlertFuelCritical}, {Kind: AlertSplit}}}
	assert.Equal(t, AlertFuelCritical, d.FirstAlert().Kind)
}

func TestSessionErrorWraps(t *testing.T) {
	err := NewSessionError("s1", "flush", ErrPersistence)
	assert.True(t, errors.Is(err, ErrPersistence))
	assert.Contains(t, err.Error(), "s1")
	assert.Contains(t, err.Error(), "flush")
}

func TestNewTelemetryPointCopiesFields(t *testing.T) {
	hr := 150.0
	snap := TelemetrySnapshot{DistanceMiles: 2.5, HeartRateBPM: &hr}
	p := NewTelemetryPoint("sess", snap)
	assert.Equal(t, "sess", p.SessionID)
	assert.Equal(t, 2.5, p.DistanceMiles)
	assert.Equal(t, &hr, p.HeartRateBPM)
}
