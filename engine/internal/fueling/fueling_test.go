package fueling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stride/engine/models"
)

func TestStartingReserve(t *testing.T) {
	cases := []struct {
		weightKg float64
		want     float64
	}{
		{70, 420},
		{40, 300},  // floor
		{100, 500}, // ceiling
		{50, 300},
		{83.4, 500.0},
	}
	for _, tc := range cases {
		e := NewEngine(tc.weightKg, DefaultThresholds())
		got := e.Status().RemainingGrams
		if tc.weightKg == 83.4 {
			// 83.4 * 6 = 500.4, clamps to 500
			assert.Equal(t, 500.0, got)
			continue
		}
		assert.InDelta(t, tc.want, got, 1e-9, "weight %v", tc.weightKg)
	}
}

func TestDepletionZoneThree(t *testing.T) {
	e := NewEngine(70, DefaultThresholds())
	st := e.Ingest(12, 3, time.Minute)
	// 420 - (12 * 0.60) / 4 = 418.2
	assert.InDelta(t, 418.2, st.RemainingGrams, 1e-9)
	assert.Equal(t, models.FuelNominal, st.Severity)
}

func TestDepletionProrated(t *testing.T) {
	e := NewEngine(70, DefaultThresholds())
	st := e.Ingest(12, 3, time.Second)
	assert.InDelta(t, 420-1.8/60, st.RemainingGrams, 1e-9)
}

func TestCarbFractionByZone(t *testing.T) {
	wants := map[int]float64{0: 0.40, 1: 0.40, 2: 0.50, 3: 0.60, 4: 0.75, 5: 0.85, 6: 0.85}
	for zone, frac := range wants {
		e := NewEngine(70, DefaultThresholds())
		st := e.Ingest(10, zone, time.Minute)
		assert.InDelta(t, 420-(10*frac)/4, st.RemainingGrams, 1e-9, "zone %d", zone)
	}
}

func TestDepletionFloorsAtZero(t *testing.T) {
	e := NewEngine(70, DefaultThresholds())
	st := e.Ingest(10000, 5, 10*time.Hour)
	assert.Equal(t, 0.0, st.RemainingGrams)
	assert.Equal(t, models.FuelCritical, st.Severity)
}

func TestZeroElapsedBurnsNothing(t *testing.T) {
	e := NewEngine(70, DefaultThresholds())
	st := e.Ingest(12, 3, 0)
	assert.Equal(t, 420.0, st.RemainingGrams)
}

func TestLogGelRoundTrip(t *testing.T) {
	e := NewEngine(70, DefaultThresholds())
	e.Ingest(12, 3, time.Hour) // 420 - 108 = 312
	before := e.Status().RemainingGrams
	require.InDelta(t, 312.0, before, 1e-9)

	st := e.LogGel(30)
	assert.InDelta(t, before+30, st.RemainingGrams, 1e-9)

	// Default grams
	st = e.LogGel(0)
	assert.InDelta(t, before+30+DefaultGelGrams, st.RemainingGrams, 1e-9)
}

func TestLogGelCeiling(t *testing.T) {
	e := NewEngine(100, DefaultThresholds()) // starts at 500
	st := e.LogGel(40)
	assert.Equal(t, ReserveCeiling, st.RemainingGrams)
}

func TestSeverityThresholds(t *testing.T) {
	cases := []struct {
		remaining float64
		want      models.FuelSeverity
	}{
		{36, models.FuelNominal},
		{35, models.FuelWarning},
		{21, models.FuelWarning},
		{20, models.FuelCritical},
		{0, models.FuelCritical},
	}
	for _, tc := range cases {
		e := &Engine{remaining: tc.remaining, thresholds: DefaultThresholds()}
		assert.Equal(t, tc.want, e.Status().Severity, "remaining %v", tc.remaining)
	}
}

func TestReserveAlwaysBounded(t *testing.T) {
	e := NewEngine(70, DefaultThresholds())
	for i := 0; i < 200; i++ {
		var st models.FuelingStatus
		if i%3 == 0 {
			st = e.LogGel(float64(i % 45))
		} else {
			st = e.Ingest(float64(5+i%20), i%6, 90*time.Second)
		}
		require.GreaterOrEqual(t, st.RemainingGrams, ReserveFloor)
		require.LessOrEqual(t, st.RemainingGrams, ReserveCeiling)
	}
}
