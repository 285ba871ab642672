package adaptive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stride/engine/internal/fueling"
	"stride/engine/models"
)

func ptr[T any](v T) *T { return &v }

func newTestEngine() *Engine {
	return NewEngine(models.ReadinessBaseline{AcuteLoad: 100, ChronicLoad: 100}, 70, fueling.DefaultThresholds(), DefaultTunables())
}

func metricsAt(t time.Time, distance float64) models.LiveRunMetrics {
	return models.LiveRunMetrics{Timestamp: t, DistanceMiles: distance}
}

func alertKinds(d models.Decision) []models.AlertKind {
	out := make([]models.AlertKind, 0, len(d.Alerts))
	for _, a := range d.Alerts {
		out = append(out, a.Kind)
	}
	return out
}

func TestColdStartOneTick(t *testing.T) {
	e := newTestEngine()
	base := time.Now()

	// Prime the clock so the second tick burns exactly one minute.
	_, err := e.Ingest(context.Background(), models.LiveRunMetrics{Timestamp: base, DistanceMiles: 0.0005, KcalPerMin: ptr(12.0), HRZone: ptr(3), HeartRateBPM: ptr(150.0)})
	require.NoError(t, err)

	d, err := e.Ingest(context.Background(), models.LiveRunMetrics{
		Timestamp:     base.Add(time.Minute),
		HeartRateBPM:  ptr(150.0),
		DistanceMiles: 0.001,
		KcalPerMin:    ptr(12.0),
		HRZone:        ptr(3),
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d.FatigueCoefficient, 1e-9)
	assert.Equal(t, 0, d.PaceAdjustmentPercent)
	assert.InDelta(t, 418.2, d.Fueling.RemainingGrams, 1e-9)
	assert.Equal(t, models.FuelNominal, d.Fueling.Severity)
	assert.Empty(t, d.Alerts)
}

func TestSplitFiresOncePerMile(t *testing.T) {
	e := newTestEngine()
	base := time.Now()
	distances := []float64{0.95, 0.99, 1.01, 1.50, 2.00}
	var fired []float64
	for i, dist := range distances {
		d, err := e.Ingest(context.Background(), metricsAt(base.Add(time.Duration(i)*time.Second), dist))
		require.NoError(t, err)
		for _, a := range d.Alerts {
			if a.Kind == models.AlertSplit {
				fired = append(fired, dist)
			}
		}
	}
	assert.Equal(t, []float64{1.01, 2.00}, fired)
}

func TestSplitNeverFiresOnDecrease(t *testing.T) {
	e := newTestEngine()
	base := time.Now()
	for i, dist := range []float64{1.2, 0.9, 1.1, 1.9} {
		d, _ := e.Ingest(context.Background(), metricsAt(base.Add(time.Duration(i)*time.Second), dist))
		if i == 0 {
			require.Equal(t, []models.AlertKind{models.AlertSplit}, alertKinds(d))
			continue
		}
		assert.NotContains(t, alertKinds(d), models.AlertSplit, "distance %v", dist)
	}
}

func TestFuelWarningTransition(t *testing.T) {
	e := newTestEngine()
	base := time.Now()

	// Burn down to just above the warning line, then cross it.
	// zone 5: (kcal * 0.85) / 4 grams per minute.
	_, _ = e.Ingest(context.Background(), models.LiveRunMetrics{Timestamp: base, KcalPerMin: ptr(60.0), HRZone: ptr(5)})
	// 420 - 384 = 36 after ~30 min at 12.75 g/min... drive explicitly:
	minute := float64(time.Minute)
	d, _ := e.Ingest(context.Background(), models.LiveRunMetrics{Timestamp: base.Add(time.Duration(minute * (384.0 / 12.75))), KcalPerMin: ptr(60.0), HRZone: ptr(5)})
	require.InDelta(t, 36.0, d.Fueling.RemainingGrams, 0.01)
	assert.NotContains(t, alertKinds(d), models.AlertFuelWarning)

	d, _ = e.Ingest(context.Background(), models.LiveRunMetrics{Timestamp: base.Add(time.Duration(minute * (386.0 / 12.75))), KcalPerMin: ptr(60.0), HRZone: ptr(5)})
	require.InDelta(t, 34.0, d.Fueling.RemainingGrams, 0.01)
	assert.Contains(t, alertKinds(d), models.AlertFuelWarning)
}

func TestFuelCriticalOrderedFirst(t *testing.T) {
	e := newTestEngine()
	base := time.Now()
	_, _ = e.Ingest(context.Background(), models.LiveRunMetrics{Timestamp: base, KcalPerMin: ptr(100.0), HRZone: ptr(5)})
	d, _ := e.Ingest(context.Background(), models.LiveRunMetrics{
		Timestamp:      base.Add(5 * time.Hour),
		KcalPerMin:     ptr(100.0),
		HRZone:         ptr(5),
		PaceSecPerMile: ptr(540.0),
		DistanceMiles:  1.2,
	})
	require.NotEmpty(t, d.Alerts)
	assert.Equal(t, models.AlertFuelCritical, d.Alerts[0].Kind)
	assert.Contains(t, alertKinds(d), models.AlertHighHeartRate)
	assert.Contains(t, alertKinds(d), models.AlertSplit)
}

func TestHighHeartRateRequiresPace(t *testing.T) {
	e := newTestEngine()
	base := time.Now()
	d, _ := e.Ingest(context.Background(), models.LiveRunMetrics{Timestamp: base, HRZone: ptr(4)})
	assert.NotContains(t, alertKinds(d), models.AlertHighHeartRate)

	d, _ = e.Ingest(context.Background(), models.LiveRunMetrics{Timestamp: base.Add(time.Second), HRZone: ptr(4), PaceSecPerMile: ptr(520.0)})
	assert.Contains(t, alertKinds(d), models.AlertHighHeartRate)
}

func TestDriftSlopeNeedsFifteenPoints(t *testing.T) {
	e := newTestEngine()
	base := time.Now()
	for i := 0; i < 14; i++ {
		d, _ := e.Ingest(context.Background(), models.LiveRunMetrics{
			Timestamp:      base.Add(time.Duration(i) * time.Minute),
			HeartRateBPM:   ptr(140.0 + float64(i)),
			PaceSecPerMile: ptr(540.0),
		})
		assert.Equal(t, 0.0, d.DriftSlopePerMin, "tick %d", i)
	}
	d, _ := e.Ingest(context.Background(), models.LiveRunMetrics{
		Timestamp:      base.Add(14 * time.Minute),
		HeartRateBPM:   ptr(154.0),
		PaceSecPerMile: ptr(540.0),
	})
	// HR climbing 1 bpm/min at constant pace: slope = (1/540) per minute.
	assert.InDelta(t, 1.0/540.0, d.DriftSlopePerMin, 1e-9)
}

func TestCardiacDriftAlertGatedOnZone(t *testing.T) {
	mk := func(zone int) models.Decision {
		e := newTestEngine()
		base := time.Now()
		var last models.Decision
		for i := 0; i < 20; i++ {
			last, _ = e.Ingest(context.Background(), models.LiveRunMetrics{
				Timestamp:      base.Add(time.Duration(i) * time.Minute),
				HeartRateBPM:   ptr(140.0 + 10*float64(i)),
				PaceSecPerMile: ptr(540.0),
				HRZone:         ptr(zone),
			})
		}
		return last
	}
	assert.Contains(t, alertKinds(mk(3)), models.AlertCardiacDrift)
	assert.NotContains(t, alertKinds(mk(2)), models.AlertCardiacDrift)
}

func TestPaceVarianceAlert(t *testing.T) {
	e := newTestEngine()
	base := time.Now()
	for i := 0; i < 29; i++ {
		d, _ := e.Ingest(context.Background(), models.LiveRunMetrics{
			Timestamp:      base.Add(time.Duration(i) * time.Second),
			PaceSecPerMile: ptr(600.0),
		})
		assert.NotContains(t, alertKinds(d), models.AlertPaceVariance)
	}
	// A sudden surge well past 5% of the moving average.
	d, _ := e.Ingest(context.Background(), models.LiveRunMetrics{
		Timestamp:      base.Add(30 * time.Second),
		PaceSecPerMile: ptr(500.0),
	})
	assert.Contains(t, alertKinds(d), models.AlertPaceVariance)
}

func TestUpdateBaselineTakesEffectNextTick(t *testing.T) {
	e := newTestEngine()
	base := time.Now()
	d, _ := e.Ingest(context.Background(), metricsAt(base, 0))
	require.InDelta(t, 1.0, d.FatigueCoefficient, 1e-9)

	e.UpdateBaseline(models.ReadinessBaseline{AcuteLoad: 140, ChronicLoad: 100})
	d, _ = e.Ingest(context.Background(), metricsAt(base.Add(time.Second), 0))
	assert.InDelta(t, 1.4, d.FatigueCoefficient, 1e-9)
	assert.Equal(t, -5, d.PaceAdjustmentPercent)
}

func TestWindowBounded(t *testing.T) {
	e := newTestEngine()
	base := time.Now()
	for i := 0; i < 400; i++ {
		_, _ = e.Ingest(context.Background(), metricsAt(base.Add(time.Duration(i)*time.Second), 0))
	}
	assert.Equal(t, 300, e.WindowLen())
}

func TestIngestHonorsCancelledContext(t *testing.T) {
	e := newTestEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Ingest(ctx, metricsAt(time.Now(), 0))
	assert.Error(t, err)
}

func TestDecisionInvariants(t *testing.T) {
	e := newTestEngine()
	base := time.Now()
	for i := 0; i < 100; i++ {
		d, err := e.Ingest(context.Background(), models.LiveRunMetrics{
			Timestamp:      base.Add(time.Duration(i) * time.Second),
			DistanceMiles:  float64(i) * 0.05,
			HeartRateBPM:   ptr(130.0 + float64(i%40)),
			PaceSecPerMile: ptr(500.0 + float64(i%90)),
			KcalPerMin:     ptr(11.0),
			HRZone:         ptr(1 + i%5),
		})
		require.NoError(t, err)
		require.GreaterOrEqual(t, d.FatigueCoefficient, 0.4)
		require.LessOrEqual(t, d.FatigueCoefficient, 2.0)
		require.GreaterOrEqual(t, d.Fueling.RemainingGrams, 0.0)
		require.LessOrEqual(t, d.Fueling.RemainingGrams, 500.0)
		switch d.PaceAdjustmentPercent {
		case -5, -2, 0, 1:
		default:
			t.Fatalf("pace adjustment %d not in ladder", d.PaceAdjustmentPercent)
		}
	}
}
