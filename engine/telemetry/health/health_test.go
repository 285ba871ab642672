package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollupPrefersWorstStatus(t *testing.T) {
	e := NewEvaluator(time.Minute,
		ProbeFunc(func(context.Context) ProbeResult { return Healthy("a") }),
		ProbeFunc(func(context.Context) ProbeResult { return Degraded("b", "slow") }),
	)
	snap := e.Evaluate(context.Background())
	assert.Equal(t, StatusDegraded, snap.Overall)
	require.Len(t, snap.Probes, 2)

	e = NewEvaluator(time.Minute,
		ProbeFunc(func(context.Context) ProbeResult { return Degraded("a", "slow") }),
		ProbeFunc(func(context.Context) ProbeResult { return Unhealthy("b", "down") }),
	)
	assert.Equal(t, StatusUnhealthy, e.Evaluate(context.Background()).Overall)
}

func TestNoProbesMeansUnknown(t *testing.T) {
	e := NewEvaluator(time.Minute)
	assert.Equal(t, StatusUnknown, e.Evaluate(context.Background()).Overall)
}

func TestEvaluateCachesWithinTTL(t *testing.T) {
	var calls atomic.Int32
	e := NewEvaluator(time.Hour, ProbeFunc(func(context.Context) ProbeResult {
		calls.Add(1)
		return Healthy("probe")
	}))
	_ = e.Evaluate(context.Background())
	_ = e.Evaluate(context.Background())
	assert.Equal(t, int32(1), calls.Load())

	e.ForceInvalidate()
	_ = e.Evaluate(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

func TestRegisterAddsProbe(t *testing.T) {
	e := NewEvaluator(time.Millisecond)
	e.Register(ProbeFunc(func(context.Context) ProbeResult { return Unhealthy("late", "bad") }))
	time.Sleep(2 * time.Millisecond)
	assert.Equal(t, StatusUnhealthy, e.Evaluate(context.Background()).Overall)
}
