// Package thermal observes the host thermal class and publishes a
// degradation mode controlling motion sample rate, voice prompts, and
// animations. Mode changes take effect on the next session tick.
package thermal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"

	"stride/engine/models"
)

// Source reports the current thermal mode. The host-backed source polls
// gopsutil; tests and constrained platforms inject a manual source.
type Source interface {
	Mode(ctx context.Context) models.ThermalMode
}

// Governor caches the latest mode and notifies observers on transitions.
type Governor struct {
	source   Source
	interval time.Duration

	mode     atomic.Value // models.ThermalMode
	mu       sync.Mutex
	onChange []func(models.ThermalMode)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewGovernor builds a governor over source, polling at interval
// (default 5 s).
func NewGovernor(source Source, interval time.Duration) *Governor {
	if source == nil {
		source = ManualSource{}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	g := &Governor{source: source, interval: interval}
	g.mode.Store(models.ThermalNominal)
	return g
}

// Start begins background polling. Idempotent Stop.
func (g *Governor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.poll(ctx)
}

// Stop halts polling and waits for the loop to exit.
func (g *Governor) Stop() {
	if g.cancel == nil {
		return
	}
	g.cancel()
	<-g.done
	g.cancel = nil
}

// Mode returns the latest observed mode.
func (g *Governor) Mode() models.ThermalMode {
	return g.mode.Load().(models.ThermalMode)
}

// OnChange registers a transition callback, invoked from the polling
// goroutine. Callbacks must be fast.
func (g *Governor) OnChange(fn func(models.ThermalMode)) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.onChange = append(g.onChange, fn)
	g.mu.Unlock()
}

func (g *Governor) poll(ctx context.Context) {
	defer close(g.done)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	g.observe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.observe(ctx)
		}
	}
}

func (g *Governor) observe(ctx context.Context) {
	next := g.source.Mode(ctx)
	prev := g.Mode()
	if next == prev {
		return
	}
	g.mode.Store(next)
	g.mu.Lock()
	callbacks := append([]func(models.ThermalMode){}, g.onChange...)
	g.mu.Unlock()
	for _, fn := range callbacks {
		fn(next)
	}
}

// ManualSource is a fixed or externally driven source. The zero value
// reports nominal.
type ManualSource struct {
	Current models.ThermalMode
}

func (m ManualSource) Mode(context.Context) models.ThermalMode {
	if m.Current == "" {
		return models.ThermalNominal
	}
	return m.Current
}

// HostSource derives the thermal class from gopsutil sensor temperatures,
// falling back to CPU load when no sensor is exposed.
type HostSource struct {
	// Cut lines in degrees Celsius. Zero values take the defaults below.
	FairTempC     float64
	SeriousTempC  float64
	CriticalTempC float64
}

const (
	defaultFairTempC     = 60.0
	defaultSeriousTempC  = 75.0
	defaultCriticalTempC = 85.0
)

func (h HostSource) Mode(ctx context.Context) models.ThermalMode {
	fair, serious, critical := h.FairTempC, h.SeriousTempC, h.CriticalTempC
	if fair <= 0 {
		fair = defaultFairTempC
	}
	if serious <= 0 {
		serious = defaultSeriousTempC
	}
	if critical <= 0 {
		critical = defaultCriticalTempC
	}

	if temps, err := host.SensorsTemperaturesWithContext(ctx); err == nil && len(temps) > 0 {
		var max float64
		for _, t := range temps {
			if t.Temperature > max {
				max = t.Temperature
			}
		}
		switch {
		case max >= critical:
			return models.ThermalCritical
		case max >= serious:
			return models.ThermalSerious
		case max >= fair:
			return models.ThermalFair
		default:
			return models.ThermalNominal
		}
	}

	// No sensors: approximate from sustained CPU load.
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(pct) == 0 {
		return models.ThermalNominal
	}
	switch {
	case pct[0] >= 95:
		return models.ThermalSerious
	case pct[0] >= 80:
		return models.ThermalFair
	default:
		return models.ThermalNominal
	}
}
