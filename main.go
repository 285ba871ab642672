// Command stride runs a scripted simulation of one run session against the
// engine: a synthetic telemetry source, an in-memory peer transport, and
// stdout coaching/display sinks. Useful for eyeballing decisions and for
// exercising the config loader, store, and metrics endpoint end to end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"stride/engine"
	"stride/engine/config"
	"stride/engine/models"
)

func main() {
	var (
		configPath = flag.String("config", "", "directory containing stride.yaml")
		duration   = flag.Duration("duration", 90*time.Second, "simulated run duration")
		style      = flag.String("style", "base", "run style (recovery|base|long|tempo|speed)")
		storePath  = flag.String("store", "", "override store path (default from config)")
		quiet      = flag.Bool("quiet", false, "suppress per-event output")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	engCfg := engine.Defaults()
	engCfg.AthleteWeightKg = cfg.AthleteWeightKg
	engCfg.TickInterval = cfg.TickInterval
	engCfg.StorePath = cfg.StorePath
	engCfg.PeerThrottle = cfg.PeerThrottle
	engCfg.DisplayInterval = cfg.DisplayInterval
	engCfg.CoachCooldown = cfg.CoachCooldown
	engCfg.MetricsEnabled = cfg.MetricsEnabled
	engCfg.MetricsBackend = cfg.MetricsBackend
	engCfg.Calibration = engine.Calibration{
		PaceVarianceRatio: cfg.Tunables.PaceVarianceRatio,
		DriftSlopeAlert:   cfg.Tunables.DriftSlopeAlert,
		FuelWarningGrams:  cfg.Tunables.FuelWarningGrams,
		FuelCriticalGrams: cfg.Tunables.FuelCriticalGrams,
	}
	if *storePath != "" {
		engCfg.StorePath = *storePath
	}

	source := newScriptedSource()
	transport := newLoopbackTransport()
	eng, err := engine.New(engCfg, engine.Deps{
		Source:    source,
		Transport: transport,
		Coach:     &stdoutCoach{quiet: *quiet},
		Display:   &stdoutDisplay{quiet: *quiet},
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = eng.Close() }()

	if !*quiet {
		eng.RegisterEventObserver(func(ev engine.TelemetryEvent) {
			fmt.Printf("[event] %s/%s %v\n", ev.Category, ev.Type, ev.Fields)
		})
	}

	if *configPath != "" {
		tunablesFile := filepath.Join(*configPath, "stride.yaml")
		if _, statErr := os.Stat(tunablesFile); statErr == nil {
			w, werr := config.Watch(tunablesFile, logger, func(tun config.Tunables) {
				eng.UpdateCalibration(engine.Calibration{
					PaceVarianceRatio: tun.PaceVarianceRatio,
					DriftSlopeAlert:   tun.DriftSlopeAlert,
					FuelWarningGrams:  tun.FuelWarningGrams,
					FuelCriticalGrams: tun.FuelCriticalGrams,
				})
			})
			if werr != nil {
				logger.Warn("tunables watcher unavailable", "error", werr)
			} else {
				defer func() { _ = w.Close() }()
			}
		}
	}

	if h := eng.MetricsHandler(); h != nil && cfg.MetricsListen != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", h)
			if err := http.ListenAndServe(cfg.MetricsListen, mux); err != nil {
				logger.Warn("metrics listener stopped", "error", err)
			}
		}()
		logger.Info("metrics exposed", "addr", cfg.MetricsListen)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := eng.StartRun(ctx, models.RunStyle(*style), false); err != nil {
		fmt.Fprintf(os.Stderr, "start: %v\n", err)
		os.Exit(1)
	}
	source.run(ctx, *duration)

	// A gel two-thirds through, the way a real athlete would.
	select {
	case <-ctx.Done():
	case <-time.After(*duration * 2 / 3):
		_ = eng.LogFuel(ctx, 25)
		select {
		case <-ctx.Done():
		case <-time.After(*duration / 3):
		}
	}

	if err := eng.EndRun(context.Background(), false); err != nil {
		logger.Warn("end run", "error", err)
	}

	snap := eng.Snapshot()
	out, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Printf("\nfinal snapshot:\n%s\n", out)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// scriptedSource synthesizes a plausible run: HR ramping through zones,
// steady distance accrual, and a 50 Hz sinusoidal motion stream.
type scriptedSource struct {
	mu      sync.Mutex
	handler engine.TelemetryHandler
	active  bool
}

func newScriptedSource() *scriptedSource { return &scriptedSource{} }

func (s *scriptedSource) RequestAuthorization(ctx context.Context) error { return nil }

func (s *scriptedSource) BeginSession(ctx context.Context, indoor bool, h engine.TelemetryHandler) error {
	s.mu.Lock()
	s.handler = h
	s.active = true
	s.mu.Unlock()
	return nil
}

func (s *scriptedSource) EndSession(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	return fmt.Sprintf("sim-workout-%d", time.Now().Unix()), nil
}

func (s *scriptedSource) run(ctx context.Context, duration time.Duration) {
	go s.sampleLoop(ctx, duration)
	go s.motionLoop(ctx, duration)
}

func (s *scriptedSource) sampleLoop(ctx context.Context, duration time.Duration) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	start := time.Now()
	distance := 0.0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			h := s.handler
			active := s.active
			s.mu.Unlock()
			if !active {
				return
			}
			frac := now.Sub(start).Seconds() / duration.Seconds()
			if frac > 1 {
				frac = 1
			}
			// ~9:30/mi with mild noise
			distance += (1.0/570.0)*0.9 + rand.Float64()*(1.0/570.0)*0.2
			hr := 125 + 45*frac + rand.Float64()*4
			zone := 1 + int(math.Min(4, hr/35))
			kcal := 10.5 + 2.5*frac
			cadence := 172 + rand.Float64()*6
			if h.OnSample != nil {
				h.OnSample(models.SensorSample{
					Timestamp:     now,
					HeartRateBPM:  &hr,
					DistanceMiles: distance,
					KcalPerMin:    &kcal,
					CadenceSPM:    &cadence,
					HRZone:        &zone,
				})
			}
		}
	}
}

func (s *scriptedSource) motionLoop(ctx context.Context, duration time.Duration) {
	ticker := time.NewTicker(20 * time.Millisecond) // 50 Hz
	defer ticker.Stop()
	phase := 0.0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			h := s.handler
			active := s.active
			s.mu.Unlock()
			if !active {
				return
			}
			phase += 2 * math.Pi / 17 // ~2.9 strides/sec
			if h.OnMotion != nil {
				h.OnMotion(models.MotionSample{
					VerticalAccel: 1.4*math.Sin(phase) + rand.Float64()*0.2,
					LateralAccel:  0.3*math.Sin(phase/2) + rand.Float64()*0.1,
					Timestamp:     now,
				})
			}
		}
	}
}

// loopbackTransport coalesces context updates in memory and counts direct
// sends, standing in for the real device channel.
type loopbackTransport struct {
	mu          sync.Mutex
	lastContext map[string]interface{}
	directSends int
}

func newLoopbackTransport() *loopbackTransport { return &loopbackTransport{} }

func (t *loopbackTransport) UpdateContext(d map[string]interface{}) error {
	t.mu.Lock()
	t.lastContext = d
	t.mu.Unlock()
	return nil
}

func (t *loopbackTransport) SendMessage(d map[string]interface{}) error {
	t.mu.Lock()
	t.directSends++
	t.mu.Unlock()
	return nil
}

func (t *loopbackTransport) Reachable() bool { return true }

type stdoutCoach struct{ quiet bool }

func (c *stdoutCoach) Speak(text string) {
	if !c.quiet {
		fmt.Printf("[coach] %s\n", text)
	}
}

func (c *stdoutCoach) Haptic(kind models.HapticKind) {
	if !c.quiet {
		fmt.Printf("[haptic] %s\n", kind)
	}
}

type stdoutDisplay struct{ quiet bool }

func (d *stdoutDisplay) Publish(state models.WidgetState) {
	if d.quiet {
		return
	}
	pace := "-"
	if state.PaceSecPerMi != nil {
		pace = fmt.Sprintf("%d:%02d/mi", int(*state.PaceSecPerMi)/60, int(*state.PaceSecPerMi)%60)
	}
	fmt.Printf("[display] %s %.2fmi %s elapsed=%.0fs\n", state.Lifecycle, state.DistanceMiles, pace, state.ElapsedSec)
}
