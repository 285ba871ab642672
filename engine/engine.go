// Package engine is the Run Session Manager facade: the lifecycle state
// machine, the 1 Hz tick loop, telemetry/event buffering and flushing, and
// the fan-out to peer, display, and coaching collaborators. One Engine
// instance manages one device's runs.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"stride/engine/internal/adaptive"
	"stride/engine/internal/coach"
	"stride/engine/internal/fueling"
	"stride/engine/internal/peer"
	"stride/engine/internal/store"
	telemEvents "stride/engine/internal/telemetry/events"
	intmetrics "stride/engine/internal/telemetry/metrics"
	inttracing "stride/engine/internal/telemetry/tracing"
	"stride/engine/models"
	telemetryhealth "stride/engine/telemetry/health"
	"stride/engine/telemetry/logging"
)

// TelemetryEvent is the reduced, stable event representation handed to
// external observers.
type TelemetryEvent struct {
	Time     time.Time              `json:"time"`
	Category string                 `json:"category"`
	Type     string                 `json:"type"`
	Severity string                 `json:"severity,omitempty"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
}

// EventObserver receives TelemetryEvent notifications. Observers run
// synchronously on the publishing goroutine and must be fast.
type EventObserver func(ev TelemetryEvent)

// Snapshot is a unified pull view of engine state.
type Snapshot struct {
	Lifecycle       models.LifecycleState       `json:"lifecycle"`
	SessionID       string                      `json:"session_id,omitempty"`
	ElapsedSec      float64                     `json:"elapsed_sec"`
	DistanceMiles   float64                     `json:"distance_miles"`
	EnergyKcal      float64                     `json:"energy_kcal"`
	LapIndex        int                         `json:"lap_index"`
	Fueling         models.FuelingStatus        `json:"fueling"`
	Biomechanics    models.BiomechanicalMetrics `json:"biomechanics"`
	LastDecision    *models.Decision            `json:"last_decision,omitempty"`
	LastAlert       *models.Alert               `json:"last_alert,omitempty"`
	LastError       string                      `json:"last_error,omitempty"`
	ThermalMode     models.ThermalMode          `json:"thermal_mode"`
	PeerReachable   bool                        `json:"peer_reachable"`
	TelemetryBuffer int                         `json:"telemetry_buffer"`
	SnapshotBuffer  int                         `json:"snapshot_buffer"`
	MotionBuffer    int                         `json:"motion_buffer"`
}

// Engine composes the session state machine and its subsystems behind a
// single facade. All mutable session state is owned by one executor
// goroutine; public methods marshal onto it and block for the result.
type Engine struct {
	cfg  Config
	deps Deps
	log  logging.Logger

	// session executor
	cmds     chan func()
	loopDone chan struct{}

	// state owned by the executor goroutine
	lifecycle     models.LifecycleState
	sess          *models.Session
	adaptiveEng   *adaptive.Engine
	motionBuf     []models.MotionSample
	telemetryBuf  []models.TelemetrySnapshot
	snapshotBuf   []models.StateSnapshot
	eventBuf      []models.RunEvent
	current       models.SensorSample
	elapsedSec    float64
	lastTickAt    time.Time
	lastPaceDist  float64
	lastPaceElap  float64
	energyKcal    float64
	hrSum         float64
	hrCount       int
	lapIndex      int
	lastAlert     *models.Alert
	lastPromptAt  time.Time
	lastDisplayAt time.Time
	lastDecision  *models.Decision
	lastPace      *float64
	lastBio       models.BiomechanicalMetrics
	fuelStatus    models.FuelingStatus
	showDetail    bool
	lastError     string
	lastSaveErr   error
	lastTickSpan  time.Duration

	// subsystems
	st       *store.Store
	bridge   *peer.Bridge
	ingestor *peer.Ingestor
	governor *governorHandle
	coachSel coach.Selector
	tracer   inttracing.Tracer

	// telemetry
	metricsProvider intmetrics.Provider
	bus             telemEvents.Bus
	healthEval      *telemetryhealth.Evaluator
	instruments     instruments

	// calibration snapshot; swapped atomically via UpdateCalibration
	calMu sync.Mutex
	cal   Calibration

	eventObserversMu sync.RWMutex
	eventObservers   []EventObserver

	closeOnce sync.Once
}

type instruments struct {
	ticks        intmetrics.Counter
	tickDuration intmetrics.Histogram
	alerts       intmetrics.Counter
	glycogen     intmetrics.Gauge
	flushes      intmetrics.Counter
	storeErrors  intmetrics.Counter
	ingested     intmetrics.Counter
}

// New constructs an Engine, opens the store, and starts the session
// executor. The ticker beats from construction on; until a run starts, a
// beat only drains relayed intents and refreshes the display.
func New(cfg Config, deps Deps) (*Engine, error) {
	cfg.normalize()
	if deps.Source == nil {
		return nil, errors.New("engine: telemetry source required")
	}
	if deps.Transport == nil {
		return nil, errors.New("engine: peer transport required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		deps:      deps,
		log:       logging.New(deps.Logger),
		cmds:      make(chan func(), 256),
		loopDone:  make(chan struct{}),
		lifecycle: models.LifecycleIdle,
		st:        st,
		cal:       cfg.Calibration,
		tracer:    inttracing.NewTracer(true),
	}

	e.metricsProvider = selectMetricsProvider(cfg)
	e.initInstruments()
	e.bus = telemEvents.NewBus(e.metricsProvider)
	e.bridge = peer.NewBridge(deps.Transport, cfg.PeerThrottle, e.metricsProvider)
	e.ingestor = peer.NewIngestor(st, deps.Logger)
	e.coachSel = coach.NewRuleSelector(cfg.CoachCooldown)
	e.governor = newGovernorHandle(deps.Thermal, cfg.ThermalPollInterval, e)
	e.healthEval = telemetryhealth.NewEvaluator(2*time.Second, e.healthProbes()...)

	go e.loop()
	e.governor.start()
	return e, nil
}

func selectMetricsProvider(cfg Config) intmetrics.Provider {
	if !cfg.MetricsEnabled {
		return nil
	}
	switch strings.ToLower(cfg.MetricsBackend) {
	case "", "prom", "prometheus":
		return intmetrics.NewPrometheusProvider(intmetrics.PrometheusProviderOptions{})
	case "otel", "opentelemetry":
		return intmetrics.NewOTelProvider(intmetrics.OTelProviderOptions{ServiceName: "stride"})
	case "noop":
		return intmetrics.NewNoopProvider()
	default:
		return intmetrics.NewPrometheusProvider(intmetrics.PrometheusProviderOptions{})
	}
}

func (e *Engine) initInstruments() {
	p := e.metricsProvider
	if p == nil {
		return
	}
	e.instruments = instruments{
		ticks:        p.NewCounter(intmetrics.CounterOpts{CommonOpts: intmetrics.CommonOpts{Namespace: "stride", Subsystem: "session", Name: "ticks_total", Help: "Decision ticks executed"}}),
		tickDuration: p.NewHistogram(intmetrics.HistogramOpts{CommonOpts: intmetrics.CommonOpts{Namespace: "stride", Subsystem: "session", Name: "tick_duration_seconds", Help: "Tick critical path latency"}, Buckets: []float64{0.001, 0.0025, 0.005, 0.010, 0.015, 0.025, 0.050, 0.100}}),
		alerts:       p.NewCounter(intmetrics.CounterOpts{CommonOpts: intmetrics.CommonOpts{Namespace: "stride", Subsystem: "decisions", Name: "alerts_total", Help: "Alerts emitted by kind", Labels: []string{"kind"}}}),
		glycogen:     p.NewGauge(intmetrics.GaugeOpts{CommonOpts: intmetrics.CommonOpts{Namespace: "stride", Subsystem: "fueling", Name: "glycogen_grams", Help: "Simulated glycogen reserve"}}),
		flushes:      p.NewCounter(intmetrics.CounterOpts{CommonOpts: intmetrics.CommonOpts{Namespace: "stride", Subsystem: "persistence", Name: "flushes_total", Help: "Buffer flushes", Labels: []string{"forced"}}}),
		storeErrors:  p.NewCounter(intmetrics.CounterOpts{CommonOpts: intmetrics.CommonOpts{Namespace: "stride", Subsystem: "persistence", Name: "errors_total", Help: "Persistence failures"}}),
		ingested:     p.NewCounter(intmetrics.CounterOpts{CommonOpts: intmetrics.CommonOpts{Namespace: "stride", Subsystem: "peer", Name: "ingested_sessions_total", Help: "Sessions rebuilt from peer streams"}}),
	}
}

// MetricsHandler returns the HTTP handler for metrics exposition
// (Prometheus backend only); nil if metrics are disabled or the backend has
// no handler.
func (e *Engine) MetricsHandler() http.Handler {
	if e == nil || e.metricsProvider == nil {
		return nil
	}
	if hp, ok := e.metricsProvider.(interface{ MetricsHandler() http.Handler }); ok {
		return hp.MetricsHandler()
	}
	return nil
}

// RegisterEventObserver adds an observer invoked synchronously for each
// telemetry event. Safe for concurrent use; nil observers are ignored.
func (e *Engine) RegisterEventObserver(obs EventObserver) {
	if e == nil || obs == nil {
		return
	}
	e.eventObserversMu.Lock()
	e.eventObservers = append(e.eventObservers, obs)
	e.eventObserversMu.Unlock()
}

// publishEvent feeds the internal bus and bridges to facade observers.
func (e *Engine) publishEvent(category, typ, severity string, fields map[string]interface{}) {
	ev := telemEvents.Event{Time: time.Now(), Category: category, Type: typ, Severity: severity, Fields: fields}
	_ = e.bus.Publish(ev)
	e.eventObserversMu.RLock()
	observers := append([]EventObserver(nil), e.eventObservers...)
	e.eventObserversMu.RUnlock()
	if len(observers) == 0 {
		return
	}
	pub := TelemetryEvent{Time: ev.Time, Category: ev.Category, Type: ev.Type, Severity: ev.Severity, Fields: ev.Fields}
	for _, o := range observers {
		func() { defer func() { _ = recover() }(); o(pub) }()
	}
}

// UpdateCalibration swaps the decision constants. The pace-variance and drift
// thresholds take effect on the next tick; the fuel thresholds apply from the
// next run start.
func (e *Engine) UpdateCalibration(c Calibration) {
	def := DefaultCalibration()
	if c.PaceVarianceRatio <= 0 {
		c.PaceVarianceRatio = def.PaceVarianceRatio
	}
	if c.DriftSlopeAlert <= 0 {
		c.DriftSlopeAlert = def.DriftSlopeAlert
	}
	if c.FuelWarningGrams <= 0 {
		c.FuelWarningGrams = def.FuelWarningGrams
	}
	if c.FuelCriticalGrams <= 0 {
		c.FuelCriticalGrams = def.FuelCriticalGrams
	}
	e.calMu.Lock()
	e.cal = c
	e.calMu.Unlock()
	e.do(func() {
		if e.adaptiveEng != nil {
			e.adaptiveEng.SetTunables(c.tunables())
		}
	})
}

func (c Calibration) tunables() adaptive.Tunables {
	t := adaptive.DefaultTunables()
	t.PaceVarianceRatio = c.PaceVarianceRatio
	t.DriftSlopeAlert = c.DriftSlopeAlert
	return t
}

func (c Calibration) fuelThresholds() fueling.Thresholds {
	return fueling.Thresholds{WarningGrams: c.FuelWarningGrams, CriticalGrams: c.FuelCriticalGrams}
}

func (e *Engine) calibration() Calibration {
	e.calMu.Lock()
	defer e.calMu.Unlock()
	return e.cal
}

// UpdateBaseline replaces the readiness input wholesale; effective on the
// next tick. No-op when no run is in flight.
func (e *Engine) UpdateBaseline(b models.ReadinessBaseline) {
	e.do(func() {
		if e.adaptiveEng != nil {
			e.adaptiveEng.UpdateBaseline(b)
		}
	})
}

// ConsumePeer decodes and applies one inbound peer dictionary. Undecodable
// messages are dropped with ErrProtocol; per-run-id rebuild buffers are
// unaffected by a bad message.
func (e *Engine) ConsumePeer(ctx context.Context, d map[string]interface{}) error {
	msg, err := peer.Decode(d)
	if err != nil {
		e.log.WarnCtx(ctx, "peer message dropped", "error", err)
		return err
	}
	if err := e.ingestor.Consume(ctx, msg); err != nil {
		e.publishEvent(telemEvents.CategoryPeer, "ingest_failed", "error", map[string]interface{}{"event": string(msg.Event), "error": err.Error()})
		return err
	}
	if msg.Event == peer.EventRunEnded && !msg.Discarded {
		if e.instruments.ingested != nil {
			e.instruments.ingested.Inc(1)
		}
		e.publishEvent(telemEvents.CategoryPeer, "session_rebuilt", "info", nil)
	}
	return nil
}

// Snapshot returns a unified state view.
func (e *Engine) Snapshot() Snapshot {
	var snap Snapshot
	e.do(func() {
		snap = Snapshot{
			Lifecycle:       e.lifecycle,
			ElapsedSec:      e.elapsedSec,
			DistanceMiles:   e.current.DistanceMiles,
			EnergyKcal:      e.energyKcal,
			LapIndex:        e.lapIndex,
			Fueling:         e.fuelStatus,
			Biomechanics:    e.lastBio,
			LastDecision:    e.lastDecision,
			LastAlert:       e.lastAlert,
			LastError:       e.lastError,
			ThermalMode:     e.governor.mode(),
			PeerReachable:   e.bridge.Reachable(),
			TelemetryBuffer: len(e.telemetryBuf),
			SnapshotBuffer:  len(e.snapshotBuf),
			MotionBuffer:    len(e.motionBuf),
		}
		if e.sess != nil {
			snap.SessionID = e.sess.ID
		}
	})
	return snap
}

// HealthSnapshot evaluates (or returns cached) subsystem health.
func (e *Engine) HealthSnapshot(ctx context.Context) telemetryhealth.Snapshot {
	return e.healthEval.Evaluate(ctx)
}

func (e *Engine) healthProbes() []telemetryhealth.Probe {
	storeProbe := telemetryhealth.ProbeFunc(func(ctx context.Context) telemetryhealth.ProbeResult {
		var saveErr error
		var depth int
		e.do(func() {
			saveErr = e.lastSaveErr
			depth = len(e.telemetryBuf) + len(e.snapshotBuf)
		})
		switch {
		case saveErr != nil:
			return telemetryhealth.Degraded("store", saveErr.Error())
		case depth > 4*e.cfg.FlushThreshold:
			return telemetryhealth.Unhealthy("store", "buffer backlog severe")
		default:
			return telemetryhealth.Healthy("store")
		}
	})
	peerProbe := telemetryhealth.ProbeFunc(func(ctx context.Context) telemetryhealth.ProbeResult {
		if e.bridge.Reachable() {
			return telemetryhealth.Healthy("peer")
		}
		return telemetryhealth.Degraded("peer", "unreachable; context updates only")
	})
	tickProbe := telemetryhealth.ProbeFunc(func(ctx context.Context) telemetryhealth.ProbeResult {
		var last time.Time
		var lifecycle models.LifecycleState
		e.do(func() { last = e.lastTickAt; lifecycle = e.lifecycle })
		if lifecycle != models.LifecycleRunning && lifecycle != models.LifecyclePaused {
			return telemetryhealth.Healthy("tick_loop")
		}
		if last.IsZero() || time.Since(last) > 3*e.cfg.TickInterval {
			return telemetryhealth.Unhealthy("tick_loop", "tick overdue")
		}
		return telemetryhealth.Healthy("tick_loop")
	})
	thermalProbe := telemetryhealth.ProbeFunc(func(ctx context.Context) telemetryhealth.ProbeResult {
		switch e.governor.mode() {
		case models.ThermalCritical:
			return telemetryhealth.Unhealthy("thermal", "critical degradation")
		case models.ThermalSerious:
			return telemetryhealth.Degraded("thermal", "serious degradation")
		default:
			return telemetryhealth.Healthy("thermal")
		}
	})
	return []telemetryhealth.Probe{storeProbe, peerProbe, tickProbe, thermalProbe}
}

// Close ends any in-flight run, stops the executor, and releases the store.
// Idempotent.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.Snapshot().Lifecycle.Active() {
			_ = e.EndRun(context.Background(), false)
		}
		e.governor.stop()
		close(e.cmds)
		<-e.loopDone
		e.bridge.Close()
		err = e.st.Close()
	})
	return err
}

// do marshals fn onto the session executor and blocks until it ran. There is
// no inline path: a call made from the executor goroutine itself would wait
// on itself.
func (e *Engine) do(fn func()) {
	select {
	case <-e.loopDone:
		return
	default:
	}
	done := make(chan struct{})
	defer func() {
		if r := recover(); r != nil {
			// closed cmds channel during shutdown; drop the call
			return
		}
		<-done
	}()
	e.cmds <- func() { fn(); close(done) }
}
