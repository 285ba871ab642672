package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"stride/engine/internal/adaptive"
	"stride/engine/internal/biomech"
	"stride/engine/internal/peer"
	telemEvents "stride/engine/internal/telemetry/events"
	"stride/engine/internal/thermal"
	"stride/engine/models"
)

// loop is the session executor: the single goroutine owning all mutable
// session state. Ticks and marshalled commands interleave here; nothing else
// touches the fields. The ticker beats for the life of the engine so the
// intent relay is drained even between runs; the run's critical path still
// ceases at end_run (an idle beat only drains intents and refreshes the
// display).
func (e *Engine) loop() {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	defer close(e.loopDone)
	for {
		select {
		case fn, ok := <-e.cmds:
			if !ok {
				return
			}
			fn()
		case <-ticker.C:
			e.tick()
		}
	}
}

// --- lifecycle operations ----------------------------------------------

// StartRun transitions idle|ended -> preparing -> running. Authorization
// failure leaves the engine idle with a readable last error.
func (e *Engine) StartRun(ctx context.Context, style models.RunStyle, indoor bool) error {
	if err := e.deps.Source.RequestAuthorization(ctx); err != nil {
		e.do(func() { e.lastError = fmt.Sprintf("authorization: %v", err) })
		e.log.WarnCtx(ctx, "run start rejected", "error", err)
		return fmt.Errorf("%w: %v", models.ErrPermissionDenied, err)
	}
	var startErr error
	e.do(func() { startErr = e.startRunLocked(ctx, style, indoor) })
	return startErr
}

func (e *Engine) startRunLocked(ctx context.Context, style models.RunStyle, indoor bool) error {
	if e.lifecycle != models.LifecycleIdle && e.lifecycle != models.LifecycleEnded {
		return fmt.Errorf("%w: start from %s", models.ErrInvalidTransition, e.lifecycle)
	}
	e.lifecycle = models.LifecyclePreparing

	handler := TelemetryHandler{OnSample: e.onSensorSample, OnMotion: e.onMotionSample}
	if err := e.deps.Source.BeginSession(ctx, indoor, handler); err != nil {
		e.lifecycle = models.LifecycleIdle
		e.lastError = fmt.Sprintf("session start: %v", err)
		e.log.ErrorCtx(ctx, "sensor session refused", "error", err)
		return fmt.Errorf("%w: %v", models.ErrSessionStartFailed, err)
	}

	now := time.Now().UTC()
	e.sess = &models.Session{ID: uuid.NewString(), StartedAt: now, SyncPending: true}
	e.resetRunStateLocked(style)

	if err := e.st.InsertSession(ctx, *e.sess); err != nil {
		// Nonfatal: the in-memory record exists; the first flush retries via upsert.
		e.recordSaveError(ctx, err)
	}

	e.lifecycle = models.LifecycleRunning
	e.appendRunEventLocked(models.EventStarted, map[string]interface{}{"style": string(style), "indoor": indoor})
	e.publishEvent(telemEvents.CategoryLifecycle, string(models.EventStarted), "info", map[string]interface{}{"session_id": e.sess.ID, "style": string(style)})
	e.peerSendLocked(peer.EventRunStarted, true, nil)
	e.publishDisplayLocked(true)
	e.log.InfoCtx(ctx, "run started", "session_id", e.sess.ID, "style", string(style), "indoor", indoor)
	return nil
}

func (e *Engine) resetRunStateLocked(style models.RunStyle) {
	baseline := e.cfg.DefaultBaseline
	baseline.AcuteLoad *= style.AcuteLoadBias()
	cal := e.calibration()
	e.adaptiveEng = adaptive.NewEngine(baseline, e.cfg.AthleteWeightKg, cal.fuelThresholds(), cal.tunables())
	e.motionBuf = e.motionBuf[:0]
	e.telemetryBuf = nil
	e.snapshotBuf = nil
	e.eventBuf = nil
	e.current = models.SensorSample{}
	e.elapsedSec = 0
	e.lastTickAt = time.Now()
	e.lastPaceDist = 0
	e.lastPaceElap = 0
	e.energyKcal = 0
	e.hrSum = 0
	e.hrCount = 0
	e.lapIndex = 0
	e.lastAlert = nil
	e.lastPromptAt = time.Time{}
	e.lastDisplayAt = time.Time{}
	e.lastDecision = nil
	e.lastPace = nil
	e.lastBio = models.BiomechanicalMetrics{}
	e.fuelStatus = e.adaptiveEng.FuelingStatus()
	e.lastError = ""
	e.lastSaveErr = nil
}

// PauseRun is allowed only from running.
func (e *Engine) PauseRun(ctx context.Context) error {
	var err error
	e.do(func() {
		if e.lifecycle != models.LifecycleRunning {
			err = fmt.Errorf("%w: pause from %s", models.ErrInvalidTransition, e.lifecycle)
			return
		}
		e.lifecycle = models.LifecyclePaused
		e.appendRunEventLocked(models.EventPaused, nil)
		e.publishEvent(telemEvents.CategoryLifecycle, string(models.EventPaused), "info", nil)
		e.peerSendLocked(peer.EventRunPaused, true, nil)
		e.publishDisplayLocked(true)
	})
	return err
}

// ResumeRun is allowed only from paused.
func (e *Engine) ResumeRun(ctx context.Context) error {
	var err error
	e.do(func() {
		if e.lifecycle != models.LifecyclePaused {
			err = fmt.Errorf("%w: resume from %s", models.ErrInvalidTransition, e.lifecycle)
			return
		}
		e.lifecycle = models.LifecycleRunning
		e.appendRunEventLocked(models.EventResumed, nil)
		e.publishEvent(telemEvents.CategoryLifecycle, string(models.EventResumed), "info", nil)
		e.peerSendLocked(peer.EventRunResumed, true, nil)
		e.publishDisplayLocked(true)
	})
	return err
}

// EndRun ends the run's tick path (later beats append no telemetry; the
// ticker itself keeps beating), finalizes the durable session, force-flushes
// both buffers, and notifies the peer. Persistence and finalize failures are
// best effort; the lifecycle still reaches ended.
func (e *Engine) EndRun(ctx context.Context, discarded bool) error {
	var err error
	e.do(func() { err = e.endRunLocked(ctx, discarded) })
	e.bridge.Flush()
	return err
}

func (e *Engine) endRunLocked(ctx context.Context, discarded bool) error {
	if !e.lifecycle.Active() {
		return fmt.Errorf("%w: end from %s", models.ErrInvalidTransition, e.lifecycle)
	}
	e.motionBuf = e.motionBuf[:0]

	workoutID, finErr := e.deps.Source.EndSession(ctx)
	if finErr != nil {
		e.lastError = fmt.Sprintf("finalize: %v", finErr)
		e.log.ErrorCtx(ctx, "sensor session finalize failed", "error", finErr)
	}

	now := time.Now().UTC()
	if e.sess != nil {
		if now.Before(e.sess.StartedAt) {
			now = e.sess.StartedAt
		}
		e.sess.EndedAt = &now
		e.sess.TotalEnergy = e.energyKcal
		e.sess.TotalDistance = e.current.DistanceMiles
		if e.hrCount > 0 {
			avg := e.hrSum / float64(e.hrCount)
			e.sess.AverageHR = &avg
		}
		if !discarded && finErr == nil && workoutID != "" {
			e.sess.PeerWorkoutID = &workoutID
		}
	}

	e.appendRunEventLocked(models.EventEnded, map[string]interface{}{"discarded": discarded})
	e.flushLocked(ctx, true)
	e.peerSendLocked(peer.EventRunEnded, true, func(m *peer.RunMessage) { m.Discarded = discarded })
	e.lifecycle = models.LifecycleEnded
	e.publishEvent(telemEvents.CategoryLifecycle, string(models.EventEnded), "info", map[string]interface{}{"discarded": discarded})
	e.publishDisplayLocked(true)
	e.log.InfoCtx(ctx, "run ended", "discarded", discarded, "distance_miles", e.current.DistanceMiles, "elapsed_sec", e.elapsedSec)

	if finErr != nil {
		return fmt.Errorf("%w: %v", models.ErrSessionFinalizeFailed, finErr)
	}
	return nil
}

// LogFuel applies a gel intake, clamped to [15, 40] grams (default 25).
func (e *Engine) LogFuel(ctx context.Context, grams float64) error {
	var err error
	e.do(func() { err = e.logFuelLocked(ctx, grams) })
	return err
}

func (e *Engine) logFuelLocked(ctx context.Context, grams float64) error {
	if e.adaptiveEng == nil {
		return models.ErrNoActiveSession
	}
	if grams <= 0 {
		grams = 25
	}
	grams = math.Min(40, math.Max(15, grams))
	e.fuelStatus = e.adaptiveEng.LogGel(grams)
	if e.instruments.glycogen != nil {
		e.instruments.glycogen.Set(e.fuelStatus.RemainingGrams)
	}
	e.appendRunEventLocked(models.EventFuelLogged, map[string]interface{}{"grams": grams})
	e.publishEvent(telemEvents.CategoryFueling, "gel_logged", "info", map[string]interface{}{"grams": grams, "remaining": e.fuelStatus.RemainingGrams})
	e.peerSendLocked(peer.EventFuelLogged, true, func(m *peer.RunMessage) { m.CarbsGrams = &grams })
	if e.deps.Coach != nil {
		e.deps.Coach.Haptic(models.HapticClick)
	}
	return nil
}

// MarkLap increments the lap index and notifies collaborators.
func (e *Engine) MarkLap(ctx context.Context) error {
	var err error
	e.do(func() { err = e.markLapLocked(ctx) })
	return err
}

func (e *Engine) markLapLocked(ctx context.Context) error {
	if !e.lifecycle.Active() {
		return models.ErrNoActiveSession
	}
	e.lapIndex++
	lap := e.lapIndex
	e.appendRunEventLocked(models.EventLapMarked, map[string]interface{}{"lap": lap})
	e.peerSendLocked(peer.EventLapMarked, true, func(m *peer.RunMessage) { m.LapIndex = &lap })
	if e.deps.Coach != nil {
		e.deps.Coach.Haptic(models.HapticNotification)
	}
	return nil
}

// DismissAlert clears the sticky last alert and records the acknowledgement.
func (e *Engine) DismissAlert(ctx context.Context) {
	e.do(func() { e.dismissAlertLocked() })
}

func (e *Engine) dismissAlertLocked() {
	if e.lastAlert == nil {
		return
	}
	kind := e.lastAlert.Kind
	e.lastAlert = nil
	e.appendRunEventLocked(models.EventAlertAcknowledged, map[string]interface{}{"kind": string(kind)})
}

// ToggleDetail flips the widget verbosity flag.
func (e *Engine) ToggleDetail() {
	e.do(func() {
		e.showDetail = !e.showDetail
		e.publishDisplayLocked(true)
	})
}

// --- sensor ingress -----------------------------------------------------

// onSensorSample marshals a pushed sample onto the executor. Drops under
// backpressure; the next sample supersedes it. The recover guards against a
// source that keeps pushing after Close.
func (e *Engine) onSensorSample(s models.SensorSample) {
	defer func() { _ = recover() }()
	select {
	case e.cmds <- func() { e.applySampleLocked(s) }:
	default:
	}
}

func (e *Engine) applySampleLocked(s models.SensorSample) {
	if e.lifecycle != models.LifecycleRunning && e.lifecycle != models.LifecyclePaused {
		return
	}
	// Distance is cumulative; never let a stale reading move it backward.
	if s.DistanceMiles < e.current.DistanceMiles {
		s.DistanceMiles = e.current.DistanceMiles
	}
	e.current = s
	if s.HeartRateBPM != nil {
		e.hrSum += *s.HeartRateBPM
		e.hrCount++
	}
	if s.TotalEnergyKcal != nil {
		e.energyKcal = *s.TotalEnergyKcal
	}
}

// onMotionSample appends to the bounded ring; overflow drops oldest.
func (e *Engine) onMotionSample(m models.MotionSample) {
	defer func() { _ = recover() }()
	select {
	case e.cmds <- func() {
		if e.lifecycle != models.LifecycleRunning {
			return
		}
		e.motionBuf = append(e.motionBuf, m)
		if len(e.motionBuf) > e.cfg.MotionBufferCap {
			e.motionBuf = e.motionBuf[len(e.motionBuf)-e.cfg.MotionBufferCap:]
		}
	}:
	default:
	}
}

// --- the tick -----------------------------------------------------------

// tick is the soft real-time critical path. It runs to completion on the
// executor; everything it calls is either pure, mutex-local, or queue-and-
// return, except the store save of a flush and the display and coach sink
// calls, which run synchronously.
func (e *Engine) tick() {
	started := time.Now()
	ctx, span := e.tracer.StartSpan(context.Background(), "tick")
	defer span.End()

	e.drainIntentsLocked(ctx)

	now := time.Now()
	if e.lifecycle == models.LifecycleRunning || e.lifecycle == models.LifecyclePaused {
		if !e.lastTickAt.IsZero() {
			e.elapsedSec += now.Sub(e.lastTickAt).Seconds()
		}
	}
	e.lastTickAt = now

	if !e.lifecycle.Active() {
		// Idle beat between runs: intents drained above, display kept fresh.
		e.publishDisplayLocked(false)
		e.observeTick(started)
		return
	}

	if e.lifecycle != models.LifecycleRunning {
		e.appendStateSnapshotLocked(now)
		e.flushLocked(ctx, false)
		e.publishDisplayLocked(false)
		e.observeTick(started)
		return
	}

	// Batched motion path: analyze and clear.
	if len(e.motionBuf) >= 2 {
		e.lastBio = biomech.Analyze(e.motionBuf)
	}
	e.motionBuf = e.motionBuf[:0]

	pace := e.computePaceLocked()
	e.lastPace = pace
	metrics := models.LiveRunMetrics{
		Timestamp:      now,
		HeartRateBPM:   e.current.HeartRateBPM,
		PaceSecPerMile: pace,
		DistanceMiles:  e.current.DistanceMiles,
		CadenceSPM:     e.current.CadenceSPM,
		GradePercent:   e.current.GradePercent,
		KcalPerMin:     e.current.KcalPerMin,
		HRZone:         e.current.HRZone,
	}
	if e.current.KcalPerMin != nil && e.current.TotalEnergyKcal == nil {
		e.energyKcal += *e.current.KcalPerMin * e.cfg.TickInterval.Minutes()
	}

	decision, err := e.adaptiveEng.Ingest(ctx, metrics)
	if err != nil {
		e.observeTick(started)
		return
	}
	e.lastDecision = &decision
	e.fuelStatus = decision.Fueling
	if e.instruments.glycogen != nil {
		e.instruments.glycogen.Set(decision.Fueling.RemainingGrams)
	}

	e.applyAlertsLocked(decision)
	e.coachLocked(decision, now)

	e.appendTelemetryLocked(metrics, decision)
	e.appendStateSnapshotLocked(now)

	e.peerSendLocked(peer.EventMetricSnapshot, false, func(m *peer.RunMessage) {
		snap := e.telemetrySnapshotLocked(metrics, decision)
		m.Metric = &snap
		m.HeartRate = metrics.HeartRateBPM
	})

	e.flushLocked(ctx, false)
	e.publishDisplayLocked(false)
	e.observeTick(started)
}

func (e *Engine) observeTick(started time.Time) {
	e.lastTickSpan = time.Since(started)
	if e.instruments.ticks != nil {
		e.instruments.ticks.Inc(1)
	}
	if e.instruments.tickDuration != nil {
		e.instruments.tickDuration.Observe(e.lastTickSpan.Seconds())
	}
}

func (e *Engine) drainIntentsLocked(ctx context.Context) {
	if e.deps.Intents == nil {
		return
	}
	for _, intent := range e.deps.Intents.Drain() {
		switch intent.Kind {
		case models.IntentStartRun:
			if e.lifecycle == models.LifecycleIdle || e.lifecycle == models.LifecycleEnded {
				style := intent.Style
				if style == "" {
					style = models.StyleBase
				}
				if err := e.deps.Source.RequestAuthorization(ctx); err != nil {
					e.lastError = fmt.Sprintf("authorization: %v", err)
					e.log.WarnCtx(ctx, "relayed start rejected", "error", err)
					continue
				}
				if err := e.startRunLocked(ctx, style, intent.Indoor); err != nil {
					e.log.WarnCtx(ctx, "relayed start failed", "error", err)
				}
			}
		case models.IntentLogFuel:
			grams := 0.0
			if intent.FuelGrams != nil {
				grams = *intent.FuelGrams
			}
			if err := e.logFuelLocked(ctx, grams); err != nil {
				e.log.WarnCtx(ctx, "relayed fuel log failed", "error", err)
			}
		case models.IntentMarkLap:
			if err := e.markLapLocked(ctx); err != nil {
				e.log.WarnCtx(ctx, "relayed lap mark failed", "error", err)
			}
		case models.IntentDismissAlert:
			e.dismissAlertLocked()
		case models.IntentToggleMetrics:
			e.showDetail = !e.showDetail
		}
	}
}

// computePaceLocked derives pace from cumulative (distance, elapsed), with
// delta-based refinement favoring the most recent interval when the athlete
// is actually moving.
func (e *Engine) computePaceLocked() *float64 {
	d := e.current.DistanceMiles
	if d < 0.005 || e.elapsedSec <= 0 {
		return nil
	}
	overall := e.elapsedSec / d
	dd := d - e.lastPaceDist
	dt := e.elapsedSec - e.lastPaceElap
	e.lastPaceDist = d
	e.lastPaceElap = e.elapsedSec
	if dd > 1e-4 && dt > 0 {
		inst := dt / dd
		pace := 0.7*inst + 0.3*overall
		return &pace
	}
	return &overall
}

// applyAlertsLocked updates the sticky last alert, firing the haptic only on
// a transition to a new alert kind. split re-fires each crossing.
func (e *Engine) applyAlertsLocked(d models.Decision) {
	for _, a := range d.Alerts {
		if e.instruments.alerts != nil {
			e.instruments.alerts.Inc(1, string(a.Kind))
		}
	}
	first := d.FirstAlert()
	if first == nil {
		return
	}
	transition := e.lastAlert == nil || e.lastAlert.Kind != first.Kind || first.Kind == models.AlertSplit
	alert := *first
	e.lastAlert = &alert
	if !transition {
		return
	}
	e.publishEvent(telemEvents.CategoryAlert, string(first.Kind), "warning", map[string]interface{}{"detail": first.Detail})
	if e.deps.Coach == nil {
		return
	}
	switch first.Kind {
	case models.AlertFuelCritical:
		e.deps.Coach.Haptic(models.HapticFailure)
	default:
		e.deps.Coach.Haptic(models.HapticNotification)
	}
}

func (e *Engine) coachLocked(d models.Decision, now time.Time) {
	msg, ok := e.coachSel.Prompt(d, now, e.lastPromptAt)
	if !ok {
		return
	}
	e.lastPromptAt = now
	if e.deps.Coach != nil && e.governor.mode().VoiceEnabled() {
		e.deps.Coach.Speak(msg)
	}
}

// --- buffers and flushing ----------------------------------------------

func (e *Engine) telemetrySnapshotLocked(m models.LiveRunMetrics, d models.Decision) models.TelemetrySnapshot {
	fuel := d.Fueling.RemainingGrams
	return models.TelemetrySnapshot{
		Timestamp:      m.Timestamp,
		DistanceMiles:  m.DistanceMiles,
		HeartRateBPM:   m.HeartRateBPM,
		PaceSecPerMile: m.PaceSecPerMile,
		CadenceSPM:     m.CadenceSPM,
		GradePercent:   m.GradePercent,
		FuelRemaining:  &fuel,
	}
}

func (e *Engine) appendTelemetryLocked(m models.LiveRunMetrics, d models.Decision) {
	e.telemetryBuf = append(e.telemetryBuf, e.telemetrySnapshotLocked(m, d))
}

func (e *Engine) appendStateSnapshotLocked(now time.Time) {
	if e.sess == nil {
		return
	}
	fuel := e.fuelStatus.RemainingGrams
	e.snapshotBuf = append(e.snapshotBuf, models.StateSnapshot{
		SessionID:  e.sess.ID,
		Timestamp:  now,
		Lifecycle:  e.lifecycle,
		ElapsedSec: e.elapsedSec,
		Sample: models.TelemetrySnapshot{
			Timestamp:      now,
			DistanceMiles:  e.current.DistanceMiles,
			HeartRateBPM:   e.current.HeartRateBPM,
			PaceSecPerMile: e.lastPace,
			CadenceSPM:     e.current.CadenceSPM,
			FuelRemaining:  &fuel,
		},
	})
}

func (e *Engine) appendRunEventLocked(kind models.RunEventKind, payload map[string]interface{}) {
	if e.sess == nil {
		return
	}
	var raw []byte
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	e.eventBuf = append(e.eventBuf, models.RunEvent{
		SessionID: e.sess.ID,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Payload:   raw,
	})
}

// flushLocked materializes the buffers into durable records when a buffer
// reached the threshold or the caller forces it. A persistence error never
// aborts the tick; buffers retain their contents for the next boundary.
func (e *Engine) flushLocked(ctx context.Context, forced bool) {
	if e.sess == nil {
		return
	}
	if !forced &&
		len(e.telemetryBuf) < e.cfg.FlushThreshold &&
		len(e.snapshotBuf) < e.cfg.FlushThreshold {
		return
	}
	if len(e.telemetryBuf) == 0 && len(e.snapshotBuf) == 0 && len(e.eventBuf) == 0 {
		return
	}

	points := make([]models.TelemetryPoint, 0, len(e.telemetryBuf))
	for _, s := range e.telemetryBuf {
		points = append(points, models.NewTelemetryPoint(e.sess.ID, s))
	}
	if err := e.st.SaveBatch(ctx, *e.sess, points, e.eventBuf, e.snapshotBuf); err != nil {
		e.recordSaveError(ctx, err)
		return
	}
	e.lastSaveErr = nil
	e.publishEvent(telemEvents.CategoryPersistence, "flush", "info", map[string]interface{}{
		"points": len(points), "events": len(e.eventBuf), "snapshots": len(e.snapshotBuf), "forced": forced,
	})
	if e.instruments.flushes != nil {
		label := "false"
		if forced {
			label = "true"
		}
		e.instruments.flushes.Inc(1, label)
	}
	e.telemetryBuf = nil
	e.snapshotBuf = nil
	e.eventBuf = nil
}

func (e *Engine) recordSaveError(ctx context.Context, err error) {
	e.lastSaveErr = err
	e.lastError = fmt.Sprintf("persistence: %v", err)
	e.log.ErrorCtx(ctx, "save failed; buffers retained", "error", err)
	e.publishEvent(telemEvents.CategoryPersistence, "save_failed", "error", map[string]interface{}{"error": err.Error()})
	if e.instruments.storeErrors != nil {
		e.instruments.storeErrors.Inc(1)
	}
}

// --- outbound fan-out ---------------------------------------------------

// peerSendLocked queues a peer publish. Lifecycle and discrete events force
// a direct send; metric snapshots ride the throttle.
func (e *Engine) peerSendLocked(kind peer.EventKind, force bool, customize func(*peer.RunMessage)) {
	now := time.Now().UTC()
	msg := peer.RunMessage{Event: kind, Timestamp: &now}
	if e.sess != nil {
		id := e.sess.ID
		msg.RunID = &id
	}
	lifecycle := e.lifecycle
	msg.Lifecycle = &lifecycle
	if customize != nil {
		customize(&msg)
	}
	e.bridge.Publish(msg, force)
}

// publishDisplayLocked pushes a widget snapshot, throttled unless forced.
func (e *Engine) publishDisplayLocked(force bool) {
	if e.deps.Display == nil {
		return
	}
	now := time.Now()
	if !force && !e.lastDisplayAt.IsZero() && now.Sub(e.lastDisplayAt) < e.cfg.DisplayInterval {
		return
	}
	e.lastDisplayAt = now
	fuel := e.fuelStatus.RemainingGrams
	state := models.WidgetState{
		Updated:       now,
		Lifecycle:     e.lifecycle,
		ElapsedSec:    e.elapsedSec,
		DistanceMiles: e.current.DistanceMiles,
		HeartRateBPM:  e.current.HeartRateBPM,
		FuelRemaining: &fuel,
		ShowDetail:    e.showDetail,
	}
	state.PaceSecPerMi = e.lastPace
	e.deps.Display.Publish(state)
}

// --- thermal governor wiring --------------------------------------------

// governorHandle adapts the thermal governor to the engine, bridging mode
// transitions onto the event bus.
type governorHandle struct {
	gov *thermal.Governor
}

func newGovernorHandle(source thermal.Source, interval time.Duration, e *Engine) *governorHandle {
	g := thermal.NewGovernor(source, interval)
	g.OnChange(func(mode models.ThermalMode) {
		e.publishEvent(telemEvents.CategoryThermal, "mode_change", "info", map[string]interface{}{
			"mode": string(mode), "motion_hz": mode.MotionRateHz(), "voice": mode.VoiceEnabled(),
		})
	})
	return &governorHandle{gov: g}
}

func (g *governorHandle) start()                   { g.gov.Start(context.Background()) }
func (g *governorHandle) stop()                    { g.gov.Stop() }
func (g *governorHandle) mode() models.ThermalMode { return g.gov.Mode() }
