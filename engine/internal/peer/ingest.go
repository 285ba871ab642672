package peer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"stride/engine/internal/store"
	"stride/engine/models"
)

// defaultPeerEffort is recorded when a peer-rebuilt run auto-completes a
// planned training session.
const defaultPeerEffort = 3

// Ingestor rebuilds durable sessions from inbound peer messages. Buffers are
// keyed by peer run id; a per-device rolling id substitutes when the peer
// omits one. The live local session record is never touched here.
type Ingestor struct {
	store *store.Store
	log   *slog.Logger

	mu       sync.Mutex
	buffers  map[string]*rebuild
	fallback string
}

type ingestEvent struct {
	at      time.Time
	kind    models.RunEventKind
	payload []byte
}

type rebuild struct {
	startedAt time.Time
	endedAt   time.Time
	snapshots []models.TelemetrySnapshot
	events    []ingestEvent
}

// NewIngestor wires an ingestor over the durable store.
func NewIngestor(st *store.Store, log *slog.Logger) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{store: st, log: log, buffers: make(map[string]*rebuild)}
}

// Consume applies one decoded peer message. Unknown run ids auto-create
// buffers; decoding failures never reach here (the caller drops them).
func (i *Ingestor) Consume(ctx context.Context, msg RunMessage) error {
	i.mu.Lock()
	key := i.bufferKeyLocked(msg)
	at := msgTime(msg)

	rb := i.buffers[key]
	if rb == nil {
		rb = &rebuild{startedAt: at}
		i.buffers[key] = rb
	}

	switch msg.Event {
	case EventRunStarted:
		rb.startedAt = at
	case EventMetricSnapshot:
		if msg.Metric != nil {
			snap := *msg.Metric
			if snap.Timestamp.IsZero() {
				snap.Timestamp = at
			}
			rb.snapshots = append(rb.snapshots, snap)
		}
	case EventRunEnded:
		rb.endedAt = at
	}
	rb.events = append(rb.events, ingestEvent{at: at, kind: runEventKind(msg.Event), payload: encodePayload(msg)})

	if msg.Event != EventRunEnded {
		i.mu.Unlock()
		return nil
	}
	delete(i.buffers, key)
	if i.fallback == key {
		i.fallback = ""
	}
	i.mu.Unlock()

	if msg.Discarded {
		i.log.Info("peer run discarded", "run_id", key)
		return nil
	}
	return i.finalize(ctx, key, rb)
}

// bufferKeyLocked resolves the buffer key: the peer run id when present,
// else a rolling per-device id spanning one started..ended episode.
func (i *Ingestor) bufferKeyLocked(msg RunMessage) string {
	if msg.RunID != nil && *msg.RunID != "" {
		return *msg.RunID
	}
	if i.fallback == "" || msg.Event == EventRunStarted {
		i.fallback = uuid.NewString()
	}
	return i.fallback
}

func (i *Ingestor) finalize(ctx context.Context, runID string, rb *rebuild) error {
	exists, err := i.store.SessionExistsByPeerID(ctx, runID)
	if err != nil {
		return err
	}
	if exists {
		i.log.Info("peer run already materialized", "run_id", runID)
		return nil
	}

	started := rb.startedAt
	ended := rb.endedAt
	if ended.Before(started) {
		ended = started
	}
	durationSec := ended.Sub(started).Seconds()
	if durationSec < 1 {
		durationSec = 1
		ended = started.Add(time.Second)
	}

	var distance float64
	if n := len(rb.snapshots); n > 0 {
		distance = rb.snapshots[n-1].DistanceMiles
	}
	var avgHR *float64
	var hrSum float64
	var hrCount int
	for _, s := range rb.snapshots {
		if s.HeartRateBPM != nil {
			hrSum += *s.HeartRateBPM
			hrCount++
		}
	}
	if hrCount > 0 {
		mean := hrSum / float64(hrCount)
		avgHR = &mean
	}

	peerID := runID
	sess := models.Session{
		ID:            uuid.NewString(),
		StartedAt:     started,
		EndedAt:       &ended,
		TotalDistance: distance,
		AverageHR:     avgHR,
		PeerWorkoutID: &peerID,
	}

	points := make([]models.TelemetryPoint, 0, len(rb.snapshots))
	for _, s := range rb.snapshots {
		points = append(points, models.NewTelemetryPoint(sess.ID, s))
	}
	events := make([]models.RunEvent, 0, len(rb.events))
	snapshots := make([]models.StateSnapshot, 0, len(rb.events))
	for _, ev := range rb.events {
		events = append(events, models.RunEvent{SessionID: sess.ID, Timestamp: ev.at, Kind: ev.kind, Payload: ev.payload})
		elapsed := ev.at.Sub(started).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		snapshots = append(snapshots, models.StateSnapshot{
			SessionID:  sess.ID,
			Timestamp:  ev.at,
			Lifecycle:  lifecycleFor(ev.kind),
			ElapsedSec: elapsed,
		})
	}

	if err := i.store.SaveBatch(ctx, sess, points, events, snapshots); err != nil {
		return err
	}
	i.log.Info("peer run materialized", "run_id", runID, "session_id", sess.ID,
		"distance_miles", distance, "duration_sec", durationSec)

	i.autoCompletePlan(ctx, ended, distance)
	return nil
}

// autoCompletePlan marks today's planned training session complete with the
// synthesized distance. Best effort; absence of a plan is not an error.
func (i *Ingestor) autoCompletePlan(ctx context.Context, day time.Time, distance float64) {
	plan, err := i.store.ActivePlan(ctx)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			i.log.Warn("active plan lookup failed", "error", err)
		}
		return
	}
	ts, err := i.store.TrainingSessionOn(ctx, plan.ID, day)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			i.log.Warn("training session lookup failed", "error", err)
		}
		return
	}
	if ts.Completed {
		return
	}
	if err := i.store.CompleteTrainingSession(ctx, ts.ID, distance, defaultPeerEffort); err != nil {
		i.log.Warn("training session auto-complete failed", "error", err)
	}
}

// PendingBuffers reports in-flight rebuild count (diagnostics).
func (i *Ingestor) PendingBuffers() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.buffers)
}

func msgTime(msg RunMessage) time.Time {
	if msg.Timestamp != nil {
		return *msg.Timestamp
	}
	if msg.Metric != nil && !msg.Metric.Timestamp.IsZero() {
		return msg.Metric.Timestamp
	}
	return time.Now().UTC()
}

func runEventKind(k EventKind) models.RunEventKind {
	switch k {
	case EventRunStarted:
		return models.EventStarted
	case EventRunPaused:
		return models.EventPaused
	case EventRunResumed:
		return models.EventResumed
	case EventRunEnded:
		return models.EventEnded
	case EventFuelLogged:
		return models.EventFuelLogged
	case EventLapMarked:
		return models.EventLapMarked
	default:
		return models.EventMetricRecorded
	}
}

func lifecycleFor(k models.RunEventKind) models.LifecycleState {
	switch k {
	case models.EventPaused:
		return models.LifecyclePaused
	case models.EventEnded:
		return models.LifecycleEnded
	default:
		return models.LifecycleRunning
	}
}

func encodePayload(msg RunMessage) []byte {
	b, err := json.Marshal(msg.Encode())
	if err != nil {
		return nil
	}
	return b
}
