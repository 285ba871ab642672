package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stride/engine/models"
)

func ptr[T any](v T) *T { return &v }

func openTest(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "stride.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestMigrationsApplyMonotonically(t *testing.T) {
	st := openTest(t)
	v, err := st.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].version, v)
}

func TestMigrationsIdempotentAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stride.db")

	st, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	v, err := st.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].version, v)
}

func TestSessionRoundTrip(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	started := time.Unix(1700000000, 250000000).UTC()
	ended := started.Add(45 * time.Minute)
	sess := models.Session{
		ID:            uuid.NewString(),
		StartedAt:     started,
		EndedAt:       &ended,
		TotalEnergy:   512.5,
		TotalDistance: 5.2,
		AverageHR:     ptr(147.0),
		PeerWorkoutID: ptr("peer-1"),
		Effort:        ptr(4),
		Reflection:    ptr("solid tempo"),
		SyncPending:   true,
	}
	require.NoError(t, st.InsertSession(ctx, sess))

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.WithinDuration(t, started, got.StartedAt, time.Millisecond)
	require.NotNil(t, got.EndedAt)
	assert.WithinDuration(t, ended, *got.EndedAt, time.Millisecond)
	assert.Equal(t, 512.5, got.TotalEnergy)
	assert.Equal(t, 5.2, got.TotalDistance)
	assert.Equal(t, 147.0, *got.AverageHR)
	assert.Equal(t, "peer-1", *got.PeerWorkoutID)
	assert.Equal(t, 4, *got.Effort)
	assert.Equal(t, "solid tempo", *got.Reflection)
	assert.True(t, got.SyncPending)
}

func TestUpdateMissingSessionFails(t *testing.T) {
	st := openTest(t)
	err := st.UpdateSession(context.Background(), models.Session{ID: "absent", StartedAt: time.Now()})
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestSaveBatchUpsertsAndAppends(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	sess := models.Session{ID: uuid.NewString(), StartedAt: time.Unix(1700000000, 0).UTC(), SyncPending: true}
	base := sess.StartedAt

	points := make([]models.TelemetryPoint, 0, 59)
	snaps := make([]models.StateSnapshot, 0, 59)
	for i := 0; i < 59; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		points = append(points, models.TelemetryPoint{SessionID: sess.ID, Timestamp: ts, DistanceMiles: float64(i) * 0.003, HeartRateBPM: ptr(140.0)})
		snaps = append(snaps, models.StateSnapshot{SessionID: sess.ID, Timestamp: ts, Lifecycle: models.LifecycleRunning, ElapsedSec: float64(i)})
	}
	events := []models.RunEvent{
		{SessionID: sess.ID, Timestamp: base, Kind: models.EventStarted, Payload: []byte(`{"style":"base"}`)},
		{SessionID: sess.ID, Timestamp: base.Add(time.Minute), Kind: models.EventEnded, Payload: []byte(`{"discarded":false}`)},
	}

	// Session row does not exist yet; SaveBatch must create it.
	require.NoError(t, st.SaveBatch(ctx, sess, points, events, snaps))

	gotPoints, err := st.TelemetryPoints(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, gotPoints, 59)
	for i := 1; i < len(gotPoints); i++ {
		assert.False(t, gotPoints[i].Timestamp.Before(gotPoints[i-1].Timestamp), "timestamps nondecreasing")
	}

	gotEvents, err := st.RunEvents(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, gotEvents, 2)
	assert.Equal(t, models.EventStarted, gotEvents[0].Kind)
	assert.JSONEq(t, `{"style":"base"}`, string(gotEvents[0].Payload))

	gotSnaps, err := st.StateSnapshots(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, gotSnaps, 59)

	// Second batch updates the session row in place.
	ended := base.Add(time.Hour)
	sess.EndedAt = &ended
	sess.TotalDistance = 6.0
	require.NoError(t, st.SaveBatch(ctx, sess, nil, nil, nil))
	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, 6.0, got.TotalDistance)
}

func TestCascadeDelete(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	sess := models.Session{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	require.NoError(t, st.InsertSession(ctx, sess))
	require.NoError(t, st.SaveBatch(ctx, sess,
		[]models.TelemetryPoint{{SessionID: sess.ID, Timestamp: sess.StartedAt, DistanceMiles: 1}},
		[]models.RunEvent{{SessionID: sess.ID, Timestamp: sess.StartedAt, Kind: models.EventStarted}},
		[]models.StateSnapshot{{SessionID: sess.ID, Timestamp: sess.StartedAt, Lifecycle: models.LifecycleRunning}}))

	require.NoError(t, st.DeleteSession(ctx, sess.ID))

	points, err := st.TelemetryPoints(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, points)
	events, err := st.RunEvents(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
	snaps, err := st.StateSnapshots(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestPeerUniquenessPredicate(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	exists, err := st.SessionExistsByPeerID(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, exists)

	sess := models.Session{ID: uuid.NewString(), StartedAt: time.Now().UTC(), PeerWorkoutID: ptr("peer-run-7")}
	require.NoError(t, st.InsertSession(ctx, sess))

	exists, err = st.SessionExistsByPeerID(ctx, "peer-run-7")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := st.GetSessionByPeerID(ctx, "peer-run-7")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
}

func TestListSyncPending(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	a := models.Session{ID: uuid.NewString(), StartedAt: time.Unix(1700000000, 0).UTC(), SyncPending: true}
	b := models.Session{ID: uuid.NewString(), StartedAt: time.Unix(1700003600, 0).UTC(), SyncPending: false}
	require.NoError(t, st.InsertSession(ctx, a))
	require.NoError(t, st.InsertSession(ctx, b))

	pending, err := st.ListSyncPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)
}

func TestPruneDiscarded(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	ended := time.Now().UTC()
	empty := models.Session{ID: uuid.NewString(), StartedAt: ended.Add(-time.Minute), EndedAt: &ended}
	require.NoError(t, st.InsertSession(ctx, empty))

	kept := models.Session{ID: uuid.NewString(), StartedAt: ended.Add(-time.Hour), EndedAt: &ended, TotalDistance: 3}
	require.NoError(t, st.InsertSession(ctx, kept))

	n, err := st.PruneDiscarded(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = st.GetSession(ctx, empty.ID)
	assert.Error(t, err)
	_, err = st.GetSession(ctx, kept.ID)
	assert.NoError(t, err)
}

func TestTrainingPlanLifecycle(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	plan := models.TrainingPlan{ID: uuid.NewString(), Name: "10k block", RaceDate: day.AddDate(0, 1, 0), Active: true, CreatedAt: day}
	sessions := []models.TrainingSession{
		{ID: uuid.NewString(), PlanID: plan.ID, Date: day, Style: models.StyleTempo, TargetMiles: 5},
		{ID: uuid.NewString(), PlanID: plan.ID, Date: day.AddDate(0, 0, 1), Style: models.StyleRecovery, TargetMiles: 3},
	}
	require.NoError(t, st.InsertPlan(ctx, plan, sessions))

	got, err := st.ActivePlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, got.ID)

	ts, err := st.TrainingSessionOn(ctx, plan.ID, day.Add(9*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, sessions[0].ID, ts.ID)
	assert.False(t, ts.Completed)

	require.NoError(t, st.CompleteTrainingSession(ctx, ts.ID, 5.1, 4))
	ts, err = st.TrainingSessionOn(ctx, plan.ID, day)
	require.NoError(t, err)
	assert.True(t, ts.Completed)
	assert.Equal(t, 5.1, *ts.ActualMiles)
	assert.Equal(t, 4, *ts.Effort)

	// A second active plan deactivates the first.
	plan2 := models.TrainingPlan{ID: uuid.NewString(), Name: "next block", RaceDate: day.AddDate(0, 3, 0), Active: true, CreatedAt: day}
	require.NoError(t, st.InsertPlan(ctx, plan2, nil))
	got, err = st.ActivePlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, plan2.ID, got.ID)
}

func TestActivePlanAbsent(t *testing.T) {
	st := openTest(t)
	_, err := st.ActivePlan(context.Background())
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}
