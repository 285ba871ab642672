// Package store persists sessions and their child records in a single
// SQLite file. All writes go through one *sql.DB whose serialization is the
// process-wide write discipline; callers on the session executor see save as
// synchronous.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"stride/engine/models"
)

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies pending
// migrations. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// One writer; SQLite serializes anyway and this avoids SQLITE_BUSY churn.
	// The single pooled connection also keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	var current int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current)
	if err != nil {
		return fmt.Errorf("migrate: read version: %w", err)
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migrate v%d: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migrate v%d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migrate v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate v%d: %w", m.version, err)
		}
	}
	return nil
}

// SchemaVersion reports the applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v)
	return v, err
}

func toEpoch(t time.Time) float64 { return float64(t.UnixNano()) / 1e9 }

func fromEpoch(sec float64) time.Time {
	return time.Unix(0, int64(sec*1e9)).UTC()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toEpoch(*t)
}

// InsertSession creates the durable session row.
func (s *Store) InsertSession(ctx context.Context, sess models.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, ended_at, total_energy, total_distance, average_hr, peer_workout_id, effort, reflection, sync_pending)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, toEpoch(sess.StartedAt), nullableTime(sess.EndedAt), sess.TotalEnergy, sess.TotalDistance,
		sess.AverageHR, sess.PeerWorkoutID, sess.Effort, sess.Reflection, boolToInt(sess.SyncPending))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateSession rewrites the mutable session fields.
func (s *Store) UpdateSession(ctx context.Context, sess models.Session) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET started_at = ?, ended_at = ?, total_energy = ?, total_distance = ?, average_hr = ?,
		 peer_workout_id = ?, effort = ?, reflection = ?, sync_pending = ? WHERE id = ?`,
		toEpoch(sess.StartedAt), nullableTime(sess.EndedAt), sess.TotalEnergy, sess.TotalDistance, sess.AverageHR,
		sess.PeerWorkoutID, sess.Effort, sess.Reflection, boolToInt(sess.SyncPending), sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update session %s: %w", sess.ID, sql.ErrNoRows)
	}
	return nil
}

// GetSession loads one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, ended_at, total_energy, total_distance, average_hr, peer_workout_id, effort, reflection, sync_pending
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSession(row rowScanner) (models.Session, error) {
	var (
		sess        models.Session
		startedAt   float64
		endedAt     sql.NullFloat64
		avgHR       sql.NullFloat64
		peerID      sql.NullString
		effort      sql.NullInt64
		reflection  sql.NullString
		syncPending int
	)
	if err := row.Scan(&sess.ID, &startedAt, &endedAt, &sess.TotalEnergy, &sess.TotalDistance, &avgHR, &peerID, &effort, &reflection, &syncPending); err != nil {
		return models.Session{}, err
	}
	sess.StartedAt = fromEpoch(startedAt)
	if endedAt.Valid {
		t := fromEpoch(endedAt.Float64)
		sess.EndedAt = &t
	}
	if avgHR.Valid {
		v := avgHR.Float64
		sess.AverageHR = &v
	}
	if peerID.Valid {
		v := peerID.String
		sess.PeerWorkoutID = &v
	}
	if effort.Valid {
		v := int(effort.Int64)
		sess.Effort = &v
	}
	if reflection.Valid {
		v := reflection.String
		sess.Reflection = &v
	}
	sess.SyncPending = syncPending != 0
	return sess, nil
}

// GetSessionByPeerID loads the session materialized from a peer run id.
func (s *Store) GetSessionByPeerID(ctx context.Context, peerID string) (models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, ended_at, total_energy, total_distance, average_hr, peer_workout_id, effort, reflection, sync_pending
		 FROM sessions WHERE peer_workout_id = ? LIMIT 1`, peerID)
	return scanSession(row)
}

// SessionExistsByPeerID is the uniqueness predicate the ingest path checks
// before materializing a peer-originated session.
func (s *Store) SessionExistsByPeerID(ctx context.Context, peerID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE peer_workout_id = ? LIMIT 1`, peerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("peer uniqueness check: %w", err)
	}
	return true, nil
}

// DeleteSession removes a session; children cascade.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListSyncPending returns sessions still awaiting upstream sync.
func (s *Store) ListSyncPending(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, ended_at, total_energy, total_distance, average_hr, peer_workout_id, effort, reflection, sync_pending
		 FROM sessions WHERE sync_pending = 1 ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("list sync pending: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SaveBatch appends telemetry points, run events, and state snapshots to a
// session in one transaction and updates the session row. This is the single
// save the flush policy relies on: either the whole batch lands or none of
// it does, and the caller's buffers stay intact on error.
func (s *Store) SaveBatch(ctx context.Context, sess models.Session, points []models.TelemetryPoint, events []models.RunEvent, snapshots []models.StateSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET started_at = ?, ended_at = ?, total_energy = ?, total_distance = ?, average_hr = ?,
		 peer_workout_id = ?, effort = ?, reflection = ?, sync_pending = ? WHERE id = ?`,
		toEpoch(sess.StartedAt), nullableTime(sess.EndedAt), sess.TotalEnergy, sess.TotalDistance, sess.AverageHR,
		sess.PeerWorkoutID, sess.Effort, sess.Reflection, boolToInt(sess.SyncPending), sess.ID)
	if err != nil {
		return fmt.Errorf("save batch: session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, started_at, ended_at, total_energy, total_distance, average_hr, peer_workout_id, effort, reflection, sync_pending)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, toEpoch(sess.StartedAt), nullableTime(sess.EndedAt), sess.TotalEnergy, sess.TotalDistance,
			sess.AverageHR, sess.PeerWorkoutID, sess.Effort, sess.Reflection, boolToInt(sess.SyncPending)); err != nil {
			return fmt.Errorf("save batch: session insert: %w", err)
		}
	}

	for _, p := range points {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO telemetry_points (session_id, ts, distance_miles, heart_rate_bpm, pace_sec_per_mile, cadence_spm, grade_percent, fuel_remaining)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, toEpoch(p.Timestamp), p.DistanceMiles, p.HeartRateBPM, p.PaceSecPerMile, p.CadenceSPM, p.GradePercent, p.FuelRemaining); err != nil {
			return fmt.Errorf("save batch: telemetry: %w", err)
		}
	}
	for _, ev := range events {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_events (session_id, ts, kind, payload) VALUES (?, ?, ?, ?)`,
			sess.ID, toEpoch(ev.Timestamp), string(ev.Kind), ev.Payload); err != nil {
			return fmt.Errorf("save batch: event: %w", err)
		}
	}
	for _, snap := range snapshots {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state_snapshots (session_id, ts, lifecycle, elapsed_sec, distance_miles, heart_rate_bpm, pace_sec_per_mile, cadence_spm, grade_percent, fuel_remaining)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, toEpoch(snap.Timestamp), string(snap.Lifecycle), snap.ElapsedSec,
			snap.Sample.DistanceMiles, snap.Sample.HeartRateBPM, snap.Sample.PaceSecPerMile,
			snap.Sample.CadenceSPM, snap.Sample.GradePercent, snap.Sample.FuelRemaining); err != nil {
			return fmt.Errorf("save batch: snapshot: %w", err)
		}
	}
	return tx.Commit()
}

// TelemetryPoints returns a session's points ordered by timestamp.
func (s *Store) TelemetryPoints(ctx context.Context, sessionID string) ([]models.TelemetryPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, ts, distance_miles, heart_rate_bpm, pace_sec_per_mile, cadence_spm, grade_percent, fuel_remaining
		 FROM telemetry_points WHERE session_id = ? ORDER BY ts, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("telemetry points: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []models.TelemetryPoint
	for rows.Next() {
		var (
			p  models.TelemetryPoint
			ts float64
		)
		if err := rows.Scan(&p.ID, &p.SessionID, &ts, &p.DistanceMiles, &p.HeartRateBPM, &p.PaceSecPerMile, &p.CadenceSPM, &p.GradePercent, &p.FuelRemaining); err != nil {
			return nil, err
		}
		p.Timestamp = fromEpoch(ts)
		out = append(out, p)
	}
	return out, rows.Err()
}

// RunEvents returns a session's events in append order.
func (s *Store) RunEvents(ctx context.Context, sessionID string) ([]models.RunEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, ts, kind, payload FROM run_events WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("run events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []models.RunEvent
	for rows.Next() {
		var (
			ev   models.RunEvent
			ts   float64
			kind string
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ts, &kind, &ev.Payload); err != nil {
			return nil, err
		}
		ev.Timestamp = fromEpoch(ts)
		ev.Kind = models.RunEventKind(kind)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// StateSnapshots returns a session's snapshots ordered by timestamp.
func (s *Store) StateSnapshots(ctx context.Context, sessionID string) ([]models.StateSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, ts, lifecycle, elapsed_sec, distance_miles, heart_rate_bpm, pace_sec_per_mile, cadence_spm, grade_percent, fuel_remaining
		 FROM state_snapshots WHERE session_id = ? ORDER BY ts, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("state snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []models.StateSnapshot
	for rows.Next() {
		var (
			snap      models.StateSnapshot
			ts        float64
			lifecycle string
		)
		if err := rows.Scan(&snap.ID, &snap.SessionID, &ts, &lifecycle, &snap.ElapsedSec,
			&snap.Sample.DistanceMiles, &snap.Sample.HeartRateBPM, &snap.Sample.PaceSecPerMile,
			&snap.Sample.CadenceSPM, &snap.Sample.GradePercent, &snap.Sample.FuelRemaining); err != nil {
			return nil, err
		}
		snap.Timestamp = fromEpoch(ts)
		snap.Sample.Timestamp = snap.Timestamp
		snap.Lifecycle = models.LifecycleState(lifecycle)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// PruneDiscarded removes sessions that ended with no recorded distance and
// no child telemetry (abandoned starts).
func (s *Store) PruneDiscarded(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE ended_at IS NOT NULL AND total_distance = 0
		 AND id NOT IN (SELECT DISTINCT session_id FROM telemetry_points)`)
	if err != nil {
		return 0, fmt.Errorf("prune discarded: %w", err)
	}
	return res.RowsAffected()
}

// --- training plans -----------------------------------------------------

// InsertPlan stores a plan and its sessions.
func (s *Store) InsertPlan(ctx context.Context, plan models.TrainingPlan, sessions []models.TrainingSession) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if plan.Active {
		if _, err := tx.ExecContext(ctx, `UPDATE training_plans SET active = 0`); err != nil {
			return fmt.Errorf("insert plan: deactivate: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO training_plans (id, name, race_date, active, created_at) VALUES (?, ?, ?, ?, ?)`,
		plan.ID, plan.Name, toEpoch(plan.RaceDate), boolToInt(plan.Active), toEpoch(plan.CreatedAt)); err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	for _, ts := range sessions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO training_sessions (id, plan_id, date, style, target_miles, completed, actual_miles, effort)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ts.ID, plan.ID, toEpoch(ts.Date), string(ts.Style), ts.TargetMiles, boolToInt(ts.Completed), ts.ActualMiles, ts.Effort); err != nil {
			return fmt.Errorf("insert plan: session: %w", err)
		}
	}
	return tx.Commit()
}

// ActivePlan returns the active plan, or sql.ErrNoRows wrapped when none.
func (s *Store) ActivePlan(ctx context.Context) (models.TrainingPlan, error) {
	var (
		plan      models.TrainingPlan
		raceDate  float64
		active    int
		createdAt float64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, race_date, active, created_at FROM training_plans WHERE active = 1 LIMIT 1`).
		Scan(&plan.ID, &plan.Name, &raceDate, &active, &createdAt)
	if err != nil {
		return models.TrainingPlan{}, fmt.Errorf("active plan: %w", err)
	}
	plan.RaceDate = fromEpoch(raceDate)
	plan.Active = active != 0
	plan.CreatedAt = fromEpoch(createdAt)
	return plan, nil
}

// TrainingSessionOn returns the plan's session whose date falls on the same
// UTC day as t.
func (s *Store) TrainingSessionOn(ctx context.Context, planID string, t time.Time) (models.TrainingSession, error) {
	t = t.UTC()
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)
	var (
		ts          models.TrainingSession
		date        float64
		style       string
		completed   int
		actualMiles sql.NullFloat64
		effort      sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, plan_id, date, style, target_miles, completed, actual_miles, effort
		 FROM training_sessions WHERE plan_id = ? AND date >= ? AND date < ? LIMIT 1`,
		planID, toEpoch(dayStart), toEpoch(dayEnd)).
		Scan(&ts.ID, &ts.PlanID, &date, &style, &ts.TargetMiles, &completed, &actualMiles, &effort)
	if err != nil {
		return models.TrainingSession{}, fmt.Errorf("training session on %s: %w", dayStart.Format("2006-01-02"), err)
	}
	ts.Date = fromEpoch(date)
	ts.Style = models.RunStyle(style)
	ts.Completed = completed != 0
	if actualMiles.Valid {
		v := actualMiles.Float64
		ts.ActualMiles = &v
	}
	if effort.Valid {
		v := int(effort.Int64)
		ts.Effort = &v
	}
	return ts, nil
}

// CompleteTrainingSession marks a planned session done with actuals.
func (s *Store) CompleteTrainingSession(ctx context.Context, id string, actualMiles float64, effort int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE training_sessions SET completed = 1, actual_miles = ?, effort = ? WHERE id = ?`,
		actualMiles, effort, id)
	if err != nil {
		return fmt.Errorf("complete training session: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
