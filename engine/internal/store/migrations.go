package store

// Schema versions are monotone; each migration is additive and runs inside
// one transaction. Version 0 means an empty database.

type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				started_at REAL NOT NULL,
				ended_at REAL,
				total_energy REAL NOT NULL DEFAULT 0,
				total_distance REAL NOT NULL DEFAULT 0,
				average_hr REAL,
				peer_workout_id TEXT,
				effort INTEGER,
				reflection TEXT,
				sync_pending INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS telemetry_points (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				ts REAL NOT NULL,
				distance_miles REAL NOT NULL DEFAULT 0,
				heart_rate_bpm REAL,
				pace_sec_per_mile REAL,
				cadence_spm REAL,
				grade_percent REAL,
				fuel_remaining REAL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_telemetry_session_ts ON telemetry_points(session_id, ts)`,
			`CREATE TABLE IF NOT EXISTS run_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				ts REAL NOT NULL,
				kind TEXT NOT NULL,
				payload BLOB
			)`,
			`CREATE INDEX IF NOT EXISTS idx_events_session_ts ON run_events(session_id, ts)`,
			`CREATE TABLE IF NOT EXISTS state_snapshots (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				ts REAL NOT NULL,
				lifecycle TEXT NOT NULL,
				elapsed_sec REAL NOT NULL DEFAULT 0,
				distance_miles REAL NOT NULL DEFAULT 0,
				heart_rate_bpm REAL,
				pace_sec_per_mile REAL,
				cadence_spm REAL,
				grade_percent REAL,
				fuel_remaining REAL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_snapshots_session_ts ON state_snapshots(session_id, ts)`,
		},
	},
	{
		version: 2,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS training_plans (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				race_date REAL NOT NULL,
				active INTEGER NOT NULL DEFAULT 0,
				created_at REAL NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS training_sessions (
				id TEXT PRIMARY KEY,
				plan_id TEXT NOT NULL REFERENCES training_plans(id) ON DELETE CASCADE,
				date REAL NOT NULL,
				style TEXT NOT NULL,
				target_miles REAL NOT NULL DEFAULT 0,
				completed INTEGER NOT NULL DEFAULT 0,
				actual_miles REAL,
				effort INTEGER
			)`,
			`CREATE INDEX IF NOT EXISTS idx_training_sessions_plan_date ON training_sessions(plan_id, date)`,
		},
	},
	{
		version: 3,
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_sessions_peer_workout ON sessions(peer_workout_id)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_sync_pending ON sessions(sync_pending)`,
		},
	},
}
