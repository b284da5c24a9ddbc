package repository

// schemaVersion is stored in PRAGMA user_version.
const schemaVersion = 1

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id          TEXT    NOT NULL,
		ts          INTEGER NOT NULL,
		scope       TEXT    NOT NULL DEFAULT '',
		source      TEXT    NOT NULL,
		actor       TEXT    NOT NULL DEFAULT '',
		type        TEXT    NOT NULL,
		ref_id      TEXT    NOT NULL,
		title       TEXT    NOT NULL DEFAULT '',
		url         TEXT    NOT NULL DEFAULT '',
		meta        TEXT    NOT NULL DEFAULT '{}',
		ingested_at INTEGER NOT NULL,
		UNIQUE (source, ref_id, type, ts)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_scope_ts ON events (scope, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_events_ts ON events (ts)`,

	`CREATE TABLE IF NOT EXISTS ingest_cursors (
		key        TEXT    PRIMARY KEY,
		value      TEXT    NOT NULL,
		updated_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS daily_metrics (
		as_of_date       TEXT    NOT NULL,
		scope            TEXT    NOT NULL,
		prs_opened       INTEGER NOT NULL,
		prs_merged       INTEGER NOT NULL,
		avg_review_hours REAL    NOT NULL,
		review_samples   INTEGER NOT NULL,
		tickets_moved    INTEGER NOT NULL,
		tickets_blocked  INTEGER NOT NULL,
		metrics          TEXT    NOT NULL,
		computed_at      INTEGER NOT NULL,
		PRIMARY KEY (as_of_date, scope)
	)`,

	`CREATE TABLE IF NOT EXISTS journeys (
		id            TEXT    PRIMARY KEY,
		scope         TEXT    NOT NULL,
		desired_state TEXT    NOT NULL,
		current_state TEXT    NOT NULL,
		preferences   TEXT    NOT NULL,
		is_active     INTEGER NOT NULL DEFAULT 1,
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	)`,
	// at most one active journey per scope
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_journeys_active ON journeys (scope) WHERE is_active = 1`,

	`CREATE TABLE IF NOT EXISTS recommendations (
		id               TEXT    PRIMARY KEY,
		created_at       INTEGER NOT NULL,
		scope            TEXT    NOT NULL,
		journey_id       TEXT    NOT NULL DEFAULT '',
		weights_key      TEXT    NOT NULL,
		context_snapshot TEXT    NOT NULL,
		response         TEXT    NOT NULL,
		action_taken     TEXT,
		outcome          TEXT,
		feedback_score   INTEGER CHECK (feedback_score IN (-1, 0, 1)),
		time_to_complete INTEGER,
		completed_at     INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recommendations_scope ON recommendations (scope, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_recommendations_created ON recommendations (created_at)`,

	`CREATE TABLE IF NOT EXISTS context_cache (
		key        TEXT    PRIMARY KEY,
		data       BLOB    NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
}
