package store

// Schema is applied on open; CREATE IF NOT EXISTS keeps it idempotent for
// existing databases. Timestamps: issue/event in ms, session tables in
// seconds (session_graph truncated to the hour, daily_denied to the day).
const schema = `
CREATE TABLE IF NOT EXISTS project (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	key    TEXT UNIQUE NOT NULL,
	name   TEXT NOT NULL DEFAULT '',
	origin TEXT NOT NULL DEFAULT '*',
	scrape INTEGER NOT NULL DEFAULT 0,
	tags   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS issue (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	hash       BLOB NOT NULL,
	project_id INTEGER NOT NULL REFERENCES project(id),
	ts_first   INTEGER NOT NULL,
	ts_last    INTEGER NOT NULL,
	event_c    INTEGER NOT NULL DEFAULT 1,
	sess_c     INTEGER NOT NULL DEFAULT 1,
	"ignore"   INTEGER NOT NULL DEFAULT 0,
	done       INTEGER NOT NULL DEFAULT 0,
	name       TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	uri        TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_issue_hash ON issue(project_id, hash);
CREATE INDEX IF NOT EXISTS idx_issue_ts_last ON issue(project_id, ts_last);

CREATE TABLE IF NOT EXISTS event (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES project(id),
	issue_id   INTEGER NOT NULL REFERENCES issue(id),
	ts         INTEGER NOT NULL,
	type       TEXT NOT NULL DEFAULT '',
	data       BLOB
);

CREATE INDEX IF NOT EXISTS idx_event_issue ON event(issue_id, ts);

CREATE TABLE IF NOT EXISTS session (
	id         BLOB NOT NULL,
	project_id INTEGER NOT NULL REFERENCES project(id),
	ts         INTEGER NOT NULL,
	e          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (id, project_id)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS session_issue (
	id       BLOB NOT NULL,
	issue_id INTEGER NOT NULL,
	PRIMARY KEY (id, issue_id)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS session_graph (
	project_id INTEGER NOT NULL,
	ts         INTEGER NOT NULL,
	c          INTEGER NOT NULL DEFAULT 0,
	e          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (project_id, ts)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS daily_denied (
	ts   INTEGER NOT NULL,
	type TEXT NOT NULL,
	key  TEXT NOT NULL,
	c    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (ts, type, key)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS meta (
	k TEXT PRIMARY KEY,
	v TEXT NOT NULL
) WITHOUT ROWID;
`
