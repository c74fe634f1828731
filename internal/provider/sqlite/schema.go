package sqlite

// schemaDDL creates every table the provider uses. Records are stored as
// JSON in a data column with the key and sort columns broken out.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS targets (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL,
	project_id  TEXT NOT NULL,
	workflow_id TEXT NOT NULL,
	data        TEXT NOT NULL,
	UNIQUE (account_id, project_id, workflow_id)
);

CREATE TABLE IF NOT EXISTS observations (
	id          TEXT PRIMARY KEY,
	target_id   TEXT NOT NULL,
	run_id      TEXT NOT NULL,
	observed_at INTEGER NOT NULL,
	data        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_observations_target ON observations (target_id, observed_at DESC);

CREATE TABLE IF NOT EXISTS attempts (
	ledger_key     TEXT NOT NULL,
	attempt_number INTEGER NOT NULL,
	data           TEXT NOT NULL,
	PRIMARY KEY (ledger_key, attempt_number)
);

CREATE TABLE IF NOT EXISTS signatures (
	signature TEXT PRIMARY KEY,
	target_id TEXT NOT NULL,
	status    TEXT NOT NULL,
	data      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signatures_target ON signatures (target_id);

CREATE TABLE IF NOT EXISTS verdicts (
	run_id TEXT PRIMARY KEY,
	data   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cursors (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS locks (
	key        TEXT PRIMARY KEY,
	expires_at INTEGER NOT NULL
);
`
