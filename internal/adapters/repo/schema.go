package repo

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	global_id        TEXT PRIMARY KEY,
	source_id        TEXT NOT NULL DEFAULT '',
	group_id         TEXT NOT NULL DEFAULT '',
	author_id        TEXT NOT NULL DEFAULT '',
	publication_date TIMESTAMPTZ NOT NULL,
	parts            JSONB NOT NULL DEFAULT '[]',
	properties       JSONB
);
CREATE INDEX IF NOT EXISTS messages_publication_date_idx ON messages (publication_date);

CREATE TABLE IF NOT EXISTS message_relations (
	message_id          TEXT PRIMARY KEY,
	root_message_id     TEXT NOT NULL DEFAULT '',
	related_message_ids TEXT[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS terms (
	id       BIGSERIAL PRIMARY KEY,
	category TEXT NOT NULL,
	value    TEXT NOT NULL,
	group_id TEXT NOT NULL DEFAULT '',
	count    BIGINT NOT NULL DEFAULT 0,
	UNIQUE (category, value, group_id)
);

CREATE TABLE IF NOT EXISTS counted_messages (
	message_id TEXT PRIMARY KEY,
	counted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS message_counts (
	group_id TEXT PRIMARY KEY,
	count    BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS user_models (
	id         BIGSERIAL PRIMARY KEY,
	user_id    TEXT NOT NULL,
	model_type TEXT NOT NULL,
	UNIQUE (user_id, model_type)
);

CREATE TABLE IF NOT EXISTS user_model_entries (
	id                  BIGSERIAL PRIMARY KEY,
	user_model_id       BIGINT NOT NULL REFERENCES user_models (id) ON DELETE CASCADE,
	term_key            TEXT NOT NULL,
	scored_term         JSONB NOT NULL,
	score_sum           DOUBLE PRECISION NOT NULL DEFAULT 0,
	score_count         DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_change         TIMESTAMPTZ NOT NULL,
	adapted             BOOLEAN NOT NULL DEFAULT FALSE,
	needs_consolidation BOOLEAN NOT NULL DEFAULT FALSE,
	time_bins           JSONB,
	UNIQUE (user_model_id, term_key)
);
CREATE INDEX IF NOT EXISTS user_model_entries_pending_idx ON user_model_entries (id) WHERE needs_consolidation;

CREATE TABLE IF NOT EXISTS observations (
	id               TEXT PRIMARY KEY,
	seq              BIGSERIAL,
	user_id          TEXT NOT NULL,
	type             TEXT NOT NULL,
	message_id       TEXT NOT NULL,
	observation_date TIMESTAMPTZ NOT NULL,
	priority         INT NOT NULL,
	interest         TEXT NOT NULL,
	retraction       BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS observations_user_message_idx ON observations (user_id, message_id, type);

CREATE TABLE IF NOT EXISTS user_message_scores (
	message_id        TEXT NOT NULL,
	user_id           TEXT NOT NULL,
	score             DOUBLE PRECISION NOT NULL,
	interaction_level TEXT NOT NULL,
	scored_at         TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (message_id, user_id)
);

CREATE TABLE IF NOT EXISTS message_features (
	message_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	feature_id TEXT NOT NULL,
	value      DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (message_id, user_id, feature_id)
);
`
