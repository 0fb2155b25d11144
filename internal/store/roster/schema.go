package roster

const schemaVersion = 1

const schema = `
CREATE TABLE agents (
	agent_id       TEXT PRIMARY KEY,
	pubkey_hex     TEXT NOT NULL DEFAULT '',
	relay_token    TEXT NOT NULL DEFAULT '',
	token_expires  INTEGER NOT NULL DEFAULT 0,
	name           TEXT NOT NULL DEFAULT '',
	provider       TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL DEFAULT '',
	beat_count     INTEGER NOT NULL DEFAULT 0,
	registered_at  INTEGER NOT NULL DEFAULT 0,
	last_heartbeat INTEGER NOT NULL DEFAULT 0,
	origin_ip      TEXT NOT NULL DEFAULT '',
	metadata       TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE nonces (
	scope      TEXT NOT NULL,
	nonce      TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (scope, nonce)
);

CREATE INDEX nonces_expires_at ON nonces (expires_at);
`
