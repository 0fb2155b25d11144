package roster

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"beacon/internal/domain"
)

// SQLite is a domain.Roster backed by one database file.
type SQLite struct {
	db *sql.DB
}

var _ domain.Roster = (*SQLite)(nil)

// Open opens or creates the roster at path and applies the schema.
func Open(path string) (*SQLite, error) {
	if path == "" || strings.Contains(path, ":memory:") {
		return nil, fmt.Errorf("roster needs a database file path")
	}
	params := make(url.Values)
	params.Add("_txlock", "immediate")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "synchronous(NORMAL)")

	dsn := path + "?" + params.Encode()
	if !strings.HasPrefix(path, "file:") {
		dsn = "file:" + dsn
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening roster database: %w", err)
	}
	// One connection: every transaction is serialized in-process before it
	// ever reaches SQLite's lock.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.setup(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) setup() error {
	var existing int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&existing); err != nil {
		return fmt.Errorf("checking roster schema version: %w", err)
	}
	switch {
	case existing == 0:
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("applying roster schema: %w", err)
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("writing roster schema version: %w", err)
		}
		return nil
	case existing != schemaVersion:
		return fmt.Errorf("roster schema version mismatch: expected %d, have %d", schemaVersion, existing)
	default:
		return nil
	}
}

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }

// InTx runs fn inside one immediate transaction.
func (s *SQLite) InTx(ctx context.Context, fn func(tx domain.RosterTx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin roster tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()
	if err = fn(&tx{ctx: ctx, q: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit roster tx: %w", err)
	}
	return nil
}

// ListAgents returns every roster row ordered by agent id.
func (s *SQLite) ListAgents(ctx context.Context) ([]domain.RelayAgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectAgent+` ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []domain.RelayAgentRecord
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneNonces deletes nonces whose retention ended before the cutoff.
func (s *SQLite) PruneNonces(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nonces WHERE expires_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune nonces: %w", err)
	}
	return res.RowsAffected()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type tx struct {
	ctx context.Context
	q   querier
}

// Reserve inserts the nonce, or takes over an entry whose retention has
// lapsed. Zero rows affected means a live entry already holds it.
func (t *tx) Reserve(scope, nonce string, now time.Time, retain time.Duration) (bool, error) {
	res, err := t.q.ExecContext(t.ctx, `
		INSERT INTO nonces (scope, nonce, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (scope, nonce) DO UPDATE SET expires_at = excluded.expires_at
		WHERE nonces.expires_at <= ?`,
		scope, nonce, now.Add(retain).UnixMilli(), now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("reserve nonce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const selectAgent = `SELECT agent_id, pubkey_hex, relay_token, token_expires, name, provider,
	status, beat_count, registered_at, last_heartbeat, origin_ip, metadata FROM agents`

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (domain.RelayAgentRecord, error) {
	var (
		rec                           domain.RelayAgentRecord
		id                            string
		expires, registered, lastBeat int64
		meta                          string
	)
	err := row.Scan(&id, &rec.PubkeyHex, &rec.RelayToken, &expires, &rec.Name, &rec.Provider,
		&rec.Status, &rec.BeatCount, &registered, &lastBeat, &rec.OriginIP, &meta)
	if err != nil {
		return rec, err
	}
	rec.AgentID = domain.AgentID(id)
	rec.TokenExpires = fromMillis(expires)
	rec.RegisteredAt = fromMillis(registered)
	rec.LastHeartbeat = fromMillis(lastBeat)
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return rec, fmt.Errorf("agent %s metadata: %w", id, err)
		}
	}
	return rec, nil
}

func (t *tx) GetAgent(id domain.AgentID) (domain.RelayAgentRecord, bool, error) {
	rec, err := scanAgent(t.q.QueryRowContext(t.ctx, selectAgent+` WHERE agent_id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RelayAgentRecord{}, false, nil
	}
	if err != nil {
		return domain.RelayAgentRecord{}, false, fmt.Errorf("get agent: %w", err)
	}
	return rec, true, nil
}

func (t *tx) InsertAgent(rec domain.RelayAgentRecord) error {
	meta, err := encodeMeta(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(t.ctx, `
		INSERT INTO agents (agent_id, pubkey_hex, relay_token, token_expires, name, provider,
			status, beat_count, registered_at, last_heartbeat, origin_ip, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AgentID.String(), rec.PubkeyHex, rec.RelayToken, toMillis(rec.TokenExpires), rec.Name,
		rec.Provider, rec.Status, rec.BeatCount, toMillis(rec.RegisteredAt),
		toMillis(rec.LastHeartbeat), rec.OriginIP, meta)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (t *tx) UpdateAgent(rec domain.RelayAgentRecord) error {
	meta, err := encodeMeta(rec.Metadata)
	if err != nil {
		return err
	}
	res, err := t.q.ExecContext(t.ctx, `
		UPDATE agents SET pubkey_hex = ?, relay_token = ?, token_expires = ?, name = ?,
			provider = ?, status = ?, beat_count = ?, registered_at = ?, last_heartbeat = ?,
			origin_ip = ?, metadata = ?
		WHERE agent_id = ?`,
		rec.PubkeyHex, rec.RelayToken, toMillis(rec.TokenExpires), rec.Name, rec.Provider,
		rec.Status, rec.BeatCount, toMillis(rec.RegisteredAt), toMillis(rec.LastHeartbeat),
		rec.OriginIP, meta, rec.AgentID.String())
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update agent %s: %w", rec.AgentID, domain.ErrNotFound)
	}
	return nil
}

func (t *tx) DeleteAgent(id domain.AgentID) (bool, error) {
	res, err := t.q.ExecContext(t.ctx, `DELETE FROM agents WHERE agent_id = ?`, id.String())
	if err != nil {
		return false, fmt.Errorf("delete agent: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func encodeMeta(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
