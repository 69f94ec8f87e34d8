package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/riskfusion/internal/db"
	"github.com/sells-group/riskfusion/internal/model"
)

// PostgresLog implements Backend using pgxpool.
type PostgresLog struct {
	pool      db.Pool
	workspace string
	closeFn   func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres connects a pool and scopes it to workspace.
func NewPostgres(ctx context.Context, connString, workspace string, poolCfg *PoolConfig) (*PostgresLog, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresLog{pool: pool, workspace: workspace, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS training_samples (
	workspace  TEXT   NOT NULL,
	sample_key TEXT   NOT NULL,
	id         TEXT   NOT NULL,
	ts_ms      BIGINT NOT NULL,
	tier       TEXT   NOT NULL DEFAULT 'hot',
	payload    BYTEA  NOT NULL,
	PRIMARY KEY (workspace, sample_key)
);

CREATE TABLE IF NOT EXISTS fusion_weights (
	workspace  TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	payload    JSONB   NOT NULL,
	updated_ms BIGINT  NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_log (
	id           BIGSERIAL PRIMARY KEY,
	workspace    TEXT    NOT NULL,
	peer         TEXT    NOT NULL,
	status       TEXT    NOT NULL,
	started_ms   BIGINT  NOT NULL,
	completed_ms BIGINT  NOT NULL,
	imported     INTEGER NOT NULL DEFAULT 0,
	replaced     INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	rejected     INTEGER NOT NULL DEFAULT 0,
	unverified   INTEGER NOT NULL DEFAULT 0,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_training_samples_ts ON training_samples(workspace, ts_ms DESC);
CREATE INDEX IF NOT EXISTS idx_training_samples_tier ON training_samples(workspace, tier);
CREATE INDEX IF NOT EXISTS idx_sync_log_workspace ON sync_log(workspace, started_ms DESC);
`

// Migrate creates the tables if they do not exist.
func (s *PostgresLog) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresLog) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var sampleColumns = []string{"workspace", "sample_key", "id", "ts_ms", "tier", "payload"}

// Apply writes b in one transaction. Inserts are bulk-loaded with COPY, so
// a duplicate key aborts the whole batch.
func (s *PostgresLog) Apply(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if len(b.Insert) > 0 {
		rows := make([][]any, len(b.Insert))
		for i, r := range b.Insert {
			rows[i] = []any{s.workspace, r.Key, r.ID, toMillis(r.Timestamp), string(r.Tier), r.Payload}
		}
		if _, err := db.CopyFrom(ctx, tx, "training_samples", sampleColumns, rows); err != nil {
			return eris.Wrap(err, "postgres: insert samples")
		}
	}

	for _, r := range b.Update {
		_, err := tx.Exec(ctx,
			`INSERT INTO training_samples (workspace, sample_key, id, ts_ms, tier, payload)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (workspace, sample_key) DO UPDATE SET
				id = EXCLUDED.id, ts_ms = EXCLUDED.ts_ms, tier = EXCLUDED.tier, payload = EXCLUDED.payload`,
			s.workspace, r.Key, r.ID, toMillis(r.Timestamp), string(r.Tier), r.Payload,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: replace sample %s", r.Key)
		}
	}

	if len(b.Delete) > 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM training_samples WHERE workspace = $1 AND sample_key = ANY($2)`,
			s.workspace, b.Delete,
		); err != nil {
			return eris.Wrap(err, "postgres: delete samples")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit batch")
}

// Append inserts new records atomically.
func (s *PostgresLog) Append(ctx context.Context, recs ...Record) error {
	return s.Apply(ctx, Batch{Insert: recs})
}

// Replace overwrites records by key atomically.
func (s *PostgresLog) Replace(ctx context.Context, recs ...Record) error {
	return s.Apply(ctx, Batch{Update: recs})
}

// Delete removes records by key atomically.
func (s *PostgresLog) Delete(ctx context.Context, keys ...string) error {
	return s.Apply(ctx, Batch{Delete: keys})
}

// Get returns the record stored under key.
func (s *PostgresLog) Get(ctx context.Context, key string) (Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM training_samples WHERE workspace = $1 AND sample_key = $2`,
		s.workspace, key,
	)
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, eris.Wrapf(ErrNotFound, "postgres: get %s", key)
	}
	if err != nil {
		return Record{}, eris.Wrapf(err, "postgres: get %s", key)
	}
	return r, nil
}

// Has reports which of keys are stored.
func (s *PostgresLog) Has(ctx context.Context, keys []string) (map[string]bool, error) {
	found := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT sample_key FROM training_samples WHERE workspace = $1 AND sample_key = ANY($2)`,
		s.workspace, keys,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lookup keys")
	}
	defer rows.Close()

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "postgres: scan key")
		}
		found[k] = true
	}
	return found, eris.Wrap(rows.Err(), "postgres: iterate keys")
}

// Scan returns records newest first.
func (s *PostgresLog) Scan(ctx context.Context, opts ScanOptions) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM training_samples WHERE workspace = $1`
	args := []any{s.workspace}

	if opts.Tier != "" {
		args = append(args, string(opts.Tier))
		query += ` AND tier = $2`
	}
	query += ` ORDER BY ts_ms DESC, sample_key DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		if opts.Tier != "" {
			query += ` LIMIT $3`
		} else {
			query += ` LIMIT $2`
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan samples")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan sample row")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate samples")
}

// Count returns the number of records in tier, or in both tiers when tier
// is empty.
func (s *PostgresLog) Count(ctx context.Context, tier model.Tier) (int, error) {
	var n int
	var err error
	if tier == "" {
		err = s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM training_samples WHERE workspace = $1`, s.workspace,
		).Scan(&n)
	} else {
		err = s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM training_samples WHERE workspace = $1 AND tier = $2`, s.workspace, string(tier),
		).Scan(&n)
	}
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count samples")
	}
	return n, nil
}

// GetWeights returns the stored weights or nil.
func (s *PostgresLog) GetWeights(ctx context.Context) (*model.FusionWeights, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM fusion_weights WHERE workspace = $1`, s.workspace,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get weights")
	}

	var w model.FusionWeights
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, eris.Wrapf(ErrMalformedWeights, "postgres: unmarshal weights: %v", err)
	}
	return &w, nil
}

// PutWeights stores w, replacing any previous record.
func (s *PostgresLog) PutWeights(ctx context.Context, w model.FusionWeights) error {
	payload, err := json.Marshal(w)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal weights")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO fusion_weights (workspace, version, payload, updated_ms) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (workspace) DO UPDATE SET
			version = EXCLUDED.version, payload = EXCLUDED.payload, updated_ms = EXCLUDED.updated_ms`,
		s.workspace, w.Version, payload, toMillis(w.LastUpdated),
	)
	return eris.Wrap(err, "postgres: put weights")
}

// RecordSync appends a sync log entry and returns its ID.
func (s *PostgresLog) RecordSync(ctx context.Context, e SyncEntry) (int64, error) {
	var errMsg *string
	if e.Error != "" {
		errMsg = &e.Error
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sync_log (workspace, peer, status, started_ms, completed_ms, imported, replaced, skipped, rejected, unverified, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		s.workspace, e.Peer, string(e.Status), toMillis(e.StartedAt), toMillis(e.CompletedAt),
		e.Imported, e.Replaced, e.Skipped, e.Rejected, e.Unverified, errMsg,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: record sync for %s", e.Peer)
	}
	return id, nil
}

// ListSyncs returns sync entries, most recent first.
func (s *PostgresLog) ListSyncs(ctx context.Context, limit int) ([]SyncEntry, error) {
	query := `SELECT id, peer, status, started_ms, completed_ms, imported, replaced, skipped, rejected, unverified, error
		FROM sync_log WHERE workspace = $1 ORDER BY started_ms DESC, id DESC`
	args := []any{s.workspace}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list syncs")
	}
	defer rows.Close()

	var out []SyncEntry
	for rows.Next() {
		var e SyncEntry
		var status string
		var started, completed int64
		var errMsg *string
		if err := rows.Scan(&e.ID, &e.Peer, &status, &started, &completed,
			&e.Imported, &e.Replaced, &e.Skipped, &e.Rejected, &e.Unverified, &errMsg); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sync")
		}
		e.Status = SyncStatus(status)
		e.StartedAt = fromMillis(started)
		e.CompletedAt = fromMillis(completed)
		if errMsg != nil {
			e.Error = *errMsg
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate syncs")
}
