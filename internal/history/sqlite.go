package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/riskfusion/internal/model"
)

// SQLiteLog implements Backend using modernc.org/sqlite.
type SQLiteLog struct {
	db        *sql.DB
	workspace string
}

// NewSQLite opens a SQLite database at dsn, configures WAL mode and scopes
// every read and write to workspace.
func NewSQLite(dsn, workspace string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer avoids SQLITE_BUSY between concurrent transactions.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteLog{db: db, workspace: workspace}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS training_samples (
	workspace  TEXT    NOT NULL,
	sample_key TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	ts_ms      INTEGER NOT NULL,
	tier       TEXT    NOT NULL DEFAULT 'hot',
	payload    BLOB    NOT NULL,
	PRIMARY KEY (workspace, sample_key)
);

CREATE TABLE IF NOT EXISTS fusion_weights (
	workspace  TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	payload    TEXT    NOT NULL,
	updated_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	workspace    TEXT    NOT NULL,
	peer         TEXT    NOT NULL,
	status       TEXT    NOT NULL,
	started_ms   INTEGER NOT NULL,
	completed_ms INTEGER NOT NULL,
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
func (s *SQLiteLog) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteLog) Close() error {
	return s.db.Close()
}

// Apply writes b in one transaction.
func (s *SQLiteLog) Apply(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range b.Insert {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO training_samples (workspace, sample_key, id, ts_ms, tier, payload) VALUES (?, ?, ?, ?, ?, ?)`,
			s.workspace, r.Key, r.ID, toMillis(r.Timestamp), string(r.Tier), r.Payload,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert sample %s", r.Key)
		}
	}

	for _, r := range b.Update {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO training_samples (workspace, sample_key, id, ts_ms, tier, payload) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (workspace, sample_key) DO UPDATE SET
				id = excluded.id, ts_ms = excluded.ts_ms, tier = excluded.tier, payload = excluded.payload`,
			s.workspace, r.Key, r.ID, toMillis(r.Timestamp), string(r.Tier), r.Payload,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: replace sample %s", r.Key)
		}
	}

	for _, key := range b.Delete {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM training_samples WHERE workspace = ? AND sample_key = ?`,
			s.workspace, key,
		); err != nil {
			return eris.Wrapf(err, "sqlite: delete sample %s", key)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit batch")
}

// Append inserts new records atomically.
func (s *SQLiteLog) Append(ctx context.Context, recs ...Record) error {
	return s.Apply(ctx, Batch{Insert: recs})
}

// Replace overwrites records by key atomically.
func (s *SQLiteLog) Replace(ctx context.Context, recs ...Record) error {
	return s.Apply(ctx, Batch{Update: recs})
}

// Delete removes records by key atomically.
func (s *SQLiteLog) Delete(ctx context.Context, keys ...string) error {
	return s.Apply(ctx, Batch{Delete: keys})
}

const recordColumns = `sample_key, id, ts_ms, tier, payload`

// Get returns the record stored under key.
func (s *SQLiteLog) Get(ctx context.Context, key string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM training_samples WHERE workspace = ? AND sample_key = ?`,
		s.workspace, key,
	)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, eris.Wrapf(ErrNotFound, "sqlite: get %s", key)
	}
	if err != nil {
		return Record{}, eris.Wrapf(err, "sqlite: get %s", key)
	}
	return r, nil
}

// Has reports which of keys are stored.
func (s *SQLiteLog) Has(ctx context.Context, keys []string) (map[string]bool, error) {
	found := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	// Chunk to stay well under SQLite's bound-parameter limit.
	const chunk = 500
	for start := 0; start < len(keys); start += chunk {
		end := min(start+chunk, len(keys))
		part := keys[start:end]

		args := make([]any, 0, len(part)+1)
		args = append(args, s.workspace)
		for _, k := range part {
			args = append(args, k)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(part)), ",")

		rows, err := s.db.QueryContext(ctx,
			`SELECT sample_key FROM training_samples WHERE workspace = ? AND sample_key IN (`+placeholders+`)`,
			args...,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: lookup keys")
		}
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "sqlite: scan key")
			}
			found[k] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, eris.Wrap(err, "sqlite: iterate keys")
		}
	}
	return found, nil
}

// Scan returns records newest first.
func (s *SQLiteLog) Scan(ctx context.Context, opts ScanOptions) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM training_samples WHERE workspace = ?`
	args := []any{s.workspace}

	if opts.Tier != "" {
		query += ` AND tier = ?`
		args = append(args, string(opts.Tier))
	}
	query += ` ORDER BY ts_ms DESC, sample_key DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan samples")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sample row")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate samples")
}

// Count returns the number of records in tier, or in both tiers when tier
// is empty.
func (s *SQLiteLog) Count(ctx context.Context, tier model.Tier) (int, error) {
	query := `SELECT COUNT(*) FROM training_samples WHERE workspace = ?`
	args := []any{s.workspace}
	if tier != "" {
		query += ` AND tier = ?`
		args = append(args, string(tier))
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count samples")
	}
	return n, nil
}

// GetWeights returns the stored weights or nil.
func (s *SQLiteLog) GetWeights(ctx context.Context) (*model.FusionWeights, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM fusion_weights WHERE workspace = ?`, s.workspace,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get weights")
	}

	var w model.FusionWeights
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return nil, eris.Wrapf(ErrMalformedWeights, "sqlite: unmarshal weights: %v", err)
	}
	return &w, nil
}

// PutWeights stores w, replacing any previous record.
func (s *SQLiteLog) PutWeights(ctx context.Context, w model.FusionWeights) error {
	payload, err := json.Marshal(w)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal weights")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fusion_weights (workspace, version, payload, updated_ms) VALUES (?, ?, ?, ?)
		 ON CONFLICT (workspace) DO UPDATE SET
			version = excluded.version, payload = excluded.payload, updated_ms = excluded.updated_ms`,
		s.workspace, w.Version, string(payload), toMillis(w.LastUpdated),
	)
	return eris.Wrap(err, "sqlite: put weights")
}

// RecordSync appends a sync log entry and returns its ID.
func (s *SQLiteLog) RecordSync(ctx context.Context, e SyncEntry) (int64, error) {
	var errMsg sql.NullString
	if e.Error != "" {
		errMsg = sql.NullString{String: e.Error, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_log (workspace, peer, status, started_ms, completed_ms, imported, replaced, skipped, rejected, unverified, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.workspace, e.Peer, string(e.Status), toMillis(e.StartedAt), toMillis(e.CompletedAt),
		e.Imported, e.Replaced, e.Skipped, e.Rejected, e.Unverified, errMsg,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: record sync for %s", e.Peer)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sync id")
	}
	return id, nil
}

// ListSyncs returns sync entries, most recent first.
func (s *SQLiteLog) ListSyncs(ctx context.Context, limit int) ([]SyncEntry, error) {
	query := `SELECT id, peer, status, started_ms, completed_ms, imported, replaced, skipped, rejected, unverified, error
		FROM sync_log WHERE workspace = ? ORDER BY started_ms DESC, id DESC`
	args := []any{s.workspace}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list syncs")
	}
	defer rows.Close()

	var out []SyncEntry
	for rows.Next() {
		var e SyncEntry
		var started, completed int64
		var errMsg sql.NullString
		var status string
		if err := rows.Scan(&e.ID, &e.Peer, &status, &started, &completed,
			&e.Imported, &e.Replaced, &e.Skipped, &e.Rejected, &e.Unverified, &errMsg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync")
		}
		e.Status = SyncStatus(status)
		e.StartedAt = fromMillis(started)
		e.CompletedAt = fromMillis(completed)
		e.Error = errMsg.String
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate syncs")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (Record, error) {
	var r Record
	var ts int64
	var tier string
	if err := row.Scan(&r.Key, &r.ID, &ts, &tier, &r.Payload); err != nil {
		return Record{}, err
	}
	r.Timestamp = fromMillis(ts)
	r.Tier = model.Tier(tier)
	return r, nil
}
