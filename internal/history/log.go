// Package history persists training samples, fusion weights and federation
// sync records behind a pluggable append-only log.
package history

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/riskfusion/internal/model"
)

// ErrNotFound is returned by Get for an unknown key.
var ErrNotFound = eris.New("history: record not found")

// ErrMalformedWeights is returned by GetWeights when the stored record
// cannot be decoded.
var ErrMalformedWeights = eris.New("history: malformed weights record")

// Record is one stored sample. Payload is the encoded sample: plain JSON
// for hot records, gzip-compressed JSON for cold ones.
type Record struct {
	Key       string
	ID        string
	Timestamp time.Time
	Tier      model.Tier
	Payload   []byte
}

// ScanOptions bound a newest-first range scan. A zero Limit returns every
// record; an empty Tier matches both tiers.
type ScanOptions struct {
	Limit int
	Tier  model.Tier
}

// Batch is a set of writes applied in a single transaction. Inserts fail on
// an existing key; updates overwrite by key.
type Batch struct {
	Insert []Record
	Update []Record
	Delete []string
}

// Empty reports whether the batch has nothing to write.
func (b Batch) Empty() bool {
	return len(b.Insert) == 0 && len(b.Update) == 0 && len(b.Delete) == 0
}

// Log is the append-only sample log of one workspace.
type Log interface {
	// Apply writes the batch atomically: either all of it or none.
	Apply(ctx context.Context, b Batch) error
	Append(ctx context.Context, recs ...Record) error
	Replace(ctx context.Context, recs ...Record) error
	Delete(ctx context.Context, keys ...string) error
	Get(ctx context.Context, key string) (Record, error)
	// Has reports which of keys exist.
	Has(ctx context.Context, keys []string) (map[string]bool, error)
	// Scan returns records newest first, ties broken by key.
	Scan(ctx context.Context, opts ScanOptions) ([]Record, error)
	Count(ctx context.Context, tier model.Tier) (int, error)
	Migrate(ctx context.Context) error
	Close() error
}

// WeightsRepository persists the single fusion weight record of a workspace.
type WeightsRepository interface {
	// GetWeights returns nil when nothing has been stored yet.
	GetWeights(ctx context.Context) (*model.FusionWeights, error)
	PutWeights(ctx context.Context, w model.FusionWeights) error
}

// SyncStatus is the outcome of a federation sync.
type SyncStatus string

const (
	SyncComplete SyncStatus = "complete"
	SyncFailed   SyncStatus = "failed"
)

// SyncEntry is one federation merge as recorded in the sync log.
type SyncEntry struct {
	ID          int64      `json:"id"`
	Peer        string     `json:"peer"`
	Status      SyncStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at"`
	Imported    int        `json:"imported"`
	Replaced    int        `json:"replaced"`
	Skipped     int        `json:"skipped"`
	Rejected    int        `json:"rejected"`
	Unverified  int        `json:"unverified"`
	Error       string     `json:"error,omitempty"`
}

// SyncRecorder keeps the federation sync log.
type SyncRecorder interface {
	RecordSync(ctx context.Context, e SyncEntry) (int64, error)
	// ListSyncs returns the most recent entries first; limit 0 returns all.
	ListSyncs(ctx context.Context, limit int) ([]SyncEntry, error)
}

// Backend is everything a Store needs from persistence.
type Backend interface {
	Log
	WeightsRepository
	SyncRecorder
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
