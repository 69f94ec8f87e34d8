package history

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/riskfusion/internal/model"
)

// Bundle is the portable form of a workspace's history.
type Bundle struct {
	SchemaVersion int                    `json:"schema_version"`
	Workspace     string                 `json:"workspace,omitempty"`
	ExportedAt    time.Time              `json:"exported_at"`
	Samples       []model.TrainingSample `json:"samples"`
}

// ImportResult reports what an import or merge did with each sample.
type ImportResult struct {
	Imported   int      `json:"imported"`
	Replaced   int      `json:"replaced"`
	Skipped    int      `json:"skipped"`
	Rejected   int      `json:"rejected"`
	Unverified int      `json:"unverified"`
	Pruned     int      `json:"pruned,omitempty"`
	Trace      []string `json:"trace,omitempty"`
}

func (r *ImportResult) tracef(format string, args ...any) {
	r.Trace = append(r.Trace, fmt.Sprintf(format, args...))
}

// ExportAll returns every sample, oldest first, each carrying a checksum.
func (s *Store) ExportAll(ctx context.Context) (Bundle, error) {
	samples, err := s.LoadAll(ctx)
	if err != nil {
		return Bundle{}, err
	}
	slices.Reverse(samples)
	for i := range samples {
		if samples[i].Checksum == "" {
			samples[i].Checksum = Checksum(samples[i])
		}
	}
	return Bundle{
		SchemaVersion: BundleSchemaVersion,
		Workspace:     s.opts.Workspace,
		ExportedAt:    s.opts.Now().UTC(),
		Samples:       samples,
	}, nil
}

// ResolveConflicts picks between two samples with the same dedup key. The
// incoming sample wins only with a strictly later timestamp.
func ResolveConflicts(local, incoming model.TrainingSample) (model.TrainingSample, bool) {
	if incoming.Timestamp.After(local.Timestamp) {
		return incoming, true
	}
	return local, false
}

// admit checks an incoming sample and fills in what a peer may omit. It
// returns false for a sample that must be rejected.
func admit(sample model.TrainingSample, res *ImportResult) (model.TrainingSample, bool) {
	if sample.Timestamp.IsZero() || len(sample.Features) == 0 {
		res.Rejected++
		res.tracef("rejected sample %q: missing timestamp or features", sample.ID)
		return sample, false
	}

	ok, present := VerifyChecksum(sample)
	if present && !ok {
		res.Rejected++
		res.tracef("rejected sample %q: checksum mismatch", sample.ID)
		return sample, false
	}

	if sample.Fingerprint == "" || sample.ID == "" {
		// Identity fields are covered by the checksum, so a signed sample
		// cannot lack them.
		if present {
			res.Rejected++
			res.tracef("rejected sample %q: checksum over incomplete identity", sample.ID)
			return sample, false
		}
		if sample.ID == "" {
			sample.ID = uuid.New().String()
		}
	}

	sample.Timestamp = sample.Timestamp.UTC()
	if !present {
		res.Unverified++
		res.tracef("sample %q has no checksum; accepted unverified", sample.ID)
	}
	return sample, true
}

// admitAll validates incoming samples and collapses duplicates within the
// batch, keeping the first of each key.
func (s *Store) admitAll(incoming []model.TrainingSample, res *ImportResult) []model.TrainingSample {
	seen := make(map[string]bool, len(incoming))
	out := make([]model.TrainingSample, 0, len(incoming))
	for _, sample := range incoming {
		sample, ok := admit(sample, res)
		if !ok {
			continue
		}
		if sample.Fingerprint == "" {
			prepared, err := s.prepare(sample)
			if err != nil {
				res.Rejected++
				res.tracef("rejected sample %q: %v", sample.ID, err)
				continue
			}
			sample = prepared
		} else if sample.Checksum == "" {
			sample.Checksum = Checksum(sample)
		}

		key := sample.DedupKey()
		if seen[key] {
			res.Skipped++
			res.tracef("skipped duplicate %s within batch", key)
			continue
		}
		seen[key] = true
		out = append(out, sample)
	}
	return out
}

// ImportFrom adds samples whose dedup key is not stored yet. Existing keys
// are skipped, so importing the same bundle twice changes nothing. All
// accepted samples are written in one transaction.
func (s *Store) ImportFrom(ctx context.Context, incoming []model.TrainingSample) (ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res ImportResult
	samples := s.admitAll(incoming, &res)

	keys := make([]string, len(samples))
	for i, sm := range samples {
		keys[i] = sm.DedupKey()
	}
	existing, err := s.backend.Has(ctx, keys)
	if err != nil {
		return res, eris.Wrap(err, "history: check existing samples")
	}

	var batch Batch
	for _, sm := range samples {
		if existing[sm.DedupKey()] {
			res.Skipped++
			continue
		}
		rec, err := toRecord(sm, model.TierHot)
		if err != nil {
			return res, err
		}
		batch.Insert = append(batch.Insert, rec)
	}

	if err := s.backend.Apply(ctx, batch); err != nil {
		return ImportResult{}, eris.Wrap(err, "history: import samples")
	}
	res.Imported = len(batch.Insert)
	if err := s.autoPruneLocked(ctx, &res); err != nil {
		return res, err
	}

	s.log.Info("history: import complete",
		zap.Int("imported", res.Imported),
		zap.Int("skipped", res.Skipped),
		zap.Int("rejected", res.Rejected),
		zap.Int("unverified", res.Unverified),
	)
	return res, nil
}

// MergeFrom folds a peer's samples into the workspace. New keys are added;
// for existing keys ResolveConflicts decides, and a replaced sample keeps
// its local tier. The outcome is recorded in the sync log.
func (s *Store) MergeFrom(ctx context.Context, peer string, incoming []model.TrainingSample) (ImportResult, error) {
	started := s.opts.Now().UTC()
	res, err := s.merge(ctx, incoming)

	entry := SyncEntry{
		Peer:        peer,
		Status:      SyncComplete,
		StartedAt:   started,
		CompletedAt: s.opts.Now().UTC(),
		Imported:    res.Imported,
		Replaced:    res.Replaced,
		Skipped:     res.Skipped,
		Rejected:    res.Rejected,
		Unverified:  res.Unverified,
	}
	if err != nil {
		entry.Status = SyncFailed
		entry.Error = err.Error()
	}
	if _, logErr := s.backend.RecordSync(ctx, entry); logErr != nil {
		s.log.Warn("history: record sync failed", zap.String("peer", peer), zap.Error(logErr))
	}
	if err != nil {
		return ImportResult{}, err
	}

	s.log.Info("history: merge complete",
		zap.String("peer", peer),
		zap.Int("imported", res.Imported),
		zap.Int("replaced", res.Replaced),
		zap.Int("skipped", res.Skipped),
		zap.Int("rejected", res.Rejected),
	)
	return res, nil
}

func (s *Store) merge(ctx context.Context, incoming []model.TrainingSample) (ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res ImportResult
	samples := s.admitAll(incoming, &res)

	keys := make([]string, len(samples))
	for i, sm := range samples {
		keys[i] = sm.DedupKey()
	}
	existing, err := s.backend.Has(ctx, keys)
	if err != nil {
		return res, eris.Wrap(err, "history: check existing samples")
	}

	var batch Batch
	for _, sm := range samples {
		key := sm.DedupKey()
		if !existing[key] {
			rec, err := toRecord(sm, model.TierHot)
			if err != nil {
				return res, err
			}
			batch.Insert = append(batch.Insert, rec)
			continue
		}

		stored, err := s.backend.Get(ctx, key)
		if err != nil {
			return res, eris.Wrapf(err, "history: load local %s", key)
		}
		local, tier, err := decode(stored.Payload)
		if err != nil {
			// A corrupt local copy loses to any valid peer copy.
			s.log.Warn("history: replacing malformed local sample", zap.String("key", key), zap.Error(err))
			tier = stored.Tier
		} else if _, replace := ResolveConflicts(local, sm); !replace {
			res.Skipped++
			continue
		}

		rec, err := toRecord(sm, tier)
		if err != nil {
			return res, err
		}
		batch.Update = append(batch.Update, rec)
		res.tracef("replaced %s with later peer copy", key)
	}

	if err := s.backend.Apply(ctx, batch); err != nil {
		return res, eris.Wrap(err, "history: merge samples")
	}
	res.Imported = len(batch.Insert)
	res.Replaced = len(batch.Update)
	if err := s.autoPruneLocked(ctx, &res); err != nil {
		return res, err
	}
	return res, nil
}

// autoPruneLocked trims the log back to the retention limit after a batch
// added samples. The caller holds s.mu.
func (s *Store) autoPruneLocked(ctx context.Context, res *ImportResult) error {
	if !s.opts.AutoPrune || res.Imported == 0 {
		return nil
	}
	n, err := s.pruneLocked(ctx, s.opts.RetentionLimit)
	if err != nil {
		return err
	}
	res.Pruned = n
	if n > 0 {
		res.tracef("pruned %d sample(s) over the retention limit of %d", n, s.opts.RetentionLimit)
	}
	return nil
}
