package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/riskfusion/internal/model"
)

const (
	DefaultRetentionLimit = 200
	DefaultCompressAfter  = 30 * 24 * time.Hour
	DefaultMinHotSamples  = 50
	DefaultWindow         = 50
)

// Options tune retention and tiering.
type Options struct {
	Workspace      string
	RetentionLimit int
	CompressAfter  time.Duration
	MinHotSamples  int
	// AutoPrune trims the log to RetentionLimit after every append, import
	// and merge.
	AutoPrune bool
	Now       func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Workspace == "" {
		o.Workspace = "default"
	}
	if o.RetentionLimit <= 0 {
		o.RetentionLimit = DefaultRetentionLimit
	}
	if o.CompressAfter <= 0 {
		o.CompressAfter = DefaultCompressAfter
	}
	if o.MinHotSamples <= 0 {
		o.MinHotSamples = DefaultMinHotSamples
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Store is the training history of one workspace. Writes are serialized
// so retention and tiering decisions see a consistent log.
type Store struct {
	backend Backend
	opts    Options
	mu      sync.Mutex
	log     *zap.Logger
}

// NewStore wraps backend with retention and tiering policy.
func NewStore(backend Backend, opts Options) *Store {
	opts = opts.withDefaults()
	return &Store{
		backend: backend,
		opts:    opts,
		log: zap.L().With(
			zap.String("component", "history.store"),
			zap.String("workspace", opts.Workspace),
		),
	}
}

// Options returns the effective options.
func (s *Store) Options() Options { return s.opts }

// Backend returns the underlying persistence.
func (s *Store) Backend() Backend { return s.backend }

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }

// prepare fills in identity fields and the checksum.
func (s *Store) prepare(sample model.TrainingSample) (model.TrainingSample, error) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.opts.Now()
	}
	sample.Timestamp = sample.Timestamp.UTC().Truncate(time.Millisecond)
	if sample.Fingerprint == "" {
		names := make([]string, 0, len(sample.Features))
		for n := range sample.Features {
			names = append(names, n)
		}
		sort.Strings(names)
		fv, err := model.FeatureVectorFromMap(names, sample.Features)
		if err != nil {
			return sample, eris.Wrap(err, "history: sample features")
		}
		sample.Fingerprint = fv.Fingerprint()
	}
	if sample.ID == "" {
		sample.ID = uuid.New().String()
	}
	sample.Checksum = Checksum(sample)
	return sample, nil
}

// Append records a decision outcome and returns the stored sample.
func (s *Store) Append(ctx context.Context, sample model.TrainingSample) (model.TrainingSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample, err := s.prepare(sample)
	if err != nil {
		return model.TrainingSample{}, err
	}
	rec, err := toRecord(sample, model.TierHot)
	if err != nil {
		return model.TrainingSample{}, err
	}
	if err := s.backend.Append(ctx, rec); err != nil {
		return model.TrainingSample{}, eris.Wrap(err, "history: append sample")
	}
	s.log.Debug("history: sample appended",
		zap.String("id", sample.ID),
		zap.String("key", rec.Key),
		zap.Bool("success", sample.Success),
	)

	if s.opts.AutoPrune {
		if _, err := s.pruneLocked(ctx, s.opts.RetentionLimit); err != nil {
			return sample, err
		}
	}
	return sample, nil
}

// LoadLast returns up to n samples, newest first, across both tiers.
// Records that fail to decode are skipped with a warning.
func (s *Store) LoadLast(ctx context.Context, n int) ([]model.TrainingSample, error) {
	if n <= 0 {
		return nil, nil
	}
	recs, err := s.backend.Scan(ctx, ScanOptions{Limit: n})
	if err != nil {
		return nil, eris.Wrap(err, "history: load samples")
	}
	return s.decodeAll(recs), nil
}

// LoadAll returns every sample, newest first.
func (s *Store) LoadAll(ctx context.Context) ([]model.TrainingSample, error) {
	recs, err := s.backend.Scan(ctx, ScanOptions{})
	if err != nil {
		return nil, eris.Wrap(err, "history: load samples")
	}
	return s.decodeAll(recs), nil
}

func (s *Store) decodeAll(recs []Record) []model.TrainingSample {
	out := make([]model.TrainingSample, 0, len(recs))
	for _, r := range recs {
		sample, _, err := decode(r.Payload)
		if err != nil {
			s.log.Warn("history: skipping malformed sample", zap.String("key", r.Key), zap.Error(err))
			continue
		}
		out = append(out, sample)
	}
	return out
}

// RollingStats summarizes the newest window samples.
func (s *Store) RollingStats(ctx context.Context, window int) (model.RollingWindowStats, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	samples, err := s.LoadLast(ctx, window)
	if err != nil {
		return model.RollingWindowStats{}, err
	}
	return ComputeStats(samples, window), nil
}

// ComputeStats summarizes samples, which must be newest first.
func ComputeStats(samples []model.TrainingSample, window int) model.RollingWindowStats {
	stats := model.RollingWindowStats{
		Window:             window,
		Samples:            len(samples),
		SuccessRate:        model.DefaultSuccessRate,
		AverageConfidence:  model.DefaultAverageConfidence,
		TopFailurePatterns: []model.PatternCount{},
	}
	if len(samples) == 0 {
		return stats
	}

	var ok int
	var conf float64
	for _, sm := range samples {
		if sm.Success {
			ok++
		}
		conf += sm.Confidence
	}
	n := float64(len(samples))
	stats.SuccessRate = float64(ok) / n
	stats.AverageConfidence = conf / n
	stats.TopFailurePatterns = topFailurePatterns(samples, TopPatterns)
	stats.Newest = samples[0].Timestamp
	stats.Oldest = samples[len(samples)-1].Timestamp
	return stats
}

// PruneHistory deletes everything but the newest keepLast samples and
// returns how many were removed. keepLast <= 0 uses the retention limit.
func (s *Store) PruneHistory(ctx context.Context, keepLast int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keepLast <= 0 {
		keepLast = s.opts.RetentionLimit
	}
	return s.pruneLocked(ctx, keepLast)
}

func (s *Store) pruneLocked(ctx context.Context, keepLast int) (int, error) {
	total, err := s.backend.Count(ctx, "")
	if err != nil {
		return 0, eris.Wrap(err, "history: count samples")
	}
	if total <= keepLast {
		return 0, nil
	}

	recs, err := s.backend.Scan(ctx, ScanOptions{})
	if err != nil {
		return 0, eris.Wrap(err, "history: scan for prune")
	}
	if len(recs) <= keepLast {
		return 0, nil
	}

	keys := make([]string, 0, len(recs)-keepLast)
	for _, r := range recs[keepLast:] {
		keys = append(keys, r.Key)
	}
	if err := s.backend.Delete(ctx, keys...); err != nil {
		return 0, eris.Wrap(err, "history: prune samples")
	}
	s.log.Info("history: pruned samples", zap.Int("removed", len(keys)), zap.Int("kept", keepLast))
	return len(keys), nil
}

// CompressOld moves hot samples older than olderThan to the cold tier and
// returns how many moved. Nothing moves while the hot tier holds at most
// MinHotSamples samples, and the newest MinHotSamples always stay hot.
// olderThan <= 0 uses the configured threshold.
func (s *Store) CompressOld(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if olderThan <= 0 {
		olderThan = s.opts.CompressAfter
	}

	hot, err := s.backend.Scan(ctx, ScanOptions{Tier: model.TierHot})
	if err != nil {
		return 0, eris.Wrap(err, "history: scan hot samples")
	}
	if len(hot) <= s.opts.MinHotSamples {
		return 0, nil
	}

	cutoff := s.opts.Now().Add(-olderThan)
	var moved []Record
	for _, r := range hot[s.opts.MinHotSamples:] {
		if !r.Timestamp.Before(cutoff) {
			continue
		}
		sample, _, err := decode(r.Payload)
		if err != nil {
			s.log.Warn("history: cannot compress malformed sample", zap.String("key", r.Key), zap.Error(err))
			continue
		}
		rec, err := toRecord(sample, model.TierCold)
		if err != nil {
			return 0, err
		}
		rec.Key = r.Key
		moved = append(moved, rec)
	}
	if len(moved) == 0 {
		return 0, nil
	}

	if err := s.backend.Replace(ctx, moved...); err != nil {
		return 0, eris.Wrap(err, "history: compress samples")
	}
	s.log.Info("history: compressed samples", zap.Int("moved", len(moved)), zap.Time("cutoff", cutoff))
	return len(moved), nil
}

// MaintenanceResult reports one Maintain pass.
type MaintenanceResult struct {
	Compressed int `json:"compressed"`
	Pruned     int `json:"pruned"`
}

// Maintain compresses and then prunes using the configured defaults.
func (s *Store) Maintain(ctx context.Context) (MaintenanceResult, error) {
	var res MaintenanceResult
	var err error
	if res.Compressed, err = s.CompressOld(ctx, 0); err != nil {
		return res, err
	}
	if res.Pruned, err = s.PruneHistory(ctx, 0); err != nil {
		return res, err
	}
	return res, nil
}

// Counts reports how many samples each tier holds.
func (s *Store) Counts(ctx context.Context) (hot, cold int, err error) {
	if hot, err = s.backend.Count(ctx, model.TierHot); err != nil {
		return 0, 0, eris.Wrap(err, "history: count hot")
	}
	if cold, err = s.backend.Count(ctx, model.TierCold); err != nil {
		return 0, 0, eris.Wrap(err, "history: count cold")
	}
	return hot, cold, nil
}

// Weights returns the persisted fusion weights, storing the defaults the
// first time a workspace asks. A record that cannot be decoded or fails
// validation is replaced by the defaults.
func (s *Store) Weights(ctx context.Context) (model.FusionWeights, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.backend.GetWeights(ctx)
	switch {
	case errors.Is(err, ErrMalformedWeights):
		s.log.Warn("history: skipping malformed weights record, using defaults", zap.Error(err))
		w = nil
	case err != nil:
		return model.FusionWeights{}, eris.Wrap(err, "history: read weights")
	case w != nil:
		if verr := w.Validate(); verr != nil {
			s.log.Warn("history: skipping invalid weights record, using defaults", zap.Error(verr))
			w = nil
		}
	}
	if w != nil {
		return *w, nil
	}

	def := model.DefaultFusionWeights()
	def.LastUpdated = s.opts.Now().UTC()
	if err := s.backend.PutWeights(ctx, def); err != nil {
		return model.FusionWeights{}, eris.Wrap(err, "history: store default weights")
	}
	s.log.Info("history: initialized default weights")
	return def, nil
}

// SaveWeights validates and persists w.
func (s *Store) SaveWeights(ctx context.Context, w model.FusionWeights) error {
	if err := w.Validate(); err != nil {
		return eris.Wrap(err, "history: invalid weights")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return eris.Wrap(s.backend.PutWeights(ctx, w), "history: save weights")
}

// Syncs returns the federation sync log, newest first.
func (s *Store) Syncs(ctx context.Context, limit int) ([]SyncEntry, error) {
	entries, err := s.backend.ListSyncs(ctx, limit)
	return entries, eris.Wrap(err, "history: list syncs")
}
