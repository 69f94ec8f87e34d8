package fusion

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sells-group/riskfusion/internal/model"
)

// DefaultBatchConcurrency bounds concurrent decisions in FuseBatch.
const DefaultBatchConcurrency = 4

// BatchResult is the outcome of one decision in a batch.
type BatchResult struct {
	Result model.FusionResult
	Err    error
}

// FuseBatch runs independent decisions concurrently, at most limit at a
// time. Results are returned in request order; a failed decision does not
// stop the others. The returned error is non-nil only if ctx is cancelled.
func (e *Engine) FuseBatch(ctx context.Context, reqs []Request, limit int, simple bool) ([]BatchResult, error) {
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}

	out := make([]BatchResult, len(reqs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, req := range reqs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			var r model.FusionResult
			var err error
			if simple {
				r, err = e.FuseSimple(gCtx, req)
			} else {
				r, err = e.Fuse(gCtx, req)
			}
			out[i] = BatchResult{Result: r, Err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}
