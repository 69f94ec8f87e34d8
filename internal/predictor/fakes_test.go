package predictor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/riskfusion/internal/model"
)

type fakePredictor struct {
	values []float64
	err    error
	panics bool
	delay  time.Duration
	inputs []string

	mu     sync.Mutex
	calls  int
	closed atomic.Bool
}

func (f *fakePredictor) Predict(ctx context.Context, _ model.FeatureVector) (float64, error) {
	if f.panics {
		panic("model exploded")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	v := f.values[f.calls%len(f.values)]
	f.calls++
	return v, nil
}

func (f *fakePredictor) InputNames() []string { return f.inputs }

func (f *fakePredictor) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeLoader struct {
	available bool
	handle    *fakePredictor
	err       error
	delay     time.Duration
	loads     atomic.Int32
}

func (l *fakeLoader) Available(context.Context) bool { return l.available }

func (l *fakeLoader) Load(context.Context) (Predictor, error) {
	l.loads.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.err != nil {
		return nil, l.err
	}
	return l.handle, nil
}

func coreVector(values map[string]float64) model.FeatureVector {
	fv, err := model.FeatureVectorFromMap(model.CoreFeatureNames, values)
	if err != nil {
		panic(err)
	}
	return fv
}
