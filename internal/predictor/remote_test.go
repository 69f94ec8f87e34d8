package predictor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskfusion/internal/model"
	"github.com/sells-group/riskfusion/internal/resilience"
)

type modelServer struct {
	ready      bool
	inputs     []string
	fail       atomic.Int32
	stochastic atomic.Int32
	history    atomic.Int32
	heads      bool
}

func (m *modelServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models/{name}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(modelInfo{Name: r.PathValue("name"), Ready: m.ready, Inputs: m.inputs})
	})
	mux.HandleFunc("POST /v1/models/{call}", func(w http.ResponseWriter, r *http.Request) {
		if m.fail.Load() > 0 {
			m.fail.Add(-1)
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Stochastic {
			m.stochastic.Add(1)
		}
		if len(req.History) > 0 {
			m.history.Add(1)
		}
		if m.heads {
			_ = json.NewEncoder(w).Encode(predictResponse{Heads: &model.HeadOutputs{DeploymentSuccess: 0.9, SecurityRisk: 0.3}})
			return
		}
		p := req.Features[4]*0.5 + 0.1
		_ = json.NewEncoder(w).Encode(predictResponse{Probability: &p})
	})
	return mux
}

func remoteConfig(url string) RemoteConfig {
	return RemoteConfig{
		BaseURL: url,
		Model:   "deploy-risk-v3",
		Retry:   resilience.RetryPolicy{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}
}

func TestRemoteLoader_AvailableRequiresConfig(t *testing.T) {
	assert.False(t, NewRemoteLoader(RemoteConfig{}).Available(context.Background()))
	assert.False(t, NewRemoteLoader(RemoteConfig{BaseURL: "http://x"}).Available(context.Background()))
	assert.True(t, NewRemoteLoader(RemoteConfig{BaseURL: "http://x", Model: "m"}).Available(context.Background()))
}

func TestRemoteLoader_NotReady(t *testing.T) {
	srv := &modelServer{ready: false}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	_, err := NewRemoteLoader(remoteConfig(ts.URL)).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
}

func TestRemotePredictor_PredictSampleHistory(t *testing.T) {
	srv := &modelServer{ready: true, inputs: model.CoreFeatureNames}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	p, err := NewRemoteLoader(remoteConfig(ts.URL)).Load(context.Background())
	require.NoError(t, err)
	defer p.Close() //nolint:errcheck

	fv := coreVector(map[string]float64{model.FeatureCriticalFailures: 1})

	v, err := p.Predict(context.Background(), fv)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v, 1e-9)

	_, err = p.(Sampler).Sample(context.Background(), fv)
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.stochastic.Load())

	_, err = p.(HistoryAware).PredictWithHistory(context.Background(), fv, []model.TrainingSample{{FinalProbability: 0.2, Success: true}})
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.history.Load())

	assert.Equal(t, model.CoreFeatureNames, p.(Shaped).InputNames())
}

func TestRemotePredictor_RetriesTransientStatus(t *testing.T) {
	srv := &modelServer{ready: true}
	srv.fail.Store(2)
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	p, err := NewRemoteLoader(remoteConfig(ts.URL)).Load(context.Background())
	require.NoError(t, err)

	v, err := p.Predict(context.Background(), coreVector(nil))
	require.NoError(t, err)
	assert.InDelta(t, 0.1, v, 1e-9)
}

func TestRemotePredictor_ClosedHandle(t *testing.T) {
	srv := &modelServer{ready: true}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	p, err := NewRemoteLoader(remoteConfig(ts.URL)).Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.Predict(context.Background(), coreVector(nil))
	assert.Error(t, err)
}

func TestRemoteMultiHead(t *testing.T) {
	srv := &modelServer{ready: true, heads: true}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := Resolve[MultiHead](context.Background(), NewGuard(nil, 0), model.PredictorMultiHead, NewRemoteMultiHeadLoader(remoteConfig(ts.URL)))
	require.True(t, c.Available())
	defer c.Release()

	h, err := PredictHeads(context.Background(), NewGuard(nil, 0), c, coreVector(nil))
	require.NoError(t, err)
	assert.InDelta(t, 0.9, h.DeploymentSuccess, 1e-9)
	assert.InDelta(t, 0.1, h.FailureProbability(), 1e-9)
}

func TestRemoteLoader_RateLimited(t *testing.T) {
	srv := &modelServer{ready: true}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	cfg := remoteConfig(ts.URL)
	cfg.QPS = 1000
	cfg.Burst = 2
	p, err := NewRemoteLoader(cfg).Load(context.Background())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := p.Predict(context.Background(), coreVector(nil))
		require.NoError(t, err)
	}
}
