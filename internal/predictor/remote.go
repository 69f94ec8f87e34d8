package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/riskfusion/internal/model"
	"github.com/sells-group/riskfusion/internal/resilience"
)

// RemoteConfig points at a model served over HTTP.
type RemoteConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	// QPS limits inference requests per second; 0 disables limiting.
	QPS   float64
	Burst int
	Retry resilience.RetryPolicy
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// Configured reports whether the config names a model endpoint.
func (c RemoteConfig) Configured() bool {
	return strings.TrimSpace(c.BaseURL) != "" && strings.TrimSpace(c.Model) != ""
}

type modelInfo struct {
	Name   string   `json:"name"`
	Ready  bool     `json:"ready"`
	Inputs []string `json:"inputs"`
}

type historyPoint struct {
	FinalProbability float64 `json:"final_probability"`
	Success          bool    `json:"success"`
}

type predictRequest struct {
	Names      []string       `json:"names"`
	Features   []float64      `json:"features"`
	Stochastic bool           `json:"stochastic,omitempty"`
	History    []historyPoint `json:"history,omitempty"`
}

type predictResponse struct {
	Probability *float64           `json:"probability,omitempty"`
	Heads       *model.HeadOutputs `json:"heads,omitempty"`
}

// modelClient speaks the model server protocol:
//
//	GET  /v1/models/{model}          -> modelInfo
//	POST /v1/models/{model}:predict  -> predictResponse
type modelClient struct {
	cfg     RemoteConfig
	http    *http.Client
	limiter *rate.Limiter
}

func newModelClient(cfg RemoteConfig) *modelClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.Name == "" {
		cfg.Retry.Name = cfg.Model
	}
	c := &modelClient{cfg: cfg, http: cfg.Client}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.QPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.QPS), burst)
	}
	return c
}

func (c *modelClient) endpoint(suffix string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/models/" + url.PathEscape(c.cfg.Model) + suffix
}

func (c *modelClient) info(ctx context.Context) (modelInfo, error) {
	var info modelInfo
	err := c.do(ctx, http.MethodGet, c.endpoint(""), nil, &info)
	return info, err
}

func (c *modelClient) predict(ctx context.Context, req predictRequest) (predictResponse, error) {
	return resilience.DoVal(ctx, c.cfg.Retry, func(ctx context.Context) (predictResponse, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return predictResponse{}, eris.Wrap(err, "predictor: rate limit wait")
			}
		}
		var resp predictResponse
		err := c.do(ctx, http.MethodPost, c.endpoint(":predict"), req, &resp)
		return resp, err
	})
}

func (c *modelClient) do(ctx context.Context, method, target string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "predictor: marshal request")
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return eris.Wrap(err, "predictor: create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "predictor: %s %s", method, c.cfg.Model)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := eris.Errorf("predictor: %s returned status %d: %s", c.cfg.Model, resp.StatusCode, strings.TrimSpace(string(msg)))
		if resilience.IsTransientStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrap(err, "predictor: decode response")
	}
	return nil
}

func (c *modelClient) load(ctx context.Context) (modelInfo, error) {
	info, err := c.info(ctx)
	if err != nil {
		return modelInfo{}, err
	}
	if !info.Ready {
		return modelInfo{}, eris.Errorf("predictor: model %s is not ready", c.cfg.Model)
	}
	return info, nil
}

func newRequest(fv model.FeatureVector) predictRequest {
	return predictRequest{Names: fv.Names(), Features: fv.Values()}
}

// RemoteLoader opens single-output models served over HTTP. It serves the
// primary, sequence and uncertainty roles.
type RemoteLoader struct {
	client *modelClient
}

// NewRemoteLoader creates a loader for cfg.
func NewRemoteLoader(cfg RemoteConfig) *RemoteLoader {
	return &RemoteLoader{client: newModelClient(cfg)}
}

// Available implements Loader. It only checks configuration.
func (l *RemoteLoader) Available(_ context.Context) bool {
	return l.client.cfg.Configured()
}

// Load implements Loader by fetching the model's metadata.
func (l *RemoteLoader) Load(ctx context.Context) (Predictor, error) {
	info, err := l.client.load(ctx)
	if err != nil {
		return nil, err
	}
	return &RemotePredictor{client: l.client, inputs: info.Inputs}, nil
}

// RemotePredictor is an opened remote single-output model.
type RemotePredictor struct {
	client *modelClient
	inputs []string
	closed atomic.Bool
}

// InputNames implements Shaped.
func (p *RemotePredictor) InputNames() []string { return append([]string(nil), p.inputs...) }

// Predict implements Predictor.
func (p *RemotePredictor) Predict(ctx context.Context, fv model.FeatureVector) (float64, error) {
	return p.call(ctx, newRequest(fv))
}

// Sample implements Sampler by asking the server for a stochastic pass.
func (p *RemotePredictor) Sample(ctx context.Context, fv model.FeatureVector) (float64, error) {
	req := newRequest(fv)
	req.Stochastic = true
	return p.call(ctx, req)
}

// PredictWithHistory implements HistoryAware.
func (p *RemotePredictor) PredictWithHistory(ctx context.Context, fv model.FeatureVector, history []model.TrainingSample) (float64, error) {
	req := newRequest(fv)
	req.History = make([]historyPoint, 0, len(history))
	for _, s := range history {
		req.History = append(req.History, historyPoint{FinalProbability: s.FinalProbability, Success: s.Success})
	}
	return p.call(ctx, req)
}

func (p *RemotePredictor) call(ctx context.Context, req predictRequest) (float64, error) {
	if p.closed.Load() {
		return 0, eris.New("predictor: handle closed")
	}
	resp, err := p.client.predict(ctx, req)
	if err != nil {
		return 0, err
	}
	if resp.Probability == nil {
		return 0, eris.Errorf("predictor: %s response has no probability", p.client.cfg.Model)
	}
	return *resp.Probability, nil
}

// Close implements Handle.
func (p *RemotePredictor) Close() error {
	p.closed.Store(true)
	return nil
}

// RemoteMultiHeadLoader opens a multi-head model served over HTTP.
type RemoteMultiHeadLoader struct {
	client *modelClient
}

// NewRemoteMultiHeadLoader creates a loader for cfg.
func NewRemoteMultiHeadLoader(cfg RemoteConfig) *RemoteMultiHeadLoader {
	return &RemoteMultiHeadLoader{client: newModelClient(cfg)}
}

// Available implements Loader.
func (l *RemoteMultiHeadLoader) Available(_ context.Context) bool {
	return l.client.cfg.Configured()
}

// Load implements Loader.
func (l *RemoteMultiHeadLoader) Load(ctx context.Context) (MultiHead, error) {
	info, err := l.client.load(ctx)
	if err != nil {
		return nil, err
	}
	return &RemoteMultiHead{client: l.client, inputs: info.Inputs}, nil
}

// RemoteMultiHead is an opened remote multi-head model.
type RemoteMultiHead struct {
	client *modelClient
	inputs []string
	closed atomic.Bool
}

// InputNames implements Shaped.
func (m *RemoteMultiHead) InputNames() []string { return append([]string(nil), m.inputs...) }

// PredictHeads implements MultiHead.
func (m *RemoteMultiHead) PredictHeads(ctx context.Context, fv model.FeatureVector) (model.HeadOutputs, error) {
	if m.closed.Load() {
		return model.HeadOutputs{}, eris.New("predictor: handle closed")
	}
	resp, err := m.client.predict(ctx, newRequest(fv))
	if err != nil {
		return model.HeadOutputs{}, err
	}
	if resp.Heads == nil {
		return model.HeadOutputs{}, eris.Errorf("predictor: %s response has no heads", m.client.cfg.Model)
	}
	return *resp.Heads, nil
}

// Close implements Handle.
func (m *RemoteMultiHead) Close() error {
	m.closed.Store(true)
	return nil
}
