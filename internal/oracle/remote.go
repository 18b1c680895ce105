package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

// Remote calls a model served over HTTP.
type Remote struct {
	client  *resty.Client
	kind    ModelKind
	BaseURL string
}

type RemoteConfig struct {
	BaseURL string
	Timeout time.Duration
}

func NewRemote(cfg *RemoteConfig, kind ModelKind) (*Remote, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("oracle base url cannot be empty")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetTimeout(timeout)

	return &Remote{
		client:  client,
		kind:    kind,
		BaseURL: cfg.BaseURL,
	}, nil
}

// RemoteFactory serves every bundle through the endpoint in cfg.
func RemoteFactory(cfg *RemoteConfig) Factory {
	return func(b *Bundle) (Oracle, error) {
		return NewRemote(cfg, b.Kind)
	}
}

func (r *Remote) Predict(ctx context.Context, batch *mat.Dense) (*mat.Dense, error) {
	p, err := r.PredictWithUncertainty(ctx, batch)
	if err != nil {
		return nil, err
	}
	return p.Mean, nil
}

func (r *Remote) PredictWithUncertainty(ctx context.Context, batch *mat.Dense) (Prediction, error) {
	rows, _ := batch.Dims()

	var out PredictResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(PredictRequest{Model: r.kind.Tag(), Inputs: toRows(batch)}).
		SetResult(&out).
		SetError(&out).
		Post(PredictPath)
	if err != nil {
		log.Error().Err(err).Str("base_url", r.BaseURL).Msg("predict request failed")
		return Prediction{}, fmt.Errorf("predict: %w", err)
	}
	if resp.IsError() {
		log.Error().Int("status", resp.StatusCode()).Str("body", resp.String()).Msg("predict non-2xx")
		return Prediction{}, fmt.Errorf("predict status %d: %s", resp.StatusCode(), out.Error)
	}
	if !out.Success {
		return Prediction{}, fmt.Errorf("predict api returned success=false: %s", out.Error)
	}

	mean, err := fromRows(out.Mean, rows)
	if err != nil {
		return Prediction{}, fmt.Errorf("predict mean: %w", err)
	}
	p := Prediction{Mean: mean}
	if len(out.Uncertainty) > 0 {
		if p.Uncertainty, err = fromRows(out.Uncertainty, rows); err != nil {
			return Prediction{}, fmt.Errorf("predict uncertainty: %w", err)
		}
	}
	return p, nil
}

func (r *Remote) Reentrant() bool { return true }
