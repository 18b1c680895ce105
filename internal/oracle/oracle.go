// Package oracle defines the prediction capability of a trained model and its implementations.
package oracle

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// Oracle maps a batch of normalized spectra (N x W) to de-normalized
// predictions (N x numLabels). Implementations must be deterministic for a
// fixed model state.
type Oracle interface {
	Predict(ctx context.Context, batch *mat.Dense) (*mat.Dense, error)
}

// Prediction carries the optional uncertainty some models emit next to the mean.
type Prediction struct {
	Mean        *mat.Dense
	Uncertainty *mat.Dense
}

// Probabilistic oracles also report a per-label uncertainty.
type Probabilistic interface {
	Oracle
	PredictWithUncertainty(ctx context.Context, batch *mat.Dense) (Prediction, error)
}

// Reentrant is implemented by oracles that accept concurrent Predict calls.
type Reentrant interface {
	Reentrant() bool
}

// IsReentrant reports whether o declared itself safe for concurrent use.
func IsReentrant(o Oracle) bool {
	r, ok := o.(Reentrant)
	return ok && r.Reentrant()
}

// Func adapts a plain function. It is treated as non-reentrant.
type Func func(ctx context.Context, batch *mat.Dense) (*mat.Dense, error)

func (f Func) Predict(ctx context.Context, batch *mat.Dense) (*mat.Dense, error) {
	return f(ctx, batch)
}

// ConcurrentFunc adapts a plain function that is safe for concurrent use.
type ConcurrentFunc func(ctx context.Context, batch *mat.Dense) (*mat.Dense, error)

func (f ConcurrentFunc) Predict(ctx context.Context, batch *mat.Dense) (*mat.Dense, error) {
	return f(ctx, batch)
}

func (ConcurrentFunc) Reentrant() bool { return true }

// Serialized funnels calls to a non-reentrant oracle through a single slot.
type Serialized struct {
	inner Oracle
	slot  chan struct{}
}

// Serialize wraps o unless it is already reentrant.
func Serialize(o Oracle) Oracle {
	if IsReentrant(o) {
		return o
	}
	return &Serialized{
		inner: o,
		slot:  make(chan struct{}, 1),
	}
}

func (s *Serialized) Predict(ctx context.Context, batch *mat.Dense) (*mat.Dense, error) {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.slot }()

	return s.inner.Predict(ctx, batch)
}

func (s *Serialized) Reentrant() bool { return true }
