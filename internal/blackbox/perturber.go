package blackbox

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/tensorplex-labs/blackbox/internal/oracle"
)

// DefaultWindowWidth is the number of feature columns zeroed per window.
const DefaultWindowWidth = 8

// Order decides the sequence in which window positions are dispatched.
type Order func(n int) []int

func Ascending(n int) []int {
	seq := make([]int, n)
	for i := range seq {
		seq[i] = i
	}
	return seq
}

func Descending(n int) []int {
	seq := Ascending(n)
	slices.Reverse(seq)
	return seq
}

// Shuffled dispatches windows in a seeded random order.
func Shuffled(seed uint64) Order {
	return func(n int) []int {
		seq := Ascending(n)
		r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		r.Shuffle(n, func(i, j int) { seq[i], seq[j] = seq[j], seq[i] })
		return seq
	}
}

// ProgressFunc is called after each completed window.
type ProgressFunc func(done, total int)

// Perturber slides a zeroed window over the feature axis and records how the
// prediction moves away from the baseline.
type Perturber struct {
	Width    int
	Workers  int
	Order    Order
	Progress ProgressFunc
}

type PerturberOption func(*Perturber)

func WithWindowWidth(width int) PerturberOption {
	return func(p *Perturber) {
		p.Width = width
	}
}

func WithWorkers(workers int) PerturberOption {
	return func(p *Perturber) {
		p.Workers = workers
	}
}

func WithOrder(order Order) PerturberOption {
	return func(p *Perturber) {
		p.Order = order
	}
}

func WithProgress(fn ProgressFunc) PerturberOption {
	return func(p *Perturber) {
		p.Progress = fn
	}
}

func NewPerturber(opts ...PerturberOption) *Perturber {
	p := &Perturber{
		Width:   DefaultWindowWidth,
		Workers: runtime.NumCPU(),
		Order:   Ascending,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.Workers <= 0 {
		p.Workers = runtime.NumCPU()
	}
	if p.Order == nil {
		p.Order = Ascending
	}
	return p
}

// Scan runs one oracle call per window start in [0, width) and returns the
// deltas indexed by window. Windows are independent, so dispatch order and
// worker count do not change the result. The first oracle failure aborts
// the scan and nothing partial is returned.
func (p *Perturber) Scan(ctx context.Context, base *Baseline, o oracle.Oracle, baseline *mat.Dense) (DeltaTensor, error) {
	if p.Width <= 0 {
		return nil, &ConfigMismatchError{Field: "window width", Want: "> 0", Got: p.Width}
	}

	samples, width := base.Dims()
	predRows, labels := baseline.Dims()
	if predRows != samples {
		return nil, &ConfigMismatchError{Field: "baseline rows", Want: samples, Got: predRows}
	}

	o = oracle.Serialize(o)
	deltas := make(DeltaTensor, width)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)

	var done atomic.Int64
	for _, j := range p.Order(width) {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			x := base.Perturbed(j, p.Width)
			pred, err := o.Predict(gctx, x)
			if err != nil {
				return &OracleInvocationError{Window: j, Err: err}
			}
			if r, c := pred.Dims(); r != samples || c != labels {
				return &OracleInvocationError{
					Window: j,
					Err:    fmt.Errorf("prediction shape %dx%d, want %dx%d", r, c, samples, labels),
				}
			}

			delta := mat.NewDense(samples, labels, nil)
			delta.Sub(pred, baseline)
			deltas[j] = delta

			if p.Progress != nil {
				p.Progress(int(done.Add(1)), width)
			}
			return nil
		})
	}

	err := g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("window scan cancelled: %w", ctxErr)
	}
	if err != nil {
		return nil, err
	}
	return deltas, nil
}
