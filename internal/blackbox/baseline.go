package blackbox

import (
	"gonum.org/v1/gonum/mat"

	"github.com/tensorplex-labs/blackbox/internal/normalization"
)

// Baseline is the normalized feature matrix every perturbation starts from.
// It is never handed out mutably: callers get copies.
type Baseline struct {
	x *mat.Dense
}

// NewBaseline normalizes features exactly once. features is left untouched.
func NewBaseline(features mat.Matrix, stats normalization.Stats) (*Baseline, error) {
	x, err := stats.NormalizeFeatures(features)
	if err != nil {
		return nil, err
	}
	return &Baseline{x: x}, nil
}

func (b *Baseline) Dims() (samples, width int) {
	return b.x.Dims()
}

func (b *Baseline) At(i, j int) float64 {
	return b.x.At(i, j)
}

// Copy returns an owned copy of the normalized matrix.
func (b *Baseline) Copy() *mat.Dense {
	return mat.DenseCopyOf(b.x)
}

// Perturbed returns a fresh copy with columns [start, start+width) zeroed.
func (b *Baseline) Perturbed(start, width int) *mat.Dense {
	c := b.Copy()
	ZeroWindow(c, start, width)
	return c
}

// WindowBounds clips [start, start+width) to [0, total).
func WindowBounds(start, width, total int) (lo, hi int) {
	lo = max(start, 0)
	hi = min(start+width, total)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// ZeroWindow zeroes the clipped column window of m in place.
func ZeroWindow(m *mat.Dense, start, width int) {
	rows, cols := m.Dims()
	lo, hi := WindowBounds(start, width, cols)
	for i := range rows {
		clear(m.RawRowView(i)[lo:hi])
	}
}
