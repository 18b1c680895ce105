package blackbox

import (
	"context"
	"errors"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"github.com/tensorplex-labs/blackbox/internal/normalization"
)

// stubOracle applies a closed-form row reduction and counts invocations.
type stubOracle struct {
	reduce func(row []float64) float64
	calls  atomic.Int64
	failAt func(batch *mat.Dense) bool
}

func (s *stubOracle) Predict(_ context.Context, batch *mat.Dense) (*mat.Dense, error) {
	s.calls.Add(1)
	if s.failAt != nil && s.failAt(batch) {
		return nil, errors.New("stub failure")
	}
	rows, _ := batch.Dims()
	out := mat.NewDense(rows, 1, nil)
	for i := range rows {
		out.Set(i, 0, s.reduce(batch.RawRowView(i)))
	}
	return out, nil
}

func (s *stubOracle) Reentrant() bool { return true }

func sumRow(row []float64) float64 {
	total := 0.0
	for _, v := range row {
		total += v
	}
	return total
}

func meanRow(row []float64) float64 {
	return sumRow(row) / float64(len(row))
}

// rampFeatures fills an n x w matrix with strictly positive, row-distinct values.
func rampFeatures(n, w int) *mat.Dense {
	m := mat.NewDense(n, w, nil)
	for i := range n {
		for j := range w {
			m.Set(i, j, float64((i+1)*(j+1)%7+i+1))
		}
	}
	return m
}

func identityStats(width, labels int) normalization.Stats {
	return normalization.Stats{
		Feature: normalization.Identity(width),
		Label:   normalization.Identity(labels),
	}
}

// windowStart is the first zeroed column of a batch built from positive
// features, or -1 for the unperturbed baseline.
func windowStart(batch *mat.Dense) int {
	for j, v := range batch.RawRowView(0) {
		if v == 0 {
			return j
		}
	}
	return -1
}
