package blackbox

import (
	"slices"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DeltaTensor holds, per window, the N x numLabels difference between the
// perturbed and the baseline prediction.
type DeltaTensor []*mat.Dense

func (d DeltaTensor) Dims() (windows, samples, labels int) {
	if len(d) == 0 || d[0] == nil {
		return len(d), 0, 0
	}
	samples, labels = d[0].Dims()
	return len(d), samples, labels
}

// Reducer collapses the per-sample deltas of one window and label.
type Reducer func(values []float64) float64

// Median averages the two middle values for an even count. values is not reordered.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// Aggregate reduces the tensor along the sample axis with the median, giving
// one sensitivity per window and label.
func Aggregate(d DeltaTensor) *mat.Dense {
	return AggregateWith(d, Median)
}

func AggregateWith(d DeltaTensor, reduce Reducer) *mat.Dense {
	windows, samples, labels := d.Dims()
	if windows == 0 || labels == 0 {
		return nil
	}

	curve := mat.NewDense(windows, labels, nil)
	column := make([]float64, samples)
	for w, delta := range d {
		for l := range labels {
			mat.Col(column, l, delta)
			curve.Set(w, l, reduce(column))
		}
	}
	return curve
}
