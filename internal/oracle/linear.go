package oracle

import (
	"context"
	"fmt"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/tensorplex-labs/blackbox/internal/normalization"
)

// LinearWeights is the on-disk form of a linear readout.
type LinearWeights struct {
	Weights [][]float64 `json:"weights"` // width x numLabels
	Bias    []float64   `json:"bias"`
}

// Linear is a dense readout y = xW + b followed by label de-normalization.
// It stands in for a network when serving a model from Go.
type Linear struct {
	weights *mat.Dense
	bias    []float64
	stats   normalization.Stats
}

func NewLinear(weights *mat.Dense, bias []float64, stats normalization.Stats) (*Linear, error) {
	_, labels := weights.Dims()
	if len(bias) != labels {
		return nil, &normalization.ConfigMismatchError{Field: "bias", Want: labels, Got: len(bias)}
	}
	if len(stats.Label.Mean) != labels {
		return nil, &normalization.ConfigMismatchError{Field: "label.mean", Want: labels, Got: len(stats.Label.Mean)}
	}
	return &Linear{weights: weights, bias: bias, stats: stats}, nil
}

// LoadLinear reads WeightsFile from the bundle directory.
func LoadLinear(b *Bundle) (*Linear, error) {
	var lw LinearWeights
	if err := readJSON(filepath.Join(b.Dir, WeightsFile), &lw); err != nil {
		return nil, err
	}
	if len(lw.Weights) != b.Width() {
		return nil, &normalization.ConfigMismatchError{Field: "weights rows", Want: b.Width(), Got: len(lw.Weights)}
	}

	labels := len(b.Targets)
	data := make([]float64, 0, len(lw.Weights)*labels)
	for i, row := range lw.Weights {
		if len(row) != labels {
			return nil, fmt.Errorf("weights row %d has %d columns, want %d", i, len(row), labels)
		}
		data = append(data, row...)
	}
	return NewLinear(mat.NewDense(len(lw.Weights), labels, data), lw.Bias, b.Stats)
}

// SaveLinear writes the weights into the bundle directory.
func SaveLinear(b *Bundle, lw LinearWeights) error {
	return writeJSON(filepath.Join(b.Dir, WeightsFile), lw)
}

func (l *Linear) Predict(ctx context.Context, batch *mat.Dense) (*mat.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, width := batch.Dims()
	wantWidth, _ := l.weights.Dims()
	if width != wantWidth {
		return nil, &normalization.ConfigMismatchError{Field: "batch width", Want: wantWidth, Got: width}
	}

	var out mat.Dense
	out.Mul(batch, l.weights)
	rows, cols := out.Dims()
	for i := range rows {
		for j := range cols {
			out.Set(i, j, out.At(i, j)+l.bias[j])
		}
	}
	return l.stats.DenormalizeLabels(&out)
}

func (l *Linear) Reentrant() bool { return true }

// LinearFactory serves every bundle with the linear readout stored next to it.
func LinearFactory(b *Bundle) (Oracle, error) {
	return LoadLinear(b)
}
