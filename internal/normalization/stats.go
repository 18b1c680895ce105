// Package normalization applies the feature and label statistics a model was trained with.
package normalization

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ConfigMismatchError reports configuration that disagrees with the data or the model.
type ConfigMismatchError struct {
	Field string
	Want  any
	Got   any
}

func (e *ConfigMismatchError) Error() string {
	return fmt.Sprintf("config mismatch on %s: want %v, got %v", e.Field, e.Want, e.Got)
}

// Pair holds one mean and one scale per column.
type Pair struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (p Pair) validate(field string, width int) error {
	if len(p.Mean) != width {
		return &ConfigMismatchError{Field: field + ".mean", Want: width, Got: len(p.Mean)}
	}
	if len(p.Scale) != width {
		return &ConfigMismatchError{Field: field + ".scale", Want: width, Got: len(p.Scale)}
	}
	for i, s := range p.Scale {
		if s == 0 {
			return &ConfigMismatchError{Field: fmt.Sprintf("%s.scale[%d]", field, i), Want: "non-zero", Got: s}
		}
	}
	return nil
}

// Identity returns a pair that leaves values unchanged.
func Identity(width int) Pair {
	p := Pair{
		Mean:  make([]float64, width),
		Scale: make([]float64, width),
	}
	for i := range p.Scale {
		p.Scale[i] = 1
	}
	return p
}

// Stats bundles the feature and label normalization of a trained model.
type Stats struct {
	Feature Pair `json:"feature"`
	Label   Pair `json:"label"`
}

// Validate checks the vector lengths against the feature width and label count.
func (s Stats) Validate(width, numLabels int) error {
	if err := s.Feature.validate("feature", width); err != nil {
		return err
	}
	return s.Label.validate("label", numLabels)
}

// NormalizeFeatures returns (x - mean) / scale as a new matrix. x is not modified.
func (s Stats) NormalizeFeatures(x mat.Matrix) (*mat.Dense, error) {
	return apply(x, s.Feature, "feature", forward)
}

// NormalizeLabels maps physical label values into model space.
func (s Stats) NormalizeLabels(y mat.Matrix) (*mat.Dense, error) {
	return apply(y, s.Label, "label", forward)
}

// DenormalizeLabels maps model outputs back to physical units.
func (s Stats) DenormalizeLabels(y mat.Matrix) (*mat.Dense, error) {
	return apply(y, s.Label, "label", inverse)
}

// DenormalizeUncertainty scales a predicted standard deviation back to physical units.
func (s Stats) DenormalizeUncertainty(sigma mat.Matrix) (*mat.Dense, error) {
	_, cols := sigma.Dims()
	if len(s.Label.Scale) != cols {
		return nil, &ConfigMismatchError{Field: "label.scale", Want: cols, Got: len(s.Label.Scale)}
	}
	out := mat.DenseCopyOf(sigma)
	rows, _ := out.Dims()
	for i := range rows {
		for j := range cols {
			out.Set(i, j, out.At(i, j)*s.Label.Scale[j])
		}
	}
	return out, nil
}

type direction int

const (
	forward direction = iota
	inverse
)

func apply(x mat.Matrix, p Pair, field string, dir direction) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if err := p.validate(field, cols); err != nil {
		return nil, err
	}

	out := mat.NewDense(rows, cols, nil)
	for i := range rows {
		for j := range cols {
			v := x.At(i, j)
			if dir == forward {
				v = (v - p.Mean[j]) / p.Scale[j]
			} else {
				v = v*p.Scale[j] + p.Mean[j]
			}
			out.Set(i, j, v)
		}
	}
	return out, nil
}
