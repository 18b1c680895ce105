package annotation

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// ScaleTo multiplies mask by scale so it shares the y-range of the curve it
// is drawn over. The mask must cover width columns; extra trailing values are
// dropped.
func ScaleTo(label string, mask []float64, scale float64, width int) ([]float64, error) {
	if len(mask) < width {
		return nil, &FetchError{Label: label, Err: fmt.Errorf("mask has %d values, curve has %d", len(mask), width)}
	}
	out := slices.Clone(mask[:width])
	floats.Scale(scale, out)
	return out, nil
}
