package blackbox

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Segment is a physically contiguous wavelength range (a detector chip) on the feature axis.
type Segment struct {
	Name        string
	Start       int // first feature column, inclusive
	End         int // last feature column, exclusive
	LambdaStart float64
	LambdaEnd   float64
}

func (s Segment) Len() int {
	return s.End - s.Start
}

// Wavelengths maps the segment's columns linearly onto [LambdaStart, LambdaEnd], endpoints included.
func (s Segment) Wavelengths() []float64 {
	n := s.Len()
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{s.LambdaStart}
	}
	return floats.Span(make([]float64, n), s.LambdaStart, s.LambdaEnd)
}

type Segments []Segment

// APOGEE chip layout, wavelengths in Angstrom.
const (
	APOGEEWidth   = 7514
	blueChipEnd   = 3028
	greenChipEnd  = 5523
	blueLambdaLo  = 15146
	blueLambdaHi  = 15910
	greenLambdaLo = 15961
	greenLambdaHi = 16434
	redLambdaLo   = 16476
	redLambdaHi   = 16953
)

// DefaultSegments returns the blue, green and red APOGEE chips.
func DefaultSegments() Segments {
	return Segments{
		{Name: "blue", Start: 0, End: blueChipEnd, LambdaStart: blueLambdaLo, LambdaEnd: blueLambdaHi},
		{Name: "green", Start: blueChipEnd, End: greenChipEnd, LambdaStart: greenLambdaLo, LambdaEnd: greenLambdaHi},
		{Name: "red", Start: greenChipEnd, End: APOGEEWidth, LambdaStart: redLambdaLo, LambdaEnd: redLambdaHi},
	}
}

// SingleSegment covers the whole feature axis, labelled by column index.
func SingleSegment(width int) Segments {
	return Segments{{Name: "all", Start: 0, End: width, LambdaStart: 0, LambdaEnd: float64(width - 1)}}
}

// Validate checks the segments tile [0, width) in order without gaps.
func (s Segments) Validate(width int) error {
	if len(s) == 0 {
		return &ConfigMismatchError{Field: "segments", Want: "at least one", Got: 0}
	}
	next := 0
	for i, seg := range s {
		if seg.Start != next {
			return &ConfigMismatchError{Field: fmt.Sprintf("segment %d (%s) start", i, seg.Name), Want: next, Got: seg.Start}
		}
		if seg.Len() <= 0 {
			return &ConfigMismatchError{Field: fmt.Sprintf("segment %d (%s) length", i, seg.Name), Want: "> 0", Got: seg.Len()}
		}
		next = seg.End
	}
	if next != width {
		return &ConfigMismatchError{Field: "segments end", Want: width, Got: next}
	}
	return nil
}

// SegmentedCurve is one label's sensitivity restricted to one segment.
type SegmentedCurve struct {
	Segment
	Wavelength []float64
	Signed     []float64 // median delta
	Attention  []float64 // |median delta|
}

// Partition slices column label of curve into one SegmentedCurve per segment.
func (s Segments) Partition(curve mat.Matrix, label int) []SegmentedCurve {
	column := mat.Col(nil, label, curve)
	cut := s.Cut(column)

	out := make([]SegmentedCurve, len(s))
	for i, seg := range s {
		attention := make([]float64, len(cut[i]))
		for j, v := range cut[i] {
			attention[j] = math.Abs(v)
		}
		out[i] = SegmentedCurve{
			Segment:    seg,
			Wavelength: seg.Wavelengths(),
			Signed:     cut[i],
			Attention:  attention,
		}
	}
	return out
}

// Cut splits a per-column series along the segment boundaries. Segments
// reaching past the end of values are truncated.
func (s Segments) Cut(values []float64) [][]float64 {
	out := make([][]float64, len(s))
	for i, seg := range s {
		lo, hi := WindowBounds(seg.Start, seg.Len(), len(values))
		part := make([]float64, hi-lo)
		copy(part, values[lo:hi])
		out[i] = part
	}
	return out
}

// MaxAbs is the largest absolute value of column label of curve.
func MaxAbs(curve mat.Matrix, label int) float64 {
	column := mat.Col(nil, label, curve)
	m := 0.0
	for _, v := range column {
		m = math.Max(m, math.Abs(v))
	}
	return m
}
