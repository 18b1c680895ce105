// Package dataset provides keyed access to spectra and label columns.
package dataset

import (
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// Sentinel marks a missing label entry.
const Sentinel = -9999.0

var ErrColumnNotFound = errors.New("column not found")

// Store is a fixed-size batch of spectra plus named label columns.
type Store interface {
	// Column returns the values of a label column, one per row.
	Column(name string) ([]float64, error)
	// Spectra returns the rows x width feature matrix.
	Spectra() (*mat.Dense, error)
	// Len is the number of rows.
	Len() int
	// Valid reports whether v is a real value and not the missing-value sentinel.
	Valid(v float64) bool
}

type MemoryStore struct {
	spectra  *mat.Dense
	columns  map[string][]float64
	sentinel float64
}

type MemoryStoreOption func(*MemoryStore)

func WithSentinel(sentinel float64) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.sentinel = sentinel
	}
}

// NewMemoryStore checks that every column has one value per spectrum row.
func NewMemoryStore(spectra *mat.Dense, columns map[string][]float64, opts ...MemoryStoreOption) (*MemoryStore, error) {
	if spectra == nil {
		return nil, fmt.Errorf("spectra cannot be nil")
	}

	rows, _ := spectra.Dims()
	for name, col := range columns {
		if len(col) != rows {
			return nil, fmt.Errorf("column %q has %d values, spectra has %d rows", name, len(col), rows)
		}
	}

	s := &MemoryStore{
		spectra:  spectra,
		columns:  columns,
		sentinel: Sentinel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *MemoryStore) Column(name string) ([]float64, error) {
	col, ok := s.columns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	out := make([]float64, len(col))
	copy(out, col)
	return out, nil
}

func (s *MemoryStore) Spectra() (*mat.Dense, error) {
	return mat.DenseCopyOf(s.spectra), nil
}

func (s *MemoryStore) Len() int {
	rows, _ := s.spectra.Dims()
	return rows
}

func (s *MemoryStore) Valid(v float64) bool {
	return v != s.sentinel
}

// Columns lists the label column names held by the store, sorted.
func (s *MemoryStore) Columns() []string {
	names := make([]string, 0, len(s.columns))
	for name := range s.columns {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
