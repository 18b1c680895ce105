package blackbox

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/tensorplex-labs/blackbox/internal/dataset"
)

// DefaultBudget is how many rows are evaluated when no budget is given.
const DefaultBudget = 100

// SelectRows returns, in ascending order, the first budget rows whose every
// target column holds a valid value. A budget <= 0 keeps all of them.
func SelectRows(store dataset.Store, targets []string, budget int) ([]int, error) {
	if len(targets) == 0 {
		return nil, &ConfigMismatchError{Field: "targets", Want: "at least one", Got: 0}
	}

	var rows []int
	for i, target := range targets {
		col, err := store.Column(target)
		if err != nil {
			return nil, fmt.Errorf("select rows: %w", err)
		}
		if len(col) != store.Len() {
			return nil, &ConfigMismatchError{Field: "column " + target, Want: store.Len(), Got: len(col)}
		}

		if i == 0 {
			rows = make([]int, 0, len(col))
			for row, v := range col {
				if store.Valid(v) {
					rows = append(rows, row)
				}
			}
			continue
		}

		kept := rows[:0]
		for _, row := range rows {
			if store.Valid(col[row]) {
				kept = append(kept, row)
			}
		}
		rows = kept
	}

	if len(rows) == 0 {
		return nil, &DataInsufficientError{Targets: targets, Rows: store.Len()}
	}
	if budget > 0 && len(rows) > budget {
		rows = rows[:budget]
	}
	return rows, nil
}

// Materialize copies the selected rows out of the store.
func Materialize(store dataset.Store, targets []string, rows []int) (features, labels *mat.Dense, err error) {
	spectra, err := store.Spectra()
	if err != nil {
		return nil, nil, fmt.Errorf("load spectra: %w", err)
	}
	features = gatherRows(spectra, rows)

	labels, err = labelMatrix(store, targets, rows)
	if err != nil {
		return nil, nil, err
	}
	return features, labels, nil
}

func gatherRows(m mat.Matrix, rows []int) *mat.Dense {
	_, cols := m.Dims()
	out := mat.NewDense(len(rows), cols, nil)
	for i, row := range rows {
		for j := range cols {
			out.Set(i, j, m.At(row, j))
		}
	}
	return out
}

func labelMatrix(store dataset.Store, targets []string, rows []int) (*mat.Dense, error) {
	labels := mat.NewDense(len(rows), len(targets), nil)
	for j, target := range targets {
		col, err := store.Column(target)
		if err != nil {
			return nil, fmt.Errorf("load labels: %w", err)
		}
		for i, row := range rows {
			labels.Set(i, j, col[row])
		}
	}
	return labels, nil
}
