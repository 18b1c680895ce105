package oracle

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

const PredictPath = "/predict"

type PredictRequest struct {
	Model  string      `json:"model"`
	Inputs [][]float64 `json:"inputs"`
}

type PredictResponse struct {
	Success     bool        `json:"success"`
	Mean        [][]float64 `json:"mean"`
	Uncertainty [][]float64 `json:"uncertainty,omitempty"`
	Error       string      `json:"error,omitempty"`
}

func toRows(m mat.Matrix) [][]float64 {
	if m == nil {
		return nil
	}
	r, c := m.Dims()
	rows := make([][]float64, r)
	for i := range r {
		row := make([]float64, c)
		for j := range c {
			row[j] = m.At(i, j)
		}
		rows[i] = row
	}
	return rows
}

func fromRows(rows [][]float64, wantRows int) (*mat.Dense, error) {
	if len(rows) != wantRows {
		return nil, fmt.Errorf("got %d rows, want %d", len(rows), wantRows)
	}
	if wantRows == 0 {
		return nil, fmt.Errorf("empty matrix")
	}
	cols := len(rows[0])
	data := make([]float64, 0, wantRows*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return mat.NewDense(wantRows, cols, data), nil
}
