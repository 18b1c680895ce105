package blackbox

import (
	"errors"
	"fmt"

	"github.com/tensorplex-labs/blackbox/internal/normalization"
)

// BaselineWindow is the window index reported when the unperturbed prediction fails.
const BaselineWindow = -1

var ErrNoEvaluableRows = errors.New("no evaluable rows")

// ConfigMismatchError is returned when stats, segments or the model disagree with the data.
type ConfigMismatchError = normalization.ConfigMismatchError

// DataInsufficientError means no row has every requested label present.
type DataInsufficientError struct {
	Targets []string
	Rows    int
}

func (e *DataInsufficientError) Error() string {
	return fmt.Sprintf("%v: none of %d rows has all of %v present", ErrNoEvaluableRows, e.Rows, e.Targets)
}

func (e *DataInsufficientError) Unwrap() error {
	return ErrNoEvaluableRows
}

// OracleInvocationError wraps a prediction failure with the window being scanned.
type OracleInvocationError struct {
	Window int
	Err    error
}

func (e *OracleInvocationError) Error() string {
	if e.Window == BaselineWindow {
		return fmt.Sprintf("oracle failed on baseline prediction: %v", e.Err)
	}
	return fmt.Sprintf("oracle failed at window %d: %v", e.Window, e.Err)
}

func (e *OracleInvocationError) Unwrap() error {
	return e.Err
}
