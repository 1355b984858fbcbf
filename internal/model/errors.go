package model

import "errors"

// Failure kinds shared by every stage of the pipeline. Callers wrap them with
// fmt.Errorf("...: %w", err) and classify with errors.Is.
var (
	// Structural parameter outside its admissible domain
	ErrInvalidParameter = errors.New("invalid parameter")

	// Singular or non-unique elimination of the control variables
	ErrDegenerateSystem = errors.New("degenerate system")

	// Stable-solution checks or the value recursion inverse failed
	ErrSolverInvariant = errors.New("solver invariant violation")

	// Requested path length below one
	ErrInvalidLength = errors.New("invalid length")
)

// Kind names the failure class of err, or "" for nil and "unknown" for
// errors outside the taxonomy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidParameter):
		return "InvalidParameter"
	case errors.Is(err, ErrDegenerateSystem):
		return "DegenerateSystem"
	case errors.Is(err, ErrSolverInvariant):
		return "SolverInvariantViolation"
	case errors.Is(err, ErrInvalidLength):
		return "InvalidLength"
	default:
		return "unknown"
	}
}
