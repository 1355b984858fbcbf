package model

import (
	"gonum.org/v1/gonum/mat"
)

// Positions of the endogenous variables in Z = [K¹, H¹, MK¹, MH¹].
// The first NumPredetermined entries are states, the rest co-states.
const (
	IdxK = iota
	IdxH
	IdxMK
	IdxMH

	NumEndogenous    = 4
	NumPredetermined = 2
)

// Positions of the eliminated controls.
const (
	CtrlC = iota
	CtrlU

	NumControls = 2
)

// ShockProcess describes the exogenous income-growth state
//
//	X_{t+1} = Ax X_t + Bx W_{t+1}
//	Y_{t+1} - Y_t = nu + Sy·X_t + Fy·W_{t+1}
type ShockProcess struct {
	// Exogenous state transition (nx x nx)
	Ax *mat.Dense
	// Exogenous shock loading (nx x nw)
	Bx *mat.Dense
	// Loading of expected income growth on X (length nx)
	Sy []float64
	// Loading of income growth on W (length nw)
	Fy []float64
}

// Params is the full structural parameter set. It is treated as immutable
// once constructed; every derived matrix is a function of it.
type Params struct {
	// Habit share in the utility aggregator, 0 <= Alpha <= 1
	Alpha float64
	// Curvature of the CES aggregator (1/elasticity of substitution)
	Eta float64
	// Habit depreciation, e^{-Psi} is the habit persistence
	Psi float64
	// Subjective discount rate
	Delta float64
	// Mean log income growth
	Nu float64
	// Log gross return on capital. Zero means Delta + Nu.
	Rho float64

	Shocks ShockProcess
}

// SteadyState holds the balanced-growth levels (scaled by income) and the
// marginal utilities around which the model is expanded.
type SteadyState struct {
	C float64
	H float64
	K float64

	// Budget shares of consumption and habit in the CES aggregator
	ShareC float64
	ShareH float64

	// d log U / dC and d log U / dH
	MC float64
	MH float64

	// Second derivatives of log U
	MCC float64
	MCH float64
	MHH float64

	// Co-state levels (marginal value of capital and habit)
	CostateK float64
	CostateH float64
}

// Equation is one structural equation written as
//
//	Next·E_t[Z_{t+1}] + Control·[C¹, U¹] = Current·Z_t + Forcing·X_t
type Equation struct {
	Name    string
	Next    []float64
	Control []float64
	Current []float64
	Forcing []float64
}

// System is the built structural system for one parameter set.
type System struct {
	Params Params
	Steady SteadyState

	Equations []Equation

	// Stacked coefficient blocks of Equations
	Next    *mat.Dense // neq x 4
	Control *mat.Dense // neq x 2
	Current *mat.Dense // neq x 4
	Forcing *mat.Dense // neq x nx

	// Realised-shock loading on Z_{t+1}: Z_{t+1} - E_t Z_{t+1} for the
	// predetermined block (4 x nw, co-state rows are zero)
	Shock *mat.Dense
}
