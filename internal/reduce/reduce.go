// Package reduce eliminates the control variables from the structural system
// and leaves a linear expectational difference equation in the endogenous
// states and co-states.
package reduce

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"habitrobust/internal/model"
)

// rankTol is the relative singular-value cutoff for the control block.
const rankTol = 1e-12

// consistencyTol bounds the residual of the recovered control equations.
const consistencyTol = 1e-8

// Reduced is the control-free form
//
//	A·E_t[Z_{t+1}] = D·Z_t + DX·X_t
//
// together with its normalised version E_t[Z_{t+1}] = M·Z_t + MX·X_t and the
// maps recovering the controls, [C¹, U¹] = CtrlZ·Z_t + CtrlX·X_t.
type Reduced struct {
	A  *mat.Dense
	D  *mat.Dense
	DX *mat.Dense

	M  *mat.Dense
	MX *mat.Dense

	CtrlZ *mat.Dense
	CtrlX *mat.Dense
}

// Reduce removes C¹ and U¹ from sys. The elimination multiplies the system by
// an orthonormal basis of the left null space of the control block, so no
// equation is singled out as a pivot.
func Reduce(sys *model.System) (*Reduced, error) {
	if sys == nil || sys.Control == nil {
		return nil, fmt.Errorf("%w: structural system not built", model.ErrDegenerateSystem)
	}

	neq, nctrl := sys.Control.Dims()
	if neq-nctrl != model.NumEndogenous {
		return nil, fmt.Errorf("%w: %d equations and %d controls leave %d equations for %d unknowns",
			model.ErrDegenerateSystem, neq, nctrl, neq-nctrl, model.NumEndogenous)
	}

	next, control, current, forcing := equilibrate(sys)

	// 1. Factorize the control block; its rank decides whether the
	// controls can be eliminated uniquely
	var svd mat.SVD
	if ok := svd.Factorize(control, mat.SVDFullU|mat.SVDFullV); !ok {
		return nil, fmt.Errorf("%w: SVD of the control block failed", model.ErrDegenerateSystem)
	}
	rank := svd.Rank(rankTol)
	if rank < nctrl {
		return nil, fmt.Errorf("%w: control block has rank %d, need %d",
			model.ErrDegenerateSystem, rank, nctrl)
	}

	// 2. Left null space: the trailing columns of U
	var u mat.Dense
	svd.UTo(&u)
	null := mat.DenseCopyOf(u.Slice(0, neq, nctrl, neq).T()) // (neq-nctrl) x neq

	red := &Reduced{}
	red.A = mulNew(null, next)
	red.D = mulNew(null, current)
	red.DX = mulNew(null, forcing)

	// 3. Normalise by A; a singular A means the expectations of Z_{t+1} are
	// not pinned down by the structural equations
	var m, mx mat.Dense
	if err := m.Solve(red.A, red.D); err != nil {
		return nil, fmt.Errorf("%w: expectation block is singular: %v", model.ErrDegenerateSystem, err)
	}
	if err := mx.Solve(red.A, red.DX); err != nil {
		return nil, fmt.Errorf("%w: expectation block is singular: %v", model.ErrDegenerateSystem, err)
	}
	red.M = &m
	red.MX = &mx

	// 4. Recover the controls from the full system. With E Z' substituted
	// the control equations are consistent, so least squares is exact.
	ctrlZ, err := recoverControls(&svd, rank, control, current, next, red.M)
	if err != nil {
		return nil, err
	}
	ctrlX, err := recoverControls(&svd, rank, control, forcing, next, red.MX)
	if err != nil {
		return nil, err
	}
	red.CtrlZ = ctrlZ
	red.CtrlX = ctrlX

	return red, nil
}

// recoverControls solves Control·Q = rhs - Next·trans in the least-squares
// sense and rejects the result when the equations are inconsistent.
func recoverControls(svd *mat.SVD, rank int, control, rhs, next, trans mat.Matrix) (*mat.Dense, error) {
	var b mat.Dense
	b.Mul(next, trans)
	b.Sub(rhs, &b)

	var q mat.Dense
	svd.SolveTo(&q, &b, rank)

	var fit mat.Dense
	fit.Mul(control, &q)
	fit.Sub(&fit, &b)

	scale := math.Max(1, mat.Norm(&b, math.Inf(1)))
	if resid := mat.Norm(&fit, math.Inf(1)); resid > consistencyTol*scale {
		return nil, fmt.Errorf("%w: control equations inconsistent (residual %.3g)",
			model.ErrDegenerateSystem, resid)
	}
	return &q, nil
}

// equilibrate returns copies of the coefficient blocks with every equation
// divided by its largest coefficient. Each equation keeps its solution set.
func equilibrate(sys *model.System) (next, control, current, forcing *mat.Dense) {
	next = mat.DenseCopyOf(sys.Next)
	control = mat.DenseCopyOf(sys.Control)
	current = mat.DenseCopyOf(sys.Current)
	forcing = mat.DenseCopyOf(sys.Forcing)

	blocks := []*mat.Dense{next, control, current, forcing}
	neq, _ := control.Dims()
	for i := 0; i < neq; i++ {
		scale := 0.0
		for _, b := range blocks {
			scale = math.Max(scale, floats.Norm(b.RawRowView(i), math.Inf(1)))
		}
		if scale == 0 {
			continue
		}
		for _, b := range blocks {
			floats.Scale(1/scale, b.RawRowView(i))
		}
	}
	return next, control, current, forcing
}

func mulNew(a, b mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Mul(a, b)
	return &out
}
