// Package robust solves the value-function sensitivity recursion of the
// solved economy and the uncertainty prices implied by a concern about
// misspecification.
package robust

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"habitrobust/internal/dynamics"
	"habitrobust/internal/model"
)

// maxCond is the largest condition number of I - βA accepted before the
// value recursion is treated as singular.
const maxCond = 1e10

// Solution is the first-order value expansion V¹ - Y = Sv·S + sv together
// with the shock exposure of next period's value.
type Solution struct {
	// Ambiguity aversion the solution was computed for
	Xi float64

	// Value sensitivity to the full state
	Sv []float64
	// Constant term of the value expansion
	SvConst float64

	// Exposure of V_{t+1} + Y_{t+1} - Y_t to W_{t+1}: Sv·B + Fy
	Price []float64
	// Worst-case mean shift of W_{t+1}, -xi·Price
	Distortion []float64
}

// Solve computes Sv from
//
//	Sv' = (1-β)Su' + β[Sv'A + Sy']
//
// in closed form, then sv from sv = β[sv - (xi/2)|Sv'B + Fy|²] and the price
// vector Sv'B + Fy. xi = 0 switches the robustness penalty off.
func Solve(sys *dynamics.System, xi float64) (*Solution, error) {
	if sys == nil || sys.A == nil {
		return nil, fmt.Errorf("%w: state-space system not assembled", model.ErrSolverInvariant)
	}
	if xi < 0 || math.IsNaN(xi) || math.IsInf(xi, 0) {
		return nil, fmt.Errorf("%w: xi must be finite and >= 0, got %g", model.ErrInvalidParameter, xi)
	}

	n, nw := sys.Dims()
	beta := sys.Beta

	// 1. [I - βA]' Sv = (1-β)Su + βSy
	lhs := mat.NewDense(n, n, nil)
	lhs.Scale(-beta, sys.A.T())
	for i := 0; i < n; i++ {
		lhs.Set(i, i, lhs.At(i, i)+1)
	}

	rhs := make([]float64, n)
	floats.AddScaled(rhs, 1-beta, sys.Su)
	floats.AddScaled(rhs, beta, sys.Sy)

	// A root of A at e^{delta} leaves 1 - βλ at rounding level, which an
	// unguarded solve turns into a huge Sv
	var lu mat.LU
	lu.Factorize(lhs)
	if c := lu.Cond(); c > maxCond || math.IsNaN(c) {
		return nil, fmt.Errorf("%w: I - e^{-delta} A is singular (condition %.3g)", model.ErrSolverInvariant, c)
	}
	var sv mat.VecDense
	if err := lu.SolveVecTo(&sv, false, mat.NewVecDense(n, rhs)); err != nil {
		return nil, fmt.Errorf("%w: I - e^{-delta} A is singular: %v", model.ErrSolverInvariant, err)
	}

	sol := &Solution{
		Xi: xi,
		Sv: append([]float64(nil), sv.RawVector().Data...),
	}

	// 2. Exposure of next period's value
	var exposure mat.VecDense
	exposure.MulVec(sys.B.T(), &sv)
	sol.Price = make([]float64, nw)
	floats.Add(sol.Price, exposure.RawVector().Data)
	floats.Add(sol.Price, sys.Fy)

	// 3. sv(1-β) = -β(xi/2)|price|²
	norm := floats.Norm(sol.Price, 2)
	sol.SvConst = -beta * xi * norm * norm / (2 * (1 - beta))

	sol.Distortion = make([]float64, nw)
	floats.ScaleTo(sol.Distortion, -xi, sol.Price)

	return sol, nil
}
