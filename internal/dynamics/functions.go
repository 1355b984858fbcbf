// Package dynamics attaches the exogenous shock structure to the stable
// solution and derives response paths, forecasts and simulations.
package dynamics

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"habitrobust/internal/model"
	"habitrobust/internal/reduce"
	"habitrobust/internal/solver"
)

// Assemble builds the full state-space system from the structural system,
// its reduced form and the stable solution.
//
// The co-states load on the exogenous state through G, the solution of the
// Sylvester equation
//
//	(N22 - J·N12)·G - G·Ax = J·MX1 - MX2
//
// which makes the co-state rule p = J·x + G·X consistent with expectations.
func Assemble(sys *model.System, red *reduce.Reduced, sol *solver.Solution) (*System, error) {
	if sys == nil || red == nil || sol == nil {
		return nil, fmt.Errorf("%w: incomplete baseline solution", model.ErrSolverInvariant)
	}

	p := sys.Params
	ax := p.Shocks.Ax
	nx, nw := p.NumExogenous()
	nPre, _ := sol.B.Dims()
	nCo, _ := sol.J.Dims()
	n := nPre + nx

	mx1 := red.MX.Slice(0, nPre, 0, nx)
	mx2 := red.MX.Slice(nPre, nPre+nCo, 0, nx)

	// 1. Co-state loading on X
	var lhs, rhs mat.Dense
	lhs.Mul(sol.J, sol.N12)
	lhs.Sub(sol.N22, &lhs)
	rhs.Mul(sol.J, mx1)
	rhs.Sub(&rhs, mx2)

	g, err := solveSylvester(&lhs, ax, &rhs)
	if err != nil {
		return nil, err
	}

	// 2. Transition over S = [x, X]
	var bx mat.Dense
	bx.Mul(sol.N12, g)
	bx.Add(&bx, mx1)

	a := mat.NewDense(n, n, nil)
	a.Slice(0, nPre, 0, nPre).(*mat.Dense).Copy(sol.B)
	a.Slice(0, nPre, nPre, n).(*mat.Dense).Copy(&bx)
	a.Slice(nPre, n, nPre, n).(*mat.Dense).Copy(ax)

	// 3. Shock loading: realised shocks hit habit and X
	b := mat.NewDense(n, nw, nil)
	b.Slice(0, nPre, 0, nw).(*mat.Dense).Copy(sys.Shock.Slice(0, nPre, 0, nw))
	b.Slice(nPre, n, 0, nw).(*mat.Dense).Copy(p.Shocks.Bx)

	// 4. Co-states and controls over S
	costate := mat.NewDense(nCo, n, nil)
	costate.Slice(0, nCo, 0, nPre).(*mat.Dense).Copy(sol.J)
	costate.Slice(0, nCo, nPre, n).(*mat.Dense).Copy(g)

	var ctrl mat.Dense
	ctrl.Mul(red.CtrlZ.Slice(0, model.NumControls, nPre, nPre+nCo), costate)

	direct := mat.NewDense(model.NumControls, n, nil)
	direct.Slice(0, model.NumControls, 0, nPre).(*mat.Dense).Copy(red.CtrlZ.Slice(0, model.NumControls, 0, nPre))
	direct.Slice(0, model.NumControls, nPre, n).(*mat.Dense).Copy(red.CtrlX)
	ctrl.Add(&ctrl, direct)

	sy := make([]float64, n)
	copy(sy[nPre:], p.Shocks.Sy)

	// total income adds the return on capital: C = 1 + (1-beta)K in steady state
	si := make([]float64, n)
	si[model.IdxK] = 1 - p.Beta()

	return &System{
		NumStates: nPre,
		A:         a,
		B:         b,
		Sy:        sy,
		Fy:        append([]float64(nil), p.Shocks.Fy...),
		Sc:        mat.Row(nil, model.CtrlC, &ctrl),
		Su:        mat.Row(nil, model.CtrlU, &ctrl),
		Si:        si,
		P:         costate,
		Beta:      p.Beta(),
	}, nil
}

// solveSylvester returns G with P·G - G·Q = R by vectorising column-major:
// (I ⊗ P - Qᵀ ⊗ I) vec(G) = vec(R).
func solveSylvester(pm, q, r *mat.Dense) (*mat.Dense, error) {
	m, _ := pm.Dims()
	k, _ := q.Dims()

	kron := mat.NewDense(m*k, m*k, nil)
	for col := 0; col < k; col++ {
		for i := 0; i < m; i++ {
			rowIdx := col*m + i
			for l := 0; l < k; l++ {
				for j := 0; j < m; j++ {
					v := -q.At(l, col) * kronDelta(i, j)
					if l == col {
						v += pm.At(i, j)
					}
					kron.Set(rowIdx, l*m+j, v)
				}
			}
		}
	}

	vecR := mat.NewVecDense(m*k, nil)
	for col := 0; col < k; col++ {
		for i := 0; i < m; i++ {
			vecR.SetVec(col*m+i, r.At(i, col))
		}
	}

	var vecG mat.VecDense
	if err := vecG.SolveVec(kron, vecR); err != nil {
		return nil, fmt.Errorf("%w: co-state loading on the exogenous state is not unique: %v",
			model.ErrSolverInvariant, err)
	}

	g := mat.NewDense(m, k, nil)
	for col := 0; col < k; col++ {
		for i := 0; i < m; i++ {
			g.Set(i, col, vecG.AtVec(col*m+i))
		}
	}
	return g, nil
}

func kronDelta(i, j int) float64 {
	if i == j {
		return 1
	}
	return 0
}

// ResponsePath computes the length-T response of log total income and log
// consumption to a unit shock in W component shock at t = 0.
func (s *System) ResponsePath(horizon, shock int) (*Path, error) {
	if s == nil || s.A == nil {
		return nil, fmt.Errorf("%w: state-space system not assembled", model.ErrSolverInvariant)
	}
	if horizon < 1 {
		return nil, fmt.Errorf("%w: horizon must be >= 1, got %d", model.ErrInvalidLength, horizon)
	}
	n, nw := s.Dims()
	if shock < 0 || shock >= nw {
		return nil, fmt.Errorf("%w: shock index must be between 0 and %d", model.ErrInvalidParameter, nw-1)
	}

	path := &Path{
		Shock:       shock,
		Income:      make([]float64, horizon),
		Consumption: make([]float64, horizon),
	}

	// Impact: the shock loads on the state and on income growth at t = 0
	state := mat.NewVecDense(n, mat.Col(nil, shock, s.B))
	level := s.Fy[shock]

	var next mat.VecDense
	for t := 0; t < horizon; t++ {
		raw := state.RawVector().Data
		path.Income[t] = level + floats.Dot(s.Si, raw)
		path.Consumption[t] = level + floats.Dot(s.Sc, raw)

		level += floats.Dot(s.Sy, raw)
		next.MulVec(s.A, state)
		state.CopyVec(&next)
	}

	return path, nil
}

// Forecast produces the conditional-mean path of the full state from s0.
// Returns: steps x n matrix where row h is E[S_{h+1} | S_0 = s0].
func (s *System) Forecast(s0 []float64, steps int) (*mat.Dense, error) {
	if s == nil || s.A == nil {
		return nil, fmt.Errorf("%w: state-space system not assembled", model.ErrSolverInvariant)
	}
	if steps <= 0 {
		return nil, fmt.Errorf("%w: steps must be > 0", model.ErrInvalidLength)
	}
	n, _ := s.Dims()
	if len(s0) != n {
		return nil, fmt.Errorf("%w: initial state has length %d, want %d", model.ErrInvalidParameter, len(s0), n)
	}

	out := mat.NewDense(steps, n, nil)
	state := mat.NewVecDense(n, append([]float64(nil), s0...))
	var next mat.VecDense
	for h := 0; h < steps; h++ {
		next.MulVec(s.A, state)
		out.SetRow(h, next.RawVector().Data)
		state.CopyVec(&next)
	}
	return out, nil
}
