// Package solver selects the unique non-explosive solution of the reduced
// expectational system E_t[Z_{t+1}] = M·Z_t.
//
// Z is split into predetermined states x (first nPre entries) and co-states
// p. The co-states are tied to the states by L·p = J·x, where J annihilates
// every unstable left eigen-direction of M. The states then evolve with
//
//	x_{t+1} = B·x_t,  B = N11 + N12·L⁻¹·J
//
// and B must carry exactly the stable eigenvalues of M.
package solver

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/mat"

	"habitrobust/internal/model"
)

// Boundary selects the modulus that separates stable from unstable roots.
type Boundary int

const (
	// Discounted classifies |λ| < e^{δ/2} as stable. Roots of a discounted
	// control problem come in pairs (λ, e^{δ}/λ), so e^{δ/2} sits between
	// every pair and keeps unit roots on the stable side.
	Discounted Boundary = iota
	// UnitCircle classifies |λ| <= 1 as stable.
	UnitCircle
)

// String implements fmt.Stringer.
func (b Boundary) String() string {
	switch b {
	case Discounted:
		return "discounted"
	case UnitCircle:
		return "unit"
	default:
		return fmt.Sprintf("Boundary(%d)", int(b))
	}
}

// ParseBoundary maps a configuration string to a Boundary.
func ParseBoundary(s string) (Boundary, error) {
	switch s {
	case "", "discounted":
		return Discounted, nil
	case "unit", "unit-circle":
		return UnitCircle, nil
	default:
		return 0, fmt.Errorf("%w: unknown stability boundary %q", model.ErrInvalidParameter, s)
	}
}

// Options controls the stable/unstable partition and the invariant checks.
type Options struct {
	Boundary Boundary
	// Explicit threshold on |λ|; overrides Boundary when positive
	Threshold float64
	// Tolerance of the residual identity and of the eigenvalue match,
	// relative to the magnitude of the quantities compared
	Tolerance float64
}

// DefaultOptions returns the discounted boundary with a 1e-8 tolerance.
func DefaultOptions() Options {
	return Options{Boundary: Discounted, Tolerance: 1e-8}
}

// threshold resolves the stability threshold for discount rate delta.
func (o Options) threshold(delta float64) float64 {
	switch {
	case o.Threshold > 0:
		return o.Threshold
	case o.Boundary == UnitCircle:
		return 1
	default:
		return math.Exp(delta / 2)
	}
}

func (o Options) tolerance() float64 {
	if o.Tolerance <= 0 {
		return 1e-8
	}
	return o.Tolerance
}

// Solution is the stable solution of the reduced system.
type Solution struct {
	// Stability threshold the partition used
	Threshold float64

	// Eigenvalues of M, split by the threshold and sorted
	Stable   []complex128
	Unstable []complex128

	// L·p = J·x, L is the identity on the co-state block
	L *mat.Dense
	J *mat.Dense

	// Blocks of M over (states, co-states)
	N11, N12, N21, N22 *mat.Dense

	// Stable state transition and its eigenvalues
	B       *mat.Dense
	BValues []complex128

	// Max-norm of N21 + N22·J - J·B
	Residual float64
}

// Solve computes J and B for the reduced transition m with nPre
// predetermined states. Both invariant checks must pass; otherwise the error
// wraps model.ErrSolverInvariant and no solution is returned.
func Solve(m *mat.Dense, nPre int, delta float64, opts Options) (*Solution, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil transition matrix", model.ErrSolverInvariant)
	}
	n, c := m.Dims()
	if n != c {
		return nil, fmt.Errorf("%w: transition matrix is %dx%d", model.ErrSolverInvariant, n, c)
	}
	if nPre <= 0 || nPre >= n {
		return nil, fmt.Errorf("%w: %d predetermined states out of %d", model.ErrSolverInvariant, nPre, n)
	}
	nCo := n - nPre
	tol := opts.tolerance()

	sol := &Solution{Threshold: opts.threshold(delta)}

	// 1. Eigen-decompose M'. Its right eigenvectors are the left
	// eigenvectors of M, the directions that must not be excited.
	var eig mat.Eigen
	if ok := eig.Factorize(m.T(), mat.EigenRight); !ok {
		return nil, fmt.Errorf("%w: eigen decomposition failed", model.ErrSolverInvariant)
	}
	values := eig.Values(nil)
	var vecs mat.CDense
	eig.VectorsTo(&vecs)

	// 2. Partition, boundary roots count as stable
	var unstableIdx []int
	for i, v := range values {
		if cmplx.Abs(v) <= sol.Threshold*(1+tol) {
			sol.Stable = append(sol.Stable, v)
		} else {
			sol.Unstable = append(sol.Unstable, v)
			unstableIdx = append(unstableIdx, i)
		}
	}
	sortValues(sol.Stable)
	sortValues(sol.Unstable)

	if len(sol.Stable) != nPre {
		return nil, fmt.Errorf("%w: %d stable roots for %d predetermined states (stable %v, unstable %v)",
			model.ErrSolverInvariant, len(sol.Stable), nPre, sol.Stable, sol.Unstable)
	}

	// 3. Real basis of the unstable left subspace. A conjugate pair spans
	// the same real plane as the real and imaginary parts of one member.
	g := mat.NewDense(nCo, n, nil)
	row := 0
	for _, i := range unstableIdx {
		switch im := imag(values[i]); {
		case im < 0:
			continue
		case im == 0:
			for j := 0; j < n; j++ {
				g.Set(row, j, real(vecs.At(j, i)))
			}
			row++
		default:
			for j := 0; j < n; j++ {
				g.Set(row, j, real(vecs.At(j, i)))
				g.Set(row+1, j, imag(vecs.At(j, i)))
			}
			row += 2
		}
	}
	if row != nCo {
		return nil, fmt.Errorf("%w: unstable subspace has dimension %d, want %d", model.ErrSolverInvariant, row, nCo)
	}

	// 4. G_x x + G_p p = 0  =>  p = -G_p⁻¹ G_x x
	gx := g.Slice(0, nCo, 0, nPre)
	gp := g.Slice(0, nCo, nPre, n)
	var negGx mat.Dense
	negGx.Scale(-1, gx)

	sol.L = identity(nCo)
	sol.J = &mat.Dense{}
	if err := sol.J.Solve(gp, &negGx); err != nil {
		return nil, fmt.Errorf("%w: unstable directions do not determine the co-states: %v",
			model.ErrSolverInvariant, err)
	}

	// 5. Blocks and the stable transition
	sol.N11 = mat.DenseCopyOf(m.Slice(0, nPre, 0, nPre))
	sol.N12 = mat.DenseCopyOf(m.Slice(0, nPre, nPre, n))
	sol.N21 = mat.DenseCopyOf(m.Slice(nPre, n, 0, nPre))
	sol.N22 = mat.DenseCopyOf(m.Slice(nPre, n, nPre, n))

	var lj mat.Dense
	if err := lj.Solve(sol.L, sol.J); err != nil {
		return nil, fmt.Errorf("%w: L is singular: %v", model.ErrSolverInvariant, err)
	}
	sol.B = &mat.Dense{}
	sol.B.Mul(sol.N12, &lj)
	sol.B.Add(sol.B, sol.N11)

	// 6. Residual identity: the co-state rule must reproduce itself one
	// period ahead, J·B = N21 + N22·J
	resid := residual(sol)
	scale := math.Max(1, mat.Norm(m, math.Inf(1)))
	sol.Residual = resid
	if resid > tol*scale {
		return nil, fmt.Errorf("%w: residual N21 + N22 J - J B = %.3g exceeds %.3g",
			model.ErrSolverInvariant, resid, tol*scale)
	}

	// 7. Spectrum of B must be the stable set, matched one to one
	var eigB mat.Eigen
	if ok := eigB.Factorize(sol.B, mat.EigenNone); !ok {
		return nil, fmt.Errorf("%w: eigen decomposition of B failed", model.ErrSolverInvariant)
	}
	sol.BValues = eigB.Values(nil)
	sortValues(sol.BValues)
	if err := MatchValues(sol.BValues, sol.Stable, tol); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSolverInvariant, err)
	}

	return sol, nil
}

func residual(sol *Solution) float64 {
	var r, jb mat.Dense
	r.Mul(sol.N22, sol.J)
	r.Add(&r, sol.N21)
	jb.Mul(sol.J, sol.B)
	r.Sub(&r, &jb)
	return mat.Norm(&r, math.Inf(1))
}

// MatchValues pairs every element of got with a distinct element of want at
// distance at most tol·max(1, |want|). Multiplicities must agree.
func MatchValues(got, want []complex128, tol float64) error {
	if len(got) != len(want) {
		return fmt.Errorf("got %d eigenvalues, want %d", len(got), len(want))
	}
	used := make([]bool, len(want))
	for _, v := range got {
		best := -1
		bestDist := math.Inf(1)
		for j, w := range want {
			if used[j] {
				continue
			}
			if d := cmplx.Abs(v - w); d < bestDist {
				best, bestDist = j, d
			}
		}
		if best < 0 || bestDist > tol*math.Max(1, cmplx.Abs(want[best])) {
			return fmt.Errorf("eigenvalue %v has no match in %v", v, want)
		}
		used[best] = true
	}
	return nil
}

// sortValues orders eigenvalues by real part, then imaginary part.
func sortValues(v []complex128) {
	sort.Slice(v, func(i, j int) bool {
		if real(v[i]) != real(v[j]) {
			return real(v[i]) < real(v[j])
		}
		return imag(v[i]) < imag(v[j])
	})
}

func identity(n int) *mat.Dense {
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		out.Set(i, i, 1)
	}
	return out
}
