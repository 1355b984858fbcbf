package model

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// DefaultParams returns the baseline calibration: an annual discount rate of
// one percent, half a percent trend growth, a permanent income shock and a
// persistent growth-rate shock.
func DefaultParams() Params {
	return Params{
		Alpha: 0.1,
		Eta:   100,
		Psi:   1.6,
		Delta: 0.01,
		Nu:    0.005,
		Shocks: ShockProcess{
			Ax: mat.NewDense(1, 1, []float64{0.9}),
			Bx: mat.NewDense(1, 2, []float64{0, 0.003}),
			Sy: []float64{1},
			Fy: []float64{0.01, 0},
		},
	}
}

// WithPreferences returns a copy of p with the habit parameters replaced.
func (p Params) WithPreferences(alpha, psi, eta float64) Params {
	p.Alpha = alpha
	p.Psi = psi
	p.Eta = eta
	return p
}

// Beta is the subjective discount factor e^{-delta}.
func (p Params) Beta() float64 { return math.Exp(-p.Delta) }

// CapitalReturn is the log gross return rho, derived from the balanced-growth
// Euler condition when left at zero.
func (p Params) CapitalReturn() float64 {
	if p.Rho == 0 {
		return p.Delta + p.Nu
	}
	return p.Rho
}

// NumExogenous returns (nx, nw), the exogenous state and shock dimensions.
func (p Params) NumExogenous() (int, int) {
	if p.Shocks.Bx == nil {
		return 0, 0
	}
	return p.Shocks.Bx.Dims()
}

// Validate checks the admissibility constraints of the parameter set.
func (p Params) Validate() error {
	names := []string{"alpha", "eta", "psi", "delta", "nu", "rho"}
	for i, v := range []float64{p.Alpha, p.Eta, p.Psi, p.Delta, p.Nu, p.Rho} {
		if math.IsNaN(v) {
			return fmt.Errorf("%w: %s is NaN", ErrInvalidParameter, names[i])
		}
	}

	if p.Alpha < 0 || p.Alpha > 1 {
		return fmt.Errorf("%w: alpha must be in [0, 1], got %g", ErrInvalidParameter, p.Alpha)
	}
	if p.Eta <= 0 || math.IsInf(p.Eta, 0) {
		return fmt.Errorf("%w: eta must be positive and finite, got %g", ErrInvalidParameter, p.Eta)
	}
	// habit persistence e^{-psi} must lie in [0, 1)
	if persistence := math.Exp(-p.Psi); !(persistence >= 0 && persistence < 1) {
		return fmt.Errorf("%w: exp(-psi) = %g outside [0, 1)", ErrInvalidParameter, persistence)
	}
	if p.Delta <= 0 || math.IsInf(p.Delta, 0) {
		return fmt.Errorf("%w: delta must be positive and finite, got %g", ErrInvalidParameter, p.Delta)
	}
	if math.IsInf(p.Nu, 0) {
		return fmt.Errorf("%w: nu must be finite", ErrInvalidParameter)
	}
	if p.Nu+p.Psi <= 0 {
		return fmt.Errorf("%w: nu + psi must be positive for a positive habit level, got %g", ErrInvalidParameter, p.Nu+p.Psi)
	}
	if p.Rho != 0 && math.Abs(p.Rho-(p.Delta+p.Nu)) > 1e-12 {
		return fmt.Errorf("%w: balanced growth needs rho = delta + nu = %g, got %g",
			ErrInvalidParameter, p.Delta+p.Nu, p.Rho)
	}

	return p.Shocks.validate()
}

func (s ShockProcess) validate() error {
	if s.Ax == nil || s.Bx == nil {
		return fmt.Errorf("%w: shock process needs Ax and Bx", ErrInvalidParameter)
	}
	r, c := s.Ax.Dims()
	if r != c {
		return fmt.Errorf("%w: Ax must be square, got %dx%d", ErrInvalidParameter, r, c)
	}
	nx, nw := s.Bx.Dims()
	if nx != r {
		return fmt.Errorf("%w: Bx has %d rows, Ax has %d", ErrInvalidParameter, nx, r)
	}
	if len(s.Sy) != nx {
		return fmt.Errorf("%w: Sy has length %d, want %d", ErrInvalidParameter, len(s.Sy), nx)
	}
	if len(s.Fy) != nw {
		return fmt.Errorf("%w: Fy has length %d, want %d", ErrInvalidParameter, len(s.Fy), nw)
	}

	for _, m := range []*mat.Dense{s.Ax, s.Bx} {
		rows, cols := m.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("%w: shock matrix entry (%d,%d) is not finite", ErrInvalidParameter, i, j)
				}
			}
		}
	}
	for _, loading := range [][]float64{s.Sy, s.Fy} {
		for _, v := range loading {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: shock loading is not finite", ErrInvalidParameter)
			}
		}
	}

	// Exogenous state has to be stationary
	var eig mat.Eigen
	if ok := eig.Factorize(s.Ax, mat.EigenNone); !ok {
		return fmt.Errorf("%w: eigen decomposition of Ax failed", ErrInvalidParameter)
	}
	for _, v := range eig.Values(nil) {
		if cmplx.Abs(v) >= 1 {
			return fmt.Errorf("%w: Ax has eigenvalue %v outside the unit circle", ErrInvalidParameter, v)
		}
	}
	return nil
}

// NewSteadyState computes the balanced-growth point. Consumption is scaled to
// income (C = 1) and the economy holds no net capital.
func NewSteadyState(p Params) (SteadyState, error) {
	if err := p.Validate(); err != nil {
		return SteadyState{}, err
	}

	a := math.Exp(-p.Psi)
	g := math.Exp(-p.Nu)
	beta := p.Beta()

	ss := SteadyState{C: 1, K: 0}
	ss.H = (1 - a) * g / (1 - a*g)

	// CES shares in log space: with eta around 100, H^{1-eta} overflows
	logWC := math.Inf(-1)
	if p.Alpha < 1 {
		logWC = math.Log(1 - p.Alpha)
	}
	logWH := math.Inf(-1)
	if p.Alpha > 0 {
		logWH = math.Log(p.Alpha) + (1-p.Eta)*math.Log(ss.H)
	}
	top := math.Max(logWC, logWH)
	wc := math.Exp(logWC - top)
	wh := math.Exp(logWH - top)
	ss.ShareC = wc / (wc + wh)
	ss.ShareH = wh / (wc + wh)

	ss.MC = ss.ShareC / ss.C
	ss.MH = ss.ShareH / ss.H

	// derivatives of m_c = (1-alpha) c^{-eta} / D, D the CES kernel
	ss.MCC = -p.Eta*ss.MC/ss.C - (1-p.Eta)*ss.MC*ss.MC
	ss.MCH = -(1 - p.Eta) * ss.MC * ss.MH
	ss.MHH = -p.Eta*ss.MH/ss.H - (1-p.Eta)*ss.MH*ss.MH

	ss.CostateH = (1 - beta) * ss.MH / (1 - beta*a*g)
	lambda := (1 - beta) * ss.MC / (beta * g)
	ss.CostateK = (lambda + (1-a)*ss.CostateH) / math.Exp(p.CapitalReturn())

	return ss, nil
}

// Build constructs the six first-order structural equations in the unknowns
// Z = [K¹, H¹, MK¹, MH¹], the controls [C¹, U¹] and the exogenous state X.
func Build(p Params) (*System, error) {
	ss, err := NewSteadyState(p)
	if err != nil {
		return nil, err
	}

	a := math.Exp(-p.Psi)
	g := math.Exp(-p.Nu)
	beta := p.Beta()
	growth := math.Exp(p.Delta) // e^{rho - nu}
	nx, nw := p.NumExogenous()

	forcing := func(coef float64) []float64 {
		row := make([]float64, nx)
		for j := range row {
			row[j] = coef * p.Shocks.Sy[j]
		}
		return row
	}

	eqs := []Equation{
		{
			// K¹' = e^{delta}(K¹ - C¹)
			Name:    "capital",
			Next:    []float64{1, 0, 0, 0},
			Control: []float64{growth, 0},
			Current: []float64{growth, 0, 0, 0},
			Forcing: forcing(0),
		},
		{
			// H¹' = e^{-nu-psi} H¹ + e^{-nu}(1 - e^{-psi}) C¹ - H Sy X
			Name:    "habit",
			Next:    []float64{0, 1, 0, 0},
			Control: []float64{-g * (1 - a), 0},
			Current: []float64{0, g * a, 0, 0},
			Forcing: forcing(-ss.H),
		},
		{
			// U¹ = m_c C¹ + m_h H¹
			Name:    "utility",
			Next:    []float64{0, 0, 0, 0},
			Control: []float64{-ss.MC, 1},
			Current: []float64{0, ss.MH, 0, 0},
			Forcing: forcing(0),
		},
		{
			// (1-beta)(m_cc C¹ + m_ch H¹) = E MK¹' - beta e^{-nu}(1-e^{-psi}) E MH¹' - (1-beta) m_c Sy X
			Name:    "consumption_foc",
			Next:    []float64{0, 0, -1, beta * g * (1 - a)},
			Control: []float64{(1 - beta) * ss.MCC, 0},
			Current: []float64{0, -(1 - beta) * ss.MCH, 0, 0},
			Forcing: forcing(-(1 - beta) * ss.MC),
		},
		{
			// MK¹ = E MK¹' - MK Sy X
			Name:    "capital_costate",
			Next:    []float64{0, 0, 1, 0},
			Control: []float64{0, 0},
			Current: []float64{0, 0, 1, 0},
			Forcing: forcing(ss.CostateK),
		},
		{
			// MH¹ = (1-beta)(m_ch C¹ + m_hh H¹) + beta e^{-psi-nu}(E MH¹' - MH Sy X)
			Name:    "habit_costate",
			Next:    []float64{0, 0, 0, beta * a * g},
			Control: []float64{(1 - beta) * ss.MCH, 0},
			Current: []float64{0, -(1 - beta) * ss.MHH, 0, 1},
			Forcing: forcing(beta * a * g * ss.CostateH),
		},
	}

	sys := &System{
		Params:    p,
		Steady:    ss,
		Equations: eqs,
		Next:      stackRows(eqs, func(e Equation) []float64 { return e.Next }, NumEndogenous),
		Control:   stackRows(eqs, func(e Equation) []float64 { return e.Control }, NumControls),
		Current:   stackRows(eqs, func(e Equation) []float64 { return e.Current }, NumEndogenous),
		Forcing:   stackRows(eqs, func(e Equation) []float64 { return e.Forcing }, nx),
		Shock:     mat.NewDense(NumEndogenous, nw, nil),
	}

	// Only habit reacts to the realised income shock (through the scaling)
	for j := 0; j < nw; j++ {
		sys.Shock.Set(IdxH, j, -ss.H*p.Shocks.Fy[j])
	}

	return sys, nil
}

// stackRows gathers one coefficient block of every equation into a matrix.
func stackRows(eqs []Equation, pick func(Equation) []float64, cols int) *mat.Dense {
	out := mat.NewDense(len(eqs), cols, nil)
	for i, e := range eqs {
		out.SetRow(i, pick(e))
	}
	return out
}
