// Package habit chains the pipeline stages into the public entrypoints:
// build, reduce, solve, assemble and the robustness adjustment.
//
// Every function here is a pure function of its arguments. Results are
// immutable after construction and safe to share between goroutines.
package habit

import (
	"fmt"

	"habitrobust/internal/dynamics"
	"habitrobust/internal/model"
	"habitrobust/internal/reduce"
	"habitrobust/internal/robust"
	"habitrobust/internal/solver"
)

// Baseline is the solved economy for one parameter set.
type Baseline struct {
	Params  model.Params
	Options solver.Options

	System   *model.System
	Reduced  *reduce.Reduced
	Solution *solver.Solution
	Dynamics *dynamics.System
}

// Evaluation bundles everything one sweep tuple produces.
type Evaluation struct {
	Income      []float64
	Consumption []float64

	Baseline *Baseline
	Robust   *robust.Solution

	// Uncertainty price vector, one entry per shock
	Price []float64

	// Habit coefficient of the consumption rule
	CoefficientOnH float64
}

// Solve validates p and runs the builder, the reducer, the stable-solution
// solver and the dynamics assembler.
func Solve(p model.Params, opts solver.Options) (*Baseline, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	sys, err := model.Build(p)
	if err != nil {
		return nil, fmt.Errorf("build structural system: %w", err)
	}

	red, err := reduce.Reduce(sys)
	if err != nil {
		return nil, fmt.Errorf("reduce structural system: %w", err)
	}

	sol, err := solver.Solve(red.M, model.NumPredetermined, p.Delta, opts)
	if err != nil {
		return nil, fmt.Errorf("select stable solution: %w", err)
	}

	dyn, err := dynamics.Assemble(sys, red, sol)
	if err != nil {
		return nil, fmt.Errorf("assemble dynamics: %w", err)
	}

	return &Baseline{
		Params:   p,
		Options:  opts,
		System:   sys,
		Reduced:  red,
		Solution: sol,
		Dynamics: dyn,
	}, nil
}

// ResponsePath returns the income and consumption responses to the first
// (permanent income) shock over horizon periods.
func (b *Baseline) ResponsePath(horizon int) (*dynamics.Path, error) {
	return b.ResponsePathFor(horizon, 0)
}

// ResponsePathFor is ResponsePath for an arbitrary shock component.
func (b *Baseline) ResponsePathFor(horizon, shock int) (*dynamics.Path, error) {
	if b == nil || b.Dynamics == nil {
		return nil, fmt.Errorf("%w: baseline not solved", model.ErrSolverInvariant)
	}
	return b.Dynamics.ResponsePath(horizon, shock)
}

// CoefficientOnH is the loading of consumption on the habit state.
func (b *Baseline) CoefficientOnH() float64 {
	return b.Dynamics.Sc[model.IdxH]
}

// RobustPrice solves the value-sensitivity recursion of b for ambiguity
// aversion xi.
func RobustPrice(b *Baseline, xi float64) (*robust.Solution, error) {
	if b == nil || b.Dynamics == nil {
		return nil, fmt.Errorf("%w: baseline not solved", model.ErrSolverInvariant)
	}
	return robust.Solve(b.Dynamics, xi)
}

// Evaluate solves the baseline calibration with the habit parameters
// replaced and returns paths, prices and the habit coefficient.
func Evaluate(alpha, psi, eta float64, horizon int, xi float64) (*Evaluation, error) {
	p := model.DefaultParams().WithPreferences(alpha, psi, eta)
	return EvaluateParams(p, solver.DefaultOptions(), horizon, xi)
}

// EvaluateParams is Evaluate for a full parameter set and solver options.
func EvaluateParams(p model.Params, opts solver.Options, horizon int, xi float64) (*Evaluation, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("%w: horizon must be >= 1, got %d", model.ErrInvalidLength, horizon)
	}

	base, err := Solve(p, opts)
	if err != nil {
		return nil, err
	}

	path, err := base.ResponsePath(horizon)
	if err != nil {
		return nil, err
	}

	rob, err := RobustPrice(base, xi)
	if err != nil {
		return nil, fmt.Errorf("robustness adjustment: %w", err)
	}

	return &Evaluation{
		Income:         path.Income,
		Consumption:    path.Consumption,
		Baseline:       base,
		Robust:         rob,
		Price:          rob.Price,
		CoefficientOnH: base.CoefficientOnH(),
	}, nil
}
