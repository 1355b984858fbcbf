// Package sweep evaluates the model over a grid of habit parameters in
// parallel. Each tuple is independent: a failure is recorded against its
// tuple and never stops the others.
package sweep

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"habitrobust/internal/habit"
	"habitrobust/internal/model"
	"habitrobust/internal/solver"
)

// Tuple identifies one grid point.
type Tuple struct {
	Alpha float64 `yaml:"alpha" json:"alpha"`
	Psi   float64 `yaml:"psi" json:"psi"`
	Eta   float64 `yaml:"eta" json:"eta"`
}

// Grid is the Cartesian product of the listed values.
type Grid struct {
	Alphas []float64 `yaml:"alphas"`
	Psis   []float64 `yaml:"psis"`
	Etas   []float64 `yaml:"etas"`
}

// Tuples enumerates the grid with alpha varying slowest.
func (g Grid) Tuples() []Tuple {
	out := make([]Tuple, 0, len(g.Alphas)*len(g.Psis)*len(g.Etas))
	for _, a := range g.Alphas {
		for _, p := range g.Psis {
			for _, e := range g.Etas {
				out = append(out, Tuple{Alpha: a, Psi: p, Eta: e})
			}
		}
	}
	return out
}

// Options configures a sweep.
type Options struct {
	// Calibration whose habit parameters each tuple replaces
	Base   model.Params
	Solver solver.Options

	Horizon int
	Xi      float64

	// Concurrent evaluations, runtime.NumCPU() when zero
	Workers int

	Logger *zap.Logger
}

// Result is the outcome for one tuple. Exactly one of Evaluation and Err is
// set.
type Result struct {
	Index      int
	Tuple      Tuple
	Evaluation *habit.Evaluation
	Err        error
	Kind       string
}

// OK reports whether the tuple solved.
func (r Result) OK() bool { return r.Err == nil && r.Evaluation != nil }

// Report is one completed sweep.
type Report struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Horizon  int
	Xi       float64
	Results  []Result
}

// Failed returns the results that did not solve.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// Run evaluates every tuple. Results[i] always belongs to tuples[i],
// whatever order the evaluations finish in. Cancelling ctx stops scheduling
// new tuples; unscheduled tuples carry ctx.Err() and Run returns it.
func Run(ctx context.Context, tuples []Tuple, opts Options) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	report := &Report{
		ID:      uuid.NewString(),
		Started: time.Now().UTC(),
		Horizon: opts.Horizon,
		Xi:      opts.Xi,
		Results: make([]Result, len(tuples)),
	}
	logger.Info("Starting sweep",
		zap.String("run", report.ID),
		zap.Int("tuples", len(tuples)),
		zap.Int("workers", workers))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	for i, t := range tuples {
		report.Results[i] = Result{Index: i, Tuple: t}
		if egCtx.Err() != nil {
			report.Results[i].Err = egCtx.Err()
			report.Results[i].Kind = "Cancelled"
			continue
		}

		i, t := i, t
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				report.Results[i].Err = err
				report.Results[i].Kind = "Cancelled"
				return nil
			}

			p := opts.Base.WithPreferences(t.Alpha, t.Psi, t.Eta)
			ev, err := habit.EvaluateParams(p, opts.Solver, opts.Horizon, opts.Xi)
			if err != nil {
				report.Results[i].Err = err
				report.Results[i].Kind = model.Kind(err)
				logger.Warn("Tuple failed",
					zap.Float64("alpha", t.Alpha),
					zap.Float64("psi", t.Psi),
					zap.Float64("eta", t.Eta),
					zap.String("kind", report.Results[i].Kind),
					zap.Error(err))
				return nil
			}

			report.Results[i].Evaluation = ev
			logger.Debug("Tuple solved",
				zap.Float64("alpha", t.Alpha),
				zap.Float64("psi", t.Psi),
				zap.Float64("eta", t.Eta),
				zap.Float64("coefficient_on_h", ev.CoefficientOnH))
			return nil
		})
	}

	// Per-tuple failures are recorded above, so Wait only joins
	_ = eg.Wait()
	report.Finished = time.Now().UTC()

	logger.Info("Sweep finished",
		zap.String("run", report.ID),
		zap.Int("failed", len(report.Failed())),
		zap.Duration("elapsed", report.Finished.Sub(report.Started)))

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}
