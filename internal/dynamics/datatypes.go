package dynamics

import (
	"gonum.org/v1/gonum/mat"
)

// System is the solved stochastic state-space model over the full state
// S = [K¹, H¹, X]:
//
//	S_{t+1} = A·S_t + B·W_{t+1}
//	Y_{t+1} - Y_t - nu = Sy·S_t + Fy·W_{t+1}
//
// Consumption and utility (relative to income) are linear in S.
type System struct {
	// Number of endogenous states at the front of S
	NumStates int

	A *mat.Dense
	B *mat.Dense

	// Income-growth loadings, Sy is zero on the endogenous states
	Sy []float64
	Fy []float64

	// Consumption, utility and capital-income maps over S
	Sc []float64
	Su []float64
	Si []float64

	// Co-states over S: [MK¹, MH¹] = P·S
	P *mat.Dense

	// Discount factor e^{-delta}
	Beta float64
}

// Dims returns the full state and shock dimensions.
func (s *System) Dims() (n, nw int) {
	return s.B.Dims()
}

// Path holds the response of log income and log consumption to a unit shock
// at t = 0, indexed by t = 0..T-1.
type Path struct {
	Shock       int
	Income      []float64
	Consumption []float64
}

// Ratio returns Consumption[t] / Income[t].
func (p *Path) Ratio(t int) float64 {
	return p.Consumption[t] / p.Income[t]
}

// SimulationOptions configures Monte Carlo simulation of the model.
type SimulationOptions struct {
	// Number of simulated histories (e.g. 500-5000)
	NReplications int

	// Number of periods per history
	Horizon int

	// Band level alpha (e.g., 0.05 for a 95% band)
	Alpha float64

	// RNG seed (if 0, time-based seed is used)
	Seed uint64

	// Worker goroutines, runtime.NumCPU() when zero
	Workers int
}

// Band is a pointwise summary of a simulated series.
type Band struct {
	Mean  []float64
	Lower []float64
	Upper []float64
}

// SimulationResult stores pointwise bands of cumulative log income and log
// consumption (deviations from trend growth) across the simulated histories.
type SimulationResult struct {
	Horizon       int
	Alpha         float64
	NReplications int

	Income      Band
	Consumption Band
}

// replication holds one simulated history.
type replication struct {
	Income      []float64
	Consumption []float64
}
