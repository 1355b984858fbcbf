package dynamics

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"habitrobust/internal/model"
)

// Simulate draws NReplications histories of Gaussian shocks starting from
// the balanced-growth point and summarises cumulative log income and log
// consumption pointwise by their mean and alpha/2, 1-alpha/2 quantiles.
func (s *System) Simulate(ctx context.Context, opts SimulationOptions) (*SimulationResult, error) {
	if s == nil || s.A == nil {
		return nil, fmt.Errorf("%w: state-space system not assembled", model.ErrSolverInvariant)
	}

	// Default options if not set
	if opts.NReplications <= 0 {
		opts.NReplications = 500
	}
	if opts.Horizon <= 0 {
		opts.Horizon = 40
	}
	if opts.Alpha <= 0 || opts.Alpha >= 1 {
		opts.Alpha = 0.05
	}
	H := opts.Horizon

	// 1. Per-replication seeds, so no RNG is shared across goroutines
	masterSeed := opts.Seed
	if masterSeed == 0 {
		masterSeed = uint64(time.Now().UnixNano())
	}
	master := rand.New(rand.NewPCG(masterSeed, masterSeed^0x9e3779b97f4a7c15))
	seeds := make([]uint64, opts.NReplications)
	for i := range seeds {
		seeds[i] = master.Uint64()
	}

	// 2. Worker pool
	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > opts.NReplications {
		numWorkers = opts.NReplications
	}

	jobs := make(chan int)
	results := make([]replication, opts.NReplications)

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for b := range jobs {
				rng := rand.New(rand.NewPCG(seeds[b], uint64(b)))
				results[b] = s.simulateHistory(H, rng)
			}
		}()
	}

	// Feed jobs until done or cancelled
	var cancelled error
feed:
	for b := 0; b < opts.NReplications; b++ {
		select {
		case jobs <- b:
		case <-ctx.Done():
			cancelled = ctx.Err()
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if cancelled != nil {
		return nil, cancelled
	}

	// 3. Pointwise bands
	res := &SimulationResult{
		Horizon:       H,
		Alpha:         opts.Alpha,
		NReplications: opts.NReplications,
		Income:        newBand(H),
		Consumption:   newBand(H),
	}
	lowerQ := opts.Alpha / 2.0
	upperQ := 1.0 - opts.Alpha/2.0

	incomeDraws := make([]float64, opts.NReplications)
	consDraws := make([]float64, opts.NReplications)
	for h := 0; h < H; h++ {
		for b, rep := range results {
			incomeDraws[b] = rep.Income[h]
			consDraws[b] = rep.Consumption[h]
		}
		res.Income.set(h, incomeDraws, lowerQ, upperQ)
		res.Consumption.set(h, consDraws, lowerQ, upperQ)
	}

	return res, nil
}

// simulateHistory runs one history of length H from S_0 = 0.
func (s *System) simulateHistory(H int, rng *rand.Rand) replication {
	n, nw := s.Dims()
	rep := replication{
		Income:      make([]float64, H),
		Consumption: make([]float64, H),
	}

	state := mat.NewVecDense(n, nil)
	shock := mat.NewVecDense(nw, nil)
	var next, loaded mat.VecDense
	level := 0.0

	for t := 0; t < H; t++ {
		for k := 0; k < nw; k++ {
			shock.SetVec(k, rng.NormFloat64())
		}

		// Y_t - Y_{t-1} - nu = Sy·S_{t-1} + Fy·W_t
		level += floats.Dot(s.Sy, state.RawVector().Data) + floats.Dot(s.Fy, shock.RawVector().Data)

		next.MulVec(s.A, state)
		loaded.MulVec(s.B, shock)
		next.AddVec(&next, &loaded)
		state.CopyVec(&next)

		raw := state.RawVector().Data
		rep.Income[t] = level + floats.Dot(s.Si, raw)
		rep.Consumption[t] = level + floats.Dot(s.Sc, raw)
	}
	return rep
}

// AnalyticBands returns the exact Gaussian bands of the same quantities that
// Simulate estimates: zero mean and a standard deviation accumulated from the
// response paths of every shock.
func (s *System) AnalyticBands(horizon int, alpha float64) (income, consumption Band, err error) {
	if horizon < 1 {
		return Band{}, Band{}, fmt.Errorf("%w: horizon must be >= 1, got %d", model.ErrInvalidLength, horizon)
	}
	if alpha <= 0 || alpha >= 1 {
		return Band{}, Band{}, fmt.Errorf("%w: alpha must be in (0, 1), got %g", model.ErrInvalidParameter, alpha)
	}
	_, nw := s.Dims()

	varIncome := make([]float64, horizon)
	varCons := make([]float64, horizon)
	for k := 0; k < nw; k++ {
		path, err := s.ResponsePath(horizon, k)
		if err != nil {
			return Band{}, Band{}, err
		}
		// shock at date j contributes path[t-j] to date t
		for t := 0; t < horizon; t++ {
			for j := 0; j <= t; j++ {
				varIncome[t] += path.Income[t-j] * path.Income[t-j]
				varCons[t] += path.Consumption[t-j] * path.Consumption[t-j]
			}
		}
	}

	z := distuv.UnitNormal.Quantile(1 - alpha/2)
	income, consumption = newBand(horizon), newBand(horizon)
	for t := 0; t < horizon; t++ {
		si, sc := math.Sqrt(varIncome[t]), math.Sqrt(varCons[t])
		income.Lower[t], income.Upper[t] = -z*si, z*si
		consumption.Lower[t], consumption.Upper[t] = -z*sc, z*sc
	}
	return income, consumption, nil
}

func newBand(h int) Band {
	return Band{
		Mean:  make([]float64, h),
		Lower: make([]float64, h),
		Upper: make([]float64, h),
	}
}

func (b Band) set(h int, draws []float64, lowerQ, upperQ float64) {
	sorted := append([]float64(nil), draws...)
	sort.Float64s(sorted)
	b.Mean[h] = floats.Sum(sorted) / float64(len(sorted))
	b.Lower[h] = orderStatistic(sorted, lowerQ)
	b.Upper[h] = orderStatistic(sorted, upperQ)
}

// quantile is orderStatistic on a sorted copy of samples.
func quantile(samples []float64, q float64) float64 {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	return orderStatistic(sorted, q)
}

// orderStatistic reads sorted at the fractional rank q(n-1), interpolating
// between neighbours. q is clamped to [0, 1].
func orderStatistic(sorted []float64, q float64) float64 {
	if len(sorted) == 0 || math.IsNaN(q) {
		return math.NaN()
	}
	rank := math.Min(math.Max(q, 0), 1) * float64(len(sorted)-1)
	whole, frac := math.Modf(rank)
	i := int(whole)
	if frac == 0 || i+1 == len(sorted) {
		return sorted[i]
	}
	return sorted[i] + frac*(sorted[i+1]-sorted[i])
}
