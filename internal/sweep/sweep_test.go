package sweep

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"habitrobust/internal/habit"
	"habitrobust/internal/model"
	"habitrobust/internal/solver"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func options(t *testing.T) Options {
	return Options{
		Base:    model.DefaultParams(),
		Solver:  solver.DefaultOptions(),
		Horizon: 20,
		Xi:      1,
		Workers: 3,
		Logger:  zaptest.NewLogger(t),
	}
}

func TestGridTuples(t *testing.T) {
	g := Grid{
		Alphas: []float64{0, 0.5},
		Psis:   []float64{1},
		Etas:   []float64{2, 100},
	}
	want := []Tuple{
		{Alpha: 0, Psi: 1, Eta: 2},
		{Alpha: 0, Psi: 1, Eta: 100},
		{Alpha: 0.5, Psi: 1, Eta: 2},
		{Alpha: 0.5, Psi: 1, Eta: 100},
	}
	if diff := cmp.Diff(want, g.Tuples()); diff != "" {
		t.Errorf("Tuples() mismatch (-want +got):\n%s", diff)
	}

	assert.Empty(t, Grid{Alphas: []float64{0.1}}.Tuples())
}

func TestRunMatchesSequential(t *testing.T) {
	tuples := Grid{
		Alphas: []float64{0, 0.1, 0.5},
		Psis:   []float64{0.3, 1.6},
		Etas:   []float64{2, 100},
	}.Tuples()

	rep, err := Run(context.Background(), tuples, options(t))
	require.NoError(t, err)
	_, err = uuid.Parse(rep.ID)
	assert.NoError(t, err)
	require.Len(t, rep.Results, len(tuples))

	for i, res := range rep.Results {
		assert.Equal(t, i, res.Index)
		assert.Equal(t, tuples[i], res.Tuple)
		if !res.OK() {
			continue
		}
		want, err := habit.Evaluate(res.Tuple.Alpha, res.Tuple.Psi, res.Tuple.Eta, 20, 1)
		require.NoError(t, err)
		assert.Equal(t, want.Income, res.Evaluation.Income, "tuple %d", i)
		assert.Equal(t, want.Consumption, res.Evaluation.Consumption, "tuple %d", i)
		assert.Equal(t, want.CoefficientOnH, res.Evaluation.CoefficientOnH, "tuple %d", i)
	}

	// the baseline tuple solves
	assert.True(t, rep.Results[7].OK(), "alpha=0.1 psi=1.6 eta=100: %v", rep.Results[7].Err)
	assert.False(t, rep.Finished.Before(rep.Started))
}

func TestRunIsolatesFailures(t *testing.T) {
	tuples := []Tuple{
		{Alpha: 0.1, Psi: 1.6, Eta: 100},
		{Alpha: 0.1, Psi: 0, Eta: 100},   // exp(-psi) = 1
		{Alpha: -1, Psi: 1.6, Eta: 100},  // alpha outside [0, 1]
		{Alpha: 0, Psi: 1.6, Eta: 100},
	}

	rep, err := Run(context.Background(), tuples, options(t))
	require.NoError(t, err)

	assert.True(t, rep.Results[0].OK())
	assert.True(t, rep.Results[3].OK())

	for _, i := range []int{1, 2} {
		res := rep.Results[i]
		assert.False(t, res.OK())
		assert.Nil(t, res.Evaluation)
		assert.True(t, errors.Is(res.Err, model.ErrInvalidParameter))
		assert.Equal(t, "InvalidParameter", res.Kind)
	}
	assert.Len(t, rep.Failed(), 2)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tuples := Grid{Alphas: []float64{0, 0.1}, Psis: []float64{1.6}, Etas: []float64{100}}.Tuples()
	rep, err := Run(ctx, tuples, options(t))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rep)
	for _, res := range rep.Results {
		assert.False(t, res.OK())
		assert.Equal(t, "Cancelled", res.Kind)
	}
}

func TestRunEmpty(t *testing.T) {
	rep, err := Run(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, rep.Results)
}
