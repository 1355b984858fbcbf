package dynamics

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"habitrobust/internal/model"
)

// ============================================================================
// QUANTILE TESTS
// ============================================================================

type QuantileTest struct {
	Samples []float64
	Q       float64
	Result  float64
}

// skipComments reads lines from scanner, skipping comment lines starting with #
func skipComments(scanner *bufio.Scanner) string {
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			return line
		}
	}
	return ""
}

func readFloat(scanner *bufio.Scanner) float64 {
	line := skipComments(scanner)
	v, err := strconv.ParseFloat(line, 64)
	if err != nil {
		panic(fmt.Sprintf("Error parsing %q: %v", line, err))
	}
	return v
}

func ReadQuantileTests(directory string) []QuantileTest {
	inputFiles, err := os.ReadDir(directory + "input")
	if err != nil {
		panic(err)
	}
	outputFiles, err := os.ReadDir(directory + "output")
	if err != nil {
		panic(err)
	}
	if len(inputFiles) != len(outputFiles) {
		panic("Error: number of input and output files do not match!")
	}

	tests := make([]QuantileTest, len(inputFiles))
	for i, inputFile := range inputFiles {
		f, err := os.Open(directory + "input/" + inputFile.Name())
		if err != nil {
			panic(err)
		}
		scanner := bufio.NewScanner(f)

		n := int(readFloat(scanner))
		tests[i].Samples = make([]float64, n)
		for j := range tests[i].Samples {
			tests[i].Samples[j] = readFloat(scanner)
		}
		tests[i].Q = readFloat(scanner)
		f.Close()
	}

	for i, outputFile := range outputFiles {
		f, err := os.Open(directory + "output/" + outputFile.Name())
		if err != nil {
			panic(err)
		}
		tests[i].Result = readFloat(bufio.NewScanner(f))
		f.Close()
	}

	return tests
}

func TestQuantile(t *testing.T) {
	tests := ReadQuantileTests("testdata/quantile/")
	require.NotEmpty(t, tests)
	for i, test := range tests {
		got := quantile(test.Samples, test.Q)
		if math.Abs(got-test.Result) > 1e-9 {
			t.Errorf("Test %d: quantile(%v, %v) = %v; want %v",
				i+1, test.Samples, test.Q, got, test.Result)
		}
	}
}

func TestQuantileEmptyAndUnsorted(t *testing.T) {
	assert.True(t, math.IsNaN(quantile(nil, 0.5)))

	samples := []float64{3, 1, 2}
	_ = quantile(samples, 0.5)
	assert.Equal(t, []float64{3, 1, 2}, samples, "input must not be reordered")
}

func TestOrderStatisticClampsRank(t *testing.T) {
	sorted := []float64{-2, 0, 1, 5}
	assert.Equal(t, -2.0, orderStatistic(sorted, -0.5))
	assert.Equal(t, 5.0, orderStatistic(sorted, 1.5))
	assert.InDelta(t, 0.5, orderStatistic(sorted, 0.5), 1e-12)
	assert.True(t, math.IsNaN(orderStatistic(sorted, math.NaN())))
}

func TestBandSet(t *testing.T) {
	b := newBand(1)
	draws := []float64{4, -1, 2, 3, 0}
	b.set(0, draws, 0.25, 0.75)

	assert.InDelta(t, 1.6, b.Mean[0], 1e-12)
	assert.InDelta(t, 0.0, b.Lower[0], 1e-12)
	assert.InDelta(t, 3.0, b.Upper[0], 1e-12)
	assert.Equal(t, []float64{4, -1, 2, 3, 0}, draws)
}

// ============================================================================
// SIMULATION TESTS
// ============================================================================

func TestSimulateMatchesAnalyticBands(t *testing.T) {
	defer goleak.VerifyNone(t)

	dyn := assemble(t, model.DefaultParams())
	const horizon = 12

	res, err := dyn.Simulate(context.Background(), SimulationOptions{
		NReplications: 4000,
		Horizon:       horizon,
		Alpha:         0.05,
		Seed:          12345,
		Workers:       4,
	})
	require.NoError(t, err)
	require.Equal(t, horizon, res.Horizon)
	require.Len(t, res.Income.Upper, horizon)

	inc, cons, err := dyn.AnalyticBands(horizon, 0.05)
	require.NoError(t, err)

	for h := 0; h < horizon; h++ {
		assert.InEpsilon(t, inc.Upper[h], res.Income.Upper[h], 0.1, "income upper h=%d", h)
		assert.InEpsilon(t, inc.Lower[h], res.Income.Lower[h], 0.1, "income lower h=%d", h)
		assert.InEpsilon(t, cons.Upper[h], res.Consumption.Upper[h], 0.1, "consumption upper h=%d", h)
		assert.InEpsilon(t, cons.Lower[h], res.Consumption.Lower[h], 0.1, "consumption lower h=%d", h)

		// means are zero up to sampling noise
		sd := inc.Upper[h] / 1.959964
		assert.InDelta(t, 0, res.Income.Mean[h], 0.1*sd, "income mean h=%d", h)
		sd = cons.Upper[h] / 1.959964
		assert.InDelta(t, 0, res.Consumption.Mean[h], 0.1*sd, "consumption mean h=%d", h)
	}
}

func TestSimulateDeterministicAcrossWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)

	dyn := assemble(t, model.DefaultParams())
	opts := SimulationOptions{NReplications: 200, Horizon: 8, Alpha: 0.1, Seed: 7, Workers: 1}

	a, err := dyn.Simulate(context.Background(), opts)
	require.NoError(t, err)
	opts.Workers = 8
	b, err := dyn.Simulate(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, a.Income, b.Income)
	assert.Equal(t, a.Consumption, b.Consumption)
}

func TestSimulateDefaults(t *testing.T) {
	defer goleak.VerifyNone(t)

	dyn := assemble(t, model.DefaultParams())
	res, err := dyn.Simulate(context.Background(), SimulationOptions{Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 500, res.NReplications)
	assert.Equal(t, 40, res.Horizon)
	assert.Equal(t, 0.05, res.Alpha)
}

func TestSimulateCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	dyn := assemble(t, model.DefaultParams())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := dyn.Simulate(ctx, SimulationOptions{NReplications: 1000, Horizon: 10, Seed: 3})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyticBandsErrors(t *testing.T) {
	dyn := assemble(t, model.DefaultParams())

	_, _, err := dyn.AnalyticBands(0, 0.05)
	assert.ErrorIs(t, err, model.ErrInvalidLength)
	_, _, err = dyn.AnalyticBands(10, 1.5)
	assert.ErrorIs(t, err, model.ErrInvalidParameter)
}

// The first-period income band is the impact of the permanent shock alone.
func TestAnalyticBandsImpact(t *testing.T) {
	dyn := assemble(t, model.DefaultParams())

	inc, _, err := dyn.AnalyticBands(3, 0.05)
	require.NoError(t, err)
	assert.InDelta(t, 1.959964*0.01, inc.Upper[0], 1e-6)
	assert.InDelta(t, -inc.Upper[0], inc.Lower[0], 1e-15)
}
