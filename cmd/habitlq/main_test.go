package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitrobust/internal/config"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Output.Dir = filepath.Join(dir, "out")
	cfg.Output.Database = filepath.Join(dir, "db", "runs.db")
	cfg.Sweep.Horizon = 5
	cfg.Sweep.Grid.Alphas = []float64{0, 0.1}
	cfg.Sweep.Grid.Psis = []float64{1.6}
	cfg.Sweep.Grid.Etas = []float64{100}
	cfg.Logging.Level = "error"

	path := filepath.Join(dir, "habitlq.yaml")
	require.NoError(t, cfg.Save(path))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSolveCommand(t *testing.T) {
	path, _ := writeConfig(t)
	out, err := execute(t, "--config", path, "solve")
	require.NoError(t, err)
	assert.Contains(t, out, "stable roots")
	assert.Contains(t, out, "coefficient on habit")
}

func TestPathCommand(t *testing.T) {
	path, dir := writeConfig(t)
	out, err := execute(t, "--config", path, "path", "--horizon", "4", "--shock", "0", "--csv")
	require.NoError(t, err)
	assert.Contains(t, out, "Response to shock 0")

	_, err = os.Stat(filepath.Join(dir, "out", "path_shock0.csv"))
	assert.NoError(t, err)
}

func TestPathCommandRejectsZeroHorizon(t *testing.T) {
	path, _ := writeConfig(t)
	_, err := execute(t, "--config", path, "path", "--horizon", "0", "--csv=false")
	assert.Error(t, err)
}

func TestRobustCommand(t *testing.T) {
	path, _ := writeConfig(t)
	out, err := execute(t, "--config", path, "robust", "--xi", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "price")
	assert.Contains(t, out, "xi = 0")
}

func TestSweepCommand(t *testing.T) {
	path, dir := writeConfig(t)
	out, err := execute(t, "--config", path, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "2 tuples, 0 failed")

	entries, err := os.ReadDir(filepath.Join(dir, "out"))
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "sweep_") {
			found = true
		}
	}
	assert.True(t, found, "sweep CSV not written")

	_, err = os.Stat(filepath.Join(dir, "db", "runs.db"))
	assert.NoError(t, err)
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Calibration.Psi = 0
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, cfg.Save(path))

	_, err := execute(t, "--config", path, "solve")
	assert.Error(t, err)
}

func TestSimulateCommand(t *testing.T) {
	path, _ := writeConfig(t)
	out, err := execute(t, "--config", path, "simulate", "--replications", "50", "--horizon", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Simulated vs analytic 95% bands (50 histories)")
}

func TestSweepCommandRepeatedTuple(t *testing.T) {
	path, dir := writeConfig(t)
	grid := filepath.Join(dir, "grid.csv")
	require.NoError(t, os.WriteFile(grid, []byte("alpha,psi,eta\n0.1,1.6,100\n0.1,1.6,100\n"), 0644))
	t.Cleanup(func() { sweepGridCSV = "" })

	out, err := execute(t, "--config", path, "sweep", "--grid", grid)
	require.NoError(t, err)
	assert.Contains(t, out, "2 tuples, 0 failed")
}
