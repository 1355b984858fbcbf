package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitrobust/internal/habit"
	"habitrobust/internal/model"
	"habitrobust/internal/sweep"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs", "habitlq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleReport(t *testing.T) *sweep.Report {
	t.Helper()
	ev, err := habit.Evaluate(0.1, 1.6, 100, 5, 1)
	require.NoError(t, err)

	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &sweep.Report{
		ID:       uuid.NewString(),
		Started:  started,
		Finished: started.Add(2 * time.Second),
		Horizon:  5,
		Xi:       1,
		Results: []sweep.Result{
			{Index: 0, Tuple: sweep.Tuple{Alpha: 0.1, Psi: 1.6, Eta: 100}, Evaluation: ev},
			{
				Index: 1,
				Tuple: sweep.Tuple{Alpha: 0.1, Psi: 0, Eta: 100},
				Err:   fmt.Errorf("%w: exp(-psi) = 1 outside [0, 1)", model.ErrInvalidParameter),
				Kind:  "InvalidParameter",
			},
		},
	}
}

func TestSaveLoadRun(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	rep := sampleReport(t)
	run := FromReport(rep)
	require.NoError(t, s.SaveRun(ctx, run))

	loaded, err := s.LoadRun(ctx, rep.ID)
	require.NoError(t, err)

	if diff := cmp.Diff(run, loaded); diff != "" {
		t.Errorf("run mismatch after reload (-saved +loaded):\n%s", diff)
	}

	ok := loaded.Results[0]
	assert.True(t, ok.OK)
	assert.Len(t, ok.Income, 5)
	assert.Equal(t, rep.Results[0].Evaluation.Price, ok.Price)

	failed := loaded.Results[1]
	assert.False(t, failed.OK)
	assert.Equal(t, "InvalidParameter", failed.Kind)
	assert.Contains(t, failed.Message, "invalid parameter")
	assert.Nil(t, failed.Income)
}

func TestLoadRunNotFound(t *testing.T) {
	s := openTemp(t)
	_, err := s.LoadRun(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveRunDuplicate(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	run := FromReport(sampleReport(t))
	require.NoError(t, s.SaveRun(ctx, run))
	assert.Error(t, s.SaveRun(ctx, run))

	// the failed transaction left the first copy intact
	loaded, err := s.LoadRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Results, 2)
}

func TestSaveRunRepeatedTuple(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	rep := sampleReport(t)
	again := rep.Results[0]
	again.Index = 2
	rep.Results = append(rep.Results, again)

	run := FromReport(rep)
	require.NoError(t, s.SaveRun(ctx, run))

	loaded, err := s.LoadRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Results, 3)
	assert.Equal(t, loaded.Results[0].Tuple, loaded.Results[2].Tuple)
	assert.Equal(t, 2, loaded.Results[2].Index)
}

func TestListRuns(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	older := FromReport(sampleReport(t))
	newer := FromReport(sampleReport(t))
	newer.Started = older.Started.Add(time.Hour)
	require.NoError(t, s.SaveRun(ctx, older))
	require.NoError(t, s.SaveRun(ctx, newer))

	ids, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{newer.ID, older.ID}, ids)
}

func TestInMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	run := FromReport(sampleReport(t))
	require.NoError(t, s.SaveRun(context.Background(), run))
	_, err = s.LoadRun(context.Background(), run.ID)
	assert.NoError(t, err)
}

func TestClosed(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.SaveRun(context.Background(), &Run{ID: "x"}), ErrClosed)
	_, err = s.LoadRun(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.ListRuns(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
