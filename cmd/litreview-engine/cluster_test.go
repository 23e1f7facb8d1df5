package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/litreview-engine/internal/store"
	"github.com/pdiddy/litreview-engine/pkg/types"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(types.StoreConfig{OutputDir: filepath.Join(t.TempDir(), "cluster")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCompleteRun(t *testing.T) {
	ctx := context.Background()

	t.Run("completed", func(t *testing.T) {
		st := openStore(t)
		run, err := st.StartRun(ctx, store.RoundOne)
		require.NoError(t, err)

		require.NoError(t, completeRun(ctx, st, run, 1.5, "3 categories via anchor"))

		got, err := st.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, store.StatusCompleted, got.Status)
		assert.Equal(t, 100, got.Progress)
	})

	t.Run("cancelled before completion", func(t *testing.T) {
		st := openStore(t)
		run, err := st.StartRun(ctx, store.RoundOne)
		require.NoError(t, err)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		err = completeRun(cancelled, st, run, 1.5, "done")
		require.Error(t, err)

		got, err := st.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, store.StatusFailed, got.Status, "run must not stay running")
		assert.NotEmpty(t, got.Message)
	})
}
