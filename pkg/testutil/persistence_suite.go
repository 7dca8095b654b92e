package testutil

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reservewatch/reservewatch-go/pkg/persistence"
)

// PersistenceFactory returns an empty, open persistence layer. The suite
// closes it when each subtest ends.
type PersistenceFactory func(t *testing.T) persistence.IReservePersistence

// RunPersistenceSuite exercises the behaviour every IReservePersistence
// backend must share.
func RunPersistenceSuite(t *testing.T, factory PersistenceFactory) {
	open := func(t *testing.T) persistence.IReservePersistence {
		p := factory(t)
		t.Cleanup(func() { _ = p.Close() })
		return p
	}

	t.Run("SaveAndLoadBatch", func(t *testing.T) {
		p := open(t)
		batch := CreateTestBatch(t, "batch-1", 5, 1000)

		require.NoError(t, p.SaveBatch(batch))

		loaded, err := p.LoadBatch("batch-1")
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, batch, loaded)
	})

	t.Run("LoadBatch_NotFound", func(t *testing.T) {
		p := open(t)

		loaded, err := p.LoadBatch("missing")
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("SaveBatch_Invalid", func(t *testing.T) {
		p := open(t)

		err := p.SaveBatch(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nil CommittedBatch")

		batch := CreateTestBatch(t, "", 2, 1)
		err = p.SaveBatch(batch)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no ID")
	})

	t.Run("LoadBatchByRoot", func(t *testing.T) {
		p := open(t)
		batch := CreateTestBatch(t, "batch-root", 7, 1000)
		require.NoError(t, p.SaveBatch(batch))

		loaded, err := p.LoadBatchByRoot(batch.Root)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, "batch-root", loaded.ID)

		loaded, err = p.LoadBatchByRoot(common.Hash{0xde, 0xad})
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("SaveBatch_OverwriteMovesRootIndex", func(t *testing.T) {
		p := open(t)
		first := CreateTestBatch(t, "batch-ow", 3, 1000)
		second := CreateTestBatch(t, "batch-ow", 4, 2000)
		require.NotEqual(t, first.Root, second.Root)

		require.NoError(t, p.SaveBatch(first))
		require.NoError(t, p.SaveBatch(second))

		loaded, err := p.LoadBatchByRoot(first.Root)
		require.NoError(t, err)
		assert.Nil(t, loaded)

		loaded, err = p.LoadBatchByRoot(second.Root)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Len(t, loaded.Records, 4)
	})

	t.Run("DeleteBatch", func(t *testing.T) {
		p := open(t)
		batch := CreateTestBatch(t, "batch-del", 3, 1000)
		require.NoError(t, p.SaveBatch(batch))

		require.NoError(t, p.DeleteBatch("batch-del"))

		loaded, err := p.LoadBatch("batch-del")
		require.NoError(t, err)
		assert.Nil(t, loaded)

		loaded, err = p.LoadBatchByRoot(batch.Root)
		require.NoError(t, err)
		assert.Nil(t, loaded)

		// Deleting again is a no-op
		require.NoError(t, p.DeleteBatch("batch-del"))
	})

	t.Run("DeleteBatch_KeepsRootOwnedByAnotherBatch", func(t *testing.T) {
		p := open(t)
		original := CreateTestBatch(t, "batch-a", 3, 1000)
		replica := CreateTestBatch(t, "batch-b", 3, 2000)
		require.Equal(t, original.Root, replica.Root)

		require.NoError(t, p.SaveBatch(original))
		require.NoError(t, p.SaveBatch(replica))
		require.NoError(t, p.DeleteBatch("batch-a"))

		loaded, err := p.LoadBatchByRoot(replica.Root)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, "batch-b", loaded.ID)
	})

	t.Run("ListBatches", func(t *testing.T) {
		p := open(t)

		batches, err := p.ListBatches()
		require.NoError(t, err)
		assert.Empty(t, batches)

		// Saved out of order; listing sorts by creation time
		for _, i := range []int{3, 1, 4, 2, 0} {
			require.NoError(t, p.SaveBatch(CreateTestBatch(t, fmt.Sprintf("batch-%d", i), i+1, int64(1000+i))))
		}

		batches, err = p.ListBatches()
		require.NoError(t, err)
		require.Len(t, batches, 5)
		for i, b := range batches {
			assert.Equal(t, fmt.Sprintf("batch-%d", i), b.ID)
			assert.Len(t, b.Records, i+1)
		}
	})

	t.Run("LatestBatchID", func(t *testing.T) {
		p := open(t)

		id, err := p.GetLatestBatchID()
		require.NoError(t, err)
		assert.Empty(t, id)

		require.NoError(t, p.SetLatestBatchID("batch-1"))
		require.NoError(t, p.SetLatestBatchID("batch-2"))

		id, err = p.GetLatestBatchID()
		require.NoError(t, err)
		assert.Equal(t, "batch-2", id)
	})

	t.Run("SaveAndLoadScoringRun", func(t *testing.T) {
		p := open(t)
		run := CreateTestScoringRun(t, "run-1", 1000)

		require.NoError(t, p.SaveScoringRun(run))

		loaded, err := p.LoadScoringRun("run-1")
		require.NoError(t, err)
		require.NotNil(t, loaded)

		// Decimals keep their value but not their internal exponent across
		// encodings, so compare the wire form.
		assertSameJSON(t, run, loaded)
		assert.Equal(t, run.Summary, loaded.Summary)

		// Unparseable inputs are stored as received
		require.Len(t, loaded.Inputs, len(run.Inputs))
		assert.Nil(t, loaded.Inputs[4].Cash)
		assert.Equal(t, `"n/a"`, string(loaded.Inputs[4].Malformed["cash"]))
	})

	t.Run("ScoringRun_NotFoundAndInvalid", func(t *testing.T) {
		p := open(t)

		loaded, err := p.LoadScoringRun("missing")
		require.NoError(t, err)
		assert.Nil(t, loaded)

		err = p.SaveScoringRun(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nil ScoringRun")
	})

	t.Run("ListScoringRuns", func(t *testing.T) {
		p := open(t)

		runs, err := p.ListScoringRuns()
		require.NoError(t, err)
		assert.Empty(t, runs)

		require.NoError(t, p.SaveScoringRun(CreateTestScoringRun(t, "run-b", 2000)))
		require.NoError(t, p.SaveScoringRun(CreateTestScoringRun(t, "run-a", 1000)))

		runs, err = p.ListScoringRuns()
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "run-a", runs[0].ID)
		assert.Equal(t, "run-b", runs[1].ID)
	})

	t.Run("Close", func(t *testing.T) {
		p := open(t)
		require.NoError(t, p.HealthCheck())

		require.NoError(t, p.Close())
		require.NoError(t, p.Close())

		err := p.SaveBatch(CreateTestBatch(t, "after-close", 1, 1))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "closed")

		_, err = p.LoadBatch("after-close")
		require.Error(t, err)

		_, err = p.ListScoringRuns()
		require.Error(t, err)

		_, err = p.GetLatestBatchID()
		require.Error(t, err)

		require.Error(t, p.HealthCheck())
	})

	t.Run("ThreadSafety", func(t *testing.T) {
		p := open(t)

		const workers = 8
		const perWorker = 10

		var wg sync.WaitGroup
		errs := make(chan error, workers*perWorker*2)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					id := fmt.Sprintf("batch-%d-%d", w, i)
					if err := p.SaveBatch(CreateTestBatch(t, id, 2, int64(w*perWorker+i))); err != nil {
						errs <- err
						continue
					}
					if _, err := p.LoadBatch(id); err != nil {
						errs <- err
					}
					if _, err := p.ListBatches(); err != nil {
						errs <- err
					}
				}
			}(w)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		batches, err := p.ListBatches()
		require.NoError(t, err)
		assert.Len(t, batches, workers*perWorker)
	})
}

func assertSameJSON(t *testing.T, expected, actual any) {
	t.Helper()
	want, err := json.Marshal(expected)
	require.NoError(t, err)
	got, err := json.Marshal(actual)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}
