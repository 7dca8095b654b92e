package badger

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reservewatch/reservewatch-go/pkg/logger"
	"github.com/reservewatch/reservewatch-go/pkg/persistence"
	"github.com/reservewatch/reservewatch-go/pkg/testutil"
)

func newTestLogger(t *testing.T) *zap.Logger {
	testLogger, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)
	return testLogger
}

func TestBadgerPersistence(t *testing.T) {
	testutil.RunPersistenceSuite(t, func(t *testing.T) persistence.IReservePersistence {
		bp, err := NewBadgerPersistence(t.TempDir(), newTestLogger(t))
		require.NoError(t, err)
		return bp
	})
}

func TestBadgerPersistence_Persistence_AcrossRestarts(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger := newTestLogger(t)

	// First instance - save data
	bp1, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)

	batch := testutil.CreateTestBatch(t, "batch-restart", 9, 1000)
	require.NoError(t, bp1.SaveBatch(batch))
	require.NoError(t, bp1.SetLatestBatchID(batch.ID))

	run := testutil.CreateTestScoringRun(t, "run-restart", 2000)
	require.NoError(t, bp1.SaveScoringRun(run))

	require.NoError(t, bp1.Close())

	// Second instance - verify data persisted
	bp2, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp2.Close() }()

	loaded, err := bp2.LoadBatchByRoot(batch.Root)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, batch, loaded)

	latest, err := bp2.GetLatestBatchID()
	require.NoError(t, err)
	assert.Equal(t, batch.ID, latest)

	loadedRun, err := bp2.LoadScoringRun(run.ID)
	require.NoError(t, err)
	require.NotNil(t, loadedRun)
	assert.Equal(t, run.Summary, loadedRun.Summary)
	assert.Len(t, loadedRun.Results, len(run.Results))
}

func TestBadgerPersistence_InvalidPath(t *testing.T) {
	// A regular file cannot be used as the database directory
	file := t.TempDir() + "/not-a-dir"
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := NewBadgerPersistence(file, newTestLogger(t))
	require.Error(t, err)
}
