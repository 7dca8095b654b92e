package memory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reservewatch/reservewatch-go/pkg/persistence"
	"github.com/reservewatch/reservewatch-go/pkg/testutil"
)

func TestMemoryPersistence(t *testing.T) {
	testutil.RunPersistenceSuite(t, func(t *testing.T) persistence.IReservePersistence {
		return NewMemoryPersistence()
	})
}

func TestMemoryPersistence_DeepCopy_Mutation(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	batch := testutil.CreateTestBatch(t, "batch-1", 3, 1000)
	require.NoError(t, mp.SaveBatch(batch))

	// Mutating the caller's copy after save must not reach the store
	batch.Records[0].Amount = 1
	batch.AnchorRef = "mutated"

	loaded, err := mp.LoadBatch("batch-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), loaded.Records[0].Amount)
	assert.Equal(t, "local:batch-1", loaded.AnchorRef)

	// Mutating a loaded copy must not reach the store either
	loaded.Records[1].ID = "mutated"

	reloaded, err := mp.LoadBatch("batch-1")
	require.NoError(t, err)
	assert.Equal(t, "acct-00001", reloaded.Records[1].ID)
}

func TestMemoryPersistence_DeepCopy_ScoringRun(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	run := testutil.CreateTestScoringRun(t, "run-1", 1000)
	require.NoError(t, mp.SaveScoringRun(run))

	loaded, err := mp.LoadScoringRun("run-1")
	require.NoError(t, err)
	require.NotNil(t, loaded.Results[0].Assessment)
	require.NotNil(t, loaded.Results[0].Assessment.Explanation)

	loaded.Results[0].Assessment.Company = "mutated"
	loaded.Results[0].Assessment.Explanation.Flags = append(loaded.Results[0].Assessment.Explanation.Flags, "mutated")

	reloaded, err := mp.LoadScoringRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "Safe Co", reloaded.Results[0].Assessment.Company)
	assert.NotContains(t, reloaded.Results[0].Assessment.Explanation.Flags, "mutated")

	loaded.Inputs[0].Company = "mutated"
	loaded.Inputs[4].Malformed["cash"] = json.RawMessage(`"mutated"`)

	reloaded, err = mp.LoadScoringRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "Safe Co", reloaded.Inputs[0].Company)
	assert.Equal(t, `"n/a"`, string(reloaded.Inputs[4].Malformed["cash"]))
}
