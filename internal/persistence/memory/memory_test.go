package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/traderun/internal/persistence"
)

func TestPipelineRepoLoadIsolatesOutputs(t *testing.T) {
	repo := NewPipelineRepo()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, persistence.Checkpoint{
		PipelineID: "pipe-1",
		Symbol:     "BTCUSDT",
		Status:     "running",
		Outputs:    map[string][]byte{"verify_evidence": []byte("true")},
	}))

	loaded, err := repo.Load(ctx, "pipe-1")
	require.NoError(t, err)

	// Mutating the loaded checkpoint must not write through to the store
	// until the caller saves it.
	loaded.Outputs["submit"] = []byte(`{"status":"mock_filled"}`)
	loaded.Outputs["verify_evidence"][0] = 'f'

	again, err := repo.Load(ctx, "pipe-1")
	require.NoError(t, err)
	assert.NotContains(t, again.Outputs, "submit")
	assert.Equal(t, []byte("true"), again.Outputs["verify_evidence"])
}

func TestPipelineRepoLoadMissing(t *testing.T) {
	repo := NewPipelineRepo()
	_, err := repo.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}
