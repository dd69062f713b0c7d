package generate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"variant-engine/internal/shared/model"
)

func TestWriteOutputs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	variants := []model.Variant{
		{Index: 0, ID: "variant-0000", Assignment: map[string]any{"speed": 1.5}},
		{Index: 1, ID: "variant-0001", Assignment: map[string]any{"speed": 2.5}},
	}

	require.NoError(t, WriteOutputs(dir, variants))

	// One file per variant.
	for _, v := range variants {
		data, err := os.ReadFile(filepath.Join(dir, v.ID+".json"))
		require.NoError(t, err)
		var got model.Variant
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, v.ID, got.ID)
		assert.Equal(t, v.Assignment["speed"], got.Assignment["speed"])
	}

	// Manifest enumerates every variant in order.
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	require.NoError(t, err)
	var manifest []manifestEntry
	require.NoError(t, json.Unmarshal(data, &manifest))
	require.Len(t, manifest, 2)
	assert.Equal(t, "variant-0000", manifest[0].ID)
	assert.Equal(t, 1, manifest[1].Index)
}

func TestWriteOutputsEmpty(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, WriteOutputs(dir, nil))

	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}
