package reranker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.ragsuite.platform/internal/domain"
)

func TestRegistryResolvesBuiltinAliases(t *testing.T) {
	registry := NewRegistry("models", DefaultModelID)

	for _, name := range []string{
		"BAAI/bge-reranker-v2-m3",
		"bge-reranker-v2-m3",
		"bge-reranker-v2-m3:latest",
		"BAAI/bge-reranker-v2-m3:latest",
	} {
		spec, err := registry.Resolve(name)
		require.NoError(t, err, name)
		assert.Equal(t, DefaultModelID, spec.ID)
		assert.Equal(t, filepath.Join("models", "bge-reranker-v2-m3", "model.onnx"), spec.ModelPath)
		assert.Equal(t, filepath.Join("models", "bge-reranker-v2-m3", "tokenizer.json"), spec.TokenizerPath)
	}
}

func TestRegistryResolvesEmptyNameThroughDefaultAlias(t *testing.T) {
	registry := NewRegistry("models", "bge-reranker-v2-m3:latest")

	spec, err := registry.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, DefaultModelID, spec.ID)
	assert.Equal(t, "bge-reranker-v2-m3:latest", registry.DefaultModel())
}

func TestRegistryRejectsUnknownModel(t *testing.T) {
	registry := NewRegistry("models", DefaultModelID)

	_, err := registry.Resolve("mystery-model")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.EqualError(t, err, "Unknown reranker model 'mystery-model'")
}

func TestLoadRegistryMergesYAMLEntries(t *testing.T) {
	dir := t.TempDir()
	contents := `
default_model: acme/mini-ranker
models:
  - id: acme/mini-ranker
    dir: mini-ranker
    model_file: ranker.onnx
    aliases:
      - mini-ranker
    special_tokens:
      bos: 101
      eos: 102
      pad: 0
`
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	registry, err := LoadRegistry(path, "models", DefaultModelID)
	require.NoError(t, err)

	spec, err := registry.Resolve("mini-ranker")
	require.NoError(t, err)
	assert.Equal(t, "acme/mini-ranker", spec.ID)
	assert.Equal(t, filepath.Join("models", "mini-ranker", "ranker.onnx"), spec.ModelPath)
	assert.Equal(t, filepath.Join("models", "mini-ranker", "tokenizer.json"), spec.TokenizerPath)
	assert.Equal(t, int64(101), spec.BOSToken)
	assert.Equal(t, int64(102), spec.EOSToken)
	assert.Equal(t, int64(0), spec.PadToken)

	// The file overrides the default but the built-in stays registered.
	assert.Equal(t, "acme/mini-ranker", registry.DefaultModel())
	builtin, err := registry.Resolve("bge-reranker-v2-m3")
	require.NoError(t, err)
	assert.Equal(t, DefaultModelID, builtin.ID)

	assert.Equal(t, []string{DefaultModelID, "acme/mini-ranker"}, registry.Models())
}

func TestLoadRegistryMissingFileKeepsBuiltins(t *testing.T) {
	registry, err := LoadRegistry(filepath.Join(t.TempDir(), "absent.yaml"), "models", DefaultModelID)
	require.NoError(t, err)

	spec, err := registry.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, DefaultModelID, spec.ID)
}

func TestLoadRegistryRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models: ["), 0o644))

	_, err := LoadRegistry(path, "models", DefaultModelID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse model registry")
}

func TestLoadRegistryRequiresEntryIDAndDir(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "no-id.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  - dir: somewhere\n"), 0o644))
	_, err := LoadRegistry(path, "models", DefaultModelID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing an id")

	path = filepath.Join(dir, "no-dir.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  - id: acme/thing\n"), 0o644))
	_, err = LoadRegistry(path, "models", DefaultModelID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing a dir")
}
