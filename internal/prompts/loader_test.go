package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.ragsuite.platform/internal/domain"
)

func TestLoadTrimsContents(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeting.md"), []byte("\n\nYou are helpful.\n\n"), 0o644))

	loader := NewLoader(dir)
	got, err := loader.Load("greeting.md")
	require.NoError(t, err)
	assert.Equal(t, "You are helpful.", got)
}

func TestLoadRequiresMarkdownExtension(t *testing.T) {
	loader := NewLoader(t.TempDir())
	_, err := loader.Load("greeting.txt")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Contains(t, err.Error(), ".md extension")
}

func TestLoadMissingFile(t *testing.T) {
	loader := NewLoader(t.TempDir())
	_, err := loader.Load("absent.md")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Contains(t, err.Error(), "Prompt file not found: absent.md")
}

func TestLoadCachesFirstRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cached.md")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))

	loader := NewLoader(dir)
	got, err := loader.Load("cached.md")
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	// A rewrite on disk is not observed; the loader serves the cached copy.
	require.NoError(t, os.WriteFile(path, []byte("second"), 0o644))
	got, err = loader.Load("cached.md")
	require.NoError(t, err)
	assert.Equal(t, "first", got)
}
