package vocab

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToBuiltins(t *testing.T) {
	r, err := Load("/nonexistent/path/vocab.yml")
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.NotEmpty(t, r.TypeIDs())
	assert.NotEmpty(t, r.Concepts())
	assert.Equal(t, "discovery", r.FallbackType())
}

func TestLoadValidYAML(t *testing.T) {
	const yamlContent = `
types:
  - id: incident
    description: Production incident learning
  - id: migration
    description: Schema or data migration
concepts:
  - root-cause
  - rollback
`
	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))

	r, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"incident", "migration"}, r.TypeIDs())
	assert.Equal(t, []string{"root-cause", "rollback"}, r.Concepts())
	assert.Equal(t, "incident", r.FallbackType(), "first type is the fallback")
	assert.True(t, r.IsValidType("migration"))
	assert.False(t, r.IsValidType("bugfix"), "override replaces the built-ins")
}

func TestLoadPartialYAMLKeepsBuiltins(t *testing.T) {
	const yamlContent = `
concepts:
  - only-concepts-here
`
	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.yml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))

	r, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "discovery", r.FallbackType(), "empty types section keeps built-ins")
	assert.Equal(t, []string{"only-concepts-here"}, r.Concepts())
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte(":\tinvalid [unclosed"), 0600))

	r, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, r)
}

func TestNormalize(t *testing.T) {
	r := Default()

	assert.Equal(t, "bugfix", r.Normalize("bugfix"))
	assert.Equal(t, "discovery", r.Normalize("totally-made-up"))
	assert.Equal(t, "discovery", r.Normalize(""))
}
