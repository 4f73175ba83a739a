package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cat, err := Parse([]byte(`
tools:
  - name: web-search
    category: search
  - name: send-email
    category: communication
`))
	require.NoError(t, err)
	assert.Equal(t, 2, cat.Size())
	assert.Equal(t, "web-search", cat.Entries[0].Name)
	assert.Equal(t, "communication", cat.Entries[1].Category)
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := Parse([]byte("tools: []"))
	assert.Error(t, err)
}

func TestParseRejectsDuplicates(t *testing.T) {
	_, err := Parse([]byte(`
tools:
  - name: web-search
    category: search
  - name: web-search
    category: other
`))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestParseRejectsUnnamedEntry(t *testing.T) {
	_, err := Parse([]byte(`
tools:
  - category: search
`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadSpec(t *testing.T) {
	dir := t.TempDir()
	spec := `{"name": "web-search", "category": "search", "description": "Search the web", "example": "web_search(query=\"go\")"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "web-search.json"), []byte(spec), 0o644))

	loaded, err := LoadSpec(dir, "web-search")
	require.NoError(t, err)
	assert.Equal(t, "web-search", loaded.Name)
	assert.Equal(t, "Search the web", loaded.Description)
}

func TestLoadSpecNotFound(t *testing.T) {
	_, err := LoadSpec(t.TempDir(), "missing-tool")
	assert.ErrorIs(t, err, ErrSpecNotFound)
}

func TestLoadSpecFillsName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "calc.json"),
		[]byte(`{"description": "Calculator"}`), 0o644))

	loaded, err := LoadSpec(dir, "calc")
	require.NoError(t, err)
	assert.Equal(t, "calc", loaded.Name)
}

func TestLoadSpecRejectsMissingDescription(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"),
		[]byte(`{"name": "bad"}`), 0o644))

	_, err := LoadSpec(dir, "bad")
	assert.ErrorIs(t, err, ErrSpecInvalid)
	assert.NotErrorIs(t, err, ErrSpecNotFound)
}

func TestLoadSpecRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"),
		[]byte(`{"name": "broken"`), 0o644))

	_, err := LoadSpec(dir, "broken")
	assert.ErrorIs(t, err, ErrSpecInvalid)
}
