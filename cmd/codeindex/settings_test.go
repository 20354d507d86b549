package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDefaultSettingsWritesValidJSON(t *testing.T) {
	dir := t.TempDir()
	path, err := writeDefaultSettings(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".claude", "settings.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(raw, &parsed))
	assert.Equal(t, "default", parsed["collection"])
}

func TestWriteDefaultSettingsRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	_, err := writeDefaultSettings(dir)
	require.NoError(t, err)

	_, err = writeDefaultSettings(dir)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestMigrateLegacyConfigNoLegacyFileIsNoop(t *testing.T) {
	dir := t.TempDir()
	migrated, path, err := migrateLegacyConfig(dir)
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.Empty(t, path)
}

func TestMigrateLegacyConfigCopiesAndSetsFlag(t *testing.T) {
	dir := t.TempDir()
	legacyDir := filepath.Join(dir, ".claude-indexer")
	require.NoError(t, os.MkdirAll(legacyDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(legacyDir, "config.json"),
		[]byte(`{"collection":"legacy-proj","qdrant_url":"http://localhost:6333"}`), 0o644))

	migrated, newPath, err := migrateLegacyConfig(dir)
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.Equal(t, filepath.Join(dir, ".claude", "settings.json"), newPath)

	raw, err := os.ReadFile(newPath)
	require.NoError(t, err)
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(raw, &parsed))
	assert.Equal(t, "legacy-proj", parsed["collection"])
	assert.Equal(t, true, parsed["config_migrated"])

	// the legacy file is left in place
	_, err = os.Stat(filepath.Join(legacyDir, "config.json"))
	assert.NoError(t, err)
}

func TestMigrateLegacyConfigBacksUpExistingSettings(t *testing.T) {
	dir := t.TempDir()
	legacyDir := filepath.Join(dir, ".claude-indexer")
	require.NoError(t, os.MkdirAll(legacyDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(legacyDir, "config.json"),
		[]byte(`{"collection":"legacy-proj"}`), 0o644))

	newDir := filepath.Join(dir, ".claude")
	require.NoError(t, os.MkdirAll(newDir, 0o755))
	existing := []byte(`{"collection":"hand-edited"}`)
	require.NoError(t, os.WriteFile(filepath.Join(newDir, "settings.json"), existing, 0o644))

	migrated, _, err := migrateLegacyConfig(dir)
	require.NoError(t, err)
	assert.True(t, migrated)

	entries, err := os.ReadDir(newDir)
	require.NoError(t, err)
	var backups int
	for _, e := range entries {
		if e.Name() != "settings.json" {
			backups++
		}
	}
	assert.Equal(t, 1, backups)
}
