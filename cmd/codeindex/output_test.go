package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlefko/codeindex/internal/config"
	"github.com/rlefko/codeindex/internal/state"
	"github.com/rlefko/codeindex/pkg/model"
)

func TestPrintStatusReadsLedger(t *testing.T) {
	dir := t.TempDir()
	store := state.New(dir, "")
	ledger := state.NewLedger()
	ledger.Files["a.py"] = model.FileState{Hash: "x", Size: 3}
	require.NoError(t, store.Save("proj", ledger))
	require.NoError(t, store.SaveStatistics("proj", model.Statistics{FilesProcessed: 1, EntitiesCreated: 2}))

	cfg := config.DefaultConfig()
	err := printStatus(dir, "proj", cfg)
	assert.NoError(t, err)
}

func TestPrintStatusMissingLedgerStillSucceeds(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	err := printStatus(dir, "nonexistent", cfg)
	assert.NoError(t, err)
}
