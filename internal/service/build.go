package service

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rlefko/codeindex/internal/config"
	"github.com/rlefko/codeindex/internal/embeddings"
	"github.com/rlefko/codeindex/internal/fileselect"
	"github.com/rlefko/codeindex/internal/logging"
	"github.com/rlefko/codeindex/internal/parser"
	"github.com/rlefko/codeindex/internal/reconciler"
	"github.com/rlefko/codeindex/internal/signature"
	"github.com/rlefko/codeindex/internal/state"
	"github.com/rlefko/codeindex/internal/vectorstore"
	"github.com/rlefko/codeindex/internal/watcher"
)

// BuildProject resolves cfg for projectDir into a ready-to-run
// Reconciler+Watcher pair, wiring every collaborator package the same way
// for both the daemon and the one-shot CLI so neither has to duplicate the
// construction order.
func BuildProject(projectDir, collection string, cfg *config.Config) (*reconciler.Reconciler, *watcher.Watcher, error) {
	store, err := vectorstore.NewQdrantStore(cfg.Qdrant, logging.WithComponent("vectorstore"))
	if err != nil {
		return nil, nil, fmt.Errorf("service: connect vector store: %w", err)
	}

	embedder, err := embeddings.New(cfg.Embedding, cfg.Indexer.StateDir)
	if err != nil {
		return nil, nil, fmt.Errorf("service: build embedding service: %w", err)
	}

	reg := parser.NewRegistry()
	reg.Register(&parser.FallbackParser{})

	rules := fileselect.Load(projectDir, cfg.Indexer.IncludePatterns, cfg.Indexer.ExcludePatterns, cfg.Indexer.MaxFileSize)
	stateStore := state.New(projectDir, cfg.Indexer.StateDir)

	var sigTable *signature.Table
	sigDir := cfg.Indexer.StateDir
	if sigDir == "" {
		sigDir = filepath.Join(projectDir, ".claude-indexer")
	}
	if err := os.MkdirAll(sigDir, 0o755); err != nil {
		logging.WithComponent("service").Warn("could not create signature directory, continuing without it", "error", err.Error())
	} else if tbl, err := signature.Open(filepath.Join(sigDir, collection+".signatures.db")); err == nil {
		sigTable = tbl
	} else {
		logging.WithComponent("service").Warn("signature table unavailable, continuing without it", "error", err.Error())
	}

	rec := reconciler.New(
		projectDir, collection, reg, store, embedder, stateStore, rules, sigTable,
		cfg.Indexer, cfg.Chunking,
	)
	w := watcher.New(projectDir, rules, rec, rec, cfg.Watcher)

	return rec, w, nil
}
