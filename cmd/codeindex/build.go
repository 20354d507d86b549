package main

import (
	"os"
	"path/filepath"

	"github.com/rlefko/codeindex/internal/config"
	"github.com/rlefko/codeindex/internal/reconciler"
	"github.com/rlefko/codeindex/internal/service"
	"github.com/rlefko/codeindex/internal/watcher"
)

func absPath(dir string) (string, error) {
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, dir), nil
}

func buildReconciler(projectDir, collection string, cfg *config.Config) (*reconciler.Reconciler, *watcher.Watcher, error) {
	return service.BuildProject(projectDir, collection, cfg)
}
