package main

import (
	"fmt"
	"time"

	"github.com/rlefko/codeindex/internal/config"
	"github.com/rlefko/codeindex/internal/state"
	"github.com/rlefko/codeindex/pkg/model"
)

func printResult(result *model.PipelineResult) {
	status := green("success")
	if !result.Success {
		status = red("failed")
	}
	fmt.Printf("%s  %s  files=%d failed=%d entities=%d relations=%d chunks=%d  %.2fs\n",
		status, cyan(string(result.Operation)),
		result.FilesProcessed, result.FilesFailed,
		result.EntitiesCreated, result.RelationsCreated, result.ImplementationChunksCreated,
		result.ProcessingTime)
	for _, w := range result.Warnings {
		fmt.Println(yellow("warning: " + w))
	}
	for _, e := range result.Errors {
		fmt.Println(red("error: " + e))
	}
}

func printStatus(projectDir, collection string, cfg *config.Config) error {
	store := state.New(projectDir, cfg.Indexer.StateDir)
	ledger, err := store.Load(collection)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	fmt.Printf("%s  collection=%s  tracked_files=%d\n", bold("codeindex status"), cyan(collection), len(ledger.Files))
	if ledger.LastCommit != "" {
		fmt.Printf("  last indexed commit: %s\n", ledger.LastCommit)
	}
	if ledger.LastIndexedAt > 0 {
		t := time.Unix(int64(ledger.LastIndexedAt), 0)
		fmt.Printf("  last indexed at:     %s\n", t.Format(time.RFC3339))
	}
	if ledger.Statistics != nil {
		s := ledger.Statistics
		fmt.Printf("  last run: files=%d entities=%d relations=%d chunks=%d  %.2fs\n",
			s.FilesProcessed, s.EntitiesCreated, s.RelationsCreated, s.ImplementationChunksCreated, s.ProcessingTime)
	} else {
		fmt.Println(yellow("  no run statistics recorded yet"))
	}
	return nil
}
