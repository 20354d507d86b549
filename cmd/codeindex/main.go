// codeindex is the one-shot CLI entrypoint: index a project, clear a
// collection, check status, write a default settings template, or
// migrate a legacy .claude-indexer/config.json into .claude/settings.json.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rlefko/codeindex/internal/config"
	"github.com/rlefko/codeindex/pkg/model"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var projectDir string

	root := &cobra.Command{
		Use:   "codeindex",
		Short: "Index a code repository into a collection and query its status",
		Long: `codeindex builds and maintains a semantic index of a code repository.

Run "codeindex index" for a one-shot full or incremental pass, "codeindex
status" to see the current ledger, "codeindex clear" to wipe a collection,
and "codeindex init" to write a commented settings template for a new
project.`,
	}
	root.PersistentFlags().StringVar(&projectDir, "project", ".", "project directory")

	root.AddCommand(
		newIndexCmd(&projectDir),
		newClearCmd(&projectDir),
		newStatusCmd(&projectDir),
		newInitCmd(&projectDir),
		newMigrateConfigCmd(&projectDir),
	)
	return root
}

func resolveConfig(projectDir string) (string, *config.Config, error) {
	absDir, err := absPath(projectDir)
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.NewLoader(absDir).Resolve(nil)
	if err != nil {
		return "", nil, fmt.Errorf("resolve configuration: %w", err)
	}
	return absDir, cfg, nil
}

func newIndexCmd(projectDir *string) *cobra.Command {
	var (
		collection  string
		incremental bool
		sinceCommit string
	)
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Run a full or incremental indexing pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			absDir, cfg, err := resolveConfig(*projectDir)
			if err != nil {
				return err
			}
			name := collection
			if name == "" {
				name = cfg.Collection
			}
			rec, _, err := buildReconciler(absDir, name, cfg)
			if err != nil {
				return err
			}

			ctx := context.Background()
			var (
				result *model.PipelineResult
				runErr error
			)
			if incremental {
				result, runErr = rec.IndexIncremental(ctx, sinceCommit)
			} else {
				result, runErr = rec.IndexProject(ctx, cfg.Indexer.IncludeTests)
			}
			if runErr != nil {
				return runErr
			}
			printResult(result)
			if !result.Success {
				return fmt.Errorf("indexing reported failure: %v", result.Errors)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "collection name (defaults to resolved config)")
	cmd.Flags().BoolVar(&incremental, "incremental", false, "force incremental mode via git diff since the ledger's last commit")
	cmd.Flags().StringVar(&sinceCommit, "since", "", "commit to diff from (incremental mode only; defaults to the ledger's last commit)")
	return cmd
}

func newClearCmd(projectDir *string) *cobra.Command {
	var (
		collection     string
		preserveManual bool
	)
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete a collection's indexed points and reset its ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			absDir, cfg, err := resolveConfig(*projectDir)
			if err != nil {
				return err
			}
			name := collection
			if name == "" {
				name = cfg.Collection
			}
			rec, _, err := buildReconciler(absDir, name, cfg)
			if err != nil {
				return err
			}
			deleted, err := rec.ClearCollection(context.Background(), preserveManual)
			if err != nil {
				return err
			}
			fmt.Println(green(fmt.Sprintf("deleted %d points from %q", deleted, name)))
			return nil
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "collection name (defaults to resolved config)")
	cmd.Flags().BoolVar(&preserveManual, "preserve-manual", true, "keep manually-authored entries")
	return cmd
}

func newStatusCmd(projectDir *string) *cobra.Command {
	var collection string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the collection's ledger summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			absDir, cfg, err := resolveConfig(*projectDir)
			if err != nil {
				return err
			}
			name := collection
			if name == "" {
				name = cfg.Collection
			}
			return printStatus(absDir, name, cfg)
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "collection name (defaults to resolved config)")
	return cmd
}

func newInitCmd(projectDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented default settings template for this project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			absDir, err := absPath(*projectDir)
			if err != nil {
				return err
			}
			path, err := writeDefaultSettings(absDir)
			if err != nil {
				return err
			}
			fmt.Println(green("wrote " + path))
			return nil
		},
	}
	return cmd
}

func newMigrateConfigCmd(projectDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate-config",
		Short: "Copy a legacy .claude-indexer/config.json into .claude/settings.json",
		RunE: func(cmd *cobra.Command, _ []string) error {
			absDir, err := absPath(*projectDir)
			if err != nil {
				return err
			}
			migrated, path, err := migrateLegacyConfig(absDir)
			if err != nil {
				return err
			}
			if !migrated {
				fmt.Println(yellow("no legacy config.json found, nothing to migrate"))
				return nil
			}
			fmt.Println(green("migrated legacy config into " + path))
			return nil
		},
	}
	return cmd
}
