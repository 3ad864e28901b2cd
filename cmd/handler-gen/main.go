package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/estatechain/indexer/internal/codegen"
)

const version = "0.1.0"

var (
	kind     string
	events   []string
	repoRoot string
	force    bool
	dryRun   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "handler-gen",
	Short: "Scaffold a new contract handler kind",
	Long: `handler-gen generates the decode, handler and migration files for a new
contract kind from its event signatures. The files land next to the
handwritten kinds and a short checklist explains how to wire them in.

Example:

  handler-gen --kind valuation_oracle \
    --event "ValuationUpdated(uint256 indexed propertyId, address indexed assessor, uint256 value)"`,
	Version: version,
	RunE:    run,
}

func init() {
	rootCmd.Flags().StringVar(&kind, "kind", "", "handler kind in snake_case (required)")
	rootCmd.Flags().StringArrayVar(&events, "event", nil, "event signature, repeat for multiple events (required)")
	rootCmd.Flags().StringVar(&repoRoot, "repo", ".", "repository root to write into")
	rootCmd.Flags().BoolVar(&force, "force", false, "overwrite previously generated files")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the generated files without writing them")

	_ = rootCmd.MarkFlagRequired("kind")
	_ = rootCmd.MarkFlagRequired("event")
}

func run(cmd *cobra.Command, args []string) error {
	gen := &codegen.Generator{
		Kind:     kind,
		Events:   events,
		RepoRoot: repoRoot,
		Force:    force,
		DryRun:   dryRun,
	}

	files, err := gen.Generate()
	if err != nil {
		return err
	}

	if dryRun {
		for _, file := range files {
			fmt.Printf("--- %s ---\n%s\n", file.Path, file.Content)
		}
		return nil
	}

	gen.PrintSummary(files)

	return nil
}
