package main

import (
	"fmt"

	"github.com/ethpandaops/flakeoor/pkg/sample"
	"github.com/spf13/cobra"
)

var (
	generateOutputDir string
	generateRuns      int
	generateSeed      uint64
)

var generateCmd = &cobra.Command{
	Use:   "generate-testdata",
	Short: "Generate a sample report directory",
	Long: `Write synthetic pytest-style report files with two intentionally flaky
tests. Analyze them with: flakeoor detect --input <output-dir>`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringVar(&generateOutputDir, "output-dir", "deflake_reports",
		"Directory to write the report files to")
	generateCmd.Flags().IntVar(&generateRuns, "runs", sample.DefaultRuns,
		"Number of report files to generate")
	generateCmd.Flags().Uint64Var(&generateSeed, "seed", sample.DefaultOptions().Seed,
		"Random seed")
}

func runGenerate(_ *cobra.Command, _ []string) error {
	if generateRuns < 1 {
		return fmt.Errorf("--runs must be >= 1, got %d", generateRuns)
	}

	opts := sample.DefaultOptions()
	opts.Runs = generateRuns
	opts.Seed = generateSeed

	reports := sample.Generate(opts)

	paths, err := sample.WriteReports(generateOutputDir, reports)
	if err != nil {
		return fmt.Errorf("writing reports: %w", err)
	}

	for _, report := range reports {
		log.WithField("run", report.Metadata.RunNumber).
			WithField("passes", report.Metadata.TotalPassCount).
			WithField("fails", report.Metadata.TotalFailCount).
			Debug("Generated report")
	}

	log.WithField("dir", generateOutputDir).
		WithField("files", len(paths)).
		Info("Sample reports generated")

	return nil
}
