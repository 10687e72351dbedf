// Package sample generates synthetic report directories with known flaky
// tests, for trying out detection end to end.
package sample

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/ethpandaops/flakeoor/pkg/detector"
)

const (
	// DefaultRuns is the default number of report files.
	DefaultRuns = 10

	// DefaultAttempts is the number of attempts recorded per test and run.
	DefaultAttempts = 3

	// DefaultStableFailureRate is the failure probability of stable tests.
	DefaultStableFailureRate = 0.05

	firstBuildNumber = 101
)

// DefaultTests are the generated test ids.
var DefaultTests = []string{
	"tests/test_login.py::test_valid_credentials",
	"tests/test_login.py::test_invalid_credentials",
	"tests/test_api.py::test_get_users",
	"tests/test_api.py::test_create_user",
	"tests/test_api.py::test_delete_user",
	"tests/test_ui.py::test_homepage_load",
}

// DefaultFlaky maps the intentionally flaky tests to their failure
// probability.
var DefaultFlaky = map[string]float64{
	"tests/test_login.py::test_valid_credentials": 0.35,
	"tests/test_api.py::test_get_users":           0.40,
}

// Options controls generation.
type Options struct {
	Runs              int
	Attempts          int
	Tests             []string
	Flaky             map[string]float64
	StableFailureRate float64
	Start             time.Time
	Seed              uint64
}

// DefaultOptions returns the default generation settings.
func DefaultOptions() Options {
	return Options{
		Runs:              DefaultRuns,
		Attempts:          DefaultAttempts,
		Tests:             DefaultTests,
		Flaky:             DefaultFlaky,
		StableFailureRate: DefaultStableFailureRate,
		Start:             time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
		Seed:              uint64(detector.DefaultRandomSeed),
	}
}

// Report is one generated report file.
type Report struct {
	TestRuns []detector.ExecutionRecord `json:"test_runs"`
	Metadata Metadata                   `json:"metadata"`
}

// Metadata summarises a report. Ingestion ignores it.
type Metadata struct {
	RunNumber      int `json:"run_number"`
	TotalTests     int `json:"total_tests"`
	Passed         int `json:"passed"`
	Failed         int `json:"failed"`
	TotalPassCount int `json:"total_pass_count"`
	TotalFailCount int `json:"total_fail_count"`
}

// Generate returns opts.Runs reports, one execution per test each, spaced
// one hour apart. Output is deterministic for a given seed.
func Generate(opts Options) []Report {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	reports := make([]Report, 0, opts.Runs)

	for run := 1; run <= opts.Runs; run++ {
		report := Report{Metadata: Metadata{
			RunNumber:  run,
			TotalTests: len(opts.Tests),
		}}

		for _, test := range opts.Tests {
			prob, flaky := opts.Flaky[test]
			if !flaky {
				prob = opts.StableFailureRate
			}

			fails := 0

			for i := 0; i < opts.Attempts; i++ {
				if rng.Float64() < prob {
					fails++
				}
			}

			report.TestRuns = append(report.TestRuns, detector.ExecutionRecord{
				TestID:      test,
				ExecutionID: fmt.Sprintf("pytest_run_%02d", run),
				Timestamp:   opts.Start.Add(time.Duration(run) * time.Hour),
				BuildNumber: firstBuildNumber + run - 1,
				PassCount:   opts.Attempts - fails,
				FailCount:   fails,
				TotalRuns:   opts.Attempts,
			})

			if fails == 0 {
				report.Metadata.Passed++
			} else {
				report.Metadata.Failed++
			}

			report.Metadata.TotalPassCount += opts.Attempts - fails
			report.Metadata.TotalFailCount += fails
		}

		reports = append(reports, report)
	}

	return reports
}

// WriteReports writes each report to dir as pytest_run_NN.json and
// returns the written paths.
func WriteReports(dir string, reports []Report) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}

	paths := make([]string, 0, len(reports))

	for _, report := range reports {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling report: %w", err)
		}

		path := filepath.Join(dir, fmt.Sprintf("pytest_run_%02d.json", report.Metadata.RunNumber))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}

		paths = append(paths, path)
	}

	return paths, nil
}
