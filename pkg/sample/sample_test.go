package sample_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/flakeoor/pkg/ingest"
	"github.com/ethpandaops/flakeoor/pkg/sample"
)

func TestGenerate(t *testing.T) {
	opts := sample.DefaultOptions()
	reports := sample.Generate(opts)

	require.Len(t, reports, opts.Runs)

	for i, report := range reports {
		assert.Equal(t, i+1, report.Metadata.RunNumber)
		require.Len(t, report.TestRuns, len(opts.Tests))
		assert.Equal(t, len(opts.Tests), report.Metadata.Passed+report.Metadata.Failed)

		for _, rec := range report.TestRuns {
			require.NoError(t, rec.Validate())
			assert.Equal(t, opts.Attempts, rec.TotalRuns)
		}
	}

	// Deterministic for a seed.
	assert.Equal(t, reports, sample.Generate(opts))

	opts.Seed++
	assert.NotEqual(t, reports, sample.Generate(opts))
}

func TestGenerate_AlwaysFailing(t *testing.T) {
	opts := sample.DefaultOptions()
	opts.Runs = 3
	opts.Tests = []string{"test_broken", "test_ok"}
	opts.Flaky = map[string]float64{"test_broken": 1}
	opts.StableFailureRate = 0

	for _, report := range sample.Generate(opts) {
		assert.Equal(t, opts.Attempts, report.TestRuns[0].FailCount)
		assert.Equal(t, 0, report.TestRuns[1].FailCount)
	}
}

func TestWriteReports_RoundTripsThroughIngest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	opts := sample.DefaultOptions()

	paths, err := sample.WriteReports(dir, sample.Generate(opts))
	require.NoError(t, err)
	require.Len(t, paths, opts.Runs)
	assert.Equal(t, filepath.Join(dir, "pytest_run_01.json"), paths[0])

	loader := ingest.NewLoader(logrus.New(), ingest.Options{
		Format: ingest.FormatAuto,
		Strict: true,
	})

	res, err := loader.Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, res.Records, opts.Runs*len(opts.Tests))
	assert.Empty(t, res.Skipped)
}
