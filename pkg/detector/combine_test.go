package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool {
	return &b
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name string
		stat bool
		ml   *bool
		want bool
	}{
		{name: "neither", stat: false, ml: boolPtr(false), want: false},
		{name: "stat only", stat: true, ml: boolPtr(false), want: true},
		{name: "ml only", stat: false, ml: boolPtr(true), want: true},
		{name: "both", stat: true, ml: boolPtr(true), want: true},
		{name: "ml disabled, stat false", stat: false, ml: nil, want: false},
		{name: "ml disabled, stat true", stat: true, ml: nil, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			execs := []Execution{{IsFlakyStat: tt.stat, IsFlakyML: tt.ml}}
			Combine(execs)
			assert.Equal(t, tt.want, execs[0].IsFlaky)
		})
	}
}

func TestSummarize(t *testing.T) {
	ts := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

	execs := []Execution{
		{
			ExecutionRecord: ExecutionRecord{TestID: "beta", Timestamp: ts},
			FailureRate:     0.2, EWMAFailureRate: 0.25, ZScore: -0.5,
		},
		{
			ExecutionRecord: ExecutionRecord{TestID: "beta", Timestamp: ts.Add(time.Hour)},
			FailureRate:     0.6, EWMAFailureRate: 0.375, ZScore: 2.5,
			IsFlakyStat: true, IsFlaky: true,
		},
		{
			ExecutionRecord: ExecutionRecord{TestID: "alpha", Timestamp: ts},
			FailureRate:     0.3, EWMAFailureRate: 0.3125, ZScore: 0.1,
			IsFlakyML: boolPtr(true), IsFlaky: true,
		},
		{
			ExecutionRecord: ExecutionRecord{TestID: "gamma", Timestamp: ts},
			FailureRate:     0, EWMAFailureRate: 0, ZScore: -1,
		},
	}

	tests, batch := Summarize(execs)
	require.Len(t, tests, 3)

	// alpha and beta tie on average EWMA (0.3125); test id breaks the tie.
	assert.Equal(t, "alpha", tests[0].TestID)
	assert.Equal(t, "beta", tests[1].TestID)
	assert.Equal(t, "gamma", tests[2].TestID)

	beta := tests[1]
	assert.Equal(t, 2, beta.ExecutionCount)
	assert.InDelta(t, 0.4, beta.AvgFailureRate, 1e-12)
	assert.Equal(t, 0.3125, beta.AvgEWMAFailureRate)
	assert.Equal(t, 1, beta.FlakyExecutionCount)
	assert.InDelta(t, 0.5, beta.FlakyFraction, 1e-12)
	assert.InDelta(t, 2.5, beta.MaxAbsZScore, 1e-12)
	assert.Equal(t, ts, beta.FirstSeen)
	assert.Equal(t, ts.Add(time.Hour), beta.LastSeen)

	assert.Equal(t, BatchSummary{
		TotalTests:            3,
		TotalExecutions:       4,
		FlakyExecutions:       2,
		FlakyPercentage:       50,
		StatFlaggedExecutions: 1,
		MLFlaggedExecutions:   1,
	}, batch)
}

func TestSummarize_Empty(t *testing.T) {
	tests, batch := Summarize(nil)

	assert.Empty(t, tests)
	assert.Equal(t, BatchSummary{}, batch)
}
