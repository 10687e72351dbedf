package detector

import "time"

// Execution is the per-execution output of a detection pass.
type Execution struct {
	ExecutionRecord

	FailureRate     float64 `json:"failure_rate"`
	EWMAFailureRate float64 `json:"ewma_failure_rate"`
	ZScore          float64 `json:"z_score"`
	IsFlakyStat     bool    `json:"is_flaky_stat"`
	// IsFlakyML is nil when the anomaly model stage is disabled.
	IsFlakyML *bool `json:"is_flaky_ml,omitempty"`
	IsFlaky   bool  `json:"is_flaky"`
}

// TestSummary aggregates all executions of one test.
type TestSummary struct {
	TestID              string    `json:"test_id"`
	ExecutionCount      int       `json:"execution_count"`
	AvgFailureRate      float64   `json:"avg_failure_rate"`
	AvgEWMAFailureRate  float64   `json:"avg_ewma_failure_rate"`
	FlakyExecutionCount int       `json:"flaky_execution_count"`
	FlakyFraction       float64   `json:"flaky_fraction"`
	MaxAbsZScore        float64   `json:"max_abs_z_score"`
	FirstSeen           time.Time `json:"first_seen"`
	LastSeen            time.Time `json:"last_seen"`
}

// BatchSummary aggregates a whole detection pass.
type BatchSummary struct {
	TotalTests            int     `json:"total_tests"`
	TotalExecutions       int     `json:"total_executions"`
	FlakyExecutions       int     `json:"flaky_executions"`
	FlakyPercentage       float64 `json:"flaky_percentage"`
	StatFlaggedExecutions int     `json:"stat_flagged_executions"`
	MLFlaggedExecutions   int     `json:"ml_flagged_executions"`
}

// Result is the complete, self-contained output of one detection pass.
//
// Executions are grouped by test id (ascending) and ordered by time within
// each test. Tests are ordered flakiest first, see Summarize.
type Result struct {
	Options    Options       `json:"options"`
	Summary    BatchSummary  `json:"summary"`
	Tests      []TestSummary `json:"tests"`
	Executions []Execution   `json:"executions"`
}

// Empty reports whether the pass ran over zero records.
func (r *Result) Empty() bool {
	return r.Summary.TotalExecutions == 0
}

// TopN returns at most n test summaries, flakiest first. n <= 0 returns all.
func (r *Result) TopN(n int) []TestSummary {
	if n <= 0 || n >= len(r.Tests) {
		return r.Tests
	}

	return r.Tests[:n]
}

// ExecutionsFor returns the time-ordered executions of a single test.
func (r *Result) ExecutionsFor(testID string) []Execution {
	var out []Execution

	for _, e := range r.Executions {
		if e.TestID == testID {
			out = append(out, e)
		}
	}

	return out
}

// Span returns the earliest and latest execution timestamps of the pass.
func (r *Result) Span() (time.Time, time.Time) {
	var first, last time.Time

	for _, t := range r.Tests {
		if first.IsZero() || t.FirstSeen.Before(first) {
			first = t.FirstSeen
		}

		if t.LastSeen.After(last) {
			last = t.LastSeen
		}
	}

	return first, last
}

func newEmptyResult(opts Options) *Result {
	return &Result{
		Options:    opts,
		Tests:      []TestSummary{},
		Executions: []Execution{},
	}
}
