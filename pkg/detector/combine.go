package detector

import (
	"math"
	"sort"
)

// Combine sets the final IsFlaky label on every execution: an execution is
// flaky when either the statistical or the anomaly method flags it.
func Combine(execs []Execution) {
	for i := range execs {
		e := &execs[i]
		e.IsFlaky = e.IsFlakyStat || (e.IsFlakyML != nil && *e.IsFlakyML)
	}
}

// Summarize groups executions by test id and computes the per-test and
// batch-level summaries. Test summaries are ordered by average EWMA failure
// rate descending, ties by test id ascending.
func Summarize(execs []Execution) ([]TestSummary, BatchSummary) {
	byTest := make(map[string]*TestSummary, 64)
	order := make([]string, 0, 64)

	var batch BatchSummary

	for _, e := range execs {
		ts, ok := byTest[e.TestID]
		if !ok {
			ts = &TestSummary{
				TestID:    e.TestID,
				FirstSeen: e.Timestamp,
				LastSeen:  e.Timestamp,
			}
			byTest[e.TestID] = ts
			order = append(order, e.TestID)
		}

		ts.ExecutionCount++
		ts.AvgFailureRate += e.FailureRate
		ts.AvgEWMAFailureRate += e.EWMAFailureRate
		ts.MaxAbsZScore = math.Max(ts.MaxAbsZScore, math.Abs(e.ZScore))

		if e.Timestamp.Before(ts.FirstSeen) {
			ts.FirstSeen = e.Timestamp
		}

		if e.Timestamp.After(ts.LastSeen) {
			ts.LastSeen = e.Timestamp
		}

		if e.IsFlaky {
			ts.FlakyExecutionCount++
			batch.FlakyExecutions++
		}

		if e.IsFlakyStat {
			batch.StatFlaggedExecutions++
		}

		if e.IsFlakyML != nil && *e.IsFlakyML {
			batch.MLFlaggedExecutions++
		}
	}

	summaries := make([]TestSummary, 0, len(order))

	for _, id := range order {
		ts := byTest[id]
		n := float64(ts.ExecutionCount)
		ts.AvgFailureRate /= n
		ts.AvgEWMAFailureRate /= n
		ts.FlakyFraction = float64(ts.FlakyExecutionCount) / n

		summaries = append(summaries, *ts)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].AvgEWMAFailureRate != summaries[j].AvgEWMAFailureRate {
			return summaries[i].AvgEWMAFailureRate > summaries[j].AvgEWMAFailureRate
		}

		return summaries[i].TestID < summaries[j].TestID
	})

	batch.TotalTests = len(summaries)
	batch.TotalExecutions = len(execs)

	if batch.TotalExecutions > 0 {
		batch.FlakyPercentage = 100 * float64(batch.FlakyExecutions) /
			float64(batch.TotalExecutions)
	}

	return summaries, batch
}
