package detector

import "sort"

// ComputeEWMA returns the exponentially weighted moving average of rates:
//
//	EWMA[0] = rates[0]
//	EWMA[t] = alpha*rates[t] + (1-alpha)*EWMA[t-1]
//
// alpha is assumed to be in (0,1); Options.Validate enforces it.
func ComputeEWMA(rates []float64, alpha float64) []float64 {
	out := make([]float64, len(rates))
	if len(rates) == 0 {
		return out
	}

	out[0] = rates[0]

	for t := 1; t < len(rates); t++ {
		out[t] = alpha*rates[t] + (1-alpha)*out[t-1]
	}

	return out
}

// sortExecutions orders the executions of a single test by timestamp, then
// execution id, then build number.
func sortExecutions(execs []Execution) {
	sort.SliceStable(execs, func(i, j int) bool {
		a, b := execs[i], execs[j]

		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}

		if a.ExecutionID != b.ExecutionID {
			return a.ExecutionID < b.ExecutionID
		}

		return a.BuildNumber < b.BuildNumber
	})
}

// applyEWMA sorts one test's executions and fills FailureRate and
// EWMAFailureRate in place.
func applyEWMA(execs []Execution, alpha float64) {
	sortExecutions(execs)

	rates := make([]float64, len(execs))
	for i := range execs {
		execs[i].FailureRate = execs[i].ExecutionRecord.FailureRate()
		rates[i] = execs[i].FailureRate
	}

	for i, v := range ComputeEWMA(rates, alpha) {
		execs[i].EWMAFailureRate = v
	}
}
