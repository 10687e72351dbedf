package detector

import (
	"math"

	"github.com/montanaflynn/stats"
)

// degenerateSigma is the relative spread below which a batch is treated as
// having zero standard deviation. Summing identical non-representable
// values (0.3, 0.7, ...) leaves a rounding residue in the mean, and dividing
// by the resulting ~1e-17 sigma would turn noise into large Z-scores.
const degenerateSigma = 1e-12

// ZScores returns (v - mean) / sigma for every value, where mean and sigma
// are the mean and population standard deviation of values. When sigma is
// zero every score is 0.
func ZScores(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) < 2 || allEqual(values) {
		return out
	}

	mean, err := stats.Mean(values)
	if err != nil {
		return out
	}

	sigma, err := stats.StandardDeviationPopulation(values)
	if err != nil || math.IsNaN(sigma) ||
		sigma <= degenerateSigma*math.Max(1, math.Abs(mean)) {
		return out
	}

	for i, v := range values {
		out[i] = (v - mean) / sigma
	}

	return out
}

// FlagStatistical reports |z| > threshold for every score.
func FlagStatistical(scores []float64, threshold float64) []bool {
	out := make([]bool, len(scores))
	for i, z := range scores {
		out[i] = math.Abs(z) > threshold
	}

	return out
}

func allEqual(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}

	return true
}
