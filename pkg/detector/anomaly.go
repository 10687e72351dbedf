package detector

import (
	"fmt"
	"math"
	"strconv"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"
)

// minDistinctFeatures is the smallest number of distinct feature vectors
// the anomaly model is fitted on. Below it every execution is an inlier.
const minDistinctFeatures = 2

// AnomalyScorer fits an unsupervised outlier model on N feature vectors and
// predicts N outlier flags. Implementations must be deterministic for a
// given seed.
type AnomalyScorer interface {
	FitPredict(features [][]float64, contamination float64, seed int64) ([]bool, error)
}

// AnomalyScorerFunc adapts a plain function to AnomalyScorer.
type AnomalyScorerFunc func(features [][]float64, contamination float64, seed int64) ([]bool, error)

// FitPredict calls f.
func (f AnomalyScorerFunc) FitPredict(
	features [][]float64, contamination float64, seed int64,
) ([]bool, error) {
	return f(features, contamination, seed)
}

// buildFeatures returns one (failure_rate, ewma_failure_rate, z_score)
// vector per execution.
func buildFeatures(execs []Execution) [][]float64 {
	features := make([][]float64, len(execs))
	for i, e := range execs {
		features[i] = []float64{e.FailureRate, e.EWMAFailureRate, e.ZScore}
	}

	return features
}

// standardize scales every column to zero mean and unit population
// variance. Constant columns become all zeros.
func standardize(features [][]float64) [][]float64 {
	if len(features) == 0 {
		return features
	}

	width := len(features[0])
	out := make([][]float64, len(features))

	for i := range out {
		out[i] = make([]float64, width)
	}

	column := make([]float64, len(features))

	for c := 0; c < width; c++ {
		for r, row := range features {
			column[r] = row[c]
		}

		mean, err := stats.Mean(column)
		if err != nil {
			continue
		}

		sigma, err := stats.StandardDeviationPopulation(column)
		if err != nil || sigma == 0 || math.IsNaN(sigma) {
			continue
		}

		for r := range features {
			out[r][c] = (column[r] - mean) / sigma
		}
	}

	return out
}

// distinctRows counts distinct feature vectors.
func distinctRows(features [][]float64) int {
	seen := make(map[string]struct{}, len(features))

	for _, row := range features {
		key := ""
		for _, v := range row {
			key += strconv.FormatUint(math.Float64bits(v), 16) + ","
		}

		seen[key] = struct{}{}
	}

	return len(seen)
}

// scoreAnomalies runs the anomaly model over the whole batch. It never
// fails: degenerate batches and scorer errors yield all-false flags.
func scoreAnomalies(
	log logrus.FieldLogger,
	scorer AnomalyScorer,
	execs []Execution,
	opts Options,
) []bool {
	flags := make([]bool, len(execs))

	features := buildFeatures(execs)
	if len(features) < minDistinctFeatures ||
		distinctRows(features) < minDistinctFeatures {
		log.WithField("executions", len(execs)).
			Warn("Insufficient data for anomaly model, treating all executions as inliers")

		return flags
	}

	predicted, err := scorer.FitPredict(
		standardize(features), opts.Contamination, opts.RandomSeed,
	)
	if err == nil && len(predicted) != len(execs) {
		err = fmt.Errorf(
			"anomaly scorer returned %d flags for %d executions",
			len(predicted), len(execs),
		)
	}

	if err != nil {
		log.WithError(err).
			Warn("Anomaly model failed, treating all executions as inliers")

		return flags
	}

	copy(flags, predicted)

	return flags
}
