package detector

import (
	"errors"
	"fmt"
)

const (
	// DefaultAlpha is the default EWMA smoothing factor.
	DefaultAlpha = 0.3

	// DefaultThreshold is the default absolute Z-score above which an
	// execution is statistically flagged.
	DefaultThreshold = 2.0

	// DefaultContamination is the default expected outlier fraction for the
	// anomaly model.
	DefaultContamination = 0.1

	// DefaultRandomSeed seeds the anomaly model when none is configured.
	DefaultRandomSeed int64 = 42
)

var (
	// ErrInvalidConfiguration is returned when detection options are out of range.
	// No computation runs when it is returned.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrEmptyInput marks a detection pass over zero records. Detect does
	// not return it; callers can check Result.Empty and decide themselves.
	ErrEmptyInput = errors.New("empty input")
)

// Options is the immutable parameter set of a detection pass.
type Options struct {
	// Alpha is the EWMA smoothing factor, in (0,1).
	Alpha float64 `json:"alpha"`
	// Threshold is the absolute Z-score cut-off, > 0.
	Threshold float64 `json:"threshold"`
	// UseML enables the anomaly model stage.
	UseML bool `json:"use_ml"`
	// Contamination is the expected outlier fraction, in (0,1).
	Contamination float64 `json:"contamination"`
	// RandomSeed makes the anomaly model reproducible.
	RandomSeed int64 `json:"random_seed"`
	// Workers bounds per-test EWMA parallelism. 0 means GOMAXPROCS.
	Workers int `json:"workers,omitempty"`
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Alpha:         DefaultAlpha,
		Threshold:     DefaultThreshold,
		UseML:         true,
		Contamination: DefaultContamination,
		RandomSeed:    DefaultRandomSeed,
	}
}

// Validate checks every option range. The returned error wraps
// ErrInvalidConfiguration.
func (o Options) Validate() error {
	// Written as negated range checks so that NaN is rejected too.
	if !(o.Alpha > 0 && o.Alpha < 1) {
		return fmt.Errorf("%w: alpha must be in (0,1), got %v",
			ErrInvalidConfiguration, o.Alpha)
	}

	if !(o.Threshold > 0) {
		return fmt.Errorf("%w: threshold must be > 0, got %v",
			ErrInvalidConfiguration, o.Threshold)
	}

	if !(o.Contamination > 0 && o.Contamination < 1) {
		return fmt.Errorf("%w: contamination must be in (0,1), got %v",
			ErrInvalidConfiguration, o.Contamination)
	}

	if o.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0, got %d",
			ErrInvalidConfiguration, o.Workers)
	}

	return nil
}
