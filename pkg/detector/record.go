package detector

import (
	"fmt"
	"time"
)

// ExecutionRecord is one recorded run (or run-batch) of a test as handed
// over by the ingestion layer. Records are treated as immutable values.
type ExecutionRecord struct {
	TestID      string    `json:"test_id" mapstructure:"test_id"`
	ExecutionID string    `json:"execution_id" mapstructure:"execution_id"`
	Timestamp   time.Time `json:"timestamp" mapstructure:"timestamp"`
	BuildNumber int       `json:"build_number" mapstructure:"build_number"`
	PassCount   int       `json:"pass_count" mapstructure:"pass_count"`
	FailCount   int       `json:"fail_count" mapstructure:"fail_count"`
	TotalRuns   int       `json:"total_runs" mapstructure:"total_runs"`
}

// FieldError describes a single record field that failed validation.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validate checks the record invariants the engine relies on. The engine
// itself never calls it; ingestion and the API do before handing records over.
func (r *ExecutionRecord) Validate() error {
	switch {
	case r.TestID == "":
		return &FieldError{Field: "test_id", Reason: "is required"}
	case r.ExecutionID == "":
		return &FieldError{Field: "execution_id", Reason: "is required"}
	case r.Timestamp.IsZero():
		return &FieldError{Field: "timestamp", Reason: "is required"}
	case r.BuildNumber < 1:
		return &FieldError{
			Field:  "build_number",
			Reason: fmt.Sprintf("must be >= 1, got %d", r.BuildNumber),
		}
	case r.PassCount < 0:
		return &FieldError{
			Field:  "pass_count",
			Reason: fmt.Sprintf("must be >= 0, got %d", r.PassCount),
		}
	case r.FailCount < 0:
		return &FieldError{
			Field:  "fail_count",
			Reason: fmt.Sprintf("must be >= 0, got %d", r.FailCount),
		}
	case r.TotalRuns <= 0:
		return &FieldError{
			Field:  "total_runs",
			Reason: fmt.Sprintf("must be > 0, got %d", r.TotalRuns),
		}
	case r.PassCount+r.FailCount != r.TotalRuns:
		return &FieldError{
			Field: "total_runs",
			Reason: fmt.Sprintf(
				"pass_count + fail_count must equal total_runs (%d + %d != %d)",
				r.PassCount, r.FailCount, r.TotalRuns,
			),
		}
	}

	return nil
}

// FailureRate returns fail_count / total_runs in [0,1].
func (r *ExecutionRecord) FailureRate() float64 {
	if r.TotalRuns <= 0 {
		return 0
	}

	return float64(r.FailCount) / float64(r.TotalRuns)
}
