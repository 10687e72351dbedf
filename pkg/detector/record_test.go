package detector

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecord() ExecutionRecord {
	return ExecutionRecord{
		TestID:      "tests/test_api.py::test_login",
		ExecutionID: "exec-1",
		Timestamp:   time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
		BuildNumber: 1,
		PassCount:   8,
		FailCount:   2,
		TotalRuns:   10,
	}
}

func TestExecutionRecord_Validate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(r *ExecutionRecord)
		wantField string
	}{
		{name: "valid", modify: func(*ExecutionRecord) {}},
		{name: "missing test id", modify: func(r *ExecutionRecord) { r.TestID = "" }, wantField: "test_id"},
		{name: "missing execution id", modify: func(r *ExecutionRecord) { r.ExecutionID = "" }, wantField: "execution_id"},
		{name: "missing timestamp", modify: func(r *ExecutionRecord) { r.Timestamp = time.Time{} }, wantField: "timestamp"},
		{name: "build number zero", modify: func(r *ExecutionRecord) { r.BuildNumber = 0 }, wantField: "build_number"},
		{name: "negative pass count", modify: func(r *ExecutionRecord) { r.PassCount = -1 }, wantField: "pass_count"},
		{name: "negative fail count", modify: func(r *ExecutionRecord) { r.FailCount = -1 }, wantField: "fail_count"},
		{
			name:      "zero total runs",
			modify:    func(r *ExecutionRecord) { r.PassCount, r.FailCount, r.TotalRuns = 0, 0, 0 },
			wantField: "total_runs",
		},
		{name: "mismatched total", modify: func(r *ExecutionRecord) { r.TotalRuns = 11 }, wantField: "total_runs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.modify(&r)

			err := r.Validate()
			if tt.wantField == "" {
				require.NoError(t, err)

				return
			}

			var fieldErr *FieldError
			require.True(t, errors.As(err, &fieldErr))
			assert.Equal(t, tt.wantField, fieldErr.Field)
		})
	}
}

func TestExecutionRecord_FailureRate(t *testing.T) {
	r := validRecord()
	assert.InDelta(t, 0.2, r.FailureRate(), 1e-12)

	r.TotalRuns = 0
	assert.Equal(t, 0.0, r.FailureRate())
}
