package store

import (
	"time"
)

// DetectionRun is one persisted detection pass: its parameters and the
// batch summary.
type DetectionRun struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Source string `gorm:"index" json:"source"`

	Alpha         float64 `gorm:"not null" json:"alpha"`
	Threshold     float64 `gorm:"not null" json:"threshold"`
	UseML         bool    `gorm:"not null" json:"use_ml"`
	Contamination float64 `gorm:"not null" json:"contamination"`
	RandomSeed    int64   `gorm:"not null" json:"random_seed"`

	TotalTests            int     `gorm:"not null" json:"total_tests"`
	TotalExecutions       int     `gorm:"not null" json:"total_executions"`
	FlakyExecutions       int     `gorm:"not null" json:"flaky_executions"`
	FlakyPercentage       float64 `gorm:"not null" json:"flaky_percentage"`
	StatFlaggedExecutions int     `gorm:"not null" json:"stat_flagged_executions"`
	MLFlaggedExecutions   int     `gorm:"not null" json:"ml_flagged_executions"`

	FirstExecution *time.Time `json:"first_execution,omitempty"`
	LastExecution  *time.Time `json:"last_execution,omitempty"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
}

// TestSummaryRow is the per-test summary of one detection run.
type TestSummaryRow struct {
	ID                  uint      `gorm:"primaryKey" json:"-"`
	RunID               uint      `gorm:"index;not null" json:"run_id"`
	TestID              string    `gorm:"index;not null" json:"test_id"`
	Position            int       `gorm:"not null" json:"position"`
	ExecutionCount      int       `gorm:"not null" json:"execution_count"`
	AvgFailureRate      float64   `gorm:"not null" json:"avg_failure_rate"`
	AvgEWMAFailureRate  float64   `gorm:"not null" json:"avg_ewma_failure_rate"`
	FlakyExecutionCount int       `gorm:"not null" json:"flaky_execution_count"`
	FlakyFraction       float64   `gorm:"not null" json:"flaky_fraction"`
	MaxAbsZScore        float64   `gorm:"not null" json:"max_abs_z_score"`
	FirstSeen           time.Time `json:"first_seen"`
	LastSeen            time.Time `json:"last_seen"`
	CreatedAt           time.Time `json:"created_at"`
}

// TableName overrides the default table name.
func (TestSummaryRow) TableName() string {
	return "test_summaries"
}
