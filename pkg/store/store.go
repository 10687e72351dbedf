// Package store persists detection results so flakiness can be tracked
// across runs.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/flakeoor/pkg/config"
	"github.com/ethpandaops/flakeoor/pkg/detector"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

// Store provides persistence for detection history.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// SaveRun stores the batch summary and every per-test summary of res.
	SaveRun(ctx context.Context, source string, res *detector.Result) (*DetectionRun, error)
	// ListRuns returns the most recent runs first. limit <= 0 returns all.
	ListRuns(ctx context.Context, limit int) ([]DetectionRun, error)
	GetRun(ctx context.Context, id uint) (*DetectionRun, error)
	// ListTestSummaries returns the summaries of a run, flakiest first.
	ListTestSummaries(ctx context.Context, runID uint) ([]TestSummaryRow, error)
	// ListTestHistory returns a test's summaries across runs, newest first.
	ListTestHistory(ctx context.Context, testID string, limit int) ([]TestSummaryRow, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dialector = postgres.Open(s.cfg.Postgres.DSN())
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if s.cfg.Driver == "sqlite" {
		// Every sqlite connection to ":memory:" is a separate database.
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&DetectionRun{},
		&TestSummaryRow{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// SaveRun inserts the run and its test summaries in a single transaction.
func (s *store) SaveRun(
	ctx context.Context, source string, res *detector.Result,
) (*DetectionRun, error) {
	run := &DetectionRun{
		Source:                source,
		Alpha:                 res.Options.Alpha,
		Threshold:             res.Options.Threshold,
		UseML:                 res.Options.UseML,
		Contamination:         res.Options.Contamination,
		RandomSeed:            res.Options.RandomSeed,
		TotalTests:            res.Summary.TotalTests,
		TotalExecutions:       res.Summary.TotalExecutions,
		FlakyExecutions:       res.Summary.FlakyExecutions,
		FlakyPercentage:       res.Summary.FlakyPercentage,
		StatFlaggedExecutions: res.Summary.StatFlaggedExecutions,
		MLFlaggedExecutions:   res.Summary.MLFlaggedExecutions,
	}

	if !res.Empty() {
		first, last := res.Span()
		run.FirstExecution = &first
		run.LastExecution = &last
	}

	const batchSize = 100

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("inserting run: %w", err)
		}

		if len(res.Tests) == 0 {
			return nil
		}

		rows := make([]*TestSummaryRow, 0, len(res.Tests))

		for i, t := range res.Tests {
			rows = append(rows, &TestSummaryRow{
				RunID:               run.ID,
				TestID:              t.TestID,
				Position:            i + 1,
				ExecutionCount:      t.ExecutionCount,
				AvgFailureRate:      t.AvgFailureRate,
				AvgEWMAFailureRate:  t.AvgEWMAFailureRate,
				FlakyExecutionCount: t.FlakyExecutionCount,
				FlakyFraction:       t.FlakyFraction,
				MaxAbsZScore:        t.MaxAbsZScore,
				FirstSeen:           t.FirstSeen,
				LastSeen:            t.LastSeen,
			})
		}

		if err := tx.CreateInBatches(rows, batchSize).Error; err != nil {
			return fmt.Errorf("inserting test summaries: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"run_id": run.ID,
		"tests":  len(res.Tests),
	}).Debug("Saved detection run")

	return run, nil
}

// ListRuns returns runs ordered newest first.
func (s *store) ListRuns(ctx context.Context, limit int) ([]DetectionRun, error) {
	var runs []DetectionRun

	q := s.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// GetRun returns a single run by id.
func (s *store) GetRun(ctx context.Context, id uint) (*DetectionRun, error) {
	var run DetectionRun
	if err := s.db.WithContext(ctx).First(&run, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
		}

		return nil, fmt.Errorf("getting run: %w", err)
	}

	return &run, nil
}

// ListTestSummaries returns the summaries of a run in position order.
func (s *store) ListTestSummaries(
	ctx context.Context, runID uint,
) ([]TestSummaryRow, error) {
	var rows []TestSummaryRow
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing test summaries: %w", err)
	}

	return rows, nil
}

// ListTestHistory returns the summaries of one test across runs.
func (s *store) ListTestHistory(
	ctx context.Context, testID string, limit int,
) ([]TestSummaryRow, error) {
	var rows []TestSummaryRow

	q := s.db.WithContext(ctx).
		Where("test_id = ?", testID).
		Order("run_id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing test history: %w", err)
	}

	return rows, nil
}
