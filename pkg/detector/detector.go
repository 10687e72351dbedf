package detector

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/ethpandaops/flakeoor/pkg/isoforest"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Detector runs the flakiness detection pipeline:
//
//	records -> EWMA -> Z-score -> (anomaly model) -> combine -> summary
//
// A Detector holds no mutable state and is safe for concurrent use.
type Detector struct {
	log    logrus.FieldLogger
	opts   Options
	scorer AnomalyScorer
}

// New validates opts and returns a Detector. A nil scorer selects the
// default isolation forest.
func New(log logrus.FieldLogger, opts Options, scorer AnomalyScorer) (*Detector, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if scorer == nil {
		scorer = isoforest.New()
	}

	return &Detector{
		log:    log.WithField("component", "detector"),
		opts:   opts,
		scorer: scorer,
	}, nil
}

// Options returns the options the detector was built with.
func (d *Detector) Options() Options {
	return d.opts
}

// Detect runs one detection pass over records. Records are assumed valid
// (see ExecutionRecord.Validate). Zero records produce an empty result, not
// an error. The only error returned is the context error when ctx is
// cancelled during the per-test stage.
func (d *Detector) Detect(ctx context.Context, records []ExecutionRecord) (*Result, error) {
	log := d.log.WithFields(logrus.Fields{
		"records":   len(records),
		"alpha":     d.opts.Alpha,
		"threshold": d.opts.Threshold,
		"use_ml":    d.opts.UseML,
	})

	if len(records) == 0 {
		log.Warn("No execution records supplied, returning empty result")

		return newEmptyResult(d.opts), nil
	}

	log.Info("Running flakiness detection")

	groups := groupByTest(records)

	if err := d.computeEWMA(ctx, groups); err != nil {
		return nil, err
	}

	execs := make([]Execution, 0, len(records))
	for _, g := range groups {
		execs = append(execs, g...)
	}

	ewma := make([]float64, len(execs))
	for i := range execs {
		ewma[i] = execs[i].EWMAFailureRate
	}

	scores := ZScores(ewma)
	statFlags := FlagStatistical(scores, d.opts.Threshold)

	for i := range execs {
		execs[i].ZScore = scores[i]
		execs[i].IsFlakyStat = statFlags[i]
	}

	if d.opts.UseML {
		d.log.WithField("contamination", d.opts.Contamination).
			Debug("Fitting anomaly model")

		mlFlags := scoreAnomalies(d.log, d.scorer, execs, d.opts)
		for i := range execs {
			flag := mlFlags[i]
			execs[i].IsFlakyML = &flag
		}
	}

	Combine(execs)

	tests, summary := Summarize(execs)

	log.WithFields(logrus.Fields{
		"tests":        summary.TotalTests,
		"stat_flagged": summary.StatFlaggedExecutions,
		"ml_flagged":   summary.MLFlaggedExecutions,
		"flaky":        summary.FlakyExecutions,
	}).Info("Flakiness detection complete")

	return &Result{
		Options:    d.opts,
		Summary:    summary,
		Tests:      tests,
		Executions: execs,
	}, nil
}

// computeEWMA fills the EWMA series of every test group. Groups are
// independent and processed in parallel; the call returns once all are done.
func (d *Detector) computeEWMA(ctx context.Context, groups [][]Execution) error {
	workers := d.opts.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, group := range groups {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}

			applyEWMA(group, d.opts.Alpha)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("computing ewma: %w", err)
	}

	return nil
}

// groupByTest splits records into per-test execution slices ordered by
// test id.
func groupByTest(records []ExecutionRecord) [][]Execution {
	index := make(map[string]int, 64)
	groups := make([][]Execution, 0, 64)
	ids := make([]string, 0, 64)

	for _, r := range records {
		i, ok := index[r.TestID]
		if !ok {
			i = len(groups)
			index[r.TestID] = i
			groups = append(groups, nil)
			ids = append(ids, r.TestID)
		}

		groups[i] = append(groups[i], Execution{ExecutionRecord: r})
	}

	sort.Sort(byTestID{ids: ids, groups: groups})

	return groups
}

// byTestID sorts groups and their ids together.
type byTestID struct {
	ids    []string
	groups [][]Execution
}

func (b byTestID) Len() int           { return len(b.ids) }
func (b byTestID) Less(i, j int) bool { return b.ids[i] < b.ids[j] }
func (b byTestID) Swap(i, j int) {
	b.ids[i], b.ids[j] = b.ids[j], b.ids[i]
	b.groups[i], b.groups[j] = b.groups[j], b.groups[i]
}
