package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ethpandaops/flakeoor/pkg/detector"
)

// jsonReport is the layout of results.json.
type jsonReport struct {
	Summary       detector.BatchSummary  `json:"summary"`
	Options       detector.Options       `json:"options"`
	Distribution  Distribution           `json:"ewma_distribution"`
	TopFlakyTests []detector.TestSummary `json:"top_flaky_tests"`
	AllResults    []detector.Execution   `json:"all_results"`
}

// WriteJSON writes the summary, the top-N tests and every execution.
func WriteJSON(path string, res *detector.Result, topN int) error {
	report := jsonReport{
		Summary:       res.Summary,
		Options:       res.Options,
		Distribution:  EWMADistribution(res),
		TopFlakyTests: nonNil(res.TopN(topN)),
		AllResults:    res.Executions,
	}

	if report.AllResults == nil {
		report.AllResults = []detector.Execution{}
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}

	return writeFile(path, append(data, '\n'))
}

func nonNil(tests []detector.TestSummary) []detector.TestSummary {
	if tests == nil {
		return []detector.TestSummary{}
	}

	return tests
}

// csvHeader is the column layout of results.csv.
var csvHeader = []string{
	"test_id",
	"execution_id",
	"timestamp",
	"build_number",
	"pass_count",
	"fail_count",
	"total_runs",
	"failure_rate",
	"ewma_failure_rate",
	"z_score",
	"is_flaky_stat",
	"is_flaky_ml",
	"is_flaky",
}

// WriteCSV writes one row per execution. is_flaky_ml is empty when the
// anomaly model was disabled.
func WriteCSV(path string, res *detector.Result) error {
	var buf bytes.Buffer

	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return err
	}

	for _, e := range res.Executions {
		ml := ""
		if e.IsFlakyML != nil {
			ml = strconv.FormatBool(*e.IsFlakyML)
		}

		row := []string{
			e.TestID,
			e.ExecutionID,
			e.Timestamp.UTC().Format(time.RFC3339),
			strconv.Itoa(e.BuildNumber),
			strconv.Itoa(e.PassCount),
			strconv.Itoa(e.FailCount),
			strconv.Itoa(e.TotalRuns),
			formatFloat(e.FailureRate),
			formatFloat(e.EWMAFailureRate),
			formatFloat(e.ZScore),
			strconv.FormatBool(e.IsFlakyStat),
			ml,
			strconv.FormatBool(e.IsFlaky),
		}

		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return err
	}

	return writeFile(path, buf.Bytes())
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
