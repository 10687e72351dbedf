package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/flakeoor/pkg/detector"
	"github.com/ethpandaops/flakeoor/pkg/fsutil"
)

var baseTime = time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)

func boolPtr(b bool) *bool {
	return &b
}

func execution(testID, execID string, hour int, fails int, ewma, z float64, stat bool, ml *bool) detector.Execution {
	e := detector.Execution{
		ExecutionRecord: detector.ExecutionRecord{
			TestID:      testID,
			ExecutionID: execID,
			Timestamp:   baseTime.Add(time.Duration(hour) * time.Hour),
			BuildNumber: hour + 1,
			PassCount:   10 - fails,
			FailCount:   fails,
			TotalRuns:   10,
		},
		FailureRate:     float64(fails) / 10,
		EWMAFailureRate: ewma,
		ZScore:          z,
		IsFlakyStat:     stat,
		IsFlakyML:       ml,
	}

	e.IsFlaky = stat || (ml != nil && *ml)

	return e
}

func fixtureResult() *detector.Result {
	opts := detector.DefaultOptions()

	return &detector.Result{
		Options: opts,
		Summary: detector.BatchSummary{
			TotalTests:            2,
			TotalExecutions:       4,
			FlakyExecutions:       2,
			FlakyPercentage:       50,
			StatFlaggedExecutions: 1,
			MLFlaggedExecutions:   2,
		},
		Tests: []detector.TestSummary{
			{
				TestID: "test_checkout", ExecutionCount: 2, AvgFailureRate: 0.45,
				AvgEWMAFailureRate: 0.4, FlakyExecutionCount: 2, FlakyFraction: 1,
				MaxAbsZScore: 2.5, FirstSeen: baseTime, LastSeen: baseTime.Add(time.Hour),
			},
			{
				TestID: "test_<login>", ExecutionCount: 2, AvgFailureRate: 0,
				AvgEWMAFailureRate: 0, FlakyExecutionCount: 0, FlakyFraction: 0,
				MaxAbsZScore: 1, FirstSeen: baseTime, LastSeen: baseTime.Add(48 * time.Hour),
			},
		},
		Executions: []detector.Execution{
			execution("test_<login>", "l-1", 0, 0, 0, -1, false, boolPtr(false)),
			execution("test_<login>", "l-2", 48, 0, 0, -1, false, boolPtr(false)),
			execution("test_checkout", "c-1", 0, 4, 0.4, 0.5, false, boolPtr(true)),
			execution("test_checkout", "c-2", 1, 5, 0.43, 2.5, true, boolPtr(true)),
		},
	}
}

func emptyResult() *detector.Result {
	return &detector.Result{Options: detector.DefaultOptions()}
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, Console(&buf, fixtureResult(), 5))

	out := buf.String()
	assert.Contains(t, out, "Flaky Test Detection Report")
	assert.Contains(t, out, "Total Tests Analyzed: 2")
	assert.Contains(t, out, "Total Test Executions: 4")
	assert.Contains(t, out, "Flaky Executions Detected: 2 (50.0%)")
	assert.Contains(t, out, "History Span: 2 days")
	assert.Contains(t, out, "Flagged By: statistical 1, ml 2")
	assert.Contains(t, out, "Top 2 Flakiest Tests:")
	assert.Less(t, strings.Index(out, "test_checkout"), strings.Index(out, "test_<login>"))
}

func TestConsole_TopNAndEmpty(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, Console(&buf, fixtureResult(), 1))
	assert.Contains(t, buf.String(), "Top 1 Flakiest Tests:")
	assert.NotContains(t, buf.String(), "test_<login>")

	buf.Reset()

	require.NoError(t, Console(&buf, emptyResult(), 5))
	assert.Contains(t, buf.String(), "Flaky Executions Detected: 0 (0.0%)")
	assert.Contains(t, buf.String(), "(no tests)")
	assert.NotContains(t, buf.String(), "History Span")
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", JSONFileName)

	require.NoError(t, WriteJSON(path, fixtureResult(), 1))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	summary := doc["summary"].(map[string]any)
	assert.Equal(t, float64(2), summary["flaky_executions"])
	assert.Equal(t, float64(50), summary["flaky_percentage"])

	top := doc["top_flaky_tests"].([]any)
	require.Len(t, top, 1)
	assert.Equal(t, "test_checkout", top[0].(map[string]any)["test_id"])

	all := doc["all_results"].([]any)
	require.Len(t, all, 4)
	assert.Equal(t, true, all[3].(map[string]any)["is_flaky_ml"])

	dist := doc["ewma_distribution"].(map[string]any)
	assert.Equal(t, 0.4, dist["max"])
}

func TestWriteJSON_EmptyAndNoML(t *testing.T) {
	path := filepath.Join(t.TempDir(), JSONFileName)

	res := fixtureResult()
	res.Options.UseML = false

	for i := range res.Executions {
		res.Executions[i].IsFlakyML = nil
	}

	require.NoError(t, WriteJSON(path, res, 5))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "is_flaky_ml")

	require.NoError(t, WriteJSON(path, emptyResult(), 5))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"all_results": []`)
	assert.Contains(t, string(data), `"top_flaky_tests": []`)
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), CSVFileName)

	res := fixtureResult()
	res.Executions[0].IsFlakyML = nil

	require.NoError(t, WriteCSV(path, res))

	f, err := os.Open(path)
	require.NoError(t, err)

	defer func() { _ = f.Close() }()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)

	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{
		"test_checkout", "c-2", "2025-01-15T09:00:00Z", "2", "5", "5", "10",
		"0.5", "0.43", "2.5", "true", "true", "true",
	}, rows[4])
	assert.Equal(t, "", rows[1][11])
}

func TestMarkdown(t *testing.T) {
	md := Markdown(fixtureResult(), 5, 0)

	assert.True(t, strings.HasPrefix(md, "# Flaky Test Detection\n"))
	assert.Contains(t, md, "| Flaky Executions | 2 (50.0%) |")
	assert.Contains(t, md, "| ML Flagged | 2 |")
	assert.Contains(t, md, "| Span | 2 days |")
	assert.Contains(t, md, "## Top 2 Flakiest Tests")
	assert.Contains(t, md, "| `test_checkout` | c-1 | 1 | 0.4000 | 0.4000 | 0.50 | ml |")
	assert.Contains(t, md, "| `test_checkout` | c-2 | 2 | 0.5000 | 0.4300 | 2.50 | stat+ml |")
}

func TestMarkdown_CharLimit(t *testing.T) {
	full := Markdown(fixtureResult(), 5, 0)
	idx := strings.Index(full, "## Flaky Executions")
	require.Positive(t, idx)

	// Room for the table header but not for any row.
	limited := Markdown(fixtureResult(), 5, idx+150)

	assert.Contains(t, limited, "*2 more flaky execution(s) not shown (output truncated at")
	assert.NotContains(t, limited, "| c-1 |")
}

func TestWriteHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), HTMLFileName)

	require.NoError(t, WriteHTML(path, fixtureResult(), 5))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	html := string(data)
	assert.Contains(t, html, "<title>Flaky Test Detection Report</title>")
	assert.Contains(t, html, "test_&lt;login&gt;")
	assert.NotContains(t, html, "test_<login>")
	assert.Contains(t, html, "<td>stat&#43;ml</td>")
	assert.NotContains(t, html, "<td>stat+ml</td>")

	require.NoError(t, WriteHTML(path, emptyResult(), 5))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "No flaky executions detected.")
	assert.NotContains(t, string(data), "<polyline")
}

func TestWriteHTML_TrendChart(t *testing.T) {
	tests := []struct {
		name   string
		topN   int
		points []string
	}{
		{
			name: "all tests share the time axis",
			topN: 5,
			points: []string{
				`points="50.0,176.0 65.2,168.2"`,
				`points="50.0,280.0 780.0,280.0"`,
			},
		},
		{
			name: "top test only",
			topN: 1,
			points: []string{
				`points="50.0,176.0 780.0,168.2"`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), HTMLFileName)

			require.NoError(t, WriteHTML(path, fixtureResult(), tt.topN))

			data, err := os.ReadFile(path)
			require.NoError(t, err)

			html := string(data)
			assert.Contains(t, html, "EWMA Failure Rate Over Time")
			assert.Equal(t, len(tt.points), strings.Count(html, "<polyline"))

			for _, points := range tt.points {
				assert.Contains(t, html, points)
			}
		})
	}
}

func TestBuildTrendChart_SingleTimestamp(t *testing.T) {
	res := fixtureResult()
	res.Executions = res.Executions[:1]

	chart := buildTrendChart(res, res.TopN(0)[1:])
	require.NotNil(t, chart)
	require.Len(t, chart.Series, 1)
	assert.Equal(t, "test_<login>", chart.Series[0].TestID)
	assert.Equal(t, "415.0,280.0", chart.Series[0].Points)

	assert.Nil(t, buildTrendChart(res, nil))
}

func TestWriter_Write(t *testing.T) {
	dir := t.TempDir()

	var console bytes.Buffer

	w := NewWriter(logrus.New(), Options{TopN: 5}, &console)

	written, err := w.Write(dir, []string{
		FormatConsole, FormatJSON, FormatCSV, FormatMarkdown, FormatHTML,
	}, fixtureResult())
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, JSONFileName),
		filepath.Join(dir, CSVFileName),
		filepath.Join(dir, MarkdownFileName),
		filepath.Join(dir, HTMLFileName),
	}, written)

	for _, path := range written {
		assert.FileExists(t, path)
	}

	assert.Contains(t, console.String(), "Flaky Test Detection Report")

	_, err = w.Write(dir, []string{"pdf"}, fixtureResult())
	require.ErrorContains(t, err, "unknown report format")
}

func TestWriter_WriteWithOwner(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	owner := &fsutil.OwnerConfig{UID: os.Getuid(), GID: os.Getgid()}

	w := NewWriter(logrus.New(), Options{TopN: 5, Owner: owner}, &bytes.Buffer{})

	written, err := w.Write(dir, []string{FormatJSON}, fixtureResult())
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.FileExists(t, written[0])

	// Console only never creates the directory.
	other := filepath.Join(t.TempDir(), "unused")

	_, err = w.Write(other, []string{FormatConsole}, fixtureResult())
	require.NoError(t, err)
	assert.NoDirExists(t, other)
}

func TestEWMADistribution(t *testing.T) {
	assert.Equal(t, Distribution{}, EWMADistribution(emptyResult()))

	res := &detector.Result{}
	for _, v := range []float64{0.1, 0.2, 0.3, 0.4} {
		res.Tests = append(res.Tests, detector.TestSummary{AvgEWMAFailureRate: v})
	}

	d := EWMADistribution(res)
	assert.InDelta(t, 0.2, d.P50, 1e-12)
	assert.InDelta(t, 0.4, d.Max, 1e-12)
	assert.GreaterOrEqual(t, d.P90, d.P50)
	assert.GreaterOrEqual(t, d.Max, d.P99)
}
