package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/ethpandaops/flakeoor/pkg/detector"
)

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"pct":    func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) },
	"f4":     func(v float64) string { return fmt.Sprintf("%.4f", v) },
	"f2":     func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"ts":     func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04:05") },
	"method": flagMethod,
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>Flaky Test Detection Report</title>
<style>
body { font-family: Arial, sans-serif; margin: 40px; }
h1 { color: #333; }
.summary { background: #f5f5f5; padding: 20px; border-radius: 5px; }
table { border-collapse: collapse; width: 100%; margin-top: 20px; }
th, td { border: 1px solid #ddd; padding: 8px 12px; text-align: left; }
th { background-color: #4CAF50; color: white; }
tr:nth-child(even) { background-color: #f2f2f2; }
.bar { background: #e57373; height: 10px; }
.legend { list-style: none; padding: 0; }
.legend li { display: inline-block; margin-right: 16px; }
</style>
</head>
<body>
<h1>Flaky Test Detection Report</h1>
<div class="summary">
<h2>Summary</h2>
<p><strong>Total Tests:</strong> {{.Summary.TotalTests}}</p>
<p><strong>Total Executions:</strong> {{.Summary.TotalExecutions}}</p>
<p><strong>Flaky Executions:</strong> {{.Summary.FlakyExecutions}} ({{printf "%.1f" .Summary.FlakyPercentage}}%)</p>
<p><strong>Parameters:</strong> alpha {{.Options.Alpha}}, z threshold {{.Options.Threshold}}{{if .Options.UseML}}, ml contamination {{.Options.Contamination}}{{else}}, ml disabled{{end}}</p>
</div>
<h2>Top Flaky Tests</h2>
<table>
<tr><th>Test</th><th>Executions</th><th>Avg Failure</th><th>Avg EWMA</th><th></th><th>Flaky</th><th>Flaky Fraction</th><th>Last Seen</th></tr>
{{range .Top}}<tr><td>{{.TestID}}</td><td>{{.ExecutionCount}}</td><td>{{f4 .AvgFailureRate}}</td><td>{{f4 .AvgEWMAFailureRate}}</td><td><div class="bar" style="width: {{pct .AvgEWMAFailureRate}}"></div></td><td>{{.FlakyExecutionCount}}</td><td>{{f2 .FlakyFraction}}</td><td>{{ts .LastSeen}}</td></tr>
{{end}}</table>
{{with .Chart}}<h2>EWMA Failure Rate Over Time</h2>
<svg xmlns="http://www.w3.org/2000/svg" width="{{.Width}}" height="{{.Height}}" viewBox="0 0 {{.Width}} {{.Height}}">
<line x1="{{.Left}}" y1="{{.Bottom}}" x2="{{.Right}}" y2="{{.Bottom}}" stroke="#999"/>
<line x1="{{.Left}}" y1="{{.Top}}" x2="{{.Left}}" y2="{{.Bottom}}" stroke="#999"/>
<text x="{{.LabelX}}" y="{{.Top}}" font-size="11" text-anchor="end">100%</text>
<text x="{{.LabelX}}" y="{{.Bottom}}" font-size="11" text-anchor="end">0%</text>
<text x="{{.Left}}" y="{{.Height}}" font-size="11">{{ts .Start}}</text>
<text x="{{.Right}}" y="{{.Height}}" font-size="11" text-anchor="end">{{ts .End}}</text>
{{range .Series}}<polyline fill="none" stroke="{{.Color}}" stroke-width="2" points="{{.Points}}"/>
{{end}}</svg>
<ul class="legend">
{{range .Series}}<li><svg width="12" height="12"><rect width="12" height="12" fill="{{.Color}}"/></svg> {{.TestID}}</li>
{{end}}</ul>
{{end}}<h2>Flaky Executions</h2>
<table>
<tr><th>Test</th><th>Execution</th><th>Build</th><th>Timestamp</th><th>Failure Rate</th><th>EWMA</th><th>Z</th><th>Method</th></tr>
{{range .Flagged}}<tr><td>{{.TestID}}</td><td>{{.ExecutionID}}</td><td>{{.BuildNumber}}</td><td>{{ts .Timestamp}}</td><td>{{f4 .FailureRate}}</td><td>{{f4 .EWMAFailureRate}}</td><td>{{f2 .ZScore}}</td><td>{{method .}}</td></tr>
{{else}}<tr><td colspan="8">No flaky executions detected.</td></tr>
{{end}}</table>
</body>
</html>
`))

type htmlData struct {
	Summary detector.BatchSummary
	Options detector.Options
	Top     []detector.TestSummary
	Chart   *trendChart
	Flagged []detector.Execution
}

const (
	chartWidth  = 800
	chartHeight = 320
	chartLeft   = 50
	chartRight  = 780
	chartTop    = 20
	chartBottom = 280
)

var chartColors = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
}

// trendChart is a static SVG line chart of EWMA failure rate over time,
// one series per test.
type trendChart struct {
	Width, Height int
	Left, Right   int
	Top, Bottom   int
	LabelX        int
	Start, End    time.Time
	Series        []chartSeries
}

type chartSeries struct {
	TestID string
	Color  string
	// Points is the SVG polyline points list.
	Points string
}

// buildTrendChart plots the executions of the given tests. The x axis
// spans the earliest to latest execution of those tests, the y axis 0 to 1.
func buildTrendChart(res *detector.Result, tests []detector.TestSummary) *trendChart {
	if len(tests) == 0 {
		return nil
	}

	var start, end time.Time

	executions := make([][]detector.Execution, len(tests))

	for i, t := range tests {
		executions[i] = res.ExecutionsFor(t.TestID)

		for _, e := range executions[i] {
			if start.IsZero() || e.Timestamp.Before(start) {
				start = e.Timestamp
			}

			if e.Timestamp.After(end) {
				end = e.Timestamp
			}
		}
	}

	chart := &trendChart{
		Width:  chartWidth,
		Height: chartHeight,
		Left:   chartLeft,
		Right:  chartRight,
		Top:    chartTop,
		Bottom: chartBottom,
		LabelX: chartLeft - 6,
		Start:  start,
		End:    end,
		Series: make([]chartSeries, 0, len(tests)),
	}

	span := end.Sub(start)

	for i, t := range tests {
		points := make([]string, 0, len(executions[i]))

		for _, e := range executions[i] {
			x := float64(chartLeft+chartRight) / 2
			if span > 0 {
				x = chartLeft + float64(chartRight-chartLeft)*
					float64(e.Timestamp.Sub(start))/float64(span)
			}

			rate := min(max(e.EWMAFailureRate, 0), 1)
			y := chartTop + (1-rate)*float64(chartBottom-chartTop)

			points = append(points, fmt.Sprintf("%.1f,%.1f", x, y))
		}

		chart.Series = append(chart.Series, chartSeries{
			TestID: t.TestID,
			Color:  chartColors[i%len(chartColors)],
			Points: strings.Join(points, " "),
		})
	}

	return chart
}

// WriteHTML writes a self-contained HTML report.
func WriteHTML(path string, res *detector.Result, topN int) error {
	var buf bytes.Buffer

	top := res.TopN(topN)

	err := htmlTemplate.Execute(&buf, htmlData{
		Summary: res.Summary,
		Options: res.Options,
		Top:     top,
		Chart:   buildTrendChart(res, top),
		Flagged: flaggedExecutions(res),
	})
	if err != nil {
		return fmt.Errorf("rendering html: %w", err)
	}

	return writeFile(path, buf.Bytes())
}
