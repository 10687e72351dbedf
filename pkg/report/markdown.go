package report

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"github.com/ethpandaops/flakeoor/pkg/detector"
)

// Markdown renders a summary suitable for CI job summaries and PR
// comments. The output is capped at maxChars characters; the flagged
// executions table is cut first.
func Markdown(res *detector.Result, topN, maxChars int) string {
	var sb strings.Builder

	sb.Grow(4096)

	sb.WriteString("# Flaky Test Detection\n\n")
	writeMarkdownOverview(&sb, res)
	writeMarkdownOptions(&sb, res.Options)
	writeMarkdownTopTests(&sb, res.TopN(topN))

	// Flagged executions go last, they get truncated if needed.
	writeMarkdownFlagged(&sb, flaggedExecutions(res), maxChars)

	return sb.String()
}

func writeMarkdownOverview(sb *strings.Builder, res *detector.Result) {
	s := res.Summary

	sb.WriteString("## Overview\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|---|---|\n")
	fmt.Fprintf(sb, "| Tests | %d |\n", s.TotalTests)
	fmt.Fprintf(sb, "| Executions | %d |\n", s.TotalExecutions)
	fmt.Fprintf(sb, "| Flaky Executions | %d (%.1f%%) |\n",
		s.FlakyExecutions, s.FlakyPercentage)
	fmt.Fprintf(sb, "| Statistically Flagged | %d |\n", s.StatFlaggedExecutions)

	if res.Options.UseML {
		fmt.Fprintf(sb, "| ML Flagged | %d |\n", s.MLFlaggedExecutions)
	}

	if !res.Empty() {
		first, last := res.Span()
		fmt.Fprintf(sb, "| First Execution | %s |\n",
			first.UTC().Format("2006-01-02 15:04:05 UTC"))
		fmt.Fprintf(sb, "| Last Execution | %s |\n",
			last.UTC().Format("2006-01-02 15:04:05 UTC"))
		fmt.Fprintf(sb, "| Span | %s |\n", units.HumanDuration(last.Sub(first)))

		d := EWMADistribution(res)
		fmt.Fprintf(sb, "| Avg EWMA p50 / p90 / max | %.4f / %.4f / %.4f |\n",
			d.P50, d.P90, d.Max)
	}

	sb.WriteByte('\n')
}

func writeMarkdownOptions(sb *strings.Builder, opts detector.Options) {
	sb.WriteString("## Parameters\n\n")
	sb.WriteString("| Alpha | Z Threshold | ML | Contamination | Seed |\n")
	sb.WriteString("|---|---|---|---|---|\n")

	ml := "disabled"
	if opts.UseML {
		ml = "enabled"
	}

	fmt.Fprintf(sb, "| %g | %g | %s | %g | %d |\n\n",
		opts.Alpha, opts.Threshold, ml, opts.Contamination, opts.RandomSeed)
}

func writeMarkdownTopTests(sb *strings.Builder, tests []detector.TestSummary) {
	if len(tests) == 0 {
		return
	}

	fmt.Fprintf(sb, "## Top %d Flakiest Tests\n\n", len(tests))
	sb.WriteString("| Test | Executions | Avg Failure | Avg EWMA " +
		"| Max \\|z\\| | Flaky | Flaky Fraction |\n")
	sb.WriteString("|---|---|---|---|---|---|---|\n")

	for _, t := range tests {
		fmt.Fprintf(sb, "| `%s` | %d | %.4f | %.4f | %.2f | %d | %.2f |\n",
			t.TestID, t.ExecutionCount, t.AvgFailureRate, t.AvgEWMAFailureRate,
			t.MaxAbsZScore, t.FlakyExecutionCount, t.FlakyFraction)
	}

	sb.WriteByte('\n')
}

func flaggedExecutions(res *detector.Result) []detector.Execution {
	var out []detector.Execution

	for _, e := range res.Executions {
		if e.IsFlaky {
			out = append(out, e)
		}
	}

	return out
}

func writeMarkdownFlagged(
	sb *strings.Builder,
	flagged []detector.Execution,
	maxChars int,
) {
	if len(flagged) == 0 {
		return
	}

	sb.WriteString("## Flaky Executions\n\n")
	sb.WriteString("| Test | Execution | Build | Failure Rate | EWMA | Z | Method |\n")
	sb.WriteString("|---|---|---|---|---|---|---|\n")

	// Reserve space for the truncation message.
	const reserveChars = 100

	for i, e := range flagged {
		row := fmt.Sprintf("| `%s` | %s | %d | %.4f | %.4f | %.2f | %s |\n",
			e.TestID, e.ExecutionID, e.BuildNumber, e.FailureRate,
			e.EWMAFailureRate, e.ZScore, flagMethod(e))

		if maxChars > 0 && sb.Len()+len(row)+reserveChars > maxChars {
			remaining := len(flagged) - i
			fmt.Fprintf(sb,
				"\n*%d more flaky execution(s) not shown "+
					"(output truncated at %d chars)*\n",
				remaining, maxChars)

			return
		}

		sb.WriteString(row)
	}
}

// flagMethod names the stages that flagged e.
func flagMethod(e detector.Execution) string {
	ml := e.IsFlakyML != nil && *e.IsFlakyML

	switch {
	case e.IsFlakyStat && ml:
		return "stat+ml"
	case e.IsFlakyStat:
		return "stat"
	case ml:
		return "ml"
	default:
		return "-"
	}
}
