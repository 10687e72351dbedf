package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/ethpandaops/flakeoor/pkg/detector"
)

const ruleWidth = 70

// Console writes the text report: batch totals followed by the top-N
// flakiest tests.
func Console(w io.Writer, res *detector.Result, topN int) error {
	var sb strings.Builder

	heavy := strings.Repeat("=", ruleWidth)
	light := strings.Repeat("-", ruleWidth)

	fmt.Fprintf(&sb, "\n%s\nFlaky Test Detection Report\n%s\n\n", heavy, heavy)

	s := res.Summary
	fmt.Fprintf(&sb, "Total Tests Analyzed: %d\n", s.TotalTests)
	fmt.Fprintf(&sb, "Total Test Executions: %d\n", s.TotalExecutions)
	fmt.Fprintf(&sb, "Flaky Executions Detected: %d (%.1f%%)\n",
		s.FlakyExecutions, s.FlakyPercentage)

	if !res.Empty() {
		first, last := res.Span()
		fmt.Fprintf(&sb, "History Span: %s (%s to %s)\n",
			units.HumanDuration(last.Sub(first)),
			first.Format("2006-01-02 15:04"), last.Format("2006-01-02 15:04"))

		fmt.Fprintf(&sb, "Flagged By: statistical %d", s.StatFlaggedExecutions)

		if res.Options.UseML {
			fmt.Fprintf(&sb, ", ml %d", s.MLFlaggedExecutions)
		}

		sb.WriteByte('\n')
	}

	top := res.TopN(topN)

	fmt.Fprintf(&sb, "\nTop %d Flakiest Tests:\n%s\n", len(top), light)

	if len(top) == 0 {
		sb.WriteString("(no tests)\n")
	} else {
		tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)

		fmt.Fprintln(tw, "TEST ID\tEXECUTIONS\tAVG FAILURE\tAVG EWMA\tFLAKY\tFLAKY FRACTION")

		for _, t := range top {
			fmt.Fprintf(tw, "%s\t%d\t%.4f\t%.4f\t%d\t%.2f\n",
				t.TestID, t.ExecutionCount, t.AvgFailureRate,
				t.AvgEWMAFailureRate, t.FlakyExecutionCount, t.FlakyFraction)
		}

		if err := tw.Flush(); err != nil {
			return err
		}
	}

	sb.WriteString(heavy)
	sb.WriteByte('\n')

	_, err := io.WriteString(w, sb.String())

	return err
}
