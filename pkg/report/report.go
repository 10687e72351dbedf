// Package report renders detection results as console tables and JSON,
// CSV, Markdown and HTML files.
package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/ethpandaops/flakeoor/pkg/detector"
	"github.com/ethpandaops/flakeoor/pkg/fsutil"
	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"
)

// Output formats.
const (
	FormatConsole  = "console"
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// File names written into the output directory.
const (
	JSONFileName     = "results.json"
	CSVFileName      = "results.csv"
	MarkdownFileName = "summary.md"
	HTMLFileName     = "report.html"
)

// DefaultMarkdownMaxChars caps the markdown summary when no limit is given.
const DefaultMarkdownMaxChars = 60000

// Options controls report contents.
type Options struct {
	// TopN is the number of flakiest tests listed. 0 lists all.
	TopN int
	// MarkdownMaxChars caps the markdown summary. 0 means no cap.
	MarkdownMaxChars int
	// Owner, when set, is applied to the output directory and every
	// written file.
	Owner *fsutil.OwnerConfig
}

// Writer writes reports for detection results.
type Writer struct {
	log     logrus.FieldLogger
	opts    Options
	console io.Writer
}

// NewWriter creates a report writer. Console output goes to console.
func NewWriter(log logrus.FieldLogger, opts Options, console io.Writer) *Writer {
	if console == nil {
		console = os.Stdout
	}

	return &Writer{
		log:     log.WithField("component", "report"),
		opts:    opts,
		console: console,
	}
}

// Write renders res in every requested format. File formats are written
// into dir, which is created if needed. It returns the written file paths.
func (w *Writer) Write(dir string, formats []string, res *detector.Result) ([]string, error) {
	var written []string

	if w.opts.Owner != nil && writesFiles(formats) {
		if err := fsutil.MkdirAll(dir, 0o755, w.opts.Owner); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
	}

	for _, format := range formats {
		var (
			path string
			err  error
		)

		switch format {
		case FormatConsole:
			err = Console(w.console, res, w.opts.TopN)
		case FormatJSON:
			path = filepath.Join(dir, JSONFileName)
			err = WriteJSON(path, res, w.opts.TopN)
		case FormatCSV:
			path = filepath.Join(dir, CSVFileName)
			err = WriteCSV(path, res)
		case FormatMarkdown:
			path = filepath.Join(dir, MarkdownFileName)
			err = writeFile(path, []byte(Markdown(res, w.opts.TopN, w.opts.MarkdownMaxChars)))
		case FormatHTML:
			path = filepath.Join(dir, HTMLFileName)
			err = WriteHTML(path, res, w.opts.TopN)
		default:
			err = fmt.Errorf("unknown report format %q", format)
		}

		if err != nil {
			return written, fmt.Errorf("writing %s report: %w", format, err)
		}

		if path != "" {
			fsutil.Chown(path, w.opts.Owner)

			w.log.WithField("path", path).Info("Wrote report")

			written = append(written, path)
		}
	}

	return written, nil
}

func writesFiles(formats []string) bool {
	for _, format := range formats {
		if format != FormatConsole {
			return true
		}
	}

	return false
}

// writeFile writes data to path, creating parent directories.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}

// Distribution describes the spread of per-test average EWMA failure rates.
type Distribution struct {
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

// EWMADistribution computes percentiles of the per-test average EWMA
// failure rate. An empty result yields zeros.
func EWMADistribution(res *detector.Result) Distribution {
	data := make(stats.Float64Data, 0, len(res.Tests))
	for _, t := range res.Tests {
		data = append(data, t.AvgEWMAFailureRate)
	}

	if len(data) == 0 {
		return Distribution{}
	}

	highest, err := data.Max()
	if err != nil {
		return Distribution{}
	}

	return Distribution{
		P50: percentile(data, 50),
		P90: percentile(data, 90),
		P99: percentile(data, 99),
		Max: highest,
	}
}

func percentile(data stats.Float64Data, p float64) float64 {
	v, err := data.Percentile(p)
	if err != nil || math.IsNaN(v) {
		return 0
	}

	return v
}
