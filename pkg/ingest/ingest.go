// Package ingest turns CSV, JSON and report-directory sources into validated
// execution records for the detection engine.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethpandaops/flakeoor/pkg/detector"
	"github.com/sirupsen/logrus"
)

// Format names an input format.
type Format string

const (
	// FormatAuto picks the format from the input path.
	FormatAuto Format = "auto"
	// FormatCSV is a headered CSV file with one record per row.
	FormatCSV Format = "csv"
	// FormatJSON is a JSON document holding one or many records.
	FormatJSON Format = "json"
	// FormatPytest is a directory of JSON report files.
	FormatPytest Format = "pytest"
)

// ErrUnsupportedFormat is returned for unknown or undetectable formats.
var ErrUnsupportedFormat = errors.New("unsupported input format")

// IngestionError describes a rejected input row.
type IngestionError struct {
	// Source is the file path or object key the row came from.
	Source string
	// Row is the 1-based position of the row in its source: the line
	// number for CSV, the item number for JSON.
	Row int
	// Field is the offending field, if known. Err already names it.
	Field string
	Err   error
}

func (e *IngestionError) Error() string {
	var b strings.Builder

	b.WriteString(e.Source)

	if e.Row > 0 {
		fmt.Fprintf(&b, ":%d", e.Row)
	}

	b.WriteString(": ")
	b.WriteString(e.Err.Error())

	return b.String()
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// Options configures a Loader.
type Options struct {
	Format Format
	// Strict fails on the first rejected row instead of skipping it.
	Strict bool
}

// Result holds the accepted records and the rows that were skipped.
type Result struct {
	Records []detector.ExecutionRecord
	Skipped []*IngestionError
}

// Loader reads execution records from local files and directories.
type Loader struct {
	log  logrus.FieldLogger
	opts Options
}

// NewLoader creates a new Loader.
func NewLoader(log logrus.FieldLogger, opts Options) *Loader {
	if opts.Format == "" {
		opts.Format = FormatAuto
	}

	return &Loader{
		log:  log.WithField("component", "ingest"),
		opts: opts,
	}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatAuto, nil
	case FormatAuto, FormatCSV, FormatJSON, FormatPytest:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// Load reads records from path. Records come back sorted by test id and
// then timestamp.
func (l *Loader) Load(ctx context.Context, path string) (*Result, error) {
	format, err := detectFormat(path, l.opts.Format)
	if err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"path":   path,
		"format": format,
	}).Info("Loading execution records")

	res := &Result{}

	if format == FormatPytest {
		if err := l.loadDirectory(ctx, path, res); err != nil {
			return nil, err
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading input %s: %w", path, err)
		}

		if err := l.parse(ctx, path, format, data, res); err != nil {
			return nil, err
		}
	}

	return l.finish(res), nil
}

// Parse decodes records held in memory. FormatAuto and FormatPytest are
// resolved by sniffing the content.
func (l *Loader) Parse(
	ctx context.Context, source string, format Format, data []byte,
) (*Result, error) {
	if format == FormatAuto || format == FormatPytest || format == "" {
		format = sniff(source, data)
	}

	res := &Result{}

	if err := l.parse(ctx, source, format, data, res); err != nil {
		return nil, err
	}

	return l.finish(res), nil
}

func (l *Loader) parse(
	ctx context.Context, source string, format Format, data []byte, res *Result,
) error {
	switch format {
	case FormatCSV:
		return l.parseCSV(ctx, source, data, res)
	case FormatJSON:
		return l.parseJSON(ctx, source, data, res)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// reject records a bad row. In strict mode the row error is returned.
func (l *Loader) reject(res *Result, ierr *IngestionError) error {
	if l.opts.Strict {
		return ierr
	}

	l.log.WithError(ierr).Warn("Skipping invalid record")

	res.Skipped = append(res.Skipped, ierr)

	return nil
}

// accept validates rec and appends it, or rejects it.
func (l *Loader) accept(
	res *Result, source string, row int, rec detector.ExecutionRecord,
) error {
	if err := rec.Validate(); err != nil {
		ierr := &IngestionError{Source: source, Row: row, Err: err}

		var fe *detector.FieldError
		if errors.As(err, &fe) {
			ierr.Field = fe.Field
		}

		return l.reject(res, ierr)
	}

	res.Records = append(res.Records, rec)

	return nil
}

func (l *Loader) finish(res *Result) *Result {
	sort.SliceStable(res.Records, func(i, j int) bool {
		a, b := res.Records[i], res.Records[j]
		if a.TestID != b.TestID {
			return a.TestID < b.TestID
		}

		return a.Timestamp.Before(b.Timestamp)
	})

	l.log.WithFields(logrus.Fields{
		"records": len(res.Records),
		"skipped": len(res.Skipped),
	}).Info("Loaded execution records")

	return res
}

// detectFormat resolves FormatAuto from the path: a directory is a report
// directory, otherwise the extension decides and the first byte breaks
// the tie.
func detectFormat(path string, format Format) (Format, error) {
	if format != FormatAuto && format != "" {
		return format, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("reading input %s: %w", path, err)
	}

	if info.IsDir() {
		return FormatPytest, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening input %s: %w", path, err)
	}

	defer func() { _ = f.Close() }()

	head, _ := bufio.NewReader(f).Peek(512)

	return sniff(path, head), nil
}

// sniff guesses the format of data from its extension or first
// non-blank byte. CSV is the fallback.
func sniff(source string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".csv":
		return FormatCSV
	case ".json":
		return FormatJSON
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}

	return FormatCSV
}
