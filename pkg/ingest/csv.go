package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// requiredColumns must all be present in a CSV header.
var requiredColumns = []string{
	"test_id",
	"execution_id",
	"timestamp",
	"build_number",
	"pass_count",
	"fail_count",
	"total_runs",
}

// parseCSV reads a headered CSV document. Columns may appear in any order
// and extra columns are ignored.
func (l *Loader) parseCSV(
	ctx context.Context, source string, data []byte, res *Result,
) error {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\ufeff"))))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}

		return fmt.Errorf("reading csv header of %s: %w", source, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}

	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return &IngestionError{
				Source: source,
				Row:    1,
				Field:  name,
				Err:    fmt.Errorf("missing column %q", name),
			}
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			var line int

			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line = perr.Line
			}

			if rerr := l.reject(res, &IngestionError{Source: source, Row: line, Err: err}); rerr != nil {
				return rerr
			}

			continue
		}

		if isBlank(row) {
			continue
		}

		line, _ := r.FieldPos(0)

		item := make(map[string]any, len(requiredColumns))

		for _, name := range requiredColumns {
			if idx := columns[name]; idx < len(row) {
				if v := strings.TrimSpace(row[idx]); v != "" {
					item[name] = v
				}
			}
		}

		rec, err := decodeRecord(item)
		if err != nil {
			if rerr := l.reject(res, decodeError(source, line, err)); rerr != nil {
				return rerr
			}

			continue
		}

		if err := l.accept(res, source, line, rec); err != nil {
			return err
		}
	}
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}

	return true
}
