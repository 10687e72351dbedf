package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// parseJSON reads a JSON document in any of the shapes accepted by
// extractItems.
func (l *Loader) parseJSON(
	ctx context.Context, source string, data []byte, res *Result,
) error {
	items, err := extractItems(data)
	if err != nil {
		return fmt.Errorf("parsing json %s: %w", source, err)
	}

	return l.decodeItems(ctx, source, items, res)
}

// extractItems accepts a bare array, an object wrapping an array under
// "test_runs" or "results", or a single record object.
func extractItems(data []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	switch v := doc.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, key := range []string{"test_runs", "results"} {
			if inner, ok := v[key]; ok {
				items, ok := inner.([]any)
				if !ok {
					return nil, fmt.Errorf("%q must be an array, got %T", key, inner)
				}

				return items, nil
			}
		}

		return []any{v}, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("expected an array or object, got %T", doc)
	}
}

func (l *Loader) decodeItems(
	ctx context.Context, source string, items []any, res *Result,
) error {
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := decodeRecord(item)
		if err != nil {
			if rerr := l.reject(res, decodeError(source, i+1, err)); rerr != nil {
				return rerr
			}

			continue
		}

		if err := l.accept(res, source, i+1, rec); err != nil {
			return err
		}
	}

	return nil
}

// loadDirectory reads every *.json report in dir, in name order. In
// lenient mode unreadable files are skipped with a warning.
func (l *Loader) loadDirectory(ctx context.Context, dir string, res *Result) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading report directory %s: %w", dir, err)
	}

	files := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}

		files = append(files, filepath.Join(dir, entry.Name()))
	}

	sort.Strings(files)

	if len(files) == 0 {
		l.log.WithField("dir", dir).Warn("No JSON reports found")

		return nil
	}

	l.log.WithField("files", len(files)).Debug("Reading report directory")

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := l.loadReport(ctx, path, res); err != nil {
			if l.opts.Strict {
				return err
			}

			l.log.WithError(err).WithField("file", path).Warn("Skipping unreadable report")
		}
	}

	return nil
}

func (l *Loader) loadReport(ctx context.Context, path string, res *Result) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading report %s: %w", path, err)
	}

	items, err := extractItems(data)
	if err != nil {
		return fmt.Errorf("parsing report %s: %w", path, err)
	}

	before := len(res.Records)

	if err := l.decodeItems(ctx, path, items, res); err != nil {
		return err
	}

	l.log.WithFields(logrus.Fields{
		"file":     filepath.Base(path),
		"items":    len(items),
		"accepted": len(res.Records) - before,
	}).Debug("Read report")

	return nil
}
