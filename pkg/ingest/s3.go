package ingest

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
)

// ObjectStore reads objects by key. GetObject returns (nil, nil) for a
// missing object. upload.S3Reader satisfies it.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// LoadS3 reads records from an object store. A key ending in "/" is
// treated like a report directory: every .json object under it is read.
// Otherwise the single object is parsed with the configured format.
func (l *Loader) LoadS3(ctx context.Context, objects ObjectStore, key string) (*Result, error) {
	l.log.WithFields(logrus.Fields{
		"key":    key,
		"format": l.opts.Format,
	}).Info("Loading execution records from S3")

	if strings.HasSuffix(key, "/") {
		res := &Result{}

		if err := l.loadPrefix(ctx, objects, key, res); err != nil {
			return nil, err
		}

		return l.finish(res), nil
	}

	data, err := objects.GetObject(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetching input object: %w", err)
	}

	if data == nil {
		return nil, fmt.Errorf("input object %q not found", key)
	}

	return l.Parse(ctx, "s3://"+key, l.opts.Format, data)
}

func (l *Loader) loadPrefix(
	ctx context.Context, objects ObjectStore, prefix string, res *Result,
) error {
	keys, err := objects.ListKeys(ctx, prefix)
	if err != nil {
		return fmt.Errorf("listing input objects: %w", err)
	}

	for _, key := range keys {
		if !strings.EqualFold(path.Ext(key), ".json") {
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if err := l.loadObject(ctx, objects, key, res); err != nil {
			if l.opts.Strict {
				return err
			}

			l.log.WithError(err).WithField("key", key).Warn("Skipping unreadable report")
		}
	}

	return nil
}

func (l *Loader) loadObject(
	ctx context.Context, objects ObjectStore, key string, res *Result,
) error {
	data, err := objects.GetObject(ctx, key)
	if err != nil {
		return fmt.Errorf("fetching report %s: %w", key, err)
	}

	if data == nil {
		return fmt.Errorf("report %s disappeared", key)
	}

	items, err := extractItems(data)
	if err != nil {
		return fmt.Errorf("parsing report %s: %w", key, err)
	}

	return l.decodeItems(ctx, "s3://"+key, items, res)
}
