package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultWatchDebounce is how long Watch waits for writes to settle
// before calling onChange.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watch monitors an input path and calls onChange after it changes. A
// directory is watched for any file event; for a file, its parent
// directory is watched so atomic saves that replace the file are seen.
// Bursts of events within debounce collapse into one call. Watch runs
// until ctx is cancelled.
func Watch(
	ctx context.Context,
	log logrus.FieldLogger,
	path string,
	debounce time.Duration,
	onChange func(),
) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	dir, name := path, ""
	if !info.IsDir() {
		dir, name = filepath.Dir(path), filepath.Base(path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	log = log.WithField("path", path)
	log.Info("Watching input for changes")

	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	timer := time.NewTimer(debounce)
	timer.Stop()

	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if name != "" && filepath.Base(event.Name) != name {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			log.WithField("event", event.Op.String()).Debug("Input changed")
			timer.Reset(debounce)

		case <-timer.C:
			onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			log.WithError(err).Warn("Watcher error")
		}
	}
}
