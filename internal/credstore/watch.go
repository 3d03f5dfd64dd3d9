package credstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"workspace-realtime/internal/logging"
)

// Watch calls onChange with the freshly read pair whenever the credential
// file at path is created, written, renamed into place or removed. It blocks
// until ctx is done. The parent directory is watched because Set replaces
// the file by rename.
func Watch(ctx context.Context, path string, logger *logging.Logger, onChange func(Pair)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to initialize fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch credential directory %s: %w", dir, err)
	}
	target := filepath.Clean(path)
	logger.Debug("watching credential file", logging.Field("path", target))

	last, _ := readPairFile(target)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			pair, err := readPairFile(target)
			if err != nil {
				// Partial writes by foreign tools settle on the next event.
				logger.Debug("credential file not readable yet", logging.Field("error", err))
				continue
			}
			if pair == last {
				continue
			}
			last = pair
			logger.Debug("credential file changed", logging.Field("op", event.Op.String()))
			onChange(pair)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("credential watcher error", logging.Field("error", err))
		}
	}
}
