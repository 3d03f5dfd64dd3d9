package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"workspace-realtime/internal/logging"
)

// File persists the pair as a small JSON document. Writes land in a temp
// file that is renamed over the target while holding an advisory lock, so
// other processes sharing the file see either the old or the new pair.
type File struct {
	path   string
	lock   *flock.Flock
	logger *logging.Logger

	mu     sync.RWMutex
	cached Pair
}

func NewFile(path string, logger *logging.Logger) (*File, error) {
	if path == "" {
		return nil, errors.New("credential file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create credential directory: %w", err)
	}
	return &File{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger,
	}, nil
}

func (f *File) Path() string { return f.path }

// Get reads the file on every call so credentials rotated by another
// process are picked up. A read failure falls back to the last pair seen.
func (f *File) Get() Pair {
	pair, err := readPairFile(f.path)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.logger.Warn("credential file unreadable; using cached pair",
			logging.Field("path", f.path),
			logging.Field("error", err),
		)
		return f.cached
	}
	f.cached = pair
	return pair
}

func (f *File) Set(pair Pair) error {
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("lock credential file: %w", err)
	}
	defer func() {
		_ = f.lock.Unlock()
	}()

	if err := writePairFile(f.path, pair); err != nil {
		return err
	}
	f.mu.Lock()
	f.cached = pair
	f.mu.Unlock()
	f.logger.Debug("credential pair stored", logging.Field("path", f.path))
	return nil
}

func (f *File) Clear() error {
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("lock credential file: %w", err)
	}
	defer func() {
		_ = f.lock.Unlock()
	}()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	f.mu.Lock()
	f.cached = Pair{}
	f.mu.Unlock()
	f.logger.Debug("credential pair cleared", logging.Field("path", f.path))
	return nil
}

func readPairFile(path string) (Pair, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Pair{}, nil
	}
	if err != nil {
		return Pair{}, err
	}
	var pair Pair
	if err := json.Unmarshal(data, &pair); err != nil {
		return Pair{}, fmt.Errorf("decode credential file: %w", err)
	}
	return pair, nil
}

func writePairFile(path string, pair Pair) error {
	payload, err := json.MarshalIndent(pair, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp credential file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}
