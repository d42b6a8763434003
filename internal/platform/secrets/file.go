// Package secrets supplies shared secrets that may rotate while the process
// runs.
package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Static is a secret that never changes.
type Static []byte

func (s Static) Secret() []byte { return s }

// File is a secret read from disk and reloaded when the file changes. A
// reload that fails or yields an empty value keeps the previous secret.
type File struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	secret []byte
}

// LoadFile reads the secret at path. Surrounding whitespace is trimmed so
// files written with a trailing newline work.
func LoadFile(path string, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &File{path: path, debounce: defaultDebounce, logger: logger}
	secret, err := readSecret(path)
	if err != nil {
		return nil, err
	}
	f.secret = secret
	return f, nil
}

func (f *File) Secret() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.secret
}

// Reload rereads the file now.
func (f *File) Reload() error {
	secret, err := readSecret(f.path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	changed := !bytes.Equal(f.secret, secret)
	f.secret = secret
	f.mu.Unlock()
	if changed {
		f.logger.Info("secret reloaded", "path", f.path)
	}
	return nil
}

// Watch reloads the secret on change until ctx ends. The parent directory is
// watched so atomic replace-by-rename is seen.
func (f *File) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(f.path), err)
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !f.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(f.debounce)
			} else {
				timer.Reset(f.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := f.Reload(); err != nil {
				f.logger.Warn("secret reload failed, keeping previous value", "path", f.path, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("secret watcher error", "path", f.path, "error", err)
		}
	}
}

func (f *File) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename) {
		return false
	}
	// Kubernetes secret volumes swap a ..data symlink rather than the file.
	name := filepath.Base(event.Name)
	return filepath.Clean(event.Name) == filepath.Clean(f.path) || name == "..data"
}

func readSecret(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secret file: %w", err)
	}
	secret := bytes.TrimSpace(raw)
	if len(secret) == 0 {
		return nil, errors.New("secret file is empty")
	}
	return secret, nil
}
