// Package output persists finished recordings.
package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go2tv.app/screenrec/internal/logging"
)

const (
	tempPrefix = ".screenrec-"
	tempSuffix = ".part"

	// StalePartAge is how old an orphaned temp file must be before a new
	// writer removes it.
	StalePartAge = 12 * time.Hour
)

// Writer stores a recording and returns where it ended up.
type Writer interface {
	Write(ctx context.Context, payload []byte, suggestedName string) (string, error)
}

// DefaultName returns recording-<UTC timestamp>.<ext>.
func DefaultName(at time.Time, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "webm"
	}
	return "recording-" + at.UTC().Format("2006-01-02T15-04-05") + "." + ext
}

// Target resolves the configured save path into a file name. An empty path
// or an existing directory gets the default name; a path without an
// extension gets ext appended.
func Target(savePath, ext string, at time.Time) string {
	savePath = strings.TrimSpace(savePath)
	if savePath == "" {
		return DefaultName(at, ext)
	}
	if strings.HasSuffix(savePath, string(os.PathSeparator)) {
		return filepath.Join(savePath, DefaultName(at, ext))
	}
	if info, err := os.Stat(savePath); err == nil && info.IsDir() {
		return filepath.Join(savePath, DefaultName(at, ext))
	}
	if filepath.Ext(savePath) == "" && ext != "" {
		return savePath + "." + strings.TrimPrefix(ext, ".")
	}
	return savePath
}

// FileWriter writes recordings under Dir. Each write lands in a temp file
// next to the destination and is renamed into place once synced.
type FileWriter struct {
	dir string
	log *logging.Logger
}

// NewFileWriter removes orphaned temp files older than StalePartAge from dir.
// An empty dir means the working directory.
func NewFileWriter(dir string, log *logging.Logger) *FileWriter {
	if log == nil {
		log = logging.NopLogger()
	}
	if dir == "" {
		dir = "."
	}
	w := &FileWriter{dir: dir, log: log.WithComponent("output")}
	w.cleanupStaleParts(StalePartAge)
	return w
}

// Dir returns the directory bare file names are resolved against.
func (w *FileWriter) Dir() string { return w.dir }

func (w *FileWriter) resolve(name string) string {
	if name == "" {
		name = DefaultName(time.Now(), "")
	}
	if filepath.IsAbs(name) || filepath.Base(name) != name {
		return name
	}
	return filepath.Join(w.dir, name)
}

func (w *FileWriter) Write(ctx context.Context, payload []byte, suggestedName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(payload) == 0 {
		return "", errors.New("output: refusing to write an empty recording")
	}

	path := w.resolve(suggestedName)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*"+tempSuffix)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write recording: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync recording: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close recording: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("chmod recording: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("rename recording: %w", err)
	}
	committed = true

	w.log.Info("recording saved", "path", path, "bytes", len(payload))
	return path, nil
}

func (w *FileWriter) cleanupStaleParts(maxAge time.Duration) {
	matches, err := filepath.Glob(filepath.Join(w.dir, tempPrefix+"*"+tempSuffix))
	if err != nil {
		return
	}
	for _, path := range matches {
		info, statErr := os.Stat(path)
		if statErr != nil || info.IsDir() {
			continue
		}
		if time.Since(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(path); err != nil {
			w.log.Debug("stale temp file cleanup failed", "path", path, "error", err)
			continue
		}
		w.log.Debug("removed stale temp file", "path", path)
	}
}
