package output

import (
	"context"
	"fmt"
	"sync"

	"golang.design/x/clipboard"

	"go2tv.app/screenrec/internal/logging"
)

var (
	clipboardOnce sync.Once
	clipboardErr  error
)

func systemClipboard(text []byte) error {
	clipboardOnce.Do(func() {
		clipboardErr = clipboard.Init()
	})
	if clipboardErr != nil {
		return fmt.Errorf("clipboard unavailable: %w", clipboardErr)
	}
	clipboard.Write(clipboard.FmtText, text)
	return nil
}

// ClipboardWriter copies the saved path to the clipboard after the wrapped
// writer succeeds. Clipboard failures are logged and otherwise ignored.
type ClipboardWriter struct {
	next Writer
	copy func([]byte) error
	log  *logging.Logger
}

func NewClipboardWriter(next Writer, log *logging.Logger) *ClipboardWriter {
	if log == nil {
		log = logging.NopLogger()
	}
	return &ClipboardWriter{next: next, copy: systemClipboard, log: log.WithComponent("output")}
}

func (w *ClipboardWriter) Write(ctx context.Context, payload []byte, suggestedName string) (string, error) {
	path, err := w.next.Write(ctx, payload, suggestedName)
	if err != nil {
		return "", err
	}
	if err := w.copy([]byte(path)); err != nil {
		w.log.Warn("copy path to clipboard failed", "path", path, "error", err)
	} else {
		w.log.Debug("copied path to clipboard", "path", path)
	}
	return path, nil
}
