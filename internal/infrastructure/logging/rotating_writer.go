package logging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultMaxSizeMB = 100
	bytesPerMB       = 1 << 20
)

// RotatingWriter appends to a log file and shifts it to path.1, path.2, ...
// once the next write would exceed the size limit. With no backups the full
// file is truncated instead.
type RotatingWriter struct {
	mu         sync.Mutex
	path       string
	limit      int64
	maxBackups int
	file       *os.File
	written    int64
}

func NewRotatingWriter(path string, maxSizeMB, maxBackups int) (*RotatingWriter, error) {
	if path == "" {
		return nil, errors.New("log file path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}
	w := &RotatingWriter{
		path:       path,
		limit:      int64(maxSizeMB) * bytesPerMB,
		maxBackups: max(maxBackups, 0),
	}
	if err := w.open(os.O_APPEND); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := w.open(os.O_APPEND); err != nil {
			return 0, err
		}
	}
	if w.written+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *RotatingWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotate()
}

// RotateOn rotates once per received signal until ctx is done. Wire it to
// SIGHUP so external log shippers can request a fresh file.
func (w *RotatingWriter) RotateOn(ctx context.Context, signals <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if err := w.Rotate(); err != nil {
				slog.Error("log rotation failed", "signal", sig.String(), "err", err)
				continue
			}
			slog.Info("log file rotated", "signal", sig.String(), "path", w.path)
		}
	}
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.written = 0
	return err
}

func (w *RotatingWriter) open(mode int) error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|mode, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	w.file = file
	w.written = info.Size()
	return nil
}

func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	if w.maxBackups > 0 {
		for i := w.maxBackups - 1; i >= 1; i-- {
			renameIfExists(w.backup(i), w.backup(i+1))
		}
		renameIfExists(w.path, w.backup(1))
	}
	return w.open(os.O_TRUNC)
}

func (w *RotatingWriter) backup(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

func renameIfExists(from, to string) {
	if _, err := os.Stat(from); errors.Is(err, fs.ErrNotExist) {
		return
	}
	_ = os.Rename(from, to)
}
