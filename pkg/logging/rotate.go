package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RotatingWriter is an io.Writer that swaps its underlying file once per UTC
// calendar day, writing to "<dir>/<prefix>.YYYY-MM-DD.log". No library in
// this project's dependency lineage provides rotating file writers, so this
// is a small hand-rolled substitute rather than an ecosystem import.
type RotatingWriter struct {
	mu     sync.Mutex
	dir    string
	prefix string
	day    string
	file   *os.File
}

// NewRotatingWriter creates the log directory if needed and opens today's file.
func NewRotatingWriter(dir, prefix string) (*RotatingWriter, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	w := &RotatingWriter{dir: dir, prefix: prefix}
	if err := w.rotate(time.Now().UTC()); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) rotate(now time.Time) error {
	day := now.Format("2006-01-02")
	if w.file != nil && day == w.day {
		return nil
	}

	path := filepath.Join(w.dir, fmt.Sprintf("%s.%s.log", w.prefix, day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	if w.file != nil {
		w.file.Close()
	}
	w.file = f
	w.day = day
	return nil
}

// Write implements io.Writer, rotating to a new day's file transparently.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotate(time.Now().UTC()); err != nil {
		return 0, err
	}
	return w.file.Write(p)
}

// Close closes the currently open file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}
