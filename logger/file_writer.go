package logger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// ErrWriterClosed is returned by writes after Close.
var ErrWriterClosed = errors.New("log writer is closed")

const (
	dateLayout          = "2006-01-02"
	rotateCheckInterval = time.Hour
)

// DailyFileWriter is an io.Writer that appends to {service}_{date}.log in a
// directory and switches to a new file when the local date changes. The
// switch happens on the first write of a new day and on an hourly check, so
// an idle relay still closes yesterday's file. Safe for concurrent use.
type DailyFileWriter struct {
	service string
	dir     string
	now     func() time.Time

	mu   sync.Mutex
	file *os.File
	date string

	closed atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDailyFileWriter creates dir if needed, opens today's file and starts the
// background rotation check.
//
// Parameters:
//   - service: Prefix of the log file names
//   - dir: Directory receiving the files
//
// Returns:
//   - The writer, or an error if the directory or the first file could not be
//     created
func NewDailyFileWriter(service, dir string) (*DailyFileWriter, error) {
	return newDailyFileWriter(service, dir, time.Now, rotateCheckInterval)
}

func newDailyFileWriter(service, dir string, now func() time.Time, every time.Duration) (*DailyFileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &DailyFileWriter{
		service: service,
		dir:     dir,
		now:     now,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	w.mu.Lock()
	err := w.openLocked(w.now().Format(dateLayout))
	w.mu.Unlock()
	if err != nil {
		cancel()
		return nil, err
	}

	go w.rotateEvery(ctx, every)
	return w, nil
}

// Write appends p to the current day's file, rotating first if the date has
// changed since the last write.
func (w *DailyFileWriter) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, ErrWriterClosed
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, ErrWriterClosed
	}
	if date := w.now().Format(dateLayout); date != w.date {
		if err := w.openLocked(date); err != nil {
			return 0, err
		}
	}

	return w.file.Write(p)
}

// ForceRotate reopens the file for the current date. Useful after the file
// was moved away by an external tool.
func (w *DailyFileWriter) ForceRotate() error {
	if w.closed.Load() {
		return ErrWriterClosed
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	return w.openLocked(w.now().Format(dateLayout))
}

// CurrentLogFile returns the path being written, or "" after Close.
func (w *DailyFileWriter) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ""
	}
	return w.path(w.date)
}

// Close stops the rotation check and closes the file. Later calls are no-ops.
func (w *DailyFileWriter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	w.cancel()
	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *DailyFileWriter) rotateEvery(ctx context.Context, every time.Duration) {
	defer close(w.done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			if date := w.now().Format(dateLayout); w.file != nil && date != w.date {
				_ = w.openLocked(date)
			}
			w.mu.Unlock()
		}
	}
}

// openLocked swaps in the file for date. Caller holds w.mu. On failure the
// previous file stays open.
func (w *DailyFileWriter) openLocked(date string) error {
	name := w.path(date)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", name, err)
	}

	if w.file != nil {
		_ = w.file.Close()
	}
	w.file = f
	w.date = date
	return nil
}

func (w *DailyFileWriter) path(date string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%s.log", w.service, date))
}
