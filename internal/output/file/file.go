package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/goccy/go-json"

	"github.com/crimson-sun/swatch/internal/model"
	"github.com/crimson-sun/swatch/internal/output"
)

const (
	defaultBufSize    = 64 << 10
	defaultMaxBackups = 10
)

// Option configures a file Output.
type Option func(*Output)

// WithMaxSize rotates the file once the next record would push it past
// bytes. Zero disables rotation.
func WithMaxSize(bytes int64) Option {
	return func(o *Output) { o.maxSize = bytes }
}

// WithMaxBackups bounds how many rotated files ({path}.1 ... {path}.n) are
// kept. Older ones are removed.
func WithMaxBackups(n int) Option {
	return func(o *Output) {
		if n > 0 {
			o.maxBackups = n
		}
	}
}

// WithBufSize sets the write buffer size.
func WithBufSize(bytes int) Option {
	return func(o *Output) { o.bufSize = bytes }
}

// Output appends one attribute record per line to a file.
type Output struct {
	path       string
	verbosity  output.Verbosity
	maxSize    int64
	maxBackups int
	bufSize    int

	mu      sync.Mutex
	f       *os.File
	w       *bufio.Writer
	size    int64
	records int
}

// New opens path for appending, creating it if needed.
func New(path string, verbosity output.Verbosity, opts ...Option) (*Output, error) {
	o := &Output{
		path:       path,
		verbosity:  verbosity,
		maxBackups: defaultMaxBackups,
		bufSize:    defaultBufSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.open(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Output) Write(_ context.Context, rec model.Record) error {
	line, err := json.Marshal(output.FormatRecord(rec, o.verbosity))
	if err != nil {
		return fmt.Errorf("file output: encode %s: %w", rec.Item.ID, err)
	}
	line = append(line, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()

	// A single oversized record still lands in a fresh file.
	if o.maxSize > 0 && o.size > 0 && o.size+int64(len(line)) > o.maxSize {
		if err := o.rotate(); err != nil {
			return fmt.Errorf("file output: rotate %s: %w", o.path, err)
		}
	}

	n, err := o.w.Write(line)
	o.size += int64(n)
	if err != nil {
		return fmt.Errorf("file output: write %s: %w", rec.Item.ID, err)
	}
	o.records++
	return nil
}

// Flush pushes buffered records to the file without closing it.
func (o *Output) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Flush()
}

// Records reports how many records were written since New.
func (o *Output) Records() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.records
}

// Close flushes, syncs and closes the file.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	err := errors.Join(o.w.Flush(), o.f.Sync())
	if cerr := o.f.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		return fmt.Errorf("file output: close %s: %w", o.path, err)
	}
	return nil
}

func (o *Output) open() error {
	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("file output: open %s: %w", o.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("file output: stat %s: %w", o.path, err)
	}
	o.f, o.w, o.size = f, bufio.NewWriterSize(f, o.bufSize), info.Size()
	return nil
}

// rotate moves the live file to {path}.1, shifting older backups up by one
// and dropping whatever falls past maxBackups.
func (o *Output) rotate() error {
	if err := o.w.Flush(); err != nil {
		return err
	}
	if err := o.f.Close(); err != nil {
		return err
	}

	backup := func(i int) string { return fmt.Sprintf("%s.%d", o.path, i) }
	if err := os.Remove(backup(o.maxBackups)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	for i := o.maxBackups - 1; i >= 1; i-- {
		if err := os.Rename(backup(i), backup(i+1)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := os.Rename(o.path, backup(1)); err != nil {
		return err
	}
	return o.open()
}
