package async

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crimson-sun/swatch/internal/logging"
	"github.com/crimson-sun/swatch/internal/model"
	"github.com/crimson-sun/swatch/internal/output"
)

const (
	defaultBufferSize   = 1024
	defaultDrainTimeout = 5 * time.Second
)

// Option configures an Async wrapper.
type Option func(*Async)

// WithBufferSize sets the channel buffer capacity. Default: 1024.
func WithBufferSize(n int) Option {
	return func(a *Async) { a.bufSize = n }
}

// WithOnError sets the callback invoked when the inner output's Write fails.
// Default: logs a warning.
func WithOnError(f func(error)) Option {
	return func(a *Async) { a.errFunc = f }
}

// WithDropOnFull makes Write return immediately (dropping the record) when
// the buffer is full, instead of blocking.
func WithDropOnFull() Option {
	return func(a *Async) { a.dropOnFull = true }
}

// WithDrainTimeout bounds how long Close waits for buffered records.
func WithDrainTimeout(d time.Duration) Option {
	return func(a *Async) { a.drainTimeout = d }
}

// Async decouples classification from slow sinks via a buffered channel.
// A background goroutine drains it to the wrapped output. Errors from the
// inner output go to errFunc rather than to the caller.
type Async struct {
	inner        output.Output
	ch           chan model.Record
	done         chan struct{}
	errFunc      func(error)
	bufSize      int
	drainTimeout time.Duration
	dropOnFull   bool
	closeOnce    sync.Once
	dropped      atomic.Int64
}

// New wraps an output.Output in an async channel-based writer.
// The background drain goroutine starts immediately.
func New(inner output.Output, opts ...Option) *Async {
	a := &Async{
		inner:        inner,
		bufSize:      defaultBufferSize,
		drainTimeout: defaultDrainTimeout,
		errFunc: func(err error) {
			logging.Warn().Err(err).Msg("async output write error")
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ch = make(chan model.Record, a.bufSize)
	a.done = make(chan struct{})
	go a.drain()
	return a
}

// Write queues the record. By default it blocks while the buffer is full
// until ctx ends. With WithDropOnFull it returns nil and the record is lost.
func (a *Async) Write(ctx context.Context, rec model.Record) error {
	if a.dropOnFull {
		select {
		case a.ch <- rec:
		default:
			a.dropped.Add(1)
			logging.Warn().Str("product_id", rec.Item.ID).Msg("async output buffer full, dropping record")
		}
		return nil
	}
	select {
	case a.ch <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped reports how many records WithDropOnFull discarded.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Close closes the channel, waits for the drain goroutine to finish
// (with a timeout), then closes the inner output.
func (a *Async) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.ch)
		select {
		case <-a.done:
		case <-time.After(a.drainTimeout):
			logging.Warn().Msg("async output drain timed out")
		}
		if n := a.dropped.Load(); n > 0 {
			logging.Warn().Int64("dropped", n).Msg("async output dropped records")
		}
		err = a.inner.Close()
	})
	return err
}

// drain reads records from the channel and writes them to the inner output.
func (a *Async) drain() {
	defer close(a.done)
	for rec := range a.ch {
		if err := a.inner.Write(context.Background(), rec); err != nil {
			a.errFunc(err)
		}
	}
}
