package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crimson-sun/swatch/internal/httpclient"
	"github.com/crimson-sun/swatch/internal/logging"
	"github.com/crimson-sun/swatch/internal/model"
	"github.com/crimson-sun/swatch/internal/output"
)

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 5 * time.Second
	defaultTimeout       = 10 * time.Second
)

// Option configures a webhook Output.
type Option func(*Output)

// WithHeaders sets custom HTTP headers sent with every POST.
func WithHeaders(h map[string]string) Option {
	return func(o *Output) {
		for k, v := range h {
			o.clientOpts = append(o.clientOpts, httpclient.WithHeader(k, v))
		}
	}
}

// WithBatchSize sets the number of records accumulated before a flush. Default: 50.
func WithBatchSize(n int) Option {
	return func(o *Output) { o.batchSize = n }
}

// WithFlushInterval sets the maximum time between flushes. Default: 5s.
func WithFlushInterval(d time.Duration) Option {
	return func(o *Output) { o.flushInterval = d }
}

// WithTimeout sets the HTTP client timeout. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(o *Output) { o.clientOpts = append(o.clientOpts, httpclient.WithTimeout(d)) }
}

// WithRetry sets how often a 5xx or 429 response is retried and the first
// backoff delay.
func WithRetry(n int, backoff time.Duration) Option {
	return func(o *Output) {
		o.clientOpts = append(o.clientOpts, httpclient.WithMaxRetries(n), httpclient.WithBackoff(backoff))
	}
}

// WithVerbosity sets how much of each record is posted. Default: Standard.
func WithVerbosity(v output.Verbosity) Option {
	return func(o *Output) { o.verbosity = v }
}

// WithOnError sets a callback invoked when a timer-triggered flush fails.
// Default: logs a warning.
func WithOnError(f func(error)) Option {
	return func(o *Output) { o.errFunc = f }
}

// Output POSTs batched records to an HTTP endpoint as a JSON array.
// Records accumulate in an internal buffer and are flushed when batchSize is
// reached or flushInterval elapses.
type Output struct {
	client        *httpclient.Client
	clientOpts    []httpclient.Option
	batchSize     int
	flushInterval time.Duration
	verbosity     output.Verbosity
	errFunc       func(error)
	mu            sync.Mutex
	pending       []model.Record
	timer         *time.Timer
}

// New creates a webhook output targeting the given URL.
func New(url string, opts ...Option) *Output {
	o := &Output{
		clientOpts:    []httpclient.Option{httpclient.WithTimeout(defaultTimeout)},
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		verbosity:     output.Standard,
		errFunc: func(err error) {
			logging.Warn().Err(err).Msg("webhook flush error")
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.client = httpclient.New(url, o.clientOpts...)
	return o
}

// Write appends a record to the batch. When batchSize is reached, the batch
// is flushed immediately. A timer is started on the first record so the
// batch flushes even if batchSize is never reached.
func (o *Output) Write(ctx context.Context, rec model.Record) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.pending = append(o.pending, output.FormatRecord(rec, o.verbosity))

	if len(o.pending) >= o.batchSize {
		return o.flushLocked(ctx)
	}

	if len(o.pending) == 1 {
		o.timer = time.AfterFunc(o.flushInterval, func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if err := o.flushLocked(context.Background()); err != nil {
				o.errFunc(err)
			}
		})
	}
	return nil
}

// Close flushes any remaining records and stops the timer.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	if len(o.pending) > 0 {
		return o.flushLocked(context.Background())
	}
	return nil
}

// flushLocked sends the pending batch. Caller must hold o.mu.
func (o *Output) flushLocked(ctx context.Context) error {
	if len(o.pending) == 0 {
		return nil
	}
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}

	batch := o.pending
	o.pending = nil

	if err := o.client.PostJSON(ctx, "", nil, batch, nil); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}
