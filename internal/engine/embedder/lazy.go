package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crimson-sun/swatch/internal/logging"
)

// ErrClosed is returned by a Lazy handle after its last reference is
// released.
var ErrClosed = errors.New("embedder: handle closed")

// Loader builds the underlying embedder.
type Loader func(ctx context.Context) (Embedder, error)

// Lazy is a reference-counted Embedder that loads its model on first use.
// Concurrent first callers share one in-flight load and each waits on it
// under its own ctx. The load runs at most once: its error, if any, is
// returned to every later caller. Close drops one reference and the model
// is closed when the count reaches zero.
type Lazy struct {
	load Loader

	mu      sync.Mutex
	refs    int
	started bool
	closed  bool
	done    chan struct{}
	emb     Embedder
	err     error
}

// NewLazy returns a handle holding one reference.
func NewLazy(load Loader) *Lazy {
	return &Lazy{load: load, refs: 1, done: make(chan struct{})}
}

// Retain adds a reference and returns the same handle.
func (l *Lazy) Retain() *Lazy {
	l.mu.Lock()
	l.refs++
	l.mu.Unlock()
	return l
}

// Acquire returns the loaded embedder, starting the load if needed. The
// load is detached from ctx cancellation so an impatient first caller does
// not poison it for others.
func (l *Lazy) Acquire(ctx context.Context) (Embedder, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	if !l.started {
		l.started = true
		go l.run(context.WithoutCancel(ctx))
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		if l.err != nil {
			return nil, l.err
		}
		return l.emb, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Lazy) run(ctx context.Context) {
	start := time.Now()
	emb, err := l.load(ctx)
	if err != nil {
		// A loader may hand back a typed nil alongside its error.
		emb = nil
		err = fmt.Errorf("embedder: load: %w", err)
		logging.Error().Err(err).Msg("embedding model load failed")
	} else {
		logging.Info().Dur("took", time.Since(start)).Msg("embedding model loaded")
	}

	l.mu.Lock()
	l.emb, l.err = emb, err
	close(l.done)
	lateClose := l.closed && emb != nil
	l.mu.Unlock()

	if lateClose {
		emb.Close()
	}
}

// Loaded reports whether a load has completed successfully.
func (l *Lazy) Loaded() bool {
	select {
	case <-l.done:
		return l.err == nil
	default:
		return false
	}
}

func (l *Lazy) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := l.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}

func (l *Lazy) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e, err := l.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return e.EmbedBatch(ctx, texts)
}

// Close releases one reference.
func (l *Lazy) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.refs--
	if l.refs > 0 {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	var loaded Embedder
	if l.started {
		select {
		case <-l.done:
			loaded = l.emb
		default:
			// run closes the model when the load finishes.
		}
	}
	l.mu.Unlock()

	if loaded != nil {
		return loaded.Close()
	}
	return nil
}
