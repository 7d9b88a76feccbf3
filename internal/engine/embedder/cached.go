package embedder

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/crimson-sun/swatch/internal/kv"
	"github.com/crimson-sun/swatch/internal/logging"
	"github.com/crimson-sun/swatch/internal/metrics"
)

// Cached memoizes vectors by text in memory and, when a store is set, in a
// persistent kv.Store. Keys are sha1 of namespace and text, so a cache
// directory can be shared by different models under different namespaces.
type Cached struct {
	inner     Embedder
	store     kv.Store
	namespace string
	maxMem    int

	mu    sync.RWMutex
	mem   map[string][]float32
	order []string
}

// CacheOptions configures a Cached embedder.
type CacheOptions struct {
	Store     kv.Store // optional
	Namespace string   // model identity
	MaxMemory int      // entries kept in memory; 0 means 4096
}

// NewCached wraps inner with a vector cache.
func NewCached(inner Embedder, opts CacheOptions) *Cached {
	if opts.MaxMemory <= 0 {
		opts.MaxMemory = 4096
	}
	return &Cached{
		inner:     inner,
		store:     opts.Store,
		namespace: opts.Namespace,
		maxMem:    opts.MaxMemory,
		mem:       make(map[string][]float32),
	}
}

func (c *Cached) key(text string) string {
	sum := sha1.Sum([]byte(c.namespace + "\x00" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch serves hits from memory then the store, and embeds the
// remaining unique texts in one inner call.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missIdx := make(map[string][]int)
	var misses []string

	for i, t := range texts {
		k := c.key(t)
		if v, ok := c.lookup(ctx, k); ok {
			metrics.EmbedCache.WithLabelValues("hit").Inc()
			out[i] = cloneVector(v)
			continue
		}
		if _, seen := missIdx[k]; !seen {
			misses = append(misses, t)
		}
		missIdx[k] = append(missIdx[k], i)
	}
	if len(misses) == 0 {
		return out, nil
	}
	metrics.EmbedCache.WithLabelValues("miss").Add(float64(len(misses)))

	vecs, err := c.inner.EmbedBatch(ctx, misses)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(misses) {
		return nil, fmt.Errorf("embedder: got %d vectors for %d texts", len(vecs), len(misses))
	}

	entries := make([]kv.Entry, 0, len(misses))
	for j, t := range misses {
		k := c.key(t)
		c.remember(k, vecs[j])
		for _, i := range missIdx[k] {
			out[i] = cloneVector(vecs[j])
		}
		entries = append(entries, kv.Entry{Key: []byte(k), Value: encodeVector(vecs[j])})
	}
	if c.store != nil {
		if err := c.store.BatchSet(ctx, entries); err != nil {
			logging.Warn().Err(err).Int("entries", len(entries)).Msg("embedding cache write failed")
		}
	}
	return out, nil
}

func (c *Cached) lookup(ctx context.Context, k string) ([]float32, bool) {
	c.mu.RLock()
	v, ok := c.mem[k]
	c.mu.RUnlock()
	if ok {
		return v, true
	}
	if c.store == nil {
		return nil, false
	}
	raw, err := c.store.Get(ctx, []byte(k))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			logging.Warn().Err(err).Msg("embedding cache read failed")
		}
		return nil, false
	}
	v, err = decodeVector(raw)
	if err != nil {
		logging.Warn().Err(err).Msg("embedding cache entry corrupt")
		return nil, false
	}
	c.remember(k, v)
	return v, true
}

// remember stores v in memory, evicting the oldest entries past maxMem.
func (c *Cached) remember(k string, v []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.mem[k]; ok {
		return
	}
	c.mem[k] = cloneVector(v)
	c.order = append(c.order, k)
	for len(c.order) > c.maxMem {
		delete(c.mem, c.order[0])
		c.order = c.order[1:]
	}
}

// Close closes the inner embedder. The store is owned by the caller.
func (c *Cached) Close() error {
	return c.inner.Close()
}

func cloneVector(v []float32) []float32 {
	return append([]float32(nil), v...)
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 0, len(v)*4)
	for _, f := range v {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedder: cached vector has %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
