package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/crimson-sun/swatch/internal/connector"
	"github.com/crimson-sun/swatch/internal/detector"
	"github.com/crimson-sun/swatch/internal/engine"
	"github.com/crimson-sun/swatch/internal/logging"
	"github.com/crimson-sun/swatch/internal/metrics"
	"github.com/crimson-sun/swatch/internal/model"
	"github.com/crimson-sun/swatch/internal/output"
)

const defaultConcurrency = 4

// Pipeline connects a connector, engine, and output into a processing pipeline.
type Pipeline struct {
	connector   connector.Connector
	engine      *engine.Engine
	output      output.Output
	concurrency int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConcurrency sets how many items are classified at once. Default: 4.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// Stats counts the items a run produced, by status.
type Stats struct {
	Classified int
	Failed     int
}

type counter struct {
	classified atomic.Int64
	failed     atomic.Int64
}

func (c *counter) add(rec model.Record) {
	if rec.Status == model.StatusFailed {
		c.failed.Add(1)
		return
	}
	c.classified.Add(1)
}

func (c *counter) stats() Stats {
	return Stats{Classified: int(c.classified.Load()), Failed: int(c.failed.Load())}
}

// New creates a Pipeline from the given components.
func New(conn connector.Connector, eng *engine.Engine, out output.Output, opts ...Option) *Pipeline {
	p := &Pipeline{
		connector:   conn,
		engine:      eng,
		output:      out,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stream classifies items as the connector emits them. Records are written
// in completion order. Blocks until the source closes, the context is
// cancelled, or an output write fails.
func (p *Pipeline) Stream(ctx context.Context, cfg connector.ConnectorConfig) (Stats, error) {
	// The connector stops sending once Stream returns, whatever the reason.
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := p.connector.Stream(sctx, cfg)
	if err != nil {
		return Stats{}, fmt.Errorf("pipeline stream: %w", err)
	}

	var n counter
	g, gctx := errgroup.WithContext(sctx)
	g.SetLimit(p.concurrency)

	for {
		select {
		case <-gctx.Done():
			if err := g.Wait(); err != nil {
				return n.stats(), err
			}
			return n.stats(), ctx.Err()
		case item, ok := <-ch:
			if !ok {
				err := g.Wait()
				return n.stats(), err
			}
			g.Go(func() error {
				rec := p.Process(gctx, item)
				if gctx.Err() != nil {
					// Shutting down: the failure is ours, not the item's.
					return nil
				}
				n.add(rec)
				if err := p.output.Write(gctx, rec); err != nil {
					return fmt.Errorf("pipeline output: %w", err)
				}
				return nil
			})
		}
	}
}

// Query runs the pipeline in one-shot query mode. Records are written in the
// order the connector returned the items.
func (p *Pipeline) Query(ctx context.Context, cfg connector.ConnectorConfig, params connector.QueryParams) (Stats, error) {
	items, err := p.connector.Query(ctx, cfg, params)
	if err != nil {
		return Stats{}, fmt.Errorf("pipeline query: %w", err)
	}

	records := make([]model.Record, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, item := range items {
		g.Go(func() error {
			records[i] = p.Process(gctx, item)
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	var n counter
	for _, rec := range records {
		n.add(rec)
		if err := p.output.Write(ctx, rec); err != nil {
			return n.stats(), fmt.Errorf("pipeline output: %w", err)
		}
	}
	return n.stats(), nil
}

// Process classifies one item. Items carrying labels skip detection; items
// with only an image URL go through the detector first. A failure yields a
// failed record rather than an error so the batch can continue.
func (p *Pipeline) Process(ctx context.Context, item model.Item) model.Record {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	rec := model.Record{Item: item}

	var err error
	switch {
	case len(item.Labels) == 0 && item.ImageURL != "":
		var a engine.Analysis
		a, err = p.engine.Analyze(ctx, detector.Image{URL: item.ImageURL}, item.Description, item.Title)
		if err == nil {
			rec.Item.Labels = a.Labels
			rec.BasicDescription = a.BasicDescription
			rec.Attributes = a.Attributes
		}
	default:
		rec.Attributes, err = p.engine.Classify(ctx, item.Labels, item.Description, item.Title)
		if err == nil {
			rec.BasicDescription = p.engine.BasicDescription(item.Labels)
		}
	}

	if err != nil {
		metrics.PipelineItems.WithLabelValues(model.StatusFailed).Inc()
		logging.Warn().Err(err).Str("item", item.ID).Msg("item failed")
		rec.Status = model.StatusFailed
		rec.Error = err.Error()
		rec.Attributes = nil
		return rec
	}

	metrics.PipelineItems.WithLabelValues(model.StatusClassified).Inc()
	rec.Status = model.StatusClassified
	rec.Flat = p.engine.Taxonomy().Merge(rec.Attributes)
	return rec
}

// Close shuts down the output.
func (p *Pipeline) Close() error {
	return p.output.Close()
}
