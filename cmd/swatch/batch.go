package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/swatch/internal/config"
	"github.com/crimson-sun/swatch/internal/connector"
	"github.com/crimson-sun/swatch/internal/logging"
	"github.com/crimson-sun/swatch/internal/pipeline"
)

func newBatchCmd(a *app) *cobra.Command {
	var (
		provider string
		path     string
		search   string
		limit    int
		stream   bool
		workers  int
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Classify items from a connector into the configured output",
		Long: `Read items from a connector, classify each one and write one record
per item. Items that carry labels skip detection; items with only an
image URL are sent to the detector first. A failed item is written with
status "failed" and the batch continues.

Examples:
  swatch batch --path items.ndjson
  cat items.ndjson | swatch batch --stream
  swatch batch --provider feed --search "wool coat" --limit 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := a.cfg.Connector
			if provider != "" {
				cc.Provider = provider
			}
			if path != "" {
				cc.Path = path
			}

			ctor, err := connector.Get(cc.Provider)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := build(ctx, a.cfg, a.cfg.Detector.Backend != "none")
			if err != nil {
				return err
			}
			defer rt.Close()

			out, err := buildOutput(a.cfg.Output)
			if err != nil {
				return err
			}

			if err := rt.engine.Warm(ctx); err != nil {
				out.Close()
				return err
			}

			p := pipeline.New(ctor(), rt.engine, out, pipeline.WithConcurrency(workers))
			defer p.Close()

			connCfg := connectorConfig(cc)
			start := time.Now()
			logging.Info().Str("connector", cc.Provider).Bool("stream", stream).Msg("batch starting")

			var stats pipeline.Stats
			if stream {
				stats, err = p.Stream(ctx, connCfg)
			} else {
				stats, err = p.Query(ctx, connCfg, connector.QueryParams{Limit: limit, Search: search})
			}
			logging.Info().
				Int("classified", stats.Classified).
				Int("failed", stats.Failed).
				Dur("duration", time.Since(start)).
				Msg("batch finished")
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&provider, "provider", "", "connector provider: file or feed (default: connector.provider)")
	f.StringVar(&path, "path", "", "NDJSON input for the file connector; - reads stdin")
	f.StringVar(&search, "search", "", "search query passed to the connector")
	f.IntVar(&limit, "limit", 0, "maximum number of items in query mode (0 = all)")
	f.BoolVar(&stream, "stream", false, "keep consuming until the source closes or SIGINT")
	f.IntVar(&workers, "workers", 4, "items classified concurrently")
	return cmd
}

func connectorConfig(cc config.ConnectorConfig) connector.ConnectorConfig {
	extra := map[string]string{}
	if cc.Path != "" {
		extra["path"] = cc.Path
	}
	if cc.Host != "" {
		extra["host"] = cc.Host
	}
	if cc.Country != "" {
		extra["country"] = cc.Country
	}
	if cc.PollInterval > 0 {
		extra["poll_interval"] = cc.PollInterval.String()
	}
	return connector.ConnectorConfig{
		Provider: cc.Provider,
		APIKey:   cc.APIKey,
		Endpoint: cc.Endpoint,
		Extra:    extra,
	}
}
