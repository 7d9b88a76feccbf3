package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/crimson-sun/swatch/internal/config"
	"github.com/crimson-sun/swatch/internal/logging"

	// Register connector implementations.
	_ "github.com/crimson-sun/swatch/internal/connector/feed"
	_ "github.com/crimson-sun/swatch/internal/connector/file"
)

// app carries state shared by every subcommand once flags are parsed.
type app struct {
	configPath  string
	metricsAddr string
	logLevel    string

	cfg     *config.Config
	metrics *http.Server
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "swatch",
		Short:         "Hybrid product attribute scorer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "config file (default: swatch.yaml if present)")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	pf.StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newClassifyCmd(a),
		newAnalyzeCmd(a),
		newBatchCmd(a),
		newTaxonomyCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if a.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		a.metrics = &http.Server{Addr: a.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error().Err(err).Str("addr", a.metricsAddr).Msg("metrics server failed")
			}
		}()
		logging.Info().Str("addr", a.metricsAddr).Msg("serving metrics")
	}
	return nil
}

func (a *app) teardown() error {
	if a.metrics == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.metrics.Shutdown(ctx)
}
