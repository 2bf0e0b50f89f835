package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/ucdsync/cli/render"
	"github.com/pithecene-io/ucdsync/log"
	"github.com/pithecene-io/ucdsync/metrics"
	"github.com/pithecene-io/ucdsync/upstream"
)

// RefreshRow is one version in the refresh output.
type RefreshRow struct {
	Version string `json:"version"`
	Files   int    `json:"files"`
	Skipped int    `json:"skipped_dirs"`
	Error   string `json:"error,omitempty"`
}

// RefreshCommand returns the refresh command.
func RefreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Crawl upstream and rewrite version manifests",
		Flags: append([]cli.Flag{
			&cli.StringSliceFlag{
				Name:  "version",
				Usage: "Refresh only `VERSION` (repeatable; default: every discovered version)",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Refresh repeatedly every `INTERVAL` until interrupted",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on `ADDR` (e.g. :9090)",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Number of versions crawled concurrently",
			},
		}, OutputFlags()...),
		Action: refreshAction,
	}
}

func refreshAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	e, err := loadEnv(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	defer e.close()

	versions := c.StringSlice("version")
	if len(versions) == 0 {
		versions = e.cfg.Crawl.Versions
	}
	interval := c.Duration("interval")
	if interval == 0 {
		interval = e.cfg.Crawl.Interval.Duration
	}
	if interval < 0 {
		return cli.Exit(fmt.Sprintf("--interval must be positive, got %s", interval), exitFailed)
	}
	addr := c.String("metrics-addr")
	if addr == "" {
		addr = e.cfg.Metrics.Addr
	}
	batch := c.Int("batch-size")
	if batch == 0 {
		batch = e.cfg.Crawl.BatchSize
	}

	ctx, stop := signalContext(c.Context)
	defer stop()

	manifests, err := e.manifests(ctx)
	if err != nil {
		return infraError(err)
	}
	lister := e.lister()
	refresher := upstream.NewRefresher(
		upstream.NewDiscoverer(lister, e.cfg.Upstream.BaseURL),
		upstream.NewCrawler(lister, e.logger.With(map[string]any{"subsystem": "crawl"}), e.metrics),
		manifests,
		upstream.RefreshConfig{
			BaseURL:    e.cfg.Upstream.BaseURL,
			BatchSize:  batch,
			BatchDelay: e.cfg.Crawl.BatchDelay.Duration,
		},
		e.logger.With(map[string]any{"subsystem": "refresh"}),
		e.metrics,
	)

	if addr != "" {
		shutdown, err := serveMetrics(ctx, addr, e.metrics, e.logger)
		if err != nil {
			return infraError(err)
		}
		defer shutdown()
		e.logger.Info("serving metrics", map[string]any{"addr": addr})
	}

	if interval > 0 {
		if err := refresher.Loop(ctx, interval, versions...); err != nil {
			return infraError(err)
		}
		return nil
	}

	report, err := refresher.Refresh(ctx, versions)
	if err != nil {
		return infraError(err)
	}
	if err := r.Render(refreshRows(report)); err != nil {
		return err
	}
	if failed := report.Failed(); len(failed) > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d versions failed to refresh", len(failed), len(report.Results)), exitFailed)
	}
	return nil
}

func refreshRows(report *upstream.RefreshReport) []RefreshRow {
	rows := make([]RefreshRow, 0, len(report.Results))
	for _, res := range report.Results {
		row := RefreshRow{
			Version: res.Version,
			Files:   res.Files,
			Skipped: len(res.Skipped),
		}
		if res.Err != nil {
			row.Error = res.Err.Error()
		}
		rows = append(rows, row)
	}
	return rows
}

// serveMetrics starts a /metrics listener on addr. The returned func shuts
// it down.
func serveMetrics(ctx context.Context, addr string, collector *metrics.Collector, logger *log.Logger) (func(), error) {
	handler, err := metrics.Handler(collector)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", map[string]any{"error": err.Error()})
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}
