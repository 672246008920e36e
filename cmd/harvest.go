package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/distindex/harvester/internal/config"
	"github.com/distindex/harvester/internal/crawl"
	"github.com/distindex/harvester/internal/fetch"
	"github.com/distindex/harvester/internal/logging"
	"github.com/distindex/harvester/internal/store"
)

var metricsAddr string

func newHarvestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Runs one harvest pass over all configured targets",
		Long: `Fetches each target's archive roots, ranks the discovered version
folders newest first, and persists any releases and download links that are
not already known.`,
		RunE: runHarvest,
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	return cmd
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	st, err := store.New(ctx, store.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.ConnLifetime(),
	})
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	staticFetcher, err := fetch.NewStaticFetcher(fetch.Options{
		UserAgent:      cfg.Crawl.UserAgent,
		RequestTimeout: cfg.HTTPTimeout(),
		Concurrency:    cfg.Crawl.Parallelism,
		DomainQPS:      cfg.HTTP.DomainQPS,
	}, logger)
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}
	static := fetch.WithRetry(staticFetcher, cfg.RetryDelay(), logger)

	var rendered fetch.Fetcher
	if cfg.Headless.Enabled {
		rf, err := fetch.NewRenderedFetcher(fetch.Options{
			UserAgent:      cfg.Crawl.UserAgent,
			RequestTimeout: cfg.NavTimeout(),
			Concurrency:    cfg.Headless.MaxParallel,
			DomainQPS:      cfg.HTTP.DomainQPS,
		}, logger)
		if err != nil {
			return fmt.Errorf("init renderer: %w", err)
		}
		defer func() { _ = rf.Close() }()
		rendered = rf
	}
	detector := fetch.NewRenderDetector(cfg.Headless.MinHTMLBytes, nil)

	targets, err := cfg.CompiledTargets()
	if err != nil {
		return fmt.Errorf("compile targets: %w", err)
	}
	if len(targets) == 0 {
		logger.Warn("no targets configured, nothing to do")
		return nil
	}

	stopMetrics := serveMetrics(metricsAddr, logger)
	defer stopMetrics()

	harvester := crawl.New(static, rendered, detector, st, logger, crawl.Options{
		Parallelism:         cfg.Crawl.Parallelism,
		FolderVisitCap:      cfg.Crawl.FolderVisitCap,
		MaxNewReleases:      cfg.Crawl.MaxNewReleases,
		Delay:               cfg.CrawlDelay(),
		SkipUnparsedFolders: cfg.Crawl.SkipUnparsedFolders,
	})

	summary, err := harvester.Run(ctx, targets)
	logSummary(logger, summary)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("harvest: %w", err)
	}
	return nil
}

func logSummary(logger *zap.Logger, s crawl.Summary) {
	logger.Info("harvest finished",
		zap.String("run_id", s.RunID),
		zap.Duration("elapsed", s.Finished.Sub(s.Started)),
		zap.Int("targets_processed", s.TargetsProcessed),
		zap.Int("targets_failed", s.TargetsFailed),
		zap.Int("releases_added", s.ReleasesAdded),
		zap.Int("downloads_added", s.DownloadsAdded),
	)
	for _, res := range s.Targets {
		fields := []zap.Field{
			zap.String("target", res.Slug),
			zap.String("root", res.RootURL),
			zap.Int("folders_visited", res.FoldersVisited),
			zap.Int("releases_added", res.ReleasesAdded),
			zap.Int("downloads_added", res.DownloadsAdded),
		}
		if res.Failed() {
			fields = append(fields, zap.String("reason", res.Reason))
			logger.Warn("target failed", fields...)
			continue
		}
		logger.Info("target done", fields...)
	}
}

// serveMetrics exposes the Prometheus registry for the duration of the run.
// Returns a no-op closer when no address is configured.
func serveMetrics(addr string, logger *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
