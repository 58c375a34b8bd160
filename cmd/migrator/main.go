package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rflorenc/ipam-migrator/internal/api"
	"github.com/rflorenc/ipam-migrator/internal/config"
	"github.com/rflorenc/ipam-migrator/internal/logging"
	"github.com/rflorenc/ipam-migrator/internal/mapping"
	"github.com/rflorenc/ipam-migrator/internal/metrics"
	"github.com/rflorenc/ipam-migrator/internal/migration"
	"github.com/rflorenc/ipam-migrator/internal/models"
	"github.com/rflorenc/ipam-migrator/internal/platform"
	"github.com/rflorenc/ipam-migrator/internal/platform/netbox"
	"github.com/rflorenc/ipam-migrator/internal/platform/phpipam"
	"github.com/rflorenc/ipam-migrator/internal/retry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	exitOK          = 0
	exitError       = 1
	exitUsage       = 2
	exitInterrupted = 130
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags, err := config.ParseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if flags.Version {
		fmt.Printf("ipam-migrator %s (commit: %s, built: %s)\n", version, commit, date)
		return exitOK
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error:\n%v\n", err)
		return exitError
	}

	state := models.NewRun(cfg.DryRun)
	logger, err := logging.New(cfg.LogLevel, state)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	defer logger.Sync()

	m, collector, err := build(cfg, state, logger)
	if err != nil {
		logger.Error("Setup failed", zap.Error(err))
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var summary models.Summary
	g, gctx := errgroup.WithContext(ctx)
	srv, err := statusServer(cfg.StatusListen, state, collector)
	if err != nil {
		logger.Error("Status server setup failed", zap.Error(err))
		return exitError
	}
	if srv != nil {
		g.Go(func() error {
			logger.Info("Status server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		var runErr error
		summary, runErr = m.Run(gctx)
		if srv != nil {
			shutdown(srv, shutdownTimeout, logger)
		}
		return runErr
	})
	runErr := g.Wait()

	if err := migration.WriteReport(os.Stdout, summary); err != nil {
		logger.Error("Writing report", zap.Error(err))
	}
	if cfg.ReportFile != "" {
		if err := migration.WriteReportFile(cfg.ReportFile, summary); err != nil {
			logger.Error("Writing report file", zap.String("path", cfg.ReportFile), zap.Error(err))
		} else {
			logger.Info("Report written", zap.String("path", cfg.ReportFile))
		}
	}

	switch {
	case ctx.Err() != nil:
		return exitInterrupted
	case runErr != nil:
		return exitError
	}
	return exitOK
}

// build wires the API clients, the mapping table and the migrator.
func build(cfg config.Config, state *models.Run, logger *zap.Logger) (*migration.Migrator, *metrics.Collector, error) {
	srcAPI, err := platform.NewClient(platform.Config{
		BaseURL:    cfg.SourceURL,
		AuthHeader: phpipam.TokenHeader,
		AuthValue:  cfg.SourceToken,
		SSLVerify:  cfg.SSLVerify,
		CACertFile: cfg.CACertFile,
		Timeout:    cfg.HTTPTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("phpIPAM client: %w", err)
	}
	dstAPI, err := platform.NewClient(platform.Config{
		BaseURL:    cfg.TargetURL,
		AuthHeader: netbox.AuthHeader,
		AuthValue:  netbox.AuthValue(cfg.TargetToken),
		SSLVerify:  cfg.SSLVerify,
		CACertFile: cfg.CACertFile,
		Timeout:    cfg.HTTPTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("NetBox client: %w", err)
	}
	if !cfg.SSLVerify {
		logger.Warn("TLS certificate verification is disabled")
	}

	table, err := mapping.Load(cfg.MappingFile)
	if err != nil {
		return nil, nil, err
	}
	if table.Len() > 0 {
		logger.Info("Loaded section mapping", zap.String("path", cfg.MappingFile), zap.Int("entries", table.Len()))
	}

	kinds, err := cfg.Kinds()
	if err != nil {
		return nil, nil, err
	}

	policy := retry.Policy{Attempts: cfg.RetryAttempts, Delay: cfg.RetryDelay}
	source := phpipam.NewClient(srcAPI,
		phpipam.WithPageSize(cfg.PageSize),
		phpipam.WithRetry(policy),
		phpipam.WithLogger(logger),
	)
	collector := metrics.NewCollector()

	m := migration.New(source, netbox.NewClient(dstAPI), state, migration.Options{
		DryRun:           cfg.DryRun,
		BatchSize:        cfg.BatchSize,
		RequestDelay:     cfg.RequestDelay,
		Retry:            policy,
		RequireSiteScope: cfg.RequireSiteScope,
		Entities:         kinds,
		Mapping:          table,
		Logger:           logger,
		Metrics:          collector,
	})
	return m, collector, nil
}

// shutdown stops the status server, waiting up to timeout for open
// requests and websocket streams.
func shutdown(srv *http.Server, timeout time.Duration, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Status server shutdown", zap.String("addr", srv.Addr), zap.Error(err))
	}
}

// statusServer returns nil when no listen address is configured.
func statusServer(addr string, state *models.Run, collector *metrics.Collector) (*http.Server, error) {
	if addr == "" {
		return nil, nil
	}
	metricsHandler, err := metrics.Handler(collector)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(&api.Server{Run: state, Metrics: metricsHandler}),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}
