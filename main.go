package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"arbflow/config"
	"arbflow/internal/channel/events"
	"arbflow/internal/dashboard"
	"arbflow/internal/instrument"
	"arbflow/internal/metrics"
	"arbflow/logger"
	"arbflow/processor"
	"arbflow/reader"
	"arbflow/reader/deribit"
	"arbflow/reader/okx"
	"arbflow/writer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit status. Reports go to stdout; diagnostics and
// logs go to stderr.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	fs := flag.NewFlagSet("arbflow", flag.ContinueOnError)
	fs.SetOutput(stderr)
	okxSymbol := fs.String("okx-symbol", "", "OKX option instrument, e.g. BTC-USD-251031-140000-P")
	deribitSymbol := fs.String("deribit-symbol", "", "Deribit option instrument, e.g. BTC-31OCT25-140000-P")
	configPath := fs.String("config", config.DefaultConfigPath, "Path to configuration file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *okxSymbol == "" || *deribitSymbol == "" {
		fmt.Fprintln(stderr, "both -okx-symbol and -deribit-symbol are required")
		fs.Usage()
		return 2
	}

	cfg, err := config.LoadOrDefault(config.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		return 1
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		return 1
	}

	log.WithFields(logger.Fields{
		"service":        cfg.Arbflow.Name,
		"version":        cfg.Arbflow.Version,
		"environment":    config.AppEnvironment(),
		"okx_symbol":     *okxSymbol,
		"deribit_symbol": *deribitSymbol,
	}).Info("starting arbflow")

	same, err := instrument.SameInstrument(*okxSymbol, *deribitSymbol)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to parse instruments: %v\n", err)
		return 0
	}
	if !same {
		fmt.Fprintln(stderr, "Error: Instruments do not match!")
		fmt.Fprintf(stderr, "Okex: %s\n", *okxSymbol)
		fmt.Fprintf(stderr, "Deribit: %s\n", *deribitSymbol)
		return 0
	}

	if cw := cfg.Metrics.CloudWatch; cw.Enabled {
		logger.InitCloudWatch(ctx, logger.CloudWatchOptions{
			Region:           cw.Region,
			Namespace:        cw.Namespace,
			Dashboard:        cw.Dashboard,
			AccessKeyID:      cw.AccessKeyID,
			SecretAccessKey:  cw.SecretAccessKey,
			PublishPerSecond: cw.PublishPerSecond,
		})
	}

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval)
	}

	stream := events.NewStream(cfg.Channels.EventBuffer)
	defer stream.Close()

	okxFeed := reader.NewFeed(cfg.Reader, okx.New(cfg.Source.Okx.URL), *okxSymbol, cfg.Source.Okx.LocalIP, stream)
	deribitFeed := reader.NewFeed(cfg.Reader,
		deribit.New(cfg.Source.Deribit.URL, cfg.Source.Deribit.Depth, cfg.Source.Deribit.Interval),
		*deribitSymbol, cfg.Source.Deribit.LocalIP, stream)
	coordinator := processor.NewCoordinator(stream.Events(), writer.NewReportWriter(stdout))

	status := dashboard.NewServer(cfg.Dashboard, log)
	status.AddStatus("event_stream", func() interface{} { return stream.GetStats() })
	status.AddStatus("coordinator", func() interface{} { return coordinator.GetStats() })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return okxFeed.Run(gctx) })
	g.Go(func() error { return deribitFeed.Run(gctx) })
	g.Go(func() error { return coordinator.Run(gctx) })
	g.Go(func() error {
		if err := metrics.Serve(gctx, cfg.Metrics.ListenAddr); err != nil {
			log.WithComponent("metrics").WithError(err).Warn("metrics endpoint stopped")
		}
		return nil
	})
	g.Go(func() error {
		if err := status.Run(gctx, cfg.Arbflow.Name); err != nil {
			log.WithComponent("dashboard").WithError(err).Warn("dashboard stopped")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("arbflow stopped with error")
		return 1
	}

	stats := stream.GetStats()
	log.WithFields(logger.Fields{
		"events_sent":      stats.Sent,
		"events_delivered": stats.Delivered,
		"events_dropped":   stats.Dropped,
	}).Info("arbflow stopped")
	return 0
}
