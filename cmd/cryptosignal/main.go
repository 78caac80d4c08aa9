package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cryptosignal/config"
	"cryptosignal/internal/broadcast"
	"cryptosignal/internal/channel"
	"cryptosignal/internal/dashboard"
	"cryptosignal/internal/metrics"
	"cryptosignal/logger"
	"cryptosignal/models"
	"cryptosignal/processor"
	"cryptosignal/reader"
	"cryptosignal/writer"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	exportTo := flag.String("export", "", "Convert the configured source to parquet under a directory or s3://bucket/prefix and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting cryptosignal")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}

	src, err := buildSource(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to create source")
		os.Exit(1)
	}
	adapters := buildAdapters(cfg, src)

	if *exportTo != "" {
		if err := runExport(ctx, cfg, adapters, *exportTo); err != nil {
			log.WithError(err).Error("export failed")
			os.Exit(1)
		}
		log.Info("export completed")
		return
	}

	if err := run(ctx, cfg, adapters); err != nil {
		log.WithError(err).Error("cryptosignal stopped with error")
		os.Exit(1)
	}
	log.Info("cryptosignal stopped")
}

func buildSource(ctx context.Context, cfg *config.Config) (reader.Source, error) {
	if cfg.Source.S3.Enabled {
		return reader.NewS3Source(ctx, cfg.Source.S3)
	}
	return reader.NewDirSource(cfg.Source.Root), nil
}

func buildAdapters(cfg *config.Config, src reader.Source) map[string]reader.VenueAdapter {
	opts := reader.Options{TopN: cfg.Source.TopN, GapThresholdMs: cfg.Source.GapThresholdMs}
	venues := make(map[string]struct{})
	for _, v := range cfg.Venues {
		venues[v] = struct{}{}
	}
	for _, p := range cfg.Pairs {
		venues[p.VenueA] = struct{}{}
		venues[p.VenueB] = struct{}{}
	}

	adapters := make(map[string]reader.VenueAdapter, len(venues))
	for v := range venues {
		if cfg.Source.Format == "parquet" {
			adapters[v] = reader.NewParquetReader(v, src, opts)
		} else {
			adapters[v] = reader.NewFixtureReader(v, src, opts)
		}
	}
	return adapters
}

func runExport(ctx context.Context, cfg *config.Config, adapters map[string]reader.VenueAdapter, dest string) error {
	log := logger.GetLogger().WithComponent("export")

	var sink writer.Sink
	if bucket, prefix, ok := parseS3URL(dest); ok {
		s3cfg := cfg.Source.S3
		s3cfg.Bucket, s3cfg.Prefix = bucket, prefix
		s, err := writer.NewS3Sink(ctx, s3cfg)
		if err != nil {
			return err
		}
		sink = s
	} else {
		sink = writer.NewDirSink(dest)
	}

	symbols := make(map[string][]string)
	for _, p := range cfg.Pairs {
		symbols[p.VenueA] = append(symbols[p.VenueA], p.Symbol)
		symbols[p.VenueB] = append(symbols[p.VenueB], p.Symbol)
	}

	exporter := writer.NewExporter(sink)
	for venue, syms := range symbols {
		stats, err := exporter.ExportVenue(ctx, adapters[venue], syms...)
		if err != nil {
			return fmt.Errorf("export %s: %w", venue, err)
		}
		log.WithFields(logger.Fields{
			"venue":   venue,
			"objects": stats.Objects,
			"rows":    stats.Rows,
			"bytes":   stats.Bytes,
		}).Info("venue exported")
	}
	return exporter.Commit(ctx)
}

func parseS3URL(dest string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(dest, "s3://")
	if !found || rest == "" {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, strings.Trim(prefix, "/"), true
}

func run(ctx context.Context, cfg *config.Config, adapters map[string]reader.VenueAdapter) error {
	log := logger.GetLogger()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Logging.ReportInterval, func() logger.Fields {
			return logger.Fields{"ingestion": metrics.Totals()}
		})
	}

	var wg sync.WaitGroup

	if cfg.Metrics.PrometheusAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.Metrics.PrometheusAddr); err != nil {
				log.WithError(err).Warn("prometheus endpoint failed")
			}
		}()
	}

	channels := channel.NewChannels(cfg.Channels.RawBuffer, cfg.Channels.FeatureBuffer)
	metrics.StartChannelSizeMetrics(ctx, channels, time.Second)

	dash, err := dashboard.NewServer(cfg.Dashboard, log)
	if err != nil {
		return fmt.Errorf("create dashboard: %w", err)
	}
	if dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.Run(ctx, cfg.App.Name); err != nil {
				log.WithError(err).Warn("dashboard stopped")
			}
		}()
	}

	var (
		hub      *broadcast.Hub
		hubInput chan models.FeatureBatch
	)
	if cfg.Broadcast.Enabled {
		hub = broadcast.NewHub(cfg.Broadcast.History)
		hubInput = make(chan models.FeatureBatch, cfg.Channels.FeatureBuffer)
		go hub.Run(ctx, hubInput)
		hub.StartReport(ctx, cfg.Processor.ReportInterval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hub.Serve(ctx, cfg.Broadcast.Address); err != nil {
				log.WithError(err).Warn("broadcast server stopped")
			}
		}()
	}

	proc := processor.NewFeatureProcessor(cfg, channels.Feed)
	if err := proc.Start(ctx); err != nil {
		return fmt.Errorf("start processor: %w", err)
	}
	dash.Watch(proc, channels.Feed)

	handoffDone := make(chan struct{})
	go func() {
		defer close(handoffDone)
		handoff(ctx, channels.Feed.Norm, dash, hubInput)
	}()

	pairs := make([]reader.Pair, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		pairs = append(pairs, reader.Pair{
			Name:   p.Name(),
			Symbol: p.Symbol,
			Legs:   [2]reader.VenueAdapter{adapters[p.VenueA], adapters[p.VenueB]},
		})
	}
	replayer := reader.NewReplayer(pairs, channels.Feed, reader.ReplayOptions{
		RecordsPerSecond: cfg.Replay.RecordsPerSecond,
		Burst:            cfg.Replay.Burst,
	})

	log.Info("all components started successfully")

	replayErr := replayer.Run(ctx)
	channels.Feed.CloseRaw()
	if replayErr != nil && !errors.Is(replayErr, context.Canceled) {
		log.WithError(replayErr).Error("replay failed")
	}

	select {
	case <-proc.Done():
	case <-ctx.Done():
	}
	<-handoffDone

	stats := proc.Stats()
	log.WithFields(logger.Fields{
		"events_processed": stats.EventsProcessed,
		"batches":          stats.BatchesProduced,
		"degraded":         stats.BatchesDegraded,
		"dropped":          stats.BatchesDropped,
	}).Info("replay finished")

	if ctx.Err() == nil && (hub != nil || dash != nil) {
		log.Info("replay complete; serving until shutdown signal")
		<-ctx.Done()
	}

	log.Info("starting graceful shutdown")
	proc.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	if replayErr != nil && !errors.Is(replayErr, context.Canceled) {
		return replayErr
	}
	return nil
}

// handoff drains emitted feature batches into the dashboard and broadcast
// hub. Without a hub each batch is logged.
func handoff(ctx context.Context, in <-chan models.FeatureBatch, dash *dashboard.Server, hubInput chan<- models.FeatureBatch) {
	log := logger.GetLogger().WithComponent("handoff")
	if hubInput != nil {
		defer close(hubInput)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-in:
			if !ok {
				return
			}
			dash.ObserveBatch(batch)
			if hubInput == nil {
				log.WithFields(logger.Fields{
					"pair":     batch.Pair,
					"ts":       batch.Ts,
					"z":        batch.LLCA.Z,
					"degraded": batch.Degraded,
				}).Debug("feature batch")
				continue
			}
			select {
			case hubInput <- batch:
			case <-ctx.Done():
				return
			}
		}
	}
}
