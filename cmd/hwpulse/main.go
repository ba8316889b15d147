package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/probelab/hwpulse/internal/collector"
	"github.com/probelab/hwpulse/internal/config"
	"github.com/probelab/hwpulse/internal/snapshot"
	"github.com/probelab/hwpulse/internal/version"
)

func main() {
	// Subcommands run their own flag sets.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "backup":
			runBackup(os.Args[2:])
			return
		case "restore":
			runRestore(os.Args[2:])
			return
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	collectorList := flag.String("collectors", "", "comma-separated collectors to run (default: all)")
	allCollectors := flag.Bool("all", false, "run every collector, overriding the configured subset")
	interval := flag.Duration("interval", 0, "collection interval, overriding the configured value")
	snapshotMode := flag.Bool("snapshot", false, "write JSON snapshots instead of recording to the datastore")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("hwpulse agent starting", zap.String("version", version.Short()))

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	settings, err := cfg.Settings()
	if err != nil {
		logger.Fatal("failed to decode configuration", zap.Error(err))
	}

	names := settings.Collectors
	if *collectorList != "" {
		names = strings.Split(*collectorList, ",")
	}
	if *allCollectors {
		names = nil
	}
	if *interval > 0 {
		settings.Interval = *interval
	}
	collectors, err := buildCollectors(names, settings, logger)
	if err != nil {
		logger.Fatal("failed to build collectors", zap.Error(err))
	}

	runner := collector.NewRunner(settings.DatabasePath, logger)
	logger.Info("collectors ready",
		zap.Int("count", len(collectors)),
		zap.String("run_id", runner.RunID().String()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *snapshotMode {
		w, err := snapshot.NewWriter(settings.SnapshotDir, runner.RunID().String())
		if err != nil {
			logger.Fatal("failed to prepare snapshot dir", zap.Error(err))
		}
		runner.Snapshot(ctx, collectors, w)
		logger.Info("snapshot run complete", zap.String("dir", settings.SnapshotDir))
		return
	}

	runner.Run(ctx, collectors)
	if settings.Interval <= 0 {
		logger.Info("collection run complete", zap.String("database", settings.DatabasePath))
		return
	}

	// Continuous mode: collect on each tick until a shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(settings.Interval)
	defer ticker.Stop()

	logger.Info("entering continuous collection", zap.Duration("interval", settings.Interval))
	for {
		select {
		case <-ticker.C:
			runner.Run(ctx, collectors)
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			cancel()
			logger.Info("hwpulse agent stopped")
			return
		}
	}
}

// buildCollectors instantiates the named collectors, or all of them when no
// names are given.
func buildCollectors(names []string, settings *config.Settings, logger *zap.Logger) ([]collector.Collector, error) {
	builders := map[string]func() (collector.Collector, error){
		"board": func() (collector.Collector, error) {
			return collector.NewBoard(logger)
		},
		"cpu": func() (collector.Collector, error) {
			return collector.NewCPU(logger, settings.SampleDelay)
		},
		"gpu": func() (collector.Collector, error) {
			return collector.NewGPU(logger, settings.SampleDelay)
		},
		"memory": func() (collector.Collector, error) {
			return collector.NewMemory(logger)
		},
		"network": func() (collector.Collector, error) {
			return collector.NewNetwork(logger, settings.SampleDelay)
		},
		"storage": func() (collector.Collector, error) {
			return collector.NewStorage(logger, settings.SampleDelay)
		},
		"system": func() (collector.Collector, error) {
			return collector.NewSystem(logger, settings.TopProcesses)
		},
	}

	if len(names) == 0 {
		names = []string{"board", "cpu", "gpu", "memory", "network", "storage", "system"}
	}

	var collectors []collector.Collector
	for _, name := range names {
		build, ok := builders[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("unknown collector %q", name)
		}
		c, err := build()
		if err != nil {
			return nil, fmt.Errorf("collector %q: %w", name, err)
		}
		collectors = append(collectors, c)
	}
	return collectors, nil
}
