package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orderflow-lab/internal/config"
	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/ingest"
	"orderflow-lab/internal/normalize"
	"orderflow-lab/internal/observability"
	"orderflow-lab/internal/pipeline"
	"orderflow-lab/internal/storage"
	chstore "orderflow-lab/internal/storage/clickhouse"
	"orderflow-lab/internal/storage/memory"
	pgstore "orderflow-lab/internal/storage/postgres"
	"orderflow-lab/internal/synthetic"
	"orderflow-lab/internal/verification"
)

func main() {
	// Parse flags
	mode := flag.String("mode", "archive", "Input mode: archive, files, or synth")
	configPath := flag.String("config", "", "Path to YAML config file")
	outputDir := flag.String("output-dir", "out", "Directory for dataset.csv and manifest.json")
	fromTime := flag.String("from-time", "", "Start of the build range (RFC3339)")
	toTime := flag.String("to-time", "", "End of the build range (RFC3339)")
	instrument := flag.String("instrument", "", "Instrument for files/synth mode rows without one")
	levelsPath := flag.String("levels", "", "Level-delta CSV path for files mode")
	quotesPath := flag.String("quotes", "", "Quote CSV path for files mode")
	tradesPath := flag.String("trades", "", "Trade CSV path for files mode")
	synthSteps := flag.Int("synth-steps", synthetic.DefaultSteps, "Steps to generate in synth mode")
	synthSeed := flag.Int64("synth-seed", synthetic.DefaultSeed, "Random seed for synth mode")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	verify := flag.Bool("verify", false, "Rebuild the dataset twice and require byte-identical outputs")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[build] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Start metrics server if enabled
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	from, to, err := parseTimeRange(*fromTime, *toTime)
	if err != nil {
		logger.Fatalf("Invalid time range: %v", err)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to signal main goroutine completion
	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	// Run based on mode
	switch *mode {
	case "archive":
		err = runArchive(ctx, logger, cfg, *outputDir, from, to, *useMemory, *verify)
	case "files":
		err = runFiles(ctx, logger, cfg, *outputDir, *instrument, *levelsPath, *quotesPath, *tradesPath, from, to, *verify)
	case "synth":
		err = runSynth(ctx, logger, cfg, *outputDir, *instrument, *synthSteps, *synthSeed, *verify)
	default:
		logger.Fatalf("Unknown mode: %s", *mode)
	}

	// Signal completion to shutdown handler
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Build complete")
}

// parseTimeRange converts the RFC3339 range flags into Unix nanoseconds.
// Empty flags leave the bound open.
func parseTimeRange(fromStr, toStr string) (int64, int64, error) {
	var from, to int64

	if fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return 0, 0, fmt.Errorf("parse from-time: %w", err)
		}
		from = t.UnixNano()
	}
	if toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return 0, 0, fmt.Errorf("parse to-time: %w", err)
		}
		to = t.UnixNano()
	}
	if to != 0 && to <= from {
		return 0, 0, fmt.Errorf("to-time %s is not after from-time %s", toStr, fromStr)
	}

	return from, to, nil
}

// runArchive builds the dataset from the raw event archive.
func runArchive(ctx context.Context, logger *log.Logger, cfg *config.Config, outputDir string, from, to int64, useMemory, verify bool) error {
	// Require a configured DSN unless --use-memory is explicitly set
	if !useMemory && cfg.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required for archive mode (use --use-memory for in-memory storage)")
	}

	// Create stores (use interfaces)
	var updateStore storage.BookUpdateStore = memory.NewBookUpdateStore()
	var checkpointStore storage.CheckpointStore = memory.NewCheckpointStore()
	var tradeStore storage.TradeStore = memory.NewTradeStore()

	if !useMemory {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		updateStore = pgstore.NewBookUpdateStore(pool)
		checkpointStore = pgstore.NewCheckpointStore(pool)
		tradeStore = pgstore.NewTradeStore(pool)
	}

	source := ingest.NewArchiveLoader(updateStore, checkpointStore, tradeStore)
	return buildDataset(ctx, logger, cfg, source, outputDir, from, to, verify)
}

// runFiles loads tabular inputs into an in-memory staging archive, then
// builds from it.
func runFiles(ctx context.Context, logger *log.Logger, cfg *config.Config, outputDir, instrument, levelsPath, quotesPath, tradesPath string, from, to int64, verify bool) error {
	if levelsPath == "" && quotesPath == "" && tradesPath == "" {
		return fmt.Errorf("files mode needs at least one of --levels, --quotes, --trades")
	}

	opts := ingest.ManagerOptions{
		Normalizer: buildNormalizer(cfg.Engine),
	}
	if levelsPath != "" {
		opts.LevelSource = ingest.NewLevelFileSource(levelsPath, instrument)
	}
	if quotesPath != "" {
		opts.QuoteSource = ingest.NewQuoteFileSource(quotesPath, instrument)
	}
	if tradesPath != "" {
		opts.TradeSource = ingest.NewTradeFileSource(tradesPath, instrument)
	}

	source, err := stageArchive(ctx, logger, opts, from, to)
	if err != nil {
		return err
	}
	return buildDataset(ctx, logger, cfg, source, outputDir, from, to, verify)
}

// runSynth generates deterministic synthetic streams and builds from them.
func runSynth(ctx context.Context, logger *log.Logger, cfg *config.Config, outputDir, instrument string, steps int, seed int64, verify bool) error {
	gen := synthetic.NewGenerator(synthetic.Options{
		Instrument: instrument,
		Steps:      steps,
		Seed:       seed,
	})
	quotes, trades := gen.Generate()
	logger.Printf("Generated %d quotes and %d trades", len(quotes), len(trades))

	source, err := stageArchive(ctx, logger, ingest.ManagerOptions{
		QuoteSource: ingest.QuoteSliceSource(quotes),
		TradeSource: ingest.TradeSliceSource(trades),
		Normalizer:  buildNormalizer(cfg.Engine),
	}, 0, 0)
	if err != nil {
		return err
	}
	return buildDataset(ctx, logger, cfg, source, outputDir, 0, 0, verify)
}

// stageArchive archives the configured sources into fresh in-memory stores
// and returns a loader over them.
func stageArchive(ctx context.Context, logger *log.Logger, opts ingest.ManagerOptions, from, to int64) (*ingest.ArchiveLoader, error) {
	updateStore := memory.NewBookUpdateStore()
	checkpointStore := memory.NewCheckpointStore()
	tradeStore := memory.NewTradeStore()

	opts.UpdateStore = updateStore
	opts.CheckpointStore = checkpointStore
	opts.TradeStore = tradeStore

	stats, err := ingest.NewManager(opts).Archive(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load input: %w", err)
	}
	logger.Printf("Staged %d events: %d book updates, %d checkpoints, %d trades (%d malformed)",
		stats.Total(), stats.BookUpdates, stats.Checkpoints, stats.Trades, stats.Malformed)

	return ingest.NewArchiveLoader(updateStore, checkpointStore, tradeStore), nil
}

// buildDataset runs the dataset build over the source, optionally writing
// rows to the analytical sink and verifying reproducibility.
func buildDataset(ctx context.Context, logger *log.Logger, cfg *config.Config, source pipeline.EventSource, outputDir string, from, to int64, verify bool) error {
	params := engineParams(cfg.Engine)
	fingerprint := cfg.Engine.Fingerprint()

	builder := pipeline.NewBuilder(source, fingerprint, outputDir).
		WithParams(params).
		WithTimeRange(from, to).
		WithParallelism(cfg.Engine.Parallelism).
		WithLogger(logger)

	if cfg.Storage.ClickHouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.Storage.ClickHouseDSN)
		if err != nil {
			return fmt.Errorf("connect to clickhouse: %w", err)
		}
		defer conn.Close()
		builder = builder.WithSinks(chstore.NewOFIRecordStore(conn), chstore.NewFeatureRowStore(conn))
	}

	result, err := builder.Run(ctx)
	if err != nil {
		return fmt.Errorf("build dataset: %w", err)
	}

	logger.Printf("Dataset %s (%s)", result.ShortID, result.DatasetID)
	logger.Printf("  instruments=%d events=%d windows=%d rows=%d",
		len(result.Instruments), result.Events, result.Windows, result.Rows)
	logger.Printf("  labels=%d misses=%d dropped_no_label=%d dropped_low_confidence=%d",
		result.Labels, result.LabelMisses, result.Dropped.NoLabel, result.Dropped.LowConfidence)
	logger.Printf("  gaps=%d clamps=%d checkpoints=%d",
		result.Replay.SequenceGaps, result.Replay.NegativeQuantityClamps, result.Replay.Checkpoints)
	logger.Printf("Wrote %s", result.CSVPath)
	logger.Printf("Wrote %s", result.ManifestPath)

	if !verify {
		return nil
	}
	return verifyRebuild(ctx, logger, source, params, fingerprint, cfg.Engine.Parallelism, from, to)
}

// verifyRebuild runs the build twice more into scratch directories and
// requires byte-identical outputs. Scratch builds skip the analytical sink,
// which rejects duplicate dataset rows.
func verifyRebuild(ctx context.Context, logger *log.Logger, source pipeline.EventSource, params pipeline.Params, fingerprint string, parallelism int, from, to int64) error {
	logger.Println("Verifying reproducibility...")

	quiet := log.New(os.Stdout, "[verify] ", log.LstdFlags)
	verifier := verification.NewRebuildVerifier(func(ctx context.Context, dir string) (*verification.RunOutput, error) {
		res, err := pipeline.NewBuilder(source, fingerprint, dir).
			WithParams(params).
			WithTimeRange(from, to).
			WithParallelism(parallelism).
			WithLogger(quiet).
			Run(ctx)
		if err != nil {
			return nil, err
		}
		return &verification.RunOutput{
			DatasetID:    res.DatasetID,
			CSVPath:      res.CSVPath,
			ManifestPath: res.ManifestPath,
		}, nil
	})

	report, err := verifier.Verify(ctx)
	if err != nil {
		return fmt.Errorf("verify dataset: %w", err)
	}
	if !report.Match() {
		for _, res := range report.Results {
			for _, d := range res.Divergences {
				logger.Printf("Divergence %s@%d %s: %v != %v",
					res.Instrument, res.WindowStart, d.Field, d.Expected, d.Actual)
			}
		}
		return fmt.Errorf("dataset is not reproducible: %d of %d rows diverge (id_match=%t manifest_match=%t)",
			report.DivergentRows, report.TotalRows, report.DatasetIDMatch, report.ManifestMatch)
	}

	logger.Printf("Verified: rebuild reproduced %d rows byte for byte", report.TotalRows)
	return nil
}

// engineParams maps the engine configuration onto replay parameters.
func engineParams(e config.EngineConfig) pipeline.Params {
	horizons := make([]time.Duration, len(e.Horizons))
	for i, h := range e.Horizons {
		horizons[i] = h.Std()
	}
	return pipeline.Params{
		WindowSize:   e.WindowSize.Std(),
		DepthLevels:  e.DepthLevels,
		OFIPolicy:    domain.OFIPolicyName(e.OFIPolicy),
		Horizons:     horizons,
		RefPrice:     domain.RefPriceStrategy(e.RefPrice),
		VWAPInterval: e.VWAPInterval.Std(),
		DeadBand:     e.DeadBand,
		GapPolicy:    domain.GapPolicy(e.GapPolicy),
		ShortSpan:    e.RollingShortSpan,
		LongSpan:     e.RollingLongSpan,
	}
}

// buildNormalizer constructs the stream normalizer from engine settings.
func buildNormalizer(e config.EngineConfig) *normalize.Normalizer {
	return normalize.New(normalize.Options{
		SkewTolerance: e.SkewTolerance.Std(),
		Malformed:     domain.MalformedPolicy(e.MalformedPolicy),
	})
}
