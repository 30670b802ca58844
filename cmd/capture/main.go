package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"orderflow-lab/internal/config"
	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/ingest"
	"orderflow-lab/internal/observability"
	"orderflow-lab/internal/storage"
	"orderflow-lab/internal/storage/memory"
	pgstore "orderflow-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file")
	instruments := flag.String("instruments", "", "Comma-separated venue symbols, each optionally SYMBOL=name (overrides config)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	noSnapshot := flag.Bool("no-snapshot", false, "Skip the book snapshot bootstrap")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[capture] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	symbols := resolveSymbols(*instruments, cfg.Capture.Instruments)
	if len(symbols) == 0 {
		logger.Fatal("No instruments specified. Use --instruments or capture.instruments")
	}
	if cfg.Capture.WSEndpoint == "" {
		logger.Fatal("capture.ws_endpoint is required")
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

	err = runCapture(ctx, logger, cfg, symbols, *useMemory, *noSnapshot)

	// Signal completion to shutdown handler
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// resolveSymbols parses venue symbols from the flag, falling back to the
// configured list. Each entry is a bare venue symbol or "SYMBOL=name" to
// archive under a different instrument name.
func resolveSymbols(flagValue string, configured []string) map[string]string {
	entries := configured
	if flagValue != "" {
		entries = strings.Split(flagValue, ",")
	}

	symbols := make(map[string]string)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		symbol, name, _ := strings.Cut(entry, "=")
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol != "" {
			symbols[symbol] = strings.TrimSpace(name)
		}
	}
	return symbols
}

// runCapture connects the venue feed and archives it until cancelled.
func runCapture(ctx context.Context, logger *log.Logger, cfg *config.Config, symbols map[string]string, useMemory, noSnapshot bool) error {
	// Require a configured DSN unless --use-memory is explicitly set
	if !useMemory && cfg.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required (use --use-memory for in-memory storage)")
	}

	// Create stores (use interfaces)
	var updateStore storage.BookUpdateStore = memory.NewBookUpdateStore()
	var checkpointStore storage.CheckpointStore = memory.NewCheckpointStore()
	var tradeStore storage.TradeStore = memory.NewTradeStore()
	var sessionStore storage.CaptureSessionStore = memory.NewCaptureSessionStore()

	if !useMemory {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		updateStore = pgstore.NewBookUpdateStore(pool)
		checkpointStore = pgstore.NewCheckpointStore(pool)
		tradeStore = pgstore.NewTradeStore(pool)
		sessionStore = pgstore.NewCaptureSessionStore(pool)
	}

	// Subscribe depth, quote and trade streams for every symbol
	ordered := make([]string, 0, len(symbols))
	for symbol := range symbols {
		ordered = append(ordered, symbol)
	}
	sort.Strings(ordered)

	streams := make([]string, 0, 3*len(ordered))
	names := make([]string, 0, len(ordered))
	for _, symbol := range ordered {
		streams = append(streams,
			ingest.DepthStream(symbol),
			ingest.TickerStream(symbol),
			ingest.TradeStream(symbol),
		)
		name := symbols[symbol]
		if name == "" {
			name = symbol
		}
		names = append(names, name)
	}

	url := ingest.CombinedStreamURL(cfg.Capture.WSEndpoint, streams)
	logger.Printf("Connecting to %s", url)
	feed, err := ingest.NewFeedClient(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connect feed: %w", err)
	}
	defer feed.Close()

	var snapshots *ingest.SnapshotClient
	if !noSnapshot && cfg.Capture.SnapshotURL != "" {
		snapshots = ingest.NewSnapshotClient(cfg.Capture.SnapshotURL,
			ingest.WithSnapshotDepth(cfg.Capture.SnapshotDepth),
			ingest.WithSnapshotRateLimit(cfg.Capture.SnapshotRPS),
		)
	}

	// Open the capture session before any event is archived
	session := &domain.CaptureSession{
		SessionID:   uuid.NewString(),
		Venue:       cfg.Capture.Venue,
		Instruments: names,
		StartedAt:   time.Now().UnixNano(),
	}
	if err := sessionStore.Insert(ctx, session); err != nil {
		return fmt.Errorf("open capture session: %w", err)
	}
	logger.Printf("Capture session %s: venue=%s instruments=%v",
		session.SessionID, session.Venue, names)

	archiver := ingest.NewArchiver(ingest.ArchiverOptions{
		Messages:        feed.Events(),
		Snapshots:       snapshots,
		UpdateStore:     updateStore,
		CheckpointStore: checkpointStore,
		TradeStore:      tradeStore,
		Symbols:         symbols,
		FlushInterval:   cfg.Capture.FlushInterval.Std(),
		Logger:          logger,
	})

	runErr := archiver.Run(ctx)

	// Close the session with its own deadline; ctx is already cancelled here.
	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sessionStore.Finish(finishCtx, session.SessionID, time.Now().UnixNano(), archiver.EventCount()); err != nil {
		logger.Printf("Error closing capture session: %v", err)
	}

	logger.Printf("Captured %d events (%d malformed, %d reconnects)",
		archiver.EventCount(), archiver.MalformedCount(), feed.Reconnects())

	return runErr
}
