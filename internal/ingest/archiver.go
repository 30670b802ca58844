package ingest

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/normalize"
	"orderflow-lab/internal/observability"
	"orderflow-lab/internal/storage"
)

// Archiver consumes live feed messages and writes them to the raw archive in
// periodic batches. It owns the capture-side ingestion sequence, so events
// keep one stable global order across flushes, and it applies the venue's
// continuity rules: stale depth diffs and trades replayed after a reconnect
// are dropped before they reach the archive.
type Archiver struct {
	messages  <-chan FeedMessage
	snapshots *SnapshotClient

	normalizer *normalize.Normalizer

	updateStore     storage.BookUpdateStore
	checkpointStore storage.CheckpointStore
	tradeStore      storage.TradeStore

	symbols       map[string]string // venue symbol -> instrument
	flushInterval time.Duration
	logger        *log.Logger
	now           func() int64

	// Buffered raw records awaiting the next flush
	levels          []normalize.RawLevelRecord
	quotes          []normalize.RawQuoteRecord
	trades          []normalize.RawTradeRecord
	seedCheckpoints []*domain.BookCheckpoint

	// Per-symbol continuity state
	lastDepthSeq  map[string]int64
	lastTradeID   map[string]int64
	lastTickerSeq map[string]int64

	nextSeq    int64
	eventCount int64
	malformed  int64
}

// ArchiverOptions contains configuration for creating an Archiver.
type ArchiverOptions struct {
	// Messages is the feed message channel, usually FeedClient.Events().
	Messages <-chan FeedMessage

	// Snapshots, when set, seeds a verified checkpoint per instrument at
	// startup so replay starts from a known book instead of low confidence.
	Snapshots *SnapshotClient

	// Normalizer validates buffered records at flush. Nil means a
	// normalizer with the skip policy; live capture must not abort on one
	// bad record.
	Normalizer *normalize.Normalizer

	UpdateStore     storage.BookUpdateStore
	CheckpointStore storage.CheckpointStore
	TradeStore      storage.TradeStore

	// Symbols maps venue symbols to instrument names. Symbols absent from
	// the map archive under their venue name.
	Symbols map[string]string

	// FlushInterval is how often buffered events are written. Default: 5s.
	FlushInterval time.Duration

	Logger *log.Logger

	// Now overrides the clock used to stamp CreatedAt. Nil means time.Now.
	Now func() int64
}

// NewArchiver creates a new capture archiver.
func NewArchiver(opts ArchiverOptions) *Archiver {
	normalizer := opts.Normalizer
	if normalizer == nil {
		normalizer = normalize.New(normalize.Options{Malformed: domain.MalformedSkip})
	}

	flushInterval := opts.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixNano() }
	}

	symbols := opts.Symbols
	if symbols == nil {
		symbols = make(map[string]string)
	}

	return &Archiver{
		messages:        opts.Messages,
		snapshots:       opts.Snapshots,
		normalizer:      normalizer,
		updateStore:     opts.UpdateStore,
		checkpointStore: opts.CheckpointStore,
		tradeStore:      opts.TradeStore,
		symbols:         symbols,
		flushInterval:   flushInterval,
		logger:          logger,
		now:             now,
		lastDepthSeq:    make(map[string]int64),
		lastTradeID:     make(map[string]int64),
		lastTickerSeq:   make(map[string]int64),
	}
}

// EventCount returns the number of events stored so far. Read it after Run
// returns to close out a capture session.
func (a *Archiver) EventCount() int64 {
	return a.eventCount
}

// MalformedCount returns the number of raw records rejected at flush.
func (a *Archiver) MalformedCount() int64 {
	return a.malformed
}

// Run starts the capture loop. It blocks until the context is cancelled or
// the feed channel closes, flushing buffered events before returning.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Println("Starting capture archiver...")

	if a.snapshots != nil {
		a.bootstrap(ctx)
	}

	flushTicker := time.NewTicker(a.flushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.finalFlush()
			a.logger.Println("Archiver stopping...")
			return ctx.Err()

		case msg, ok := <-a.messages:
			if !ok {
				a.logger.Println("Feed channel closed")
				a.finalFlush()
				return errors.New("feed channel closed")
			}
			a.buffer(msg)

		case <-flushTicker.C:
			a.flush(ctx)
		}
	}
}

// finalFlush writes remaining buffered events on shutdown. Run's context is
// already cancelled here, so the flush gets its own deadline.
func (a *Archiver) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.flush(ctx)
}

// bootstrap fetches one snapshot per configured instrument and buffers it as
// a verified checkpoint. Failures are logged and skipped; replay then starts
// low confidence until the first live quote for that instrument.
func (a *Archiver) bootstrap(ctx context.Context) {
	symbols := make([]string, 0, len(a.symbols))
	for symbol := range a.symbols {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		instrument := a.instrument(symbol)
		cp, err := a.snapshots.Fetch(ctx, symbol, instrument)
		if err != nil {
			a.logger.Printf("Error fetching snapshot for %s: %v", symbol, err)
			continue
		}
		a.seedCheckpoints = append(a.seedCheckpoints, cp)
		a.lastDepthSeq[symbol] = cp.UpdateSeq
		a.logger.Printf("Snapshot seeded for %s: seq=%d bids=%d asks=%d",
			instrument, cp.UpdateSeq, len(cp.Bids), len(cp.Asks))
	}
}

// instrument resolves a venue symbol to its archive instrument name.
func (a *Archiver) instrument(symbol string) string {
	if name, ok := a.symbols[symbol]; ok && name != "" {
		return name
	}
	return symbol
}

// latency is the age of a venue event timestamp in seconds.
func (a *Archiver) latency(eventTs int64) float64 {
	return float64(a.now()-eventTs) / float64(time.Second)
}

// buffer converts one feed message into raw records, applying the venue's
// continuity rules per symbol.
func (a *Archiver) buffer(msg FeedMessage) {
	switch {
	case msg.Depth != nil:
		d := msg.Depth
		observability.RecordCaptureMessage("depth")
		observability.RecordFeedLatency(a.latency(d.Timestamp))
		last := a.lastDepthSeq[d.Symbol]
		if last != 0 && d.FinalSeq <= last {
			// Replay of an already-archived diff after a reconnect
			return
		}
		if last != 0 && d.PrevSeq != 0 && d.PrevSeq != last {
			a.logger.Printf("Depth gap for %s: prev=%d last=%d", d.Symbol, d.PrevSeq, last)
		}
		a.lastDepthSeq[d.Symbol] = d.FinalSeq
		a.levels = append(a.levels, d.LevelRecords(a.instrument(d.Symbol))...)

	case msg.Trade != nil:
		t := msg.Trade
		observability.RecordCaptureMessage("trade")
		observability.RecordFeedLatency(a.latency(t.Timestamp))
		if last := a.lastTradeID[t.Symbol]; last != 0 && t.TradeID <= last {
			return
		}
		a.lastTradeID[t.Symbol] = t.TradeID
		a.trades = append(a.trades, t.TradeRecord(a.instrument(t.Symbol)))

	case msg.Ticker != nil:
		q := msg.Ticker
		observability.RecordCaptureMessage("ticker")
		observability.RecordFeedLatency(a.latency(q.Timestamp))
		if last := a.lastTickerSeq[q.Symbol]; last != 0 && q.UpdateSeq != 0 && q.UpdateSeq <= last {
			return
		}
		if q.UpdateSeq != 0 {
			a.lastTickerSeq[q.Symbol] = q.UpdateSeq
		}
		a.quotes = append(a.quotes, q.QuoteRecord(a.instrument(q.Symbol)))
	}
}

// flush normalizes buffered records, assigns archive-wide ingestion
// sequence numbers, and stores each event. Duplicates are expected on
// overlap and skipped; other storage errors are logged, and the failed
// event is dropped rather than wedging the capture loop.
func (a *Archiver) flush(ctx context.Context) {
	if len(a.levels) == 0 && len(a.quotes) == 0 && len(a.trades) == 0 && len(a.seedCheckpoints) == 0 {
		return
	}

	stream, err := a.normalizer.Normalize(a.levels, a.quotes, a.trades)
	if err != nil {
		// Clock skew beyond tolerance inside one batch. The batch is
		// unusable; drop it and keep capturing.
		a.logger.Printf("Error normalizing capture batch, dropping %d/%d/%d records: %v",
			len(a.levels), len(a.quotes), len(a.trades), err)
		a.resetBuffers()
		return
	}

	if stream.MalformedCount > 0 {
		a.malformed += int64(stream.MalformedCount)
		observability.RecordMalformed("capture", stream.MalformedCount)
	}

	createdAt := a.now()
	var stored int

	for _, cp := range a.seedCheckpoints {
		cp.IngestSeq = a.nextSeq
		a.nextSeq++
		if a.checkpointStore == nil {
			continue
		}
		if err := a.checkpointStore.Insert(ctx, cp); err != nil {
			if !errors.Is(err, storage.ErrDuplicateKey) {
				a.logger.Printf("Error storing checkpoint: %v", err)
			}
			// Duplicate is expected, not an error
			continue
		}
		stored++
		observability.RecordEventsArchived("checkpoint", 1)
	}

	for _, e := range stream.Events {
		e.IngestSeq = a.nextSeq
		a.nextSeq++

		switch e.Type {
		case normalize.EventTypeBookUpdate:
			u := e.BookUpdate
			u.IngestSeq = e.IngestSeq
			u.CreatedAt = createdAt
			if a.updateStore == nil {
				continue
			}
			if err := a.updateStore.Insert(ctx, u); err != nil {
				if !errors.Is(err, storage.ErrDuplicateKey) {
					a.logger.Printf("Error storing book update: %v", err)
				}
				continue
			}
			stored++
			observability.RecordEventsArchived("book_update", 1)

		case normalize.EventTypeCheckpoint:
			cp := e.Checkpoint
			cp.IngestSeq = e.IngestSeq
			if a.checkpointStore == nil {
				continue
			}
			if err := a.checkpointStore.Insert(ctx, cp); err != nil {
				if !errors.Is(err, storage.ErrDuplicateKey) {
					a.logger.Printf("Error storing checkpoint: %v", err)
				}
				continue
			}
			stored++
			observability.RecordEventsArchived("checkpoint", 1)

		case normalize.EventTypeTrade:
			t := e.Trade
			t.IngestSeq = e.IngestSeq
			t.CreatedAt = createdAt
			if a.tradeStore == nil {
				continue
			}
			if err := a.tradeStore.Insert(ctx, t); err != nil {
				if !errors.Is(err, storage.ErrDuplicateKey) {
					a.logger.Printf("Error storing trade: %v", err)
				}
				continue
			}
			stored++
			observability.RecordEventsArchived("trade", 1)
		}
	}

	a.eventCount += int64(stored)
	if stored > 0 {
		observability.DefaultMetrics.LastSuccessfulArchive.SetToCurrentTime()
	}
	a.resetBuffers()
}

func (a *Archiver) resetBuffers() {
	a.levels = nil
	a.quotes = nil
	a.trades = nil
	a.seedCheckpoints = nil
}
