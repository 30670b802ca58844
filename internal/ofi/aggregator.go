// Package ofi accumulates signed order-flow imbalance into fixed half-open
// time windows. Finalization is watermark-driven: a window closes as soon as
// any event at or past its end is observed, so the same aggregator serves
// full-batch and chunked processing. One aggregator per instrument; the
// caller feeds events in normalized order.
package ofi

import (
	"fmt"
	"time"

	"orderflow-lab/internal/book"
	"orderflow-lab/internal/domain"
)

// DefaultWindowSize is the default aggregation window.
const DefaultWindowSize = time.Second

// Options configures an Aggregator.
type Options struct {
	// WindowSize is the width of each half-open window. Zero means
	// DefaultWindowSize.
	WindowSize time.Duration

	// Policy computes per-event contributions. Nil means the baseline
	// policy at default depth.
	Policy Policy
}

// Aggregator buckets one instrument's events into windows.
// Not safe for concurrent use.
type Aggregator struct {
	instrument string
	windowSize int64 // ns
	policy     Policy

	watermark int64 // highest timestamp observed
	current   *windowAcc
	// lowConf carries the book confidence state across event-free windows,
	// so zero-filled windows inside a sequence gap stay marked.
	lowConf bool
}

// windowAcc is the mutable accumulator for the open window.
type windowAcc struct {
	start       int64
	signed      float64
	buy         float64
	sell        float64
	bookDelta   float64
	trades      int
	bookUpdates int
	low         bool
}

// NewAggregator creates an aggregator for one instrument.
func NewAggregator(instrument string, opts Options) *Aggregator {
	size := opts.WindowSize
	if size == 0 {
		size = DefaultWindowSize
	}
	policy := opts.Policy
	if policy == nil {
		policy = &BaselinePolicy{DepthLevels: DefaultDepthLevels}
	}
	return &Aggregator{
		instrument: instrument,
		windowSize: size.Nanoseconds(),
		policy:     policy,
	}
}

// Policy returns the active aggregation policy.
func (a *Aggregator) Policy() Policy {
	return a.policy
}

// Watermark returns the highest event timestamp observed so far.
func (a *Aggregator) Watermark() int64 {
	return a.watermark
}

// AdvanceWatermark moves the watermark to ts and finalizes every window
// whose end is at or before it. Windows crossed without events are emitted
// with signed_volume = 0 so the time axis stays regular. Call before adding
// the event that carries ts.
func (a *Aggregator) AdvanceWatermark(ts int64) []*domain.OFIRecord {
	if ts > a.watermark {
		a.watermark = ts
	}
	if a.current == nil {
		return nil
	}

	var finalized []*domain.OFIRecord
	for a.current.start+a.windowSize <= a.watermark {
		next := a.current.start + a.windowSize
		finalized = append(finalized, a.finalizeCurrent())
		a.current = &windowAcc{start: next, low: a.lowConf}
	}
	return finalized
}

// AddTrade accumulates one trade into its window. lowConfidence reflects the
// book replay state at this point in the stream.
func (a *Aggregator) AddTrade(t *domain.TradeEvent, lowConfidence bool) error {
	if t.Instrument != a.instrument {
		return fmt.Errorf("trade for %q fed to aggregator %q", t.Instrument, a.instrument)
	}
	w := a.touch(t.Timestamp, lowConfidence)
	w.signed += a.policy.TradeContribution(t)
	if t.Aggressor == domain.AggressorBuy {
		w.buy += t.Quantity
	} else {
		w.sell += t.Quantity
	}
	w.trades++
	return nil
}

// AddBookDelta accumulates one applied book update into its window.
func (a *Aggregator) AddBookDelta(u *domain.BookUpdateEvent, d *book.Delta, lowConfidence bool) error {
	if u.Instrument != a.instrument {
		return fmt.Errorf("book update for %q fed to aggregator %q", u.Instrument, a.instrument)
	}
	w := a.touch(u.Timestamp, lowConfidence)
	contribution := a.policy.BookContribution(d)
	w.signed += contribution
	w.bookDelta += contribution
	w.bookUpdates++
	return nil
}

// ObserveCheckpoint registers a checkpoint on the window axis. Checkpoints
// reset book state rather than describe flow, so they contribute no volume;
// gapBefore marks the window when the checkpoint ended an active gap, since
// part of the window's span was still unreliable.
func (a *Aggregator) ObserveCheckpoint(c *domain.BookCheckpoint, gapBefore bool) error {
	if c.Instrument != a.instrument {
		return fmt.Errorf("checkpoint for %q fed to aggregator %q", c.Instrument, a.instrument)
	}
	a.touch(c.Timestamp, gapBefore)
	a.lowConf = false
	return nil
}

// Flush finalizes the open tail window at end of input and returns it.
func (a *Aggregator) Flush() []*domain.OFIRecord {
	if a.current == nil {
		return nil
	}
	finalized := []*domain.OFIRecord{a.finalizeCurrent()}
	a.current = nil
	return finalized
}

// touch returns the open window for ts, creating it when this is the first
// event, and applies the confidence mark.
func (a *Aggregator) touch(ts int64, lowConfidence bool) *windowAcc {
	if a.current == nil {
		w := domain.WindowAt(ts, a.windowSize)
		a.current = &windowAcc{start: w.Start, low: a.lowConf}
	}
	if lowConfidence {
		a.current.low = true
	}
	a.lowConf = lowConfidence
	return a.current
}

func (a *Aggregator) finalizeCurrent() *domain.OFIRecord {
	w := a.current
	confidence := domain.ConfidenceOK
	if w.low {
		confidence = domain.ConfidenceLow
	}
	return &domain.OFIRecord{
		Instrument:         a.instrument,
		WindowStart:        w.start,
		WindowEnd:          w.start + a.windowSize,
		SignedVolume:       w.signed,
		RawBuyVolume:       w.buy,
		RawSellVolume:      w.sell,
		BookDeltaComponent: w.bookDelta,
		TradeCount:         w.trades,
		BookUpdateCount:    w.bookUpdates,
		Confidence:         confidence,
	}
}
