// Package normalize turns raw heterogeneous book and trade records into one
// canonical, deterministically ordered event stream. Level-delta rows become
// BookUpdateEvents, top-of-book quote rows become BookCheckpoints, trade rows
// become TradeEvents; all three share a single time axis sorted by
// (timestamp, type, ingest_seq).
package normalize

import (
	"fmt"
	"strings"
	"time"

	"orderflow-lab/internal/domain"
)

// DefaultSkewTolerance is the backward jitter tolerated within one source
// stream before the run aborts with ErrClockSkew.
const DefaultSkewTolerance = 100 * time.Millisecond

// Options configures a Normalizer.
type Options struct {
	// SkewTolerance bounds backward timestamp jitter within one stream.
	// Regressions at or below the tolerance are reordered locally by the
	// stable sort; larger regressions fail the run. Zero means
	// DefaultSkewTolerance.
	SkewTolerance time.Duration

	// Malformed selects skip-and-count or abort for invalid records.
	// Empty means MalformedAbort.
	Malformed domain.MalformedPolicy
}

// Stream is the normalizer output: the merged ordered event sequence plus
// counts of records dropped under the skip policy.
type Stream struct {
	Events         []*Event
	MalformedCount int
}

// Normalizer validates raw records and produces the canonical event stream.
// It never mutates its inputs.
type Normalizer struct {
	skewTolerance int64 // ns
	malformed     domain.MalformedPolicy
}

// New creates a Normalizer with the given options.
func New(opts Options) *Normalizer {
	tol := opts.SkewTolerance
	if tol == 0 {
		tol = DefaultSkewTolerance
	}
	policy := opts.Malformed
	if policy == "" {
		policy = domain.MalformedAbort
	}
	return &Normalizer{
		skewTolerance: tol.Nanoseconds(),
		malformed:     policy,
	}
}

// Normalize validates all raw records, assigns ingestion sequence numbers in
// arrival order, checks each stream for clock skew, and returns the merged
// sorted stream. Any input slice may be empty.
func (n *Normalizer) Normalize(levels []RawLevelRecord, quotes []RawQuoteRecord, trades []RawTradeRecord) (*Stream, error) {
	stream := &Stream{
		Events: make([]*Event, 0, len(levels)+len(quotes)+len(trades)),
	}

	var seq int64
	skew := newSkewChecker(n.skewTolerance)

	for i, rec := range levels {
		u, err := n.normalizeLevel(rec)
		if err != nil {
			if n.malformed == domain.MalformedSkip {
				stream.MalformedCount++
				continue
			}
			return nil, fmt.Errorf("book stream record %d: %w", i, err)
		}
		if err := skew.observe("book", u.Instrument, u.Timestamp); err != nil {
			return nil, err
		}
		u.IngestSeq = seq
		seq++
		stream.Events = append(stream.Events, &Event{
			Type:       EventTypeBookUpdate,
			Instrument: u.Instrument,
			Timestamp:  u.Timestamp,
			IngestSeq:  u.IngestSeq,
			BookUpdate: u,
		})
	}

	for i, rec := range quotes {
		c, err := n.normalizeQuote(rec)
		if err != nil {
			if n.malformed == domain.MalformedSkip {
				stream.MalformedCount++
				continue
			}
			return nil, fmt.Errorf("quote stream record %d: %w", i, err)
		}
		if err := skew.observe("quote", c.Instrument, c.Timestamp); err != nil {
			return nil, err
		}
		c.IngestSeq = seq
		seq++
		stream.Events = append(stream.Events, &Event{
			Type:       EventTypeCheckpoint,
			Instrument: c.Instrument,
			Timestamp:  c.Timestamp,
			IngestSeq:  c.IngestSeq,
			Checkpoint: c,
		})
	}

	for i, rec := range trades {
		t, err := n.normalizeTrade(rec)
		if err != nil {
			if n.malformed == domain.MalformedSkip {
				stream.MalformedCount++
				continue
			}
			return nil, fmt.Errorf("trade stream record %d: %w", i, err)
		}
		if err := skew.observe("trade", t.Instrument, t.Timestamp); err != nil {
			return nil, err
		}
		t.IngestSeq = seq
		seq++
		stream.Events = append(stream.Events, &Event{
			Type:       EventTypeTrade,
			Instrument: t.Instrument,
			Timestamp:  t.Timestamp,
			IngestSeq:  t.IngestSeq,
			Trade:      t,
		})
	}

	SortEvents(stream.Events)
	return stream, nil
}

func (n *Normalizer) normalizeLevel(rec RawLevelRecord) (*domain.BookUpdateEvent, error) {
	if rec.Instrument == "" {
		return nil, fmt.Errorf("missing instrument: %w", ErrMalformedRecord)
	}
	if rec.Timestamp == nil {
		return nil, fmt.Errorf("missing timestamp: %w", ErrMalformedRecord)
	}
	side := domain.Side(strings.ToLower(rec.Side))
	if !side.IsValid() {
		return nil, fmt.Errorf("invalid side %q: %w", rec.Side, ErrMalformedRecord)
	}
	if rec.Price == nil {
		return nil, fmt.Errorf("missing price: %w", ErrMalformedRecord)
	}
	if *rec.Price <= 0 {
		return nil, fmt.Errorf("non-positive price %v: %w", *rec.Price, ErrMalformedRecord)
	}
	if rec.Quantity == nil {
		return nil, fmt.Errorf("missing quantity: %w", ErrMalformedRecord)
	}
	eventType := domain.BookEventType(strings.ToLower(rec.EventType))
	if !eventType.IsValid() {
		return nil, fmt.Errorf("invalid event type %q: %w", rec.EventType, ErrMalformedRecord)
	}

	// Negative quantities pass through: the book replay clamps them to zero
	// and counts the clamp, so noisy rows degrade instead of aborting.
	return &domain.BookUpdateEvent{
		Instrument:  rec.Instrument,
		Timestamp:   *rec.Timestamp,
		UpdateSeq:   rec.UpdateSeq,
		Side:        side,
		PriceLevel:  *rec.Price,
		NewQuantity: *rec.Quantity,
		EventType:   eventType,
	}, nil
}

func (n *Normalizer) normalizeQuote(rec RawQuoteRecord) (*domain.BookCheckpoint, error) {
	if rec.Instrument == "" {
		return nil, fmt.Errorf("missing instrument: %w", ErrMalformedRecord)
	}
	if rec.Timestamp == nil {
		return nil, fmt.Errorf("missing timestamp: %w", ErrMalformedRecord)
	}
	if rec.BidPrice == nil || rec.BidQty == nil || rec.AskPrice == nil || rec.AskQty == nil {
		return nil, fmt.Errorf("incomplete quote: %w", ErrMalformedRecord)
	}
	if *rec.BidPrice <= 0 || *rec.AskPrice <= 0 {
		return nil, fmt.Errorf("non-positive quote price: %w", ErrMalformedRecord)
	}

	return &domain.BookCheckpoint{
		Instrument: rec.Instrument,
		Timestamp:  *rec.Timestamp,
		UpdateSeq:  rec.UpdateSeq,
		Bids:       []domain.PriceLevel{{Price: *rec.BidPrice, Quantity: *rec.BidQty}},
		Asks:       []domain.PriceLevel{{Price: *rec.AskPrice, Quantity: *rec.AskQty}},
	}, nil
}

func (n *Normalizer) normalizeTrade(rec RawTradeRecord) (*domain.TradeEvent, error) {
	if rec.Instrument == "" {
		return nil, fmt.Errorf("missing instrument: %w", ErrMalformedRecord)
	}
	if rec.Timestamp == nil {
		return nil, fmt.Errorf("missing timestamp: %w", ErrMalformedRecord)
	}
	if rec.Price == nil {
		return nil, fmt.Errorf("missing price: %w", ErrMalformedRecord)
	}
	if *rec.Price <= 0 {
		return nil, fmt.Errorf("non-positive price %v: %w", *rec.Price, ErrMalformedRecord)
	}
	if rec.Quantity == nil {
		return nil, fmt.Errorf("missing quantity: %w", ErrMalformedRecord)
	}
	if *rec.Quantity <= 0 {
		return nil, fmt.Errorf("non-positive quantity %v: %w", *rec.Quantity, ErrMalformedRecord)
	}
	aggressor, err := ParseAggressor(rec.Aggressor)
	if err != nil {
		return nil, err
	}

	return &domain.TradeEvent{
		Instrument: rec.Instrument,
		Timestamp:  *rec.Timestamp,
		Price:      *rec.Price,
		Quantity:   *rec.Quantity,
		Aggressor:  aggressor,
	}, nil
}

// ParseAggressor maps source aggressor encodings onto the canonical values.
// Accepts "buy"/"sell" (any case), "b"/"s", and signed integers "1"/"+1"/"-1".
func ParseAggressor(s string) (domain.Aggressor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "b", "1", "+1":
		return domain.AggressorBuy, nil
	case "sell", "s", "-1":
		return domain.AggressorSell, nil
	default:
		return "", fmt.Errorf("invalid aggressor %q: %w", s, ErrMalformedRecord)
	}
}

// skewChecker tracks the per-instrument high-water timestamp of each source
// stream and rejects regressions beyond the tolerance.
type skewChecker struct {
	tolerance int64
	maxSeen   map[string]int64 // keyed by stream|instrument
}

func newSkewChecker(tolerance int64) *skewChecker {
	return &skewChecker{
		tolerance: tolerance,
		maxSeen:   make(map[string]int64),
	}
}

func (c *skewChecker) observe(stream, instrument string, ts int64) error {
	key := stream + "|" + instrument
	max, ok := c.maxSeen[key]
	if !ok || ts > max {
		c.maxSeen[key] = ts
		return nil
	}
	if max-ts > c.tolerance {
		return fmt.Errorf("%s stream %s: timestamp %d regresses %dns behind %d: %w",
			stream, instrument, ts, max-ts, max, ErrClockSkew)
	}
	return nil
}
