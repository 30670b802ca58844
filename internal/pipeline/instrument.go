package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"orderflow-lab/internal/book"
	"orderflow-lab/internal/dataset"
	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/label"
	"orderflow-lab/internal/normalize"
	"orderflow-lab/internal/observability"
	"orderflow-lab/internal/ofi"
)

// Params controls how a normalized event stream is turned into feature rows.
// The zero value is not usable directly; fields left at their zero value are
// filled from DefaultParams, except DeadBand which is taken as given so an
// explicit zero dead band stays zero.
type Params struct {
	WindowSize   time.Duration
	DepthLevels  int
	OFIPolicy    domain.OFIPolicyName
	Horizons     []time.Duration
	RefPrice     domain.RefPriceStrategy
	VWAPInterval time.Duration
	DeadBand     float64
	GapPolicy    domain.GapPolicy
	ShortSpan    int
	LongSpan     int
}

// DefaultParams mirrors the engine defaults used by the config layer.
func DefaultParams() Params {
	return Params{
		WindowSize:   time.Second,
		DepthLevels:  1,
		OFIPolicy:    domain.OFIPolicyBaseline,
		Horizons:     []time.Duration{time.Second, 5 * time.Second},
		RefPrice:     domain.RefPriceMid,
		VWAPInterval: time.Second,
		DeadBand:     1e-4,
		GapPolicy:    domain.GapPolicyFlag,
		ShortSpan:    5,
		LongSpan:     20,
	}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.WindowSize <= 0 {
		p.WindowSize = def.WindowSize
	}
	if p.DepthLevels <= 0 {
		p.DepthLevels = def.DepthLevels
	}
	if p.OFIPolicy == "" {
		p.OFIPolicy = def.OFIPolicy
	}
	if len(p.Horizons) == 0 {
		p.Horizons = def.Horizons
	}
	if p.RefPrice == "" {
		p.RefPrice = def.RefPrice
	}
	if p.VWAPInterval <= 0 {
		p.VWAPInterval = def.VWAPInterval
	}
	if p.GapPolicy == "" {
		p.GapPolicy = def.GapPolicy
	}
	if p.ShortSpan <= 0 {
		p.ShortSpan = def.ShortSpan
	}
	if p.LongSpan <= 0 {
		p.LongSpan = def.LongSpan
	}
	return p
}

// InstrumentResult is the output of replaying one instrument's event stream.
type InstrumentResult struct {
	Instrument  string
	Events      int
	Records     []*domain.OFIRecord
	Rows        []*domain.FeatureRow
	Labels      int
	LabelMisses int
	Dropped     domain.DroppedWindowCounts
	Replay      book.Stats
	InputDigest string
}

// BuildInstrument replays one instrument's normalized events through book
// reconstruction, windowed flow aggregation, labeling and row assembly.
// Events must already be ordered; callers load them through the normalizer,
// which sorts and validates.
func BuildInstrument(instrument string, events []*normalize.Event, p Params) (*InstrumentResult, error) {
	p = p.withDefaults()

	policy, err := ofi.NewPolicy(p.OFIPolicy, p.DepthLevels)
	if err != nil {
		return nil, fmt.Errorf("policy for %s: %w", instrument, err)
	}
	agg := ofi.NewAggregator(instrument, ofi.Options{
		WindowSize: p.WindowSize,
		Policy:     policy,
	})
	recon := book.NewReconstructor(instrument, book.Options{MaxDepth: p.DepthLevels})

	res := &InstrumentResult{
		Instrument:  instrument,
		Events:      len(events),
		InputDigest: digestEvents(events),
	}

	var (
		mids   label.Series
		trades []*domain.TradeEvent
		stats  = make(map[int64]domain.WindowBookStats)
	)

	// Closed windows carry the book state as of their end. Watermark
	// advancement happens before the event is applied, so the sampled
	// state excludes events at or after the boundary.
	finalize := func(closed []*domain.OFIRecord) {
		for _, rec := range closed {
			stats[rec.WindowStart] = book.StatsAt(recon.State(rec.WindowEnd), instrument, rec.WindowStart)
			res.Records = append(res.Records, rec)
		}
	}
	observeMid := func(state *domain.BookState) {
		if state == nil {
			return
		}
		if mid, ok := state.MidPrice(); ok {
			mids = append(mids, label.Observation{Timestamp: state.Timestamp, Price: mid})
		}
	}

	for _, e := range events {
		finalize(agg.AdvanceWatermark(e.Timestamp))

		switch e.Type {
		case normalize.EventTypeBookUpdate:
			upd := e.BookUpdate
			applied, err := recon.ApplyUpdate(upd)
			if err != nil {
				return nil, fmt.Errorf("apply update for %s: %w", instrument, err)
			}
			if err := agg.AddBookDelta(upd, applied.Delta, recon.GapActive()); err != nil {
				return nil, fmt.Errorf("book delta for %s: %w", instrument, err)
			}
			observeMid(applied.Snapshot)
		case normalize.EventTypeCheckpoint:
			cp := e.Checkpoint
			gapBefore := recon.GapActive()
			applied, err := recon.ApplyCheckpoint(cp)
			if err != nil {
				return nil, fmt.Errorf("apply checkpoint for %s: %w", instrument, err)
			}
			if err := agg.ObserveCheckpoint(cp, gapBefore); err != nil {
				return nil, fmt.Errorf("checkpoint for %s: %w", instrument, err)
			}
			observeMid(applied.Snapshot)
		case normalize.EventTypeTrade:
			tr := e.Trade
			if err := agg.AddTrade(tr, recon.GapActive()); err != nil {
				return nil, fmt.Errorf("trade for %s: %w", instrument, err)
			}
			trades = append(trades, tr)
		default:
			return nil, fmt.Errorf("unknown event type %q for %s", e.Type, instrument)
		}
	}
	finalize(agg.Flush())
	res.Replay = recon.Stats()
	observability.RecordReplayStats(res.Replay.SequenceGaps, res.Replay.NegativeQuantityClamps, res.Replay.Checkpoints)

	pricer, err := label.NewRefPricer(p.RefPrice, mids, trades, p.VWAPInterval)
	if err != nil {
		return nil, fmt.Errorf("ref pricer for %s: %w", instrument, err)
	}
	gen, err := label.NewGenerator(instrument, label.Options{
		Horizons: p.Horizons,
		DeadBand: p.DeadBand,
		Pricer:   pricer,
	})
	if err != nil {
		return nil, fmt.Errorf("label generator for %s: %w", instrument, err)
	}

	var labels []*domain.LabelRecord
	for _, rec := range res.Records {
		observability.RecordWindowFinalized(rec.TradeCount == 0 && rec.BookUpdateCount == 0, rec.Confidence == domain.ConfidenceLow)
		ls, err := gen.LabelsFor(domain.Window{Start: rec.WindowStart, End: rec.WindowEnd})
		if err != nil {
			return nil, fmt.Errorf("labels for %s: %w", instrument, err)
		}
		res.LabelMisses += len(gen.Horizons()) - len(ls)
		labels = append(labels, ls...)
	}
	res.Labels = len(labels)
	observability.RecordLabels(res.Labels, res.LabelMisses)

	asm, err := dataset.NewAssembler(dataset.Options{
		Horizons:  gen.Horizons(),
		ShortSpan: p.ShortSpan,
		LongSpan:  p.LongSpan,
		GapPolicy: p.GapPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("assembler for %s: %w", instrument, err)
	}
	rows, dropped, err := asm.Assemble(res.Records, stats, labels)
	if err != nil {
		return nil, fmt.Errorf("assemble for %s: %w", instrument, err)
	}
	res.Rows = rows
	res.Dropped = dropped
	observability.RecordRowsAssembled(len(rows), dropped.NoLabel, dropped.LowConfidence)
	return res, nil
}

// digestEvents hashes the normalized stream so dataset identity reflects the
// exact input. Lines are type-tagged and cover every field that influences
// replay.
func digestEvents(events []*normalize.Event) string {
	h := sha256.New()
	for _, e := range events {
		switch e.Type {
		case normalize.EventTypeBookUpdate:
			u := e.BookUpdate
			fmt.Fprintf(h, "u|%d|%d|%d|%s|%s|%g|%g\n",
				u.Timestamp, u.IngestSeq, u.UpdateSeq, u.Side, u.EventType, u.PriceLevel, u.NewQuantity)
		case normalize.EventTypeTrade:
			t := e.Trade
			fmt.Fprintf(h, "t|%d|%d|%s|%g|%g\n",
				t.Timestamp, t.IngestSeq, t.Aggressor, t.Price, t.Quantity)
		case normalize.EventTypeCheckpoint:
			c := e.Checkpoint
			var b strings.Builder
			for _, lvl := range c.Bids {
				fmt.Fprintf(&b, "|%g@%g", lvl.Price, lvl.Quantity)
			}
			b.WriteString("|a")
			for _, lvl := range c.Asks {
				fmt.Fprintf(&b, "|%g@%g", lvl.Price, lvl.Quantity)
			}
			fmt.Fprintf(h, "c|%d|%d|%d%s\n", c.Timestamp, c.IngestSeq, c.UpdateSeq, b.String())
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
