// Package book replays normalized book events into consistent per-instrument
// states. Replay is inherently sequential: each update depends on the prior
// state, so exactly one Reconstructor owns the working state per instrument.
package book

import (
	"errors"
	"fmt"
	"sort"

	"orderflow-lab/internal/domain"
)

// ErrSequenceGap is returned by strict callers when update sequence
// continuity breaks. The default flow does not raise it: gaps are recorded
// on the reconstructor and surface as low-confidence snapshots.
var ErrSequenceGap = errors.New("update sequence gap detected")

// Delta describes the applied level change in the form aggregation policies
// consume: the signed quantity change plus the level's rank on its side
// before and after the update (1 = best, 0 = absent).
type Delta struct {
	Side          domain.Side
	Price         float64
	QuantityDelta float64 // new minus previous resting quantity, after clamping
	PrevRank      int     // rank before the update, 0 if the level did not exist
	PostRank      int     // rank after the update, 0 if the level was removed
}

// ApplyResult reports the outcome of applying one event.
type ApplyResult struct {
	Snapshot    *domain.BookState // immutable state after the event
	Delta       *Delta            // nil for checkpoints
	GapDetected bool              // true when this event opened a sequence gap
	Clamped     bool              // true when a negative quantity was clamped to zero
}

// Stats counts data-quality conditions observed during replay.
type Stats struct {
	AppliedUpdates         int
	Checkpoints            int
	SequenceGaps           int
	NegativeQuantityClamps int
}

// Options configures a Reconstructor.
type Options struct {
	// MaxDepth bounds the number of levels per side carried on emitted
	// snapshots. 0 keeps all levels. The working state is never truncated,
	// so deep levels resurface when better ones are cancelled.
	MaxDepth int
}

// Reconstructor holds the mutable working book for one instrument.
// Not safe for concurrent use; parallelism belongs across instruments.
type Reconstructor struct {
	instrument string
	maxDepth   int

	bids []domain.PriceLevel // descending by price
	asks []domain.PriceLevel // ascending by price

	lastSeq   int64 // last applied venue sequence, 0 before any
	gapActive bool  // true from a detected gap until the next checkpoint

	stats Stats
}

// NewReconstructor creates an empty book for one instrument.
func NewReconstructor(instrument string, opts Options) *Reconstructor {
	return &Reconstructor{
		instrument: instrument,
		maxDepth:   opts.MaxDepth,
	}
}

// ApplyCheckpoint replaces the working state with a verified snapshot.
// Checkpoints restore confidence after sequence gaps.
func (r *Reconstructor) ApplyCheckpoint(c *domain.BookCheckpoint) (*ApplyResult, error) {
	if c.Instrument != r.instrument {
		return nil, fmt.Errorf("checkpoint for %q applied to book %q", c.Instrument, r.instrument)
	}

	var clamped bool
	r.bids, clamped = cloneLevels(c.Bids, clamped)
	sort.Slice(r.bids, func(i, j int) bool { return r.bids[i].Price > r.bids[j].Price })
	r.asks, clamped = cloneLevels(c.Asks, clamped)
	sort.Slice(r.asks, func(i, j int) bool { return r.asks[i].Price < r.asks[j].Price })

	if clamped {
		r.stats.NegativeQuantityClamps++
	}
	r.lastSeq = c.UpdateSeq
	r.gapActive = false
	r.stats.Checkpoints++

	return &ApplyResult{
		Snapshot: r.snapshot(c.Timestamp),
		Clamped:  clamped,
	}, nil
}

// ApplyUpdate applies one level change and returns the resulting snapshot
// plus the delta for aggregation. Sequence gaps do not fail the call: the
// update is still applied best-effort and the state is marked low-confidence
// until the next checkpoint.
func (r *Reconstructor) ApplyUpdate(u *domain.BookUpdateEvent) (*ApplyResult, error) {
	if u.Instrument != r.instrument {
		return nil, fmt.Errorf("update for %q applied to book %q", u.Instrument, r.instrument)
	}

	var gapDetected bool
	if u.UpdateSeq > 0 {
		if r.lastSeq > 0 && u.UpdateSeq != r.lastSeq+1 {
			gapDetected = true
			r.gapActive = true
			r.stats.SequenceGaps++
		}
		r.lastSeq = u.UpdateSeq
	}

	qty := u.NewQuantity
	var clamped bool
	if qty < 0 {
		qty = 0
		clamped = true
		r.stats.NegativeQuantityClamps++
	}

	delta := r.applyLevel(u.Side, u.PriceLevel, qty)
	r.stats.AppliedUpdates++

	return &ApplyResult{
		Snapshot:    r.snapshot(u.Timestamp),
		Delta:       delta,
		GapDetected: gapDetected,
		Clamped:     clamped,
	}, nil
}

// GapActive reports whether the state is inside a detected sequence gap.
func (r *Reconstructor) GapActive() bool {
	return r.gapActive
}

// Stats returns replay counters accumulated so far.
func (r *Reconstructor) Stats() Stats {
	return r.stats
}

// State returns an immutable copy of the current working book.
func (r *Reconstructor) State(ts int64) *domain.BookState {
	return r.snapshot(ts)
}

// applyLevel sets the resting quantity at (side, price), removing the level
// when qty is zero, and returns the delta with pre/post ranks taken from the
// full working state.
func (r *Reconstructor) applyLevel(side domain.Side, price, qty float64) *Delta {
	levels := &r.asks
	if side == domain.SideBid {
		levels = &r.bids
	}

	idx := searchLevel(*levels, side, price)
	exists := idx < len(*levels) && (*levels)[idx].Price == price

	delta := &Delta{Side: side, Price: price}
	var prevQty float64
	if exists {
		prevQty = (*levels)[idx].Quantity
		delta.PrevRank = idx + 1
	}
	delta.QuantityDelta = qty - prevQty

	switch {
	case qty == 0 && exists:
		*levels = append((*levels)[:idx], (*levels)[idx+1:]...)
	case qty == 0:
		// no-op cancel for an unknown level
	case exists:
		(*levels)[idx].Quantity = qty
		delta.PostRank = idx + 1
	default:
		*levels = append(*levels, domain.PriceLevel{})
		copy((*levels)[idx+1:], (*levels)[idx:])
		(*levels)[idx] = domain.PriceLevel{Price: price, Quantity: qty}
		delta.PostRank = idx + 1
	}

	return delta
}

// searchLevel returns the insertion index for price keeping bids descending
// and asks ascending.
func searchLevel(levels []domain.PriceLevel, side domain.Side, price float64) int {
	if side == domain.SideBid {
		return sort.Search(len(levels), func(i int) bool { return levels[i].Price <= price })
	}
	return sort.Search(len(levels), func(i int) bool { return levels[i].Price >= price })
}

// snapshot builds an immutable copy of the working state, truncated to
// MaxDepth levels per side.
func (r *Reconstructor) snapshot(ts int64) *domain.BookState {
	s := &domain.BookState{
		Instrument:    r.instrument,
		Timestamp:     ts,
		UpdateSeq:     r.lastSeq,
		LowConfidence: r.gapActive,
	}
	s.Bids = copyLevels(r.bids, r.maxDepth)
	s.Asks = copyLevels(r.asks, r.maxDepth)
	return s
}

func copyLevels(levels []domain.PriceLevel, maxDepth int) []domain.PriceLevel {
	n := len(levels)
	if maxDepth > 0 && n > maxDepth {
		n = maxDepth
	}
	if n == 0 {
		return nil
	}
	out := make([]domain.PriceLevel, n)
	copy(out, levels[:n])
	return out
}

// cloneLevels copies checkpoint levels, clamping negative quantities to zero
// and dropping empty levels.
func cloneLevels(levels []domain.PriceLevel, clamped bool) ([]domain.PriceLevel, bool) {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.Quantity < 0 {
			l.Quantity = 0
			clamped = true
		}
		if l.Quantity == 0 {
			continue
		}
		out = append(out, l)
	}
	return out, clamped
}
