// Package label computes forward-looking return and direction labels aligned
// to finalized windows. Every reference price comes from observations at or
// after the window end, and each lookup is guarded by an explicit timestamp
// assertion: a violation means a logic bug, and the run fails loudly instead
// of silently mislabeling data.
package label

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"orderflow-lab/internal/domain"
)

// ErrLookaheadViolation is returned when a contributing observation precedes
// its cutoff. This is a programming error, never a data-quality condition:
// correct operation must not produce it, and any occurrence aborts the run.
var ErrLookaheadViolation = errors.New("lookahead violation")

// Options configures a Generator.
type Options struct {
	// Horizons are the forward offsets from window end, all positive.
	Horizons []time.Duration

	// DeadBand is the symmetric direction threshold: up when return >
	// DeadBand, down when return < -DeadBand, flat otherwise.
	DeadBand float64

	// Pricer resolves reference prices; required.
	Pricer RefPricer
}

// Generator produces LabelRecords for one instrument.
type Generator struct {
	instrument string
	horizons   []int64 // ns, ascending
	deadBand   float64
	pricer     RefPricer
}

// NewGenerator creates a Generator.
func NewGenerator(instrument string, opts Options) (*Generator, error) {
	if opts.Pricer == nil {
		return nil, fmt.Errorf("reference pricer is required")
	}
	if len(opts.Horizons) == 0 {
		return nil, fmt.Errorf("at least one horizon is required")
	}
	if opts.DeadBand < 0 {
		return nil, fmt.Errorf("dead band must be non-negative, got %v", opts.DeadBand)
	}

	horizons := make([]int64, 0, len(opts.Horizons))
	for _, h := range opts.Horizons {
		if h <= 0 {
			return nil, fmt.Errorf("horizons must be positive, got %v", h)
		}
		horizons = append(horizons, h.Nanoseconds())
	}
	sort.Slice(horizons, func(i, j int) bool { return horizons[i] < horizons[j] })

	return &Generator{
		instrument: instrument,
		horizons:   horizons,
		deadBand:   opts.DeadBand,
		pricer:     opts.Pricer,
	}, nil
}

// Horizons returns the configured horizons in nanoseconds, ascending.
func (g *Generator) Horizons() []int64 {
	return g.horizons
}

// LabelsFor computes the labels for one finalized window. Horizons without
// sufficient future data yield no record; the caller counts the misses.
func (g *Generator) LabelsFor(w domain.Window) ([]*domain.LabelRecord, error) {
	basePrice, baseAt, ok := g.pricer.PriceAt(w.End)
	if !ok {
		return nil, nil
	}
	if baseAt < w.End {
		return nil, fmt.Errorf("window [%d,%d): base observation at %d precedes window end: %w",
			w.Start, w.End, baseAt, ErrLookaheadViolation)
	}

	var records []*domain.LabelRecord
	for _, h := range g.horizons {
		futureTarget := w.End + h
		futurePrice, futureAt, ok := g.pricer.PriceAt(futureTarget)
		if !ok {
			continue
		}
		if futureAt < futureTarget {
			return nil, fmt.Errorf("window [%d,%d) horizon %s: future observation at %d precedes cutoff %d: %w",
				w.Start, w.End, time.Duration(h), futureAt, futureTarget, ErrLookaheadViolation)
		}

		ret := futurePrice/basePrice - 1
		records = append(records, &domain.LabelRecord{
			Instrument:       g.instrument,
			WindowStart:      w.Start,
			WindowEnd:        w.End,
			Horizon:          h,
			FutureReturn:     ret,
			Direction:        Classify(ret, g.deadBand),
			BasePrice:        basePrice,
			FuturePrice:      futurePrice,
			BaseObservedAt:   baseAt,
			FutureObservedAt: futureAt,
		})
	}

	return records, nil
}

// Classify buckets a return into a direction using the symmetric dead band.
func Classify(ret, deadBand float64) domain.Direction {
	switch {
	case ret > deadBand:
		return domain.DirectionUp
	case ret < -deadBand:
		return domain.DirectionDown
	default:
		return domain.DirectionFlat
	}
}
