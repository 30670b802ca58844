// Package dataset joins windowed OFI features, book statistics, and labels
// into the final row-per-window table. The join is inner on
// (instrument, window): windows without any label horizon are excluded and
// counted so data loss near the end of the sample stays visible.
package dataset

import (
	"fmt"
	"sort"

	"orderflow-lab/internal/domain"
)

// Default rolling spans, in windows.
const (
	DefaultShortSpan = 5
	DefaultLongSpan  = 20
)

// Options configures an Assembler.
type Options struct {
	// Horizons are the configured label horizons in nanoseconds, ascending.
	Horizons []int64

	// ShortSpan and LongSpan are the rolling OFI sum widths in windows.
	// Zero means the defaults.
	ShortSpan int
	LongSpan  int

	// GapPolicy decides whether low-confidence windows are kept flagged or
	// dropped. Empty means GapPolicyFlag.
	GapPolicy domain.GapPolicy
}

// Assembler builds FeatureRows for one instrument at a time.
type Assembler struct {
	horizons  []int64
	shortSpan int
	longSpan  int
	gapPolicy domain.GapPolicy
}

// NewAssembler creates an Assembler.
func NewAssembler(opts Options) (*Assembler, error) {
	if len(opts.Horizons) == 0 {
		return nil, fmt.Errorf("at least one horizon is required")
	}
	shortSpan := opts.ShortSpan
	if shortSpan == 0 {
		shortSpan = DefaultShortSpan
	}
	longSpan := opts.LongSpan
	if longSpan == 0 {
		longSpan = DefaultLongSpan
	}
	if shortSpan < 1 || longSpan < 1 {
		return nil, fmt.Errorf("rolling spans must be positive, got short=%d long=%d", shortSpan, longSpan)
	}
	gapPolicy := opts.GapPolicy
	if gapPolicy == "" {
		gapPolicy = domain.GapPolicyFlag
	}
	if !gapPolicy.IsValid() {
		return nil, fmt.Errorf("unknown gap policy %q", gapPolicy)
	}
	return &Assembler{
		horizons:  opts.Horizons,
		shortSpan: shortSpan,
		longSpan:  longSpan,
		gapPolicy: gapPolicy,
	}, nil
}

// Assemble joins one instrument's OFI records with book stats and labels.
// Records must arrive in window order, one per window on a regular axis;
// rolling sums are computed on that full axis before any row is dropped.
func (a *Assembler) Assemble(records []*domain.OFIRecord, stats map[int64]domain.WindowBookStats, labels []*domain.LabelRecord) ([]*domain.FeatureRow, domain.DroppedWindowCounts, error) {
	var dropped domain.DroppedWindowCounts
	if len(records) == 0 {
		return nil, dropped, nil
	}

	for i := 1; i < len(records); i++ {
		if records[i].WindowStart <= records[i-1].WindowStart {
			return nil, dropped, fmt.Errorf("ofi records out of window order at %d", records[i].WindowStart)
		}
	}

	signed := make([]float64, len(records))
	for i, r := range records {
		signed[i] = r.SignedVolume
	}
	sumShort := rollingSums(signed, a.shortSpan)
	sumLong := rollingSums(signed, a.longSpan)

	// horizon -> window start -> label
	byHorizon := make(map[int64]map[int64]*domain.LabelRecord, len(a.horizons))
	for _, h := range a.horizons {
		byHorizon[h] = make(map[int64]*domain.LabelRecord)
	}
	for _, l := range labels {
		if m, ok := byHorizon[l.Horizon]; ok {
			m[l.WindowStart] = l
		}
	}

	rows := make([]*domain.FeatureRow, 0, len(records))
	for i, r := range records {
		if a.gapPolicy == domain.GapPolicyDrop && r.Confidence == domain.ConfidenceLow {
			dropped.LowConfidence++
			continue
		}

		horizonLabels := make([]domain.HorizonLabel, 0, len(a.horizons))
		found := 0
		for _, h := range a.horizons {
			l, ok := byHorizon[h][r.WindowStart]
			if !ok {
				horizonLabels = append(horizonLabels, domain.HorizonLabel{Horizon: h, Missing: true})
				continue
			}
			horizonLabels = append(horizonLabels, domain.HorizonLabel{
				Horizon:      h,
				FutureReturn: l.FutureReturn,
				Direction:    l.Direction,
			})
			found++
		}
		if found == 0 {
			dropped.NoLabel++
			continue
		}

		total := r.RawBuyVolume + r.RawSellVolume
		norm := 0.0
		if total > 0 {
			norm = r.SignedVolume / total
		}

		row := &domain.FeatureRow{
			Instrument:         r.Instrument,
			WindowStart:        r.WindowStart,
			WindowEnd:          r.WindowEnd,
			SignedVolume:       r.SignedVolume,
			RawBuyVolume:       r.RawBuyVolume,
			RawSellVolume:      r.RawSellVolume,
			BookDeltaComponent: r.BookDeltaComponent,
			TotalVolume:        total,
			OFINorm:            norm,
			OFISumShort:        sumShort[i],
			OFISumLong:         sumLong[i],
			Labels:             horizonLabels,
			Confidence:         r.Confidence,
		}
		if s, ok := stats[r.WindowStart]; ok {
			row.MidPrice = s.MidPrice
			row.Spread = s.Spread
		}
		rows = append(rows, row)
	}

	return rows, dropped, nil
}

// SortRows orders assembled rows by (instrument ASC, window_start ASC),
// the deterministic output ordering regardless of assembly order.
func SortRows(rows []*domain.FeatureRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Instrument != rows[j].Instrument {
			return rows[i].Instrument < rows[j].Instrument
		}
		return rows[i].WindowStart < rows[j].WindowStart
	})
}

// rollingSums computes trailing sums over the last span values including the
// current one, with partial sums at the head of the series.
func rollingSums(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		sum += v
		if i >= span {
			sum -= values[i-span]
		}
		out[i] = sum
	}
	return out
}
