package label

import (
	"fmt"
	"sort"
	"time"

	"orderflow-lab/internal/domain"
)

// Observation is one priced point on the instrument's time axis.
type Observation struct {
	Timestamp int64 // Unix nanoseconds
	Price     float64
}

// Series is a slice of observations sorted ascending by timestamp.
type Series []Observation

// atOrAfter returns the index of the first observation with timestamp >=
// target, or len(s) when none exists.
func (s Series) atOrAfter(target int64) int {
	return sort.Search(len(s), func(i int) bool { return s[i].Timestamp >= target })
}

// RefPricer resolves the reference price at a target time using only
// observations at or after it. Implementations report the timestamp of the
// earliest observation used so callers can assert the no-lookahead cutoff.
type RefPricer interface {
	// Name identifies the strategy in configuration and manifests.
	Name() domain.RefPriceStrategy

	// PriceAt returns the reference price for target and the timestamp of
	// the earliest contributing observation. ok is false when the series
	// has no usable observation at or after target.
	PriceAt(target int64) (price float64, observedAt int64, ok bool)
}

// NewRefPricer builds the strategy selected by name over the instrument's
// observation series. mids is the mid-price series from book replay; trades
// is the normalized trade sequence; vwapInterval applies to the vwap
// strategy only.
func NewRefPricer(name domain.RefPriceStrategy, mids Series, trades []*domain.TradeEvent, vwapInterval time.Duration) (RefPricer, error) {
	switch name {
	case domain.RefPriceMid:
		return &MidPricer{mids: mids}, nil
	case domain.RefPriceLastTrade:
		return &TradePricer{trades: trades}, nil
	case domain.RefPriceVWAP:
		if vwapInterval <= 0 {
			return nil, fmt.Errorf("vwap strategy requires a positive interval, got %v", vwapInterval)
		}
		return &VWAPPricer{trades: trades, interval: vwapInterval.Nanoseconds()}, nil
	default:
		return nil, fmt.Errorf("unknown reference price strategy %q", name)
	}
}

// MidPricer uses the first book mid-price observed at or after the target.
type MidPricer struct {
	mids Series
}

// Name implements RefPricer.
func (p *MidPricer) Name() domain.RefPriceStrategy {
	return domain.RefPriceMid
}

// PriceAt implements RefPricer.
func (p *MidPricer) PriceAt(target int64) (float64, int64, bool) {
	idx := p.mids.atOrAfter(target)
	if idx >= len(p.mids) {
		return 0, 0, false
	}
	obs := p.mids[idx]
	return obs.Price, obs.Timestamp, true
}

// TradePricer uses the price of the first trade printed at or after the
// target.
type TradePricer struct {
	trades []*domain.TradeEvent
}

// Name implements RefPricer.
func (p *TradePricer) Name() domain.RefPriceStrategy {
	return domain.RefPriceLastTrade
}

// PriceAt implements RefPricer.
func (p *TradePricer) PriceAt(target int64) (float64, int64, bool) {
	idx := sort.Search(len(p.trades), func(i int) bool { return p.trades[i].Timestamp >= target })
	if idx >= len(p.trades) {
		return 0, 0, false
	}
	t := p.trades[idx]
	return t.Price, t.Timestamp, true
}

// VWAPPricer uses the volume-weighted average trade price over
// [target, target+interval).
type VWAPPricer struct {
	trades   []*domain.TradeEvent
	interval int64 // ns
}

// Name implements RefPricer.
func (p *VWAPPricer) Name() domain.RefPriceStrategy {
	return domain.RefPriceVWAP
}

// PriceAt implements RefPricer.
func (p *VWAPPricer) PriceAt(target int64) (float64, int64, bool) {
	idx := sort.Search(len(p.trades), func(i int) bool { return p.trades[i].Timestamp >= target })
	if idx >= len(p.trades) {
		return 0, 0, false
	}

	var sumPQ, sumQ float64
	end := target + p.interval
	first := p.trades[idx]
	for i := idx; i < len(p.trades) && p.trades[i].Timestamp < end; i++ {
		t := p.trades[i]
		sumPQ += t.Price * t.Quantity
		sumQ += t.Quantity
	}
	if sumQ == 0 {
		return 0, 0, false
	}
	return sumPQ / sumQ, first.Timestamp, true
}

var (
	_ RefPricer = (*MidPricer)(nil)
	_ RefPricer = (*TradePricer)(nil)
	_ RefPricer = (*VWAPPricer)(nil)
)
