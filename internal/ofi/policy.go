package ofi

import (
	"fmt"

	"orderflow-lab/internal/book"
	"orderflow-lab/internal/domain"
)

// DefaultDepthLevels is the default book depth included in OFI.
// Top-of-book only: updates deeper than the best level contribute nothing
// unless the depth is raised explicitly. This default changes output, so it
// is part of the dataset configuration, never inferred.
const DefaultDepthLevels = 1

// Policy maps events onto signed volume contributions. Implementations must
// be pure functions of their arguments so aggregation stays deterministic.
type Policy interface {
	// Name identifies the policy in configuration and manifests.
	Name() domain.OFIPolicyName

	// TradeContribution returns the signed contribution of one trade print.
	TradeContribution(t *domain.TradeEvent) float64

	// BookContribution returns the signed contribution of one applied level
	// change, given the delta reported by book replay.
	BookContribution(d *book.Delta) float64
}

// NewPolicy builds the policy selected by name. depthLevels applies to the
// baseline policy only; 0 means DefaultDepthLevels.
func NewPolicy(name domain.OFIPolicyName, depthLevels int) (Policy, error) {
	switch name {
	case domain.OFIPolicyBaseline, "":
		if depthLevels <= 0 {
			depthLevels = DefaultDepthLevels
		}
		return &BaselinePolicy{DepthLevels: depthLevels}, nil
	case domain.OFIPolicyTradeFlow:
		return &TradeFlowPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown ofi policy %q", name)
	}
}

// BaselinePolicy combines aggressive trade flow with book liquidity changes
// inside the configured depth.
//
// Trades contribute +quantity for buy aggressors and -quantity for sell
// aggressors. Book updates contribute the signed quantity delta for bid
// levels and its negation for ask levels, which works out to +|delta| for
// bid additions and ask cancellations and -|delta| for ask additions and
// bid cancellations. A level change counts when the level ranks within
// DepthLevels on its side in either the pre-update or post-update book, so
// cancellations of a best level and insertions of a new best level are both
// captured when ranks shift.
type BaselinePolicy struct {
	DepthLevels int
}

// Name implements Policy.
func (p *BaselinePolicy) Name() domain.OFIPolicyName {
	return domain.OFIPolicyBaseline
}

// TradeContribution implements Policy.
func (p *BaselinePolicy) TradeContribution(t *domain.TradeEvent) float64 {
	if t.Aggressor == domain.AggressorBuy {
		return t.Quantity
	}
	return -t.Quantity
}

// BookContribution implements Policy.
func (p *BaselinePolicy) BookContribution(d *book.Delta) float64 {
	depth := p.DepthLevels
	if depth <= 0 {
		depth = DefaultDepthLevels
	}
	withinDepth := (d.PrevRank > 0 && d.PrevRank <= depth) ||
		(d.PostRank > 0 && d.PostRank <= depth)
	if !withinDepth {
		return 0
	}
	if d.Side == domain.SideBid {
		return d.QuantityDelta
	}
	return -d.QuantityDelta
}

// TradeFlowPolicy is aggressive trade flow only: buy volume minus sell
// volume, ignoring book liquidity changes entirely.
type TradeFlowPolicy struct{}

// Name implements Policy.
func (p *TradeFlowPolicy) Name() domain.OFIPolicyName {
	return domain.OFIPolicyTradeFlow
}

// TradeContribution implements Policy.
func (p *TradeFlowPolicy) TradeContribution(t *domain.TradeEvent) float64 {
	if t.Aggressor == domain.AggressorBuy {
		return t.Quantity
	}
	return -t.Quantity
}

// BookContribution implements Policy.
func (p *TradeFlowPolicy) BookContribution(d *book.Delta) float64 {
	return 0
}

var (
	_ Policy = (*BaselinePolicy)(nil)
	_ Policy = (*TradeFlowPolicy)(nil)
)
