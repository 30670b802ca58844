package book

import "orderflow-lab/internal/domain"

// StatsAt derives end-of-window descriptors from a book state. The state is
// whatever replay produced last before the window boundary, so consecutive
// calls across event-free windows forward-fill naturally. Fields stay nil
// until the corresponding side has been observed.
func StatsAt(state *domain.BookState, instrument string, windowStart int64) domain.WindowBookStats {
	stats := domain.WindowBookStats{
		Instrument:  instrument,
		WindowStart: windowStart,
	}
	if state == nil {
		return stats
	}
	if mid, ok := state.MidPrice(); ok {
		stats.MidPrice = &mid
	}
	if spread, ok := state.Spread(); ok {
		stats.Spread = &spread
	}
	if bid, ok := state.BestBid(); ok {
		qty := bid.Quantity
		stats.BestBidQty = &qty
	}
	if ask, ok := state.BestAsk(); ok {
		qty := ask.Quantity
		stats.BestAskQty = &qty
	}
	return stats
}
