package domain

// WindowBookStats captures end-of-window book descriptors, forward-filled
// across windows with no book activity. Nullable fields stay NULL until the
// first book observation for the instrument.
type WindowBookStats struct {
	Instrument  string   // instrument identifier
	WindowStart int64    // inclusive window start (ns)
	MidPrice    *float64 // (best_bid + best_ask) / 2 at window end
	Spread      *float64 // best_ask - best_bid at window end
	BestBidQty  *float64 // resting quantity at best bid
	BestAskQty  *float64 // resting quantity at best ask
}

// HorizonLabel is the per-horizon slice of a FeatureRow, ordered by horizon.
// Missing labels near the end of the sample appear as Missing = true.
type HorizonLabel struct {
	Horizon      int64     // forward offset (ns)
	FutureReturn float64   // meaningless when Missing
	Direction    Direction // meaningless when Missing
	Missing      bool      // true when future data was insufficient
}

// FeatureRow is the assembled dataset row for one (instrument, window).
// Corresponds to feature_rows table in ClickHouse.
// Rows exist only for windows with features and at least one label horizon.
type FeatureRow struct {
	Instrument         string         // instrument identifier
	WindowStart        int64          // inclusive window start (ns)
	WindowEnd          int64          // exclusive window end (ns)
	SignedVolume       float64        // windowed OFI under the configured policy
	RawBuyVolume       float64        // buy-aggressor trade volume
	RawSellVolume      float64        // sell-aggressor trade volume
	BookDeltaComponent float64        // book liquidity component of OFI
	TotalVolume        float64        // raw_buy_volume + raw_sell_volume
	OFINorm            float64        // signed_volume / total_volume, 0 when total is 0
	OFISumShort        float64        // rolling sum over the short span
	OFISumLong         float64        // rolling sum over the long span
	MidPrice           *float64       // end-of-window mid, forward-filled
	Spread             *float64       // end-of-window spread, forward-filled
	Labels             []HorizonLabel // one per configured horizon, ascending
	Confidence         Confidence     // "ok" | "low"
}

// DroppedWindowCounts reports windows excluded from the assembled dataset,
// surfaced in the run manifest so significant data loss is visible.
type DroppedWindowCounts struct {
	NoLabel       int // windows with no label at any horizon
	LowConfidence int // windows excluded by the "drop" gap policy
}
