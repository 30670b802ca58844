package domain

// PriceLevel is one resting quantity at a price.
type PriceLevel struct {
	Price    float64 // level price
	Quantity float64 // resting quantity, never negative
}

// BookCheckpoint is a verified full snapshot of the book at a timestamp,
// taken directly from the source rather than derived by replay. The first
// checkpoint seeds replay; later checkpoints restore confidence after
// sequence gaps.
type BookCheckpoint struct {
	Instrument string       // instrument identifier
	Timestamp  int64        // observation time, Unix nanoseconds
	IngestSeq  int64        // stable sequence assigned at ingestion
	UpdateSeq  int64        // venue update sequence number, 0 when absent
	Bids       []PriceLevel // descending by price
	Asks       []PriceLevel // ascending by price
}

// BookState is a derived snapshot of the top price levels per side.
// Levels are kept sorted best-first: bids descending, asks ascending.
// Produced by replay; treated as immutable by consumers.
type BookState struct {
	Instrument    string       // instrument identifier
	Timestamp     int64        // time of the event that produced this state (ns)
	UpdateSeq     int64        // last applied venue sequence number, 0 when absent
	Bids          []PriceLevel // descending by price
	Asks          []PriceLevel // ascending by price
	LowConfidence bool         // true between a detected sequence gap and the next checkpoint
}

// BestBid returns the highest bid level, if any.
func (b *BookState) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask level, if any.
func (b *BookState) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// MidPrice returns (best_bid + best_ask) / 2. False if either side is empty.
func (b *BookState) MidPrice() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// Spread returns best_ask - best_bid. False if either side is empty.
func (b *BookState) Spread() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// Clone returns a deep copy safe to hand to consumers while the working
// state keeps mutating.
func (b *BookState) Clone() *BookState {
	c := &BookState{
		Instrument:    b.Instrument,
		Timestamp:     b.Timestamp,
		UpdateSeq:     b.UpdateSeq,
		LowConfidence: b.LowConfidence,
	}
	if len(b.Bids) > 0 {
		c.Bids = make([]PriceLevel, len(b.Bids))
		copy(c.Bids, b.Bids)
	}
	if len(b.Asks) > 0 {
		c.Asks = make([]PriceLevel, len(b.Asks))
		copy(c.Asks, b.Asks)
	}
	return c
}
