package normalize

// Raw record types mirror source rows before validation. Loaders fill fields
// they could parse and leave the rest nil; validation happens here, not in
// the loaders, so every source schema shares one malformed-record policy.

// RawLevelRecord is one unvalidated row from a level-delta book stream.
type RawLevelRecord struct {
	Instrument string
	Timestamp  *int64 // Unix nanoseconds
	Side       string // "bid" | "ask"
	Price      *float64
	Quantity   *float64 // resting quantity after the change; negatives clamp downstream
	EventType  string   // "add" | "cancel" | "modify"
	UpdateSeq  int64    // venue sequence number, 0 when the source has none
}

// RawQuoteRecord is one unvalidated row from a top-of-book quote stream
// (one full L1 observation per row). Quotes normalize into checkpoints.
type RawQuoteRecord struct {
	Instrument string
	Timestamp  *int64 // Unix nanoseconds
	BidPrice   *float64
	BidQty     *float64
	AskPrice   *float64
	AskQty     *float64
	UpdateSeq  int64 // venue sequence number, 0 when the source has none
}

// RawTradeRecord is one unvalidated row from a trade stream.
type RawTradeRecord struct {
	Instrument string
	Timestamp  *int64 // Unix nanoseconds
	Price      *float64
	Quantity   *float64
	Aggressor  string // "buy"/"sell", single letters, or signed ints ("1"/"-1")
}
