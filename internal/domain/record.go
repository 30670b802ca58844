package domain

// Confidence marks whether the book state backing a window was reliable.
type Confidence string

const (
	ConfidenceOK  Confidence = "ok"
	ConfidenceLow Confidence = "low"
)

// String returns the string representation of Confidence.
func (c Confidence) String() string {
	return string(c)
}

// IsValid checks if the confidence is a valid value.
func (c Confidence) IsValid() bool {
	return c == ConfidenceOK || c == ConfidenceLow
}

// OFIRecord represents signed order-flow imbalance for one window.
// Corresponds to ofi_records table in ClickHouse.
// One record exists per (instrument, window), including zero-event windows.
type OFIRecord struct {
	Instrument         string     // instrument identifier
	WindowStart        int64      // inclusive window start (ns)
	WindowEnd          int64      // exclusive window end (ns)
	SignedVolume       float64    // trade component + book delta component
	RawBuyVolume       float64    // sum of buy-aggressor trade quantities
	RawSellVolume      float64    // sum of sell-aggressor trade quantities
	BookDeltaComponent float64    // signed book liquidity change within depth
	TradeCount         int        // trades aggregated into this window
	BookUpdateCount    int        // book updates aggregated into this window
	Confidence         Confidence // "ok" | "low"
}

// Direction classifies a future return against the dead-band threshold.
type Direction string

const (
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
	DirectionUp   Direction = "up"
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	return string(d)
}

// IsValid checks if the direction is a valid value.
func (d Direction) IsValid() bool {
	return d == DirectionDown || d == DirectionFlat || d == DirectionUp
}

// LabelRecord represents a forward-looking label for one window and horizon.
// Both reference prices come from observations at or after the window end;
// the future leg comes from observations at or after window_end + horizon.
type LabelRecord struct {
	Instrument       string    // instrument identifier
	WindowStart      int64     // inclusive window start (ns)
	WindowEnd        int64     // exclusive window end (ns)
	Horizon          int64     // forward offset from window end (ns)
	FutureReturn     float64   // future_price / base_price - 1
	Direction        Direction // "down" | "flat" | "up"
	BasePrice        float64   // reference price at window end
	FuturePrice      float64   // reference price at window end + horizon
	BaseObservedAt   int64     // timestamp of the base observation (ns)
	FutureObservedAt int64     // timestamp of the future observation (ns)
}
