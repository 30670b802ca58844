package domain

// Side identifies the order-book side an update applies to.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// String returns the string representation of Side.
func (s Side) String() string {
	return string(s)
}

// IsValid checks if the side is a valid value.
func (s Side) IsValid() bool {
	return s == SideBid || s == SideAsk
}

// BookEventType classifies a book update.
type BookEventType string

const (
	BookEventAdd    BookEventType = "add"
	BookEventCancel BookEventType = "cancel"
	BookEventModify BookEventType = "modify"
)

// String returns the string representation of BookEventType.
func (t BookEventType) String() string {
	return string(t)
}

// IsValid checks if the event type is a valid value.
func (t BookEventType) IsValid() bool {
	return t == BookEventAdd || t == BookEventCancel || t == BookEventModify
}

// Aggressor identifies the initiating side of a trade.
type Aggressor string

const (
	AggressorBuy  Aggressor = "buy"
	AggressorSell Aggressor = "sell"
)

// String returns the string representation of Aggressor.
func (a Aggressor) String() string {
	return string(a)
}

// IsValid checks if the aggressor is a valid value.
func (a Aggressor) IsValid() bool {
	return a == AggressorBuy || a == AggressorSell
}

// BookUpdateEvent represents one normalized change to a single price level.
// Corresponds to book_updates table in PostgreSQL.
// Immutable once created; ordered by (Timestamp, IngestSeq).
type BookUpdateEvent struct {
	Instrument  string        // instrument identifier
	Timestamp   int64         // event time, Unix nanoseconds
	IngestSeq   int64         // stable sequence assigned at ingestion
	UpdateSeq   int64         // venue update sequence number, 0 when absent
	Side        Side          // "bid" | "ask"
	PriceLevel  float64       // price of the affected level
	NewQuantity float64       // resting quantity after the update
	EventType   BookEventType // "add" | "cancel" | "modify"
	CreatedAt   int64         // record creation timestamp (ns)
}

// TradeEvent represents one normalized trade print.
// Corresponds to trades table in PostgreSQL.
// Immutable once created; ordered by (Timestamp, IngestSeq).
type TradeEvent struct {
	Instrument string    // instrument identifier
	Timestamp  int64     // event time, Unix nanoseconds
	IngestSeq  int64     // stable sequence assigned at ingestion
	Price      float64   // execution price
	Quantity   float64   // traded quantity
	Aggressor  Aggressor // "buy" | "sell"
	CreatedAt  int64     // record creation timestamp (ns)
}
