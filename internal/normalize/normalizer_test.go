package normalize

import (
	"errors"
	"testing"
	"time"

	"orderflow-lab/internal/domain"
)

func i64(v int64) *int64 {
	return &v
}

func f64(v float64) *float64 {
	return &v
}

func validTrade(instrument string, ts int64, price, qty float64, aggressor string) RawTradeRecord {
	return RawTradeRecord{
		Instrument: instrument,
		Timestamp:  i64(ts),
		Price:      f64(price),
		Quantity:   f64(qty),
		Aggressor:  aggressor,
	}
}

func validLevel(instrument string, ts int64, side string, price, qty float64) RawLevelRecord {
	return RawLevelRecord{
		Instrument: instrument,
		Timestamp:  i64(ts),
		Side:       side,
		Price:      f64(price),
		Quantity:   f64(qty),
		EventType:  "modify",
	}
}

func validQuote(instrument string, ts int64, bid, bidQty, ask, askQty float64) RawQuoteRecord {
	return RawQuoteRecord{
		Instrument: instrument,
		Timestamp:  i64(ts),
		BidPrice:   f64(bid),
		BidQty:     f64(bidQty),
		AskPrice:   f64(ask),
		AskQty:     f64(askQty),
	}
}

func TestNormalize_MergesAndSorts(t *testing.T) {
	n := New(Options{})

	levels := []RawLevelRecord{validLevel("BTC-USD", 3000, "bid", 100.0, 5)}
	quotes := []RawQuoteRecord{validQuote("BTC-USD", 1000, 99.0, 10, 101.0, 10)}
	trades := []RawTradeRecord{validTrade("BTC-USD", 2000, 100.0, 1, "buy")}

	stream, err := n.Normalize(levels, quotes, trades)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if len(stream.Events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(stream.Events))
	}
	if err := ValidateEventOrdering(stream.Events); err != nil {
		t.Errorf("Expected deterministic ordering, got %v", err)
	}

	want := []EventType{EventTypeCheckpoint, EventTypeTrade, EventTypeBookUpdate}
	for i, typ := range want {
		if stream.Events[i].Type != typ {
			t.Errorf("Index %d: got %s, want %s", i, stream.Events[i].Type, typ)
		}
	}

	// Ingestion sequence numbers follow arrival order: levels, quotes, trades.
	if stream.Events[2].IngestSeq != 0 {
		t.Errorf("Expected level record to carry seq 0, got %d", stream.Events[2].IngestSeq)
	}
	if stream.Events[0].IngestSeq != 1 {
		t.Errorf("Expected quote record to carry seq 1, got %d", stream.Events[0].IngestSeq)
	}
	if stream.Events[1].IngestSeq != 2 {
		t.Errorf("Expected trade record to carry seq 2, got %d", stream.Events[1].IngestSeq)
	}
}

func TestNormalize_QuoteBecomesCheckpoint(t *testing.T) {
	n := New(Options{})

	stream, err := n.Normalize(nil, []RawQuoteRecord{
		{
			Instrument: "BTC-USD",
			Timestamp:  i64(1000),
			BidPrice:   f64(99.5),
			BidQty:     f64(12),
			AskPrice:   f64(100.5),
			AskQty:     f64(8),
			UpdateSeq:  42,
		},
	}, nil)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if len(stream.Events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(stream.Events))
	}
	cp := stream.Events[0].Checkpoint
	if cp == nil {
		t.Fatal("Expected a checkpoint event")
	}
	if cp.UpdateSeq != 42 {
		t.Errorf("Expected update seq 42, got %d", cp.UpdateSeq)
	}
	if len(cp.Bids) != 1 || cp.Bids[0].Price != 99.5 || cp.Bids[0].Quantity != 12 {
		t.Errorf("Unexpected bid side: %+v", cp.Bids)
	}
	if len(cp.Asks) != 1 || cp.Asks[0].Price != 100.5 || cp.Asks[0].Quantity != 8 {
		t.Errorf("Unexpected ask side: %+v", cp.Asks)
	}
}

func TestNormalize_SkewWithinToleranceReorders(t *testing.T) {
	n := New(Options{SkewTolerance: 100 * time.Millisecond})

	base := int64(1_000_000_000)
	jitter := 50 * time.Millisecond.Nanoseconds()
	trades := []RawTradeRecord{
		validTrade("BTC-USD", base, 100.0, 1, "buy"),
		validTrade("BTC-USD", base-jitter, 100.0, 2, "sell"),
	}

	stream, err := n.Normalize(nil, nil, trades)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(stream.Events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(stream.Events))
	}
	if stream.Events[0].Timestamp != base-jitter || stream.Events[1].Timestamp != base {
		t.Errorf("Expected local reorder to ascending timestamps, got %d then %d",
			stream.Events[0].Timestamp, stream.Events[1].Timestamp)
	}
}

func TestNormalize_SkewBeyondToleranceFails(t *testing.T) {
	n := New(Options{SkewTolerance: 100 * time.Millisecond})

	base := int64(1_000_000_000)
	regression := 200 * time.Millisecond.Nanoseconds()
	trades := []RawTradeRecord{
		validTrade("BTC-USD", base, 100.0, 1, "buy"),
		validTrade("BTC-USD", base-regression, 100.0, 2, "sell"),
	}

	_, err := n.Normalize(nil, nil, trades)
	if !errors.Is(err, ErrClockSkew) {
		t.Errorf("Expected ErrClockSkew, got %v", err)
	}
}

func TestNormalize_SkewCheckedPerStream(t *testing.T) {
	n := New(Options{SkewTolerance: 100 * time.Millisecond})

	// The book stream is far ahead of the trade stream; regressions are only
	// checked within each stream, so this is fine.
	levels := []RawLevelRecord{validLevel("BTC-USD", 5_000_000_000, "bid", 100.0, 5)}
	trades := []RawTradeRecord{validTrade("BTC-USD", 1_000_000_000, 100.0, 1, "buy")}

	if _, err := n.Normalize(levels, nil, trades); err != nil {
		t.Errorf("Expected cross-stream offsets to pass, got %v", err)
	}
}

func TestNormalize_SkewCheckedPerInstrument(t *testing.T) {
	n := New(Options{SkewTolerance: 100 * time.Millisecond})

	trades := []RawTradeRecord{
		validTrade("BTC-USD", 5_000_000_000, 100.0, 1, "buy"),
		validTrade("ETH-USD", 1_000_000_000, 50.0, 1, "buy"),
	}

	if _, err := n.Normalize(nil, nil, trades); err != nil {
		t.Errorf("Expected per-instrument skew tracking, got %v", err)
	}
}

func TestNormalize_MalformedAborts(t *testing.T) {
	n := New(Options{})

	trades := []RawTradeRecord{
		validTrade("BTC-USD", 1000, 100.0, 1, "buy"),
		validTrade("BTC-USD", 2000, -1.0, 1, "buy"),
	}

	_, err := n.Normalize(nil, nil, trades)
	if !errors.Is(err, ErrMalformedRecord) {
		t.Errorf("Expected ErrMalformedRecord, got %v", err)
	}
}

func TestNormalize_MalformedSkipCounts(t *testing.T) {
	n := New(Options{Malformed: domain.MalformedSkip})

	levels := []RawLevelRecord{
		validLevel("BTC-USD", 1000, "bid", 100.0, 5),
		validLevel("BTC-USD", 2000, "sideways", 100.0, 5), // invalid side
	}
	quotes := []RawQuoteRecord{
		validQuote("BTC-USD", 1500, 99.0, 10, 101.0, 10),
		{Instrument: "BTC-USD", Timestamp: i64(2500)}, // incomplete quote
	}
	trades := []RawTradeRecord{
		validTrade("BTC-USD", 3000, 100.0, 1, "buy"),
		validTrade("BTC-USD", 3500, 100.0, 0, "buy"), // zero quantity
	}

	stream, err := n.Normalize(levels, quotes, trades)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if stream.MalformedCount != 3 {
		t.Errorf("Expected 3 malformed records, got %d", stream.MalformedCount)
	}
	if len(stream.Events) != 3 {
		t.Errorf("Expected 3 surviving events, got %d", len(stream.Events))
	}
}

func TestNormalize_MissingTimestamp(t *testing.T) {
	n := New(Options{})

	_, err := n.Normalize(nil, nil, []RawTradeRecord{
		{Instrument: "BTC-USD", Price: f64(100), Quantity: f64(1), Aggressor: "buy"},
	})
	if !errors.Is(err, ErrMalformedRecord) {
		t.Errorf("Expected ErrMalformedRecord for missing timestamp, got %v", err)
	}
}

func TestNormalize_NegativeLevelQuantityPasses(t *testing.T) {
	n := New(Options{})

	// Negative resting quantities are a replay concern: the book clamps and
	// counts them, so normalization must not reject the record.
	stream, err := n.Normalize([]RawLevelRecord{
		validLevel("BTC-USD", 1000, "bid", 100.0, -5),
	}, nil, nil)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(stream.Events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(stream.Events))
	}
	if stream.Events[0].BookUpdate.NewQuantity != -5 {
		t.Errorf("Expected quantity -5 to pass through, got %v", stream.Events[0].BookUpdate.NewQuantity)
	}
}

func TestNormalize_SideAndTypeCaseInsensitive(t *testing.T) {
	n := New(Options{})

	rec := RawLevelRecord{
		Instrument: "BTC-USD",
		Timestamp:  i64(1000),
		Side:       "BID",
		Price:      f64(100),
		Quantity:   f64(5),
		EventType:  "Add",
	}
	stream, err := n.Normalize([]RawLevelRecord{rec}, nil, nil)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	u := stream.Events[0].BookUpdate
	if u.Side != domain.SideBid || u.EventType != domain.BookEventAdd {
		t.Errorf("Expected lowercased side/type, got %s/%s", u.Side, u.EventType)
	}
}

func TestParseAggressor(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.Aggressor
		wantErr bool
	}{
		{"buy", domain.AggressorBuy, false},
		{"BUY", domain.AggressorBuy, false},
		{"b", domain.AggressorBuy, false},
		{"1", domain.AggressorBuy, false},
		{"+1", domain.AggressorBuy, false},
		{" buy ", domain.AggressorBuy, false},
		{"sell", domain.AggressorSell, false},
		{"SELL", domain.AggressorSell, false},
		{"s", domain.AggressorSell, false},
		{"-1", domain.AggressorSell, false},
		{"", "", true},
		{"hold", "", true},
		{"2", "", true},
	}

	for _, tt := range tests {
		got, err := ParseAggressor(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAggressor(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAggressor(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAggressor(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
