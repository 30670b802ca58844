package normalize

import (
	"errors"
	"testing"

	"orderflow-lab/internal/domain"
)

func event(t EventType, instrument string, ts, seq int64) *Event {
	e := &Event{Type: t, Instrument: instrument, Timestamp: ts, IngestSeq: seq}
	switch t {
	case EventTypeBookUpdate:
		e.BookUpdate = &domain.BookUpdateEvent{Instrument: instrument, Timestamp: ts, IngestSeq: seq}
	case EventTypeCheckpoint:
		e.Checkpoint = &domain.BookCheckpoint{Instrument: instrument, Timestamp: ts, IngestSeq: seq}
	case EventTypeTrade:
		e.Trade = &domain.TradeEvent{Instrument: instrument, Timestamp: ts, IngestSeq: seq}
	}
	return e
}

func TestSortEvents(t *testing.T) {
	// Intentionally unordered events
	events := []*Event{
		event(EventTypeTrade, "BTC-USD", 2000, 4),
		event(EventTypeTrade, "BTC-USD", 1000, 3),
		event(EventTypeBookUpdate, "BTC-USD", 2000, 1),
		event(EventTypeCheckpoint, "BTC-USD", 2000, 2),
		event(EventTypeTrade, "BTC-USD", 1000, 0),
	}

	SortEvents(events)

	// Verify order: (timestamp ASC, type ASC, ingest_seq ASC)
	expected := []struct {
		ts  int64
		typ EventType
		seq int64
	}{
		{1000, EventTypeTrade, 0},
		{1000, EventTypeTrade, 3},
		{2000, EventTypeCheckpoint, 2},
		{2000, EventTypeBookUpdate, 1},
		{2000, EventTypeTrade, 4},
	}

	for i, exp := range expected {
		if events[i].Timestamp != exp.ts || events[i].Type != exp.typ || events[i].IngestSeq != exp.seq {
			t.Errorf("Index %d: got (%d, %s, %d), want (%d, %s, %d)",
				i, events[i].Timestamp, events[i].Type, events[i].IngestSeq,
				exp.ts, exp.typ, exp.seq)
		}
	}
}

func TestSortEvents_Empty(t *testing.T) {
	var events []*Event
	SortEvents(events) // Should not panic
}

func TestSortEvents_CheckpointSettlesBeforeTrade(t *testing.T) {
	// At an equal timestamp the book state must settle before the trades
	// that hit it: checkpoint, then update, then trade.
	events := []*Event{
		event(EventTypeTrade, "BTC-USD", 1000, 0),
		event(EventTypeBookUpdate, "BTC-USD", 1000, 1),
		event(EventTypeCheckpoint, "BTC-USD", 1000, 2),
	}

	SortEvents(events)

	want := []EventType{EventTypeCheckpoint, EventTypeBookUpdate, EventTypeTrade}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Errorf("Index %d: got %s, want %s", i, events[i].Type, typ)
		}
	}
}

func TestMergeEvents(t *testing.T) {
	updates := []*domain.BookUpdateEvent{
		{Instrument: "BTC-USD", Timestamp: 3000, IngestSeq: 2},
	}
	checkpoints := []*domain.BookCheckpoint{
		{Instrument: "BTC-USD", Timestamp: 1000, IngestSeq: 0},
	}
	trades := []*domain.TradeEvent{
		{Instrument: "BTC-USD", Timestamp: 2000, IngestSeq: 1},
	}

	events := MergeEvents(updates, checkpoints, trades)

	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	want := []EventType{EventTypeCheckpoint, EventTypeTrade, EventTypeBookUpdate}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Errorf("Index %d: got %s, want %s", i, events[i].Type, typ)
		}
	}
	if events[0].Checkpoint == nil || events[1].Trade == nil || events[2].BookUpdate == nil {
		t.Error("Expected payload pointers to match event types")
	}
}

func TestValidateEventOrdering(t *testing.T) {
	events := []*Event{
		event(EventTypeCheckpoint, "BTC-USD", 1000, 0),
		event(EventTypeTrade, "BTC-USD", 1000, 1),
		event(EventTypeTrade, "BTC-USD", 2000, 2),
	}
	if err := ValidateEventOrdering(events); err != nil {
		t.Errorf("Expected valid ordering, got %v", err)
	}
}

func TestValidateEventOrdering_OutOfOrder(t *testing.T) {
	events := []*Event{
		event(EventTypeTrade, "BTC-USD", 2000, 0),
		event(EventTypeTrade, "BTC-USD", 1000, 1),
	}
	if err := ValidateEventOrdering(events); !errors.Is(err, ErrInvalidOrdering) {
		t.Errorf("Expected ErrInvalidOrdering, got %v", err)
	}
}

func TestValidateEventOrdering_Duplicates(t *testing.T) {
	events := []*Event{
		event(EventTypeTrade, "BTC-USD", 1000, 5),
		event(EventTypeTrade, "BTC-USD", 1000, 5),
	}
	if err := ValidateEventOrdering(events); !errors.Is(err, ErrInvalidOrdering) {
		t.Errorf("Expected ErrInvalidOrdering for duplicates, got %v", err)
	}
}

func TestGroupByInstrument(t *testing.T) {
	events := []*Event{
		event(EventTypeTrade, "ETH-USD", 1000, 0),
		event(EventTypeTrade, "BTC-USD", 1500, 1),
		event(EventTypeTrade, "ETH-USD", 2000, 2),
		event(EventTypeTrade, "BTC-USD", 2500, 3),
	}

	groups, instruments := GroupByInstrument(events)

	if len(instruments) != 2 || instruments[0] != "BTC-USD" || instruments[1] != "ETH-USD" {
		t.Errorf("Expected sorted instruments [BTC-USD ETH-USD], got %v", instruments)
	}
	if len(groups["BTC-USD"]) != 2 || len(groups["ETH-USD"]) != 2 {
		t.Fatalf("Expected 2 events per instrument, got %d/%d",
			len(groups["BTC-USD"]), len(groups["ETH-USD"]))
	}
	if groups["ETH-USD"][0].Timestamp != 1000 || groups["ETH-USD"][1].Timestamp != 2000 {
		t.Error("Expected relative order preserved within a group")
	}
}
