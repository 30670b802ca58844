package normalize

import (
	"sort"

	"orderflow-lab/internal/domain"
)

// EventType represents the type of a normalized event.
type EventType string

// Event type constants. The declared order is also the tie-break order at
// equal timestamps: book state settles before the trades that hit it.
const (
	EventTypeBookUpdate EventType = "book_update"
	EventTypeCheckpoint EventType = "checkpoint"
	EventTypeTrade      EventType = "trade"
)

// typeRank returns the tie-break rank for an event type.
func typeRank(t EventType) int {
	switch t {
	case EventTypeCheckpoint:
		return 0
	case EventTypeBookUpdate:
		return 1
	default:
		return 2
	}
}

// Event is a unified normalized event on the single time axis.
// Exactly one of BookUpdate, Checkpoint, or Trade is set based on Type.
type Event struct {
	Type       EventType
	Instrument string
	Timestamp  int64
	IngestSeq  int64
	BookUpdate *domain.BookUpdateEvent
	Checkpoint *domain.BookCheckpoint
	Trade      *domain.TradeEvent
}

// SortEvents orders events by (timestamp ASC, type ASC, ingest_seq ASC).
// The sort is stable, so records whose timestamps were jittered within the
// skew tolerance keep their ingestion order after local reordering.
func SortEvents(events []*Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return compareEvents(events[i], events[j]) < 0
	})
}

// MergeEvents combines already-normalized streams into one sorted sequence.
// Used on the archive path where events come out of storage with their
// ingestion sequence numbers already assigned.
func MergeEvents(updates []*domain.BookUpdateEvent, checkpoints []*domain.BookCheckpoint, trades []*domain.TradeEvent) []*Event {
	events := make([]*Event, 0, len(updates)+len(checkpoints)+len(trades))

	for _, u := range updates {
		events = append(events, &Event{
			Type:       EventTypeBookUpdate,
			Instrument: u.Instrument,
			Timestamp:  u.Timestamp,
			IngestSeq:  u.IngestSeq,
			BookUpdate: u,
		})
	}

	for _, c := range checkpoints {
		events = append(events, &Event{
			Type:       EventTypeCheckpoint,
			Instrument: c.Instrument,
			Timestamp:  c.Timestamp,
			IngestSeq:  c.IngestSeq,
			Checkpoint: c,
		})
	}

	for _, t := range trades {
		events = append(events, &Event{
			Type:       EventTypeTrade,
			Instrument: t.Instrument,
			Timestamp:  t.Timestamp,
			IngestSeq:  t.IngestSeq,
			Trade:      t,
		})
	}

	SortEvents(events)
	return events
}

// ValidateEventOrdering checks that events are sorted by
// (timestamp, type, ingest_seq) with no duplicates.
// Returns ErrInvalidOrdering if not.
func ValidateEventOrdering(events []*Event) error {
	for i := 1; i < len(events); i++ {
		if compareEvents(events[i-1], events[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// GroupByInstrument partitions a sorted event stream per instrument,
// preserving relative order. The returned instrument list is sorted so
// iteration over the groups is deterministic.
func GroupByInstrument(events []*Event) (map[string][]*Event, []string) {
	groups := make(map[string][]*Event)
	for _, e := range events {
		groups[e.Instrument] = append(groups[e.Instrument], e)
	}

	instruments := make([]string, 0, len(groups))
	for id := range groups {
		instruments = append(instruments, id)
	}
	sort.Strings(instruments)

	return groups, instruments
}

// compareEvents returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (timestamp ASC, type ASC, ingest_seq ASC)
func compareEvents(a, b *Event) int {
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return -1
		}
		return 1
	}
	ra, rb := typeRank(a.Type), typeRank(b.Type)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	if a.IngestSeq != b.IngestSeq {
		if a.IngestSeq < b.IngestSeq {
			return -1
		}
		return 1
	}
	return 0
}
