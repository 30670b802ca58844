// Package ingest moves raw market data into the event archive. File sources
// parse tabular book and trade records, the Manager normalizes and stores
// them, and the live path (FeedClient, SnapshotClient, Archiver) captures a
// venue feed into the same stores.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"orderflow-lab/internal/normalize"
)

// LevelSource provides raw level-delta book records from external sources.
type LevelSource interface {
	// Fetch returns raw records within time range [from, to] (inclusive);
	// a zero to means no upper bound. Records may be unordered and
	// unvalidated; the Manager's normalizer enforces both.
	Fetch(ctx context.Context, from, to int64) ([]normalize.RawLevelRecord, error)
}

// QuoteSource provides raw top-of-book quote records from external sources.
type QuoteSource interface {
	// Fetch returns raw records within time range [from, to] (inclusive);
	// a zero to means no upper bound. Records may be unordered and
	// unvalidated; the Manager's normalizer enforces both.
	Fetch(ctx context.Context, from, to int64) ([]normalize.RawQuoteRecord, error)
}

// TradeSource provides raw trade records from external sources.
type TradeSource interface {
	// Fetch returns raw records within time range [from, to] (inclusive);
	// a zero to means no upper bound. Records may be unordered and
	// unvalidated; the Manager's normalizer enforces both.
	Fetch(ctx context.Context, from, to int64) ([]normalize.RawTradeRecord, error)
}

// LevelFileSource reads level-delta book records from a CSV file with a
// header row. Required columns: timestamp, side, price, quantity,
// event_type. Optional columns: update_seq, instrument (a non-empty cell
// overrides the configured instrument for that row).
//
// Cells that fail to parse leave the corresponding record field unset so the
// normalizer can apply the malformed-record policy; structural problems
// (missing file, missing required column, ragged row) fail the load.
type LevelFileSource struct {
	path       string
	instrument string
}

// NewLevelFileSource creates a file source for level-delta book records.
func NewLevelFileSource(path, instrument string) *LevelFileSource {
	return &LevelFileSource{path: path, instrument: instrument}
}

// Fetch implements LevelSource.
func (s *LevelFileSource) Fetch(ctx context.Context, from, to int64) ([]normalize.RawLevelRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	header, rows, err := readCSVFile(s.path)
	if err != nil {
		return nil, err
	}
	if err := header.require(s.path, "timestamp", "side", "price", "quantity", "event_type"); err != nil {
		return nil, err
	}

	records := make([]normalize.RawLevelRecord, 0, len(rows))
	for _, row := range rows {
		rec := normalize.RawLevelRecord{
			Instrument: s.instrument,
			Timestamp:  parseTimestampCell(header.cell(row, "timestamp")),
			Side:       header.cell(row, "side"),
			Price:      parseFloatCell(header.cell(row, "price")),
			Quantity:   parseFloatCell(header.cell(row, "quantity")),
			EventType:  header.cell(row, "event_type"),
			UpdateSeq:  parseSeqCell(header.cell(row, "update_seq")),
		}
		if inst := header.cell(row, "instrument"); inst != "" {
			rec.Instrument = inst
		}
		if !inRange(rec.Timestamp, from, to) {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// QuoteFileSource reads top-of-book quote records from a CSV file with a
// header row, one full L1 observation per row. Required columns: timestamp,
// bid_price, bid_size, ask_price, ask_size. Optional columns: update_seq,
// instrument.
type QuoteFileSource struct {
	path       string
	instrument string
}

// NewQuoteFileSource creates a file source for top-of-book quote records.
func NewQuoteFileSource(path, instrument string) *QuoteFileSource {
	return &QuoteFileSource{path: path, instrument: instrument}
}

// Fetch implements QuoteSource.
func (s *QuoteFileSource) Fetch(ctx context.Context, from, to int64) ([]normalize.RawQuoteRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	header, rows, err := readCSVFile(s.path)
	if err != nil {
		return nil, err
	}
	if err := header.require(s.path, "timestamp", "bid_price", "bid_size", "ask_price", "ask_size"); err != nil {
		return nil, err
	}

	records := make([]normalize.RawQuoteRecord, 0, len(rows))
	for _, row := range rows {
		rec := normalize.RawQuoteRecord{
			Instrument: s.instrument,
			Timestamp:  parseTimestampCell(header.cell(row, "timestamp")),
			BidPrice:   parseFloatCell(header.cell(row, "bid_price")),
			BidQty:     parseFloatCell(header.cell(row, "bid_size")),
			AskPrice:   parseFloatCell(header.cell(row, "ask_price")),
			AskQty:     parseFloatCell(header.cell(row, "ask_size")),
			UpdateSeq:  parseSeqCell(header.cell(row, "update_seq")),
		}
		if inst := header.cell(row, "instrument"); inst != "" {
			rec.Instrument = inst
		}
		if !inRange(rec.Timestamp, from, to) {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// TradeFileSource reads trade records from a CSV file with a header row.
// Required columns: timestamp, price, size, side. The side cell accepts
// "buy"/"sell" as well as signed integers (1 buy, -1 sell). Optional
// column: instrument.
type TradeFileSource struct {
	path       string
	instrument string
}

// NewTradeFileSource creates a file source for trade records.
func NewTradeFileSource(path, instrument string) *TradeFileSource {
	return &TradeFileSource{path: path, instrument: instrument}
}

// Fetch implements TradeSource.
func (s *TradeFileSource) Fetch(ctx context.Context, from, to int64) ([]normalize.RawTradeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	header, rows, err := readCSVFile(s.path)
	if err != nil {
		return nil, err
	}
	if err := header.require(s.path, "timestamp", "price", "size", "side"); err != nil {
		return nil, err
	}

	records := make([]normalize.RawTradeRecord, 0, len(rows))
	for _, row := range rows {
		rec := normalize.RawTradeRecord{
			Instrument: s.instrument,
			Timestamp:  parseTimestampCell(header.cell(row, "timestamp")),
			Price:      parseFloatCell(header.cell(row, "price")),
			Quantity:   parseFloatCell(header.cell(row, "size")),
			Aggressor:  header.cell(row, "side"),
		}
		if inst := header.cell(row, "instrument"); inst != "" {
			rec.Instrument = inst
		}
		if !inRange(rec.Timestamp, from, to) {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// LevelSliceSource serves level-delta records already held in memory,
// applying the same [from, to] range rule as the file sources.
type LevelSliceSource []normalize.RawLevelRecord

// Fetch implements LevelSource.
func (s LevelSliceSource) Fetch(ctx context.Context, from, to int64) ([]normalize.RawLevelRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := make([]normalize.RawLevelRecord, 0, len(s))
	for _, rec := range s {
		if inRange(rec.Timestamp, from, to) {
			records = append(records, rec)
		}
	}
	return records, nil
}

// QuoteSliceSource serves quote records already held in memory.
type QuoteSliceSource []normalize.RawQuoteRecord

// Fetch implements QuoteSource.
func (s QuoteSliceSource) Fetch(ctx context.Context, from, to int64) ([]normalize.RawQuoteRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := make([]normalize.RawQuoteRecord, 0, len(s))
	for _, rec := range s {
		if inRange(rec.Timestamp, from, to) {
			records = append(records, rec)
		}
	}
	return records, nil
}

// TradeSliceSource serves trade records already held in memory.
type TradeSliceSource []normalize.RawTradeRecord

// Fetch implements TradeSource.
func (s TradeSliceSource) Fetch(ctx context.Context, from, to int64) ([]normalize.RawTradeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := make([]normalize.RawTradeRecord, 0, len(s))
	for _, rec := range s {
		if inRange(rec.Timestamp, from, to) {
			records = append(records, rec)
		}
	}
	return records, nil
}

// csvHeader maps lowercased column names to their positions in a row.
type csvHeader map[string]int

// require returns an error naming any required columns absent from the header.
func (h csvHeader) require(path string, names ...string) error {
	var missing []string
	for _, name := range names {
		if _, ok := h[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: missing required columns: %s", path, strings.Join(missing, ", "))
	}
	return nil
}

// cell returns the trimmed value of a named column, or "" when the column is
// absent from the header.
func (h csvHeader) cell(row []string, name string) string {
	idx, ok := h[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// readCSVFile reads a whole CSV file, returning the header map and data rows.
func readCSVFile(path string) (csvHeader, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	headerRow, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header %s: %w", path, err)
	}

	header := make(csvHeader, len(headerRow))
	for i, name := range headerRow {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}

	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read rows %s: %w", path, err)
	}

	return header, rows, nil
}

// inRange reports whether a record timestamp falls inside [from, to]; a zero
// to means no upper bound. Records without a parsable timestamp pass through
// so the normalizer counts or aborts on them instead of the loader silently
// dropping rows.
func inRange(ts *int64, from, to int64) bool {
	if ts == nil {
		return true
	}
	if *ts < from {
		return false
	}
	if to != 0 && *ts > to {
		return false
	}
	return true
}

// timestampLayouts are the accepted textual timestamp forms, tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
}

// parseTimestampCell parses a timestamp cell into Unix nanoseconds. Accepts
// a plain integer (already nanoseconds) or a textual form; the plain
// datetime layout is read as UTC. Returns nil when the cell cannot be parsed.
func parseTimestampCell(s string) *int64 {
	if s == "" {
		return nil
	}
	if ns, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &ns
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			ns := t.UnixNano()
			return &ns
		}
	}
	return nil
}

// parseFloatCell parses a numeric cell, returning nil when it cannot be parsed.
func parseFloatCell(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// parseSeqCell parses a sequence number cell, returning 0 when absent or
// unparsable (0 means the source carries no sequence numbers).
func parseSeqCell(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
