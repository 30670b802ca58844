package dataset

import (
	"testing"
	"time"

	"orderflow-lab/internal/domain"
)

func ns(sec float64) int64 {
	return int64(sec * float64(time.Second))
}

func rec(start int64, signed, buy, sell float64, conf domain.Confidence) *domain.OFIRecord {
	return &domain.OFIRecord{
		Instrument:    "BTC-USD",
		WindowStart:   start,
		WindowEnd:     start + ns(1.0),
		SignedVolume:  signed,
		RawBuyVolume:  buy,
		RawSellVolume: sell,
		Confidence:    conf,
	}
}

func lab(start, horizon int64, ret float64, dir domain.Direction) *domain.LabelRecord {
	return &domain.LabelRecord{
		Instrument:   "BTC-USD",
		WindowStart:  start,
		WindowEnd:    start + ns(1.0),
		Horizon:      horizon,
		FutureReturn: ret,
		Direction:    dir,
	}
}

func labelAll(starts []int64) []*domain.LabelRecord {
	labels := make([]*domain.LabelRecord, 0, len(starts))
	for _, s := range starts {
		labels = append(labels, lab(s, ns(1.0), 0.001, domain.DirectionUp))
	}
	return labels
}

func TestNewAssembler_Validation(t *testing.T) {
	if _, err := NewAssembler(Options{}); err == nil {
		t.Error("expected error without horizons")
	}
	if _, err := NewAssembler(Options{Horizons: []int64{ns(1.0)}, ShortSpan: -1}); err == nil {
		t.Error("expected error for negative span")
	}
	if _, err := NewAssembler(Options{Horizons: []int64{ns(1.0)}, GapPolicy: "purge"}); err == nil {
		t.Error("expected error for unknown gap policy")
	}

	a, err := NewAssembler(Options{Horizons: []int64{ns(1.0)}})
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}
	if a.shortSpan != DefaultShortSpan || a.longSpan != DefaultLongSpan {
		t.Errorf("expected default spans %d/%d, got %d/%d", DefaultShortSpan, DefaultLongSpan, a.shortSpan, a.longSpan)
	}
	if a.gapPolicy != domain.GapPolicyFlag {
		t.Errorf("expected flag gap policy by default, got %s", a.gapPolicy)
	}
}

func TestAssembler_InnerJoin(t *testing.T) {
	a, err := NewAssembler(Options{Horizons: []int64{ns(1.0)}})
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	records := []*domain.OFIRecord{
		rec(0, 4, 6, 2, domain.ConfidenceOK),
		rec(ns(1.0), 1, 1, 0, domain.ConfidenceOK),
		rec(ns(2.0), -2, 0, 2, domain.ConfidenceOK),
	}
	// The middle window has no label at any horizon.
	labels := []*domain.LabelRecord{
		lab(0, ns(1.0), 0.002, domain.DirectionUp),
		lab(ns(2.0), ns(1.0), -0.003, domain.DirectionDown),
	}
	mid, spread := 100.5, 1.0
	stats := map[int64]domain.WindowBookStats{
		0: {Instrument: "BTC-USD", WindowStart: 0, MidPrice: &mid, Spread: &spread},
	}

	rows, dropped, err := a.Assemble(records, stats, labels)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if dropped.NoLabel != 1 || dropped.LowConfidence != 0 {
		t.Errorf("expected 1 no-label drop, got %+v", dropped)
	}

	r := rows[0]
	if r.SignedVolume != 4 || r.RawBuyVolume != 6 || r.RawSellVolume != 2 {
		t.Errorf("expected volumes carried over, got %+v", r)
	}
	if r.TotalVolume != 8 || r.OFINorm != 0.5 {
		t.Errorf("expected total 8 and norm 0.5, got %v/%v", r.TotalVolume, r.OFINorm)
	}
	if r.MidPrice == nil || *r.MidPrice != 100.5 || r.Spread == nil || *r.Spread != 1.0 {
		t.Errorf("expected book stats joined on the first window, got %v/%v", r.MidPrice, r.Spread)
	}
	if len(r.Labels) != 1 || r.Labels[0].FutureReturn != 0.002 || r.Labels[0].Direction != domain.DirectionUp {
		t.Errorf("expected the window 0 label joined, got %+v", r.Labels)
	}

	// No stats entry for the last window.
	if rows[1].MidPrice != nil || rows[1].Spread != nil {
		t.Errorf("expected nil book stats on the last row, got %v/%v", rows[1].MidPrice, rows[1].Spread)
	}
}

func TestAssembler_PartialHorizonsKeepRow(t *testing.T) {
	a, err := NewAssembler(Options{Horizons: []int64{ns(1.0), ns(5.0)}})
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	records := []*domain.OFIRecord{rec(0, 1, 1, 0, domain.ConfidenceOK)}
	labels := []*domain.LabelRecord{lab(0, ns(1.0), 0.001, domain.DirectionUp)}

	rows, dropped, err := a.Assemble(records, nil, labels)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(rows) != 1 || dropped.NoLabel != 0 {
		t.Fatalf("expected the partially labeled row kept, got %d rows, %+v", len(rows), dropped)
	}

	ls := rows[0].Labels
	if len(ls) != 2 {
		t.Fatalf("expected one cell per horizon, got %d", len(ls))
	}
	if ls[0].Missing || ls[0].Horizon != ns(1.0) {
		t.Errorf("expected the 1s horizon present, got %+v", ls[0])
	}
	if !ls[1].Missing || ls[1].Horizon != ns(5.0) {
		t.Errorf("expected the 5s horizon missing, got %+v", ls[1])
	}
}

func TestAssembler_RollingSums(t *testing.T) {
	a, err := NewAssembler(Options{Horizons: []int64{ns(1.0)}, ShortSpan: 2, LongSpan: 3})
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	records := []*domain.OFIRecord{
		rec(0, 1, 1, 0, domain.ConfidenceOK),
		rec(ns(1.0), 2, 2, 0, domain.ConfidenceOK),
		rec(ns(2.0), 3, 3, 0, domain.ConfidenceOK),
		rec(ns(3.0), 4, 4, 0, domain.ConfidenceOK),
	}
	labels := labelAll([]int64{0, ns(1.0), ns(2.0), ns(3.0)})

	rows, _, err := a.Assemble(records, nil, labels)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}

	// span 2: partial head, then trailing pairs
	wantShort := []float64{1, 3, 5, 7}
	// span 3
	wantLong := []float64{1, 3, 6, 9}
	for i, r := range rows {
		if r.OFISumShort != wantShort[i] {
			t.Errorf("row %d: expected short sum %v, got %v", i, wantShort[i], r.OFISumShort)
		}
		if r.OFISumLong != wantLong[i] {
			t.Errorf("row %d: expected long sum %v, got %v", i, wantLong[i], r.OFISumLong)
		}
	}
}

func TestAssembler_RollingSumsSpanDroppedWindows(t *testing.T) {
	a, err := NewAssembler(Options{
		Horizons:  []int64{ns(1.0)},
		ShortSpan: 2,
		LongSpan:  3,
		GapPolicy: domain.GapPolicyDrop,
	})
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	records := []*domain.OFIRecord{
		rec(0, 5, 5, 0, domain.ConfidenceOK),
		rec(ns(1.0), 7, 7, 0, domain.ConfidenceLow),
		rec(ns(2.0), 3, 3, 0, domain.ConfidenceOK),
	}
	labels := labelAll([]int64{0, ns(1.0), ns(2.0)})

	rows, dropped, err := a.Assemble(records, nil, labels)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(rows) != 2 || dropped.LowConfidence != 1 {
		t.Fatalf("expected 2 rows and 1 low-confidence drop, got %d rows, %+v", len(rows), dropped)
	}

	// Sums are computed on the full window axis, so the dropped window's
	// volume still feeds its neighbors.
	if rows[1].OFISumShort != 10 {
		t.Errorf("expected short sum 7+3=10, got %v", rows[1].OFISumShort)
	}
	if rows[1].OFISumLong != 15 {
		t.Errorf("expected long sum 5+7+3=15, got %v", rows[1].OFISumLong)
	}
}

func TestAssembler_GapPolicyFlagKeepsLowConfidence(t *testing.T) {
	a, err := NewAssembler(Options{Horizons: []int64{ns(1.0)}})
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	records := []*domain.OFIRecord{rec(0, 1, 1, 0, domain.ConfidenceLow)}
	rows, dropped, err := a.Assemble(records, nil, labelAll([]int64{0}))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(rows) != 1 || dropped.LowConfidence != 0 {
		t.Fatalf("expected the flagged row kept, got %d rows, %+v", len(rows), dropped)
	}
	if rows[0].Confidence != domain.ConfidenceLow {
		t.Errorf("expected low confidence preserved, got %s", rows[0].Confidence)
	}
}

func TestAssembler_DropCountsBeforeLabelCheck(t *testing.T) {
	a, err := NewAssembler(Options{Horizons: []int64{ns(1.0)}, GapPolicy: domain.GapPolicyDrop})
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	// Low confidence and unlabeled: the drop reason is the gap, not the label.
	records := []*domain.OFIRecord{rec(0, 1, 1, 0, domain.ConfidenceLow)}
	rows, dropped, err := a.Assemble(records, nil, nil)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
	if dropped.LowConfidence != 1 || dropped.NoLabel != 0 {
		t.Errorf("expected the drop attributed to confidence, got %+v", dropped)
	}
}

func TestAssembler_OutOfOrderRecords(t *testing.T) {
	a, err := NewAssembler(Options{Horizons: []int64{ns(1.0)}})
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	records := []*domain.OFIRecord{
		rec(ns(1.0), 1, 1, 0, domain.ConfidenceOK),
		rec(0, 1, 1, 0, domain.ConfidenceOK),
	}
	if _, _, err := a.Assemble(records, nil, nil); err == nil {
		t.Error("expected error for out-of-order records")
	}

	records = []*domain.OFIRecord{
		rec(0, 1, 1, 0, domain.ConfidenceOK),
		rec(0, 1, 1, 0, domain.ConfidenceOK),
	}
	if _, _, err := a.Assemble(records, nil, nil); err == nil {
		t.Error("expected error for duplicate window starts")
	}
}

func TestAssembler_NormZeroWithoutTradeVolume(t *testing.T) {
	a, err := NewAssembler(Options{Horizons: []int64{ns(1.0)}})
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	// Book-only window: signed volume without any trade prints.
	r := rec(0, 2.5, 0, 0, domain.ConfidenceOK)
	r.BookDeltaComponent = 2.5
	rows, _, err := a.Assemble([]*domain.OFIRecord{r}, nil, labelAll([]int64{0}))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].TotalVolume != 0 || rows[0].OFINorm != 0 {
		t.Errorf("expected zero total and norm, got %v/%v", rows[0].TotalVolume, rows[0].OFINorm)
	}
}

func TestAssembler_Empty(t *testing.T) {
	a, err := NewAssembler(Options{Horizons: []int64{ns(1.0)}})
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}
	rows, dropped, err := a.Assemble(nil, nil, nil)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if rows != nil || dropped.NoLabel != 0 || dropped.LowConfidence != 0 {
		t.Errorf("expected empty result, got %d rows, %+v", len(rows), dropped)
	}
}

func TestSortRows(t *testing.T) {
	rows := []*domain.FeatureRow{
		{Instrument: "ETH-USD", WindowStart: 0},
		{Instrument: "BTC-USD", WindowStart: ns(1.0)},
		{Instrument: "BTC-USD", WindowStart: 0},
	}
	SortRows(rows)

	want := []struct {
		instrument string
		start      int64
	}{
		{"BTC-USD", 0},
		{"BTC-USD", ns(1.0)},
		{"ETH-USD", 0},
	}
	for i, w := range want {
		if rows[i].Instrument != w.instrument || rows[i].WindowStart != w.start {
			t.Errorf("row %d: expected %s@%d, got %s@%d", i, w.instrument, w.start, rows[i].Instrument, rows[i].WindowStart)
		}
	}
}
