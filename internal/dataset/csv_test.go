package dataset

import (
	"strings"
	"testing"

	"orderflow-lab/internal/domain"
)

func TestRenderCSV_Header(t *testing.T) {
	out := RenderCSV(nil, []int64{ns(1.0), ns(5.0)})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected header only, got %d lines", len(lines))
	}
	want := "instrument,window_start,window_end,signed_volume,raw_buy_volume,raw_sell_volume," +
		"book_delta_component,total_volume,ofi_norm,ofi_sum_short,ofi_sum_long,mid_price,spread," +
		"future_return_h1,future_return_h2,direction_class_h1,direction_class_h2,confidence_flag"
	if lines[0] != want {
		t.Errorf("header mismatch:\n got %s\nwant %s", lines[0], want)
	}
}

func TestRenderCSV_Row(t *testing.T) {
	mid, spread := 100.5, 1.0
	rows := []*domain.FeatureRow{{
		Instrument:         "BTC-USD",
		WindowStart:        0,
		WindowEnd:          ns(1.0),
		SignedVolume:       4,
		RawBuyVolume:       6,
		RawSellVolume:      2,
		BookDeltaComponent: 0,
		TotalVolume:        8,
		OFINorm:            0.5,
		OFISumShort:        4,
		OFISumLong:         4,
		MidPrice:           &mid,
		Spread:             &spread,
		Labels: []domain.HorizonLabel{
			{Horizon: ns(1.0), FutureReturn: 0.01, Direction: domain.DirectionUp},
		},
		Confidence: domain.ConfidenceOK,
	}}

	out := RenderCSV(rows, []int64{ns(1.0)})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %d lines", len(lines))
	}
	want := "BTC-USD,0,1000000000,4.000000,6.000000,2.000000,0.000000,8.000000,0.50000000," +
		"4.000000,4.000000,100.50000000,1.00000000,0.01000000,up,ok"
	if lines[1] != want {
		t.Errorf("row mismatch:\n got %s\nwant %s", lines[1], want)
	}
}

func TestRenderCSV_MissingCellsStayEmpty(t *testing.T) {
	rows := []*domain.FeatureRow{{
		Instrument:    "ETH-USD",
		WindowStart:   ns(1.0),
		WindowEnd:     ns(2.0),
		SignedVolume:  -1,
		RawSellVolume: 1,
		TotalVolume:   1,
		OFINorm:       -1,
		OFISumShort:   -1,
		OFISumLong:    -1,
		Labels: []domain.HorizonLabel{
			{Horizon: ns(1.0), FutureReturn: -0.001, Direction: domain.DirectionDown},
			{Horizon: ns(5.0), Missing: true},
		},
		Confidence: domain.ConfidenceLow,
	}}

	out := RenderCSV(rows, []int64{ns(1.0), ns(5.0)})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	want := "ETH-USD,1000000000,2000000000,-1.000000,0.000000,1.000000,0.000000,1.000000,-1.00000000," +
		"-1.000000,-1.000000,,,-0.00100000,,down,,low"
	if lines[1] != want {
		t.Errorf("row mismatch:\n got %s\nwant %s", lines[1], want)
	}
}
