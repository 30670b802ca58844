package dataset

import (
	"fmt"
	"strconv"
	"strings"

	"orderflow-lab/internal/domain"
)

// RenderCSV renders assembled rows as a CSV string. Column layout follows
// the dataset contract: fixed feature columns, then future_return_h1..hN,
// then direction_class_h1..hN, then confidence_flag. Horizon columns are
// numbered in ascending horizon order; cells for horizons missing on a row
// stay empty. Formatting is fixed-precision so identical inputs render
// byte-identical output.
func RenderCSV(rows []*domain.FeatureRow, horizons []int64) string {
	var sb strings.Builder

	sb.WriteString("instrument,window_start,window_end,signed_volume,raw_buy_volume,raw_sell_volume,")
	sb.WriteString("book_delta_component,total_volume,ofi_norm,ofi_sum_short,ofi_sum_long,mid_price,spread")
	for i := range horizons {
		sb.WriteString(fmt.Sprintf(",future_return_h%d", i+1))
	}
	for i := range horizons {
		sb.WriteString(fmt.Sprintf(",direction_class_h%d", i+1))
	}
	sb.WriteString(",confidence_flag\n")

	for _, r := range rows {
		sb.WriteString(r.Instrument)
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatInt(r.WindowStart, 10))
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatInt(r.WindowEnd, 10))
		sb.WriteString(fmt.Sprintf(",%.6f,%.6f,%.6f,%.6f,%.6f,%.8f,%.6f,%.6f",
			r.SignedVolume,
			r.RawBuyVolume,
			r.RawSellVolume,
			r.BookDeltaComponent,
			r.TotalVolume,
			r.OFINorm,
			r.OFISumShort,
			r.OFISumLong,
		))
		sb.WriteByte(',')
		sb.WriteString(formatOptional(r.MidPrice))
		sb.WriteByte(',')
		sb.WriteString(formatOptional(r.Spread))
		for _, l := range r.Labels {
			sb.WriteByte(',')
			if !l.Missing {
				sb.WriteString(fmt.Sprintf("%.8f", l.FutureReturn))
			}
		}
		for _, l := range r.Labels {
			sb.WriteByte(',')
			if !l.Missing {
				sb.WriteString(l.Direction.String())
			}
		}
		sb.WriteByte(',')
		sb.WriteString(r.Confidence.String())
		sb.WriteByte('\n')
	}

	return sb.String()
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.8f", *v)
}
