package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"orderflow-lab/internal/normalize"
	"orderflow-lab/internal/synthetic"
)

func main() {
	// Parse flags
	outputDir := flag.String("output-dir", "testdata", "Output directory for generated CSV files")
	instrument := flag.String("instrument", "SYNTH", "Instrument name")
	steps := flag.Int("steps", synthetic.DefaultSteps, "Number of steps to generate")
	interval := flag.Duration("interval", time.Second, "Time between steps")
	start := flag.String("start", "", "Timestamp of the first step (RFC3339, default 2025-01-01T09:30:30Z)")
	seed := flag.Int64("seed", synthetic.DefaultSeed, "Random seed")
	mid := flag.Float64("mid", synthetic.DefaultStartMid, "Starting mid price")
	volatility := flag.Float64("volatility", synthetic.DefaultVolatility, "Per-step mid change standard deviation")
	spread := flag.Float64("spread", synthetic.DefaultSpread, "Constant bid/ask spread")
	flag.Parse()

	opts := synthetic.Options{
		Instrument:   *instrument,
		Steps:        *steps,
		StepInterval: *interval,
		Seed:         *seed,
		StartMid:     *mid,
		Volatility:   *volatility,
		Spread:       *spread,
	}
	if *start != "" {
		t, err := time.Parse(time.RFC3339, *start)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid --start: %v\n", err)
			os.Exit(1)
		}
		opts.Start = t
	}

	quotes, trades := synthetic.NewGenerator(opts).Generate()

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	quotesPath := filepath.Join(*outputDir, "quotes.csv")
	if err := writeQuotes(quotesPath, quotes); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing quotes: %v\n", err)
		os.Exit(1)
	}

	tradesPath := filepath.Join(*outputDir, "trades.csv")
	if err := writeTrades(tradesPath, trades); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing trades: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %d quotes to %s\n", len(quotes), quotesPath)
	fmt.Printf("Wrote %d trades to %s\n", len(trades), tradesPath)
}

// writeQuotes writes top-of-book quotes in the layout the quote file source
// reads back.
func writeQuotes(path string, quotes []normalize.RawQuoteRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp", "bid_price", "bid_size", "ask_price", "ask_size", "instrument"}); err != nil {
		return err
	}
	for _, q := range quotes {
		record := []string{
			formatInt(q.Timestamp),
			formatFloat(q.BidPrice),
			formatFloat(q.BidQty),
			formatFloat(q.AskPrice),
			formatFloat(q.AskQty),
			q.Instrument,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// writeTrades writes trade prints in the layout the trade file source reads
// back.
func writeTrades(path string, trades []normalize.RawTradeRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp", "price", "size", "side", "instrument"}); err != nil {
		return err
	}
	for _, t := range trades {
		record := []string{
			formatInt(t.Timestamp),
			formatFloat(t.Price),
			formatFloat(t.Quantity),
			t.Aggressor,
			t.Instrument,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
