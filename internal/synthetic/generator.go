// Package synthetic generates deterministic quote and trade streams for
// development and tests: a seeded random-walk mid price with a constant
// spread, random touch sizes, and one trade per step at the touched side.
// The same seed always yields the same streams.
package synthetic

import (
	"math/rand"
	"time"

	"orderflow-lab/internal/normalize"
)

// Defaults for generator options.
const (
	DefaultSteps      = 10_000
	DefaultSeed       = 42
	DefaultStartMid   = 100.0
	DefaultVolatility = 0.01
	DefaultSpread     = 0.02
)

// DefaultStart is the timestamp of the first generated step.
var DefaultStart = time.Date(2025, 1, 1, 9, 30, 30, 0, time.UTC)

// Options configures a Generator. Zero values select the defaults.
type Options struct {
	Instrument   string
	Steps        int
	StepInterval time.Duration // default 1s
	Start        time.Time
	Seed         int64
	StartMid     float64
	Volatility   float64 // standard deviation of the per-step mid change
	Spread       float64 // constant bid/ask spread
}

// Generator produces one instrument's synthetic streams.
type Generator struct {
	opts Options
}

// NewGenerator creates a Generator, filling unset options with defaults.
func NewGenerator(opts Options) *Generator {
	if opts.Instrument == "" {
		opts.Instrument = "SYNTH"
	}
	if opts.Steps == 0 {
		opts.Steps = DefaultSteps
	}
	if opts.StepInterval == 0 {
		opts.StepInterval = time.Second
	}
	if opts.Start.IsZero() {
		opts.Start = DefaultStart
	}
	if opts.Seed == 0 {
		opts.Seed = DefaultSeed
	}
	if opts.StartMid == 0 {
		opts.StartMid = DefaultStartMid
	}
	if opts.Volatility == 0 {
		opts.Volatility = DefaultVolatility
	}
	if opts.Spread == 0 {
		opts.Spread = DefaultSpread
	}
	return &Generator{opts: opts}
}

// Generate returns aligned quote and trade streams: one L1 quote and one
// trade per step. Buys print at the ask, sells at the bid.
func (g *Generator) Generate() ([]normalize.RawQuoteRecord, []normalize.RawTradeRecord) {
	o := g.opts
	rng := rand.New(rand.NewSource(o.Seed))

	quotes := make([]normalize.RawQuoteRecord, 0, o.Steps)
	trades := make([]normalize.RawTradeRecord, 0, o.Steps)

	mid := o.StartMid
	half := o.Spread / 2
	ts := o.Start.UnixNano()
	step := o.StepInterval.Nanoseconds()

	for i := 0; i < o.Steps; i++ {
		mid += rng.NormFloat64() * o.Volatility

		bid := mid - half
		ask := mid + half
		bidQty := float64(10 + rng.Intn(90))
		askQty := float64(10 + rng.Intn(90))

		quotes = append(quotes, normalize.RawQuoteRecord{
			Instrument: o.Instrument,
			Timestamp:  i64(ts),
			BidPrice:   f64(bid),
			BidQty:     f64(bidQty),
			AskPrice:   f64(ask),
			AskQty:     f64(askQty),
		})

		side := "sell"
		price := bid
		if rng.Intn(2) == 1 {
			side = "buy"
			price = ask
		}

		trades = append(trades, normalize.RawTradeRecord{
			Instrument: o.Instrument,
			Timestamp:  i64(ts),
			Price:      f64(price),
			Quantity:   f64(float64(1 + rng.Intn(49))),
			Aggressor:  side,
		})

		ts += step
	}

	return quotes, trades
}

func i64(v int64) *int64 {
	return &v
}

func f64(v float64) *float64 {
	return &v
}
