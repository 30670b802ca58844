// Package config loads dataset build and capture parameters. Precedence is
// explicit: coded defaults, then the YAML file, then OFLAB_* environment
// variables. Every knob that changes output semantics lives here so a run
// is fully described by (input, Config).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"orderflow-lab/internal/domain"
)

// EnvPrefix is the environment variable prefix for overrides.
const EnvPrefix = "OFLAB"

// Config is the complete application configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine" envconfig:"ENGINE"`
	Storage StorageConfig `yaml:"storage" envconfig:"STORAGE"`
	Capture CaptureConfig `yaml:"capture" envconfig:"CAPTURE"`
}

// EngineConfig holds every parameter of the dataset transformation.
type EngineConfig struct {
	// WindowSize is the aggregation window width.
	WindowSize Duration `yaml:"window_size" envconfig:"WINDOW_SIZE" validate:"gt=0"`

	// DepthLevels is the book depth included in baseline OFI. 1 = top of book.
	DepthLevels int `yaml:"depth_levels" envconfig:"DEPTH_LEVELS" validate:"gte=1"`

	// OFIPolicy selects the aggregation policy: baseline | trade_flow.
	OFIPolicy string `yaml:"ofi_policy" envconfig:"OFI_POLICY" validate:"oneof=baseline trade_flow"`

	// Horizons are the forward label offsets, ascending.
	Horizons []Duration `yaml:"horizons" envconfig:"HORIZONS" validate:"min=1,dive,gt=0"`

	// RefPrice selects the reference price strategy: mid | last_trade | vwap.
	RefPrice string `yaml:"ref_price" envconfig:"REF_PRICE" validate:"oneof=mid last_trade vwap"`

	// VWAPInterval is the averaging interval for the vwap strategy.
	VWAPInterval Duration `yaml:"vwap_interval" envconfig:"VWAP_INTERVAL" validate:"gte=0"`

	// DeadBand is the symmetric direction threshold.
	DeadBand float64 `yaml:"dead_band" envconfig:"DEAD_BAND" validate:"gte=0"`

	// SkewTolerance bounds backward timestamp jitter within one stream.
	SkewTolerance Duration `yaml:"skew_tolerance" envconfig:"SKEW_TOLERANCE" validate:"gte=0"`

	// MalformedPolicy selects skip | abort for invalid raw records.
	MalformedPolicy string `yaml:"malformed_policy" envconfig:"MALFORMED_POLICY" validate:"oneof=skip abort"`

	// GapPolicy selects flag | drop for low-confidence windows.
	GapPolicy string `yaml:"gap_policy" envconfig:"GAP_POLICY" validate:"oneof=flag drop"`

	// RollingShortSpan and RollingLongSpan are rolling OFI sum widths in windows.
	RollingShortSpan int `yaml:"rolling_short_span" envconfig:"ROLLING_SHORT_SPAN" validate:"gte=1"`
	RollingLongSpan  int `yaml:"rolling_long_span" envconfig:"ROLLING_LONG_SPAN" validate:"gte=1"`

	// Parallelism caps concurrent instrument pipelines. 0 = number of CPUs.
	Parallelism int `yaml:"parallelism" envconfig:"PARALLELISM" validate:"gte=0"`
}

// StorageConfig holds database connections.
type StorageConfig struct {
	// PostgresDSN connects the raw event archive. Empty disables it.
	PostgresDSN string `yaml:"postgres_dsn" envconfig:"POSTGRES_DSN"`

	// ClickHouseDSN connects the analytical sink. Empty disables it.
	ClickHouseDSN string `yaml:"clickhouse_dsn" envconfig:"CLICKHOUSE_DSN"`
}

// CaptureConfig holds live feed capture parameters.
type CaptureConfig struct {
	// WSEndpoint is the websocket stream endpoint.
	WSEndpoint string `yaml:"ws_endpoint" envconfig:"WS_ENDPOINT"`

	// SnapshotURL is the REST endpoint for book snapshot bootstraps.
	SnapshotURL string `yaml:"snapshot_url" envconfig:"SNAPSHOT_URL"`

	// Venue names the feed in capture sessions.
	Venue string `yaml:"venue" envconfig:"VENUE"`

	// Instruments to subscribe.
	Instruments []string `yaml:"instruments" envconfig:"INSTRUMENTS"`

	// SnapshotRPS rate-limits snapshot requests.
	SnapshotRPS float64 `yaml:"snapshot_rps" envconfig:"SNAPSHOT_RPS" validate:"gte=0"`

	// SnapshotDepth is the number of levels requested per snapshot.
	SnapshotDepth int `yaml:"snapshot_depth" envconfig:"SNAPSHOT_DEPTH" validate:"gte=1"`

	// FlushInterval bounds how long archived events are buffered.
	FlushInterval Duration `yaml:"flush_interval" envconfig:"FLUSH_INTERVAL" validate:"gt=0"`
}

// Default returns the configuration with every default filled in. Defaults
// live here, in one place, instead of hiding in component constructors.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			WindowSize:       durationOf("1s"),
			DepthLevels:      1,
			OFIPolicy:        string(domain.OFIPolicyBaseline),
			Horizons:         []Duration{durationOf("1s"), durationOf("5s")},
			RefPrice:         string(domain.RefPriceMid),
			VWAPInterval:     durationOf("1s"),
			DeadBand:         0.0001,
			SkewTolerance:    durationOf("100ms"),
			MalformedPolicy:  string(domain.MalformedAbort),
			GapPolicy:        string(domain.GapPolicyFlag),
			RollingShortSpan: 5,
			RollingLongSpan:  20,
			Parallelism:      0,
		},
		Capture: CaptureConfig{
			Venue:         "binance-futures",
			SnapshotRPS:   2,
			SnapshotDepth: 100,
			FlushInterval: durationOf("5s"),
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (when
// non-empty), then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile overlays YAML values onto cfg.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks field constraints plus the cross-field rules the tag
// syntax cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if domain.RefPriceStrategy(c.Engine.RefPrice) == domain.RefPriceVWAP && c.Engine.VWAPInterval <= 0 {
		return fmt.Errorf("vwap reference price requires a positive vwap_interval")
	}
	if c.Engine.RollingShortSpan > c.Engine.RollingLongSpan {
		return fmt.Errorf("rolling_short_span %d exceeds rolling_long_span %d",
			c.Engine.RollingShortSpan, c.Engine.RollingLongSpan)
	}
	return nil
}

// Fingerprint renders every output-affecting engine parameter as a stable
// string. It feeds the dataset identity hash: any change that could alter
// output changes the fingerprint.
func (c *EngineConfig) Fingerprint() string {
	horizons := make([]string, len(c.Horizons))
	for i, h := range c.Horizons {
		horizons[i] = h.String()
	}
	return fmt.Sprintf("window=%s|depth=%d|policy=%s|horizons=%s|ref=%s|vwap=%s|deadband=%g|skew=%s|malformed=%s|gap=%s|short=%d|long=%d",
		c.WindowSize, c.DepthLevels, c.OFIPolicy, strings.Join(horizons, ","),
		c.RefPrice, c.VWAPInterval, c.DeadBand, c.SkewTolerance,
		c.MalformedPolicy, c.GapPolicy, c.RollingShortSpan, c.RollingLongSpan)
}
