// Package pipeline turns archived event streams into labeled feature
// datasets. Per-instrument replay is a pure function of (events, params);
// the builder fans instruments out across workers and merges the results
// into one deterministic dataset with a content-derived identity.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"orderflow-lab/internal/book"
	"orderflow-lab/internal/dataset"
	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/idhash"
	"orderflow-lab/internal/normalize"
	"orderflow-lab/internal/observability"
	"orderflow-lab/internal/storage"
)

// GeneratorVersion identifies the dataset generator in manifests.
const GeneratorVersion = "1.0.0"

// Output file names inside the build directory.
const (
	DatasetFileName  = "dataset.csv"
	ManifestFileName = "manifest.json"
)

// EventSource supplies normalized event streams for replay.
// *ingest.ArchiveLoader satisfies it; tests use in-memory sources.
type EventSource interface {
	// Instruments lists every instrument present in the source, sorted.
	Instruments(ctx context.Context) ([]string, error)

	// Load returns one instrument's events within [from, to), sorted and
	// validated. from=0, to=0 means the full range.
	Load(ctx context.Context, instrument string, from, to int64) ([]*normalize.Event, error)
}

// Builder runs the full dataset build: load, replay, label, assemble,
// write. Construction is chained; only the source, config fingerprint and
// output directory are required.
type Builder struct {
	source      EventSource
	params      Params
	fingerprint string
	outputDir   string
	from, to    int64
	parallelism int
	ofiStore    storage.OFIRecordStore
	rowStore    storage.FeatureRowStore
	logger      *log.Logger
	clock       func() time.Time
}

// NewBuilder creates a builder with default params over the full source range.
func NewBuilder(source EventSource, configFingerprint, outputDir string) *Builder {
	return &Builder{
		source:      source,
		params:      DefaultParams(),
		fingerprint: configFingerprint,
		outputDir:   outputDir,
		logger:      log.Default(),
		clock:       time.Now,
	}
}

// WithParams sets the replay parameters.
func (b *Builder) WithParams(p Params) *Builder {
	b.params = p
	return b
}

// WithTimeRange restricts the build to events in [from, to) nanoseconds.
func (b *Builder) WithTimeRange(from, to int64) *Builder {
	b.from = from
	b.to = to
	return b
}

// WithParallelism caps concurrent instrument replays. 0 lets errgroup run
// one goroutine per instrument.
func (b *Builder) WithParallelism(n int) *Builder {
	b.parallelism = n
	return b
}

// WithSinks additionally writes records and rows to the analytical stores.
func (b *Builder) WithSinks(records storage.OFIRecordStore, rows storage.FeatureRowStore) *Builder {
	b.ofiStore = records
	b.rowStore = rows
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(logger *log.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock sets the clock used for run-duration metrics. Output content
// never depends on it.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// BuildResult summarizes one completed build.
type BuildResult struct {
	DatasetID   string
	ShortID     string
	Instruments []string
	Events      int
	Windows     int
	Rows        int
	Labels      int
	LabelMisses int
	Dropped     domain.DroppedWindowCounts
	Replay      book.Stats
	CSVPath     string
	ManifestPath string
}

// Manifest is the reproducibility document written next to the dataset.
// It contains no wall-clock fields: two builds over the same input and
// configuration produce byte-identical manifests.
type Manifest struct {
	DatasetID         string               `json:"dataset_id"`
	ShortID           string               `json:"short_id"`
	GeneratorVersion  string               `json:"generator_version"`
	ConfigFingerprint string               `json:"config_fingerprint"`
	InputDigest       string               `json:"input_digest"`
	From              int64                `json:"from,omitempty"`
	To                int64                `json:"to,omitempty"`
	Instruments       []ManifestInstrument `json:"instruments"`
	Totals            ManifestTotals       `json:"totals"`
}

// ManifestInstrument summarizes one instrument's replay.
type ManifestInstrument struct {
	Instrument           string `json:"instrument"`
	Events               int    `json:"events"`
	Windows              int    `json:"windows"`
	Rows                 int    `json:"rows"`
	Labels               int    `json:"labels"`
	LabelMisses          int    `json:"label_misses"`
	SequenceGaps         int    `json:"sequence_gaps"`
	NegativeQtyClamps    int    `json:"negative_qty_clamps"`
	CheckpointsApplied   int    `json:"checkpoints_applied"`
	DroppedNoLabel       int    `json:"dropped_no_label"`
	DroppedLowConfidence int    `json:"dropped_low_confidence"`
	InputDigest          string `json:"input_digest"`
}

// ManifestTotals aggregates the per-instrument numbers.
type ManifestTotals struct {
	Instruments          int `json:"instruments"`
	Events               int `json:"events"`
	Windows              int `json:"windows"`
	Rows                 int `json:"rows"`
	Labels               int `json:"labels"`
	LabelMisses          int `json:"label_misses"`
	DroppedNoLabel       int `json:"dropped_no_label"`
	DroppedLowConfidence int `json:"dropped_low_confidence"`
}

// Run executes the build and writes dataset.csv and manifest.json into the
// output directory. Returns an error when the source holds no instruments,
// so an empty dataset never silently masquerades as a real one.
func (b *Builder) Run(ctx context.Context) (*BuildResult, error) {
	start := b.clock()
	res, err := b.run(ctx)
	if err != nil {
		observability.RecordBuildRun("error", b.clock().Sub(start).Seconds())
		return nil, err
	}
	observability.RecordBuildRun("success", b.clock().Sub(start).Seconds())
	observability.DefaultMetrics.LastSuccessfulBuild.SetToCurrentTime()
	return res, nil
}

func (b *Builder) run(ctx context.Context) (*BuildResult, error) {
	if b.source == nil {
		return nil, fmt.Errorf("build: no event source configured")
	}

	instruments, err := b.source.Instruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	if len(instruments) == 0 {
		return nil, fmt.Errorf("build: input contains no instruments")
	}
	sort.Strings(instruments)

	results := make([]*InstrumentResult, len(instruments))
	g, gctx := errgroup.WithContext(ctx)
	if b.parallelism > 0 {
		g.SetLimit(b.parallelism)
	}
	for i, instrument := range instruments {
		g.Go(func() error {
			events, err := b.source.Load(gctx, instrument, b.from, b.to)
			if err != nil {
				return fmt.Errorf("load %s: %w", instrument, err)
			}
			res, err := BuildInstrument(instrument, events, b.params)
			if err != nil {
				return err
			}
			observability.DefaultMetrics.InstrumentsProcessed.Inc()
			b.logger.Printf("built %s: %d events, %d windows, %d rows",
				instrument, res.Events, len(res.Records), len(res.Rows))
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return b.merge(ctx, instruments, results)
}

// merge combines per-instrument results in sorted instrument order, derives
// the dataset identity and writes every output.
func (b *Builder) merge(ctx context.Context, instruments []string, results []*InstrumentResult) (*BuildResult, error) {
	inputDigest := combineDigests(results)
	datasetID := idhash.ComputeDatasetID(b.fingerprint, inputDigest)
	shortID, err := idhash.ShortID(datasetID)
	if err != nil {
		return nil, fmt.Errorf("short id: %w", err)
	}

	var (
		records []*domain.OFIRecord
		rows    []*domain.FeatureRow
	)
	manifest := &Manifest{
		DatasetID:         datasetID,
		ShortID:           shortID,
		GeneratorVersion:  GeneratorVersion,
		ConfigFingerprint: b.fingerprint,
		InputDigest:       inputDigest,
		From:              b.from,
		To:                b.to,
	}
	result := &BuildResult{
		DatasetID:   datasetID,
		ShortID:     shortID,
		Instruments: instruments,
	}
	for _, res := range results {
		records = append(records, res.Records...)
		rows = append(rows, res.Rows...)

		manifest.Instruments = append(manifest.Instruments, ManifestInstrument{
			Instrument:           res.Instrument,
			Events:               res.Events,
			Windows:              len(res.Records),
			Rows:                 len(res.Rows),
			Labels:               res.Labels,
			LabelMisses:          res.LabelMisses,
			SequenceGaps:         res.Replay.SequenceGaps,
			NegativeQtyClamps:    res.Replay.NegativeQuantityClamps,
			CheckpointsApplied:   res.Replay.Checkpoints,
			DroppedNoLabel:       res.Dropped.NoLabel,
			DroppedLowConfidence: res.Dropped.LowConfidence,
			InputDigest:          res.InputDigest,
		})

		result.Events += res.Events
		result.Windows += len(res.Records)
		result.Labels += res.Labels
		result.LabelMisses += res.LabelMisses
		result.Dropped.NoLabel += res.Dropped.NoLabel
		result.Dropped.LowConfidence += res.Dropped.LowConfidence
		result.Replay.AppliedUpdates += res.Replay.AppliedUpdates
		result.Replay.Checkpoints += res.Replay.Checkpoints
		result.Replay.SequenceGaps += res.Replay.SequenceGaps
		result.Replay.NegativeQuantityClamps += res.Replay.NegativeQuantityClamps
	}
	dataset.SortRows(rows)
	result.Rows = len(rows)
	manifest.Totals = ManifestTotals{
		Instruments:          len(instruments),
		Events:               result.Events,
		Windows:              result.Windows,
		Rows:                 result.Rows,
		Labels:               result.Labels,
		LabelMisses:          result.LabelMisses,
		DroppedNoLabel:       result.Dropped.NoLabel,
		DroppedLowConfidence: result.Dropped.LowConfidence,
	}

	if err := b.writeOutputs(result, manifest, rows); err != nil {
		return nil, err
	}
	if err := b.writeSinks(ctx, datasetID, records, rows); err != nil {
		return nil, err
	}

	b.logger.Printf("dataset %s: %d instruments, %d windows, %d rows",
		shortID, len(instruments), result.Windows, result.Rows)
	return result, nil
}

func (b *Builder) writeOutputs(result *BuildResult, manifest *Manifest, rows []*domain.FeatureRow) error {
	if b.outputDir == "" {
		return nil
	}
	if err := os.MkdirAll(b.outputDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	horizons := horizonsNanos(b.params)
	csvPath := filepath.Join(b.outputDir, DatasetFileName)
	if err := os.WriteFile(csvPath, []byte(dataset.RenderCSV(rows, horizons)), 0644); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	result.CSVPath = csvPath

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	manifestPath := filepath.Join(b.outputDir, ManifestFileName)
	if err := os.WriteFile(manifestPath, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	result.ManifestPath = manifestPath
	return nil
}

func (b *Builder) writeSinks(ctx context.Context, datasetID string, records []*domain.OFIRecord, rows []*domain.FeatureRow) error {
	if b.ofiStore != nil {
		if err := b.ofiStore.InsertBulk(ctx, datasetID, records); err != nil {
			return fmt.Errorf("store records: %w", err)
		}
	}
	if b.rowStore != nil {
		if err := b.rowStore.InsertBulk(ctx, datasetID, rows); err != nil {
			return fmt.Errorf("store rows: %w", err)
		}
	}
	return nil
}

// combineDigests folds the per-instrument digests into one input digest.
// Results arrive in sorted instrument order, so the fold is deterministic.
func combineDigests(results []*InstrumentResult) string {
	h := sha256.New()
	for _, res := range results {
		fmt.Fprintf(h, "%s|%s\n", res.Instrument, res.InputDigest)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// horizonsNanos converts the configured horizons for CSV column headers.
func horizonsNanos(p Params) []int64 {
	p = p.withDefaults()
	horizons := make([]int64, len(p.Horizons))
	for i, h := range p.Horizons {
		horizons[i] = h.Nanoseconds()
	}
	sort.Slice(horizons, func(i, j int) bool { return horizons[i] < horizons[j] })
	return horizons
}
