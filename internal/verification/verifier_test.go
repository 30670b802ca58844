package verification

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testHeader = "instrument,window_start,window_end,signed_volume\n"

// stubBuild writes canned artifacts per call, standing in for a real build.
type stubBuild struct {
	csv       []string
	manifest  []string
	datasetID []string
	failOn    int // 1-based call index to fail at, 0 = never
	calls     int
}

func (s *stubBuild) run(_ context.Context, dir string) (*RunOutput, error) {
	s.calls++
	if s.failOn > 0 && s.calls == s.failOn {
		return nil, errors.New("simulated build failure")
	}
	i := s.calls - 1

	csvPath := filepath.Join(dir, "dataset.csv")
	if err := os.WriteFile(csvPath, []byte(s.csv[i]), 0644); err != nil {
		return nil, err
	}
	manifestPath := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(manifestPath, []byte(s.manifest[i]), 0644); err != nil {
		return nil, err
	}
	return &RunOutput{
		DatasetID:    s.datasetID[i],
		CSVPath:      csvPath,
		ManifestPath: manifestPath,
	}, nil
}

func TestRebuildVerifier_Reproducible(t *testing.T) {
	csv := testHeader +
		"BTC-USD,0,1000000000,4.000000\n" +
		"BTC-USD,1000000000,2000000000,-2.000000\n"
	stub := &stubBuild{
		csv:       []string{csv, csv},
		manifest:  []string{`{"dataset_id":"abc"}`, `{"dataset_id":"abc"}`},
		datasetID: []string{"abc", "abc"},
	}

	report, err := NewRebuildVerifier(stub.run).Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if !report.Match() {
		t.Errorf("Expected a full match, got %+v", report)
	}
	if report.TotalRows != 2 || report.MatchedRows != 2 || report.DivergentRows != 0 {
		t.Errorf("Expected 2/2/0 row counts, got %d/%d/%d", report.TotalRows, report.MatchedRows, report.DivergentRows)
	}
	if len(report.Results) != 0 {
		t.Errorf("Expected no divergent results, got %d", len(report.Results))
	}
}

func TestRebuildVerifier_CellDivergence(t *testing.T) {
	first := testHeader +
		"BTC-USD,0,1000000000,4.000000\n" +
		"BTC-USD,1000000000,2000000000,-2.000000\n"
	second := testHeader +
		"BTC-USD,0,1000000000,4.000000\n" +
		"BTC-USD,1000000000,2000000000,-3.000000\n"
	stub := &stubBuild{
		csv:       []string{first, second},
		manifest:  []string{`{"dataset_id":"abc"}`, `{"dataset_id":"abc"}`},
		datasetID: []string{"abc", "abc"},
	}

	report, err := NewRebuildVerifier(stub.run).Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if report.Match() {
		t.Error("Expected a divergent report")
	}
	if report.CSVMatch {
		t.Error("Expected CSV mismatch")
	}
	if !report.ManifestMatch || !report.DatasetIDMatch {
		t.Error("Expected manifest and dataset ID to still match")
	}
	if report.MatchedRows != 1 || report.DivergentRows != 1 {
		t.Errorf("Expected 1 matched and 1 divergent row, got %d/%d", report.MatchedRows, report.DivergentRows)
	}
	if len(report.Results) != 1 {
		t.Fatalf("Expected 1 divergent result, got %d", len(report.Results))
	}

	r := report.Results[0]
	if r.Instrument != "BTC-USD" || r.WindowStart != 1000000000 {
		t.Errorf("Expected divergence keyed to BTC-USD@1000000000, got %s@%d", r.Instrument, r.WindowStart)
	}
	if len(r.Divergences) != 1 {
		t.Fatalf("Expected 1 divergence, got %d", len(r.Divergences))
	}
	d := r.Divergences[0]
	if d.Field != "signed_volume" {
		t.Errorf("Expected signed_volume divergence, got %s", d.Field)
	}
	if d.Expected != "-2.000000" || d.Actual != "-3.000000" {
		t.Errorf("Expected -2.000000 vs -3.000000, got %v vs %v", d.Expected, d.Actual)
	}
}

func TestRebuildVerifier_MissingRow(t *testing.T) {
	first := testHeader +
		"BTC-USD,0,1000000000,4.000000\n" +
		"BTC-USD,1000000000,2000000000,-2.000000\n"
	second := testHeader +
		"BTC-USD,0,1000000000,4.000000\n"
	stub := &stubBuild{
		csv:       []string{first, second},
		manifest:  []string{`{}`, `{}`},
		datasetID: []string{"abc", "abc"},
	}

	report, err := NewRebuildVerifier(stub.run).Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if report.TotalRows != 2 || report.DivergentRows != 1 {
		t.Errorf("Expected 2 total and 1 divergent, got %d/%d", report.TotalRows, report.DivergentRows)
	}
	if len(report.Results) != 1 {
		t.Fatalf("Expected 1 divergent result, got %d", len(report.Results))
	}
	d := report.Results[0].Divergences[0]
	if d.Field != "row" || d.Actual != nil {
		t.Errorf("Expected a missing-row divergence, got %+v", d)
	}
}

func TestRebuildVerifier_DatasetIDMismatch(t *testing.T) {
	csv := testHeader + "BTC-USD,0,1000000000,4.000000\n"
	stub := &stubBuild{
		csv:       []string{csv, csv},
		manifest:  []string{`{}`, `{}`},
		datasetID: []string{"abc", "def"},
	}

	report, err := NewRebuildVerifier(stub.run).Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if report.DatasetIDMatch {
		t.Error("Expected dataset ID mismatch")
	}
	if report.Match() {
		t.Error("Expected the report to fail on dataset ID alone")
	}
	if !report.CSVMatch {
		t.Error("Expected CSV bytes to still match")
	}
}

func TestRebuildVerifier_BuildError(t *testing.T) {
	csv := testHeader + "BTC-USD,0,1000000000,4.000000\n"
	stub := &stubBuild{
		csv:       []string{csv, csv},
		manifest:  []string{`{}`, `{}`},
		datasetID: []string{"abc", "abc"},
		failOn:    2,
	}

	_, err := NewRebuildVerifier(stub.run).Verify(context.Background())
	if err == nil {
		t.Fatal("Expected an error from the failing build")
	}
	if !strings.Contains(err.Error(), "second build") {
		t.Errorf("Expected the error to name the second build, got %v", err)
	}
}

func TestCompareRowLines(t *testing.T) {
	header := []string{"instrument", "window_start", "signed_volume"}

	divergences := CompareRowLines(header, "BTC-USD,0,4.0", "BTC-USD,0,4.0")
	if len(divergences) != 0 {
		t.Errorf("Expected 0 divergences, got %d: %v", len(divergences), divergences)
	}

	divergences = CompareRowLines(header, "BTC-USD,0,4.0", "BTC-USD,0,5.0")
	if len(divergences) != 1 {
		t.Fatalf("Expected 1 divergence, got %d", len(divergences))
	}
	if divergences[0].Field != "signed_volume" {
		t.Errorf("Expected signed_volume divergence, got %s", divergences[0].Field)
	}

	// Extra columns beyond the header get positional names.
	divergences = CompareRowLines(header, "BTC-USD,0,4.0,extra", "BTC-USD,0,4.0")
	if len(divergences) != 1 {
		t.Fatalf("Expected 1 divergence, got %d", len(divergences))
	}
	if divergences[0].Field != "column_4" {
		t.Errorf("Expected column_4 divergence, got %s", divergences[0].Field)
	}
	if divergences[0].Expected != "extra" || divergences[0].Actual != nil {
		t.Errorf("Expected extra vs nil, got %v vs %v", divergences[0].Expected, divergences[0].Actual)
	}
}
