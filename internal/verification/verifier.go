// Package verification checks dataset reproducibility. A build is a pure
// function of its archived inputs and configuration, so rebuilding must
// reproduce the published artifacts byte for byte. The verifier runs the
// build twice and reports divergences down to the column level.
package verification

import (
	"context"
	"fmt"
	"strings"
)

// FieldDivergence represents a mismatch between two builds of the same
// dataset.
type FieldDivergence struct {
	Field    string      // column or artifact name
	Expected interface{} // value from the first build
	Actual   interface{} // value from the rebuild
}

// VerificationResult contains the divergences for a single dataset row.
type VerificationResult struct {
	Instrument  string            // row instrument
	WindowStart int64             // row window start, Unix nanoseconds
	Match       bool              // true if the row reproduced exactly
	Divergences []FieldDivergence // list of divergent columns
}

// VerificationReport summarizes a rebuild comparison.
type VerificationReport struct {
	DatasetIDMatch bool // dataset identity reproduced
	CSVMatch       bool // dataset file byte-identical
	ManifestMatch  bool // manifest file byte-identical

	TotalRows     int
	MatchedRows   int
	DivergentRows int

	// Results holds divergent rows only; matched rows are counted, not kept.
	Results []VerificationResult
}

// Match reports whether the rebuild reproduced every artifact exactly.
func (r *VerificationReport) Match() bool {
	return r.DatasetIDMatch && r.CSVMatch && r.ManifestMatch && r.DivergentRows == 0
}

// Verifier re-executes a dataset build and compares it against a first run.
type Verifier interface {
	// Verify runs the build twice and returns the comparison report.
	// The report describes divergences; only build failures are errors.
	Verify(ctx context.Context) (*VerificationReport, error)
}

// CompareRowLines compares two CSV data lines column by column, naming each
// divergence after its header column. Lines are compared as rendered text:
// reproducibility means the bytes match, so no numeric tolerance applies.
func CompareRowLines(header []string, stored, rebuilt string) []FieldDivergence {
	storedFields := strings.Split(stored, ",")
	rebuiltFields := strings.Split(rebuilt, ",")

	n := len(storedFields)
	if len(rebuiltFields) > n {
		n = len(rebuiltFields)
	}

	var divergences []FieldDivergence
	for i := 0; i < n; i++ {
		var storedVal, rebuiltVal interface{}
		if i < len(storedFields) {
			storedVal = storedFields[i]
		}
		if i < len(rebuiltFields) {
			rebuiltVal = rebuiltFields[i]
		}
		if storedVal == rebuiltVal {
			continue
		}
		divergences = append(divergences, FieldDivergence{
			Field:    columnName(header, i),
			Expected: storedVal,
			Actual:   rebuiltVal,
		})
	}
	return divergences
}

func columnName(header []string, i int) string {
	if i < len(header) {
		return header[i]
	}
	return fmt.Sprintf("column_%d", i+1)
}
