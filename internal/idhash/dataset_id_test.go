package idhash

import (
	"testing"
)

func TestComputeDatasetID(t *testing.T) {
	tests := []struct {
		name        string
		fingerprint string
		digest      string
		wantLen     int // hash length should be 64
	}{
		{
			name:        "full fingerprint",
			fingerprint: "window=1s|depth=1|policy=baseline|horizons=1s,5s|ref=mid|vwap=1s|deadband=0.0001|skew=2s|malformed=skip|gap=flag|short=5|long=20",
			digest:      "9f86d081884c7d659a2feaa0c55ad015",
			wantLen:     64,
		},
		{
			name:        "empty digest",
			fingerprint: "window=1s|depth=1",
			digest:      "",
			wantLen:     64,
		},
		{
			name:        "empty fingerprint",
			fingerprint: "",
			digest:      "9f86d081884c7d659a2feaa0c55ad015",
			wantLen:     64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeDatasetID(tt.fingerprint, tt.digest)

			if len(got) != tt.wantLen {
				t.Errorf("ComputeDatasetID() length = %d, want %d", len(got), tt.wantLen)
			}

			// Verify determinism: same inputs should produce same output
			got2 := ComputeDatasetID(tt.fingerprint, tt.digest)
			if got != got2 {
				t.Errorf("ComputeDatasetID() not deterministic: %s != %s", got, got2)
			}
		})
	}
}

func TestComputeDatasetID_KnownVector(t *testing.T) {
	got := ComputeDatasetID("window=1s|depth=1|policy=baseline", "0a1b2c")
	want := "011bd043bd0f617286cef2a9df37327d2880daa8c7a6fcb50457d8045da08c41"
	if got != want {
		t.Errorf("ComputeDatasetID() = %s, want %s", got, want)
	}
}

func TestComputeDatasetID_DifferentInputs(t *testing.T) {
	base := ComputeDatasetID("window=1s|depth=1", "abc123")

	// Different fingerprint should produce different hash
	diffFingerprint := ComputeDatasetID("window=5s|depth=1", "abc123")
	if base == diffFingerprint {
		t.Error("Different fingerprint should produce different hash")
	}

	// Different input digest should produce different hash
	diffDigest := ComputeDatasetID("window=1s|depth=1", "def456")
	if base == diffDigest {
		t.Error("Different digest should produce different hash")
	}
}

func TestShortID(t *testing.T) {
	id := ComputeDatasetID("window=1s|depth=1|policy=baseline", "0a1b2c")

	short, err := ShortID(id)
	if err != nil {
		t.Fatalf("ShortID() error = %v", err)
	}
	if short != "BkohUAp6gZ" {
		t.Errorf("ShortID() = %s, want BkohUAp6gZ", short)
	}

	// Verify determinism
	short2, err := ShortID(id)
	if err != nil {
		t.Fatalf("ShortID() error = %v", err)
	}
	if short != short2 {
		t.Errorf("ShortID() not deterministic: %s != %s", short, short2)
	}
}

func TestShortID_DifferentHashes(t *testing.T) {
	a, err := ShortID(ComputeDatasetID("config-a", "input"))
	if err != nil {
		t.Fatalf("ShortID() error = %v", err)
	}
	b, err := ShortID(ComputeDatasetID("config-b", "input"))
	if err != nil {
		t.Fatalf("ShortID() error = %v", err)
	}
	if a == b {
		t.Error("Different hashes should produce different short IDs")
	}
}

func TestShortID_Invalid(t *testing.T) {
	if _, err := ShortID("not-hex"); err == nil {
		t.Error("Invalid hex should produce an error")
	}
	if _, err := ShortID("abcd"); err == nil {
		t.Error("Hash shorter than 8 bytes should produce an error")
	}
}
