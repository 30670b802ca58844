// Package idhash computes deterministic content-derived identifiers.
// Identity never comes from wall clocks or random sources: the same inputs
// and configuration must always map to the same IDs.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
)

// ComputeDatasetID computes a deterministic dataset identity using SHA256.
// Formula: SHA256(config_fingerprint|input_digest)
// Returns hex-encoded hash (64 characters).
func ComputeDatasetID(configFingerprint, inputDigest string) string {
	data := fmt.Sprintf("%s|%s", configFingerprint, inputDigest)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ShortID returns a compact base58 form of a hex-encoded hash, built from
// its first 8 bytes. Used where a full 64-character hash is unwieldy
// (file names, log lines, manifest cross-references).
func ShortID(hexHash string) (string, error) {
	raw, err := hex.DecodeString(hexHash)
	if err != nil {
		return "", fmt.Errorf("invalid hex hash: %w", err)
	}
	if len(raw) < 8 {
		return "", fmt.Errorf("hash too short: %d bytes", len(raw))
	}
	return base58.Encode(raw[:8]), nil
}
