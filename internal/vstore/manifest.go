package vstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

const manifestFileName = "manifest.hjson"

// manifest is the store's ambient configuration, written on create and
// rewritten on every Close (recording the region capacities in effect at
// that point). It sits alongside, but is not one of, the four data files that
// invariant 4 treats as an all-or-nothing set.
type manifest struct {
	Dimension         int    `json:"dimension"`
	VectorCapacity    uint32 `json:"vector_capacity"`
	PayloadCapacity   uint32 `json:"payload_capacity"`
	HybridEnabled     bool   `json:"hybrid_enabled"`
	InvertedBlockSize int    `json:"inverted_block_size,omitempty"`
	InvertedKeySize   int    `json:"inverted_key_size,omitempty"`
	InvertedCapacity  uint32 `json:"inverted_capacity,omitempty"`
	CreatedUnix       int64  `json:"created_unix"`
}

func manifestPath(dir string) string {
	return filepath.Join(dir, manifestFileName)
}

// loadManifest reads manifest.hjson, tolerating trailing comments and
// commas the way the pack's calvinalkan-agent-task config loader tolerates
// JSONC via hujson.Standardize before handing the result to encoding/json.
func loadManifest(dir string) (*manifest, bool, error) {
	data, err := os.ReadFile(manifestPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, false, fmt.Errorf("vstore: invalid manifest %s: %w", manifestPath(dir), err)
	}

	var m manifest
	if err := json.Unmarshal(standardized, &m); err != nil {
		return nil, false, fmt.Errorf("vstore: invalid manifest %s: %w", manifestPath(dir), err)
	}
	return &m, true, nil
}

// saveManifest writes the manifest atomically (temp file + rename) so a
// crash mid-write never leaves a half-written manifest behind.
func saveManifest(dir string, m *manifest) error {
	var buf bytes.Buffer
	buf.WriteString("// store manifest — rewritten on create and on every close\n")
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("vstore: encode manifest: %w", err)
	}
	return atomic.WriteFile(manifestPath(dir), bytes.NewReader(buf.Bytes()))
}

func newManifest(dimension int, vectorCapacity, payloadCapacity uint32, hybridEnabled bool, blockSize, keySize int, invertedCapacity uint32, createdUnix int64) *manifest {
	return &manifest{
		Dimension:         dimension,
		VectorCapacity:    vectorCapacity,
		PayloadCapacity:   payloadCapacity,
		HybridEnabled:     hybridEnabled,
		InvertedBlockSize: blockSize,
		InvertedKeySize:   keySize,
		InvertedCapacity:  invertedCapacity,
		CreatedUnix:       createdUnix,
	}
}
