package vstore

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/podcopic-labs/embedstore/internal/distance"
)

func mustOpen(t *testing.T, dim int, vecCap, payloadCap uint32, hybrid bool) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, dim, vecCap, payloadCap, hybrid)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dir
}

func TestAddAndTopKBasic(t *testing.T) {
	s, _ := mustOpen(t, 2, 4096, 4096, false)

	if err := s.Add([]float32{1, 0}, []byte("a")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add([]float32{0, 1}, []byte("b")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add([]float32{1, 0.01}, []byte("c")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := s.TopK([]float32{1, 0}, 2, 2, distance.Cosine)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if string(got[0].Payload) != "a" {
		t.Errorf("closest payload = %q, want %q", got[0].Payload, "a")
	}
}

func TestAddDimensionMismatch(t *testing.T) {
	s, _ := mustOpen(t, 3, 4096, 4096, false)
	err := s.Add([]float32{1, 2}, []byte("x"))
	if err != ErrDimensionMismatch {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestTopKDimensionMismatchReturnsEmpty(t *testing.T) {
	s, _ := mustOpen(t, 3, 4096, 4096, false)
	if err := s.Add([]float32{1, 2, 3}, []byte("x")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got := s.TopK([]float32{1, 2}, 1, 1, distance.Cosine)
	if got != nil {
		t.Errorf("got %+v, want nil on dimension mismatch", got)
	}
}

func TestAddCapacityExceededNamesRegion(t *testing.T) {
	// Vector region: 4-byte header + one 2-float32 vector (8 bytes) = 12.
	s, _ := mustOpen(t, 2, 12, 4096, false)
	if err := s.Add([]float32{1, 1}, []byte("first")); err != nil {
		t.Fatalf("first Add: %v", err)
	}

	err := s.Add([]float32{2, 2}, []byte("second"))
	var capErr *CapacityExceededError
	if err == nil {
		t.Fatal("expected capacity error, got nil")
	}
	if !asCapacityErr(err, &capErr) {
		t.Fatalf("err = %v, want *CapacityExceededError", err)
	}
	if capErr.Region != "vector" {
		t.Errorf("region = %q, want %q", capErr.Region, "vector")
	}
}

func asCapacityErr(err error, target **CapacityExceededError) bool {
	ce, ok := err.(*CapacityExceededError)
	if !ok {
		return false
	}
	*target = ce
	return true
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 2, 4096, 4096, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Add([]float32{3, 4}, []byte("persisted")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir, 2, 4096, 4096, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got := s2.TopK([]float32{3, 4}, 1, 1, distance.L2Squared)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if math.Abs(float64(got[0].Score)) > 1e-6 {
		t.Errorf("score = %v, want ~0 for exact self match", got[0].Score)
	}
	if string(got[0].Payload) != "persisted" {
		t.Errorf("payload = %q, want %q", got[0].Payload, "persisted")
	}
}

func TestManifestPersistsAcrossReopenWithoutExplicitArgs(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 5, 8192, 8192, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, manifestFileName)); err != nil {
		t.Fatalf("manifest not persisted: %v", err)
	}

	// Reopen with zero-value capacities/dimension; the manifest should win.
	s2, err := Open(dir, 0, 0, 0, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if err := s2.Add(make([]float32, 5), []byte("five-dim")); err != nil {
		t.Fatalf("Add with manifest-recovered dimension: %v", err)
	}
}

func TestTopKHybridZeroWeightMatchesTopK(t *testing.T) {
	s, _ := mustOpen(t, 2, 4096, 4096, true)
	if err := s.Add([]float32{1, 0}, []byte("cats are great")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add([]float32{0, 1}, []byte("dogs are great")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	hybrid := s.TopKHybrid("dogs", []float32{1, 0}, 2, 2, distance.Cosine, 0)
	plain := s.TopK([]float32{1, 0}, 2, 2, distance.Cosine)

	if len(hybrid) != len(plain) {
		t.Fatalf("len hybrid=%d plain=%d", len(hybrid), len(plain))
	}
	for i := range hybrid {
		if hybrid[i].Score != plain[i].Score {
			t.Errorf("index %d: hybrid score %v != plain score %v", i, hybrid[i].Score, plain[i].Score)
		}
	}
}

func TestTopKHybridBiasedToKeywordsPrefersKeywordMatch(t *testing.T) {
	s, _ := mustOpen(t, 2, 4096, 4096, true)
	// "dogs" is vector-far from the query but keyword-matches; "cats" is
	// vector-near but has no keyword overlap.
	if err := s.Add([]float32{1, 0}, []byte("cats are great")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add([]float32{-1, 0}, []byte("dogs are loyal")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := s.TopKHybrid("dogs loyal", []float32{1, 0}, 1, 2, distance.Cosine, 1.0)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if string(got[0].Payload) != "dogs are loyal" {
		t.Errorf("payload = %q, want keyword match %q", got[0].Payload, "dogs are loyal")
	}
}

func TestTopKHybridRequiresHybridEnabled(t *testing.T) {
	s, _ := mustOpen(t, 2, 4096, 4096, false)
	if err := s.Add([]float32{1, 0}, []byte("x")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got := s.TopKHybrid("x", []float32{1, 0}, 1, 1, distance.Cosine, 0.5)
	if got != nil {
		t.Errorf("got %+v, want nil when hybrid disabled", got)
	}
}

func TestOpenRejectsPartialFileSet(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 2, 4096, 4096, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Add([]float32{1, 1}, []byte("a")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := os.Remove(filepath.Join(dir, payloadFileName)); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	_, err = Open(dir, 2, 4096, 4096, false)
	if err != ErrStateInconsistent {
		t.Errorf("err = %v, want ErrStateInconsistent", err)
	}
}
