package memory

import (
	"math"
	"testing"
)

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3, 0}

	blob, err := EncodeVector(in)
	if err != nil {
		t.Fatalf("EncodeVector error: %v", err)
	}
	out, err := DecodeVector(blob)
	if err != nil {
		t.Fatalf("DecodeVector error: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d dims, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("dim %d: expected %v, got %v", i, in[i], out[i])
		}
	}
}

func TestDecodeVectorRejectsGarbage(t *testing.T) {
	if _, err := DecodeVector([]byte{1, 2}); err == nil {
		t.Fatalf("expected error for truncated blob")
	}
}

func TestCosineSimilarity(t *testing.T) {
	same, err := CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3})
	if err != nil {
		t.Fatalf("CosineSimilarity error: %v", err)
	}
	if math.Abs(same-1) > 1e-6 {
		t.Fatalf("expected ~1, got %v", same)
	}

	orth, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	if err != nil {
		t.Fatalf("CosineSimilarity error: %v", err)
	}
	if math.Abs(orth) > 1e-6 {
		t.Fatalf("expected ~0, got %v", orth)
	}

	if _, err := CosineSimilarity([]float32{1}, []float32{1, 2}); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}
