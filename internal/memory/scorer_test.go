package memory

import (
	"reflect"
	"testing"
)

func TestHashingScorerSimilarity(t *testing.T) {
	s := NewHashingScorer()

	same := s.Similarity("gravity pulls objects", "gravity pulls objects")
	if same < 0.999 {
		t.Fatalf("identical text must score ~1, got %v", same)
	}

	related := s.Similarity("gravity pulls objects", "gravity pulls planets")
	unrelated := s.Similarity("gravity pulls objects", "photosynthesis converts sunlight")
	if related <= unrelated {
		t.Fatalf("related=%v must exceed unrelated=%v", related, unrelated)
	}
}

func TestHashingScorerDeterministic(t *testing.T) {
	s := NewHashingScorer()

	a := s.Vector("continual learning with gated memory")
	b := s.Vector("continual learning with gated memory")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("vector must be deterministic for identical input")
	}
}

func TestConceptKeyPicksMostFrequentToken(t *testing.T) {
	s := NewHashingScorer()

	if key := s.ConceptKey("orbit mechanics: the orbit decays as the orbit shrinks"); key != "orbit" {
		t.Fatalf("expected key orbit, got %q", key)
	}
}

func TestConceptKeyTieBreaksLexicographically(t *testing.T) {
	s := NewHashingScorer()

	if key := s.ConceptKey("zebra apple"); key != "apple" {
		t.Fatalf("expected tie to break to apple, got %q", key)
	}
}

func TestConceptKeyEmptySignal(t *testing.T) {
	s := NewHashingScorer()

	if key := s.ConceptKey("a an it of"); key != "" {
		t.Fatalf("expected empty key for stopword-only text, got %q", key)
	}
}

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("The gravity of Earth pulls; gravity always pulls!")
	want := []string{"always", "earth", "gravity", "pulls"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
