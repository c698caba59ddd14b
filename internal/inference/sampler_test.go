package inference

import (
	"math/rand"
	"testing"
)

func TestSampleGreedyPicksArgmax(t *testing.T) {
	logits := []float32{0.1, 5.0, 0.2, -1.0}
	idx := Sample(logits, nil, SamplerParams{Temperature: 0}, rand.New(rand.NewSource(1)))
	if idx != 1 {
		t.Fatalf("expected greedy argmax index 1, got %d", idx)
	}
}

func TestSampleRepeatPenaltySuppressesRecent(t *testing.T) {
	logits := []float32{5.0, 5.0}
	recent := map[int]int{0: 3}
	idx := Sample(logits, recent, SamplerParams{Temperature: 0, RepeatPenalty: 2.0}, rand.New(rand.NewSource(1)))
	if idx != 1 {
		t.Fatalf("expected penalty to favor index 1, got %d", idx)
	}
}

func TestSampleDistributionalStaysWithinVocab(t *testing.T) {
	logits := []float32{1, 2, 3, 4}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		idx := Sample(logits, nil, SamplerParams{Temperature: 1.0, TopP: 0.9}, rng)
		if idx < 0 || idx >= len(logits) {
			t.Fatalf("sample index %d out of range", idx)
		}
	}
}
