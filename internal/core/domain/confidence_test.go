package domain

import "testing"

func TestConfidenceFromHitsWeightsBestAndMargin(t *testing.T) {
	got := ConfidenceFromHits([]Hit{{Score: 0.8}, {Score: 0.5}})
	if got != 0.675 {
		t.Fatalf("expected rsq 0.675, got %v", got)
	}
}

func TestConfidenceFromHitsEmpty(t *testing.T) {
	if got := ConfidenceFromHits(nil); got != 0 {
		t.Fatalf("expected 0 for empty hits, got %v", got)
	}
}

func TestConfidenceFromHitsSingleHitUsesZeroRunnerUp(t *testing.T) {
	got := ConfidenceFromHits([]Hit{{Score: 0.4}})
	if got != 0.4 {
		t.Fatalf("expected 0.4, got %v", got)
	}
}

func TestConfidenceFromHitsStaysInUnitRange(t *testing.T) {
	cases := [][]Hit{
		{{Score: 1.7}, {Score: -0.2}},
		{{Score: -1}},
		{{Score: 1}, {Score: 1}},
		{{Score: 0.0001}, {Score: 0}},
	}
	for _, hits := range cases {
		got := ConfidenceFromHits(hits)
		if got < 0 || got > 1 {
			t.Fatalf("rsq out of range for %+v: %v", hits, got)
		}
	}
}

func TestConfidenceFromHitsNonIncreasingAsMarginShrinks(t *testing.T) {
	prev := 2.0
	for _, second := range []float64{0, 0.2, 0.4, 0.6, 0.8, 0.9} {
		got := ConfidenceFromHits([]Hit{{Score: 0.9}, {Score: second}})
		if got > prev {
			t.Fatalf("rsq increased when margin shrank: second=%v rsq=%v prev=%v", second, got, prev)
		}
		prev = got
	}
}
