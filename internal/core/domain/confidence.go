package domain

import "math"

const (
	rsqBestWeight   = 0.75
	rsqMarginWeight = 0.25
)

// ConfidenceFromHits rewards a strong top hit and penalizes a close runner-up.
// Hits are expected in descending score order.
func ConfidenceFromHits(hits []Hit) float64 {
	if len(hits) == 0 {
		return 0
	}
	best := ClampScore(hits[0].Score)
	second := 0.0
	if len(hits) > 1 {
		second = ClampScore(hits[1].Score)
	}
	margin := math.Max(0, best-second)
	rsq := rsqBestWeight*best + rsqMarginWeight*margin
	return ClampScore(math.Round(rsq*1000) / 1000)
}
