package services

import (
	"math"
	"strings"

	"github.com/flowguard/flowguard/internal/server/models"
)

// Stability score penalties. Server errors weigh most, accepted bad input
// next, timeouts least.
const (
	penalty5xx            = 5
	penaltyInvalidSuccess = 3
	penaltyTimeout        = 2
)

// Health bands over the stability score.
const (
	HealthExcellent = "EXCELLENT"
	HealthGood      = "GOOD"
	HealthFair      = "FAIR"
	HealthPoor      = "POOR"
)

// StabilityScore computes 100 - 5*n5xx - 3*invalidSuccess - 2*timeouts,
// clamped to [0, 100] and rounded to two decimals.
func StabilityScore(num5xx, numInvalidSuccess, numTimeouts int) float64 {
	score := 100.0
	score -= float64(penalty5xx * num5xx)
	score -= float64(penaltyInvalidSuccess * numInvalidSuccess)
	score -= float64(penaltyTimeout * numTimeouts)

	score = math.Max(0, math.Min(100, score))
	return math.Round(score*100) / 100
}

// CountPenalties classifies failures into the three penalized categories by
// status code and rule-based failure reason.
func CountPenalties(failures []*models.TestFailure) (num5xx, numInvalidSuccess, numTimeouts int) {
	for _, f := range failures {
		reason := strings.ToLower(f.FailureReason)

		switch {
		case f.StatusCode != nil && *f.StatusCode >= 500:
			num5xx++
		case strings.Contains(reason, "5xx") || strings.Contains(reason, "server error"):
			num5xx++
		}

		if strings.Contains(reason, "invalid success") || strings.Contains(reason, "bad input was accepted") {
			numInvalidSuccess++
		}

		if strings.Contains(reason, "timeout") {
			numTimeouts++
		}
	}
	return num5xx, numInvalidSuccess, numTimeouts
}

// HealthBand maps a stability score to its report band.
func HealthBand(score float64) string {
	switch {
	case score >= 90:
		return HealthExcellent
	case score >= 70:
		return HealthGood
	case score >= 50:
		return HealthFair
	default:
		return HealthPoor
	}
}
