package analytics

import (
	"fmt"

	"transtrack-api/models"
)

const (
	RatingExcellent      = "Excellent"
	RatingGood           = "Good"
	RatingFair           = "Fair"
	RatingNeedsAttention = "Needs Attention"
)

type adjustment struct {
	delta int
	note  string
}

var (
	anomalyAdjustments = map[string]adjustment{
		AnomalyOvercrowding: {-15, "Overcrowding"},
		AnomalyGPSJump:      {-10, "GPS jump"},
		AnomalySpike:        {-8, "Passenger spike"},
	}
	crowdAdjustments = map[string]adjustment{
		CrowdSpike:      {-6, "Crowd spike"},
		CrowdDrop:       {-3, "Crowd drop"},
		CrowdIncreasing: {-2, "Crowd increasing"},
		CrowdDecreasing: {+1, "Crowd easing"},
	}
	patternAdjustments = map[string]adjustment{
		PatternAggressive:  {-25, "Aggressive driving"},
		PatternStopAndGo:   {-12, "Stop-and-go driving"},
		PatternIdleTooLong: {-5, "Idle too long"},
		PatternDrifting:    {-8, "Drifting"},
		PatternSmooth:      {+5, "Smooth driving"},
	}
)

// ScoreSafety starts from 100 and applies anomaly, crowd and driving
// adjustments in that order, noting each one.
func ScoreSafety(anomalies []models.Anomaly, crowdFlow, drivePattern string) models.Safety {
	score := 100
	notes := []string{}
	apply := func(a adjustment) {
		score += a.delta
		notes = append(notes, fmt.Sprintf("%s (%+d)", a.note, a.delta))
	}

	for _, an := range anomalies {
		if a, ok := anomalyAdjustments[an.Code]; ok {
			apply(a)
		}
	}
	if a, ok := crowdAdjustments[crowdFlow]; ok {
		apply(a)
	}
	if a, ok := patternAdjustments[drivePattern]; ok {
		apply(a)
	}

	score = clampInt(score, 0, 100)
	return models.Safety{Score: score, Rating: safetyRating(score), Notes: notes}
}

func safetyRating(score int) string {
	switch {
	case score >= 85:
		return RatingExcellent
	case score >= 70:
		return RatingGood
	case score >= 55:
		return RatingFair
	default:
		return RatingNeedsAttention
	}
}
