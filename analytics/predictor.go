package analytics

import (
	"math"
	"time"

	"transtrack-api/models"
)

const (
	morningRushFactor = 1.35
	eveningRushFactor = 1.50
	terminalFactor    = 1.25
)

// rushHourFactor checks the morning window first and the evening window
// second; both bounds are inclusive.
func rushHourFactor(hour int) float64 {
	factor := 1.0
	if hour >= 6 && hour <= 9 {
		factor = morningRushFactor
	}
	if hour >= 17 && hour <= 20 {
		factor = eveningRushFactor
	}
	return factor
}

func isRushHour(hour int) bool {
	return rushHourFactor(hour) != 1.0
}

// PredictPassengers scales the current load by time of day and terminal
// proximity, capped at the bus capacity.
func PredictPassengers(b *models.Bus, p Params, now time.Time) int {
	factor := rushHourFactor(p.localHour(now))
	if p.Terminal.Contains(b.Lat, b.Lng) {
		factor *= terminalFactor
	}
	predicted := int(math.Round(float64(b.Passengers) * factor))
	return clampInt(predicted, 0, p.capacityOf(b))
}
