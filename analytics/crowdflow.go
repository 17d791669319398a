package analytics

import (
	"fmt"

	"transtrack-api/models"
)

const (
	CrowdSpike      = "spike"
	CrowdDrop       = "drop"
	CrowdIncreasing = "increasing"
	CrowdDecreasing = "decreasing"
	CrowdStable     = "stable"
)

// ClassifyCrowdFlow reads the last three entries of the crowd FIFO.
func ClassifyCrowdFlow(b *models.Bus) string {
	crowd := b.State.Crowd
	if len(crowd) < 3 {
		return CrowdStable
	}

	a, m, c := crowd[len(crowd)-3], crowd[len(crowd)-2], crowd[len(crowd)-1]
	d1, d2 := m-a, c-m

	switch {
	case d1 > 5 && d2 > 5:
		return CrowdSpike
	case d1 < -5 && d2 < -5:
		return CrowdDrop
	case d2 > 2:
		return CrowdIncreasing
	case d2 < -2:
		return CrowdDecreasing
	default:
		return CrowdStable
	}
}

// ExplainCrowdChange gives a short human rationale for the latest change in
// the timestamped history. station is the station the bus is at, or "".
func ExplainCrowdChange(b *models.Bus, movement, station string) string {
	h := b.State.History
	if len(h) < 2 {
		return "Insufficient data, assuming stable passenger flow"
	}

	diff := h[len(h)-1].Passengers - h[len(h)-2].Passengers
	switch {
	case diff > 5:
		return "Crowd rising, bus likely approaching a busy stop."
	case diff < -5:
		return "Crowd dropping, passengers recently got off at a stop."
	}

	if station != "" {
		if diff > 0 {
			return fmt.Sprintf("Passengers boarding at %s", station)
		}
		if diff < 0 {
			return fmt.Sprintf("Passengers alighting at %s", station)
		}
	}

	switch movement {
	case MovementIdle:
		return "Stopped, possible passenger loading/unloading."
	case MovementSlowdown:
		return "Slow movement, may be picking up more passengers."
	}
	return "Stable passenger flow"
}
