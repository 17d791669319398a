package analytics

import (
	"time"

	"transtrack-api/models"
)

const (
	DelayUnknown = "unknown"
	DelayLate    = "late"
	DelayAhead   = "ahead"
	DelayOnTime  = "on-time"
)

const (
	lateAfterSeconds  = 1200.0
	aheadUnderSeconds = 240.0
	rushETASeconds    = 900.0
	highLoadAt        = 32
	loadingRise       = 8
)

// DelayState buckets an ETA in seconds.
func DelayState(eta *float64) string {
	switch {
	case eta == nil:
		return DelayUnknown
	case *eta > lateAfterSeconds:
		return DelayLate
	case *eta < aheadUnderSeconds:
		return DelayAhead
	default:
		return DelayOnTime
	}
}

// ExplainDelay picks the most likely reason for a bus running slow. It needs
// both an ETA and a target station.
func ExplainDelay(b *models.Bus, movement string, anomalies []models.Anomaly, p Params, now time.Time) string {
	if b.ETASeconds == nil || b.TargetStation == nil || *b.TargetStation == "" {
		return "unknown"
	}

	if b.Passengers >= highLoadAt {
		return "High passenger load slowing boarding"
	}
	if isRushHour(p.localHour(now)) && *b.ETASeconds > rushETASeconds {
		return "Rush-hour traffic"
	}
	switch movement {
	case MovementIdle:
		return "Possible stopover"
	case MovementSlowdown:
		return "Slow traffic"
	}
	if hasAnomaly(anomalies, AnomalyGPSJump) {
		return "GPS instability, ETA may be unreliable"
	}
	if h := b.State.History; len(h) >= 2 && h[len(h)-1].Passengers-h[len(h)-2].Passengers >= loadingRise {
		return "Loading delay, many passengers boarding"
	}
	return "normal conditions"
}
