package analytics

import (
	"time"

	"transtrack-api/geo"
	"transtrack-api/models"
)

const (
	MovementStable   = "stable"
	MovementIdle     = "idle"
	MovementSlowdown = "slowdown"
	MovementTeleport = "teleport"
	MovementUnknown  = "unknown"
)

const (
	teleportMeters = 200.0
	idleAfter      = 20 * time.Second
	stillSpeedMPS  = 1.0
	slowSpeedMPS   = 4.0
)

// instantSpeed converts the displacement since fix into meters and m/s. An
// elapsed time of zero (or a clock going backwards) counts as one second.
func instantSpeed(fix models.Fix, lat, lng float64, now time.Time, metersPerDegree float64) (meters, speed float64) {
	meters = geo.ManhattanDegrees(fix.Lat, fix.Lng, lat, lng) * metersPerDegree
	elapsed := now.Sub(fix.At).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	return meters, meters / elapsed
}

// ClassifyMovement compares the current position against the last observed
// one. Idle means no real movement for longer than 20s, measured from the
// last sample in which the bus moved rather than from the last sample seen.
func ClassifyMovement(b *models.Bus, p Params, now time.Time) string {
	st := &b.State
	if !st.Movement.Valid {
		st.Movement = models.Fix{Lat: b.Lat, Lng: b.Lng, At: now, Valid: true}
		st.LastMovedAt = now
		return MovementStable
	}

	meters, speed := instantSpeed(st.Movement, b.Lat, b.Lng, now, p.MetersPerDegree)

	var movement string
	switch {
	case meters > teleportMeters:
		movement = MovementTeleport
	case speed < stillSpeedMPS:
		if now.Sub(st.LastMovedAt) > idleAfter {
			movement = MovementIdle
		} else {
			movement = MovementStable
		}
	case speed < slowSpeedMPS:
		movement = MovementSlowdown
	default:
		movement = MovementStable
	}

	if meters > teleportMeters || speed >= stillSpeedMPS {
		st.LastMovedAt = now
	}
	st.Movement = models.Fix{Lat: b.Lat, Lng: b.Lng, At: now, Valid: true}
	return movement
}
