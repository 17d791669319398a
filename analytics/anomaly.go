package analytics

import (
	"transtrack-api/geo"
	"transtrack-api/models"
)

const (
	AnomalyOvercrowding = "overcrowding"
	AnomalySpike        = "spike"
	AnomalyGPSJump      = "gps_jump"
	AnomalyVeryLow      = "very_low"

	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"
)

const (
	overcrowdedAt  = 38
	spikeDelta     = 15
	gpsJumpDegrees = 0.003
	nearlyEmptyAt  = 2
)

// DetectAnomalies runs four independent checks; any combination may fire.
// The first observation of a bus never reports a spike or a GPS jump.
func DetectAnomalies(b *models.Bus) []models.Anomaly {
	st := &b.State
	anomalies := []models.Anomaly{}

	if b.Passengers >= overcrowdedAt {
		anomalies = append(anomalies, models.Anomaly{Code: AnomalyOvercrowding, Message: "Bus is overcrowded", Level: LevelHigh})
	}

	if st.LastPassengersSeen {
		diff := b.Passengers - st.LastPassengers
		if diff >= spikeDelta || diff <= -spikeDelta {
			anomalies = append(anomalies, models.Anomaly{Code: AnomalySpike, Message: "Passenger spike detected", Level: LevelMedium})
		}
	}
	st.LastPassengers = b.Passengers
	st.LastPassengersSeen = true

	if st.AnomalyFix.Valid {
		if geo.ManhattanDegrees(st.AnomalyFix.Lat, st.AnomalyFix.Lng, b.Lat, b.Lng) > gpsJumpDegrees {
			anomalies = append(anomalies, models.Anomaly{Code: AnomalyGPSJump, Message: "Abnormal GPS movement", Level: LevelMedium})
		}
	}
	st.AnomalyFix = models.Fix{Lat: b.Lat, Lng: b.Lng, Valid: true}

	if b.Passengers <= nearlyEmptyAt {
		anomalies = append(anomalies, models.Anomaly{Code: AnomalyVeryLow, Message: "Bus is unusually empty", Level: LevelLow})
	}

	return anomalies
}

func hasAnomaly(anomalies []models.Anomaly, code string) bool {
	for _, a := range anomalies {
		if a.Code == code {
			return true
		}
	}
	return false
}
