package analytics

import (
	"math"
	"time"

	"transtrack-api/models"

	"gonum.org/v1/gonum/stat"
)

const (
	PatternUnknown     = "unknown"
	PatternSmooth      = "Smooth"
	PatternAggressive  = "Aggressive"
	PatternIdleTooLong = "Idle-too-long"
	PatternStopAndGo   = "Stop-and-go"
	PatternDrifting    = "Drifting"
)

const minSpeedSamples = 4

// recordSpeed appends an instantaneous speed sample using the speed fix,
// which is kept apart from the movement classifier's fix.
func recordSpeed(b *models.Bus, p Params, now time.Time) {
	st := &b.State
	if st.Speed.Valid {
		_, speed := instantSpeed(st.Speed, b.Lat, b.Lng, now, p.MetersPerDegree)
		st.SpeedSamples = append(st.SpeedSamples, speed)
		if len(st.SpeedSamples) > models.SpeedWindow {
			st.SpeedSamples = st.SpeedSamples[len(st.SpeedSamples)-models.SpeedWindow:]
		}
	}
	st.Speed = models.Fix{Lat: b.Lat, Lng: b.Lng, At: now, Valid: true}
}

// meanAbsDeviation returns the mean and the mean absolute deviation.
func meanAbsDeviation(xs []float64) (mean, mad float64) {
	mean = stat.Mean(xs, nil)
	dev := make([]float64, len(xs))
	for i, x := range xs {
		dev[i] = math.Abs(x - mean)
	}
	return mean, stat.Mean(dev, nil)
}

// ClassifyDrivePattern records a speed sample and labels the recent driving
// style from the spread of the last samples.
func ClassifyDrivePattern(b *models.Bus, p Params, now time.Time) string {
	recordSpeed(b, p, now)

	samples := b.State.SpeedSamples
	if len(samples) < minSpeedSamples {
		return PatternUnknown
	}

	mean, variance := meanAbsDeviation(samples)
	switch {
	case variance < 0.4 && mean > 4:
		return PatternSmooth
	case variance > 2.2:
		return PatternAggressive
	case mean < 0.5 && variance < 0.3:
		return PatternIdleTooLong
	case mean > 0.5 && mean < 2 && variance > 0.8:
		return PatternStopAndGo
	case mean < 0.8 && variance > 1.0:
		return PatternDrifting
	default:
		return PatternSmooth
	}
}
