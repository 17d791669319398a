package analytics

import (
	"math"
	"time"

	"transtrack-api/models"
)

// RecordSample pushes the bus's current passenger count into both rolling
// sequences. Each only grows when the count differs from its newest entry.
func RecordSample(b *models.Bus, now time.Time) {
	st := &b.State

	if n := len(st.Crowd); n == 0 || st.Crowd[n-1] != b.Passengers {
		st.Crowd = append(st.Crowd, b.Passengers)
		if len(st.Crowd) > models.CrowdWindow {
			st.Crowd = st.Crowd[len(st.Crowd)-models.CrowdWindow:]
		}
	}

	if !st.HistoryStarted || st.LastHistoryValue != b.Passengers {
		st.History = append(st.History, models.HistoryRecord{At: now, Passengers: b.Passengers})
		if len(st.History) > models.HistoryWindow {
			st.History = st.History[len(st.History)-models.HistoryWindow:]
		}
		st.LastHistoryValue = b.Passengers
		st.HistoryStarted = true
	}
}

// Forecast projects the passenger count `minutes` ahead from the last two
// history records and blends it with the rule-based prediction. Trust in the
// projection grows with the number of records.
func Forecast(b *models.Bus, p Params, minutes int, now time.Time) models.Forecast {
	baseline := PredictPassengers(b, p, now)
	rec := b.State.History
	if len(rec) < 2 {
		return models.Forecast{Predicted: baseline, Confidence: 0.5}
	}

	last, prev := rec[len(rec)-1], rec[len(rec)-2]
	rate := 0.0
	if dt := last.At.Sub(prev.At).Seconds(); dt != 0 {
		rate = float64(last.Passengers-prev.Passengers) / dt
	}
	projected := float64(last.Passengers) + rate*float64(minutes*60)

	n := float64(len(rec))
	weight := math.Min(0.6, 0.1*n)
	predicted := int(math.Round(float64(baseline)*(1-weight) + projected*weight))

	return models.Forecast{
		Predicted:  clampInt(predicted, 0, p.capacityOf(b)),
		Confidence: math.Min(0.95, 0.4+0.12*n),
	}
}
