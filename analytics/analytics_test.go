package analytics

import (
	"testing"
	"time"

	"transtrack-api/config"
	"transtrack-api/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noon is outside both rush windows in the default timezone.
var noon = time.Date(2025, 1, 15, 12, 0, 0, 0, manilaTime)

func newBus(lat, lng float64, passengers int) *models.Bus {
	return &models.Bus{ID: "BUS-001", Lat: lat, Lng: lng, Passengers: passengers, Capacity: 40}
}

// ── Movement ──

func TestClassifyMovementFirstObservation(t *testing.T) {
	b := newBus(14.4096, 121.039, 15)
	assert.Equal(t, MovementStable, ClassifyMovement(b, DefaultParams(), noon))
	assert.True(t, b.State.Movement.Valid)
	assert.Equal(t, noon, b.State.Movement.At)
}

func TestClassifyMovementIdleAfterTwentySeconds(t *testing.T) {
	p := DefaultParams()
	b := newBus(14.4096, 121.039, 15)

	require.Equal(t, MovementStable, ClassifyMovement(b, p, noon))
	assert.Equal(t, MovementIdle, ClassifyMovement(b, p, noon.Add(21*time.Second)))
}

func TestClassifyMovementConvergesToIdle(t *testing.T) {
	p := DefaultParams()
	b := newBus(14.4096, 121.039, 15)
	ClassifyMovement(b, p, noon)

	var got []string
	for i := 1; i <= 6; i++ {
		got = append(got, ClassifyMovement(b, p, noon.Add(time.Duration(i)*5*time.Second)))
	}
	assert.Equal(t, []string{
		MovementStable, MovementStable, MovementStable, MovementStable, MovementIdle, MovementIdle,
	}, got)
}

func TestClassifyMovementBranches(t *testing.T) {
	p := DefaultParams()
	tests := []struct {
		name    string
		dLat    float64
		elapsed time.Duration
		want    string
	}{
		// 0.003° * 111000 = 333 m
		{"teleport over 200m", 0.003, 60 * time.Second, MovementTeleport},
		// 0.0002° = 22.2 m over 10 s = 2.22 m/s
		{"slowdown between 1 and 4 m/s", 0.0002, 10 * time.Second, MovementSlowdown},
		// 0.0005° = 55.5 m over 10 s = 5.55 m/s
		{"cruising above 4 m/s", 0.0005, 10 * time.Second, MovementStable},
		// 0.00005° = 5.55 m over 10 s
		{"crawl below 1 m/s is stable before idle timeout", 0.00005, 10 * time.Second, MovementStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBus(14.4, 121.0, 10)
			ClassifyMovement(b, p, noon)
			b.Lat += tt.dLat
			assert.Equal(t, tt.want, ClassifyMovement(b, p, noon.Add(tt.elapsed)))
			assert.Equal(t, b.Lat, b.State.Movement.Lat, "fix must always advance")
		})
	}
}

func TestClassifyMovementZeroElapsed(t *testing.T) {
	p := DefaultParams()
	b := newBus(14.4, 121.0, 10)
	ClassifyMovement(b, p, noon)
	// 0.00002° = 2.22 m, elapsed treated as 1 s
	b.Lat += 0.00002
	assert.Equal(t, MovementSlowdown, ClassifyMovement(b, p, noon))
}

func TestClassifyMovementMovingResetsIdleClock(t *testing.T) {
	p := DefaultParams()
	b := newBus(14.4, 121.0, 10)
	ClassifyMovement(b, p, noon)

	b.Lat += 0.0005
	require.Equal(t, MovementStable, ClassifyMovement(b, p, noon.Add(10*time.Second)))
	assert.Equal(t, MovementStable, ClassifyMovement(b, p, noon.Add(25*time.Second)))
	assert.Equal(t, MovementIdle, ClassifyMovement(b, p, noon.Add(31*time.Second)))
}

// ── Passenger predictor ──

func TestRushHourFactor(t *testing.T) {
	tests := []struct {
		hour int
		want float64
	}{
		{5, 1.0},
		{6, 1.35},
		{9, 1.35},
		{10, 1.0},
		{16, 1.0},
		{17, 1.5},
		{20, 1.5},
		{21, 1.0},
		{0, 1.0},
	}
	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			assert.Equal(t, tt.want, rushHourFactor(tt.hour), "hour %d", tt.hour)
		})
	}
}

func TestPredictPassengers(t *testing.T) {
	p := DefaultParams()
	at := func(hour int) time.Time { return time.Date(2025, 1, 15, hour, 30, 0, 0, manilaTime) }

	tests := []struct {
		name       string
		lat, lng   float64
		passengers int
		now        time.Time
		want       int
	}{
		{"noon away from terminal", 14.40, 121.00, 20, at(12), 20},
		{"morning rush", 14.40, 121.00, 20, at(7), 27},
		{"evening rush", 14.40, 121.00, 20, at(18), 30},
		{"terminal boost", 14.415, 121.04, 20, at(12), 25},
		{"rush and terminal capped", 14.415, 121.04, 30, at(18), 40},
		{"zero stays zero", 14.415, 121.04, 0, at(18), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBus(tt.lat, tt.lng, tt.passengers)
			assert.Equal(t, tt.want, PredictPassengers(b, p, tt.now))
		})
	}
}

func TestPredictPassengersUsesCivilTimezone(t *testing.T) {
	p := DefaultParams()
	b := newBus(14.40, 121.00, 20)
	// 23:30 UTC is 07:30 in Manila.
	utc := time.Date(2025, 1, 15, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, 27, PredictPassengers(b, p, utc))
}

func TestPredictPassengersBounded(t *testing.T) {
	p := DefaultParams()
	for hour := 0; hour < 24; hour++ {
		now := time.Date(2025, 1, 15, hour, 0, 0, 0, manilaTime)
		for count := 0; count <= 40; count++ {
			b := newBus(14.415, 121.04, count)
			got := PredictPassengers(b, p, now)
			if got < 0 || got > 40 {
				t.Fatalf("PredictPassengers(%d at %02d:00) = %d, outside [0, 40]", count, hour, got)
			}
		}
	}
}

func TestPredictPassengersPerBusCapacity(t *testing.T) {
	b := newBus(14.415, 121.04, 20)
	b.Capacity = 22
	assert.Equal(t, 22, PredictPassengers(b, DefaultParams(), noon))
}

func TestParamsFromConfig(t *testing.T) {
	p := ParamsFromConfig(config.AnalyticsConfig{
		Capacity:        50,
		MetersPerDegree: 100000,
		Timezone:        "Not/AZone",
		TerminalMinLat:  1, TerminalMaxLat: 2, TerminalMinLng: 3, TerminalMaxLng: 4,
	})
	assert.Equal(t, 50, p.Capacity)
	assert.Equal(t, 100000.0, p.MetersPerDegree)
	assert.True(t, p.Terminal.Contains(1.5, 3.5))
	_, offset := noon.In(p.Location).Zone()
	assert.Equal(t, 8*60*60, offset, "falls back to UTC+8")
}

// ── Crowd flow ──

func pushCounts(b *models.Bus, counts ...int) {
	for i, c := range counts {
		b.Passengers = c
		RecordSample(b, noon.Add(time.Duration(i)*time.Second))
	}
}

func TestClassifyCrowdFlow(t *testing.T) {
	tests := []struct {
		name   string
		counts []int
		want   string
	}{
		{"no samples", nil, CrowdStable},
		{"two samples regardless of size", []int{0, 40}, CrowdStable},
		{"spike", []int{5, 12, 20}, CrowdSpike},
		{"drop", []int{30, 20, 10}, CrowdDrop},
		{"increasing", []int{10, 10, 30, 33}, CrowdIncreasing},
		{"delta of exactly two is stable", []int{10, 10, 30, 32}, CrowdStable},
		{"decreasing", []int{20, 22, 18}, CrowdDecreasing},
		{"flat", []int{20, 21, 22}, CrowdStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBus(14.4, 121.0, 0)
			pushCounts(b, tt.counts...)
			assert.Equal(t, tt.want, ClassifyCrowdFlow(b))
		})
	}
}

// ── History recorder ──

func TestRecordSampleDeduplicatesAndBounds(t *testing.T) {
	b := newBus(14.4, 121.0, 0)
	pushCounts(b, 10, 10, 10, 11)
	assert.Equal(t, []int{10, 11}, b.State.Crowd)
	require.Len(t, b.State.History, 2)
	assert.Equal(t, 10, b.State.History[0].Passengers)
	assert.Equal(t, noon, b.State.History[0].At)

	for i := 0; i < 50; i++ {
		b.Passengers = i % 40
		RecordSample(b, noon.Add(time.Duration(100+i)*time.Second))
	}
	assert.Len(t, b.State.Crowd, models.CrowdWindow)
	assert.Len(t, b.State.History, models.HistoryWindow)
	assert.Equal(t, 9, b.State.History[len(b.State.History)-1].Passengers, "newest entry kept")
	assert.Equal(t, 9, b.State.Crowd[len(b.State.Crowd)-1])
}

func TestRecordSampleFirstValueRecorded(t *testing.T) {
	b := newBus(14.4, 121.0, 0)
	RecordSample(b, noon)
	assert.Len(t, b.State.History, 1)
	assert.Equal(t, []int{0}, b.State.Crowd)
}

// ── Forecast ──

func TestForecastFallback(t *testing.T) {
	b := newBus(14.40, 121.00, 20)
	f := Forecast(b, DefaultParams(), 5, noon)
	assert.Equal(t, 20, f.Predicted)
	assert.Equal(t, 0.5, f.Confidence)
}

func TestForecastBlend(t *testing.T) {
	b := newBus(14.40, 121.00, 0)
	b.Passengers = 10
	RecordSample(b, noon)
	b.Passengers = 12
	RecordSample(b, noon.Add(60*time.Second))

	// rate = 2/60 per s; projected 5 min = 12 + 10 = 22; weight 0.2
	// baseline 12 → round(12*0.8 + 22*0.2) = round(14.0) = 14
	f := Forecast(b, DefaultParams(), 5, noon.Add(60*time.Second))
	assert.Equal(t, 14, f.Predicted)
	assert.InDelta(t, 0.64, f.Confidence, 1e-9)

	// projected 10 min = 32 → round(9.6 + 6.4) = 16
	assert.Equal(t, 16, Forecast(b, DefaultParams(), 10, noon.Add(60*time.Second)).Predicted)
}

func TestForecastZeroElapsedAndClamp(t *testing.T) {
	b := newBus(14.40, 121.00, 0)
	b.State.History = []models.HistoryRecord{{At: noon, Passengers: 5}, {At: noon, Passengers: 30}}
	b.Passengers = 30
	f := Forecast(b, DefaultParams(), 5, noon)
	assert.Equal(t, 30, f.Predicted, "zero elapsed gives zero rate")

	b.State.History = []models.HistoryRecord{{At: noon, Passengers: 40}, {At: noon.Add(time.Second), Passengers: 0}}
	b.Passengers = 0
	assert.Equal(t, 0, Forecast(b, DefaultParams(), 10, noon).Predicted, "clamped at zero")
}

func TestForecastConfidenceMonotonic(t *testing.T) {
	b := newBus(14.40, 121.00, 0)
	prev := 0.0
	for i := 0; i < 40; i++ {
		b.Passengers = i % 2 * 10
		RecordSample(b, noon.Add(time.Duration(i)*time.Second))
		c := Forecast(b, DefaultParams(), 5, noon).Confidence
		assert.GreaterOrEqual(t, c, prev)
		assert.LessOrEqual(t, c, 0.95)
		prev = c
	}
	assert.Equal(t, 0.95, prev)
}

// ── Risk ──

func TestRiskLevel(t *testing.T) {
	assert.Equal(t, RiskNormal, RiskLevel(29))
	assert.Equal(t, RiskWarning, RiskLevel(30))
	assert.Equal(t, RiskWarning, RiskLevel(35))
	assert.Equal(t, RiskCritical, RiskLevel(36))
}
