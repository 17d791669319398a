// Package enrich turns the raw fleet into an enriched snapshot.
package enrich

import (
	"log/slog"
	"math"
	"time"

	"transtrack-api/analytics"
	"transtrack-api/fleet"
	"transtrack-api/geo"
	"transtrack-api/metrics"
	"transtrack-api/models"
)

const alertNormal = "normal"

type Builder struct {
	repo     *fleet.Repository
	stations geo.StationTable
	params   analytics.Params
}

func NewBuilder(repo *fleet.Repository, stations geo.StationTable, params analytics.Params) *Builder {
	return &Builder{repo: repo, stations: stations, params: params}
}

func (b *Builder) Stations() geo.StationTable {
	return b.stations
}

// Build runs every per-bus analytic under that bus's lock and then the
// headway pass over the whole list. Buses come out in id order.
func (b *Builder) Build(now time.Time) models.Snapshot {
	start := time.Now()
	defer func() { metrics.SnapshotDuration.Observe(time.Since(start).Seconds()) }()

	buses := make([]models.EnrichedBus, 0, b.repo.Len())
	b.repo.ForEach(func(bus *models.Bus) {
		buses = append(buses, b.enrichOne(bus, now))
	})

	analytics.ComputeHeadways(buses, b.stations)
	return models.Snapshot{GeneratedAt: now, Buses: buses}
}

func (b *Builder) enrichOne(bus *models.Bus, now time.Time) (out models.EnrichedBus) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus enrichment failed, using neutral values", "bus_id", bus.ID, "panic", r)
			metrics.EnrichFailures.Inc()
			out = neutral(bus)
		}
	}()

	if !geo.IsValidLatLng(bus.Lat, bus.Lng) {
		slog.Warn("bus has invalid coordinates, using neutral values", "bus_id", bus.ID, "lat", bus.Lat, "lng", bus.Lng)
		metrics.EnrichFailures.Inc()
		return neutral(bus)
	}

	out = raw(bus)
	p := b.params

	station := ""
	if s, ok := b.stations.StationAt(bus.Lat, bus.Lng); ok {
		station = s.Name
		out.IsAtStation = true
		out.CurrentStation = &s.Name
	}

	out.Anomalies = analytics.DetectAnomalies(bus)
	out.AlertLevel, out.AlertMessage = alertNormal, ""
	if len(out.Anomalies) > 0 {
		out.AlertLevel = out.Anomalies[0].Level
		out.AlertMessage = out.Anomalies[0].Message
	}

	out.Predicted = analytics.PredictPassengers(bus, p, now)
	out.Movement = analytics.ClassifyMovement(bus, p, now)
	out.CrowdFlow = analytics.ClassifyCrowdFlow(bus)
	out.DrivePattern = analytics.ClassifyDrivePattern(bus, p, now)

	f5 := analytics.Forecast(bus, p, 5, now)
	f10 := analytics.Forecast(bus, p, 10, now)
	out.Predicted5Min, out.Predicted10Min = f5.Predicted, f10.Predicted
	out.Risk5Min = analytics.RiskLevel(f5.Predicted)
	out.Risk10Min = analytics.RiskLevel(f10.Predicted)
	out.ForecastConfidence = math.Min(1, (f5.Confidence+f10.Confidence)/2)

	out.DelayState = analytics.DelayState(bus.ETASeconds)
	out.DelayReason = analytics.ExplainDelay(bus, out.Movement, out.Anomalies, p, now)
	out.CrowdExplanation = analytics.ExplainCrowdChange(bus, out.Movement, station)

	safety := analytics.ScoreSafety(out.Anomalies, out.CrowdFlow, out.DrivePattern)
	out.SafetyScore, out.SafetyRating, out.SafetyNotes = safety.Score, safety.Rating, safety.Notes
	return out
}

func raw(bus *models.Bus) models.EnrichedBus {
	c := bus.Clone()
	return models.EnrichedBus{
		ID:            c.ID,
		Lat:           c.Lat,
		Lng:           c.Lng,
		Passengers:    c.Passengers,
		Capacity:      c.EffectiveCapacity(),
		TargetStation: c.TargetStation,
		TargetLat:     c.TargetLat,
		TargetLng:     c.TargetLng,
		Route:         c.Route,
		ETASeconds:    c.ETASeconds,
		ETAText:       c.ETAText,
		UpdatedAt:     c.UpdatedAt,
	}
}

// neutral is what a bus looks like when its analytics could not run.
func neutral(bus *models.Bus) models.EnrichedBus {
	out := raw(bus)
	safety := analytics.ScoreSafety(nil, analytics.CrowdStable, analytics.PatternUnknown)
	out.Movement = analytics.MovementUnknown
	out.CrowdFlow = analytics.CrowdStable
	out.CrowdExplanation = ""
	out.Anomalies = []models.Anomaly{}
	out.AlertLevel = alertNormal
	out.Predicted = bus.Passengers
	out.Predicted5Min = bus.Passengers
	out.Predicted10Min = bus.Passengers
	out.Risk5Min = analytics.RiskLevel(bus.Passengers)
	out.Risk10Min = analytics.RiskLevel(bus.Passengers)
	out.DelayState = analytics.DelayState(bus.ETASeconds)
	out.DelayReason = analytics.DelayUnknown
	out.DrivePattern = analytics.PatternUnknown
	out.SafetyScore, out.SafetyRating, out.SafetyNotes = safety.Score, safety.Rating, safety.Notes
	return out
}

// Occupancy lists every station with the buses inside its radius, in
// station table order.
func Occupancy(snap models.Snapshot, stations geo.StationTable) []models.StationOccupancy {
	all := stations.All()
	out := make([]models.StationOccupancy, len(all))
	index := make(map[string]int, len(all))
	for i, s := range all {
		out[i] = models.StationOccupancy{Station: s, BusIDs: []string{}}
		if _, dup := index[s.Name]; !dup {
			index[s.Name] = i
		}
	}
	for _, bus := range snap.Buses {
		if bus.CurrentStation == nil {
			continue
		}
		if i, ok := index[*bus.CurrentStation]; ok {
			out[i].BusIDs = append(out[i].BusIDs, bus.ID)
			out[i].Count++
		}
	}
	return out
}
