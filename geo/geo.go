// Package geo holds the distance helpers and the static station table.
package geo

import (
	"math"

	"transtrack-api/models"
)

const earthRadiusMeters = 6371000.0

// Haversine returns the great-circle distance in meters.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	φ1 := lat1 * math.Pi / 180.0
	φ2 := lat2 * math.Pi / 180.0
	dφ := (lat2 - lat1) * math.Pi / 180.0
	dλ := (lng2 - lng1) * math.Pi / 180.0
	a := math.Sin(dφ/2)*math.Sin(dφ/2) + math.Cos(φ1)*math.Cos(φ2)*math.Sin(dλ/2)*math.Sin(dλ/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// ManhattanDegrees is |Δlat| + |Δlng|, the cheap displacement used by the
// movement and anomaly heuristics.
func ManhattanDegrees(lat1, lng1, lat2, lng2 float64) float64 {
	return math.Abs(lat2-lat1) + math.Abs(lng2-lng1)
}

// IsValidLatLng rejects NaN, infinities and out-of-range coordinates.
func IsValidLatLng(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// StationTable is an ordered, immutable list of stations. Matching is
// first-match-wins in table order.
type StationTable struct {
	stations []models.Station
	byName   map[string]int
}

func NewStationTable(stations []models.Station) StationTable {
	t := StationTable{
		stations: append([]models.Station(nil), stations...),
		byName:   make(map[string]int, len(stations)),
	}
	for i, s := range t.stations {
		if _, dup := t.byName[s.Name]; !dup {
			t.byName[s.Name] = i
		}
	}
	return t
}

func (t StationTable) All() []models.Station {
	return append([]models.Station(nil), t.stations...)
}

func (t StationTable) Len() int { return len(t.stations) }

// Lookup finds a station by its exact name.
func (t StationTable) Lookup(name string) (models.Station, bool) {
	i, ok := t.byName[name]
	if !ok {
		return models.Station{}, false
	}
	return t.stations[i], true
}

// StationAt returns the first station whose radius contains the point.
func (t StationTable) StationAt(lat, lng float64) (models.Station, bool) {
	for _, s := range t.stations {
		if Haversine(lat, lng, s.Lat, s.Lng) <= s.RadiusMeters {
			return s, true
		}
	}
	return models.Station{}, false
}

// DistanceTo is the haversine distance from a point to the named station, or
// +Inf when the name is not in the table.
func (t StationTable) DistanceTo(name string, lat, lng float64) float64 {
	s, ok := t.Lookup(name)
	if !ok {
		return math.Inf(1)
	}
	return Haversine(lat, lng, s.Lat, s.Lng)
}
