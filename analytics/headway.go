package analytics

import (
	"fmt"
	"math"
	"sort"

	"transtrack-api/geo"
	"transtrack-api/models"
)

// HeadwaySpeedMPS is the assumed cruising speed (36 km/h) used to turn a
// headway distance into a time.
const HeadwaySpeedMPS = 10.0

// UnknownDestination groups buses without a target station.
const UnknownDestination = "UNKNOWN"

const noHeadwayText = "—"

// ComputeHeadways fills the headway fields of every bus in place. Within each
// destination group buses are ordered by remaining distance; each follower
// gets the gap to the bus directly ahead. Explicit target coordinates take
// precedence over the station table. Buses with neither have no measurable
// distance and get no headway.
func ComputeHeadways(buses []models.EnrichedBus, stations geo.StationTable) {
	type ranked struct {
		idx  int
		dist float64
	}

	groups := make(map[string][]ranked)
	for i := range buses {
		b := &buses[i]
		b.Headway = models.Headway{Text: noHeadwayText}

		dest := UnknownDestination
		if b.TargetStation != nil && *b.TargetStation != "" {
			dest = *b.TargetStation
		}
		dist := math.Inf(1)
		switch {
		case dest == UnknownDestination:
		case b.TargetLat != nil && b.TargetLng != nil:
			dist = geo.Haversine(b.Lat, b.Lng, *b.TargetLat, *b.TargetLng)
		default:
			dist = stations.DistanceTo(dest, b.Lat, b.Lng)
		}
		groups[dest] = append(groups[dest], ranked{idx: i, dist: dist})
	}

	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].dist != group[j].dist {
				return group[i].dist < group[j].dist
			}
			return buses[group[i].idx].ID < buses[group[j].idx].ID
		})

		for k := 1; k < len(group); k++ {
			cur, ahead := group[k], group[k-1]
			if math.IsInf(cur.dist, 0) || math.IsInf(ahead.dist, 0) {
				continue
			}
			meters := math.Max(0, cur.dist-ahead.dist)
			seconds := meters / HeadwaySpeedMPS
			aheadID := buses[ahead.idx].ID
			buses[cur.idx].Headway = models.Headway{
				Meters:  &meters,
				AheadID: &aheadID,
				Seconds: &seconds,
				Text:    FormatHeadway(meters, seconds),
			}
		}
	}
}

// FormatHeadway renders "X.XX km · Y min"; one decimal from 1 km upwards.
func FormatHeadway(meters, seconds float64) string {
	km := meters / 1000
	kmText := fmt.Sprintf("%.2f", km)
	if meters >= 1000 {
		kmText = fmt.Sprintf("%.1f", km)
	}
	minutes := int(math.Max(1, math.Round(seconds/60)))
	return fmt.Sprintf("%s km · %d min", kmText, minutes)
}
