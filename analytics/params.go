// Package analytics implements the per-bus signals derived from telemetry:
// movement, crowd trend, forecasts, anomalies, delay reasons, driver safety
// and the cross-bus headway pass.
//
// Functions that keep rolling state mutate bus.State in place; callers must
// hold the bus's lock.
package analytics

import (
	"log/slog"
	"time"

	"transtrack-api/config"
	"transtrack-api/models"
)

// Box is an inclusive lat/lng bounding box.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

func (b Box) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

type Params struct {
	// Capacity applies to buses without their own capacity.
	Capacity        int
	MetersPerDegree float64
	Location        *time.Location
	Terminal        Box
}

// manilaTime is UTC+8 with no DST, used when tzdata is unavailable.
var manilaTime = time.FixedZone("PHT", 8*60*60)

func DefaultParams() Params {
	return Params{
		Capacity:        models.DefaultCapacity,
		MetersPerDegree: 111000,
		Location:        manilaTime,
		Terminal: Box{
			MinLat: 14.410, MaxLat: 14.420,
			MinLng: 121.035, MaxLng: 121.048,
		},
	}
}

// ParamsFromConfig resolves the configured timezone, falling back to a fixed
// UTC+8 zone when the zone database cannot be loaded.
func ParamsFromConfig(cfg config.AnalyticsConfig) Params {
	p := DefaultParams()
	if cfg.Capacity > 0 {
		p.Capacity = cfg.Capacity
	}
	if cfg.MetersPerDegree > 0 {
		p.MetersPerDegree = cfg.MetersPerDegree
	}
	p.Terminal = Box{
		MinLat: cfg.TerminalMinLat, MaxLat: cfg.TerminalMaxLat,
		MinLng: cfg.TerminalMinLng, MaxLng: cfg.TerminalMaxLng,
	}
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			slog.Warn("unknown analytics timezone, using UTC+8", "timezone", cfg.Timezone, "error", err)
		} else {
			p.Location = loc
		}
	}
	return p
}

func (p Params) capacityOf(b *models.Bus) int {
	if b.Capacity > 0 {
		return b.Capacity
	}
	if p.Capacity > 0 {
		return p.Capacity
	}
	return models.DefaultCapacity
}

func (p Params) localHour(now time.Time) int {
	loc := p.Location
	if loc == nil {
		loc = manilaTime
	}
	return now.In(loc).Hour()
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
