package models

import "time"

// DefaultCapacity is the nominal seat-plus-standing capacity of a fleet bus.
const DefaultCapacity = 40

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bus is the raw record supplied by the outside world. State is retained
// between samples by the analytics and is never serialized or persisted.
type Bus struct {
	ID            string    `gorm:"column:bus_id;primaryKey" json:"id"`
	Lat           float64   `gorm:"column:lat" json:"lat"`
	Lng           float64   `gorm:"column:lng" json:"lng"`
	Passengers    int       `gorm:"column:passengers" json:"passengers"`
	Capacity      int       `gorm:"column:capacity;default:40" json:"capacity"`
	TargetStation *string   `gorm:"column:target_station" json:"targetStation"`
	TargetLat     *float64  `gorm:"column:target_lat" json:"targetLat,omitempty"`
	TargetLng     *float64  `gorm:"column:target_lng" json:"targetLng,omitempty"`
	Route         []LatLng  `gorm:"column:route;serializer:json" json:"route"`
	ETASeconds    *float64  `gorm:"column:eta_seconds" json:"etaSeconds"`
	ETAText       *string   `gorm:"column:eta_text" json:"etaText"`
	UpdatedAt     time.Time `gorm:"column:updated_at" json:"updatedAt"`

	State AnalyticState `gorm:"-" json:"-"`
}

func (Bus) TableName() string { return "buses" }

// EffectiveCapacity falls back to DefaultCapacity for records that never had one.
func (b *Bus) EffectiveCapacity() int {
	if b.Capacity <= 0 {
		return DefaultCapacity
	}
	return b.Capacity
}

// ClampPassengers keeps Passengers inside [0, capacity].
func (b *Bus) ClampPassengers() {
	if b.Passengers < 0 {
		b.Passengers = 0
	}
	if c := b.EffectiveCapacity(); b.Passengers > c {
		b.Passengers = c
	}
}

// ClearRoute drops the route polyline and ETA.
func (b *Bus) ClearRoute() {
	b.Route = nil
	b.ETASeconds = nil
	b.ETAText = nil
}

// ClearTarget drops the destination together with any route toward it.
func (b *Bus) ClearTarget() {
	b.TargetStation = nil
	b.TargetLat = nil
	b.TargetLng = nil
	b.ClearRoute()
}

// TargetCoordinates reports the explicit destination coordinates, if any.
func (b *Bus) TargetCoordinates() (lat, lng float64, ok bool) {
	if b.TargetLat == nil || b.TargetLng == nil {
		return 0, 0, false
	}
	return *b.TargetLat, *b.TargetLng, true
}

// Clone returns a deep copy, including retained analytic state.
func (b *Bus) Clone() Bus {
	out := *b
	if b.TargetStation != nil {
		s := *b.TargetStation
		out.TargetStation = &s
	}
	if b.TargetLat != nil {
		v := *b.TargetLat
		out.TargetLat = &v
	}
	if b.TargetLng != nil {
		v := *b.TargetLng
		out.TargetLng = &v
	}
	if b.ETASeconds != nil {
		v := *b.ETASeconds
		out.ETASeconds = &v
	}
	if b.ETAText != nil {
		s := *b.ETAText
		out.ETAText = &s
	}
	if b.Route != nil {
		out.Route = append([]LatLng(nil), b.Route...)
	}
	out.State = b.State.clone()
	return out
}
