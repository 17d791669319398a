package models

type Station struct {
	Name         string  `yaml:"name" json:"name" validate:"required"`
	Lat          float64 `yaml:"lat" json:"lat" validate:"gte=-90,lte=90"`
	Lng          float64 `yaml:"lng" json:"lng" validate:"gte=-180,lte=180"`
	RadiusMeters float64 `yaml:"radius_meters" json:"radiusMeters" validate:"gt=0"`
}

// StationOccupancy counts the buses currently inside a station's radius.
type StationOccupancy struct {
	Station
	BusIDs []string `json:"busIds"`
	Count  int      `json:"count"`
}
