package models

import "time"

type Incident struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	BusID     string    `gorm:"column:bus_id;index" json:"busId"`
	Category  string    `gorm:"column:category" json:"category"`
	Details   string    `gorm:"column:details" json:"details"`
	Lat       *float64  `gorm:"column:lat" json:"lat"`
	Lng       *float64  `gorm:"column:lng" json:"lng"`
	Timestamp time.Time `gorm:"column:ts;index" json:"timestamp"`
}

func (Incident) TableName() string { return "incidents" }

// Sample is one accepted telemetry update, archived append-only.
type Sample struct {
	TS         time.Time `json:"ts"`
	BusID      string    `json:"bus_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Passengers int       `json:"passengers"`
}
