package config

import (
	"fmt"
	"os"

	"transtrack-api/models"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type stationsFile struct {
	Stations []models.Station `yaml:"stations" validate:"required,min=1,dive"`
}

// DefaultStations is the built-in table used when no STATIONS_FILE is set.
func DefaultStations() []models.Station {
	return []models.Station{
		{Name: "Alabang Terminal", Lat: 14.4150, Lng: 121.0440, RadiusMeters: 120},
		{Name: "Starmall Alabang", Lat: 14.4215, Lng: 121.0475, RadiusMeters: 100},
		{Name: "Ayala Alabang", Lat: 14.4240, Lng: 121.0290, RadiusMeters: 100},
		{Name: "Sucat", Lat: 14.4600, Lng: 121.0470, RadiusMeters: 120},
	}
}

// LoadStations reads and validates the station table. An empty path yields the
// defaults. Order in the file is preserved because station matching is
// first-match-wins.
func LoadStations(path string) ([]models.Station, error) {
	if path == "" {
		return DefaultStations(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stations file: %w", err)
	}

	var f stationsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse stations file: %w", err)
	}

	v := validator.New()
	if err := v.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid stations file: %w", err)
	}

	seen := make(map[string]bool, len(f.Stations))
	for _, s := range f.Stations {
		if seen[s.Name] {
			return nil, fmt.Errorf("invalid stations file: duplicate station %q", s.Name)
		}
		seen[s.Name] = true
	}

	return f.Stations, nil
}
