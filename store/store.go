// Package store persists the raw fleet records and incidents through gorm
// and archives accepted telemetry samples through pgx.
package store

import (
	"context"
	"fmt"
	"time"

	"transtrack-api/config"
	"transtrack-api/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Store struct {
	db *gorm.DB
}

// Open connects and pings the database. The buses and incidents tables are
// expected to exist.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db handle: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(db), nil
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) LoadBuses(ctx context.Context) ([]models.Bus, error) {
	var buses []models.Bus
	if err := s.db.WithContext(ctx).Order("bus_id").Find(&buses).Error; err != nil {
		return nil, fmt.Errorf("load buses: %w", err)
	}
	return buses, nil
}

// SaveBus writes the raw fields of a bus, inserting it if needed.
func (s *Store) SaveBus(ctx context.Context, bus models.Bus) error {
	if err := s.db.WithContext(ctx).Save(&bus).Error; err != nil {
		return fmt.Errorf("save bus %s: %w", bus.ID, err)
	}
	return nil
}

func (s *Store) SaveIncident(ctx context.Context, incident models.Incident) error {
	if err := s.db.WithContext(ctx).Create(&incident).Error; err != nil {
		return fmt.Errorf("save incident: %w", err)
	}
	return nil
}

// ListIncidents returns up to limit incidents, newest first, strictly older
// than before when it is set.
func (s *Store) ListIncidents(ctx context.Context, limit int, before *time.Time) ([]models.Incident, error) {
	var rows []models.Incident
	if err := incidentQuery(s.db.WithContext(ctx), limit, before).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return rows, nil
}

func incidentQuery(db *gorm.DB, limit int, before *time.Time) *gorm.DB {
	query := db.Model(&models.Incident{}).Order("ts DESC").Limit(limit)
	if before != nil {
		query = query.Where("ts < ?", *before)
	}
	return query
}
