package store

import (
	"context"
	"fmt"

	"transtrack-api/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const insertSample = `
	INSERT INTO bus_samples (ts, bus_id, lat, lng, passengers)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (ts, bus_id) DO NOTHING
`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SampleArchive appends accepted telemetry to the bus_samples table.
// Duplicate (ts, bus_id) pairs are ignored.
type SampleArchive struct {
	db   execer
	pool *pgxpool.Pool
}

func NewSampleArchive(ctx context.Context, dsn string) (*SampleArchive, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db pool init failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping failed: %w", err)
	}
	return &SampleArchive{db: pool, pool: pool}, nil
}

func (a *SampleArchive) Archive(ctx context.Context, s models.Sample) error {
	if s.BusID == "" {
		return fmt.Errorf("sample without bus id")
	}
	if _, err := a.db.Exec(ctx, insertSample, s.TS.UTC(), s.BusID, s.Lat, s.Lng, s.Passengers); err != nil {
		return fmt.Errorf("db insert failed: %w", err)
	}
	return nil
}

func (a *SampleArchive) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
