// Package routing fetches driving routes from an OSRM server.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"transtrack-api/config"
	"transtrack-api/metrics"
	"transtrack-api/models"

	"github.com/bluele/gcache"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrNoRoute = errors.New("no route")

type Route struct {
	Points          []models.LatLng
	DurationSeconds float64
	DistanceMeters  float64
}

// Router looks up a driving route between two points.
type Router interface {
	FetchRoute(ctx context.Context, originLat, originLng, destLat, destLng float64) (*Route, error)
}

type OSRMClient struct {
	httpClient *http.Client
	baseURL    string
	tracer     trace.Tracer
	cache      gcache.Cache
}

func NewOSRMClient(cfg config.RoutingConfig) *OSRMClient {
	c := &OSRMClient{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tracer:  otel.Tracer("osrm-client"),
	}
	if cfg.CacheSize > 0 {
		builder := gcache.New(cfg.CacheSize).LRU()
		if cfg.CacheTTL > 0 {
			builder = builder.Expiration(cfg.CacheTTL)
		}
		c.cache = builder.Build()
	}
	return c
}

// quantize rounds to 4 decimal places (about 11 m) so that a bus creeping
// along still hits the cache.
func quantize(coord float64) float64 {
	return math.Round(coord*10000) / 10000
}

func cacheKey(originLat, originLng, destLat, destLng float64) string {
	return fmt.Sprintf("%.4f,%.4f,%.6f,%.6f", quantize(originLat), quantize(originLng), destLat, destLng)
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Duration float64 `json:"duration"`
		Distance float64 `json:"distance"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

func (c *OSRMClient) FetchRoute(ctx context.Context, originLat, originLng, destLat, destLng float64) (*Route, error) {
	key := cacheKey(originLat, originLng, destLat, destLng)
	ctx, span := c.tracer.Start(ctx, "osrm.fetch_route",
		trace.WithAttributes(attribute.String("route.key", key)),
	)
	defer span.End()

	if c.cache != nil {
		if cached, err := c.cache.Get(key); err == nil {
			if r, ok := cached.(*Route); ok {
				span.SetAttributes(attribute.Bool("cache.hit", true))
				metrics.RouteLookups.WithLabelValues(metrics.OutcomeCached).Inc()
				return r, nil
			}
		}
	}

	r, err := c.fetch(ctx, originLat, originLng, destLat, destLng)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RouteLookups.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("route.points", len(r.Points)),
		attribute.Float64("route.duration_s", r.DurationSeconds),
	)
	metrics.RouteLookups.WithLabelValues(metrics.OutcomeOK).Inc()

	if c.cache != nil {
		_ = c.cache.Set(key, r)
	}
	return r, nil
}

func (c *OSRMClient) fetch(ctx context.Context, originLat, originLng, destLat, destLng float64) (*Route, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=full&geometries=geojson",
		c.baseURL, originLng, originLat, destLng, destLat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("osrm status %d: %s", resp.StatusCode, string(body))
	}

	var obj osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return nil, fmt.Errorf("failed to decode osrm response: %w", err)
	}
	if len(obj.Routes) == 0 {
		return nil, ErrNoRoute
	}

	first := obj.Routes[0]
	points := make([]models.LatLng, 0, len(first.Geometry.Coordinates))
	for _, coord := range first.Geometry.Coordinates {
		if len(coord) < 2 {
			continue
		}
		// GeoJSON order is [lng, lat].
		points = append(points, models.LatLng{Lat: coord[1], Lng: coord[0]})
	}
	if len(points) == 0 {
		return nil, ErrNoRoute
	}

	return &Route{
		Points:          points,
		DurationSeconds: first.Duration,
		DistanceMeters:  first.Distance,
	}, nil
}

// FormatETA renders a duration as whole minutes, never less than one.
func FormatETA(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	minutes := int(math.Max(1, math.Round(d.Minutes())))
	return fmt.Sprintf("%d min", minutes)
}
