package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"transtrack-api/analytics"
	"transtrack-api/enrich"
	"transtrack-api/fleet"
	"transtrack-api/metrics"
	"transtrack-api/models"
	"transtrack-api/routing"
	"transtrack-api/tracing"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrBusNotFound      = errors.New("bus not found")
	ErrInvalidUpdate    = errors.New("invalid update")
	ErrStoreUnavailable = errors.New("store not configured")

	errStaleRoute = errors.New("target changed during route lookup")
)

const (
	DefaultRouteTimeout = 8 * time.Second
	snapshotTTL         = time.Minute
)

// UpdateRequest is one telemetry sample. Lat, Lng and Passengers are
// required. An empty TargetStation clears the destination; a nil one keeps it.
type UpdateRequest struct {
	Lat           *float64        `json:"lat" validate:"required,latitude"`
	Lng           *float64        `json:"lng" validate:"required,longitude"`
	Passengers    *int            `json:"passengers" validate:"required"`
	TargetStation *string         `json:"targetStation"`
	TargetLat     *float64        `json:"targetLat" validate:"omitempty,latitude"`
	TargetLng     *float64        `json:"targetLng" validate:"omitempty,longitude"`
	Route         []models.LatLng `json:"route"`
}

type RegisterRequest struct {
	Lat        float64 `json:"lat" validate:"latitude"`
	Lng        float64 `json:"lng" validate:"longitude"`
	Passengers int     `json:"passengers" validate:"gte=0"`
	Capacity   int     `json:"capacity" validate:"gte=0"`
}

type IncidentRequest struct {
	BusID    string   `json:"busId" validate:"required"`
	Category string   `json:"category" validate:"required"`
	Details  string   `json:"details"`
	Lat      *float64 `json:"lat" validate:"omitempty,latitude"`
	Lng      *float64 `json:"lng" validate:"omitempty,longitude"`
}

type BusStore interface {
	SaveBus(ctx context.Context, bus models.Bus) error
}

type IncidentStore interface {
	SaveIncident(ctx context.Context, incident models.Incident) error
	ListIncidents(ctx context.Context, limit int, before *time.Time) ([]models.Incident, error)
}

type SampleArchive interface {
	Archive(ctx context.Context, sample models.Sample) error
}

// Publisher mirrors events to an external channel such as Redis.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// FleetDeps wires the fleet service. Router, Publisher and the stores are
// optional.
type FleetDeps struct {
	Repo         *fleet.Repository
	Builder      *enrich.Builder
	Hub          *Hub
	Router       routing.Router
	RouteTimeout time.Duration
	Publisher    Publisher
	Buses        BusStore
	Incidents    IncidentStore
	Samples      SampleArchive
	Now          func() time.Time
}

type FleetService struct {
	repo         *fleet.Repository
	builder      *enrich.Builder
	hub          *Hub
	router       routing.Router
	routeTimeout time.Duration
	publisher    Publisher
	buses        BusStore
	incidents    IncidentStore
	samples      SampleArchive
	now          func() time.Time
	validate     *validator.Validate
	tracer       trace.Tracer

	// routes tracks route lookup goroutines; at most one runs per bus.
	routes     sync.WaitGroup
	routeMu    sync.Mutex
	routeSlots map[string]*routeSlot
	baseCtx    context.Context
	cancelFn   context.CancelFunc

	// broadcastMu keeps snapshot build and delivery in one step so that
	// subscribers never receive an older snapshot after a newer one.
	broadcastMu sync.Mutex
}

func NewFleetService(deps FleetDeps) *FleetService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &FleetService{
		repo:         deps.Repo,
		builder:      deps.Builder,
		hub:          deps.Hub,
		router:       deps.Router,
		routeTimeout: deps.RouteTimeout,
		publisher:    deps.Publisher,
		buses:        deps.Buses,
		incidents:    deps.Incidents,
		samples:      deps.Samples,
		now:          deps.Now,
		validate:     validator.New(),
		tracer:       tracing.Tracer(),
		routeSlots:   make(map[string]*routeSlot),
		baseCtx:      ctx,
		cancelFn:     cancel,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.routeTimeout <= 0 {
		s.routeTimeout = DefaultRouteTimeout
	}
	if s.hub == nil {
		s.hub = NewHub(0)
	}
	return s
}

// SeedFleet is the starting fleet when no store is configured.
func SeedFleet() []models.Bus {
	return []models.Bus{
		{ID: "BUS-001", Lat: 14.4096, Lng: 121.039, Passengers: 15, Capacity: models.DefaultCapacity},
		{ID: "BUS-002", Lat: 14.415655, Lng: 121.046180, Passengers: 20, Capacity: models.DefaultCapacity},
	}
}

// Seed registers buses without persisting or broadcasting them.
func (s *FleetService) Seed(buses []models.Bus) {
	for _, b := range buses {
		s.repo.Upsert(b)
	}
}

func (s *FleetService) Hub() *Hub { return s.hub }

func (s *FleetService) validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", strings.ToLower(fe.Field()[:1])+fe.Field()[1:], fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidUpdate, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
}

type routeJob struct {
	gen              uint64
	target           string
	originLat        float64
	originLng        float64
	destLat, destLng float64
}

// routeSlot tracks route generations for one bus. Every lookup and every
// client-supplied route takes a new generation; a lookup result is applied
// only when its generation is newer than the route already on the bus.
type routeSlot struct {
	issued  uint64
	applied uint64
	running bool
	pending *routeJob
}

func (s *FleetService) slotLocked(busID string) *routeSlot {
	slot, ok := s.routeSlots[busID]
	if !ok {
		slot = &routeSlot{}
		s.routeSlots[busID] = slot
	}
	return slot
}

// nextRouteGen hands out the generation for a new lookup.
func (s *FleetService) nextRouteGen(busID string) uint64 {
	s.routeMu.Lock()
	defer s.routeMu.Unlock()
	slot := s.slotLocked(busID)
	slot.issued++
	return slot.issued
}

// pinRoute marks the bus's current route as final with respect to every
// lookup started so far.
func (s *FleetService) pinRoute(busID string) {
	s.routeMu.Lock()
	defer s.routeMu.Unlock()
	slot := s.slotLocked(busID)
	slot.issued++
	slot.applied = slot.issued
}

// acceptRoute reports whether a lookup of generation gen may replace the
// bus's route, and records it as applied if so.
func (s *FleetService) acceptRoute(busID string, gen uint64) bool {
	s.routeMu.Lock()
	defer s.routeMu.Unlock()
	slot := s.slotLocked(busID)
	if gen <= slot.applied {
		return false
	}
	slot.applied = gen
	return true
}

// ApplyUpdate validates and applies one telemetry sample, then broadcasts a
// fresh snapshot. A route lookup, when needed, runs in the background and
// never fails the update.
func (s *FleetService) ApplyUpdate(ctx context.Context, busID string, req UpdateRequest) (models.Bus, error) {
	ctx, span := s.tracer.Start(ctx, "fleet.apply_update",
		trace.WithAttributes(attribute.String("bus.id", busID)),
	)
	defer span.End()

	if err := s.validate.Struct(req); err != nil {
		metrics.UpdatesRejected.WithLabelValues("invalid").Inc()
		span.RecordError(err)
		return models.Bus{}, s.validationError(err)
	}
	if (req.TargetLat == nil) != (req.TargetLng == nil) {
		metrics.UpdatesRejected.WithLabelValues("invalid").Inc()
		return models.Bus{}, fmt.Errorf("%w: targetLat and targetLng go together", ErrInvalidUpdate)
	}

	now := s.now()
	var job *routeJob
	updated, err := s.repo.Update(busID, func(b *models.Bus) error {
		b.Lat, b.Lng, b.Passengers = *req.Lat, *req.Lng, *req.Passengers
		b.ClampPassengers()
		b.UpdatedAt = now

		retarget := false
		if req.TargetStation != nil {
			if *req.TargetStation == "" {
				b.ClearTarget()
				retarget = true
			} else if b.TargetStation == nil || *b.TargetStation != *req.TargetStation {
				target := *req.TargetStation
				b.ClearTarget()
				b.TargetStation = &target
				retarget = true
			}
		}
		if req.TargetLat != nil && b.TargetStation != nil {
			if lat, lng, ok := b.TargetCoordinates(); !ok || lat != *req.TargetLat || lng != *req.TargetLng {
				tLat, tLng := *req.TargetLat, *req.TargetLng
				b.TargetLat, b.TargetLng = &tLat, &tLng
				b.ClearRoute()
				retarget = true
			}
		}

		switch {
		case len(req.Route) > 0:
			b.Route = append([]models.LatLng(nil), req.Route...)
			s.pinRoute(busID)
		case b.TargetStation != nil:
			if retarget {
				s.pinRoute(busID)
			}
			job = s.routeJobFor(b)
		case retarget:
			s.pinRoute(busID)
		}

		analytics.RecordSample(b, now)
		return nil
	})
	if err != nil {
		if errors.Is(err, fleet.ErrNotFound) {
			metrics.UpdatesRejected.WithLabelValues("not_found").Inc()
			return models.Bus{}, fmt.Errorf("%w: %s", ErrBusNotFound, busID)
		}
		return models.Bus{}, err
	}
	metrics.UpdatesAccepted.Inc()

	s.archive(ctx, updated)
	s.persist(ctx, updated)
	s.BroadcastSnapshot(ctx)

	if job != nil && s.router != nil {
		s.enqueueRoute(busID, *job)
	}
	return updated, nil
}

// routeJobFor resolves the destination coordinates: explicit target
// coordinates win, otherwise the station table. Must be called with the bus
// locked.
func (s *FleetService) routeJobFor(b *models.Bus) *routeJob {
	job := &routeJob{target: *b.TargetStation, originLat: b.Lat, originLng: b.Lng}
	if lat, lng, ok := b.TargetCoordinates(); ok {
		job.destLat, job.destLng = lat, lng
	} else if st, ok := s.builder.Stations().Lookup(job.target); ok {
		job.destLat, job.destLng = st.Lat, st.Lng
	} else {
		metrics.RouteLookups.WithLabelValues(metrics.OutcomeNoTarget).Inc()
		return nil
	}
	job.gen = s.nextRouteGen(b.ID)
	return job
}

// enqueueRoute runs the lookup now, or parks it behind the one in flight for
// this bus. Only the newest parked lookup is kept.
func (s *FleetService) enqueueRoute(busID string, job routeJob) {
	s.routeMu.Lock()
	defer s.routeMu.Unlock()
	slot := s.slotLocked(busID)
	if slot.running {
		if slot.pending == nil || job.gen > slot.pending.gen {
			slot.pending = &job
		}
		return
	}
	slot.running = true
	s.routes.Add(1)
	go s.runRoutes(busID, job)
}

func (s *FleetService) runRoutes(busID string, job routeJob) {
	defer s.routes.Done()
	for {
		ctx, cancel := context.WithTimeout(s.baseCtx, s.routeTimeout)
		s.refreshRoute(ctx, busID, job)
		cancel()

		s.routeMu.Lock()
		slot := s.slotLocked(busID)
		next := slot.pending
		slot.pending = nil
		if next == nil || s.baseCtx.Err() != nil {
			slot.running = false
			s.routeMu.Unlock()
			return
		}
		s.routeMu.Unlock()
		job = *next
	}
}

func (s *FleetService) refreshRoute(ctx context.Context, busID string, job routeJob) {
	route, err := s.router.FetchRoute(ctx, job.originLat, job.originLng, job.destLat, job.destLng)
	if err != nil {
		slog.Warn("route lookup failed, clearing route", "bus_id", busID, "target", job.target, "error", err)
	}

	updated, uerr := s.repo.Update(busID, func(b *models.Bus) error {
		if b.TargetStation == nil || *b.TargetStation != job.target {
			return errStaleRoute
		}
		if !s.acceptRoute(busID, job.gen) {
			return errStaleRoute
		}
		if err != nil || route == nil {
			b.ClearRoute()
			return nil
		}
		eta := route.DurationSeconds
		text := routing.FormatETA(eta)
		b.Route = append([]models.LatLng(nil), route.Points...)
		b.ETASeconds = &eta
		b.ETAText = &text
		return nil
	})
	if uerr != nil {
		if !errors.Is(uerr, errStaleRoute) {
			slog.Warn("route result not applied", "bus_id", busID, "error", uerr)
		}
		return
	}

	s.persist(context.Background(), updated)
	s.BroadcastSnapshot(context.Background())
}

// Wait blocks until in-flight route lookups finish.
func (s *FleetService) Wait() {
	s.routes.Wait()
}

// Shutdown cancels in-flight route lookups and waits for them.
func (s *FleetService) Shutdown() {
	s.cancelFn()
	s.routes.Wait()
}

// Register creates a bus or replaces its raw fields.
func (s *FleetService) Register(ctx context.Context, busID string, req RegisterRequest) (models.Bus, error) {
	if strings.TrimSpace(busID) == "" {
		return models.Bus{}, fmt.Errorf("%w: empty bus id", ErrInvalidUpdate)
	}
	if err := s.validate.Struct(req); err != nil {
		return models.Bus{}, s.validationError(err)
	}

	bus := models.Bus{
		ID:         busID,
		Lat:        req.Lat,
		Lng:        req.Lng,
		Passengers: req.Passengers,
		Capacity:   req.Capacity,
		UpdatedAt:  s.now(),
	}
	if existing, ok := s.repo.Get(busID); ok {
		bus.TargetStation = existing.TargetStation
		bus.TargetLat, bus.TargetLng = existing.TargetLat, existing.TargetLng
		bus.Route = existing.Route
		bus.ETASeconds = existing.ETASeconds
		bus.ETAText = existing.ETAText
		if bus.Capacity == 0 {
			bus.Capacity = existing.Capacity
		}
	}
	if bus.Capacity == 0 {
		bus.Capacity = models.DefaultCapacity
	}

	stored := s.repo.Upsert(bus)
	s.persist(ctx, stored)
	s.BroadcastSnapshot(ctx)
	return stored, nil
}

func (s *FleetService) Snapshot() models.Snapshot {
	return s.builder.Build(s.now())
}

func (s *FleetService) EnrichedBus(busID string) (models.EnrichedBus, error) {
	for _, b := range s.Snapshot().Buses {
		if b.ID == busID {
			return b, nil
		}
	}
	return models.EnrichedBus{}, fmt.Errorf("%w: %s", ErrBusNotFound, busID)
}

func (s *FleetService) StationOccupancy() []models.StationOccupancy {
	return enrich.Occupancy(s.Snapshot(), s.builder.Stations())
}

// BroadcastSnapshot rebuilds the snapshot and pushes it to every subscriber
// and, when configured, to Redis. Failures are logged only.
func (s *FleetService) BroadcastSnapshot(ctx context.Context) {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	snap := s.Snapshot()
	s.hub.Broadcast(Event{Type: EventBusesUpdate, Data: snap.Buses})

	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ChannelLive, Event{Type: EventBusesUpdate, Data: snap.Buses}); err != nil {
		slog.Warn("redis publish failed", "channel", ChannelLive, "error", err)
	}
	if err := s.publisher.Set(ctx, KeyLatestSnapshot, snap, snapshotTTL); err != nil {
		slog.Warn("redis snapshot store failed", "error", err)
	}
}

// Subscribe registers a live subscriber whose first message is the current
// snapshot. No broadcast can slip in between the two.
func (s *FleetService) Subscribe() *Subscriber {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()

	sub := s.hub.Subscribe()
	s.hub.Send(sub, Event{Type: EventBusesUpdate, Data: s.Snapshot().Buses})
	return sub
}

// ReportIncident records an incident and broadcasts it unchanged.
func (s *FleetService) ReportIncident(ctx context.Context, req IncidentRequest) (models.Incident, error) {
	if err := s.validate.Struct(req); err != nil {
		return models.Incident{}, s.validationError(err)
	}

	incident := models.Incident{
		ID:        uuid.NewString(),
		BusID:     req.BusID,
		Category:  req.Category,
		Details:   req.Details,
		Lat:       req.Lat,
		Lng:       req.Lng,
		Timestamp: s.now().UTC(),
	}

	if s.incidents != nil {
		if err := s.incidents.SaveIncident(ctx, incident); err != nil {
			metrics.StoreFailures.WithLabelValues("incident").Inc()
			slog.Error("failed to store incident", "incident_id", incident.ID, "error", err)
		}
	}

	s.hub.Broadcast(Event{Type: EventIncident, Data: incident})
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, ChannelIncidents, incident); err != nil {
			slog.Warn("redis publish failed", "channel", ChannelIncidents, "error", err)
		}
	}
	return incident, nil
}

func (s *FleetService) ListIncidents(ctx context.Context, limit int, before *time.Time) ([]models.Incident, error) {
	if s.incidents == nil {
		return nil, ErrStoreUnavailable
	}
	return s.incidents.ListIncidents(ctx, limit, before)
}

func (s *FleetService) archive(ctx context.Context, b models.Bus) {
	if s.samples == nil {
		return
	}
	sample := models.Sample{TS: b.UpdatedAt, BusID: b.ID, Lat: b.Lat, Lng: b.Lng, Passengers: b.Passengers}
	if err := s.samples.Archive(ctx, sample); err != nil {
		metrics.StoreFailures.WithLabelValues("sample").Inc()
		slog.Error("failed to archive sample", "bus_id", b.ID, "error", err)
		return
	}
	metrics.SamplesArchived.Inc()
}

func (s *FleetService) persist(ctx context.Context, b models.Bus) {
	if s.buses == nil {
		return
	}
	if err := s.buses.SaveBus(ctx, b); err != nil {
		metrics.StoreFailures.WithLabelValues("bus").Inc()
		slog.Error("failed to persist bus", "bus_id", b.ID, "error", err)
	}
}
