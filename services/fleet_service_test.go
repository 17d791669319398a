package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"transtrack-api/analytics"
	"transtrack-api/config"
	"transtrack-api/enrich"
	"transtrack-api/fleet"
	"transtrack-api/geo"
	"transtrack-api/models"
	"transtrack-api/routing"
)

var testNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

type fakeRouter struct {
	mu    sync.Mutex
	calls int
	route *routing.Route
	err   error
	block bool
}

func (f *fakeRouter) FetchRoute(ctx context.Context, oLat, oLng, dLat, dLng float64) (*routing.Route, error) {
	f.mu.Lock()
	f.calls++
	route, err, block := f.route, f.err, f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return route, err
}

func (f *fakeRouter) set(route *routing.Route, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.route, f.err = route, err
}

type fakeIncidentStore struct {
	mu    sync.Mutex
	saved []models.Incident
}

func (f *fakeIncidentStore) SaveIncident(ctx context.Context, incident models.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, incident)
	return nil
}

func (f *fakeIncidentStore) ListIncidents(ctx context.Context, limit int, before *time.Time) ([]models.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Incident(nil), f.saved...), nil
}

type fakeArchive struct {
	mu      sync.Mutex
	samples []models.Sample
	err     error
}

func (f *fakeArchive) Archive(ctx context.Context, sample models.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.samples = append(f.samples, sample)
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published map[string]int
	sets      int
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = make(map[string]int)
	}
	f.published[channel]++
	return f.err
}

func (f *fakePublisher) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	return f.err
}

func newTestFleetService(t *testing.T, deps FleetDeps) *FleetService {
	t.Helper()
	repo := fleet.NewRepository()
	deps.Repo = repo
	deps.Builder = enrich.NewBuilder(repo, geo.NewStationTable(config.DefaultStations()), analytics.DefaultParams())
	if deps.Hub == nil {
		deps.Hub = NewHub(8)
	}
	deps.Now = func() time.Time { return testNow }
	svc := NewFleetService(deps)
	svc.Seed(SeedFleet())
	t.Cleanup(svc.Shutdown)
	return svc
}

func f64(v float64) *float64 { return &v }
func intp(v int) *int         { return &v }
func str(v string) *string    { return &v }

func validUpdate(passengers int) UpdateRequest {
	return UpdateRequest{Lat: f64(14.4100), Lng: f64(121.0400), Passengers: intp(passengers)}
}

type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func nextEvent(t *testing.T, sub *Subscriber) wireEvent {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		var ev wireEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return wireEvent{}
}

func expectNoEvent(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected event: %s", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestApplyUpdateRejectsMissingFields(t *testing.T) {
	svc := newTestFleetService(t, FleetDeps{})
	sub := svc.Hub().Subscribe()

	tests := []struct {
		name string
		req  UpdateRequest
	}{
		{"missing lat", UpdateRequest{Lng: f64(121.04), Passengers: intp(10)}},
		{"missing lng", UpdateRequest{Lat: f64(14.41), Passengers: intp(10)}},
		{"missing passengers", UpdateRequest{Lat: f64(14.41), Lng: f64(121.04)}},
		{"latitude out of range", UpdateRequest{Lat: f64(91), Lng: f64(121.04), Passengers: intp(10)}},
		{"half a target", UpdateRequest{Lat: f64(14.41), Lng: f64(121.04), Passengers: intp(10), TargetLat: f64(14.42)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ApplyUpdate(context.Background(), "BUS-001", tt.req)
			if !errors.Is(err, ErrInvalidUpdate) {
				t.Fatalf("err = %v, want ErrInvalidUpdate", err)
			}
		})
	}

	expectNoEvent(t, sub)
	bus, _ := svc.repo.Get("BUS-001")
	if bus.Lat != 14.4096 || bus.Passengers != 15 {
		t.Errorf("bus mutated by rejected update: %+v", bus)
	}
	if len(bus.State.History) != 0 {
		t.Errorf("history recorded for rejected update")
	}
}

func TestApplyUpdateUnknownBus(t *testing.T) {
	svc := newTestFleetService(t, FleetDeps{})
	sub := svc.Hub().Subscribe()

	_, err := svc.ApplyUpdate(context.Background(), "BUS-404", validUpdate(10))
	if !errors.Is(err, ErrBusNotFound) {
		t.Fatalf("err = %v, want ErrBusNotFound", err)
	}
	expectNoEvent(t, sub)
}

func TestApplyUpdateClampsAndBroadcasts(t *testing.T) {
	archive := &fakeArchive{}
	pub := &fakePublisher{}
	svc := newTestFleetService(t, FleetDeps{Samples: archive, Publisher: pub})
	sub := svc.Hub().Subscribe()

	bus, err := svc.ApplyUpdate(context.Background(), "BUS-001", validUpdate(55))
	if err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	if bus.Passengers != 40 {
		t.Errorf("Passengers = %d, want 40", bus.Passengers)
	}
	if !bus.UpdatedAt.Equal(testNow) {
		t.Errorf("UpdatedAt = %v, want %v", bus.UpdatedAt, testNow)
	}

	ev := nextEvent(t, sub)
	if ev.Type != EventBusesUpdate {
		t.Fatalf("event type = %q, want %q", ev.Type, EventBusesUpdate)
	}
	var buses []models.EnrichedBus
	if err := json.Unmarshal(ev.Data, &buses); err != nil {
		t.Fatalf("decode buses: %v", err)
	}
	if len(buses) != 2 || buses[0].ID != "BUS-001" || buses[0].Passengers != 40 {
		t.Errorf("unexpected snapshot: %+v", buses)
	}

	if len(archive.samples) != 1 || archive.samples[0].Passengers != 40 {
		t.Errorf("archived samples = %+v", archive.samples)
	}
	if pub.published[ChannelLive] != 1 || pub.sets != 1 {
		t.Errorf("published = %v sets = %d", pub.published, pub.sets)
	}
}

func TestApplyUpdateSurvivesCollaboratorFailures(t *testing.T) {
	archive := &fakeArchive{err: errors.New("db down")}
	pub := &fakePublisher{err: errors.New("redis down")}
	svc := newTestFleetService(t, FleetDeps{Samples: archive, Publisher: pub})

	if _, err := svc.ApplyUpdate(context.Background(), "BUS-001", validUpdate(10)); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
}

func TestApplyUpdateFetchesRoute(t *testing.T) {
	router := &fakeRouter{route: &routing.Route{
		Points:          []models.LatLng{{Lat: 14.41, Lng: 121.04}, {Lat: 14.415, Lng: 121.044}},
		DurationSeconds: 300,
	}}
	svc := newTestFleetService(t, FleetDeps{Router: router})

	req := validUpdate(10)
	req.TargetStation = str("Alabang Terminal")
	bus, err := svc.ApplyUpdate(context.Background(), "BUS-001", req)
	if err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	if bus.TargetStation == nil || *bus.TargetStation != "Alabang Terminal" {
		t.Fatalf("TargetStation = %v", bus.TargetStation)
	}

	svc.Wait()
	got, _ := svc.repo.Get("BUS-001")
	if len(got.Route) != 2 {
		t.Fatalf("Route = %v, want 2 points", got.Route)
	}
	if got.ETASeconds == nil || *got.ETASeconds != 300 {
		t.Errorf("ETASeconds = %v, want 300", got.ETASeconds)
	}
	if got.ETAText == nil || *got.ETAText != "5 min" {
		t.Errorf("ETAText = %v, want 5 min", got.ETAText)
	}
}

func TestApplyUpdateRouteFailureClearsRoute(t *testing.T) {
	router := &fakeRouter{route: &routing.Route{Points: []models.LatLng{{Lat: 1, Lng: 2}}, DurationSeconds: 60}}
	svc := newTestFleetService(t, FleetDeps{Router: router})

	req := validUpdate(10)
	req.TargetStation = str("Sucat")
	if _, err := svc.ApplyUpdate(context.Background(), "BUS-001", req); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	svc.Wait()
	if got, _ := svc.repo.Get("BUS-001"); len(got.Route) == 0 {
		t.Fatal("expected a route after the first lookup")
	}

	router.set(nil, routing.ErrNoRoute)
	sub := svc.Hub().Subscribe()
	if _, err := svc.ApplyUpdate(context.Background(), "BUS-001", validUpdate(12)); err != nil {
		t.Fatalf("update must succeed when routing fails: %v", err)
	}
	svc.Wait()

	got, _ := svc.repo.Get("BUS-001")
	if got.Route != nil || got.ETASeconds != nil || got.ETAText != nil {
		t.Errorf("route not cleared: route=%v eta=%v text=%v", got.Route, got.ETASeconds, got.ETAText)
	}
	if got.TargetStation == nil || *got.TargetStation != "Sucat" {
		t.Errorf("target station lost: %v", got.TargetStation)
	}

	// One broadcast for the update and one after the route was cleared.
	nextEvent(t, sub)
	nextEvent(t, sub)
}

func TestApplyUpdateRouteTimeout(t *testing.T) {
	router := &fakeRouter{block: true}
	svc := newTestFleetService(t, FleetDeps{Router: router, RouteTimeout: 20 * time.Millisecond})

	req := validUpdate(10)
	req.TargetStation = str("Sucat")
	if _, err := svc.ApplyUpdate(context.Background(), "BUS-001", req); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	svc.Wait()

	got, _ := svc.repo.Get("BUS-001")
	if got.Route != nil || got.ETASeconds != nil {
		t.Errorf("route should be empty after timeout: %+v", got.Route)
	}
}

func TestApplyUpdateExplicitTargetCoordinates(t *testing.T) {
	router := &fakeRouter{route: &routing.Route{Points: []models.LatLng{{Lat: 1, Lng: 2}}, DurationSeconds: 90}}
	svc := newTestFleetService(t, FleetDeps{Router: router})

	req := validUpdate(10)
	req.TargetStation = str("Depot")
	if _, err := svc.ApplyUpdate(context.Background(), "BUS-001", req); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	svc.Wait()
	if router.calls != 0 {
		t.Fatalf("unknown station without coordinates should not be routed, calls = %d", router.calls)
	}

	req.TargetLat, req.TargetLng = f64(14.43), f64(121.05)
	if _, err := svc.ApplyUpdate(context.Background(), "BUS-001", req); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	svc.Wait()
	if router.calls != 1 {
		t.Errorf("calls = %d, want 1", router.calls)
	}
}

func TestApplyUpdateClearTarget(t *testing.T) {
	svc := newTestFleetService(t, FleetDeps{})

	req := validUpdate(10)
	req.TargetStation = str("Sucat")
	req.Route = []models.LatLng{{Lat: 1, Lng: 2}}
	if _, err := svc.ApplyUpdate(context.Background(), "BUS-001", req); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	req = validUpdate(10)
	req.TargetStation = str("")
	bus, err := svc.ApplyUpdate(context.Background(), "BUS-001", req)
	if err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	if bus.TargetStation != nil || bus.Route != nil {
		t.Errorf("target not cleared: %v %v", bus.TargetStation, bus.Route)
	}
}

func TestRegister(t *testing.T) {
	svc := newTestFleetService(t, FleetDeps{})

	bus, err := svc.Register(context.Background(), "BUS-003", RegisterRequest{Lat: 14.42, Lng: 121.03, Passengers: 5})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if bus.Capacity != models.DefaultCapacity {
		t.Errorf("Capacity = %d, want default", bus.Capacity)
	}
	if svc.repo.Len() != 3 {
		t.Errorf("fleet size = %d, want 3", svc.repo.Len())
	}

	if _, err := svc.Register(context.Background(), " ", RegisterRequest{}); !errors.Is(err, ErrInvalidUpdate) {
		t.Errorf("empty id err = %v", err)
	}
	if _, err := svc.Register(context.Background(), "BUS-004", RegisterRequest{Lat: 100}); !errors.Is(err, ErrInvalidUpdate) {
		t.Errorf("bad latitude err = %v", err)
	}
}

func TestEnrichedBus(t *testing.T) {
	svc := newTestFleetService(t, FleetDeps{})

	got, err := svc.EnrichedBus("BUS-002")
	if err != nil {
		t.Fatalf("EnrichedBus failed: %v", err)
	}
	if got.ID != "BUS-002" || got.Movement == "" {
		t.Errorf("unexpected bus: %+v", got)
	}
	if _, err := svc.EnrichedBus("BUS-404"); !errors.Is(err, ErrBusNotFound) {
		t.Errorf("err = %v, want ErrBusNotFound", err)
	}
}

func TestReportIncident(t *testing.T) {
	store := &fakeIncidentStore{}
	pub := &fakePublisher{}
	svc := newTestFleetService(t, FleetDeps{Incidents: store, Publisher: pub})
	sub := svc.Hub().Subscribe()

	incident, err := svc.ReportIncident(context.Background(), IncidentRequest{BusID: "BUS-001", Category: "breakdown", Details: "flat tire"})
	if err != nil {
		t.Fatalf("ReportIncident failed: %v", err)
	}
	if incident.ID == "" || !incident.Timestamp.Equal(testNow) {
		t.Errorf("unexpected incident: %+v", incident)
	}

	ev := nextEvent(t, sub)
	if ev.Type != EventIncident {
		t.Errorf("event type = %q, want %q", ev.Type, EventIncident)
	}
	if len(store.saved) != 1 || pub.published[ChannelIncidents] != 1 {
		t.Errorf("saved = %d published = %v", len(store.saved), pub.published)
	}

	list, err := svc.ListIncidents(context.Background(), 10, nil)
	if err != nil || len(list) != 1 {
		t.Errorf("ListIncidents = %v, %v", list, err)
	}

	if _, err := svc.ReportIncident(context.Background(), IncidentRequest{BusID: "BUS-001"}); !errors.Is(err, ErrInvalidUpdate) {
		t.Errorf("missing category err = %v", err)
	}
}

func TestListIncidentsWithoutStore(t *testing.T) {
	svc := newTestFleetService(t, FleetDeps{})
	if _, err := svc.ListIncidents(context.Background(), 10, nil); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestStationOccupancy(t *testing.T) {
	svc := newTestFleetService(t, FleetDeps{})
	occ := svc.StationOccupancy()
	if len(occ) != len(config.DefaultStations()) {
		t.Fatalf("len = %d, want %d", len(occ), len(config.DefaultStations()))
	}
}

// originRouter echoes the lookup origin as the first route point. The first
// call waits on gate when one is set.
type originRouter struct {
	mu       sync.Mutex
	gate     chan struct{}
	calls    int
	inFlight int
	maxSeen  int
}

func (r *originRouter) FetchRoute(ctx context.Context, oLat, oLng, dLat, dLng float64) (*routing.Route, error) {
	r.mu.Lock()
	r.calls++
	r.inFlight++
	if r.inFlight > r.maxSeen {
		r.maxSeen = r.inFlight
	}
	first := r.calls == 1
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()

	if first && r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &routing.Route{
		Points:          []models.LatLng{{Lat: oLat, Lng: oLng}, {Lat: dLat, Lng: dLng}},
		DurationSeconds: 120,
	}, nil
}

func TestRefreshRouteDropsOlderGeneration(t *testing.T) {
	svc := newTestFleetService(t, FleetDeps{})
	req := validUpdate(10)
	req.TargetStation = str("Sucat")
	if _, err := svc.ApplyUpdate(context.Background(), "BUS-001", req); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	svc.router = &originRouter{}

	older := routeJob{gen: svc.nextRouteGen("BUS-001"), target: "Sucat", originLat: 14.40, originLng: 121.04, destLat: 14.46, destLng: 121.047}
	newer := routeJob{gen: svc.nextRouteGen("BUS-001"), target: "Sucat", originLat: 14.41, originLng: 121.04, destLat: 14.46, destLng: 121.047}

	svc.refreshRoute(context.Background(), "BUS-001", newer)
	svc.refreshRoute(context.Background(), "BUS-001", older)

	got, _ := svc.repo.Get("BUS-001")
	if len(got.Route) == 0 || got.Route[0].Lat != 14.41 {
		t.Fatalf("route = %v, want the lookup started from lat 14.41", got.Route)
	}
}

func TestApplyUpdateCoalescesRouteLookups(t *testing.T) {
	router := &originRouter{gate: make(chan struct{})}
	svc := newTestFleetService(t, FleetDeps{Router: router})

	lats := []float64{14.40, 14.41, 14.42, 14.43, 14.44}
	for _, lat := range lats {
		req := validUpdate(10)
		req.Lat = f64(lat)
		req.TargetStation = str("Sucat")
		if _, err := svc.ApplyUpdate(context.Background(), "BUS-001", req); err != nil {
			t.Fatalf("ApplyUpdate failed: %v", err)
		}
	}
	close(router.gate)
	svc.Wait()

	router.mu.Lock()
	calls, maxSeen := router.calls, router.maxSeen
	router.mu.Unlock()
	if maxSeen != 1 {
		t.Errorf("concurrent lookups = %d, want 1", maxSeen)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (the first and the newest parked lookup)", calls)
	}

	got, _ := svc.repo.Get("BUS-001")
	if len(got.Route) == 0 || got.Route[0].Lat != lats[len(lats)-1] {
		t.Fatalf("route = %v, want origin lat %v", got.Route, lats[len(lats)-1])
	}
}

func TestClientRouteSupersedesLookupInFlight(t *testing.T) {
	router := &originRouter{gate: make(chan struct{})}
	svc := newTestFleetService(t, FleetDeps{Router: router})

	req := validUpdate(10)
	req.TargetStation = str("Sucat")
	if _, err := svc.ApplyUpdate(context.Background(), "BUS-001", req); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}

	req = validUpdate(11)
	req.Route = []models.LatLng{{Lat: 1, Lng: 2}}
	if _, err := svc.ApplyUpdate(context.Background(), "BUS-001", req); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	close(router.gate)
	svc.Wait()

	got, _ := svc.repo.Get("BUS-001")
	if len(got.Route) != 1 || got.Route[0].Lat != 1 {
		t.Fatalf("route = %v, want the client-supplied route", got.Route)
	}
}

func lastBuses(t *testing.T, sub *Subscriber) (first wireEvent, buses []models.EnrichedBus) {
	t.Helper()
	var last []byte
	n := 0
drain:
	for {
		select {
		case msg := <-sub.Messages():
			if n == 0 {
				if err := json.Unmarshal(msg, &first); err != nil {
					t.Fatalf("decode event: %v", err)
				}
			}
			n++
			last = msg
		default:
			break drain
		}
	}
	if last == nil {
		t.Fatal("no events received")
	}
	var ev wireEvent
	if err := json.Unmarshal(last, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if err := json.Unmarshal(ev.Data, &buses); err != nil {
		t.Fatalf("decode buses: %v", err)
	}
	return first, buses
}

func TestBroadcastsEndWithLatestState(t *testing.T) {
	svc := newTestFleetService(t, FleetDeps{Hub: NewHub(512)})
	early := svc.Subscribe()
	lateCh := make(chan *Subscriber, 1)

	var wg sync.WaitGroup
	for _, id := range []string{"BUS-001", "BUS-002"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 1; i <= 40; i++ {
				if id == "BUS-002" && i == 20 {
					lateCh <- svc.Subscribe()
				}
				if _, err := svc.ApplyUpdate(context.Background(), id, validUpdate(i)); err != nil {
					t.Errorf("ApplyUpdate(%s) failed: %v", id, err)
					return
				}
			}
		}(id)
	}
	wg.Wait()
	late := <-lateCh

	for name, sub := range map[string]*Subscriber{"early": early, "late": late} {
		first, buses := lastBuses(t, sub)
		if first.Type != EventBusesUpdate {
			t.Errorf("%s: first event = %q, want the snapshot greeting", name, first.Type)
		}
		if len(buses) != 2 {
			t.Fatalf("%s: buses = %d, want 2", name, len(buses))
		}
		for _, b := range buses {
			if b.Passengers != 40 {
				t.Errorf("%s: last snapshot has %s at %d passengers, want 40", name, b.ID, b.Passengers)
			}
		}
	}
}
