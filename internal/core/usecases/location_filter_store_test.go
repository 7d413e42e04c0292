package usecases_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/samirrijal/souq/internal/core/domain"
	"github.com/samirrijal/souq/internal/core/ports"
	"github.com/samirrijal/souq/internal/core/usecases"
	"github.com/samirrijal/souq/internal/pkg/geospatial"
)

// --- Mock KeyValueStore ---

type mockKV struct {
	mu       sync.Mutex
	data     map[string][]byte
	gets     int
	getFn    func(ctx context.Context, key string) ([]byte, error)
	setFn    func(ctx context.Context, key string, value []byte) error
	removeFn func(ctx context.Context, key string) error
}

func newMockKV() *mockKV {
	return &mockKV{data: make(map[string][]byte)}
}

func (m *mockKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	m.gets++
	m.mu.Unlock()
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ports.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockKV) Set(ctx context.Context, key string, value []byte) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockKV) Remove(ctx context.Context, key string) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mockKV) value(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.FilterChangedEvent
}

func (m *mockPublisher) PublishFilterChanged(ctx context.Context, e *domain.FilterChangedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

func loadedStore(t *testing.T, kv ports.KeyValueStore, opts ...usecases.StoreOption) *usecases.LocationFilterStore {
	t.Helper()
	s := usecases.NewLocationFilterStore(kv, opts...)
	s.Load(context.Background())
	return s
}

// --- Tests ---

func TestLocationFilterStore_DefaultBeforeLoad(t *testing.T) {
	s := usecases.NewLocationFilterStore(newMockKV())

	if !s.IsLoading() {
		t.Error("expected store to be loading before Load")
	}
	if s.HasCustomLocation() {
		t.Error("expected no custom location")
	}
	if got := s.Get(); got != domain.DefaultLocationFilter() {
		t.Errorf("expected default filter, got %+v", got)
	}
}

func TestLocationFilterStore_LoadAbsent(t *testing.T) {
	s := loadedStore(t, newMockKV())

	if s.IsLoading() {
		t.Error("expected loading to finish")
	}
	if s.HasCustomLocation() {
		t.Error("expected no custom location")
	}
	want := domain.LocationFilter{
		Name:        "Damascus",
		Coordinates: domain.Coordinates{Latitude: 33.5138, Longitude: 36.2765},
		RadiusKm:    25,
	}
	if got := s.Get(); got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestLocationFilterStore_LoadValid(t *testing.T) {
	kv := newMockKV()
	kv.data[usecases.DefaultFilterKey] = []byte(`{"name":"Homs","coordinates":{"latitude":34.7324,"longitude":36.7137},"radiusKm":15}`)

	s := loadedStore(t, kv)

	if !s.HasCustomLocation() {
		t.Error("expected custom location after restore")
	}
	got := s.Get()
	if got.Name != "Homs" || got.RadiusKm != 15 || got.Coordinates.Latitude != 34.7324 {
		t.Errorf("unexpected restored filter %+v", got)
	}
}

func TestLocationFilterStore_LoadMalformed(t *testing.T) {
	records := map[string]string{
		"missing coordinates": `{"name":"X"}`,
		"missing radius":      `{"name":"X","coordinates":{"latitude":1,"longitude":2}}`,
		"missing longitude":   `{"name":"X","coordinates":{"latitude":1},"radiusKm":5}`,
		"extra field":         `{"name":"X","coordinates":{"latitude":1,"longitude":2},"radiusKm":5,"zoom":3}`,
		"extra nested field":  `{"name":"X","coordinates":{"latitude":1,"longitude":2,"alt":9},"radiusKm":5}`,
		"mistyped radius":     `{"name":"X","coordinates":{"latitude":1,"longitude":2},"radiusKm":"5"}`,
		"zero radius":         `{"name":"X","coordinates":{"latitude":1,"longitude":2},"radiusKm":0}`,
		"negative radius":     `{"name":"X","coordinates":{"latitude":1,"longitude":2},"radiusKm":-3}`,
		"empty name":          `{"name":"  ","coordinates":{"latitude":1,"longitude":2},"radiusKm":5}`,
		"null name":           `{"name":null,"coordinates":{"latitude":1,"longitude":2},"radiusKm":5}`,
		"latitude range":      `{"name":"X","coordinates":{"latitude":200,"longitude":2},"radiusKm":5}`,
		"not json":            `Damascus`,
		"array":               `[1,2,3]`,
		"trailing data":       `{"name":"X","coordinates":{"latitude":1,"longitude":2},"radiusKm":5}{}`,
	}

	for name, record := range records {
		t.Run(name, func(t *testing.T) {
			kv := newMockKV()
			kv.data[usecases.DefaultFilterKey] = []byte(record)

			s := loadedStore(t, kv)

			if s.HasCustomLocation() {
				t.Error("malformed record must not count as a custom location")
			}
			if s.IsLoading() {
				t.Error("expected loading to finish")
			}
			if got := s.Get(); got != domain.DefaultLocationFilter() {
				t.Errorf("expected default filter, got %+v", got)
			}
		})
	}
}

func TestLocationFilterStore_LoadReadError(t *testing.T) {
	kv := newMockKV()
	kv.getFn = func(ctx context.Context, key string) ([]byte, error) {
		return nil, errors.New("connection refused")
	}

	s := loadedStore(t, kv)

	if s.IsLoading() || s.HasCustomLocation() {
		t.Error("read failure must finish loading with the default")
	}
}

func TestLocationFilterStore_LoadRunsOnce(t *testing.T) {
	kv := newMockKV()
	s := usecases.NewLocationFilterStore(kv)
	s.Load(context.Background())
	s.Load(context.Background())

	if kv.gets != 1 {
		t.Errorf("expected 1 read, got %d", kv.gets)
	}
}

func TestLocationFilterStore_UpdateRoundTrip(t *testing.T) {
	kv := newMockKV()
	s := loadedStore(t, kv)

	coords := domain.Coordinates{Latitude: 36.2021, Longitude: 37.1343}
	if err := s.Update("حلب", coords, 12.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := domain.LocationFilter{Name: "حلب", Coordinates: coords, RadiusKm: 12.5}
	if got := s.Get(); got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
	if !s.HasCustomLocation() {
		t.Error("expected custom location after update")
	}

	s.Wait()
	data, ok := kv.value(usecases.DefaultFilterKey)
	if !ok {
		t.Fatal("expected filter to be persisted")
	}
	var persisted domain.LocationFilter
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatalf("persisted record is not JSON: %v", err)
	}
	if persisted != want {
		t.Errorf("expected persisted %+v, got %+v", want, persisted)
	}

	// a fresh store restores what was written
	restored := loadedStore(t, kv)
	if restored.Get() != want || !restored.HasCustomLocation() {
		t.Errorf("expected restored %+v, got %+v", want, restored.Get())
	}
}

func TestLocationFilterStore_UpdateKeepsNameAsGiven(t *testing.T) {
	kv := newMockKV()
	s := loadedStore(t, kv)

	coords := domain.Coordinates{Latitude: 36.2021, Longitude: 37.1343}
	if err := s.Update("  Aleppo ", coords, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := domain.LocationFilter{Name: "  Aleppo ", Coordinates: coords, RadiusKm: 10}
	if got := s.Get(); got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	s.Wait()
	restored := loadedStore(t, kv)
	if got := restored.Get(); got != want {
		t.Errorf("expected restored %+v, got %+v", want, got)
	}
}

func TestLocationFilterStore_BlankNameNeverPersisted(t *testing.T) {
	for _, name := range []string{"", "   ", "\t\n"} {
		kv := newMockKV()
		s := loadedStore(t, kv)

		err := s.Update(name, domain.Coordinates{Latitude: 34, Longitude: 38}, 10)
		if !errors.Is(err, domain.ErrInvalidFilter) {
			t.Errorf("name %q: expected ErrInvalidFilter, got %v", name, err)
		}
		if s.HasCustomLocation() || s.Get() != domain.DefaultLocationFilter() {
			t.Errorf("name %q: blank name must not change state", name)
		}

		s.Wait()
		if _, ok := kv.value(usecases.DefaultFilterKey); ok {
			t.Errorf("name %q: blank name must not be persisted", name)
		}

		// every accepted write must survive a restart
		restored := loadedStore(t, kv)
		if restored.HasCustomLocation() != s.HasCustomLocation() || restored.Get() != s.Get() {
			t.Errorf("name %q: restart changed state: %+v vs %+v", name, restored.Get(), s.Get())
		}
	}
}

func TestLocationFilterStore_UpdateInvalid(t *testing.T) {
	s := loadedStore(t, newMockKV())

	tests := []struct {
		name   string
		coords domain.Coordinates
		radius float64
	}{
		{"zero radius", domain.Coordinates{Latitude: 1, Longitude: 1}, 0},
		{"negative radius", domain.Coordinates{Latitude: 1, Longitude: 1}, -1},
		{"latitude out of range", domain.Coordinates{Latitude: 91, Longitude: 1}, 5},
		{"longitude out of range", domain.Coordinates{Latitude: 1, Longitude: -181}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Update("X", tt.coords, tt.radius)
			if !errors.Is(err, domain.ErrInvalidFilter) {
				t.Errorf("expected ErrInvalidFilter, got %v", err)
			}
			if s.HasCustomLocation() || s.Get() != domain.DefaultLocationFilter() {
				t.Error("invalid update must not change state")
			}
		})
	}
}

func TestLocationFilterStore_PersistFailureKeepsMemory(t *testing.T) {
	kv := newMockKV()
	kv.setFn = func(ctx context.Context, key string, value []byte) error {
		return errors.New("disk full")
	}
	s := loadedStore(t, kv)

	coords := domain.Coordinates{Latitude: 35.5, Longitude: 35.8}
	if err := s.Update("Latakia", coords, 5); err != nil {
		t.Fatalf("persistence failure must not surface: %v", err)
	}
	s.Wait()

	if got := s.Get(); got.Name != "Latakia" {
		t.Errorf("expected in-memory value to survive, got %+v", got)
	}
}

func TestLocationFilterStore_Clear(t *testing.T) {
	kv := newMockKV()
	s := loadedStore(t, kv)

	_ = s.Update("Hama", domain.Coordinates{Latitude: 35.13, Longitude: 36.75}, 30)
	s.Wait()
	s.Clear()

	if got := s.Get(); got != domain.DefaultLocationFilter() {
		t.Errorf("expected default after clear, got %+v", got)
	}
	if s.HasCustomLocation() {
		t.Error("expected no custom location after clear")
	}

	s.Wait()
	if _, ok := kv.value(usecases.DefaultFilterKey); ok {
		t.Error("expected persisted record to be removed")
	}
}

func TestLocationFilterStore_PersistSkipsStaleRevision(t *testing.T) {
	kv := newMockKV()
	s := loadedStore(t, kv)

	older := domain.LocationFilter{Name: "old", Coordinates: domain.Coordinates{Latitude: 1, Longitude: 1}, RadiusKm: 5}
	newer := domain.LocationFilter{Name: "new", Coordinates: domain.Coordinates{Latitude: 2, Longitude: 2}, RadiusKm: 5}
	oldRev := s.ApplyInMemory(older, true)
	newRev := s.ApplyInMemory(newer, true)

	if err := s.Persist(context.Background(), newRev, &newer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Persist(context.Background(), oldRev, &older); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, _ := kv.value(usecases.DefaultFilterKey)
	var got domain.LocationFilter
	_ = json.Unmarshal(data, &got)
	if got.Name != "new" {
		t.Errorf("expected newest revision to stay persisted, got %q", got.Name)
	}
}

func TestLocationFilterStore_UpdateDuringLoadWins(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	kv := newMockKV()
	kv.getFn = func(ctx context.Context, key string) ([]byte, error) {
		close(started)
		<-release
		return []byte(`{"name":"Stale","coordinates":{"latitude":1,"longitude":1},"radiusKm":5}`), nil
	}

	s := usecases.NewLocationFilterStore(kv)
	done := make(chan struct{})
	go func() {
		s.Load(context.Background())
		close(done)
	}()

	<-started
	if err := s.Update("Fresh", domain.Coordinates{Latitude: 2, Longitude: 2}, 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(release)
	<-done

	if got := s.Get().Name; got != "Fresh" {
		t.Errorf("expected update made during load to win, got %q", got)
	}
}

func TestLocationFilterStore_PublishesChanges(t *testing.T) {
	pub := &mockPublisher{}
	s := loadedStore(t, newMockKV(), usecases.WithPublisher(pub))

	_ = s.Update("Tartus", domain.Coordinates{Latitude: 34.89, Longitude: 35.88}, 8)
	s.Wait()
	s.Clear()
	s.Wait()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(pub.events))
	}
	if pub.events[0].Source != domain.SourceUser || pub.events[0].Filter.Name != "Tartus" {
		t.Errorf("unexpected first event %+v", pub.events[0])
	}
	if pub.events[1].Source != domain.SourceClear || pub.events[1].HasCustomLocation {
		t.Errorf("unexpected second event %+v", pub.events[1])
	}
}

func TestLocationFilterStore_IsWithinRadiusMatchesDistance(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	s := loadedStore(t, nil)

	for i := 0; i < 50; i++ {
		center := domain.Coordinates{Latitude: r.Float64()*140 - 70, Longitude: r.Float64()*340 - 170}
		radius := r.Float64()*99 + 0.5
		if err := s.Update("c", center, radius); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lat := center.Latitude + (r.Float64()-0.5)*2
		lon := center.Longitude + (r.Float64()-0.5)*2

		want := geospatial.DistanceKm(center.Latitude, center.Longitude, lat, lon) <= radius
		if got := s.IsWithinRadius(lat, lon); got != want {
			t.Errorf("point %.4f,%.4f radius %.2f: expected %v, got %v", lat, lon, radius, want, got)
		}
	}
}

func TestLocationFilterStore_UnboundedRadius(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	s := loadedStore(t, nil)
	_ = s.Update("Everywhere", domain.Coordinates{Latitude: 33.5, Longitude: 36.3}, 100)

	if s.BoundingBox() != nil {
		t.Error("expected no bounding box for unbounded radius")
	}
	for i := 0; i < 50; i++ {
		lat, lon := r.Float64()*180-90, r.Float64()*360-180
		if !s.IsWithinRadius(lat, lon) {
			t.Fatalf("expected every point to pass, %.4f,%.4f did not", lat, lon)
		}
	}
}

func TestLocationFilterStore_BoundingBox(t *testing.T) {
	s := loadedStore(t, nil)

	box := s.BoundingBox()
	if box == nil {
		t.Fatal("expected bounding box for default filter")
	}
	def := domain.DefaultLocationFilter()
	if !box.Contains(def.Coordinates.Latitude, def.Coordinates.Longitude) {
		t.Error("expected box to contain the filter centre")
	}
	if box.MinLat >= box.MaxLat || box.MinLon >= box.MaxLon {
		t.Errorf("degenerate box %+v", box)
	}
}
