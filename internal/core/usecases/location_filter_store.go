package usecases

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samirrijal/souq/internal/core/domain"
	"github.com/samirrijal/souq/internal/core/ports"
	"github.com/samirrijal/souq/internal/pkg/geospatial"
	"github.com/samirrijal/souq/internal/pkg/metrics"
)

// DefaultFilterKey is the key-value key holding the persisted filter.
const DefaultFilterKey = "souq:location_filter"

// FilterState is a consistent snapshot of the store.
type FilterState struct {
	Filter            domain.LocationFilter `json:"filter"`
	HasCustomLocation bool                  `json:"has_custom_location"`
	Loading           bool                  `json:"loading"`
}

// LocationFilterStore holds the active location filter. Reads and in-memory
// updates are synchronous; persistence runs in the background and never
// rolls back the in-memory value.
type LocationFilterStore struct {
	kv           ports.KeyValueStore
	publisher    ports.EventPublisher
	key          string
	writeTimeout time.Duration
	log          *slog.Logger

	mu        sync.RWMutex
	filter    domain.LocationFilter
	hasCustom bool
	rev       uint64

	persistMu    sync.Mutex
	persistedRev uint64

	loadOnce sync.Once
	loaded   chan struct{}
	pending  sync.WaitGroup
}

// StoreOption configures a LocationFilterStore.
type StoreOption func(*LocationFilterStore)

// WithPublisher publishes a FilterChangedEvent on every change.
func WithPublisher(p ports.EventPublisher) StoreOption {
	return func(s *LocationFilterStore) {
		s.publisher = p
	}
}

// WithFilterKey overrides the persisted key.
func WithFilterKey(key string) StoreOption {
	return func(s *LocationFilterStore) {
		if key != "" {
			s.key = key
		}
	}
}

// WithWriteTimeout bounds each background write.
func WithWriteTimeout(d time.Duration) StoreOption {
	return func(s *LocationFilterStore) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// NewLocationFilterStore creates a store holding the default filter. Call
// Load once to restore the persisted value. kv may be nil, in which case the
// store is memory-only.
func NewLocationFilterStore(kv ports.KeyValueStore, opts ...StoreOption) *LocationFilterStore {
	s := &LocationFilterStore{
		kv:           kv,
		key:          DefaultFilterKey,
		writeTimeout: 5 * time.Second,
		log:          slog.Default().With("component", "location_filter"),
		filter:       domain.DefaultLocationFilter(),
		loaded:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load restores the persisted filter. Only the first call does any work;
// later calls return immediately. A missing, unreadable or malformed record
// leaves the default in place.
func (s *LocationFilterStore) Load(ctx context.Context) {
	s.loadOnce.Do(func() {
		defer close(s.loaded)
		s.restore(ctx)
	})
}

func (s *LocationFilterStore) restore(ctx context.Context) {
	if s.kv == nil {
		return
	}

	s.mu.RLock()
	startRev := s.rev
	s.mu.RUnlock()

	data, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, ports.ErrKeyNotFound) {
		s.log.Debug("no persisted location filter")
		return
	}
	if err != nil {
		metrics.FilterPersistErrors.WithLabelValues("read").Inc()
		s.log.Warn("read persisted location filter", "error", err)
		return
	}

	f, err := decodeFilter(data)
	if err != nil {
		metrics.FilterPersistErrors.WithLabelValues("decode").Inc()
		s.log.Warn("discarding malformed location filter", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rev != startRev {
		// an update landed while we were reading; it is newer
		return
	}
	s.filter = f
	s.hasCustom = true
	s.log.Info("restored location filter", "name", f.Name, "radius_km", f.RadiusKm)
}

// Ready is closed once Load has finished.
func (s *LocationFilterStore) Ready() <-chan struct{} {
	return s.loaded
}

// IsLoading reports whether Load has not finished yet.
func (s *LocationFilterStore) IsLoading() bool {
	select {
	case <-s.loaded:
		return false
	default:
		return true
	}
}

// Get returns the active filter.
func (s *LocationFilterStore) Get() domain.LocationFilter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// HasCustomLocation reports whether the filter came from a user choice,
// auto-detection or a restored record rather than the untouched default.
func (s *LocationFilterStore) HasCustomLocation() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasCustom
}

// Snapshot returns filter, custom flag and loading state read together.
func (s *LocationFilterStore) Snapshot() FilterState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return FilterState{
		Filter:            s.filter,
		HasCustomLocation: s.hasCustom,
		Loading:           s.IsLoading(),
	}
}

// Update replaces the whole filter. The new value is visible to readers as
// soon as Update returns; it is persisted in the background.
func (s *LocationFilterStore) Update(name string, coords domain.Coordinates, radiusKm float64) error {
	_, err := s.update(domain.SourceUser, domain.LocationFilter{
		Name:        name,
		Coordinates: coords,
		RadiusKm:    radiusKm,
	}, false)
	return err
}

// update applies f and schedules persistence. With onlyIfDefault it refuses
// to replace a custom location and reports false.
func (s *LocationFilterStore) update(source domain.FilterSource, f domain.LocationFilter, onlyIfDefault bool) (bool, error) {
	if err := f.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	if onlyIfDefault && s.hasCustom {
		s.mu.Unlock()
		return false, nil
	}
	rev := s.applyLocked(f, true)
	s.mu.Unlock()

	metrics.FilterUpdates.WithLabelValues(string(source)).Inc()
	s.persistAsync(source, rev, &f, true)
	return true, nil
}

// Clear resets the filter to the default and removes the persisted record.
func (s *LocationFilterStore) Clear() {
	def := domain.DefaultLocationFilter()
	rev := s.ApplyInMemory(def, false)
	metrics.FilterUpdates.WithLabelValues(string(domain.SourceClear)).Inc()
	s.persistAsync(domain.SourceClear, rev, nil, false)
}

// ApplyInMemory replaces the in-memory filter and returns its revision.
// It does not persist anything.
func (s *LocationFilterStore) ApplyInMemory(f domain.LocationFilter, custom bool) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(f, custom)
}

func (s *LocationFilterStore) applyLocked(f domain.LocationFilter, custom bool) uint64 {
	s.rev++
	s.filter = f
	s.hasCustom = custom
	return s.rev
}

// Persist writes f under the filter key, or removes the key when f is nil.
// rev is the revision returned by ApplyInMemory; a write older than the
// last one persisted is skipped so storage converges on the newest value.
func (s *LocationFilterStore) Persist(ctx context.Context, rev uint64, f *domain.LocationFilter) error {
	if s.kv == nil {
		return nil
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if rev < s.persistedRev {
		return nil
	}

	if f == nil {
		if err := s.kv.Remove(ctx, s.key); err != nil && !errors.Is(err, ports.ErrKeyNotFound) {
			metrics.FilterPersistErrors.WithLabelValues("remove").Inc()
			return fmt.Errorf("remove location filter: %w", err)
		}
	} else {
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("encode location filter: %w", err)
		}
		if err := s.kv.Set(ctx, s.key, data); err != nil {
			metrics.FilterPersistErrors.WithLabelValues("write").Inc()
			return fmt.Errorf("write location filter: %w", err)
		}
	}

	s.persistedRev = rev
	return nil
}

func (s *LocationFilterStore) persistAsync(source domain.FilterSource, rev uint64, f *domain.LocationFilter, custom bool) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		defer cancel()

		if err := s.Persist(ctx, rev, f); err != nil {
			s.log.Warn("persist location filter", "error", err, "source", source)
		}

		if s.publisher == nil {
			return
		}
		event := &domain.FilterChangedEvent{
			ID:                uuid.NewString(),
			Source:            source,
			Filter:            domain.DefaultLocationFilter(),
			HasCustomLocation: custom,
			At:                time.Now().UTC(),
		}
		if f != nil {
			event.Filter = *f
		}
		if err := s.publisher.PublishFilterChanged(ctx, event); err != nil {
			s.log.Warn("publish filter change", "error", err, "source", source)
		}
	}()
}

// Wait blocks until every scheduled write has finished.
func (s *LocationFilterStore) Wait() {
	s.pending.Wait()
}

// IsWithinRadius reports whether the point passes the active filter. Every
// point passes when the radius is unbounded.
func (s *LocationFilterStore) IsWithinRadius(lat, lon float64) bool {
	return withinFilter(s.Get(), lat, lon)
}

// DistanceKm returns the distance from the filter centre to the point.
func (s *LocationFilterStore) DistanceKm(lat, lon float64) float64 {
	return distanceFrom(s.Get(), lat, lon)
}

// BoundingBox returns the query pre-filter for the active filter, or nil
// when no geographic constraint applies.
func (s *LocationFilterStore) BoundingBox() *domain.BoundingBox {
	return boundsFor(s.Get())
}

func withinFilter(f domain.LocationFilter, lat, lon float64) bool {
	if !geospatial.IsFilterActive(f.RadiusKm) {
		return true
	}
	return distanceFrom(f, lat, lon) <= f.RadiusKm
}

func distanceFrom(f domain.LocationFilter, lat, lon float64) float64 {
	return geospatial.DistanceKm(f.Coordinates.Latitude, f.Coordinates.Longitude, lat, lon)
}

func boundsFor(f domain.LocationFilter) *domain.BoundingBox {
	if !geospatial.IsFilterActive(f.RadiusKm) {
		return nil
	}
	box := domain.NewBoundingBox(geospatial.BoundingBox(f.Coordinates.Latitude, f.Coordinates.Longitude, f.RadiusKm))
	return &box
}

type persistedFilter struct {
	Name        *string `json:"name"`
	Coordinates *struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"coordinates"`
	RadiusKm *float64 `json:"radiusKm"`
}

// decodeFilter parses a persisted record. Unknown, missing or mistyped
// fields are rejected.
func decodeFilter(data []byte) (domain.LocationFilter, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var p persistedFilter
	if err := dec.Decode(&p); err != nil {
		return domain.LocationFilter{}, fmt.Errorf("decode: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return domain.LocationFilter{}, errors.New("trailing data after record")
	}

	switch {
	case p.Name == nil || strings.TrimSpace(*p.Name) == "":
		return domain.LocationFilter{}, errors.New("missing name")
	case p.Coordinates == nil || p.Coordinates.Latitude == nil || p.Coordinates.Longitude == nil:
		return domain.LocationFilter{}, errors.New("missing coordinates")
	case p.RadiusKm == nil:
		return domain.LocationFilter{}, errors.New("missing radiusKm")
	}

	f := domain.LocationFilter{
		Name: *p.Name,
		Coordinates: domain.Coordinates{
			Latitude:  *p.Coordinates.Latitude,
			Longitude: *p.Coordinates.Longitude,
		},
		RadiusKm: *p.RadiusKm,
	}
	if err := f.Validate(); err != nil {
		return domain.LocationFilter{}, err
	}
	return f, nil
}
