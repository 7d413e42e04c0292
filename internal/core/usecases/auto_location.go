package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/samirrijal/souq/internal/core/domain"
	"github.com/samirrijal/souq/internal/core/ports"
	"github.com/samirrijal/souq/internal/pkg/metrics"
)

// DefaultPlaceName labels an auto-detected position whose name could not be resolved.
const DefaultPlaceName = "Current location"

// DetectorState is the lifecycle of an AutoLocationDetector.
type DetectorState int32

const (
	DetectorIdle DetectorState = iota
	DetectorRunning
	DetectorDone
)

func (s DetectorState) String() string {
	switch s {
	case DetectorRunning:
		return "running"
	case DetectorDone:
		return "done"
	default:
		return "idle"
	}
}

// DetectionOutcome says how a detection run ended.
type DetectionOutcome string

const (
	OutcomeDetected         DetectionOutcome = "detected"
	OutcomeSkippedCustom    DetectionOutcome = "skipped_custom"
	OutcomeAlreadyRan       DetectionOutcome = "already_ran"
	OutcomePermissionDenied DetectionOutcome = "permission_denied"
	OutcomeFailed           DetectionOutcome = "failed"
	OutcomeCancelled        DetectionOutcome = "cancelled"
)

// DetectionResult is the result of one Run.
type DetectionResult struct {
	Outcome         DetectionOutcome       `json:"outcome"`
	Filter          *domain.LocationFilter `json:"filter,omitempty"`
	GeocodeFallback bool                   `json:"geocode_fallback,omitempty"`
	Stage           string                 `json:"stage,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

// AutoLocationDetector sets the filter from the device position once per
// process, and only while the store still holds the untouched default.
type AutoLocationDetector struct {
	store          *LocationFilterStore
	positions      ports.PositionProvider
	geocoder       ports.ReverseGeocoder
	fallbackName   string
	geocodeTimeout time.Duration
	log            *slog.Logger

	state atomic.Int32

	mu   sync.Mutex
	last *DetectionResult
}

// DetectorOption configures an AutoLocationDetector.
type DetectorOption func(*AutoLocationDetector)

// WithFallbackName sets the name used when reverse geocoding fails. A blank
// name keeps the default.
func WithFallbackName(name string) DetectorOption {
	return func(d *AutoLocationDetector) {
		if domain.NormalizeName(name) != "" {
			d.fallbackName = name
		}
	}
}

// WithGeocodeTimeout bounds the reverse geocoding call.
func WithGeocodeTimeout(timeout time.Duration) DetectorOption {
	return func(d *AutoLocationDetector) {
		if timeout > 0 {
			d.geocodeTimeout = timeout
		}
	}
}

// NewAutoLocationDetector creates a detector. geocoder may be nil.
func NewAutoLocationDetector(
	store *LocationFilterStore,
	positions ports.PositionProvider,
	geocoder ports.ReverseGeocoder,
	opts ...DetectorOption,
) *AutoLocationDetector {
	d := &AutoLocationDetector{
		store:          store,
		positions:      positions,
		geocoder:       geocoder,
		fallbackName:   DefaultPlaceName,
		geocodeTimeout: 5 * time.Second,
		log:            slog.Default().With("component", "auto_location"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current lifecycle state.
func (d *AutoLocationDetector) State() DetectorState {
	return DetectorState(d.state.Load())
}

// LastResult returns the result of the run that performed detection, if any.
func (d *AutoLocationDetector) LastResult() (DetectionResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return DetectionResult{}, false
	}
	return *d.last, true
}

// Run waits for the store to load and then performs detection at most once
// per detector. It never returns an error: every failure leaves the filter
// unchanged and is reported in the result.
func (d *AutoLocationDetector) Run(ctx context.Context) DetectionResult {
	ctx, span := otel.Tracer("souq/location").Start(ctx, "AutoLocationDetector.Run")
	defer span.End()

	select {
	case <-d.store.Ready():
	case <-ctx.Done():
		return DetectionResult{Outcome: OutcomeCancelled, Error: ctx.Err().Error()}
	}

	// Latch before any asynchronous step so overlapping calls cannot both run.
	if !d.state.CompareAndSwap(int32(DetectorIdle), int32(DetectorRunning)) {
		return DetectionResult{Outcome: OutcomeAlreadyRan}
	}
	defer d.state.Store(int32(DetectorDone))

	res := d.detect(ctx)

	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	metrics.DetectionOutcomes.WithLabelValues(string(res.Outcome)).Inc()

	d.mu.Lock()
	d.last = &res
	d.mu.Unlock()
	return res
}

func (d *AutoLocationDetector) detect(ctx context.Context) DetectionResult {
	if d.store.HasCustomLocation() {
		d.log.Debug("custom location present, skipping detection")
		return DetectionResult{Outcome: OutcomeSkippedCustom}
	}

	perm := try("permission", func() (ports.Permission, error) {
		p, err := d.positions.RequestPermission(ctx)
		if err != nil {
			return p, err
		}
		if p != ports.PermissionGranted {
			return p, domain.ErrPermissionDenied
		}
		return p, nil
	})
	if perm.failed() {
		return d.degrade(perm.stage, perm.err)
	}

	pos := try("position", func() (domain.Coordinates, error) {
		c, err := d.positions.CurrentPosition(ctx, ports.AccuracyBalanced)
		if err == nil && !c.Valid() {
			err = fmt.Errorf("position out of range: %.4f,%.4f", c.Latitude, c.Longitude)
		}
		return c, err
	})
	if pos.failed() {
		return d.degrade(pos.stage, pos.err)
	}

	name, fallback := d.placeName(ctx, pos.value)

	f := domain.LocationFilter{Name: name, Coordinates: pos.value, RadiusKm: domain.AutoDetectRadiusKm}
	applied, err := d.store.update(domain.SourceAuto, f, true)
	if err != nil {
		return d.degrade("update", err)
	}
	if !applied {
		// the user picked a place while we were detecting
		return DetectionResult{Outcome: OutcomeSkippedCustom}
	}

	d.log.Info("auto-detected location", "name", name, "geocode_fallback", fallback)
	current := d.store.Get()
	return DetectionResult{Outcome: OutcomeDetected, Filter: &current, GeocodeFallback: fallback}
}

func (d *AutoLocationDetector) placeName(ctx context.Context, c domain.Coordinates) (string, bool) {
	if d.geocoder == nil {
		return d.fallbackName, true
	}

	ctx, cancel := context.WithTimeout(ctx, d.geocodeTimeout)
	defer cancel()

	start := time.Now()
	res := try("reverse_geocode", func() (string, error) {
		return d.geocoder.Lookup(ctx, c)
	})
	metrics.GeocodeDuration.Observe(time.Since(start).Seconds())

	name := domain.NormalizeName(res.value)
	if res.failed() || name == "" {
		d.log.Warn("reverse geocoding failed, using fallback name", "error", res.err)
		return d.fallbackName, true
	}
	return name, false
}

// degrade is the single mapping from a failed step to a result. Every
// failure keeps the current filter.
func (d *AutoLocationDetector) degrade(stage string, err error) DetectionResult {
	res := DetectionResult{Outcome: OutcomeFailed, Stage: stage, Error: err.Error()}
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		res.Outcome = OutcomePermissionDenied
		d.log.Info("location permission not granted")
	case errors.Is(err, context.Canceled):
		res.Outcome = OutcomeCancelled
		d.log.Info("detection cancelled", "stage", stage)
	default:
		d.log.Warn("auto-location detection failed", "stage", stage, "error", err)
	}
	return res
}

// attempt is the result of one collaborator call.
type attempt[T any] struct {
	value T
	stage string
	err   error
}

func (a attempt[T]) failed() bool {
	return a.err != nil
}

// try runs fn and turns a panic into an error.
func try[T any](stage string, fn func() (T, error)) (a attempt[T]) {
	a.stage = stage
	defer func() {
		if r := recover(); r != nil {
			a.err = fmt.Errorf("%s panicked: %v", stage, r)
		}
	}()
	a.value, a.err = fn()
	return a
}
