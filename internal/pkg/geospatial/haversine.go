package geospatial

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	earthRadiusKm = 6371.0

	// kmPerDegreeLat is the length of one degree of latitude.
	kmPerDegreeLat = 111.32

	// UnboundedRadiusKm is the radius at which filtering stops applying.
	UnboundedRadiusKm = 100.0
)

// DistanceKm calculates the great-circle distance in kilometers between two points.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	// rounding can push a just past 1 for antipodal points
	a = math.Min(1, math.Max(0, a))

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// BoundingBox returns a rectangle around a point that contains every point
// within radiusKm of it. It over-approximates the circle and must be followed
// by an exact DistanceKm check.
func BoundingBox(lat, lon, radiusKm float64) orb.Bound {
	latDelta := radiusKm / kmPerDegreeLat

	lonDivisor := kmPerDegreeLat * math.Cos(toRad(lat))
	if lonDivisor <= 0 {
		lonDivisor = kmPerDegreeLat
	}
	lonDelta := radiusKm / lonDivisor

	return orb.Bound{
		Min: orb.Point{lon - lonDelta, lat - latDelta},
		Max: orb.Point{lon + lonDelta, lat + latDelta},
	}
}

// IsFilterActive reports whether a radius restricts results at all.
func IsFilterActive(radiusKm float64) bool {
	return radiusKm < UnboundedRadiusKm
}

// ZoomForRadius maps a filter radius to a map zoom level that frames the
// whole circle. Zoom 14 covers about 1 km; each doubling of the radius
// drops one level.
func ZoomForRadius(radiusKm float64) int {
	if !IsFilterActive(radiusKm) {
		return 5
	}
	if radiusKm <= 1 {
		return 14
	}
	zoom := 14 - int(math.Ceil(math.Log2(radiusKm)))
	if zoom < 3 {
		return 3
	}
	return zoom
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
