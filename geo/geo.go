// Package geo holds the distance and speed arithmetic used by the anti-cheat
// layers and the marker ledger.
//
// Ledger math works on integer micro-degrees with a flat-earth approximation
// (1 degree ≈ 111 km on both axes). It is only meaningful over city-scale
// spans; beyond roughly 50 km it drifts from the geodesic distance. Device
// side checks use HaversineMeters on float degrees instead.
package geo

import "math"

// Coordinate bounds in micro-degrees.
const (
	MaxLat int64 = 90_000_000
	MaxLon int64 = 180_000_000
)

// millimetres per micro-degree on either axis
const mmPerMicroDegree = 111

const earthRadiusMeters = 6_371_000.0

// Point is a coordinate in micro-degrees.
type Point struct {
	Lat int64
	Lon int64
}

// InBounds reports whether p lies inside [-90°, 90°] × [-180°, 180°].
func (p Point) InBounds() bool {
	return p.Lat >= -MaxLat && p.Lat <= MaxLat && p.Lon >= -MaxLon && p.Lon <= MaxLon
}

// ApproxDistanceMeters returns the flat-earth distance between a and b,
// truncated to whole meters.
func ApproxDistanceMeters(a, b Point) uint64 {
	dLat := absDiff(a.Lat, b.Lat) * mmPerMicroDegree / 1000
	dLon := absDiff(a.Lon, b.Lon) * mmPerMicroDegree / 1000
	return ISqrt(dLat*dLat + dLon*dLon)
}

// SpeedKmh returns the average speed needed to travel from a to b in
// dtSeconds. A non-positive interval (clock skew, replay) yields 0.
func SpeedKmh(a, b Point, dtSeconds int64) uint64 {
	if dtSeconds <= 0 {
		return 0
	}
	return ApproxDistanceMeters(a, b) * 3600 / (uint64(dtSeconds) * 1000)
}

// ISqrt is the Babylonian integer square root: floor(sqrt(n)). The iterate
// decreases monotonically and the loop stops once it no longer does.
func ISqrt(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	x := n
	y := n/2 + n&1
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}

// HaversineMeters returns the great-circle distance between two points given
// in float degrees.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	s := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
}

// MicroDegrees converts float degrees to ledger micro-degrees, rounding to
// the nearest unit.
func MicroDegrees(deg float64) int64 {
	return int64(math.Round(deg * 1e6))
}

func absDiff(a, b int64) uint64 {
	if a > b {
		return uint64(a - b)
	}
	return uint64(b - a)
}
