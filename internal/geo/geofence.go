package geo

import "math"

// earthRadiusMeters is the mean Earth radius used by the Haversine formula.
const earthRadiusMeters = 6371000

// GeoPoint is a device-reported position for a single check-in attempt.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"` // meters of uncertainty
	Timestamp int64   `json:"timestamp"`
}

// ClassGeofence is the circular area where a class legitimately meets.
type ClassGeofence struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius"`
}

// AccuracyLevel grades device-reported GPS accuracy.
type AccuracyLevel string

const (
	AccuracyExcellent AccuracyLevel = "excellent"
	AccuracyGood      AccuracyLevel = "good"
	AccuracyFair      AccuracyLevel = "fair"
	AccuracyPoor      AccuracyLevel = "poor"
)

// DistanceMeters returns the great-circle distance between a point and a
// geofence center using the Haversine formula.
func DistanceMeters(p GeoPoint, g ClassGeofence) float64 {
	phi1 := p.Latitude * math.Pi / 180
	phi2 := g.Latitude * math.Pi / 180
	dPhi := (g.Latitude - p.Latitude) * math.Pi / 180
	dLambda := (g.Longitude - p.Longitude) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// WithinGeofence reports whether the point falls inside the geofence.
// A point exactly on the boundary counts as within.
func WithinGeofence(p GeoPoint, g ClassGeofence) bool {
	return DistanceMeters(p, g) <= g.RadiusMeters
}

// GradeAccuracy maps a reported accuracy radius in meters to a level.
func GradeAccuracy(accuracyMeters float64) AccuracyLevel {
	switch {
	case accuracyMeters <= 5:
		return AccuracyExcellent
	case accuracyMeters <= 10:
		return AccuracyGood
	case accuracyMeters <= 20:
		return AccuracyFair
	default:
		return AccuracyPoor
	}
}
