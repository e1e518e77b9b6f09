// Package geo computes great-circle distances and rough travel times.
package geo

import (
	"fmt"
	"math"
)

const (
	earthRadiusKm = 6371.0

	// average urban driving speed assumed for ETA estimates
	averageSpeedKmh = 30.0
	minETAMinutes   = 2
)

type Point struct {
	Latitude  float64
	Longitude float64
}

// Distance returns the haversine distance between a and b in kilometres.
func Distance(a, b Point) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// ETA converts a distance into whole minutes, never less than two.
func ETA(distanceKm float64) int {
	minutes := int(math.Round(distanceKm / averageSpeedKmh * 60))
	if minutes < minETAMinutes {
		return minETAMinutes
	}
	return minutes
}

// MapsLink renders a shareable map URL for the given coordinates.
func MapsLink(lat, lon float64) string {
	return fmt.Sprintf("https://maps.google.com/?q=%.6f,%.6f", lat, lon)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
