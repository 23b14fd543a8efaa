// Package geo provides distance, centroid and geohash helpers for complaint locations.
package geo

import (
	"math"

	"github.com/aawaaz/civic-pipeline/internal/models"
	"github.com/mmcloughlin/geohash"
)

const earthRadiusMeters = 6371008.8

// Precision used for stored complaint geohashes (~1.2km x 0.6km cells)
const StoragePrecision = 7

// BucketPrecision is the cell size used by density lookups (~4.9km x 4.9km at
// the equator). Cells narrow east-west with latitude, so the cell and its
// neighbours cover a 1km radius only below about 78 degrees; the hotspot
// radius must stay under one cell width at the latitudes served.
const BucketPrecision = 5

// NewPoint builds a GeoPoint with its geohash filled in
func NewPoint(lat, lon float64) models.GeoPoint {
	return models.GeoPoint{
		Lat:     lat,
		Lon:     lon,
		Geohash: geohash.EncodeWithPrecision(lat, lon, StoragePrecision),
	}
}

// Distance returns the great-circle distance between a and b in meters
func Distance(a, b models.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Within reports whether a and b are at most radius meters apart
func Within(a, b models.GeoPoint, radius float64) bool {
	return Distance(a, b) <= radius
}

// Bucket returns the density bucket cell of p
func Bucket(p models.GeoPoint) string {
	return geohash.EncodeWithPrecision(p.Lat, p.Lon, BucketPrecision)
}

// BucketWithNeighbours returns the bucket of p followed by its 8 neighbours
func BucketWithNeighbours(p models.GeoPoint) []string {
	cell := Bucket(p)
	return append([]string{cell}, geohash.Neighbors(cell)...)
}

// Centroid tracks a running mean of points. Small clusters make the planar mean adequate.
type Centroid struct {
	lat, lon float64
	n        int
}

// Add folds p into the running mean
func (c *Centroid) Add(p models.GeoPoint) {
	c.n++
	c.lat += (p.Lat - c.lat) / float64(c.n)
	c.lon += (p.Lon - c.lon) / float64(c.n)
}

// Count returns how many points were folded in
func (c *Centroid) Count() int { return c.n }

// Point returns the current mean as a GeoPoint
func (c *Centroid) Point() models.GeoPoint {
	return NewPoint(c.lat, c.lon)
}

// Offset returns the point d meters north and e meters east of p.
// Used by tests and seeding tools to lay out points at known distances.
func Offset(p models.GeoPoint, northMeters, eastMeters float64) models.GeoPoint {
	dLat := northMeters / earthRadiusMeters * 180 / math.Pi
	dLon := eastMeters / (earthRadiusMeters * math.Cos(p.Lat*math.Pi/180)) * 180 / math.Pi
	return NewPoint(p.Lat+dLat, p.Lon+dLon)
}
