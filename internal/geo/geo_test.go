package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	origin := NewPoint(28.6139, 77.2090)

	tests := []struct {
		name        string
		north, east float64
	}{
		{"same point", 0, 0},
		{"500m north", 500, 0},
		{"800m east", 0, 800},
		{"diagonal", 300, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Offset(origin, tt.north, tt.east)
			want := math.Hypot(tt.north, tt.east)
			assert.InDelta(t, want, Distance(origin, p), 0.5)
		})
	}
}

func TestWithin(t *testing.T) {
	origin := NewPoint(12.9716, 77.5946)
	assert.True(t, Within(origin, Offset(origin, 999, 0), 1000))
	assert.False(t, Within(origin, Offset(origin, 1010, 0), 1000))
}

func TestCentroid(t *testing.T) {
	var c Centroid
	c.Add(NewPoint(10, 20))
	c.Add(NewPoint(12, 22))
	p := c.Point()
	assert.Equal(t, 2, c.Count())
	assert.InDelta(t, 11.0, p.Lat, 1e-9)
	assert.InDelta(t, 21.0, p.Lon, 1e-9)
	assert.Len(t, p.Geohash, StoragePrecision)
}

func TestBucketWithNeighbours(t *testing.T) {
	cells := BucketWithNeighbours(NewPoint(19.0760, 72.8777))
	assert.Len(t, cells, 9)
	for _, c := range cells {
		assert.Len(t, c, BucketPrecision)
	}
}
