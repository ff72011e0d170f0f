package dedup

import (
	"fmt"
	"math"

	"github.com/coastwatch/breakwater/internal/domain"
)

const earthRadiusKM = 6371.0

// haversineKM is the great-circle distance between two points in kilometers.
func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKM * c
}

// cellKey buckets a location into a grid cell. Signals without coordinates
// bucket by place name so same-place creations still serialize.
func cellKey(loc domain.Location, cellSizeDeg float64) string {
	if !loc.HasCoords {
		return "cell:place:" + loc.PlaceName
	}
	if cellSizeDeg <= 0 {
		cellSizeDeg = 0.5
	}
	row := int(math.Floor(loc.Lat / cellSizeDeg))
	col := int(math.Floor(loc.Lon / cellSizeDeg))
	return fmt.Sprintf("cell:%d:%d", row, col)
}
