package geo

import "math"

const EarthRadiusKm = 6371.0

// MaxDistanceKm is half the earth's circumference, the furthest any guess can be.
const MaxDistanceKm = 20037.5

type Coord struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

func (c Coord) Valid() bool {
	return !math.IsNaN(c.Lat) && !math.IsNaN(c.Long) &&
		c.Lat >= -90 && c.Lat <= 90 && c.Long >= -180 && c.Long <= 180
}

// Location is a round target as handed to clients.
type Location struct {
	Coord
	Country string `json:"country,omitempty"`
	Heading int    `json:"heading,omitempty"`
}

// DistanceKm is the haversine great-circle distance.
func DistanceKm(a, b Coord) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLong := (b.Long - a.Long) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLong/2)*math.Sin(dLong/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
