package geo

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
)

var ErrNoLocations = errors.New("no locations match filter")

// Filter narrows the pool a provider draws from. Empty means anywhere.
type Filter struct {
	Countries []string
}

type Provider interface {
	Locations(ctx context.Context, mode string, f Filter, n int) ([]Location, error)
}

// RandomProvider draws distinct targets from a fixed pool.
type RandomProvider struct {
	mu   sync.Mutex
	rng  *rand.Rand
	pool []Location
}

func NewRandomProvider(seed uint64) *RandomProvider {
	return &RandomProvider{
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		pool: builtinPool,
	}
}

func NewRandomProviderFrom(seed uint64, pool []Location) *RandomProvider {
	p := NewRandomProvider(seed)
	p.pool = pool
	return p
}

func (p *RandomProvider) Locations(ctx context.Context, _ string, f Filter, n int) ([]Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := p.pool
	if len(f.Countries) > 0 {
		candidates = make([]Location, 0, len(p.pool))
		for _, l := range p.pool {
			if slices.ContainsFunc(f.Countries, func(c string) bool { return strings.EqualFold(c, l.Country) }) {
				candidates = append(candidates, l)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoLocations
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Location, 0, n)
	order := p.rng.Perm(len(candidates))
	for i := 0; len(out) < n; i++ {
		// pools smaller than n repeat once exhausted
		out = append(out, candidates[order[i%len(order)]])
	}
	return out, nil
}

var builtinPool = []Location{
	{Coord: Coord{Lat: 48.8584, Long: 2.2945}, Country: "FR"},
	{Coord: Coord{Lat: 51.5007, Long: -0.1246}, Country: "GB"},
	{Coord: Coord{Lat: 52.5163, Long: 13.3777}, Country: "DE"},
	{Coord: Coord{Lat: 41.8902, Long: 12.4922}, Country: "IT"},
	{Coord: Coord{Lat: 40.4168, Long: -3.7038}, Country: "ES"},
	{Coord: Coord{Lat: 38.7223, Long: -9.1393}, Country: "PT"},
	{Coord: Coord{Lat: 59.3293, Long: 18.0686}, Country: "SE"},
	{Coord: Coord{Lat: 60.1699, Long: 24.9384}, Country: "FI"},
	{Coord: Coord{Lat: 50.0755, Long: 14.4378}, Country: "CZ"},
	{Coord: Coord{Lat: 47.4979, Long: 19.0402}, Country: "HU"},
	{Coord: Coord{Lat: 37.9838, Long: 23.7275}, Country: "GR"},
	{Coord: Coord{Lat: 41.0082, Long: 28.9784}, Country: "TR"},
	{Coord: Coord{Lat: 55.7558, Long: 37.6173}, Country: "RU"},
	{Coord: Coord{Lat: 30.0444, Long: 31.2357}, Country: "EG"},
	{Coord: Coord{Lat: -1.2921, Long: 36.8219}, Country: "KE"},
	{Coord: Coord{Lat: -33.9249, Long: 18.4241}, Country: "ZA"},
	{Coord: Coord{Lat: 6.5244, Long: 3.3792}, Country: "NG"},
	{Coord: Coord{Lat: 33.5731, Long: -7.5898}, Country: "MA"},
	{Coord: Coord{Lat: 25.2048, Long: 55.2708}, Country: "AE"},
	{Coord: Coord{Lat: 28.6139, Long: 77.2090}, Country: "IN"},
	{Coord: Coord{Lat: 13.7563, Long: 100.5018}, Country: "TH"},
	{Coord: Coord{Lat: 1.3521, Long: 103.8198}, Country: "SG"},
	{Coord: Coord{Lat: -6.2088, Long: 106.8456}, Country: "ID"},
	{Coord: Coord{Lat: 14.5995, Long: 120.9842}, Country: "PH"},
	{Coord: Coord{Lat: 35.6762, Long: 139.6503}, Country: "JP"},
	{Coord: Coord{Lat: 37.5665, Long: 126.9780}, Country: "KR"},
	{Coord: Coord{Lat: 25.0330, Long: 121.5654}, Country: "TW"},
	{Coord: Coord{Lat: -33.8568, Long: 151.2153}, Country: "AU"},
	{Coord: Coord{Lat: -41.2865, Long: 174.7762}, Country: "NZ"},
	{Coord: Coord{Lat: 40.7580, Long: -73.9855}, Country: "US"},
	{Coord: Coord{Lat: 34.0522, Long: -118.2437}, Country: "US"},
	{Coord: Coord{Lat: 41.8781, Long: -87.6298}, Country: "US"},
	{Coord: Coord{Lat: 49.2827, Long: -123.1207}, Country: "CA"},
	{Coord: Coord{Lat: 45.5017, Long: -73.5673}, Country: "CA"},
	{Coord: Coord{Lat: 19.4326, Long: -99.1332}, Country: "MX"},
	{Coord: Coord{Lat: 4.7110, Long: -74.0721}, Country: "CO"},
	{Coord: Coord{Lat: -12.0464, Long: -77.0428}, Country: "PE"},
	{Coord: Coord{Lat: -33.4489, Long: -70.6693}, Country: "CL"},
	{Coord: Coord{Lat: -34.6037, Long: -58.3816}, Country: "AR"},
	{Coord: Coord{Lat: -22.9068, Long: -43.1729}, Country: "BR"},
	{Coord: Coord{Lat: 64.1466, Long: -21.9426}, Country: "IS"},
}
