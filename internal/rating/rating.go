package rating

import (
	"errors"
	"math"
)

var ErrDuplicateMember = errors.New("duplicate member in standings")

// DefaultK is the sensitivity constant used when Engine.K is zero.
const DefaultK = 32.0

// Standing is one member's final position input: the rating they entered
// the match with and the total score they finished on.
type Standing struct {
	MemberID string
	Rating   float64
	Score    int
}

type Engine struct {
	K float64
}

// Expected is the logistic expectation of a player rated ra against rb.
func Expected(ra, rb float64) float64 {
	return 1 / (1 + math.Pow(10, (rb-ra)/400))
}

// ComputeDeltas compares every member against every other member. A higher
// total score wins the pair, equal scores count as half a win each. Each
// member's delta is K times the summed (actual - expected) over its
// comparisons, divided by the number of comparisons.
func (e Engine) ComputeDeltas(standings []Standing) (map[string]float64, error) {
	k := e.K
	if k == 0 {
		k = DefaultK
	}

	deltas := make(map[string]float64, len(standings))
	for _, s := range standings {
		if _, dup := deltas[s.MemberID]; dup {
			return nil, ErrDuplicateMember
		}
		deltas[s.MemberID] = 0
	}
	if len(standings) < 2 {
		return deltas, nil
	}

	comparisons := float64(len(standings) - 1)
	for i, a := range standings {
		var sum float64
		for j, b := range standings {
			if i == j {
				continue
			}
			sum += outcome(a.Score, b.Score) - Expected(a.Rating, b.Rating)
		}
		deltas[a.MemberID] = k * sum / comparisons
	}
	return deltas, nil
}

func outcome(a, b int) float64 {
	switch {
	case a > b:
		return 1
	case a < b:
		return 0
	default:
		return 0.5
	}
}

// Apply rounds a delta onto an integer rating.
func Apply(current int, delta float64) int {
	return current + int(math.Round(delta))
}
