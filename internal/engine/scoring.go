package engine

import (
	"math"
	"sort"

	"github.com/DoyleJ11/geoguess-server/internal/geo"
)

const MaxScore = 5000
const FloorScore = 0

// Score falls off exponentially with distance: a perfect guess is worth
// MaxScore and the antipode is worth roughly nothing.
func Score(distanceKm float64) int {
	if distanceKm < 0 || math.IsNaN(distanceKm) {
		return FloorScore
	}
	s := int(math.Round(MaxScore * math.Exp(-10*distanceKm/geo.MaxDistanceKm)))
	if s < FloorScore {
		return FloorScore
	}
	return s
}

// Totals sums every closed round per member.
func (s State) Totals() map[string]int {
	totals := make(map[string]int, len(s.Members))
	for _, m := range s.Members {
		totals[m.ID] = 0
	}
	for _, r := range s.Rounds {
		if !r.Closed {
			continue
		}
		for id, pts := range r.Scores {
			totals[id] += pts
		}
	}
	return totals
}

type Placement struct {
	MemberID string
	Total    int
	Rank     int
}

// Standings orders members by total, best first. Equal totals share a rank.
func (s State) Standings() []Placement {
	totals := s.Totals()
	out := make([]Placement, 0, len(s.Members))
	for _, m := range s.Members {
		out = append(out, Placement{MemberID: m.ID, Total: totals[m.ID]})
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Total > out[b].Total })
	for i := range out {
		if i > 0 && out[i].Total == out[i-1].Total {
			out[i].Rank = out[i-1].Rank
		} else {
			out[i].Rank = i + 1
		}
	}
	return out
}

func (s State) Member(id string) (Member, bool) {
	for _, m := range s.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}
