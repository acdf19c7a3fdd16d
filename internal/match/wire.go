package match

import (
	"errors"
	"sort"

	"github.com/DoyleJ11/geoguess-server/internal/engine"
	"github.com/DoyleJ11/geoguess-server/internal/geo"
	"github.com/DoyleJ11/geoguess-server/pkg/types"
)

func wireLocation(l geo.Location) types.Location {
	return types.Location{Lat: l.Lat, Long: l.Long, Country: l.Country, Heading: l.Heading}
}

func (m *Match) members() []types.MatchMember {
	out := make([]types.MatchMember, 0, len(m.state.Members))
	for _, mem := range m.state.Members {
		out = append(out, types.MatchMember{
			AccountID: mem.ID,
			Name:      mem.Name,
			Rating:    mem.Rating,
			Connected: m.conns[mem.ID] != nil,
			Left:      mem.Left,
		})
	}
	return out
}

func (m *Match) options() types.PartyOptions {
	r := m.state.Rules
	return types.PartyOptions{
		ShowRoadName: r.ShowRoadName,
		NoMove:       r.NoMove,
		NoPanZoom:    r.NoPanZoom,
		Rounds:       r.Rounds,
		RoundTimeSec: int(r.RoundTime.Seconds()),
		Countries:    r.Countries,
	}
}

func (m *Match) gameStarting() types.GameStarting {
	return types.GameStarting{
		Code:     m.cfg.ID,
		Members:  m.members(),
		Rounds:   m.state.Rules.Rounds,
		Deadline: m.state.StartDeadline.UnixMilli(),
		Ranked:   m.cfg.Ranked,
		Options:  m.options(),
	}
}

func (m *Match) roundOver(idx int) types.RoundOver {
	r := m.state.Rounds[idx]
	results := make([]types.RoundResult, 0, len(m.state.Members))
	for _, mem := range m.state.Members {
		res := types.RoundResult{AccountID: mem.ID, Score: r.Scores[mem.ID]}
		if g, ok := r.Guesses[mem.ID]; ok {
			res.Guessed = true
			res.Lat = g.Coord.Lat
			res.Long = g.Coord.Long
			res.DistanceKm = g.DistanceKm
		}
		results = append(results, res)
	}
	sort.SliceStable(results, func(a, b int) bool { return results[a].Score > results[b].Score })
	return types.RoundOver{Round: idx, Target: wireLocation(r.Target), Results: results}
}

func (m *Match) gameOver() types.GameOver {
	out := types.GameOver{Code: m.cfg.ID}
	if m.result == nil {
		return out
	}
	out.Aborted = m.result.Aborted
	out.Ranked = m.result.Ranked
	for _, r := range m.result.Members {
		out.Results = append(out.Results, types.FinalResult{
			AccountID:   r.AccountID,
			Name:        r.Name,
			Total:       r.Total,
			Rank:        r.Rank,
			RatingDelta: r.Delta,
			NewRating:   r.NewRating,
			Left:        r.Left,
		})
	}
	return out
}

// snapshot is what a reattaching member needs to resume.
func (m *Match) snapshot(accountID string) types.GameState {
	gs := types.GameState{
		Code:    m.cfg.ID,
		Status:  string(m.state.Status),
		Members: m.members(),
		Round:   len(m.state.Rounds) - 1,
		Rounds:  m.state.Rules.Rounds,
		Totals:  m.state.Totals(),
	}
	switch {
	case m.state.Current >= 0:
		r := m.state.Rounds[m.state.Current]
		loc := wireLocation(r.Target)
		gs.Target = &loc
		gs.Deadline = r.Deadline.UnixMilli()
		_, gs.Guessed = r.Guesses[accountID]
	case m.state.Status == engine.StatusStarting:
		gs.Deadline = m.state.StartDeadline.UnixMilli()
	}
	return gs
}

func codeFor(err error) types.ErrorCode {
	switch {
	case errors.Is(err, engine.ErrWrongRound):
		return types.CodeWrongRound
	case errors.Is(err, engine.ErrAlreadyGuessed):
		return types.CodeAlreadyGuessed
	case errors.Is(err, engine.ErrInvalidGuess):
		return types.CodeBadMessage
	case errors.Is(err, engine.ErrNotMember), errors.Is(err, engine.ErrMemberLeft):
		return types.CodeNotMember
	case errors.Is(err, engine.ErrWrongState), errors.Is(err, engine.ErrGameAlreadyFinished):
		return types.CodeInvalidState
	}
	return types.CodeInternal
}

func refFor(t engine.CommandType) string {
	switch t {
	case engine.CmdReady:
		return "ready"
	case engine.CmdGuess:
		return "guess"
	case engine.CmdLeave:
		return "leaveGame"
	case engine.CmdAbort:
		return "abortGame"
	}
	return ""
}
