package engine

import (
	"errors"
	"time"

	"github.com/DoyleJ11/geoguess-server/internal/geo"
)

var ErrWrongState = errors.New("command not valid in current state")
var ErrNotMember = errors.New("not a member of this match")
var ErrMemberLeft = errors.New("member has left the match")
var ErrWrongRound = errors.New("guess is not for the open round")
var ErrAlreadyGuessed = errors.New("guess already submitted for this round")
var ErrInvalidGuess = errors.New("invalid guess coordinates")
var ErrStaleTimer = errors.New("timer no longer applies")
var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrGameAlreadyFinished = errors.New("game already finished")
var ErrNoTargets = errors.New("not enough targets for configured rounds")

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusStarting Status = "starting"
	StatusInGame   Status = "in-game"
	StatusFinished Status = "finished"
)

type Rules struct {
	Rounds         int
	RoundTime      time.Duration
	StartCountdown time.Duration
	Intermission   time.Duration
	ShowRoadName   bool
	NoMove         bool
	NoPanZoom      bool
	Countries      []string
}

func DefaultRules() Rules {
	return Rules{
		Rounds:         5,
		RoundTime:      60 * time.Second,
		StartCountdown: 5 * time.Second,
		Intermission:   5 * time.Second,
		ShowRoadName:   true,
	}
}

type Member struct {
	ID     string
	Name   string
	Rating int
	Ready  bool
	Left   bool
}

type Guess struct {
	Coord      geo.Coord
	ClientTime int64
	At         time.Time
	DistanceKm float64
	Score      int
}

type Round struct {
	Index    int
	Target   geo.Location
	Deadline time.Time
	Guesses  map[string]Guess
	Scores   map[string]int
	Closed   bool
}

type State struct {
	Status        Status
	Rules         Rules
	Members       []Member
	Targets       []geo.Location
	Rounds        []Round
	Current       int // open round index, -1 when no round is open
	StartDeadline time.Time
	Aborted       bool
}

type CommandType string

const (
	CmdStart             CommandType = "Start"
	CmdReady             CommandType = "Ready"
	CmdCountdownElapsed  CommandType = "CountdownElapsed"
	CmdGuess             CommandType = "Guess"
	CmdRoundTimeout      CommandType = "RoundTimeout"
	CmdNextRound         CommandType = "NextRound"
	CmdLeave             CommandType = "Leave"
	CmdAbort             CommandType = "Abort"
)

/*
	CmdStart            -> EvtCountdownStarted
	CmdReady            -> (all ready) EvtGameStarted -> EvtRoundStarted
	CmdCountdownElapsed -> EvtGameStarted -> EvtRoundStarted
	CmdGuess            -> EvtGuessAccepted -> (all guessed) EvtRoundClosed -> EvtGameFinished on the last round
	CmdRoundTimeout     -> EvtRoundClosed -> EvtGameFinished on the last round
	CmdNextRound        -> EvtRoundStarted
	CmdLeave            -> EvtMemberLeft, may close the round or finish the game when nobody is left
	CmdAbort            -> EvtGameFinished (aborted)
*/

type Command struct {
	Type       CommandType
	MemberID   string
	Round      int
	Coord      geo.Coord
	ClientTime int64
	Now        time.Time
}

type EventType string

const (
	EvtCountdownStarted EventType = "CountdownStarted"
	EvtGameStarted      EventType = "GameStarted"
	EvtRoundStarted     EventType = "RoundStarted"
	EvtGuessAccepted    EventType = "GuessAccepted"
	EvtRoundClosed      EventType = "RoundClosed"
	EvtMemberLeft       EventType = "MemberLeft"
	EvtGameFinished     EventType = "GameFinished"
)

type Event struct {
	Type     EventType
	MemberID string
	Round    int
}

// NewState builds a match in waiting. Targets must cover every round.
func NewState(rules Rules, members []Member, targets []geo.Location) (State, error) {
	if len(targets) < rules.Rounds {
		return State{}, ErrNoTargets
	}
	ms := make([]Member, len(members))
	copy(ms, members)
	return State{
		Status:  StatusWaiting,
		Rules:   rules,
		Members: ms,
		Targets: targets,
		Current: -1,
	}, nil
}

// Apply validates cmd against s and returns the resulting events and state.
// On error s is returned untouched. The returned state may share maps with s,
// so callers must replace s with it.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Status == StatusFinished {
		return nil, s, ErrGameAlreadyFinished
	}

	switch cmd.Type {
	case CmdStart:
		if s.Status != StatusWaiting {
			return nil, s, ErrWrongState
		}
		newState := s
		newState.Status = StatusStarting
		newState.StartDeadline = cmd.Now.Add(s.Rules.StartCountdown)
		return []Event{{Type: EvtCountdownStarted}}, newState, nil

	case CmdReady:
		if s.Status != StatusStarting {
			return nil, s, ErrWrongState
		}
		i, err := activeMember(s, cmd.MemberID)
		if err != nil {
			return nil, s, err
		}
		newState := withMembers(s)
		newState.Members[i].Ready = true
		if !allReady(newState) {
			return nil, newState, nil
		}
		events, newState := beginGame(newState, cmd.Now)
		return events, newState, nil

	case CmdCountdownElapsed:
		if s.Status != StatusStarting {
			return nil, s, ErrStaleTimer
		}
		events, newState := beginGame(s, cmd.Now)
		return events, newState, nil

	case CmdGuess:
		if s.Status != StatusInGame {
			return nil, s, ErrWrongState
		}
		if _, err := activeMember(s, cmd.MemberID); err != nil {
			return nil, s, err
		}
		if s.Current < 0 || cmd.Round != s.Current {
			return nil, s, ErrWrongRound
		}
		if !cmd.Coord.Valid() {
			return nil, s, ErrInvalidGuess
		}
		round := s.Rounds[s.Current]
		if _, done := round.Guesses[cmd.MemberID]; done {
			return nil, s, ErrAlreadyGuessed
		}

		d := geo.DistanceKm(cmd.Coord, round.Target.Coord)
		round.Guesses[cmd.MemberID] = Guess{
			Coord:      cmd.Coord,
			ClientTime: cmd.ClientTime,
			At:         cmd.Now,
			DistanceKm: d,
			Score:      Score(d),
		}
		newState := s
		events := []Event{{Type: EvtGuessAccepted, MemberID: cmd.MemberID, Round: s.Current}}
		if allGuessed(newState) {
			var more []Event
			more, newState = closeRound(newState)
			events = append(events, more...)
		}
		return events, newState, nil

	case CmdRoundTimeout:
		if s.Status != StatusInGame || s.Current < 0 || cmd.Round != s.Current {
			return nil, s, ErrStaleTimer
		}
		events, newState := closeRound(s)
		return events, newState, nil

	case CmdNextRound:
		if s.Status != StatusInGame || s.Current >= 0 || len(s.Rounds) >= s.Rules.Rounds {
			return nil, s, ErrStaleTimer
		}
		events, newState := openRound(s, cmd.Now)
		return events, newState, nil

	case CmdLeave:
		i, err := activeMember(s, cmd.MemberID)
		if err != nil {
			return nil, s, err
		}
		newState := withMembers(s)
		newState.Members[i].Left = true
		events := []Event{{Type: EvtMemberLeft, MemberID: cmd.MemberID}}

		if activeCount(newState) == 0 {
			if newState.Status != StatusInGame {
				newState.Aborted = true
			}
			if newState.Status == StatusInGame && newState.Current >= 0 {
				var more []Event
				more, newState = closeRound(newState)
				events = append(events, more...)
			}
			if newState.Status != StatusFinished {
				var more []Event
				more, newState = finish(newState)
				events = append(events, more...)
			}
			return events, newState, nil
		}

		switch newState.Status {
		case StatusStarting:
			if allReady(newState) {
				more, started := beginGame(newState, cmd.Now)
				return append(events, more...), started, nil
			}
		case StatusInGame:
			if newState.Current >= 0 && allGuessed(newState) {
				more, closed := closeRound(newState)
				return append(events, more...), closed, nil
			}
		}
		return events, newState, nil

	case CmdAbort:
		newState := s
		newState.Aborted = true
		if newState.Current >= 0 {
			// the open round is discarded rather than scored
			newState.Rounds = newState.Rounds[:newState.Current]
			newState.Current = -1
		}
		events, newState := finish(newState)
		return events, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func beginGame(s State, now time.Time) ([]Event, State) {
	s.Status = StatusInGame
	events, s := openRound(s, now)
	return append([]Event{{Type: EvtGameStarted}}, events...), s
}

func openRound(s State, now time.Time) ([]Event, State) {
	idx := len(s.Rounds)
	rounds := make([]Round, idx, idx+1)
	copy(rounds, s.Rounds)
	s.Rounds = append(rounds, Round{
		Index:    idx,
		Target:   s.Targets[idx],
		Deadline: now.Add(s.Rules.RoundTime),
		Guesses:  map[string]Guess{},
		Scores:   map[string]int{},
	})
	s.Current = idx
	return []Event{{Type: EvtRoundStarted, Round: idx}}, s
}

// closeRound scores the open round. Members without a guess, including those
// who left, get FloorScore.
func closeRound(s State) ([]Event, State) {
	round := s.Rounds[s.Current]
	for _, m := range s.Members {
		if g, ok := round.Guesses[m.ID]; ok {
			round.Scores[m.ID] = g.Score
		} else {
			round.Scores[m.ID] = FloorScore
		}
	}
	round.Closed = true
	s.Rounds[s.Current] = round

	events := []Event{{Type: EvtRoundClosed, Round: s.Current}}
	s.Current = -1
	if len(s.Rounds) >= s.Rules.Rounds {
		more, finished := finish(s)
		events = append(events, more...)
		return events, finished
	}
	return events, s
}

func finish(s State) ([]Event, State) {
	s.Status = StatusFinished
	s.Current = -1
	return []Event{{Type: EvtGameFinished}}, s
}

func withMembers(s State) State {
	ms := make([]Member, len(s.Members))
	copy(ms, s.Members)
	s.Members = ms
	return s
}

// Clone returns a copy of s that shares no slices or maps with it.
func (s State) Clone() State {
	out := withMembers(s)
	out.Targets = append([]geo.Location(nil), s.Targets...)
	out.Rules.Countries = append([]string(nil), s.Rules.Countries...)
	out.Rounds = make([]Round, len(s.Rounds))
	for i, r := range s.Rounds {
		guesses := make(map[string]Guess, len(r.Guesses))
		for id, g := range r.Guesses {
			guesses[id] = g
		}
		scores := make(map[string]int, len(r.Scores))
		for id, sc := range r.Scores {
			scores[id] = sc
		}
		r.Guesses, r.Scores = guesses, scores
		out.Rounds[i] = r
	}
	return out
}

func activeMember(s State, id string) (int, error) {
	for i, m := range s.Members {
		if m.ID != id {
			continue
		}
		if m.Left {
			return -1, ErrMemberLeft
		}
		return i, nil
	}
	return -1, ErrNotMember
}

func activeCount(s State) int {
	n := 0
	for _, m := range s.Members {
		if !m.Left {
			n++
		}
	}
	return n
}

func allReady(s State) bool {
	for _, m := range s.Members {
		if !m.Left && !m.Ready {
			return false
		}
	}
	return true
}

func allGuessed(s State) bool {
	round := s.Rounds[s.Current]
	for _, m := range s.Members {
		if m.Left {
			continue
		}
		if _, ok := round.Guesses[m.ID]; !ok {
			return false
		}
	}
	return true
}
