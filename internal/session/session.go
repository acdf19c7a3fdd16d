package session

import (
	"errors"
	"time"

	"github.com/DoyleJ11/geoguess-server/pkg/types"
)

var ErrBusy = errors.New("session is already in a party, queue or match")

type State int

const (
	Idle State = iota
	InParty
	Queued
	InMatch
)

func (s State) String() string {
	switch s {
	case InParty:
		return "party"
	case Queued:
		return "queued"
	case InMatch:
		return "game"
	default:
		return "idle"
	}
}

// Session is one participant. It is owned by the hub loop and must not be
// touched from any other goroutine.
type Session struct {
	ConnID    string
	AccountID string
	Name      string
	Rating    int
	Verified  bool

	State     State
	PartyCode string
	MatchID   string

	// LastMatchID is the finished match still waiting for this member's ack.
	LastMatchID string

	Conn           *Conn
	Disconnected   bool
	DisconnectedAt time.Time
}

func (s *Session) Send(m types.Outbound) bool {
	if s.Conn == nil || s.Disconnected {
		return false
	}
	return s.Conn.Send(m)
}

func (s *Session) Code() string {
	switch s.State {
	case InParty:
		return s.PartyCode
	case InMatch:
		return s.MatchID
	}
	return ""
}

func (s *Session) EnterParty(code string) error {
	if s.State != Idle {
		return ErrBusy
	}
	s.State = InParty
	s.PartyCode = code
	return nil
}

func (s *Session) EnterQueue() error {
	if s.State != Idle {
		return ErrBusy
	}
	s.State = Queued
	return nil
}

// EnterMatch is allowed from a party or the queue, which is how matches form.
func (s *Session) EnterMatch(id string) error {
	if s.State == InMatch {
		return ErrBusy
	}
	s.State = InMatch
	s.PartyCode = ""
	s.MatchID = id
	return nil
}

func (s *Session) Detach() {
	s.State = Idle
	s.PartyCode = ""
	s.MatchID = ""
}

// FinishMatch returns the session to idle while remembering the match so
// results can still be acknowledged.
func (s *Session) FinishMatch(id string) {
	if s.State == InMatch && s.MatchID == id {
		s.Detach()
		s.LastMatchID = id
	}
}
