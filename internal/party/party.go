package party

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/DoyleJ11/geoguess-server/internal/engine"
	"github.com/DoyleJ11/geoguess-server/pkg/types"
)

var (
	ErrPartyFull      = errors.New("party is full")
	ErrAlreadyStarted = errors.New("party already started")
	ErrNotHost        = errors.New("only the host may do that")
	ErrNotMember      = errors.New("not a member of this party")
	ErrAlreadyMember  = errors.New("already a member of this party")
	ErrNotInvited     = errors.New("no pending invite")
	ErrTooFewMembers  = errors.New("not enough members to start")
	ErrInvalidOptions = errors.New("invalid party options")
)

const (
	DefaultMaxMembers = 4
	MinMembers        = 1

	maxRounds       = 20
	minRoundTimeSec = 10
	maxRoundTimeSec = 600
)

type Member struct {
	AccountID string
	Name      string
	Rating    int
}

// Party is a pre-match lobby. Like Session it belongs to the hub loop.
type Party struct {
	Code       string
	Host       string
	Mode       string
	Status     engine.Status
	Members    []Member
	Options    types.PartyOptions
	MaxMembers int
	Invites    map[string]time.Time
	CreatedAt  time.Time
}

func New(code string, host Member, mode string, maxMembers int, now time.Time) *Party {
	if maxMembers <= 0 {
		maxMembers = DefaultMaxMembers
	}
	return &Party{
		Code:       code,
		Host:       host.AccountID,
		Mode:       mode,
		Status:     engine.StatusWaiting,
		Members:    []Member{host},
		Options:    types.PartyOptions{ShowRoadName: true},
		MaxMembers: maxMembers,
		Invites:    make(map[string]time.Time),
		CreatedAt:  now,
	}
}

func (p *Party) IsMember(accountID string) bool {
	return slices.ContainsFunc(p.Members, func(m Member) bool { return m.AccountID == accountID })
}

func (p *Party) Full() bool { return len(p.Members) >= p.MaxMembers }

func (p *Party) Join(m Member) error {
	if p.Status != engine.StatusWaiting {
		return ErrAlreadyStarted
	}
	if p.IsMember(m.AccountID) {
		return ErrAlreadyMember
	}
	if p.Full() {
		return ErrPartyFull
	}
	p.Members = append(p.Members, m)
	delete(p.Invites, m.AccountID)
	return nil
}

// Leave removes a member. A departing host dissolves the party; the caller
// returns every remaining member to idle.
func (p *Party) Leave(accountID string) (dissolved bool, err error) {
	i := slices.IndexFunc(p.Members, func(m Member) bool { return m.AccountID == accountID })
	if i < 0 {
		return false, ErrNotMember
	}
	p.Members = slices.Delete(p.Members, i, i+1)
	if accountID == p.Host || len(p.Members) == 0 {
		return true, nil
	}
	return false, nil
}

func (p *Party) Invite(from, to string, now time.Time) error {
	if from != p.Host {
		return ErrNotHost
	}
	if p.Status != engine.StatusWaiting {
		return ErrAlreadyStarted
	}
	if p.IsMember(to) {
		return ErrAlreadyMember
	}
	if p.Full() {
		return ErrPartyFull
	}
	p.Invites[to] = now
	return nil
}

func (p *Party) CancelInvite(from, to string) error {
	if from != p.Host {
		return ErrNotHost
	}
	if _, ok := p.Invites[to]; !ok {
		return ErrNotInvited
	}
	delete(p.Invites, to)
	return nil
}

func (p *Party) Decline(accountID string) error {
	if _, ok := p.Invites[accountID]; !ok {
		return ErrNotInvited
	}
	delete(p.Invites, accountID)
	return nil
}

func (p *Party) SetOptions(by string, o types.PartyOptions) error {
	if by != p.Host {
		return ErrNotHost
	}
	if p.Status != engine.StatusWaiting {
		return ErrAlreadyStarted
	}
	if o.Rounds < 0 || o.Rounds > maxRounds {
		return ErrInvalidOptions
	}
	if o.RoundTimeSec != 0 && (o.RoundTimeSec < minRoundTimeSec || o.RoundTimeSec > maxRoundTimeSec) {
		return ErrInvalidOptions
	}
	countries := make([]string, 0, len(o.Countries))
	for _, c := range o.Countries {
		c = strings.ToUpper(strings.TrimSpace(c))
		if len(c) != 2 {
			return ErrInvalidOptions
		}
		if !slices.Contains(countries, c) {
			countries = append(countries, c)
		}
	}
	o.Countries = countries
	p.Options = o
	return nil
}

// Start moves the party to starting. No one can join past this point.
func (p *Party) Start(by string) error {
	if by != p.Host {
		return ErrNotHost
	}
	if p.Status != engine.StatusWaiting {
		return ErrAlreadyStarted
	}
	if len(p.Members) < MinMembers {
		return ErrTooFewMembers
	}
	p.Status = engine.StatusStarting
	return nil
}

// Unstart reopens a party whose match could not be prepared.
func (p *Party) Unstart() {
	if p.Status == engine.StatusStarting {
		p.Status = engine.StatusWaiting
	}
}

// Rules layers the party options over base.
func (p *Party) Rules(base engine.Rules) engine.Rules {
	r := base
	r.ShowRoadName = p.Options.ShowRoadName
	r.NoMove = p.Options.NoMove
	r.NoPanZoom = p.Options.NoPanZoom
	if p.Options.Rounds > 0 {
		r.Rounds = p.Options.Rounds
	}
	if p.Options.RoundTimeSec > 0 {
		r.RoundTime = time.Duration(p.Options.RoundTimeSec) * time.Second
	}
	r.Countries = slices.Clone(p.Options.Countries)
	return r
}

func (p *Party) State(connected func(accountID string) bool) types.PartyState {
	members := make([]types.PartyMember, 0, len(p.Members))
	for _, m := range p.Members {
		members = append(members, types.PartyMember{
			AccountID: m.AccountID,
			Name:      m.Name,
			Connected: connected(m.AccountID),
		})
	}
	invited := make([]string, 0, len(p.Invites))
	for id := range p.Invites {
		invited = append(invited, id)
	}
	slices.Sort(invited)
	return types.PartyState{
		Code:       p.Code,
		Host:       p.Host,
		Members:    members,
		Invited:    invited,
		Status:     string(p.Status),
		Mode:       p.Mode,
		Options:    p.Options,
		MaxMembers: p.MaxMembers,
	}
}
