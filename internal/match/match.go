package match

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/geoguess-server/internal/engine"
	"github.com/DoyleJ11/geoguess-server/internal/geo"
	"github.com/DoyleJ11/geoguess-server/internal/rating"
	"github.com/DoyleJ11/geoguess-server/internal/session"
	"github.com/DoyleJ11/geoguess-server/pkg/types"
)

var ErrNotHost = errors.New("only the host may abort")

const DefaultResultsTimeout = 30 * time.Second

type Msg interface{ isMatchMsg() }

type Ready struct{ AccountID string }

type Guess struct {
	AccountID  string
	Round      int
	Coord      geo.Coord
	ClientTime int64
}

// Leave marks a member as permanently gone: explicit leaveGame or eviction
// after the grace window.
type Leave struct{ AccountID string }

// Detach and Attach track transport loss inside the grace window.
type Detach struct{ AccountID string }

type Attach struct {
	AccountID string
	Conn      *session.Conn
}

type Ack struct{ AccountID string }

type Abort struct{ AccountID string }

type Shutdown struct{}

type GetState struct {
	Reply chan View
}

type countdownElapsed struct{ gen uint64 }
type roundTimeout struct {
	gen   uint64
	round int
}
type nextRound struct{ gen uint64 }
type resultsTimeout struct{ gen uint64 }

func (Ready) isMatchMsg()            {}
func (Guess) isMatchMsg()            {}
func (Leave) isMatchMsg()            {}
func (Detach) isMatchMsg()           {}
func (Attach) isMatchMsg()           {}
func (Ack) isMatchMsg()              {}
func (Abort) isMatchMsg()            {}
func (Shutdown) isMatchMsg()         {}
func (GetState) isMatchMsg()         {}
func (countdownElapsed) isMatchMsg() {}
func (roundTimeout) isMatchMsg()     {}
func (nextRound) isMatchMsg()        {}
func (resultsTimeout) isMatchMsg()   {}

// View is a race-free copy of the match for tests and stats.
type View struct {
	State     engine.State
	Connected map[string]bool
	Acked     map[string]bool
	Result    *Result
}

type ResultMember struct {
	AccountID string
	Name      string
	Total     int
	Rank      int
	Delta     float64
	NewRating int
	Left      bool
}

type Result struct {
	ID      string
	Ranked  bool
	Aborted bool
	Members []ResultMember
}

type Config struct {
	ID             string
	Host           string // empty for public matches
	Mode           string
	Ranked         bool
	Rules          engine.Rules
	Members        []engine.Member
	Targets        []geo.Location
	Rating         rating.Engine
	ResultsTimeout time.Duration
	Clock          clockwork.Clock
	Logger         *zap.Logger

	// OnFinished and OnClosed run on the match goroutine and must not block.
	OnFinished func(Result)
	OnClosed   func(id string)
}

type Match struct {
	cfg    Config
	inbox  chan Msg
	state  engine.State
	conns  map[string]*session.Conn
	acked  map[string]bool
	result *Result

	clock    clockwork.Clock
	timer    clockwork.Timer
	timerGen uint64

	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds the match, starts its countdown and runs it until every member
// has acknowledged the results, the results timeout passes, or ctx ends.
func New(parent context.Context, cfg Config, conns map[string]*session.Conn) (*Match, error) {
	st, err := engine.NewState(cfg.Rules, cfg.Members, cfg.Targets)
	if err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ResultsTimeout <= 0 {
		cfg.ResultsTimeout = DefaultResultsTimeout
	}

	ctx, cancel := context.WithCancel(parent)
	m := &Match{
		cfg:    cfg,
		inbox:  make(chan Msg, 64),
		state:  st,
		conns:  make(map[string]*session.Conn, len(conns)),
		acked:  make(map[string]bool),
		clock:  cfg.Clock,
		log:    cfg.Logger.With(zap.String("match", cfg.ID)),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for id, c := range conns {
		m.conns[id] = c
	}

	m.apply(engine.Command{Type: engine.CmdStart, Now: m.clock.Now()}, "")
	go m.loop()
	return m, nil
}

func (m *Match) ID() string { return m.cfg.ID }

// Post delivers msg unless the match has already closed.
func (m *Match) Post(msg Msg) bool {
	if m.ctx.Err() != nil {
		return false
	}
	select {
	case m.inbox <- msg:
		return true
	case <-m.ctx.Done():
		return false
	}
}

func (m *Match) Done() <-chan struct{} { return m.done }

func (m *Match) loop() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			m.stopTimer()
			return

		case msg := <-m.inbox:
			if stop := m.handle(msg); stop {
				m.close()
				return
			}
		}
	}
}

func (m *Match) handle(msg Msg) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.DPanic("match handler panicked", zap.Any("panic", r))
			stop = false
		}
	}()

	now := m.clock.Now()
	switch msg := msg.(type) {
	case Ready:
		m.apply(engine.Command{Type: engine.CmdReady, MemberID: msg.AccountID, Now: now}, msg.AccountID)

	case Guess:
		m.apply(engine.Command{
			Type:       engine.CmdGuess,
			MemberID:   msg.AccountID,
			Round:      msg.Round,
			Coord:      msg.Coord,
			ClientTime: msg.ClientTime,
			Now:        now,
		}, msg.AccountID)

	case Leave:
		conn := m.conns[msg.AccountID]
		delete(m.conns, msg.AccountID)
		if m.state.Status == engine.StatusFinished {
			m.acked[msg.AccountID] = true
			return m.allAcked()
		}
		if err := m.applyErr(engine.Command{Type: engine.CmdLeave, MemberID: msg.AccountID, Now: now}); err != nil && conn != nil {
			conn.Send(types.NewError(codeFor(err), "leaveGame", err.Error()))
		}
		if m.state.Status == engine.StatusFinished {
			return m.allAcked()
		}

	case Detach:
		if _, ok := m.conns[msg.AccountID]; ok {
			m.conns[msg.AccountID] = nil
			m.broadcast(types.PlayerConnection{AccountID: msg.AccountID, Connected: false})
		}
		if m.state.Status == engine.StatusFinished {
			return m.allAcked()
		}

	case Attach:
		if _, ok := m.conns[msg.AccountID]; !ok {
			msg.Conn.Send(types.NewError(types.CodeNotMember, "", "not a member of this match"))
			break
		}
		m.conns[msg.AccountID] = msg.Conn
		m.broadcast(types.PlayerConnection{AccountID: msg.AccountID, Connected: true})
		msg.Conn.Send(m.snapshot(msg.AccountID))
		if m.result != nil {
			msg.Conn.Send(m.gameOver())
		}

	case Ack:
		if m.state.Status != engine.StatusFinished {
			m.sendTo(msg.AccountID, types.NewError(types.CodeInvalidState, "ackResults", "match is not finished"))
			break
		}
		m.acked[msg.AccountID] = true
		return m.allAcked()

	case Abort:
		if m.cfg.Host == "" || msg.AccountID != m.cfg.Host {
			m.sendTo(msg.AccountID, types.NewError(types.CodeNotHost, "abortGame", ErrNotHost.Error()))
			break
		}
		m.apply(engine.Command{Type: engine.CmdAbort, MemberID: msg.AccountID, Now: now}, msg.AccountID)

	case countdownElapsed:
		if msg.gen == m.timerGen {
			m.apply(engine.Command{Type: engine.CmdCountdownElapsed, Now: now}, "")
		}

	case roundTimeout:
		if msg.gen == m.timerGen {
			m.apply(engine.Command{Type: engine.CmdRoundTimeout, Round: msg.round, Now: now}, "")
		}

	case nextRound:
		if msg.gen == m.timerGen {
			m.apply(engine.Command{Type: engine.CmdNextRound, Now: now}, "")
		}

	case resultsTimeout:
		if msg.gen == m.timerGen {
			return true
		}

	case GetState:
		// test-only: reflect internal state without data races
		v := View{State: m.state.Clone(), Connected: map[string]bool{}, Acked: map[string]bool{}, Result: m.result}
		for id, c := range m.conns {
			v.Connected[id] = c != nil
		}
		for id := range m.acked {
			v.Acked[id] = true
		}
		msg.Reply <- v

	case Shutdown:
		m.broadcast(types.ServerShutdown{})
		return true
	}
	return false
}

// apply runs cmd through the engine. Errors go back to origin when the
// command came from a member; timer commands that no longer apply are dropped.
func (m *Match) apply(cmd engine.Command, origin string) {
	err := m.applyErr(cmd)
	if err == nil {
		return
	}
	if origin == "" {
		m.log.Debug("timer command dropped", zap.String("cmd", string(cmd.Type)), zap.Error(err))
		return
	}
	m.sendTo(origin, types.NewError(codeFor(err), refFor(cmd.Type), err.Error()))
}

func (m *Match) applyErr(cmd engine.Command) error {
	events, next, err := engine.Apply(m.state, cmd)
	if err != nil {
		return err
	}
	m.state = next
	for _, ev := range events {
		m.emit(ev)
	}
	return nil
}

func (m *Match) emit(ev engine.Event) {
	switch ev.Type {
	case engine.EvtCountdownStarted:
		m.schedule(m.state.StartDeadline.Sub(m.clock.Now()), func(gen uint64) Msg { return countdownElapsed{gen: gen} })
		m.broadcast(m.gameStarting())

	case engine.EvtRoundStarted:
		r := m.state.Rounds[ev.Round]
		round := r.Index
		m.schedule(r.Deadline.Sub(m.clock.Now()), func(gen uint64) Msg { return roundTimeout{gen: gen, round: round} })
		m.broadcast(types.RoundStart{
			Round:    r.Index,
			Rounds:   m.state.Rules.Rounds,
			Target:   wireLocation(r.Target),
			Deadline: r.Deadline.UnixMilli(),
		})

	case engine.EvtGuessAccepted:
		m.sendTo(ev.MemberID, types.GuessAccepted{Round: ev.Round})

	case engine.EvtRoundClosed:
		m.stopTimer()
		m.broadcast(m.roundOver(ev.Round))
		if len(m.state.Rounds) < m.state.Rules.Rounds && m.state.Status == engine.StatusInGame {
			m.scheduleNextRound()
		}

	case engine.EvtMemberLeft:
		m.broadcast(types.PlayerLeft{AccountID: ev.MemberID})

	case engine.EvtGameFinished:
		m.finish()
	}
}

func (m *Match) scheduleNextRound() {
	if m.state.Rules.Intermission <= 0 {
		m.stopTimer()
		m.apply(engine.Command{Type: engine.CmdNextRound, Now: m.clock.Now()}, "")
		return
	}
	m.schedule(m.state.Rules.Intermission, func(gen uint64) Msg { return nextRound{gen: gen} })
}

// finish settles results exactly once, however the match got here.
func (m *Match) finish() {
	if m.result != nil {
		return
	}
	res := Result{ID: m.cfg.ID, Ranked: m.cfg.Ranked, Aborted: m.state.Aborted}

	var deltas map[string]float64
	standings := m.state.Standings()
	if !m.state.Aborted {
		in := make([]rating.Standing, 0, len(standings))
		for _, p := range standings {
			mem, _ := m.state.Member(p.MemberID)
			in = append(in, rating.Standing{MemberID: p.MemberID, Rating: float64(mem.Rating), Score: p.Total})
		}
		var err error
		deltas, err = m.cfg.Rating.ComputeDeltas(in)
		if err != nil {
			m.log.DPanic("rating computation failed", zap.Error(err))
			deltas = nil
		}
	}

	for _, p := range standings {
		mem, _ := m.state.Member(p.MemberID)
		d := deltas[p.MemberID]
		res.Members = append(res.Members, ResultMember{
			AccountID: p.MemberID,
			Name:      mem.Name,
			Total:     p.Total,
			Rank:      p.Rank,
			Delta:     d,
			NewRating: rating.Apply(mem.Rating, d),
			Left:      mem.Left,
		})
	}
	m.result = &res

	m.schedule(m.cfg.ResultsTimeout, func(gen uint64) Msg { return resultsTimeout{gen: gen} })
	m.log.Info("match finished",
		zap.Bool("aborted", res.Aborted),
		zap.Bool("ranked", res.Ranked),
		zap.Int("rounds", len(m.state.Rounds)))
	if m.cfg.OnFinished != nil {
		m.cfg.OnFinished(res)
	}
	m.broadcast(m.gameOver())
}

// allAcked reports whether every member still reachable has acknowledged.
func (m *Match) allAcked() bool {
	for id, c := range m.conns {
		if c != nil && !m.acked[id] {
			return false
		}
	}
	return true
}

func (m *Match) close() {
	m.stopTimer()
	m.cancel()
	if m.cfg.OnClosed != nil {
		m.cfg.OnClosed(m.cfg.ID)
	}
}

func (m *Match) schedule(d time.Duration, mk func(gen uint64) Msg) {
	m.stopTimer()
	m.timerGen++
	msg := mk(m.timerGen)
	if d < 0 {
		d = 0
	}
	m.timer = m.clock.AfterFunc(d, func() { m.Post(msg) })
}

func (m *Match) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
}

func (m *Match) broadcast(msg types.Outbound) {
	for _, c := range m.conns {
		if c != nil {
			c.Send(msg)
		}
	}
}

func (m *Match) sendTo(accountID string, msg types.Outbound) {
	if c := m.conns[accountID]; c != nil {
		c.Send(msg)
	}
}
