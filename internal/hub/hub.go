package hub

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/geoguess-server/internal/cache"
	"github.com/DoyleJ11/geoguess-server/internal/engine"
	"github.com/DoyleJ11/geoguess-server/internal/geo"
	"github.com/DoyleJ11/geoguess-server/internal/identity"
	"github.com/DoyleJ11/geoguess-server/internal/match"
	"github.com/DoyleJ11/geoguess-server/internal/matchmaker"
	"github.com/DoyleJ11/geoguess-server/internal/party"
	"github.com/DoyleJ11/geoguess-server/internal/rating"
	"github.com/DoyleJ11/geoguess-server/internal/session"
	"github.com/DoyleJ11/geoguess-server/internal/store"
	"github.com/DoyleJ11/geoguess-server/pkg/types"
)

const (
	prepareTimeout = 10 * time.Second
	shutdownDrain  = 2 * time.Second
)

type ResultWriter interface {
	ApplyResult(ctx context.Context, accountID string, r store.MatchResult) error
}

type Config struct {
	InstanceID      string
	ReconnectGrace  time.Duration
	PartyMaxMembers int
	Rules           engine.Rules
	Selector        rating.Selector
	Rating          rating.Engine
	ResultsTimeout  time.Duration
	RestartQueued   bool
}

type Deps struct {
	Locations geo.Provider
	Results   ResultWriter
	Cache     cache.Cache
	Clock     clockwork.Clock
	Logger    *zap.Logger
}

type HubMsg interface{ isHubMsg() }

type Admit struct {
	Conn  *session.Conn
	Reply chan error
}

type Verify struct {
	ConnID   string
	Identity identity.Identity
	Rating   int
	Reply    chan error
}

// ClientMsg carries a decoded frame that needs no collaborator I/O.
type ClientMsg struct {
	ConnID string
	Msg    types.Inbound
}

type Retire struct{ ConnID string }

// CreateParty arrives with a code the transport already reserved in the cache.
type CreateParty struct {
	ConnID string
	Code   string
	Mode   string
	Reply  chan error
}

// Invite arrives after the transport confirmed the social link.
type Invite struct {
	ConnID string
	Target string
	Reply  chan InviteOutcome
}

type InviteOutcome struct {
	Delivered bool
	Invite    store.Invite
	Err       error
}

type RunMatchmaking struct{}

type GetStats struct{ Reply chan Stats }

type Stats struct {
	Connections int `json:"connections"`
	Sessions    int `json:"sessions"`
	Parties     int `json:"parties"`
	Queued      int `json:"queued"`
	Matches     int `json:"matches"`
}

// GetSession is test-only: a copy of a session without racing the loop.
type GetSession struct {
	AccountID string
	Reply     chan *session.Session
}

type ShutdownHub struct{ Reply chan struct{} }

type matchPrepared struct {
	group   matchmaker.Group
	targets []geo.Location
	err     error
}

type partyPrepared struct {
	code    string
	targets []geo.Location
	err     error
}

type matchFinished struct{ result match.Result }
type matchClosed struct{ id string }
type evict struct {
	accountID string
	gen       uint64
}

func (Admit) isHubMsg()          {}
func (Verify) isHubMsg()         {}
func (ClientMsg) isHubMsg()      {}
func (Retire) isHubMsg()         {}
func (CreateParty) isHubMsg()    {}
func (Invite) isHubMsg()         {}
func (RunMatchmaking) isHubMsg() {}
func (GetStats) isHubMsg()       {}
func (GetSession) isHubMsg()     {}
func (ShutdownHub) isHubMsg()    {}
func (matchPrepared) isHubMsg()  {}
func (partyPrepared) isHubMsg()  {}
func (matchFinished) isHubMsg()  {}
func (matchClosed) isHubMsg()    {}
func (evict) isHubMsg()          {}

type eviction struct {
	timer clockwork.Timer
	gen   uint64
}

type Hub struct {
	cfg  Config
	deps Deps

	inbox     chan HubMsg
	reg       *session.Registry
	parties   map[string]*party.Party
	queue     *matchmaker.Queue
	matches   map[string]*match.Match
	evictions map[string]eviction
	evictGen  uint64

	clock clockwork.Clock
	log   *zap.Logger
	ctx   context.Context
	done  chan struct{}
	// cancel stops the loop and every match it started.
	cancel context.CancelFunc
}

func NewHub(parent context.Context, cfg Config, deps Deps) *Hub {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemory(deps.Clock)
	}
	if cfg.PartyMaxMembers <= 0 {
		cfg.PartyMaxMembers = party.DefaultMaxMembers
	}
	if cfg.Rules.Rounds == 0 {
		cfg.Rules = engine.DefaultRules()
	}

	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		cfg:       cfg,
		deps:      deps,
		inbox:     make(chan HubMsg, 256),
		reg:       session.NewRegistry(),
		parties:   make(map[string]*party.Party),
		queue:     matchmaker.NewQueue(cfg.Selector),
		matches:   make(map[string]*match.Match),
		evictions: make(map[string]eviction),
		clock:     deps.Clock,
		log:       deps.Logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

// Post hands msg to the loop without blocking past the hub's lifetime.
func (h *Hub) Post(msg HubMsg) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.inbox <- msg:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			if stop := h.handle(m); stop {
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) handle(m HubMsg) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.DPanic("hub handler panicked", zap.Any("panic", r), zap.String("msg", msgName(m)))
			if cm, ok := m.(ClientMsg); ok {
				if s, ok := h.reg.ByConn(cm.ConnID); ok {
					s.Send(types.NewError(types.CodeInternal, types.TypeOf(cm.Msg), "internal error"))
				}
			}
			stop = false
		}
	}()

	switch msg := m.(type) {
	case Admit:
		msg.Reply <- h.admit(msg.Conn)

	case Verify:
		msg.Reply <- h.verify(msg)

	case ClientMsg:
		h.dispatch(msg)

	case Retire:
		h.retire(msg.ConnID)

	case CreateParty:
		msg.Reply <- h.createParty(msg)

	case Invite:
		msg.Reply <- h.invite(msg)

	case RunMatchmaking:
		h.runMatchmaking()

	case matchPrepared:
		h.onMatchPrepared(msg)

	case partyPrepared:
		h.onPartyPrepared(msg)

	case matchFinished:
		h.onMatchFinished(msg.result)

	case matchClosed:
		h.onMatchClosed(msg.id)

	case evict:
		h.evict(msg)

	case GetStats:
		msg.Reply <- Stats{
			Connections: h.reg.Connections(),
			Sessions:    h.reg.Accounts(),
			Parties:     len(h.parties),
			Queued:      h.queue.Len(),
			Matches:     len(h.matches),
		}

	case GetSession:
		if s, ok := h.reg.ByAccount(msg.AccountID); ok {
			c := *s
			msg.Reply <- &c
		} else {
			msg.Reply <- nil
		}

	case ShutdownHub:
		h.shutdown()
		close(msg.Reply)
		return true
	}
	return false
}

func (h *Hub) shutdown() {
	for _, mt := range h.matches {
		mt.Post(match.Shutdown{})
	}
	// matches never wait on the hub, so this cannot deadlock
	drain, cancel := context.WithTimeout(context.Background(), shutdownDrain)
	defer cancel()
	for id, mt := range h.matches {
		select {
		case <-mt.Done():
		case <-drain.Done():
			h.log.Warn("match did not drain in time", zap.String("match", id))
		}
	}
	h.reg.EachConn(func(s *session.Session) {
		if s.State != session.InMatch {
			s.Send(types.ServerShutdown{})
		}
	})
	for _, ev := range h.evictions {
		ev.timer.Stop()
	}
	clear(h.matches)
	clear(h.parties)
	h.log.Info("hub drained")
}

// request posts msg and waits for its reply.
func request[T any](ctx context.Context, h *Hub, msg HubMsg, reply chan T) (T, error) {
	var zero T
	select {
	case h.inbox <- msg:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-h.ctx.Done():
		return zero, ErrClosed
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-h.ctx.Done():
		return zero, ErrClosed
	}
}

func (h *Hub) Admit(ctx context.Context, conn *session.Conn) error {
	reply := make(chan error, 1)
	err, reqErr := request(ctx, h, Admit{Conn: conn, Reply: reply}, reply)
	return errors.Join(reqErr, err)
}

func (h *Hub) Verify(ctx context.Context, connID string, id identity.Identity, r int) error {
	reply := make(chan error, 1)
	err, reqErr := request(ctx, h, Verify{ConnID: connID, Identity: id, Rating: r, Reply: reply}, reply)
	return errors.Join(reqErr, err)
}

func (h *Hub) CreateParty(ctx context.Context, connID, code, mode string) error {
	reply := make(chan error, 1)
	err, reqErr := request(ctx, h, CreateParty{ConnID: connID, Code: code, Mode: mode, Reply: reply}, reply)
	return errors.Join(reqErr, err)
}

func (h *Hub) Invite(ctx context.Context, connID, target string) (InviteOutcome, error) {
	reply := make(chan InviteOutcome, 1)
	out, err := request(ctx, h, Invite{ConnID: connID, Target: target, Reply: reply}, reply)
	if err != nil {
		return InviteOutcome{}, err
	}
	return out, out.Err
}

func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	return request(ctx, h, GetStats{Reply: reply}, reply)
}

// Shutdown notifies every connection and stops the loop.
func (h *Hub) Shutdown(ctx context.Context) error {
	reply := make(chan struct{})
	_, err := request(ctx, h, ShutdownHub{Reply: reply}, reply)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (h *Hub) InstanceID() string { return h.cfg.InstanceID }

func (h *Hub) Cache() cache.Cache { return h.deps.Cache }

func (h *Hub) Grace() time.Duration { return h.cfg.ReconnectGrace }

func (h *Hub) RestartQueued() bool { return h.cfg.RestartQueued }

// post is for goroutines the hub started itself.
func (h *Hub) post(msg HubMsg) {
	select {
	case h.inbox <- msg:
	case <-h.ctx.Done():
	}
}

func msgName(m HubMsg) string {
	switch msg := m.(type) {
	case ClientMsg:
		return types.TypeOf(msg.Msg)
	case Admit:
		return "admit"
	case Verify:
		return "verify"
	case Retire:
		return "retire"
	case CreateParty:
		return "createParty"
	case Invite:
		return "invite"
	}
	return "internal"
}
