package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/geoguess-server/internal/cache"
	"github.com/DoyleJ11/geoguess-server/internal/hub"
	"github.com/DoyleJ11/geoguess-server/internal/identity"
	"github.com/DoyleJ11/geoguess-server/internal/party"
	"github.com/DoyleJ11/geoguess-server/internal/session"
	"github.com/DoyleJ11/geoguess-server/internal/store"
	"github.com/DoyleJ11/geoguess-server/pkg/types"
)

const (
	writeTimeout    = 3 * time.Second
	callTimeout     = 5 * time.Second
	pingInterval    = 30 * time.Second
	pingTimeout     = 10 * time.Second
	readLimit       = 8 << 10
	presenceTTL     = 10 * time.Minute
	maxCodeAttempts = 8
)

type Profiles interface {
	Rating(ctx context.Context, accountID string) (int, error)
}

type Social interface {
	AreLinked(ctx context.Context, a, b string) (bool, error)
}

type Notifications interface {
	AddInvite(ctx context.Context, inv store.Invite) error
	TakeInvites(ctx context.Context, accountID string) ([]store.Invite, error)
}

type Deps struct {
	Identity      identity.Verifier
	Profiles      Profiles
	Social        Social
	Notifications Notifications
	Clock         clockwork.Clock
	Logger        *zap.Logger
	// OriginPatterns loosens the same-origin check, e.g. "localhost:*" in development.
	OriginPatterns []string

	// Zero values fall back to pingInterval and presenceTTL.
	PingInterval time.Duration
	PresenceTTL  time.Duration
}

// Handler upgrades the request and pumps frames between the socket and the
// hub. Verification, party creation and invites call collaborators here so
// the hub loop never waits on the network.
func Handler(h *hub.Hub, d Deps) http.HandlerFunc {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.PingInterval <= 0 {
		d.PingInterval = pingInterval
	}
	if d.PresenceTTL <= 0 {
		d.PresenceTTL = presenceTTL
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: d.OriginPatterns,
		})
		if err != nil {
			d.Logger.Warn("websocket accept failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			return
		}
		defer conn.CloseNow()
		conn.SetReadLimit(readLimit)

		c := &client{
			hub: h,
			d:   d,
			ws:  conn,
			sc:  session.NewConn(uuid.NewString(), r.RemoteAddr, d.Clock.Now(), session.DefaultOutboxSize),
		}
		c.log = d.Logger.With(zap.String("conn", c.sc.ID))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		if err := h.Admit(ctx, c.sc); err != nil {
			c.log.Warn("admission refused", zap.Error(err))
			conn.Close(websocket.StatusTryAgainLater, "server unavailable")
			return
		}
		defer c.retire()

		go c.writeLoop(ctx, cancel)
		go c.keepalive(ctx, cancel)

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if ctx.Err() == nil {
						c.log.Debug("read failed", zap.Error(err))
					}
				}
				return
			}

			msg, err := types.Decode(data)
			if err != nil {
				c.log.Warn("malformed message", zap.Int("bytes", len(data)), zap.Error(err))
				c.sc.Send(types.NewError(hub.CodeFor(err), "", err.Error()))
				continue
			}
			c.handle(ctx, msg)
		}
	}
}

type client struct {
	hub *hub.Hub
	d   Deps
	ws  *websocket.Conn
	sc  *session.Conn
	log *zap.Logger

	// written by the reader, read by keepalive
	mu      sync.Mutex
	account string
}

func (c *client) accountID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

func (c *client) handle(ctx context.Context, msg types.Inbound) {
	var err error
	switch m := msg.(type) {
	case types.Ping:
		c.sc.Send(types.Pong{T: m.T})
		c.refreshPresence(ctx)
	case types.Verify:
		err = c.verify(ctx, m.Token)
	case types.CreateParty:
		err = c.createParty(ctx, m.Mode)
	case types.InviteToParty:
		err = c.invite(ctx, m.AccountID)
	default:
		if !c.hub.Post(hub.ClientMsg{ConnID: c.sc.ID, Msg: msg}) {
			err = hub.ErrClosed
		}
	}
	if err == nil {
		return
	}

	code, text := hub.CodeFor(err), err.Error()
	if code == types.CodeInternal {
		c.log.Error("request failed", zap.String("type", types.TypeOf(msg)), zap.String("account", c.accountID()), zap.Error(err))
		text = "internal error"
	}
	c.sc.Send(types.NewError(code, types.TypeOf(msg), text))
}

func (c *client) verify(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	id, err := c.d.Identity.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			return err
		}
		return c.unavailable("identity lookup", err)
	}

	// a key this instance already holds belongs to a live session here and
	// must survive a failed verify
	key, owner := cache.PresenceKey(id.AccountID), c.hub.InstanceID()
	held, err := c.hub.Cache().Get(ctx, key)
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		return c.unavailable("presence lookup", err)
	}
	owned, err := c.hub.Cache().Reserve(ctx, key, owner, c.d.PresenceTTL)
	if err != nil {
		return c.unavailable("presence reservation", err)
	}
	if !owned {
		return hub.ErrSessionElsewhere
	}
	fresh := held != owner

	r, err := c.d.Profiles.Rating(ctx, id.AccountID)
	if err != nil {
		c.releasePresence(key, fresh)
		return c.unavailable("profile lookup", err)
	}
	if err := c.hub.Verify(ctx, c.sc.ID, id, r); err != nil {
		c.releasePresence(key, fresh)
		return err
	}
	c.mu.Lock()
	c.account = id.AccountID
	c.mu.Unlock()

	pending, err := c.d.Notifications.TakeInvites(ctx, id.AccountID)
	if err != nil {
		c.log.Error("loading pending invites", zap.String("account", id.AccountID), zap.Error(err))
		return nil
	}
	for _, inv := range pending {
		c.sc.Send(types.PartyInvite{
			From:         inv.From,
			FromUsername: inv.FromUsername,
			PartyCode:    inv.PartyCode,
			Timestamp:    inv.At.UnixMilli(),
		})
	}
	return nil
}

// createParty reserves a fresh code in the shared cache before the hub sees
// it, so two instances never hand out the same code.
func (c *client) createParty(ctx context.Context, mode string) error {
	if c.accountID() == "" {
		return hub.ErrNotVerified
	}
	if mode == "" {
		mode = "world"
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	shared, owner := c.hub.Cache(), c.hub.InstanceID()
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := party.GenerateCode()
		if err != nil {
			return err
		}
		ok, err := shared.Reserve(ctx, cache.PartyKey(code), owner, cache.PartyCodeTTL)
		if err != nil {
			return c.unavailable("party code reservation", err)
		}
		if !ok {
			c.log.Debug("collision on code, regenerating")
			continue
		}

		err = c.hub.CreateParty(ctx, c.sc.ID, code, mode)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, hub.ErrCodeTaken):
			// held by a live party on this instance
			continue
		default:
			if rerr := shared.Release(ctx, cache.PartyKey(code), owner); rerr != nil {
				c.log.Warn("releasing unused party code", zap.String("party", code), zap.Error(rerr))
			}
			return err
		}
	}
	return hub.ErrCodeTaken
}

func (c *client) invite(ctx context.Context, target string) error {
	account := c.accountID()
	if account == "" {
		return hub.ErrNotVerified
	}
	if target == "" {
		return types.ErrBadMessage
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	linked, err := c.d.Social.AreLinked(ctx, account, target)
	if err != nil {
		return c.unavailable("social link lookup", err)
	}
	if !linked {
		return hub.ErrNotLinked
	}

	out, err := c.hub.Invite(ctx, c.sc.ID, target)
	if err != nil {
		return err
	}
	if !out.Delivered {
		if err := c.d.Notifications.AddInvite(ctx, out.Invite); err != nil {
			return c.unavailable("storing invite", err)
		}
	}
	return nil
}

func (c *client) unavailable(what string, err error) error {
	c.log.Error(what+" failed", zap.String("account", c.accountID()), zap.Error(err))
	return hub.ErrUnavailable
}

// releasePresence undoes a reservation made by a verify that then failed.
func (c *client) releasePresence(key string, fresh bool) {
	if !fresh {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := c.hub.Cache().Release(ctx, key, c.hub.InstanceID()); err != nil {
		c.log.Warn("releasing presence", zap.String("key", key), zap.Error(err))
	}
}

func (c *client) refreshPresence(ctx context.Context) {
	account := c.accountID()
	if account == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := c.hub.Cache().Touch(ctx, cache.PresenceKey(account), c.d.PresenceTTL); err != nil {
		c.log.Warn("refreshing presence", zap.Error(err))
	}
}

// retire hands the closed transport to the hub. Presence shrinks to the
// reconnect window unless another connection took the session over.
func (c *client) retire() {
	c.sc.Close()
	c.hub.Post(hub.Retire{ConnID: c.sc.ID})

	account := c.accountID()
	if account == "" || c.sc.Replaced() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := c.hub.Cache().Touch(ctx, cache.PresenceKey(account), c.hub.Grace()); err != nil {
		c.log.Warn("shortening presence", zap.Error(err))
	}
}

func (c *client) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return

		case m, ok := <-c.sc.Outbox():
			if !ok {
				c.ws.Close(websocket.StatusPolicyViolation, "connection closed by server")
				return
			}
			payload, err := types.Encode(m)
			if err != nil {
				c.log.DPanic("encoding outbound message", zap.String("type", m.MessageType()), zap.Error(err))
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err = c.ws.Write(wctx, websocket.MessageText, payload)
			wcancel()
			if err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *client) keepalive(ctx context.Context, cancel context.CancelFunc) {
	t := time.NewTicker(c.d.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, pcancel := context.WithTimeout(ctx, pingTimeout)
			err := c.ws.Ping(pctx)
			pcancel()
			if err != nil {
				c.log.Debug("keepalive failed", zap.Error(err))
				cancel()
				return
			}
			c.refreshPresence(ctx)
		}
	}
}
