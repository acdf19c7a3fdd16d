package hub

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/geoguess-server/internal/cache"
	"github.com/DoyleJ11/geoguess-server/internal/engine"
	"github.com/DoyleJ11/geoguess-server/internal/geo"
	"github.com/DoyleJ11/geoguess-server/internal/identity"
	"github.com/DoyleJ11/geoguess-server/internal/match"
	"github.com/DoyleJ11/geoguess-server/internal/rating"
	"github.com/DoyleJ11/geoguess-server/internal/session"
	"github.com/DoyleJ11/geoguess-server/internal/store"
	"github.com/DoyleJ11/geoguess-server/pkg/types"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const grace = 30 * time.Second

// helper: receive messages until one of type T shows up, so tests never hang
func recvType[T types.Outbound](t *testing.T, c *session.Conn, within time.Duration) T {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case m, ok := <-c.Outbox():
			if !ok {
				t.Fatalf("connection closed while waiting for %T", *new(T))
			}
			if v, ok := m.(T); ok {
				return v
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %T", *new(T))
		}
	}
}

type fixture struct {
	h       *Hub
	clock   *clockwork.FakeClock
	results *store.Memory
	ctx     context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, geo.NewRandomProvider(7))
}

func newFixtureWith(t *testing.T, locations geo.Provider) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	clock := clockwork.NewFakeClockAt(t0)
	results := store.NewMemory(1000)
	h := NewHub(ctx, Config{
		InstanceID:     "test-instance",
		ReconnectGrace: grace,
		Selector:       rating.DefaultSelector(),
		Rating:         rating.Engine{K: 32},
		ResultsTimeout: 30 * time.Second,
	}, Deps{
		Locations: locations,
		Results:   results,
		Cache:     cache.NewMemory(clock),
		Clock:     clock,
	})
	return &fixture{h: h, clock: clock, results: results, ctx: ctx}
}

func (f *fixture) connect(t *testing.T, connID string) *session.Conn {
	t.Helper()
	c := session.NewConn(connID, "test", t0, 64)
	require.NoError(t, f.h.Admit(f.ctx, c))
	return c
}

// login admits a fresh connection and verifies it as acct.
func (f *fixture) login(t *testing.T, connID, acct string, r int) *session.Conn {
	t.Helper()
	c := f.connect(t, connID)
	require.NoError(t, f.h.Verify(f.ctx, connID, identity.Identity{AccountID: acct, Name: acct}, r))
	v := recvType[types.Verified](t, c, time.Second)
	require.Equal(t, acct, v.AccountID)
	return c
}

func (f *fixture) send(connID string, m types.Inbound) {
	f.h.Post(ClientMsg{ConnID: connID, Msg: m})
}

// sync returns once everything posted before it has been handled.
func (f *fixture) sync(t *testing.T) Stats {
	t.Helper()
	st, err := f.h.Stats(f.ctx)
	require.NoError(t, err)
	return st
}

func (f *fixture) session(t *testing.T, acct string) *session.Session {
	t.Helper()
	reply := make(chan *session.Session, 1)
	require.True(t, f.h.Post(GetSession{AccountID: acct, Reply: reply}))
	select {
	case s := <-reply:
		return s
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for session %s", acct)
		return nil
	}
}

func TestHub_AdmitSendsClockAndRestartFlag(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "c1")

	ts := recvType[types.TimeSync](t, c, time.Second)
	assert.Equal(t, t0.UnixMilli(), ts.T)
	rq := recvType[types.RestartQueued](t, c, time.Second)
	assert.False(t, rq.Value)
}

func TestHub_RejectsBeforeVerify(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "c1")

	f.send("c1", types.JoinQueue{})
	e := recvType[types.Error](t, c, time.Second)
	assert.Equal(t, types.CodeNotVerified, e.Code)
	assert.Equal(t, "joinQueue", e.Ref)
}

func TestHub_VerifyTwiceAsDifferentAccount(t *testing.T) {
	f := newFixture(t)
	f.login(t, "c1", "alice", 1000)

	err := f.h.Verify(f.ctx, "c1", identity.Identity{AccountID: "bob", Name: "bob"}, 1000)
	assert.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestHub_PartyCapacity(t *testing.T) {
	f := newFixture(t)
	host := f.login(t, "c-host", "host", 1000)
	require.NoError(t, f.h.CreateParty(f.ctx, "c-host", "AB12CD", "world"))
	st := recvType[types.PartyState](t, host, time.Second)
	assert.Equal(t, "AB12CD", st.Code)
	assert.Equal(t, "host", st.Host)

	for _, id := range []string{"m1", "m2", "m3"} {
		c := f.login(t, "c-"+id, id, 1000)
		// codes are matched case and dash insensitively
		f.send("c-"+id, types.JoinPrivateGame{Code: "ab12-cd"})
		recvType[types.PartyState](t, c, time.Second)
	}

	fifth := f.login(t, "c-m4", "m4", 1000)
	f.send("c-m4", types.JoinPrivateGame{Code: "AB12CD"})
	e := recvType[types.Error](t, fifth, time.Second)
	assert.Equal(t, types.CodePartyFull, e.Code)

	assert.Equal(t, session.Idle, f.session(t, "m4").State)
	assert.Equal(t, 1, f.sync(t).Parties)
}

func TestHub_JoinUnknownCode(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "c1", "alice", 1000)

	f.send("c1", types.JoinPrivateGame{Code: "ZZZZZZ"})
	e := recvType[types.Error](t, c, time.Second)
	assert.Equal(t, types.CodeCodeNotFound, e.Code)
}

func TestHub_CreatePartyCodeTaken(t *testing.T) {
	f := newFixture(t)
	f.login(t, "c1", "alice", 1000)
	f.login(t, "c2", "bob", 1000)

	require.NoError(t, f.h.CreateParty(f.ctx, "c1", "AB12CD", "world"))
	err := f.h.CreateParty(f.ctx, "c2", "AB12CD", "world")
	assert.ErrorIs(t, err, ErrCodeTaken)
}

func TestHub_HostLeavingDissolvesParty(t *testing.T) {
	f := newFixture(t)
	f.login(t, "c-host", "host", 1000)
	member := f.login(t, "c-m", "m", 1000)
	require.NoError(t, f.h.CreateParty(f.ctx, "c-host", "AB12CD", "world"))
	f.send("c-m", types.JoinPrivateGame{Code: "AB12CD"})
	recvType[types.PartyState](t, member, time.Second)

	f.send("c-host", types.LeaveParty{})
	d := recvType[types.PartyDissolved](t, member, time.Second)
	assert.Equal(t, "host_left", d.Reason)
	assert.Equal(t, 0, f.sync(t).Parties)
	assert.Equal(t, session.Idle, f.session(t, "m").State)
}

func TestHub_PartyStartPlaysUnranked(t *testing.T) {
	f := newFixture(t)
	host := f.login(t, "c-host", "host", 1000)
	member := f.login(t, "c-m", "m", 1000)
	require.NoError(t, f.h.CreateParty(f.ctx, "c-host", "AB12CD", "world"))
	f.send("c-m", types.JoinPrivateGame{Code: "AB12CD"})
	recvType[types.PartyState](t, member, time.Second)

	f.send("c-m", types.StartGameHost{})
	e := recvType[types.Error](t, member, time.Second)
	assert.Equal(t, types.CodeNotHost, e.Code)

	f.send("c-host", types.SetPartyOptions{Options: types.PartyOptions{Rounds: 2, RoundTimeSec: 30}})
	f.send("c-host", types.StartGameHost{})
	gs := recvType[types.GameStarting](t, host, time.Second)
	assert.Equal(t, "AB12CD", gs.Code)
	assert.False(t, gs.Ranked)
	assert.Equal(t, 2, gs.Rounds)
	recvType[types.GameStarting](t, member, time.Second)

	st := f.sync(t)
	assert.Equal(t, 0, st.Parties)
	assert.Equal(t, 1, st.Matches)

	// a running match's code cannot be joined
	late := f.login(t, "c-late", "late", 1000)
	f.send("c-late", types.JoinPrivateGame{Code: "AB12CD"})
	e = recvType[types.Error](t, late, time.Second)
	assert.Equal(t, types.CodeAlreadyStarted, e.Code)
}

func TestHub_QueueMatchesAfterWaiting(t *testing.T) {
	f := newFixture(t)
	a := f.login(t, "c-a", "a", 1000)
	b := f.login(t, "c-b", "b", 1400)

	f.send("c-a", types.JoinQueue{})
	f.send("c-b", types.JoinQueue{})
	q := recvType[types.Queued](t, a, time.Second)
	assert.Equal(t, "world", q.Mode)
	assert.Equal(t, t0.UnixMilli(), q.Since)

	f.h.Post(RunMatchmaking{})
	st := f.sync(t)
	assert.Equal(t, 2, st.Queued)
	assert.Equal(t, 0, st.Matches)

	f.clock.Advance(10 * time.Second)
	f.h.Post(RunMatchmaking{})

	ga := recvType[types.GameStarting](t, a, time.Second)
	gb := recvType[types.GameStarting](t, b, time.Second)
	assert.True(t, ga.Ranked)
	assert.Equal(t, ga.Code, gb.Code)

	st = f.sync(t)
	assert.Equal(t, 0, st.Queued)
	assert.Equal(t, 1, st.Matches)
	assert.Equal(t, session.InMatch, f.session(t, "a").State)
}

// flakyProvider fails its first failures calls.
type flakyProvider struct {
	geo.Provider
	failures int32
	calls    atomic.Int32
}

func (p *flakyProvider) Locations(ctx context.Context, mode string, f geo.Filter, n int) ([]geo.Location, error) {
	if p.calls.Add(1) <= p.failures {
		return nil, errors.New("location service down")
	}
	return p.Provider.Locations(ctx, mode, f, n)
}

func TestHub_QueueRetriesWhenTargetsUnavailable(t *testing.T) {
	locations := &flakyProvider{Provider: geo.NewRandomProvider(7), failures: 1}
	f := newFixtureWith(t, locations)
	a := f.login(t, "c-a", "a", 1000)
	b := f.login(t, "c-b", "b", 1000)
	f.send("c-a", types.JoinQueue{})
	f.send("c-b", types.JoinQueue{})
	require.Equal(t, 2, f.sync(t).Queued)

	f.h.Post(RunMatchmaking{})
	require.Eventually(t, func() bool { return locations.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	st := f.sync(t)
	assert.Equal(t, 2, st.Queued)
	assert.Equal(t, 0, st.Matches)

	// the failed group is released asynchronously; keep passing until it forms again
	require.Eventually(t, func() bool {
		f.h.Post(RunMatchmaking{})
		st, err := f.h.Stats(f.ctx)
		return err == nil && st.Matches == 1
	}, 2*time.Second, 10*time.Millisecond)

	ga := recvType[types.GameStarting](t, a, time.Second)
	gb := recvType[types.GameStarting](t, b, time.Second)
	assert.Equal(t, ga.Code, gb.Code)
	st = f.sync(t)
	assert.Equal(t, 0, st.Queued)
	assert.Equal(t, 1, st.Matches)
	assert.EqualValues(t, 2, locations.calls.Load())
}

func TestHub_PartyStartRevertsWhenTargetsUnavailable(t *testing.T) {
	locations := &flakyProvider{Provider: geo.NewRandomProvider(7), failures: 1}
	f := newFixtureWith(t, locations)
	host := f.login(t, "c-host", "host", 1000)
	member := f.login(t, "c-m", "m", 1000)
	require.NoError(t, f.h.CreateParty(f.ctx, "c-host", "AB12CD", "world"))
	f.send("c-m", types.JoinPrivateGame{Code: "AB12CD"})
	recvType[types.PartyState](t, member, time.Second)

	f.send("c-host", types.StartGameHost{})
	e := recvType[types.Error](t, host, time.Second)
	assert.Equal(t, types.CodeUnavailable, e.Code)
	assert.Equal(t, "startGameHost", e.Ref)
	st := recvType[types.PartyState](t, host, time.Second)
	assert.Equal(t, "waiting", st.Status)
	assert.Len(t, st.Members, 2)

	stats := f.sync(t)
	assert.Equal(t, 1, stats.Parties)
	assert.Equal(t, 0, stats.Matches)
	assert.Equal(t, session.InParty, f.session(t, "m").State)

	f.send("c-host", types.StartGameHost{})
	gs := recvType[types.GameStarting](t, host, time.Second)
	assert.Equal(t, "AB12CD", gs.Code)
	recvType[types.GameStarting](t, member, time.Second)
	assert.EqualValues(t, 2, locations.calls.Load())
}

func TestHub_QueueRejectsSecondAttachment(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "c1", "alice", 1000)
	require.NoError(t, f.h.CreateParty(f.ctx, "c1", "AB12CD", "world"))

	f.send("c1", types.JoinQueue{})
	e := recvType[types.Error](t, c, time.Second)
	assert.Equal(t, types.CodeAlreadyInParty, e.Code)
}

func TestHub_LeaveQueue(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "c1", "alice", 1000)

	f.send("c1", types.LeaveQueue{})
	e := recvType[types.Error](t, c, time.Second)
	assert.Equal(t, types.CodeInvalidState, e.Code)

	f.send("c1", types.JoinQueue{Mode: "world"})
	f.send("c1", types.LeaveQueue{})
	d := recvType[types.Dequeued](t, c, time.Second)
	assert.Equal(t, "cancelled", d.Reason)
	assert.Equal(t, 0, f.sync(t).Queued)
}

func TestHub_QueueTicketDroppedOnDisconnect(t *testing.T) {
	f := newFixture(t)
	f.login(t, "c1", "alice", 1000)
	f.send("c1", types.JoinQueue{})
	require.Equal(t, 1, f.sync(t).Queued)

	f.h.Post(Retire{ConnID: "c1"})
	st := f.sync(t)
	assert.Equal(t, 0, st.Queued)
	assert.Equal(t, 1, st.Sessions)
	assert.Equal(t, session.Idle, f.session(t, "alice").State)
}

func TestHub_ReconnectWithinGraceResumesMatch(t *testing.T) {
	f := newFixture(t)
	f.login(t, "c-a", "a", 1000)
	b := f.login(t, "c-b", "b", 1000)
	f.send("c-a", types.JoinQueue{})
	f.send("c-b", types.JoinQueue{})
	f.h.Post(RunMatchmaking{})
	gs := recvType[types.GameStarting](t, b, time.Second)

	f.h.Post(Retire{ConnID: "c-a"})
	pc := recvType[types.PlayerConnection](t, b, time.Second)
	assert.Equal(t, "a", pc.AccountID)
	assert.False(t, pc.Connected)

	a2 := f.connect(t, "c-a2")
	require.NoError(t, f.h.Verify(f.ctx, "c-a2", identity.Identity{AccountID: "a", Name: "a"}, 1000))
	v := recvType[types.Verified](t, a2, time.Second)
	assert.True(t, v.Resumed)
	assert.Equal(t, "game", v.State)
	assert.Equal(t, gs.Code, v.Code)

	snap := recvType[types.GameState](t, a2, time.Second)
	assert.Equal(t, gs.Code, snap.Code)
	pc = recvType[types.PlayerConnection](t, b, time.Second)
	assert.True(t, pc.Connected)

	s := f.session(t, "a")
	assert.False(t, s.Disconnected)
	assert.Equal(t, "c-a2", s.ConnID)
}

func TestHub_EvictedAfterGrace(t *testing.T) {
	f := newFixture(t)
	host := f.login(t, "c-host", "host", 1000)
	f.login(t, "c-m", "m", 1000)
	require.NoError(t, f.h.CreateParty(f.ctx, "c-host", "AB12CD", "world"))
	recvType[types.PartyState](t, host, time.Second)
	f.send("c-m", types.JoinPrivateGame{Code: "AB12CD"})
	st := recvType[types.PartyState](t, host, time.Second)
	require.Len(t, st.Members, 2)

	f.h.Post(Retire{ConnID: "c-m"})
	f.sync(t)
	f.clock.Advance(grace)

	require.Eventually(t, func() bool {
		reply := make(chan *session.Session, 1)
		f.h.Post(GetSession{AccountID: "m", Reply: reply})
		select {
		case s := <-reply:
			return s == nil
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, time.Second, 10*time.Millisecond)

	// the host eventually sees a roster without the evicted member
	deadline := time.After(time.Second)
	for {
		select {
		case m := <-host.Outbox():
			if st, ok := m.(types.PartyState); ok && len(st.Members) == 1 {
				return
			}
		case <-deadline:
			t.Fatal("host never saw the member removed")
		}
	}
}

func TestHub_ReconnectCancelsEviction(t *testing.T) {
	f := newFixture(t)
	f.login(t, "c1", "alice", 1000)
	f.h.Post(Retire{ConnID: "c1"})
	f.sync(t)

	c2 := f.connect(t, "c2")
	require.NoError(t, f.h.Verify(f.ctx, "c2", identity.Identity{AccountID: "alice", Name: "alice"}, 1000))
	recvType[types.Verified](t, c2, time.Second)

	f.clock.Advance(2 * grace)
	f.sync(t)
	s := f.session(t, "alice")
	require.NotNil(t, s)
	assert.False(t, s.Disconnected)
}

func TestHub_TakeoverReplacesOldConnection(t *testing.T) {
	f := newFixture(t)
	old := f.login(t, "c1", "alice", 1000)

	c2 := f.connect(t, "c2")
	require.NoError(t, f.h.Verify(f.ctx, "c2", identity.Identity{AccountID: "alice", Name: "alice"}, 1000))

	e := recvType[types.Error](t, old, time.Second)
	assert.Equal(t, types.CodeReplaced, e.Code)
	assert.False(t, old.Alive())
	assert.True(t, old.Replaced())

	v := recvType[types.Verified](t, c2, time.Second)
	assert.True(t, v.Resumed)

	// the old transport's late close must not disturb the new one
	f.h.Post(Retire{ConnID: "c1"})
	st := f.sync(t)
	assert.Equal(t, 1, st.Connections)
	assert.False(t, f.session(t, "alice").Disconnected)
}

func TestHub_InviteDeliveredAndDeclined(t *testing.T) {
	f := newFixture(t)
	host := f.login(t, "c-host", "host", 1000)
	friend := f.login(t, "c-f", "friend", 1000)
	require.NoError(t, f.h.CreateParty(f.ctx, "c-host", "AB12CD", "world"))

	out, err := f.h.Invite(f.ctx, "c-host", "friend")
	require.NoError(t, err)
	assert.True(t, out.Delivered)
	inv := recvType[types.PartyInvite](t, friend, time.Second)
	assert.Equal(t, "AB12CD", inv.PartyCode)
	assert.Equal(t, "host", inv.FromUsername)

	f.send("c-f", types.DeclineInvite{Code: "AB12CD"})
	d := recvType[types.InviteDeclined](t, host, time.Second)
	assert.Equal(t, "friend", d.AccountID)

	// offline targets get a record for the caller to persist
	out, err = f.h.Invite(f.ctx, "c-host", "offline")
	require.NoError(t, err)
	assert.False(t, out.Delivered)
	assert.Equal(t, "offline", out.Invite.AccountID)
	assert.Equal(t, "AB12CD", out.Invite.PartyCode)
}

func TestHub_InviteRequiresParty(t *testing.T) {
	f := newFixture(t)
	f.login(t, "c1", "alice", 1000)

	_, err := f.h.Invite(f.ctx, "c1", "bob")
	assert.ErrorIs(t, err, ErrNotInParty)
	assert.Equal(t, types.CodeNotMember, CodeFor(err))
}

func TestHub_ShutdownNotifiesIdleSessions(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "c1", "alice", 1000)

	require.NoError(t, f.h.Shutdown(f.ctx))
	recvType[types.ServerShutdown](t, c, time.Second)

	select {
	case <-f.h.Done():
	case <-time.After(time.Second):
		t.Fatal("hub loop did not stop")
	}
	assert.False(t, f.h.Post(RunMatchmaking{}))
}

func TestMatchRelay_KeepsOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := &Hub{ctx: ctx, inbox: make(chan HubMsg, 4)}

	r := h.newMatchRelay()
	r.finished(match.Result{ID: "AB12CD"})
	r.closed("AB12CD")

	for _, want := range []string{"finished", "closed"} {
		select {
		case m := <-h.inbox:
			switch m.(type) {
			case matchFinished:
				assert.Equal(t, "finished", want)
			case matchClosed:
				assert.Equal(t, "closed", want)
			default:
				t.Fatalf("unexpected %T", m)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

// A match that has closed but is still registered answers every in-game
// frame with an error rather than dropping it.
func TestHub_ClosedMatchRejectsFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	clock := clockwork.NewFakeClockAt(t0)
	h := NewHub(ctx, Config{InstanceID: "test-instance", Selector: rating.DefaultSelector()}, Deps{
		Locations: geo.NewRandomProvider(7),
		Cache:     cache.NewMemory(clock),
		Clock:     clock,
	})
	<-h.Done()

	rules := engine.DefaultRules()
	targets, err := geo.NewRandomProvider(7).Locations(context.Background(), "world", geo.Filter{}, rules.Rounds)
	require.NoError(t, err)
	conn := session.NewConn("c-a", "test", t0, 16)
	mt, err := match.New(ctx, match.Config{
		ID:      "AB12CD",
		Rules:   rules,
		Members: []engine.Member{{ID: "a", Name: "a", Rating: 1000}, {ID: "b", Name: "b", Rating: 1000}},
		Targets: targets,
		Clock:   clock,
	}, map[string]*session.Conn{"a": conn, "b": nil})
	require.NoError(t, err)
	h.matches["AB12CD"] = mt

	s, err := h.reg.Admit(conn)
	require.NoError(t, err)
	h.reg.Bind(s, "a", "a", 1000)

	frames := []types.Inbound{
		types.Ready{},
		types.Guess{Round: 0, Lat: 1, Long: 2},
		types.AbortGame{},
		types.LeaveGame{},
	}
	for _, in := range frames {
		require.NoError(t, s.EnterMatch("AB12CD"))
		assert.ErrorIs(t, h.route(s, in), ErrNotInMatch, types.TypeOf(in))
		s.Detach()
	}

	s.LastMatchID = "AB12CD"
	assert.ErrorIs(t, h.route(s, types.AckResults{}), ErrNothingToAck)
	assert.Empty(t, s.LastMatchID)
}

func TestCodeFor(t *testing.T) {
	cases := map[error]types.ErrorCode{
		ErrNotVerified:           types.CodeNotVerified,
		identity.ErrInvalidToken: types.CodeInvalidToken,
		session.ErrBusy:          types.CodeBusy,
		ErrSessionElsewhere:      types.CodeSessionElsewhere,
		ErrNothingToAck:          types.CodeInvalidState,
		context.Canceled:         types.CodeInternal,
	}
	for err, want := range cases {
		assert.Equal(t, want, CodeFor(err), err.Error())
	}
}
