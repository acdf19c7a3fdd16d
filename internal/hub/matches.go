package hub

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/geoguess-server/internal/engine"
	"github.com/DoyleJ11/geoguess-server/internal/geo"
	"github.com/DoyleJ11/geoguess-server/internal/match"
	"github.com/DoyleJ11/geoguess-server/internal/matchmaker"
	"github.com/DoyleJ11/geoguess-server/internal/party"
	"github.com/DoyleJ11/geoguess-server/internal/session"
	"github.com/DoyleJ11/geoguess-server/internal/store"
	"github.com/DoyleJ11/geoguess-server/pkg/types"
)

const maxCodeAttempts = 16

func (h *Hub) joinQueue(s *session.Session, mode string) error {
	if s.State != session.Idle {
		return attachmentErr(s)
	}
	if mode == "" {
		mode = "world"
	}
	t, err := h.queue.Enqueue(s.AccountID, s.Rating, mode, h.clock.Now())
	if err != nil {
		return err
	}
	if err := s.EnterQueue(); err != nil {
		_ = h.queue.Dequeue(s.AccountID)
		return err
	}
	s.Send(types.Queued{Mode: t.Mode, Since: t.EnqueuedAt.UnixMilli()})
	return nil
}

func (h *Hub) leaveQueue(s *session.Session) error {
	if s.State != session.Queued {
		return ErrNotQueued
	}
	if err := h.queue.Dequeue(s.AccountID); err != nil {
		return err
	}
	s.Detach()
	s.Send(types.Dequeued{Reason: "cancelled"})
	return nil
}

// runMatchmaking is one periodic pass. Each group's targets are fetched off
// the loop; until they arrive the tickets stay queued but reserved.
func (h *Hub) runMatchmaking() {
	groups := h.queue.Groups(h.clock.Now())
	rounds := h.cfg.Rules.Rounds
	for _, g := range groups {
		g := g
		go func() {
			ctx, cancel := context.WithTimeout(h.ctx, prepareTimeout)
			defer cancel()
			targets, err := h.deps.Locations.Locations(ctx, g.Mode, geo.Filter{}, rounds)
			h.post(matchPrepared{group: g, targets: targets, err: err})
		}()
	}
	if len(groups) > 0 {
		h.log.Debug("matchmaking pass", zap.Int("groups", len(groups)), zap.Int("queued", h.queue.Len()))
	}
}

func (h *Hub) onMatchPrepared(msg matchPrepared) {
	if msg.err != nil {
		// the group is retried on the next pass
		h.log.Error("match targets unavailable", zap.Strings("accounts", msg.group.AccountIDs()), zap.Error(msg.err))
		h.queue.Release(msg.group)
		return
	}
	if !h.queue.Commit(msg.group) {
		return
	}

	members := make([]*session.Session, 0, len(msg.group.Tickets))
	for _, t := range msg.group.Tickets {
		s, ok := h.reg.ByAccount(t.AccountID)
		if !ok || s.State != session.Queued {
			h.log.DPanic("ticket without queued session", zap.String("account", t.AccountID))
			continue
		}
		members = append(members, s)
	}
	if len(members) < matchmaker.GroupSize {
		for _, s := range members {
			h.requeue(s, msg.group.Mode)
		}
		return
	}

	id, err := h.newMatchID()
	if err == nil {
		err = h.startMatch(matchPlan{
			id:      id,
			mode:    msg.group.Mode,
			ranked:  true,
			rules:   h.cfg.Rules,
			targets: msg.targets,
			members: members,
		})
	}
	if err != nil {
		h.log.Error("public match failed to start", zap.Error(err))
		for _, s := range members {
			h.requeue(s, msg.group.Mode)
		}
	}
}

func (h *Hub) requeue(s *session.Session, mode string) {
	s.Detach()
	if err := h.joinQueue(s, mode); err != nil {
		s.Send(types.Dequeued{Reason: "error"})
	}
}

func (h *Hub) newMatchID() (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		c, err := party.GenerateCode()
		if err != nil {
			return "", err
		}
		if !h.codeInUse(c) {
			return c, nil
		}
		h.log.Debug("collision on code, regenerating")
	}
	return "", ErrCodeTaken
}

type matchPlan struct {
	id      string
	host    string
	mode    string
	ranked  bool
	rules   engine.Rules
	targets []geo.Location
	members []*session.Session
}

func (h *Hub) startMatch(plan matchPlan) error {
	members := make([]engine.Member, 0, len(plan.members))
	conns := make(map[string]*session.Conn, len(plan.members))
	for _, s := range plan.members {
		members = append(members, engine.Member{ID: s.AccountID, Name: s.Name, Rating: s.Rating})
		if s.Disconnected {
			conns[s.AccountID] = nil
		} else {
			conns[s.AccountID] = s.Conn
		}
	}

	relay := h.newMatchRelay()
	mt, err := match.New(h.ctx, match.Config{
		ID:             plan.id,
		Host:           plan.host,
		Mode:           plan.mode,
		Ranked:         plan.ranked,
		Rules:          plan.rules,
		Members:        members,
		Targets:        plan.targets,
		Rating:         h.cfg.Rating,
		ResultsTimeout: h.cfg.ResultsTimeout,
		Clock:          h.clock,
		Logger:         h.log.Named("match"),
		OnFinished:     relay.finished,
		OnClosed:       relay.closed,
	}, conns)
	if err != nil {
		relay.stop()
		return fmt.Errorf("start match %s: %w", plan.id, err)
	}

	for _, s := range plan.members {
		if err := s.EnterMatch(plan.id); err != nil {
			h.log.DPanic("member already in a match", zap.String("account", s.AccountID), zap.Error(err))
		}
	}
	h.matches[plan.id] = mt
	h.log.Info("match started",
		zap.String("match", plan.id),
		zap.Bool("ranked", plan.ranked),
		zap.Int("members", len(members)))
	return nil
}

// matchRelay carries one match's lifecycle callbacks to the loop in the
// order they fired. A match finishes at most once and closes once, so the
// callbacks never block.
type matchRelay struct {
	ch chan HubMsg
}

func (h *Hub) newMatchRelay() *matchRelay {
	r := &matchRelay{ch: make(chan HubMsg, 2)}
	go func() {
		for {
			select {
			case msg, ok := <-r.ch:
				if !ok {
					return
				}
				h.post(msg)
			case <-h.ctx.Done():
				return
			}
		}
	}()
	return r
}

func (r *matchRelay) finished(res match.Result) { r.ch <- matchFinished{result: res} }

func (r *matchRelay) closed(id string) {
	r.ch <- matchClosed{id: id}
	close(r.ch)
}

func (r *matchRelay) stop() { close(r.ch) }

func (h *Hub) onMatchFinished(r match.Result) {
	for _, rm := range r.Members {
		s, ok := h.reg.ByAccount(rm.AccountID)
		if !ok {
			continue
		}
		s.FinishMatch(r.ID)
		if r.Ranked && !r.Aborted {
			s.Rating = rm.NewRating
		}
	}
	if r.Aborted || h.deps.Results == nil {
		return
	}

	writes := make(map[string]store.MatchResult, len(r.Members))
	for _, rm := range r.Members {
		writes[rm.AccountID] = store.MatchResult{Ranked: r.Ranked, NewRating: rm.NewRating, Score: rm.Total}
	}
	w, log := h.deps.Results, h.log.With(zap.String("match", r.ID))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for id, res := range writes {
			if err := w.ApplyResult(ctx, id, res); err != nil {
				log.Error("persisting match result", zap.String("account", id), zap.Error(err))
			}
		}
	}()
}

func (h *Hub) onMatchClosed(id string) {
	if _, ok := h.matches[id]; !ok {
		return
	}
	delete(h.matches, id)
	h.reg.Each(func(s *session.Session) {
		if s.LastMatchID == id {
			s.LastMatchID = ""
		}
	})
	h.releaseCode(id)
	h.log.Debug("match closed", zap.String("match", id))
}

func (h *Hub) currentMatch(s *session.Session) (*match.Match, error) {
	if s.State != session.InMatch {
		return nil, ErrNotInMatch
	}
	mt, ok := h.matches[s.MatchID]
	if !ok {
		h.log.DPanic("session points at missing match", zap.String("match", s.MatchID))
		return nil, ErrNotInMatch
	}
	return mt, nil
}
