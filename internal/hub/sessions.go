package hub

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/geoguess-server/internal/match"
	"github.com/DoyleJ11/geoguess-server/internal/session"
	"github.com/DoyleJ11/geoguess-server/pkg/types"
)

func (h *Hub) admit(conn *session.Conn) error {
	s, err := h.reg.Admit(conn)
	if err != nil {
		h.log.DPanic("admission failed", zap.String("conn", conn.ID), zap.Error(err))
		return err
	}
	s.Send(types.TimeSync{T: h.clock.Now().UnixMilli()})
	s.Send(types.RestartQueued{Value: h.cfg.RestartQueued})
	return nil
}

func (h *Hub) verify(msg Verify) error {
	s, ok := h.reg.ByConn(msg.ConnID)
	if !ok {
		return ErrGone
	}
	id := msg.Identity
	if s.Verified {
		if s.AccountID != id.AccountID {
			return ErrAlreadyVerified
		}
		s.Send(h.verified(s, false))
		return nil
	}

	existing, found := h.reg.ByAccount(id.AccountID)
	if !found {
		h.reg.Bind(s, id.AccountID, id.Name, msg.Rating)
		s.Send(h.verified(s, false))
		h.log.Info("session verified", zap.String("conn", s.ConnID), zap.String("account", s.AccountID))
		return nil
	}

	h.cancelEviction(id.AccountID)
	old := h.reg.Adopt(existing, s)
	if old != nil {
		old.Send(types.NewError(types.CodeReplaced, "verify", "signed in from another connection"))
		old.Replace()
		h.log.Info("session taken over", zap.String("account", id.AccountID), zap.String("old", old.ID), zap.String("conn", existing.ConnID))
	} else {
		h.log.Info("session resumed", zap.String("account", id.AccountID), zap.String("conn", existing.ConnID))
	}
	s = existing
	s.Send(h.verified(s, true))

	switch s.State {
	case session.InMatch:
		if mt := h.matches[s.MatchID]; mt != nil {
			mt.Post(match.Attach{AccountID: s.AccountID, Conn: s.Conn})
		}
	case session.InParty:
		if p := h.parties[s.PartyCode]; p != nil {
			h.broadcastParty(p)
		}
	case session.Queued:
		if t, ok := h.queue.Ticket(s.AccountID); ok {
			s.Send(types.Queued{Mode: t.Mode, Since: t.EnqueuedAt.UnixMilli()})
		}
	default:
		if mt := h.matches[s.LastMatchID]; mt != nil {
			mt.Post(match.Attach{AccountID: s.AccountID, Conn: s.Conn})
		}
	}
	return nil
}

func (h *Hub) verified(s *session.Session, resumed bool) types.Verified {
	return types.Verified{
		AccountID: s.AccountID,
		Name:      s.Name,
		Rating:    s.Rating,
		Resumed:   resumed,
		State:     s.State.String(),
		Code:      s.Code(),
	}
}

// retire handles a closed transport. Verified sessions keep their party or
// match slot for the grace window; queue tickets do not survive a disconnect.
func (h *Hub) retire(connID string) {
	s, kept, err := h.reg.Retire(connID, h.clock.Now())
	if err != nil || !kept {
		return
	}
	log := h.log.With(zap.String("account", s.AccountID), zap.String("conn", connID))

	switch s.State {
	case session.Queued:
		_ = h.queue.Dequeue(s.AccountID)
		s.Detach()
	case session.InParty:
		if p := h.parties[s.PartyCode]; p != nil {
			h.broadcastParty(p)
		}
	case session.InMatch:
		if mt := h.matches[s.MatchID]; mt != nil {
			mt.Post(match.Detach{AccountID: s.AccountID})
		}
	}
	if mt := h.matches[s.LastMatchID]; mt != nil && s.State != session.InMatch {
		mt.Post(match.Detach{AccountID: s.AccountID})
	}

	h.evictGen++
	gen, acct := h.evictGen, s.AccountID
	timer := h.clock.AfterFunc(h.cfg.ReconnectGrace, func() {
		h.post(evict{accountID: acct, gen: gen})
	})
	h.evictions[acct] = eviction{timer: timer, gen: gen}
	log.Debug("session disconnected", zap.Duration("grace", h.cfg.ReconnectGrace))
}

func (h *Hub) cancelEviction(accountID string) {
	if ev, ok := h.evictions[accountID]; ok {
		ev.timer.Stop()
		delete(h.evictions, accountID)
	}
}

func (h *Hub) evict(msg evict) {
	ev, ok := h.evictions[msg.accountID]
	if !ok || ev.gen != msg.gen {
		return
	}
	delete(h.evictions, msg.accountID)

	s, ok := h.reg.ByAccount(msg.accountID)
	if !ok || !s.Disconnected {
		return
	}
	switch s.State {
	case session.InParty:
		h.leaveParty(s, "left")
	case session.InMatch:
		if mt := h.matches[s.MatchID]; mt != nil {
			mt.Post(match.Leave{AccountID: s.AccountID})
		}
	}
	s.Detach()
	h.reg.Evict(s)
	h.log.Info("session evicted", zap.String("account", msg.accountID))
}

func (h *Hub) connected(accountID string) bool {
	s, ok := h.reg.ByAccount(accountID)
	return ok && !s.Disconnected
}
