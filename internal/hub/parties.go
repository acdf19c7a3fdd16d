package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/geoguess-server/internal/cache"
	"github.com/DoyleJ11/geoguess-server/internal/engine"
	"github.com/DoyleJ11/geoguess-server/internal/geo"
	"github.com/DoyleJ11/geoguess-server/internal/party"
	"github.com/DoyleJ11/geoguess-server/internal/session"
	"github.com/DoyleJ11/geoguess-server/internal/store"
	"github.com/DoyleJ11/geoguess-server/pkg/types"
)

func (h *Hub) codeInUse(code string) bool {
	_, p := h.parties[code]
	_, m := h.matches[code]
	return p || m
}

func (h *Hub) createParty(msg CreateParty) error {
	s, err := h.verifiedSession(msg.ConnID)
	if err != nil {
		return err
	}
	if s.State != session.Idle {
		return attachmentErr(s)
	}
	if h.codeInUse(msg.Code) {
		return ErrCodeTaken
	}

	p := party.New(msg.Code, member(s), msg.Mode, h.cfg.PartyMaxMembers, h.clock.Now())
	if err := s.EnterParty(p.Code); err != nil {
		return err
	}
	h.parties[p.Code] = p
	h.broadcastParty(p)
	h.log.Info("party created", zap.String("party", p.Code), zap.String("account", s.AccountID))
	return nil
}

func (h *Hub) joinParty(s *session.Session, raw string) error {
	code := party.NormalizeCode(raw)
	if !party.ValidCode(code) {
		return ErrCodeNotFound
	}
	p, ok := h.parties[code]
	if !ok {
		if _, running := h.matches[code]; running {
			return party.ErrAlreadyStarted
		}
		return ErrCodeNotFound
	}
	if s.State == session.InParty && s.PartyCode == code {
		return party.ErrAlreadyMember
	}
	if s.State != session.Idle {
		return attachmentErr(s)
	}
	if err := p.Join(member(s)); err != nil {
		return err
	}
	if err := s.EnterParty(code); err != nil {
		h.log.DPanic("party join after idle check failed", zap.Error(err))
		return err
	}
	h.broadcastParty(p)
	return nil
}

// leaveParty takes s out of its party. A host departure dissolves the party.
func (h *Hub) leaveParty(s *session.Session, reason string) {
	p := h.parties[s.PartyCode]
	s.Detach()
	if p == nil {
		return
	}
	dissolved, err := p.Leave(s.AccountID)
	if err != nil {
		return
	}
	s.Send(types.PartyDissolved{Code: p.Code, Reason: reason})
	if !dissolved {
		h.broadcastParty(p)
		return
	}
	h.dissolveParty(p, "host_left")
}

func (h *Hub) dissolveParty(p *party.Party, reason string) {
	for _, m := range p.Members {
		if ms, ok := h.reg.ByAccount(m.AccountID); ok && ms.State == session.InParty && ms.PartyCode == p.Code {
			ms.Detach()
			ms.Send(types.PartyDissolved{Code: p.Code, Reason: reason})
		}
	}
	for id := range p.Invites {
		h.sendTo(id, types.InviteCancelled{PartyCode: p.Code})
	}
	delete(h.parties, p.Code)
	h.releaseCode(p.Code)
	h.log.Info("party dissolved", zap.String("party", p.Code), zap.String("reason", reason))
}

func (h *Hub) invite(msg Invite) InviteOutcome {
	s, err := h.verifiedSession(msg.ConnID)
	if err != nil {
		return InviteOutcome{Err: err}
	}
	p, err := h.sessionParty(s)
	if err != nil {
		return InviteOutcome{Err: err}
	}
	if msg.Target == s.AccountID {
		return InviteOutcome{Err: party.ErrAlreadyMember}
	}
	if t, ok := h.reg.ByAccount(msg.Target); ok && t.State == session.InParty {
		return InviteOutcome{Err: ErrTargetInParty}
	}
	now := h.clock.Now()
	if err := p.Invite(s.AccountID, msg.Target, now); err != nil {
		return InviteOutcome{Err: err}
	}

	inv := store.Invite{AccountID: msg.Target, From: s.AccountID, FromUsername: s.Name, PartyCode: p.Code, At: now}
	delivered := h.sendTo(msg.Target, types.PartyInvite{
		From:         s.AccountID,
		FromUsername: s.Name,
		PartyCode:    p.Code,
		Timestamp:    now.UnixMilli(),
	})
	h.broadcastParty(p)
	return InviteOutcome{Delivered: delivered, Invite: inv}
}

func (h *Hub) cancelInvite(s *session.Session, target string) error {
	p, err := h.sessionParty(s)
	if err != nil {
		return err
	}
	if err := p.CancelInvite(s.AccountID, target); err != nil {
		return err
	}
	h.sendTo(target, types.InviteCancelled{PartyCode: p.Code})
	h.broadcastParty(p)
	return nil
}

func (h *Hub) declineInvite(s *session.Session, raw string) error {
	p, ok := h.parties[party.NormalizeCode(raw)]
	if !ok {
		return ErrCodeNotFound
	}
	if err := p.Decline(s.AccountID); err != nil {
		return err
	}
	h.sendTo(p.Host, types.InviteDeclined{AccountID: s.AccountID, Name: s.Name})
	h.broadcastParty(p)
	return nil
}

func (h *Hub) setPartyOptions(s *session.Session, o types.PartyOptions) error {
	p, err := h.sessionParty(s)
	if err != nil {
		return err
	}
	if err := p.SetOptions(s.AccountID, o); err != nil {
		return err
	}
	h.broadcastParty(p)
	return nil
}

// startParty locks the roster and fetches targets off the loop. The match
// is created when partyPrepared comes back.
func (h *Hub) startParty(s *session.Session) error {
	p, err := h.sessionParty(s)
	if err != nil {
		return err
	}
	if err := p.Start(s.AccountID); err != nil {
		return err
	}
	h.broadcastParty(p)

	rules := p.Rules(h.cfg.Rules)
	code, mode := p.Code, p.Mode
	go func() {
		ctx, cancel := context.WithTimeout(h.ctx, prepareTimeout)
		defer cancel()
		targets, err := h.deps.Locations.Locations(ctx, mode, geo.Filter{Countries: rules.Countries}, rules.Rounds)
		h.post(partyPrepared{code: code, targets: targets, err: err})
	}()
	return nil
}

func (h *Hub) onPartyPrepared(msg partyPrepared) {
	p, ok := h.parties[msg.code]
	if !ok || p.Status != engine.StatusStarting {
		return
	}
	if msg.err != nil {
		h.log.Error("party targets unavailable", zap.String("party", p.Code), zap.Error(msg.err))
		p.Unstart()
		h.sendTo(p.Host, types.NewError(types.CodeUnavailable, "startGameHost", "no locations available, try again"))
		h.broadcastParty(p)
		return
	}

	members := make([]*session.Session, 0, len(p.Members))
	for _, m := range p.Members {
		s, ok := h.reg.ByAccount(m.AccountID)
		if !ok || s.State != session.InParty || s.PartyCode != p.Code {
			h.log.DPanic("party member without matching session", zap.String("party", p.Code), zap.String("account", m.AccountID))
			continue
		}
		members = append(members, s)
	}

	delete(h.parties, p.Code)
	err := h.startMatch(matchPlan{
		id:      p.Code,
		host:    p.Host,
		mode:    p.Mode,
		ranked:  false,
		rules:   p.Rules(h.cfg.Rules),
		targets: msg.targets,
		members: members,
	})
	if err != nil {
		h.log.Error("party match failed to start", zap.String("party", p.Code), zap.Error(err))
		h.parties[p.Code] = p
		p.Unstart()
		h.sendTo(p.Host, types.NewError(types.CodeUnavailable, "startGameHost", "could not start the match"))
		h.broadcastParty(p)
	}
}

func (h *Hub) broadcastParty(p *party.Party) {
	st := p.State(h.connected)
	for _, m := range p.Members {
		h.sendTo(m.AccountID, st)
	}
}

func (h *Hub) releaseCode(code string) {
	c, owner := h.deps.Cache, h.cfg.InstanceID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), prepareTimeout)
		defer cancel()
		if err := c.Release(ctx, cache.PartyKey(code), owner); err != nil {
			h.log.Warn("releasing party code", zap.String("party", code), zap.Error(err))
		}
	}()
}

func (h *Hub) sessionParty(s *session.Session) (*party.Party, error) {
	if s.State != session.InParty {
		return nil, ErrNotInParty
	}
	p, ok := h.parties[s.PartyCode]
	if !ok {
		h.log.DPanic("session points at missing party", zap.String("party", s.PartyCode))
		return nil, ErrNotInParty
	}
	return p, nil
}

func member(s *session.Session) party.Member {
	return party.Member{AccountID: s.AccountID, Name: s.Name, Rating: s.Rating}
}
