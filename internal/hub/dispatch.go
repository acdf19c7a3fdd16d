package hub

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/geoguess-server/internal/geo"
	"github.com/DoyleJ11/geoguess-server/internal/match"
	"github.com/DoyleJ11/geoguess-server/internal/session"
	"github.com/DoyleJ11/geoguess-server/pkg/types"
)

// dispatch routes one client frame. Every rejection is answered with an
// explicit error so the client can resync.
func (h *Hub) dispatch(cm ClientMsg) {
	s, ok := h.reg.ByConn(cm.ConnID)
	if !ok {
		return
	}
	if err := h.route(s, cm.Msg); err != nil {
		ref := types.TypeOf(cm.Msg)
		h.log.Debug("client message rejected",
			zap.String("conn", cm.ConnID),
			zap.String("account", s.AccountID),
			zap.String("type", ref),
			zap.Error(err))
		s.Send(types.NewError(CodeFor(err), ref, err.Error()))
	}
}

func (h *Hub) route(s *session.Session, in types.Inbound) error {
	if !s.Verified {
		return ErrNotVerified
	}

	switch msg := in.(type) {
	case types.JoinPrivateGame:
		return h.joinParty(s, msg.Code)

	case types.LeaveParty:
		if s.State != session.InParty {
			return ErrNotInParty
		}
		h.leaveParty(s, "left")
		return nil

	case types.CancelInvite:
		return h.cancelInvite(s, msg.AccountID)

	case types.DeclineInvite:
		return h.declineInvite(s, msg.Code)

	case types.SetPartyOptions:
		return h.setPartyOptions(s, msg.Options)

	case types.StartGameHost:
		return h.startParty(s)

	case types.JoinQueue:
		return h.joinQueue(s, msg.Mode)

	case types.LeaveQueue:
		return h.leaveQueue(s)

	case types.Ready:
		mt, err := h.currentMatch(s)
		if err != nil {
			return err
		}
		if !mt.Post(match.Ready{AccountID: s.AccountID}) {
			return ErrNotInMatch
		}

	case types.Guess:
		mt, err := h.currentMatch(s)
		if err != nil {
			return err
		}
		ok := mt.Post(match.Guess{
			AccountID:  s.AccountID,
			Round:      msg.Round,
			Coord:      geo.Coord{Lat: msg.Lat, Long: msg.Long},
			ClientTime: msg.ClientTime,
		})
		if !ok {
			return ErrNotInMatch
		}

	case types.LeaveGame:
		mt, err := h.currentMatch(s)
		if err != nil {
			return err
		}
		ok := mt.Post(match.Leave{AccountID: s.AccountID})
		s.Detach()
		if !ok {
			return ErrNotInMatch
		}

	case types.AbortGame:
		mt, err := h.currentMatch(s)
		if err != nil {
			return err
		}
		if !mt.Post(match.Abort{AccountID: s.AccountID}) {
			return ErrNotInMatch
		}

	case types.AckResults:
		mt, ok := h.matches[s.LastMatchID]
		if !ok {
			return ErrNothingToAck
		}
		ok = mt.Post(match.Ack{AccountID: s.AccountID})
		s.LastMatchID = ""
		if !ok {
			return ErrNothingToAck
		}

	case types.Verify, types.CreateParty, types.InviteToParty, types.Ping:
		// handled by the transport before reaching the hub
		h.log.DPanic("transport-level message reached the hub", zap.String("type", types.TypeOf(in)))
		return ErrInvalidState

	default:
		return ErrInvalidState
	}
	return nil
}

func (h *Hub) verifiedSession(connID string) (*session.Session, error) {
	s, ok := h.reg.ByConn(connID)
	if !ok {
		return nil, ErrGone
	}
	if !s.Verified {
		return nil, ErrNotVerified
	}
	return s, nil
}

// sendTo reports whether accountID had a live connection to send on.
func (h *Hub) sendTo(accountID string, m types.Outbound) bool {
	s, ok := h.reg.ByAccount(accountID)
	if !ok {
		return false
	}
	return s.Send(m)
}

func attachmentErr(s *session.Session) error {
	switch s.State {
	case session.InParty:
		return ErrAlreadyInParty
	case session.Queued:
		return ErrAlreadyQueued
	}
	return session.ErrBusy
}
