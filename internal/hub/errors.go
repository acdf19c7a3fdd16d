package hub

import (
	"errors"

	"github.com/DoyleJ11/geoguess-server/internal/identity"
	"github.com/DoyleJ11/geoguess-server/internal/matchmaker"
	"github.com/DoyleJ11/geoguess-server/internal/party"
	"github.com/DoyleJ11/geoguess-server/internal/session"
	"github.com/DoyleJ11/geoguess-server/pkg/types"
)

var (
	ErrClosed           = errors.New("hub closed")
	ErrGone             = errors.New("connection no longer registered")
	ErrNotVerified      = errors.New("verify first")
	ErrAlreadyVerified  = errors.New("connection already verified as another account")
	ErrInvalidState     = errors.New("message not valid in current state")
	ErrCodeNotFound     = errors.New("no party or match with that code")
	ErrCodeTaken        = errors.New("code already in use")
	ErrNotInParty       = errors.New("not in a party")
	ErrNotInMatch       = errors.New("not in a match")
	ErrNotQueued        = errors.New("not queued")
	ErrNothingToAck     = errors.New("no finished match to acknowledge")
	ErrAlreadyInParty   = errors.New("already in a party")
	ErrAlreadyQueued    = errors.New("already queued")
	ErrTargetInParty    = errors.New("that player is already in a party")
	ErrNotLinked        = errors.New("you can only invite friends")
	ErrUnavailable      = errors.New("service temporarily unavailable")
	ErrSessionElsewhere = errors.New("account is connected to another server")
)

// CodeFor maps an error to the code sent to clients.
func CodeFor(err error) types.ErrorCode {
	switch {
	case errors.Is(err, ErrNotVerified):
		return types.CodeNotVerified
	case errors.Is(err, identity.ErrInvalidToken):
		return types.CodeInvalidToken
	case errors.Is(err, ErrCodeNotFound):
		return types.CodeCodeNotFound
	case errors.Is(err, party.ErrAlreadyStarted):
		return types.CodeAlreadyStarted
	case errors.Is(err, party.ErrPartyFull):
		return types.CodePartyFull
	case errors.Is(err, party.ErrNotHost):
		return types.CodeNotHost
	case errors.Is(err, party.ErrNotMember), errors.Is(err, ErrNotInParty):
		return types.CodeNotMember
	case errors.Is(err, party.ErrAlreadyMember), errors.Is(err, ErrAlreadyInParty), errors.Is(err, ErrTargetInParty):
		return types.CodeAlreadyInParty
	case errors.Is(err, party.ErrNotInvited):
		return types.CodeNotInvited
	case errors.Is(err, party.ErrInvalidOptions):
		return types.CodeBadMessage
	case errors.Is(err, matchmaker.ErrAlreadyQueued), errors.Is(err, ErrAlreadyQueued):
		return types.CodeAlreadyQueued
	case errors.Is(err, session.ErrBusy):
		return types.CodeBusy
	case errors.Is(err, ErrNotLinked):
		return types.CodeNotLinked
	case errors.Is(err, ErrUnavailable):
		return types.CodeUnavailable
	case errors.Is(err, ErrSessionElsewhere):
		return types.CodeSessionElsewhere
	case errors.Is(err, types.ErrUnknownType):
		return types.CodeUnknownType
	case errors.Is(err, types.ErrBadMessage):
		return types.CodeBadMessage
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrNotInMatch), errors.Is(err, ErrNotQueued),
		errors.Is(err, matchmaker.ErrNotQueued), errors.Is(err, ErrNothingToAck),
		errors.Is(err, ErrAlreadyVerified), errors.Is(err, party.ErrTooFewMembers):
		return types.CodeInvalidState
	}
	return types.CodeInternal
}
