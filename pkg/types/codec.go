package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrBadMessage = errors.New("malformed message")
var ErrUnknownType = errors.New("unknown message type")

type ErrorCode string

const (
	CodeBadMessage       ErrorCode = "bad_message"
	CodeUnknownType      ErrorCode = "unknown_type"
	CodeInvalidState     ErrorCode = "invalid_state"
	CodeNotVerified      ErrorCode = "not_verified"
	CodeInvalidToken     ErrorCode = "invalid_token"
	CodeNotHost          ErrorCode = "not_host"
	CodeNotMember        ErrorCode = "not_member"
	CodeNotLinked        ErrorCode = "not_linked"
	CodePartyFull        ErrorCode = "party_full"
	CodeAlreadyInParty   ErrorCode = "already_in_party"
	CodeAlreadyQueued    ErrorCode = "already_queued"
	CodeBusy             ErrorCode = "busy"
	CodeCodeNotFound     ErrorCode = "code_not_found"
	CodeAlreadyStarted   ErrorCode = "already_started"
	CodeNotInvited       ErrorCode = "not_invited"
	CodeWrongRound       ErrorCode = "wrong_round"
	CodeAlreadyGuessed   ErrorCode = "already_guessed"
	CodeUnavailable      ErrorCode = "unavailable"
	CodeReplaced         ErrorCode = "replaced"
	CodeSessionElsewhere ErrorCode = "session_elsewhere"
	CodeInternal         ErrorCode = "internal"
)

// Decode reads one client frame into its concrete message type.
func Decode(data []byte) (Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}

	var msg Inbound
	switch head.Type {
	case "ping":
		msg = &Ping{}
	case "verify":
		msg = &Verify{}
	case "createParty":
		msg = &CreateParty{}
	case "joinPrivateGame":
		msg = &JoinPrivateGame{}
	case "leaveParty":
		msg = &LeaveParty{}
	case "inviteToParty":
		msg = &InviteToParty{}
	case "cancelInvite":
		msg = &CancelInvite{}
	case "declineInvite":
		msg = &DeclineInvite{}
	case "setPartyOptions":
		msg = &SetPartyOptions{}
	case "startGameHost":
		msg = &StartGameHost{}
	case "joinQueue":
		msg = &JoinQueue{}
	case "leaveQueue":
		msg = &LeaveQueue{}
	case "ready":
		msg = &Ready{}
	case "guess":
		msg = &Guess{}
	case "leaveGame":
		msg = &LeaveGame{}
	case "abortGame":
		msg = &AbortGame{}
	case "ackResults":
		msg = &AckResults{}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrBadMessage)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadMessage, head.Type, err)
	}
	return deref(msg), nil
}

func deref(m Inbound) Inbound {
	switch v := m.(type) {
	case *Ping:
		return *v
	case *Verify:
		return *v
	case *CreateParty:
		return *v
	case *JoinPrivateGame:
		return *v
	case *LeaveParty:
		return *v
	case *InviteToParty:
		return *v
	case *CancelInvite:
		return *v
	case *DeclineInvite:
		return *v
	case *SetPartyOptions:
		return *v
	case *StartGameHost:
		return *v
	case *JoinQueue:
		return *v
	case *LeaveQueue:
		return *v
	case *Ready:
		return *v
	case *Guess:
		return *v
	case *LeaveGame:
		return *v
	case *AbortGame:
		return *v
	case *AckResults:
		return *v
	}
	return m
}

// Encode frames an outbound message as a JSON object with its type tag first.
func Encode(m Outbound) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(m.MessageType())

	var buf bytes.Buffer
	buf.Grow(len(body) + len(tag) + 9)
	buf.WriteString(`{"type":`)
	buf.Write(tag)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

func NewError(code ErrorCode, ref string, msg string) Error {
	return Error{Code: code, Ref: ref, Message: msg}
}

// TypeOf returns the wire tag of an inbound message, for logs and error refs.
func TypeOf(m Inbound) string {
	switch m.(type) {
	case Ping:
		return "ping"
	case Verify:
		return "verify"
	case CreateParty:
		return "createParty"
	case JoinPrivateGame:
		return "joinPrivateGame"
	case LeaveParty:
		return "leaveParty"
	case InviteToParty:
		return "inviteToParty"
	case CancelInvite:
		return "cancelInvite"
	case DeclineInvite:
		return "declineInvite"
	case SetPartyOptions:
		return "setPartyOptions"
	case StartGameHost:
		return "startGameHost"
	case JoinQueue:
		return "joinQueue"
	case LeaveQueue:
		return "leaveQueue"
	case Ready:
		return "ready"
	case Guess:
		return "guess"
	case LeaveGame:
		return "leaveGame"
	case AbortGame:
		return "abortGame"
	case AckResults:
		return "ackResults"
	}
	return ""
}
