package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_KnownTypes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Inbound
	}{
		{name: "join by code", raw: `{"type":"joinPrivateGame","gameCode":"AB12CD"}`, want: JoinPrivateGame{Code: "AB12CD"}},
		{name: "host start", raw: `{"type":"startGameHost"}`, want: StartGameHost{}},
		{name: "guess", raw: `{"type":"guess","round":2,"lat":1.5,"long":-3,"clientTime":99}`, want: Guess{Round: 2, Lat: 1.5, Long: -3, ClientTime: 99}},
		{name: "ping", raw: `{"type":"ping","t":5}`, want: Ping{T: 5}},
		{
			name: "options",
			raw:  `{"type":"setPartyOptions","options":{"showRoadName":false,"nm":true,"npz":true,"rounds":3}}`,
			want: SetPartyOptions{Options: PartyOptions{NoMove: true, NoPanZoom: true, Rounds: 3}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrBadMessage)

	_, err = Decode([]byte(`{"round":1}`))
	assert.ErrorIs(t, err, ErrBadMessage)

	_, err = Decode([]byte(`{"type":"guess","round":"one"}`))
	assert.ErrorIs(t, err, ErrBadMessage)
}

func TestEncode_TagsType(t *testing.T) {
	raw, err := Encode(RestartQueued{Value: false})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"restartQueued","value":false}`, string(raw))

	raw, err = Encode(ServerShutdown{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"serverShutdown"}`, string(raw))

	raw, err = Encode(Error{Code: CodePartyFull, Ref: "joinPrivateGame"})
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "error", back["type"])
	assert.Equal(t, "party_full", back["code"])
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, "guess", TypeOf(Guess{}))
	assert.Equal(t, "startGameHost", TypeOf(StartGameHost{}))
}
