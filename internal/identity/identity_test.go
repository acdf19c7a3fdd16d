package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := NewJWTVerifier("s3cret")
	tok, err := v.Issue(Identity{AccountID: "acct-1", Name: "ana"}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, Identity{AccountID: "acct-1", Name: "ana"}, id)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := NewJWTVerifier("s3cret")
	other := NewJWTVerifier("different")
	foreign, _ := other.Issue(Identity{AccountID: "acct-1"}, time.Hour)

	past := NewJWTVerifier("s3cret")
	past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := past.Issue(Identity{AccountID: "acct-1"}, time.Hour)

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userId": "acct-1"}).SignedString([]byte("s3cret"))
	noUser, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("s3cret"))

	for name, tok := range map[string]string{
		"garbage": "not-a-token",
		"foreign": foreign,
		"expired": expired,
		"no exp":  noExp,
		"no user": noUser,
	} {
		_, err := v.Verify(context.Background(), tok)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}

func TestChain_FallsThroughOnlyOnInvalidToken(t *testing.T) {
	jwtV := NewJWTVerifier("s3cret")
	secrets := SecretVerifier{Lookup: func(_ context.Context, s string) (Identity, error) {
		if s == "abc" {
			return Identity{AccountID: "acct-2", Name: "bo"}, nil
		}
		return Identity{}, ErrInvalidToken
	}}
	c := Chain{jwtV, secrets}

	id, err := c.Verify(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "acct-2", id.AccountID)

	_, err = c.Verify(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvalidToken)

	boom := errors.New("db down")
	broken := Chain{SecretVerifier{Lookup: func(context.Context, string) (Identity, error) { return Identity{}, boom }}, jwtV}
	_, err = broken.Verify(context.Background(), "abc")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrInvalidToken)
}
