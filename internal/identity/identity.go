package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type Identity struct {
	AccountID string
	Name      string
}

type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// JWTVerifier accepts HS256 tokens carrying userId and username claims.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), now: time.Now}
}

// Issue signs a token in the shape Verify accepts. The account service that
// shares JWT_SECRET mints the same claims; tests call it to get tokens
// without that service.
func (v *JWTVerifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := v.now()
	claims := jwt.MapClaims{
		"userId":   id.AccountID,
		"username": id.Name,
		"exp":      now.Add(ttl).Unix(),
		"iat":      now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

func (v *JWTVerifier) Verify(_ context.Context, raw string) (Identity, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired(), jwt.WithTimeFunc(v.now))
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	id, _ := claims["userId"].(string)
	name, _ := claims["username"].(string)
	if id == "" {
		return Identity{}, ErrInvalidToken
	}
	if name == "" {
		name = id
	}
	return Identity{AccountID: id, Name: name}, nil
}

// SecretFunc resolves a long-lived session secret. It returns ErrInvalidToken
// for unknown secrets.
type SecretFunc func(ctx context.Context, secret string) (Identity, error)

type SecretVerifier struct {
	Lookup SecretFunc
}

func (v SecretVerifier) Verify(ctx context.Context, secret string) (Identity, error) {
	if secret == "" {
		return Identity{}, ErrInvalidToken
	}
	id, err := v.Lookup(ctx, secret)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return Identity{}, err
		}
		return Identity{}, fmt.Errorf("secret lookup: %w", err)
	}
	return id, nil
}

// Chain tries each verifier in turn. A verifier that rejects the token hands
// it to the next; any other failure stops the chain.
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, token string) (Identity, error) {
	for _, v := range c {
		id, err := v.Verify(ctx, token)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrInvalidToken) {
			return Identity{}, err
		}
	}
	return Identity{}, ErrInvalidToken
}
