package cache

import (
	"context"
	"errors"
	"time"
)

var ErrMiss = errors.New("cache miss")

// PartyCodeTTL bounds how long a party code stays reserved if its owner dies
// without releasing it.
const PartyCodeTTL = 6 * time.Hour

// Cache is the cross-instance coordination store. Keys are owned: Reserve
// succeeds when the key is free or already held by owner, and only the owner
// can release it.
type Cache interface {
	Reserve(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Release(ctx context.Context, key, owner string) error
	Touch(ctx context.Context, key string, ttl time.Duration) error
}

func PartyKey(code string) string        { return "party:" + code }
func PresenceKey(accountID string) string { return "presence:" + accountID }
