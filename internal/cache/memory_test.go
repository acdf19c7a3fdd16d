package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_ReserveIsOwned(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(clockwork.NewFakeClock())

	ok, err := m.Reserve(ctx, PartyKey("AB12CD"), "inst-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = m.Reserve(ctx, PartyKey("AB12CD"), "inst-2", time.Minute)
	assert.False(t, ok, "held by another owner")

	ok, _ = m.Reserve(ctx, PartyKey("AB12CD"), "inst-1", time.Minute)
	assert.True(t, ok, "owner may re-reserve")

	require.NoError(t, m.Release(ctx, PartyKey("AB12CD"), "inst-2"))
	owner, err := m.Get(ctx, PartyKey("AB12CD"))
	require.NoError(t, err)
	assert.Equal(t, "inst-1", owner, "non-owner release is ignored")

	require.NoError(t, m.Release(ctx, PartyKey("AB12CD"), "inst-1"))
	_, err = m.Get(ctx, PartyKey("AB12CD"))
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)

	_, _ = m.Reserve(ctx, PresenceKey("acct-1"), "inst-1", 30*time.Second)
	clock.Advance(29 * time.Second)
	_, err := m.Get(ctx, PresenceKey("acct-1"))
	require.NoError(t, err)

	require.NoError(t, m.Touch(ctx, PresenceKey("acct-1"), 30*time.Second))
	clock.Advance(29 * time.Second)
	_, err = m.Get(ctx, PresenceKey("acct-1"))
	require.NoError(t, err, "touch extends the lease")

	clock.Advance(time.Second)
	_, err = m.Get(ctx, PresenceKey("acct-1"))
	assert.ErrorIs(t, err, ErrMiss)

	ok, _ := m.Reserve(ctx, PresenceKey("acct-1"), "inst-2", 0)
	assert.True(t, ok, "expired key is free")
}
