package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/geoguess-server/pkg/types"
)

func TestHub_ScheduledMatchmaking(t *testing.T) {
	f := newFixture(t)
	a := f.login(t, "c-a", "a", 1200)
	b := f.login(t, "c-b", "b", 1210)
	f.send("c-a", types.JoinQueue{})
	f.send("c-b", types.JoinQueue{})
	require.Equal(t, 2, f.sync(t).Queued)

	sched, err := f.h.StartMatchmaking(20 * time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sched.Shutdown() })

	ga := recvType[types.GameStarting](t, a, 2*time.Second)
	gb := recvType[types.GameStarting](t, b, 2*time.Second)
	assert.Equal(t, ga.Code, gb.Code)
}
