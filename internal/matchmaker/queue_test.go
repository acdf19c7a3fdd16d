package matchmaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/geoguess-server/internal/rating"
)

var t0 = time.Unix(1_700_000_000, 0)

func TestQueue_EnqueueTwiceRejected(t *testing.T) {
	q := NewQueue(rating.DefaultSelector())
	_, err := q.Enqueue("a", 1000, "world", t0)
	require.NoError(t, err)
	_, err = q.Enqueue("a", 1000, "world", t0)
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	require.NoError(t, q.Dequeue("a"))
	assert.ErrorIs(t, q.Dequeue("a"), ErrNotQueued)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_1000And1400MatchAfterWaiting(t *testing.T) {
	q := NewQueue(rating.DefaultSelector())
	_, _ = q.Enqueue("a", 1000, "world", t0)
	_, _ = q.Enqueue("b", 1400, "world", t0)

	assert.Empty(t, q.Groups(t0), "band of 200 cannot bridge 400")
	assert.Empty(t, q.Groups(t0.Add(9*time.Second)))

	groups := q.Groups(t0.Add(10 * time.Second))
	require.Len(t, groups, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, groups[0].AccountIDs())

	require.True(t, q.Commit(groups[0]))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_LongestWaitingPartnerFirst(t *testing.T) {
	q := NewQueue(rating.DefaultSelector())
	_, _ = q.Enqueue("old", 1000, "world", t0)
	_, _ = q.Enqueue("mid", 1050, "world", t0.Add(time.Second))
	_, _ = q.Enqueue("new", 1000, "world", t0.Add(2*time.Second))

	groups := q.Groups(t0.Add(3 * time.Second))
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"old", "mid"}, groups[0].AccountIDs())
	assert.False(t, q.index["new"].Reserved())
}

func TestQueue_ModesDoNotMix(t *testing.T) {
	q := NewQueue(rating.DefaultSelector())
	_, _ = q.Enqueue("a", 1000, "world", t0)
	_, _ = q.Enqueue("b", 1000, "europe", t0)
	assert.Empty(t, q.Groups(t0.Add(time.Hour)))
}

func TestQueue_ReservedSkippedAndReleased(t *testing.T) {
	q := NewQueue(rating.DefaultSelector())
	_, _ = q.Enqueue("a", 1000, "world", t0)
	_, _ = q.Enqueue("b", 1000, "world", t0)

	groups := q.Groups(t0)
	require.Len(t, groups, 1)
	assert.Empty(t, q.Groups(t0), "pending group is not regrouped")

	q.Release(groups[0])
	assert.Len(t, q.Groups(t0), 1, "released tickets are retried")
}

func TestQueue_CommitFailsWhenTicketLeft(t *testing.T) {
	q := NewQueue(rating.DefaultSelector())
	_, _ = q.Enqueue("a", 1000, "world", t0)
	_, _ = q.Enqueue("b", 1000, "world", t0)

	groups := q.Groups(t0)
	require.Len(t, groups, 1)
	require.NoError(t, q.Dequeue("b"))

	assert.False(t, q.Commit(groups[0]))
	assert.True(t, q.Contains("a"))
	assert.False(t, q.index["a"].Reserved())
}
