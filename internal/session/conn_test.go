package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DoyleJ11/geoguess-server/pkg/types"
)

func TestConn_FullBufferClosesWithoutReplacing(t *testing.T) {
	c := newConn("c1")
	for i := 0; i < 4; i++ {
		assert.True(t, c.Send(types.Pong{T: int64(i)}))
	}
	assert.False(t, c.Send(types.Pong{T: 4}))
	assert.False(t, c.Alive())
	assert.False(t, c.Replaced())
}

func TestConn_ReplaceMarksAndCloses(t *testing.T) {
	c := newConn("c1")
	c.Replace()
	assert.False(t, c.Alive())
	assert.True(t, c.Replaced())
	assert.False(t, c.Send(types.Pong{T: 1}))

	// a later plain close keeps the mark
	c.Close()
	assert.True(t, c.Replaced())
}

func TestConn_CloseIsNotReplace(t *testing.T) {
	c := newConn("c1")
	c.Close()
	c.Close()
	assert.False(t, c.Alive())
	assert.False(t, c.Replaced())
}
