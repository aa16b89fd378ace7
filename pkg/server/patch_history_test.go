package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teonet-go/teoweb/pkg/protocol"
)

func frameFor(seq uint64) *protocol.Frame {
	return protocol.NewFrame(protocol.FramePatches, []byte{byte(seq)})
}

func TestPatchHistory_After(t *testing.T) {
	h := NewPatchHistory(4)
	for seq := uint64(1); seq <= 3; seq++ {
		h.Add(seq, frameFor(seq))
	}

	frames, ok := h.After(1)
	require.True(t, ok)
	assert.Equal(t, []*protocol.Frame{frameFor(2), frameFor(3)}, frames)

	frames, ok = h.After(3)
	assert.True(t, ok, "up to date")
	assert.Empty(t, frames)

	_, ok = h.After(7)
	assert.False(t, ok, "ahead of history")
}

func TestPatchHistory_Overwrite(t *testing.T) {
	h := NewPatchHistory(3)
	for seq := uint64(1); seq <= 5; seq++ {
		h.Add(seq, frameFor(seq))
	}

	assert.Equal(t, 3, h.Len())
	assert.Equal(t, uint64(3), h.MinSeq())
	assert.Equal(t, uint64(5), h.MaxSeq())

	frames, ok := h.After(2)
	require.True(t, ok)
	assert.Equal(t, []*protocol.Frame{frameFor(3), frameFor(4), frameFor(5)}, frames)

	_, ok = h.After(1)
	assert.False(t, ok, "frame 2 was overwritten")
}

func TestPatchHistory_GapRestarts(t *testing.T) {
	h := NewPatchHistory(4)
	h.Add(1, frameFor(1))
	h.Add(2, frameFor(2))
	h.Add(5, frameFor(5))

	assert.Equal(t, 1, h.Len())
	_, ok := h.After(2)
	assert.False(t, ok)

	frames, ok := h.After(4)
	require.True(t, ok)
	assert.Equal(t, []*protocol.Frame{frameFor(5)}, frames)
}

func TestPatchHistory_Reset(t *testing.T) {
	h := NewPatchHistory(4)
	h.Add(1, frameFor(1))
	h.Reset(10)

	assert.Zero(t, h.Len())
	assert.Zero(t, h.MinSeq())

	frames, ok := h.After(10)
	assert.True(t, ok)
	assert.Empty(t, frames)

	_, ok = h.After(9)
	assert.False(t, ok)

	h.Add(11, frameFor(11))
	frames, ok = h.After(10)
	require.True(t, ok)
	assert.Equal(t, []*protocol.Frame{frameFor(11)}, frames)
}
