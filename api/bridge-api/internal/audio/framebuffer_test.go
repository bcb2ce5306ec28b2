package internal_audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationBuffer_ReadyAtTarget(t *testing.T) {
	// 100 ms at 8 kHz is 800 samples.
	b := NewDurationBuffer(100, TelephonySampleRate)

	b.Push(make([]int16, 500))
	assert.False(t, b.Ready())

	b.Push(make([]int16, 300))
	assert.True(t, b.Ready())
	assert.Equal(t, 800, b.Len())
}

func TestDurationBuffer_FlushConcatenatesInOrder(t *testing.T) {
	b := NewDurationBuffer(1, 1000) // 1 sample target, irrelevant here
	b.Push([]int16{1, 2})
	b.Push([]int16{3})
	b.Push([]int16{4, 5})

	assert.Equal(t, []int16{1, 2, 3, 4, 5}, b.Flush())
	assert.Equal(t, 0, b.Len())
	assert.Nil(t, b.Flush(), "second flush should be empty")
}

func TestDurationBuffer_Reset(t *testing.T) {
	b := NewDurationBuffer(100, TelephonySampleRate)
	b.Push(make([]int16, 1000))
	b.Reset()

	assert.Equal(t, 0, b.Len())
	assert.False(t, b.Ready())
}

func TestDurationBuffer_IgnoresEmptyChunks(t *testing.T) {
	b := NewDurationBuffer(100, TelephonySampleRate)
	b.Push(nil)
	b.Push([]int16{})
	assert.Equal(t, 0, b.Len())
}

func TestChunkSplitter_ReframesAcrossPushes(t *testing.T) {
	s := NewChunkSplitter(4)

	assert.Nil(t, s.Push([]byte{1, 2, 3}), "partial chunk should be held")
	assert.Equal(t, 3, s.Pending())

	out := s.Push([]byte{4, 5, 6, 7, 8, 9})
	require.Len(t, out, 2)
	assert.Equal(t, []byte{1, 2, 3, 4}, out[0])
	assert.Equal(t, []byte{5, 6, 7, 8}, out[1])
	assert.Equal(t, 1, s.Pending())
}

func TestChunkSplitter_ExactMultiple(t *testing.T) {
	s := NewChunkSplitter(UlawFrameBytes)
	out := s.Push(make([]byte, UlawFrameBytes*3))

	require.Len(t, out, 3)
	for i, chunk := range out {
		assert.Len(t, chunk, UlawFrameBytes, "chunk %d", i)
	}
	assert.Equal(t, 0, s.Pending())
}

func TestChunkSplitter_ResetDropsTail(t *testing.T) {
	s := NewChunkSplitter(UlawFrameBytes)
	s.Push(make([]byte, 100))
	require.Equal(t, 100, s.Pending())

	s.Reset()
	assert.Equal(t, 0, s.Pending())

	// The next push starts clean.
	out := s.Push(make([]byte, UlawFrameBytes))
	require.Len(t, out, 1)
}
