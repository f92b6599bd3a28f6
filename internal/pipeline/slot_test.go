package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edge-viewer-go/internal/frame"
)

func TestFrameSlotOverwrite(t *testing.T) {
	t.Parallel()

	s := newFrameSlot()
	src := &frame.RawFrame{Width: 1}
	for i := 0; i < 3; i++ {
		seq, dropped, ok := s.Put(src)
		require.True(t, ok)
		assert.Equal(t, uint64(i), seq)
		assert.Equal(t, i > 0, dropped)
	}
	assert.Equal(t, uint64(0), src.Seq, "caller's frame is not stamped")
	assert.Equal(t, uint64(2), s.Dropped())

	got := s.Take()
	require.NotNil(t, got)
	assert.Equal(t, uint64(2), got.Seq)
	assert.False(t, s.Pending())
}

func TestFrameSlotTakeWaits(t *testing.T) {
	t.Parallel()

	s := newFrameSlot()
	got := make(chan *frame.RawFrame)
	go func() { got <- s.Take() }()

	select {
	case <-got:
		t.Fatal("Take returned with an empty slot")
	case <-time.After(20 * time.Millisecond):
	}

	s.Put(&frame.RawFrame{Width: 7})
	select {
	case f := <-got:
		require.NotNil(t, f)
		assert.Equal(t, 7, f.Width)
	case <-time.After(time.Second):
		t.Fatal("Take did not wake on Put")
	}
}

func TestFrameSlotClose(t *testing.T) {
	t.Parallel()

	s := newFrameSlot()
	s.Put(&frame.RawFrame{})

	got := make(chan *frame.RawFrame)
	s.Close()
	go func() { got <- s.Take() }()
	select {
	case f := <-got:
		assert.Nil(t, f, "pending frame is discarded on close")
	case <-time.After(time.Second):
		t.Fatal("Take blocked after Close")
	}

	_, _, ok := s.Put(&frame.RawFrame{})
	assert.False(t, ok)
	s.Close()
}
