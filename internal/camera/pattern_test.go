package camera

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edge-viewer-go/internal/convert"
	"edge-viewer-go/internal/frame"
)

func TestPatternFrameSizes(t *testing.T) {
	t.Parallel()

	for _, f := range []frame.PixelFormat{frame.FormatNV21, frame.FormatNV12, frame.FormatI420, frame.FormatYUYV} {
		buf := PatternFrame(f, 33, 17, 0, nil)
		assert.Len(t, buf, frame.PackedSize(f, 33, 17), f.String())

		raw, err := frame.FromPacked(f, buf, 33, 17)
		require.NoError(t, err, f.String())
		require.NoError(t, raw.Validate(), f.String())
	}
	assert.Empty(t, PatternFrame(frame.FormatNV21, 0, 10, 0, nil))
}

func TestPatternBarMoves(t *testing.T) {
	t.Parallel()

	row := func(n int) []int {
		buf := PatternFrame(frame.FormatNV21, 64, 48, n, nil)
		var bright []int
		for x := 0; x < 64; x++ {
			if buf[x] == 220 {
				bright = append(bright, x)
			}
		}
		return bright
	}
	assert.Equal(t, []int{16, 17, 18, 19}, row(0))
	assert.Equal(t, []int{20, 21, 22, 23}, row(1))
	assert.Equal(t, row(0), row(16), "bar wraps after width/4 frames")
}

func TestPatternSameSceneAcrossLayouts(t *testing.T) {
	t.Parallel()

	render := func(f frame.PixelFormat) []byte {
		raw, err := frame.FromPacked(f, PatternFrame(f, 40, 30, 3, nil), 40, 30)
		require.NoError(t, err)
		pb, err := convert.Convert(raw)
		require.NoError(t, err)
		return pb.Pix
	}
	nv21 := render(frame.FormatNV21)
	assert.Empty(t, cmp.Diff(nv21, render(frame.FormatNV12)))
	assert.Empty(t, cmp.Diff(nv21, render(frame.FormatI420)))
}

func TestPatternReusesBuffer(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 0, 10000)
	out := PatternFrame(frame.FormatI420, 20, 20, 1, buf)
	assert.Equal(t, &buf[:1][0], &out[0])
}
