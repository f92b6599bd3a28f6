package edge

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edge-viewer-go/internal/frame"
)

func TestParamsValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultParams().Validate())

	bad := []Params{
		{LowThreshold: 150, HighThreshold: 50, BlurKernelSize: 3},
		{LowThreshold: -1, HighThreshold: 50, BlurKernelSize: 3},
		{LowThreshold: math.NaN(), HighThreshold: 50, BlurKernelSize: 3},
		{LowThreshold: 10, HighThreshold: math.Inf(1), BlurKernelSize: 3},
		{LowThreshold: 10, HighThreshold: 50, BlurKernelSize: 1},
		{LowThreshold: 10, HighThreshold: 50, BlurKernelSize: 3, Policy: Policy(7)},
	}
	for _, p := range bad {
		assert.True(t, errors.Is(p.Validate(), frame.ErrInvalidParameter), "%+v", p)
	}
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	p, err := ParsePolicy("Sobel")
	require.NoError(t, err)
	assert.Equal(t, PolicySobel, p)
	assert.Equal(t, "sobel", p.String())

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyCanny, p)

	_, err = ParsePolicy("laplacian")
	assert.True(t, errors.Is(err, frame.ErrInvalidParameter))
}
