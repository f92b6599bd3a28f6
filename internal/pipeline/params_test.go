package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edge-viewer-go/internal/edge"
)

func TestParamStoreAcquiredValueSurvivesSet(t *testing.T) {
	t.Parallel()

	s := newParamStore(edge.DefaultParams())
	inFlight := s.Acquire()
	assert.False(t, s.Pending())

	next := edge.Params{LowThreshold: 10, HighThreshold: 40, BlurKernelSize: 7, Policy: edge.PolicySobel}
	require.NoError(t, s.Set(next))

	assert.Equal(t, edge.DefaultParams(), inFlight, "frame in filtering keeps its parameters")
	assert.True(t, s.Pending())
	assert.Equal(t, next, s.Get())

	assert.Equal(t, next, s.Acquire(), "next frame picks up the update")
	assert.False(t, s.Pending())
}

func TestParamStoreRejectsInvalid(t *testing.T) {
	t.Parallel()

	s := newParamStore(edge.DefaultParams())
	assert.Error(t, s.Set(edge.Params{LowThreshold: 5, HighThreshold: 5, BlurKernelSize: 3}))
	assert.False(t, s.Pending())

	got, err := s.Update(func(p *edge.Params) { p.BlurKernelSize = 9 })
	assert.Error(t, err)
	assert.Equal(t, edge.DefaultParams(), got)
	assert.Equal(t, edge.DefaultParams(), s.Get())
}
