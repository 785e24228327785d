package transcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatePairEvenOdd(t *testing.T) {
	allocator := NewPortsAllocator(5004, 5104)

	first, err := allocator.AllocatePair()
	require.NoError(t, err)
	assert.Equal(t, PortPair{RTP: 5004, RTCP: 5005}, first)

	second, err := allocator.AllocatePair()
	require.NoError(t, err)
	assert.Equal(t, PortPair{RTP: 5006, RTCP: 5007}, second)
}

func TestAllocatePairNormalizesOddStart(t *testing.T) {
	allocator := NewPortsAllocator(5003, 5104)

	pair, err := allocator.AllocatePair()
	require.NoError(t, err)
	assert.Equal(t, 5004, pair.RTP)
}

func TestAllocatePairExhaustion(t *testing.T) {
	allocator := NewPortsAllocator(5004, 5007)

	pair, err := allocator.AllocatePair()
	require.NoError(t, err)

	_, err = allocator.AllocatePair()
	assert.ErrorIs(t, err, ErrNoFreePorts)

	allocator.Release(pair)

	again, err := allocator.AllocatePair()
	require.NoError(t, err)
	assert.Equal(t, pair, again)
}

func TestReleaseUnleasedPairIsNoop(t *testing.T) {
	allocator := NewPortsAllocator(5004, 5104)
	allocator.Release(PortPair{RTP: 6000, RTCP: 6001})

	pair, err := allocator.AllocatePair()
	require.NoError(t, err)
	assert.Equal(t, 5004, pair.RTP)
}
