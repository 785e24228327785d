package transcode

import (
	"errors"
	"sync"
)

var ErrNoFreePorts = errors.New("no free ports")

// PortPair is one leased RTP/RTCP port pair. RTP is always even, RTCP is
// RTP+1.
type PortPair struct {
	RTP  int
	RTCP int
}

// PortsAllocator leases UDP port pairs out of a fixed range to bridged
// sources. A pair stays leased until released, crashed jobs included, so
// teardown must always run.
type PortsAllocator struct {
	sync.Mutex

	rangeStart int
	rangeEnd   int
	leased     map[int]bool
}

func NewPortsAllocator(rangeStart, rangeEnd int) *PortsAllocator {
	if rangeStart%2 != 0 {
		rangeStart++
	}

	return &PortsAllocator{
		rangeStart: rangeStart,
		rangeEnd:   rangeEnd,
		leased:     make(map[int]bool),
	}
}

// AllocatePair leases the lowest free even/odd pair.
func (p *PortsAllocator) AllocatePair() (PortPair, error) {
	p.Lock()
	defer p.Unlock()

	for rtp := p.rangeStart; rtp+1 <= p.rangeEnd; rtp += 2 {
		if p.leased[rtp] {
			continue
		}

		p.leased[rtp] = true

		return PortPair{RTP: rtp, RTCP: rtp + 1}, nil
	}

	return PortPair{}, ErrNoFreePorts
}

// Release returns the pair to the pool. Releasing an unleased pair is a
// no-op.
func (p *PortsAllocator) Release(pair PortPair) {
	p.Lock()
	delete(p.leased, pair.RTP)
	p.Unlock()
}
