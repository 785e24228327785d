package rtc

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/glowmedia/streamgate/internal/core"
)

// rtpSink receives the producer's packets. Both interactive and bridge
// consumers implement it.
type rtpSink interface {
	ID() string
	writeRTP(packet *rtp.Packet)
	Close() error
}

// Producer is one inbound media source. It fans incoming RTP out to every
// attached sink and answers keyframe requests with a PLI towards the
// publishing peer.
type Producer struct {
	id   string
	kind core.MediaKind
	pc   *webrtc.PeerConnection

	lock   sync.Mutex
	remote *webrtc.TrackRemote
	sinks  map[string]rtpSink

	closeOnce sync.Once
	onClose   func(*Producer)
}

func newProducer(kind core.MediaKind, pc *webrtc.PeerConnection, onClose func(*Producer)) *Producer {
	return &Producer{
		id:      uuid.NewString(),
		kind:    kind,
		pc:      pc,
		sinks:   make(map[string]rtpSink),
		onClose: onClose,
	}
}

func (p *Producer) ID() string           { return p.id }
func (p *Producer) Kind() core.MediaKind { return p.kind }

// bind sets the remote track and starts forwarding. Called once, when the
// negotiated track actually arrives.
func (p *Producer) bind(track *webrtc.TrackRemote) {
	p.lock.Lock()
	p.remote = track
	p.lock.Unlock()

	go p.forwardRTP(track)
}

func (p *Producer) forwardRTP(track *webrtc.TrackRemote) {
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("service", "rtc").Str("producerID", p.id).Msg("source track ended")
			return
		}

		p.lock.Lock()
		sinks := make([]rtpSink, 0, len(p.sinks))
		for _, sink := range p.sinks {
			sinks = append(sinks, sink)
		}
		p.lock.Unlock()

		for _, sink := range sinks {
			// Each sink rewrites the header, so hand out copies.
			clone := *packet
			sink.writeRTP(&clone)
		}
	}
}

// RequestKeyframe asks the publishing peer for a fresh keyframe. A no-op
// until the remote track is bound or for audio sources.
func (p *Producer) RequestKeyframe() error {
	p.lock.Lock()
	remote := p.remote
	p.lock.Unlock()

	if remote == nil || p.kind != core.VideoKind {
		return nil
	}

	return p.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())},
	})
}

func (p *Producer) attach(sink rtpSink) {
	p.lock.Lock()
	p.sinks[sink.ID()] = sink
	p.lock.Unlock()
}

func (p *Producer) detach(id string) {
	p.lock.Lock()
	delete(p.sinks, id)
	p.lock.Unlock()
}

// Close tears the producer down together with every consumer it feeds.
func (p *Producer) Close() error {
	p.closeOnce.Do(func() {
		p.lock.Lock()
		sinks := make([]rtpSink, 0, len(p.sinks))
		for _, sink := range p.sinks {
			sinks = append(sinks, sink)
		}
		p.sinks = make(map[string]rtpSink)
		p.lock.Unlock()

		for _, sink := range sinks {
			if err := sink.Close(); err != nil {
				log.Error().Err(err).Str("service", "rtc").Str("consumerID", sink.ID()).Msg("close consumer")
			}
		}

		if p.onClose != nil {
			p.onClose(p)
		}
	})

	return nil
}
