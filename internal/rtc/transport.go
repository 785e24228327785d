package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/glowmedia/streamgate/internal/config"
	"github.com/glowmedia/streamgate/internal/core"
	"github.com/glowmedia/streamgate/internal/engine"
)

const (
	dtlsRetransmissionInterval = 100 * time.Millisecond
	mtu                        = 1400
	iceDisconnectedTimeout     = 10 * time.Second // compatible for ice-lite with firefox client
	iceFailedTimeout           = 25 * time.Second // pion's default
	iceKeepaliveInterval       = 2 * time.Second  // pion's default
)

var errTransportClosed = errors.New("transport is closed")

// Transport is one peer connection. The gateway is the offering side: the
// transport descriptor returned on creation carries the local offer, and
// Connect completes the handshake with the peer's answer.
type Transport struct {
	id        string
	direction engine.Direction
	engine    *Engine
	pc        *webrtc.PeerConnection
	offer     json.RawMessage

	lock      sync.Mutex
	closed    bool
	pending   map[core.MediaKind][]*Producer
	producers map[string]*Producer

	closeOnce sync.Once
	closeErr  error
}

func newTransport(e *Engine, direction engine.Direction, listenIP string) (*Transport, error) {
	pc, err := newPeerConnection(e.conf, listenIP)
	if err != nil {
		return nil, err
	}

	t := &Transport{
		id:        uuid.NewString(),
		direction: direction,
		engine:    e,
		pc:        pc,
		pending:   make(map[core.MediaKind][]*Producer),
		producers: make(map[string]*Producer),
	}

	// One audio and one video m-line negotiated up front. Consumers reuse
	// these senders, so no renegotiation round trip is needed later.
	transceiverDirection := webrtc.RTPTransceiverDirectionSendrecv
	if direction == engine.DirectionSend {
		transceiverDirection = webrtc.RTPTransceiverDirectionRecvonly
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: transceiverDirection}); err != nil {
			pc.Close()
			return nil, err
		}
	}

	pc.OnTrack(t.onTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("service", "rtc").Str("transportID", t.id).Str("state", state.String()).Msg("connection state changed")

		if state == webrtc.PeerConnectionStateFailed {
			t.Close()
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, err
	}
	<-gatherComplete

	t.offer, err = json.Marshal(pc.LocalDescription())
	if err != nil {
		pc.Close()
		return nil, err
	}

	return t, nil
}

func newPeerConnection(conf *config.Config, listenIP string) (*webrtc.PeerConnection, error) {
	mediaEngine, err := createMediaEngine(conf.Peer.EnabledCodecs)
	if err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	se.DisableMediaEngineCopy(true)
	se.DisableSRTPReplayProtection(true)
	se.DisableSRTCPReplayProtection(true)
	se.SetDTLSRetransmissionInterval(dtlsRetransmissionInterval)
	se.SetReceiveMTU(mtu)
	se.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)
	if err := se.SetEphemeralUDPPortRange(uint16(conf.RTC.ICEPortRangeStart), uint16(conf.RTC.ICEPortRangeEnd)); err != nil {
		return nil, err
	}
	if listenIP != "" && listenIP != "0.0.0.0" {
		se.SetNAT1To1IPs([]string{listenIP}, webrtc.ICECandidateTypeHost)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(se),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	stunURLs := make([]string, 0, len(config.DefaultStunServers))
	for _, server := range config.DefaultStunServers {
		stunURLs = append(stunURLs, "stun:"+server)
	}

	return api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunURLs}},
	})
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Info() engine.TransportInfo {
	return engine.TransportInfo{ID: t.id, Params: t.offer}
}

// Connect applies the peer's SDP answer.
func (t *Transport) Connect(params engine.SecurityParams) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(params, &answer); err != nil {
		return fmt.Errorf("malformed session description: %w", err)
	}

	return t.pc.SetRemoteDescription(answer)
}

// Produce registers an inbound source of the given kind. The producer binds
// to the actual remote track when it arrives over the connection.
func (t *Transport) Produce(kind core.MediaKind, _ engine.MediaParams) (engine.Producer, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed {
		return nil, errTransportClosed
	}

	p := newProducer(kind, t.pc, func(p *Producer) {
		t.lock.Lock()
		delete(t.producers, p.ID())
		t.lock.Unlock()
	})

	t.pending[kind] = append(t.pending[kind], p)
	t.producers[p.ID()] = p

	return p, nil
}

// Consume relays the producer into this transport. The consumer starts
// paused.
func (t *Transport) Consume(producer engine.Producer, remoteCaps engine.Capabilities) (engine.Consumer, error) {
	t.lock.Lock()
	if t.closed {
		t.lock.Unlock()
		return nil, errTransportClosed
	}
	t.lock.Unlock()

	codecType := webrtc.RTPCodecTypeVideo
	if producer.Kind() == core.AudioKind {
		codecType = webrtc.RTPCodecTypeAudio
	}

	codec, ok := codecForKind(t.engine.conf.Peer.EnabledCodecs, codecType)
	if !ok || !remoteSupports(remoteCaps, codec.MimeType) {
		return nil, engine.ErrIncompatible
	}

	src, ok := producer.(*Producer)
	if !ok {
		return nil, fmt.Errorf("foreign producer %s", producer.ID())
	}

	track, err := webrtc.NewTrackLocalStaticRTP(codec.RTPCodecCapability, uuid.NewString(), uuid.NewString())
	if err != nil {
		return nil, err
	}

	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}

	// Drain sender reports so the interceptors keep running.
	go func() {
		buf := make([]byte, mtu)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	consumer := newConsumer(src, track, sender, uint8(codec.PayloadType))
	src.attach(consumer)

	return consumer, nil
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.lock.Lock()
		t.closed = true
		producers := make([]*Producer, 0, len(t.producers))
		for _, p := range t.producers {
			producers = append(producers, p)
		}
		t.lock.Unlock()

		for _, p := range producers {
			if err := p.Close(); err != nil {
				log.Error().Err(err).Str("service", "rtc").Str("producerID", p.ID()).Msg("close producer")
			}
		}

		t.engine.forget(t.id)
		t.closeErr = t.pc.Close()
	})

	return t.closeErr
}

// onTrack binds an arriving remote track to the oldest producer of its kind
// still waiting for one.
func (t *Transport) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind := core.VideoKind
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		kind = core.AudioKind
	}

	t.lock.Lock()
	waiting := t.pending[kind]
	if len(waiting) == 0 {
		t.lock.Unlock()
		log.Warn().Str("service", "rtc").Str("transportID", t.id).Str("kind", string(kind)).Msg("track arrived with no producer waiting")
		return
	}
	producer := waiting[0]
	t.pending[kind] = waiting[1:]
	t.lock.Unlock()

	log.Debug().Str("service", "rtc").Str("transportID", t.id).Str("producerID", producer.ID()).Str("kind", string(kind)).Msg("remote track bound")

	producer.bind(track)
}

func remoteSupports(caps engine.Capabilities, mimeType string) bool {
	for _, codec := range caps.Codecs {
		if strings.EqualFold(codec.MimeType, mimeType) {
			return true
		}
	}
	return false
}
