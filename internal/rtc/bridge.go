package rtc

import (
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"

	"github.com/glowmedia/streamgate/internal/core"
	"github.com/glowmedia/streamgate/internal/engine"
)

// Payload types the external transcoder expects, fixed by the SDP the
// orchestrator writes for it.
const (
	BridgeVideoPayloadType uint8 = 96
	BridgeAudioPayloadType uint8 = 97
)

var errBridgeNotConnected = errors.New("bridge transport is not connected")

// BridgeTransport pushes one source's RTP to a leased local UDP port the
// external transcoder listens on. It is send-only and carries exactly one
// consumer.
type BridgeTransport struct {
	id       string
	engine   *Engine
	listenIP string

	lock     sync.Mutex
	conn     *net.UDPConn
	rtcpPort int
	consumer *BridgeConsumer

	closeOnce sync.Once
	closeErr  error
}

func newBridgeTransport(e *Engine, listenIP string) *BridgeTransport {
	return &BridgeTransport{
		id:       uuid.NewString(),
		engine:   e,
		listenIP: listenIP,
	}
}

func (t *BridgeTransport) ID() string { return t.id }

// Connect dials the transcoder's RTP port. The RTCP port is part of the
// lease but nothing is sent to it.
func (t *BridgeTransport) Connect(ip string, rtpPort, rtcpPort int) error {
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ip, strconv.Itoa(rtpPort)))
	if err != nil {
		return err
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return err
	}

	t.lock.Lock()
	t.conn = conn
	t.rtcpPort = rtcpPort
	t.lock.Unlock()

	log.Debug().Str("service", "rtc").Str("transportID", t.id).Str("addr", raddr.String()).Msg("bridge connected")

	return nil
}

// Consume attaches the producer to the bridge. Unlike interactive
// consumers, bridge consumers start unpaused: the transcoder has no way to
// ask for a resume.
func (t *BridgeTransport) Consume(producer engine.Producer) (engine.Consumer, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.conn == nil {
		return nil, errBridgeNotConnected
	}

	src, ok := producer.(*Producer)
	if !ok {
		return nil, errors.New("foreign producer " + producer.ID())
	}

	pt := BridgeVideoPayloadType
	if producer.Kind() == core.AudioKind {
		pt = BridgeAudioPayloadType
	}

	consumer := &BridgeConsumer{
		id:        uuid.NewString(),
		producer:  src,
		transport: t,
		pt:        pt,
	}
	t.consumer = consumer
	src.attach(consumer)

	return consumer, nil
}

func (t *BridgeTransport) write(raw []byte) error {
	t.lock.Lock()
	conn := t.conn
	t.lock.Unlock()

	if conn == nil {
		return errBridgeNotConnected
	}

	_, err := conn.Write(raw)
	return err
}

func (t *BridgeTransport) Close() error {
	t.closeOnce.Do(func() {
		t.lock.Lock()
		consumer := t.consumer
		conn := t.conn
		t.consumer = nil
		t.conn = nil
		t.lock.Unlock()

		if consumer != nil {
			consumer.Close()
		}
		if conn != nil {
			t.closeErr = conn.Close()
		}

		t.engine.forget(t.id)
	})

	return t.closeErr
}

// BridgeConsumer rewrites the source's payload type to the bridge's fixed
// one and ships the packets over UDP.
type BridgeConsumer struct {
	id        string
	producer  *Producer
	transport *BridgeTransport
	pt        uint8

	closeOnce sync.Once
}

func (c *BridgeConsumer) ID() string           { return c.id }
func (c *BridgeConsumer) ProducerID() string   { return c.producer.ID() }
func (c *BridgeConsumer) Kind() core.MediaKind { return c.producer.Kind() }
func (c *BridgeConsumer) PayloadType() uint8   { return c.pt }

func (c *BridgeConsumer) Info() engine.ConsumerInfo {
	return engine.ConsumerInfo{
		ID:         c.id,
		ProducerID: c.producer.ID(),
		Kind:       c.producer.Kind(),
	}
}

// Resume is a no-op, bridge consumers are never paused.
func (c *BridgeConsumer) Resume() error { return nil }

func (c *BridgeConsumer) RequestKeyframe() error {
	return c.producer.RequestKeyframe()
}

func (c *BridgeConsumer) writeRTP(packet *rtp.Packet) {
	packet.PayloadType = c.pt

	raw, err := packet.Marshal()
	if err != nil {
		log.Error().Err(err).Str("service", "rtc").Str("consumerID", c.id).Msg("marshal bridge packet")
		return
	}

	if err := c.transport.write(raw); err != nil {
		log.Debug().Err(err).Str("service", "rtc").Str("consumerID", c.id).Msg("write bridge packet")
	}
}

func (c *BridgeConsumer) Close() error {
	c.closeOnce.Do(func() {
		c.producer.detach(c.id)
	})

	return nil
}
