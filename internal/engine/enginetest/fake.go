// Package enginetest provides an in-memory media engine used by package
// tests. It honors the same contracts as the real engine: idempotent closes,
// paused interactive consumers, engine-assigned payload types.
package enginetest

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/glowmedia/streamgate/internal/core"
	"github.com/glowmedia/streamgate/internal/engine"
)

type FakeEngine struct {
	mu sync.Mutex

	nextID int

	// CreateTransportErr, when set, makes every transport request fail.
	CreateTransportErr error

	Transports       []*FakeTransport
	BridgeTransports []*FakeBridgeTransport
}

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{}
}

func (e *FakeEngine) id(prefix string) string {
	e.nextID++
	return fmt.Sprintf("%s-%d", prefix, e.nextID)
}

func (e *FakeEngine) Capabilities() engine.Capabilities {
	return engine.Capabilities{
		Codecs: []engine.Codec{
			{MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PayloadType: 111},
			{MimeType: "video/VP8", ClockRate: 90000, PayloadType: 96},
		},
	}
}

func (e *FakeEngine) CreateTransport(direction engine.Direction, listenIP string) (engine.Transport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.CreateTransportErr != nil {
		return nil, e.CreateTransportErr
	}
	t := &FakeTransport{engine: e, id: e.id("transport"), Direction: direction, ListenIP: listenIP}
	e.Transports = append(e.Transports, t)

	return t, nil
}

func (e *FakeEngine) CreateBridgeTransport(listenIP string) (engine.BridgeTransport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.CreateTransportErr != nil {
		return nil, e.CreateTransportErr
	}
	t := &FakeBridgeTransport{engine: e, id: e.id("bridge"), ListenIP: listenIP}
	e.BridgeTransports = append(e.BridgeTransports, t)

	return t, nil
}

func (e *FakeEngine) Close() error { return nil }

type FakeTransport struct {
	engine *FakeEngine
	id     string

	Direction engine.Direction
	ListenIP  string
	Connected bool
	Closed    bool
}

func (t *FakeTransport) ID() string { return t.id }

func (t *FakeTransport) Info() engine.TransportInfo {
	return engine.TransportInfo{ID: t.id, Params: json.RawMessage(`{}`)}
}

func (t *FakeTransport) Connect(params engine.SecurityParams) error {
	t.Connected = true
	return nil
}

func (t *FakeTransport) Produce(kind core.MediaKind, params engine.MediaParams) (engine.Producer, error) {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()

	return &FakeProducer{id: t.engine.id("producer"), kind: kind}, nil
}

func (t *FakeTransport) Consume(producer engine.Producer, remoteCaps engine.Capabilities) (engine.Consumer, error) {
	if len(remoteCaps.Codecs) == 0 {
		return nil, engine.ErrIncompatible
	}

	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()

	p := producer.(*FakeProducer)
	c := &FakeConsumer{
		id:          t.engine.id("consumer"),
		producerID:  p.id,
		kind:        p.kind,
		payloadType: 96,
		Paused:      true,
		producer:    p,
	}
	p.mu.Lock()
	p.consumers = append(p.consumers, c)
	p.mu.Unlock()

	return c, nil
}

func (t *FakeTransport) Close() error {
	t.Closed = true
	return nil
}

type FakeProducer struct {
	id   string
	kind core.MediaKind

	mu        sync.Mutex
	Closed    bool
	consumers []*FakeConsumer
}

func (p *FakeProducer) ID() string           { return p.id }
func (p *FakeProducer) Kind() core.MediaKind { return p.kind }

func (p *FakeProducer) Close() error {
	p.mu.Lock()
	consumers := p.consumers
	p.Closed = true
	p.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}

	return nil
}

type FakeConsumer struct {
	id          string
	producerID  string
	kind        core.MediaKind
	payloadType uint8
	producer    *FakeProducer

	Paused      bool
	Closed      bool
	ResumeCalls int

	// Keyframe state has its own lock: keyframe requests arrive from
	// pacing goroutines while tests read the counter.
	keyframeMu    sync.Mutex
	keyframeCalls int
	keyframeErr   error
}

func (c *FakeConsumer) ID() string           { return c.id }
func (c *FakeConsumer) ProducerID() string   { return c.producerID }
func (c *FakeConsumer) Kind() core.MediaKind { return c.kind }
func (c *FakeConsumer) PayloadType() uint8   { return c.payloadType }

func (c *FakeConsumer) Info() engine.ConsumerInfo {
	return engine.ConsumerInfo{
		ID:            c.id,
		ProducerID:    c.producerID,
		Kind:          c.kind,
		RTPParameters: json.RawMessage(`{}`),
	}
}

func (c *FakeConsumer) Resume() error {
	if c.Closed {
		return nil
	}
	c.Paused = false
	c.ResumeCalls++
	return nil
}

func (c *FakeConsumer) RequestKeyframe() error {
	c.keyframeMu.Lock()
	defer c.keyframeMu.Unlock()

	c.keyframeCalls++
	return c.keyframeErr
}

// KeyframeRequests reports how many keyframes were asked of this consumer.
func (c *FakeConsumer) KeyframeRequests() int {
	c.keyframeMu.Lock()
	defer c.keyframeMu.Unlock()

	return c.keyframeCalls
}

// FailKeyframes makes every following keyframe request return err.
func (c *FakeConsumer) FailKeyframes(err error) {
	c.keyframeMu.Lock()
	defer c.keyframeMu.Unlock()

	c.keyframeErr = err
}

func (c *FakeConsumer) Close() error {
	c.Closed = true
	return nil
}

type FakeBridgeTransport struct {
	engine *FakeEngine
	id     string

	ListenIP   string
	RemoteIP   string
	RTPPort    int
	RTCPPort   int
	Closed     bool
	ConnectErr error

	Consumers []*FakeConsumer
}

func (t *FakeBridgeTransport) ID() string { return t.id }

func (t *FakeBridgeTransport) Connect(ip string, rtpPort, rtcpPort int) error {
	if t.ConnectErr != nil {
		return t.ConnectErr
	}
	t.RemoteIP = ip
	t.RTPPort = rtpPort
	t.RTCPPort = rtcpPort
	return nil
}

func (t *FakeBridgeTransport) Consume(producer engine.Producer) (engine.Consumer, error) {
	t.engine.mu.Lock()
	defer t.engine.mu.Unlock()

	p := producer.(*FakeProducer)
	pt := uint8(96)
	if p.kind == core.AudioKind {
		pt = 97
	}
	c := &FakeConsumer{
		id:          t.engine.id("bridge-consumer"),
		producerID:  p.id,
		kind:        p.kind,
		payloadType: pt,
		Paused:      false,
		producer:    p,
	}
	p.mu.Lock()
	p.consumers = append(p.consumers, c)
	p.mu.Unlock()
	t.Consumers = append(t.Consumers, c)

	return c, nil
}

func (t *FakeBridgeTransport) Close() error {
	t.Closed = true
	return nil
}
