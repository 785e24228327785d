// Package engine defines the boundary to the media engine that performs the
// actual ICE/DTLS negotiation, codec matching and RTP routing. The session
// manager and the transcode orchestrator depend only on these interfaces;
// the pion-backed implementation lives in internal/rtc.
package engine

import (
	"encoding/json"
	"errors"

	"github.com/glowmedia/streamgate/internal/core"
)

var (
	ErrProducerNotFound = errors.New("producer not found")
	ErrIncompatible     = errors.New("remote capabilities can't consume this producer")
)

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// Capabilities is the router-level capability descriptor sent to clients so
// they can match their supported codecs against the configured set.
type Capabilities struct {
	Codecs []Codec `json:"codecs"`
}

type Codec struct {
	MimeType    string `json:"mimeType"`
	ClockRate   uint32 `json:"clockRate"`
	Channels    uint16 `json:"channels,omitempty"`
	PayloadType uint8  `json:"preferredPayloadType"`
	SDPFmtpLine string `json:"sdpFmtpLine,omitempty"`
}

// SecurityParams carries the peer's half of the connection handshake
// (DTLS parameters, or an SDP answer, depending on the engine). The core
// treats it as opaque.
type SecurityParams = json.RawMessage

// MediaParams carries the peer's negotiated RTP parameters for a new
// producer. Opaque to the core.
type MediaParams = json.RawMessage

// TransportInfo is returned to the remote peer so it can complete the
// connection on its side.
type TransportInfo struct {
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ConsumerInfo is returned to the remote peer when a consumer is created.
type ConsumerInfo struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          core.MediaKind  `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters,omitempty"`
}

// Engine is the media engine itself. A single engine instance serves the
// whole process; losing it is fatal to the gateway.
type Engine interface {
	Capabilities() Capabilities

	// CreateTransport makes a peer-facing transport bound to the
	// configured listen address.
	CreateTransport(direction Direction, listenIP string) (Transport, error)

	// CreateBridgeTransport makes a one-way loopback transport used solely
	// to feed the external transcoder.
	CreateBridgeTransport(listenIP string) (BridgeTransport, error)

	Close() error
}

// Transport is a negotiated media connection endpoint. It must be connected
// before it can carry producers or consumers. Close is idempotent.
type Transport interface {
	ID() string
	Info() TransportInfo
	Connect(params SecurityParams) error
	Produce(kind core.MediaKind, params MediaParams) (Producer, error)
	Consume(producer Producer, remoteCaps Capabilities) (Consumer, error)
	Close() error
}

// Producer is an inbound media source. Closing a producer closes all
// consumers fed by it. Close is idempotent.
type Producer interface {
	ID() string
	Kind() core.MediaKind
	Close() error
}

// Consumer relays one producer into one receiving transport. Interactive
// consumers are created paused and start flowing on Resume; bridge consumers
// are created unpaused. All operations on a closed consumer are no-ops.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() core.MediaKind
	Info() ConsumerInfo

	// PayloadType is assigned by the engine during consume, not chosen by
	// the caller; the orchestrator reads it back for SDP generation.
	PayloadType() uint8

	Resume() error
	RequestKeyframe() error
	Close() error
}

// BridgeTransport is a one-way RTP transport towards a fixed local port the
// external transcoder listens on. Close is idempotent.
type BridgeTransport interface {
	ID() string
	Connect(ip string, rtpPort, rtcpPort int) error

	// Consume creates an unpaused consumer: bridging traffic must flow
	// immediately, there is no remote ready signal to wait for.
	Consume(producer Producer) (Consumer, error)

	Close() error
}
