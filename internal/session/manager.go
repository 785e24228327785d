// Package session implements the gateway core around connected clients: the
// media session manager (capability negotiation, transports, producers,
// consumers), producer event fan-out, and the connect/disconnect lifecycle.
package session

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/glowmedia/streamgate/internal/config"
	"github.com/glowmedia/streamgate/internal/core"
	"github.com/glowmedia/streamgate/internal/engine"
	"github.com/glowmedia/streamgate/internal/registry"
	"github.com/glowmedia/streamgate/internal/signal"
	"github.com/glowmedia/streamgate/internal/signal/rpc"
	"github.com/glowmedia/streamgate/internal/telemetry"
)

var errUnsupportedKind = errors.New("unsupported media kind")

// Bridger drives the transcode bridge for a session. Implemented by the
// transcode orchestrator.
type Bridger interface {
	// Start begins a bridge job; onResult fires exactly once, either when
	// the output is ready or when starting failed.
	Start(sid core.SessionID, onResult func(error))

	// Stop terminates the session's job if one exists.
	Stop(sid core.SessionID)
}

// Options is options of the session manager.
type Options struct {
	Config    *config.Config
	Engine    engine.Engine
	Registry  *registry.Registry
	Publisher signal.Publisher
	Bridge    Bridger
}

// Manager owns every connected session's negotiated media state. All request
// handling runs on the signal router's dispatch goroutine.
type Manager struct {
	Options

	lock      sync.RWMutex
	connected map[core.SessionID]struct{}
}

func NewManager(options Options) *Manager {
	return &Manager{
		Options:   options,
		connected: make(map[core.SessionID]struct{}),
	}
}

// Register wires the manager into the signal router's callbacks.
func (m *Manager) Register(router *signal.Router) {
	router.OnJoin(m.HandleJoin)
	router.OnCloseSession(m.HandleCloseSession)
	router.OnCapabilities(m.HandleCapabilities)
	router.OnCreateTransport(m.HandleCreateTransport)
	router.OnConnectTransport(m.HandleConnectTransport)
	router.OnCreateProducer(m.HandleCreateProducer)
	router.OnCreateConsumer(m.HandleCreateConsumer)
	router.OnResumeConsumer(m.HandleResumeConsumer)
	router.OnListProducers(m.HandleListProducers)
	router.OnStartStream(m.HandleStartStream)
	router.OnStopStream(m.HandleStopStream)
}

// HandleJoin creates the session and backfills it with the router
// capabilities and every producer created before it connected. Runs in the
// same dispatch turn as producer creation, so the backfill can neither miss
// nor duplicate a concurrent producer.
func (m *Manager) HandleJoin(sid core.SessionID) error {
	m.lock.Lock()
	m.connected[sid] = struct{}{}
	m.lock.Unlock()

	telemetry.SessionStarted()
	log.Info().Str("service", "session").Str("sessionID", string(sid)).Msg("session joined")

	if err := m.Publisher.PublishClient(sid, rpc.NewCapabilitiesPushRpc(m.Engine.Capabilities())); err != nil {
		return err
	}

	return m.Publisher.PublishClient(sid, rpc.NewExistingProducersRpc(m.producerEvents(m.Registry.ProducersExcluding(sid))))
}

// HandleCloseSession releases everything the session owns. The sweep is
// total: a failing or slow close of one resource never stops the rest.
func (m *Manager) HandleCloseSession(sid core.SessionID) error {
	log.Info().Str("service", "session").Str("sessionID", string(sid)).Msg("session closed")

	resources := m.Registry.Resources(sid)
	for _, p := range resources.Producers {
		if err := p.Close(); err != nil {
			log.Error().Err(err).Str("service", "session").Str("producerID", p.ID()).Msg("close producer")
		}
		m.broadcastExcept(sid, rpc.NewProducerClosedRpc(p.ID(), sid))
	}

	m.Bridge.Stop(sid)
	m.Registry.ReleaseAll(sid)

	m.lock.Lock()
	delete(m.connected, sid)
	m.lock.Unlock()

	telemetry.SessionStopped()

	return nil
}

func (m *Manager) HandleCapabilities(sid core.SessionID, reqID uint64) error {
	return m.ack(sid, reqID, m.Engine.Capabilities())
}

func (m *Manager) HandleCreateTransport(sid core.SessionID, reqID uint64, params rpc.CreateTransportParams) error {
	direction := engine.DirectionRecv
	if params.Sender {
		direction = engine.DirectionSend
	}

	transport, err := m.Engine.CreateTransport(direction, m.Config.RTC.ListenIP)
	if err != nil {
		telemetry.ServiceOperationCounter.WithLabelValues("create_transport", "error", "engine").Add(1)
		return m.nack(sid, reqID, core.NewEngineError("createTransport", err))
	}

	m.Registry.AttachTransport(sid, transport)
	telemetry.ServiceOperationCounter.WithLabelValues("create_transport", "success", "").Add(1)

	return m.ack(sid, reqID, transport.Info())
}

// HandleConnectTransport surfaces TransportNotFound for unknown ids instead
// of silently succeeding, keeping the error contract uniform across
// operations.
func (m *Manager) HandleConnectTransport(sid core.SessionID, reqID uint64, params rpc.ConnectTransportParams) error {
	transport, ok := m.Registry.TransportByID(params.TransportID)
	if !ok {
		return m.nack(sid, reqID, core.ErrTransportNotFound)
	}

	if err := transport.Connect(params.DTLSParameters); err != nil {
		return m.nack(sid, reqID, core.NewEngineError("connectTransport", err))
	}

	return m.ack(sid, reqID, map[string]bool{"connected": true})
}

func (m *Manager) HandleCreateProducer(sid core.SessionID, reqID uint64, params rpc.CreateProducerParams) error {
	if !params.Kind.Valid() {
		return m.nack(sid, reqID, errUnsupportedKind)
	}

	transport, ok := m.Registry.TransportByID(params.TransportID)
	if !ok {
		return m.nack(sid, reqID, core.ErrTransportNotFound)
	}

	producer, err := transport.Produce(params.Kind, params.RTPParameters)
	if err != nil {
		telemetry.ServiceOperationCounter.WithLabelValues("create_producer", "error", "engine").Add(1)
		return m.nack(sid, reqID, core.NewEngineError("createProducer", err))
	}

	m.Registry.AttachProducer(sid, producer)
	telemetry.ServiceOperationCounter.WithLabelValues("create_producer", "success", "").Add(1)

	log.Debug().Str("service", "session").Str("sessionID", string(sid)).Str("producerID", producer.ID()).Str("kind", string(params.Kind)).Msg("producer created")

	m.broadcastExcept(sid, rpc.NewNewProducerRpc(producer.ID(), sid))

	return m.ack(sid, reqID, map[string]string{"id": producer.ID()})
}

func (m *Manager) HandleCreateConsumer(sid core.SessionID, reqID uint64, params rpc.CreateConsumerParams) error {
	transport, ok := m.Registry.TransportByID(params.TransportID)
	if !ok {
		return m.nack(sid, reqID, core.ErrTransportNotFound)
	}

	producer, ok := m.Registry.ProducerByID(params.ProducerID)
	if !ok {
		return m.nack(sid, reqID, engine.ErrProducerNotFound)
	}

	consumer, err := transport.Consume(producer, params.RTPCapabilities)
	if err != nil {
		if errors.Is(err, engine.ErrIncompatible) {
			return m.nack(sid, reqID, core.ErrIncompatibleCapabilities)
		}
		return m.nack(sid, reqID, core.NewEngineError("createConsumer", err))
	}

	// Consumers start paused; no media flows until the client's playback
	// pipeline asks for it.
	m.Registry.AttachConsumer(sid, consumer)

	return m.ack(sid, reqID, consumer.Info())
}

func (m *Manager) HandleResumeConsumer(sid core.SessionID, reqID uint64, params rpc.ResumeConsumerParams) error {
	consumer, ok := m.Registry.ConsumerByID(params.ConsumerID)
	if !ok {
		// Unknown consumer resume is a no-op.
		return m.ack(sid, reqID, map[string]bool{"resumed": false})
	}

	if err := consumer.Resume(); err != nil {
		return m.nack(sid, reqID, core.NewEngineError("resumeConsumer", err))
	}

	return m.ack(sid, reqID, map[string]bool{"resumed": true})
}

func (m *Manager) HandleListProducers(sid core.SessionID, reqID uint64) error {
	return m.ack(sid, reqID, m.producerEvents(m.Registry.ProducersExcluding(sid)))
}

func (m *Manager) HandleStartStream(sid core.SessionID, reqID uint64) error {
	m.Bridge.Start(sid, func(err error) {
		if err != nil {
			if ackErr := m.nack(sid, reqID, err); ackErr != nil {
				log.Error().Err(ackErr).Str("service", "session").Str("sessionID", string(sid)).Msg("publish bridge ack")
			}
			return
		}
		if ackErr := m.ack(sid, reqID, map[string]bool{"streaming": true}); ackErr != nil {
			log.Error().Err(ackErr).Str("service", "session").Str("sessionID", string(sid)).Msg("publish bridge ack")
		}
	})

	return nil
}

func (m *Manager) HandleStopStream(sid core.SessionID, reqID uint64) error {
	m.Bridge.Stop(sid)

	return m.ack(sid, reqID, map[string]bool{"streaming": false})
}

func (m *Manager) ack(sid core.SessionID, reqID uint64, result interface{}) error {
	return m.Publisher.PublishClient(sid, rpc.NewAckRpc(reqID, result))
}

func (m *Manager) nack(sid core.SessionID, reqID uint64, err error) error {
	log.Debug().Err(err).Str("service", "session").Str("sessionID", string(sid)).Msg("request failed")

	return m.Publisher.PublishClient(sid, rpc.NewErrorRpc(reqID, err))
}

func (m *Manager) broadcastExcept(origin core.SessionID, r rpc.Rpc) {
	m.lock.RLock()
	peers := make([]core.SessionID, 0, len(m.connected))
	for sid := range m.connected {
		if sid != origin {
			peers = append(peers, sid)
		}
	}
	m.lock.RUnlock()

	for _, sid := range peers {
		if err := m.Publisher.PublishClient(sid, r); err != nil {
			log.Error().Err(err).Str("service", "session").Str("sessionID", string(sid)).Msg("broadcast")
		}
	}
}

func (m *Manager) producerEvents(refs []registry.ProducerRef) []rpc.ProducerEventParams {
	events := make([]rpc.ProducerEventParams, 0, len(refs))
	for _, ref := range refs {
		events = append(events, rpc.ProducerEventParams{ProducerID: ref.ProducerID, SessionID: ref.SessionID})
	}

	return events
}
