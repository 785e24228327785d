package signal

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/glowmedia/streamgate/internal/core"
	"github.com/glowmedia/streamgate/internal/signal/rpc"
)

var (
	errNoSessionID     = errors.New("can't get session id")
	errUndefinedMethod = errors.New("undefined method")
)

// Router subscribes to the server channel and dispatches decoded rpcs to the
// registered callbacks. All callbacks run on one goroutine, so two requests
// never interleave their registry mutations; that single dispatch turn is
// also what makes the join backfill race-free against producer creation.
type Router struct {
	EventsSubscriber Subscriber
	subscription     Bus

	stopped chan struct{}

	onJoin         func(core.SessionID) error
	onCloseSession func(core.SessionID) error

	onCapabilities     func(core.SessionID, uint64) error
	onCreateTransport  func(core.SessionID, uint64, rpc.CreateTransportParams) error
	onConnectTransport func(core.SessionID, uint64, rpc.ConnectTransportParams) error
	onCreateProducer   func(core.SessionID, uint64, rpc.CreateProducerParams) error
	onCreateConsumer   func(core.SessionID, uint64, rpc.CreateConsumerParams) error
	onResumeConsumer   func(core.SessionID, uint64, rpc.ResumeConsumerParams) error
	onListProducers    func(core.SessionID, uint64) error
	onStartStream      func(core.SessionID, uint64) error
	onStopStream       func(core.SessionID, uint64) error
}

func NewRouter(sub Subscriber) (*Router, error) {
	router := &Router{
		EventsSubscriber: sub,
		stopped:          make(chan struct{}),
	}
	subscription, err := router.EventsSubscriber.SubscribeServer()
	if err != nil {
		return nil, err
	}
	router.subscription = subscription

	return router, nil
}

// Start launches the dispatch loop. The returned channel closes once the
// loop is consuming messages.
func (router *Router) Start() <-chan struct{} {
	log.Debug().Str("service", "router").Msg("start")

	ready := make(chan struct{})

	go func() {
		channel := router.subscription.Channel()
		close(ready)

		for msg := range channel {
			sid, r, err := parseRpc(msg.Payload)
			if err != nil {
				log.Error().Err(err).Str("service", "router").Msg("")
				continue
			}

			router.dispatch(sid, r)
		}

		close(router.stopped)
	}()

	return ready
}

// Stop closes the subscription and waits for the dispatch loop to drain.
func (router *Router) Stop() <-chan struct{} {
	if err := router.subscription.Close(); err != nil {
		log.Error().Err(err).Str("service", "router").Msg("close subscription")
	}

	return router.stopped
}

func (router *Router) dispatch(sid core.SessionID, r rpc.Rpc) {
	var err error

	switch m := r.(type) {
	case *rpc.JoinRpc:
		err = router.onJoin(sid)
	case *rpc.CloseSessionRpc:
		err = router.onCloseSession(sid)
	case *rpc.CapabilitiesRpc:
		err = router.onCapabilities(sid, m.GetID())
	case *rpc.CreateTransportRpc:
		err = router.onCreateTransport(sid, m.GetID(), m.Params)
	case *rpc.ConnectTransportRpc:
		err = router.onConnectTransport(sid, m.GetID(), m.Params)
	case *rpc.CreateProducerRpc:
		err = router.onCreateProducer(sid, m.GetID(), m.Params)
	case *rpc.CreateConsumerRpc:
		err = router.onCreateConsumer(sid, m.GetID(), m.Params)
	case *rpc.ResumeConsumerRpc:
		err = router.onResumeConsumer(sid, m.GetID(), m.Params)
	case *rpc.ListProducersRpc:
		err = router.onListProducers(sid, m.GetID())
	case *rpc.StartStreamRpc:
		err = router.onStartStream(sid, m.GetID())
	case *rpc.StopStreamRpc:
		err = router.onStopStream(sid, m.GetID())
	default:
		log.Error().Err(errUndefinedMethod).Str("rpcMethod", string(r.GetMethod())).Str("service", "router").Msg("")
		return
	}

	if err != nil {
		log.Error().Err(err).Str("rpcMethod", string(r.GetMethod())).Str("sessionID", string(sid)).Str("service", "router").Msg("")
	}
}

func parseRpc(payload string) (core.SessionID, rpc.Rpc, error) {
	serverMessage := &ServerMessage{}
	if err := json.Unmarshal([]byte(payload), serverMessage); err != nil {
		return "", nil, err
	}

	if serverMessage.SessionID == "" {
		return "", nil, errNoSessionID
	}

	reader := bytes.NewReader(serverMessage.Message)
	r, err := rpc.RpcFromReader(reader)
	if err != nil {
		return "", nil, err
	}

	return serverMessage.SessionID, r, nil
}

func (router *Router) OnJoin(callback func(core.SessionID) error) {
	router.onJoin = callback
}

func (router *Router) OnCloseSession(callback func(core.SessionID) error) {
	router.onCloseSession = callback
}

func (router *Router) OnCapabilities(callback func(core.SessionID, uint64) error) {
	router.onCapabilities = callback
}

func (router *Router) OnCreateTransport(callback func(core.SessionID, uint64, rpc.CreateTransportParams) error) {
	router.onCreateTransport = callback
}

func (router *Router) OnConnectTransport(callback func(core.SessionID, uint64, rpc.ConnectTransportParams) error) {
	router.onConnectTransport = callback
}

func (router *Router) OnCreateProducer(callback func(core.SessionID, uint64, rpc.CreateProducerParams) error) {
	router.onCreateProducer = callback
}

func (router *Router) OnCreateConsumer(callback func(core.SessionID, uint64, rpc.CreateConsumerParams) error) {
	router.onCreateConsumer = callback
}

func (router *Router) OnResumeConsumer(callback func(core.SessionID, uint64, rpc.ResumeConsumerParams) error) {
	router.onResumeConsumer = callback
}

func (router *Router) OnListProducers(callback func(core.SessionID, uint64) error) {
	router.onListProducers = callback
}

func (router *Router) OnStartStream(callback func(core.SessionID, uint64) error) {
	router.onStartStream = callback
}

func (router *Router) OnStopStream(callback func(core.SessionID, uint64) error) {
	router.onStopStream = callback
}
