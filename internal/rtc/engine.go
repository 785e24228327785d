// Package rtc is the pion-backed media engine. It terminates WebRTC peer
// connections, routes RTP between producers and consumers and feeds the
// transcode bridge over plain UDP.
package rtc

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/glowmedia/streamgate/internal/config"
	"github.com/glowmedia/streamgate/internal/engine"
)

// Engine implements engine.Engine on top of pion/webrtc. One instance
// serves the whole process.
type Engine struct {
	conf *config.Config

	lock       sync.Mutex
	closed     bool
	transports map[string]io.Closer
}

func NewEngine(conf *config.Config) *Engine {
	return &Engine{
		conf:       conf,
		transports: make(map[string]io.Closer),
	}
}

func (e *Engine) Capabilities() engine.Capabilities {
	return capabilitiesFor(e.conf.Peer.EnabledCodecs)
}

func (e *Engine) CreateTransport(direction engine.Direction, listenIP string) (engine.Transport, error) {
	t, err := newTransport(e, direction, listenIP)
	if err != nil {
		return nil, err
	}

	if err := e.track(t.ID(), t); err != nil {
		t.Close()
		return nil, err
	}

	log.Debug().Str("service", "rtc").Str("transportID", t.ID()).Str("direction", string(direction)).Msg("transport created")

	return t, nil
}

func (e *Engine) CreateBridgeTransport(listenIP string) (engine.BridgeTransport, error) {
	t := newBridgeTransport(e, listenIP)

	if err := e.track(t.ID(), t); err != nil {
		return nil, err
	}

	log.Debug().Str("service", "rtc").Str("transportID", t.ID()).Msg("bridge transport created")

	return t, nil
}

// Close shuts down every transport still alive. The engine is unusable
// afterwards.
func (e *Engine) Close() error {
	e.lock.Lock()
	if e.closed {
		e.lock.Unlock()
		return nil
	}
	e.closed = true
	open := make([]io.Closer, 0, len(e.transports))
	for _, t := range e.transports {
		open = append(open, t)
	}
	e.transports = make(map[string]io.Closer)
	e.lock.Unlock()

	for _, t := range open {
		if err := t.Close(); err != nil {
			log.Error().Err(err).Str("service", "rtc").Msg("close transport")
		}
	}

	return nil
}

func (e *Engine) track(id string, t io.Closer) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.closed {
		return fmt.Errorf("engine is closed")
	}
	e.transports[id] = t

	return nil
}

func (e *Engine) forget(id string) {
	e.lock.Lock()
	delete(e.transports, id)
	e.lock.Unlock()
}
