// Package registry keeps the in-memory mapping between sessions and the
// media resources they own. It is the single mutation entry point for
// resource bookkeeping; nothing here has side effects beyond its own maps.
package registry

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/glowmedia/streamgate/internal/core"
	"github.com/glowmedia/streamgate/internal/engine"
)

// ProducerRef names a producer together with its owning session, the shape
// broadcast to peers and backfilled to late joiners.
type ProducerRef struct {
	ProducerID string         `json:"producerId"`
	SessionID  core.SessionID `json:"socketId"`
	Kind       core.MediaKind `json:"kind"`
}

// Resources is a snapshot of everything a session owns.
type Resources struct {
	Transports []engine.Transport
	Producers  []engine.Producer
	Consumers  []engine.Consumer
}

type sessionEntry struct {
	transports []engine.Transport
	producers  []engine.Producer
	consumers  []engine.Consumer
}

// Registry is an arena keyed by session id with secondary indexes by
// resource id, so lookups never scan per-session lists.
type Registry struct {
	mu sync.RWMutex

	sessions map[core.SessionID]*sessionEntry

	transportOwner map[string]core.SessionID
	producerOwner  map[string]core.SessionID
	consumerOwner  map[string]core.SessionID

	transports map[string]engine.Transport
	producers  map[string]engine.Producer
	consumers  map[string]engine.Consumer

	// Producer ids in attach order, across sessions. Listings iterate this
	// instead of the maps so callers composing media from the result get
	// the same source order on every run.
	producerOrder []string
}

func New() *Registry {
	return &Registry{
		sessions:       make(map[core.SessionID]*sessionEntry),
		transportOwner: make(map[string]core.SessionID),
		producerOwner:  make(map[string]core.SessionID),
		consumerOwner:  make(map[string]core.SessionID),
		transports:     make(map[string]engine.Transport),
		producers:      make(map[string]engine.Producer),
		consumers:      make(map[string]engine.Consumer),
	}
}

func (r *Registry) entry(sid core.SessionID) *sessionEntry {
	e, ok := r.sessions[sid]
	if !ok {
		e = &sessionEntry{}
		r.sessions[sid] = e
	}
	return e
}

func (r *Registry) AttachTransport(sid core.SessionID, t engine.Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(sid)
	e.transports = append(e.transports, t)
	r.transportOwner[t.ID()] = sid
	r.transports[t.ID()] = t
}

func (r *Registry) AttachProducer(sid core.SessionID, p engine.Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(sid)
	e.producers = append(e.producers, p)
	r.producerOwner[p.ID()] = sid
	r.producers[p.ID()] = p
	r.producerOrder = append(r.producerOrder, p.ID())
}

func (r *Registry) AttachConsumer(sid core.SessionID, c engine.Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(sid)
	e.consumers = append(e.consumers, c)
	r.consumerOwner[c.ID()] = sid
	r.consumers[c.ID()] = c
}

func (r *Registry) DetachProducer(p engine.Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sid, ok := r.producerOwner[p.ID()]
	if !ok {
		return
	}
	e := r.sessions[sid]
	for i, own := range e.producers {
		if own.ID() == p.ID() {
			e.producers = append(e.producers[:i], e.producers[i+1:]...)
			break
		}
	}
	delete(r.producerOwner, p.ID())
	delete(r.producers, p.ID())
	r.dropProducerOrder(p.ID())
}

func (r *Registry) dropProducerOrder(id string) {
	for i, own := range r.producerOrder {
		if own == id {
			r.producerOrder = append(r.producerOrder[:i], r.producerOrder[i+1:]...)
			return
		}
	}
}

func (r *Registry) DetachConsumer(c engine.Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sid, ok := r.consumerOwner[c.ID()]
	if !ok {
		return
	}
	e := r.sessions[sid]
	for i, own := range e.consumers {
		if own.ID() == c.ID() {
			e.consumers = append(e.consumers[:i], e.consumers[i+1:]...)
			break
		}
	}
	delete(r.consumerOwner, c.ID())
	delete(r.consumers, c.ID())
}

// TransportByID finds a transport across all sessions.
func (r *Registry) TransportByID(id string) (engine.Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.transports[id]
	return t, ok
}

func (r *Registry) ProducerByID(id string) (engine.Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.producers[id]
	return p, ok
}

func (r *Registry) ConsumerByID(id string) (engine.Consumer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.consumers[id]
	return c, ok
}

// Resources returns a copy of everything the session owns, in attach order.
func (r *Registry) Resources(sid core.SessionID) Resources {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[sid]
	if !ok {
		return Resources{}
	}
	res := Resources{
		Transports: make([]engine.Transport, len(e.transports)),
		Producers:  make([]engine.Producer, len(e.producers)),
		Consumers:  make([]engine.Consumer, len(e.consumers)),
	}
	copy(res.Transports, e.transports)
	copy(res.Producers, e.producers)
	copy(res.Consumers, e.consumers)

	return res
}

// ProducersExcluding lists all producers not owned by the given session in
// attach order, used to backfill a newly connected peer.
func (r *Registry) ProducersExcluding(sid core.SessionID) []ProducerRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := []ProducerRef{}
	for _, id := range r.producerOrder {
		owner := r.producerOwner[id]
		if owner == sid {
			continue
		}
		p := r.producers[id]
		refs = append(refs, ProducerRef{ProducerID: p.ID(), SessionID: owner, Kind: p.Kind()})
	}

	return refs
}

// ProducersByKind lists every producer of the given kind across all
// sessions, in attach order. The order is part of the contract: bridge
// compositions map the first video source to the first input stream.
func (r *Registry) ProducersByKind(kind core.MediaKind) []engine.Producer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []engine.Producer
	for _, id := range r.producerOrder {
		p := r.producers[id]
		if p.Kind() == kind {
			out = append(out, p)
		}
	}

	return out
}

// ReleaseAll closes every resource the session owns and drops it from all
// indexes. Close operations are idempotent on the engine side, so releasing
// an already-closed resource never fails; individual close errors are logged
// and do not stop the sweep.
func (r *Registry) ReleaseAll(sid core.SessionID) {
	r.mu.Lock()
	e, ok := r.sessions[sid]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sid)
	for _, c := range e.consumers {
		delete(r.consumerOwner, c.ID())
		delete(r.consumers, c.ID())
	}
	for _, p := range e.producers {
		delete(r.producerOwner, p.ID())
		delete(r.producers, p.ID())
		r.dropProducerOrder(p.ID())
	}
	for _, t := range e.transports {
		delete(r.transportOwner, t.ID())
		delete(r.transports, t.ID())
	}
	r.mu.Unlock()

	// Consumers first so nothing writes into a closing transport.
	for _, c := range e.consumers {
		if err := c.Close(); err != nil {
			log.Error().Err(err).Str("service", "registry").Str("consumerID", c.ID()).Msg("close consumer")
		}
	}
	for _, p := range e.producers {
		if err := p.Close(); err != nil {
			log.Error().Err(err).Str("service", "registry").Str("producerID", p.ID()).Msg("close producer")
		}
	}
	for _, t := range e.transports {
		if err := t.Close(); err != nil {
			log.Error().Err(err).Str("service", "registry").Str("transportID", t.ID()).Msg("close transport")
		}
	}
}
