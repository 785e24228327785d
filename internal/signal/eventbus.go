// Package signal is the signaling channel: a redis pub/sub eventbus carrying
// JSON-RPC between the websocket layer and the gateway core, and a router
// that dispatches decoded requests on a single goroutine.
package signal

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/glowmedia/streamgate/internal/core"
	"github.com/glowmedia/streamgate/internal/signal/rpc"
)

type Channel string

const (
	// ClientMessages fans server responses and broadcasts out to one
	// session's websocket.
	ClientMessages Channel = "client_messages"
	// ServerMessages funnels every session's requests into the dispatch
	// loop.
	ServerMessages Channel = "server_messages"
)

func (c Channel) forSession(sid core.SessionID) string {
	return string(c) + ":" + string(sid)
}

// ServerMessage is the envelope the websocket layer publishes for every
// inbound frame: the raw rpc plus the session that sent it.
type ServerMessage struct {
	SessionID core.SessionID  `json:"session_id"`
	Message   json.RawMessage `json:"message"`
}

// Bus is one subscription's message stream.
type Bus interface {
	Channel() <-chan *redis.Message
	Close() error
}

// Subscription adapts a redis pubsub to the Bus interface.
type Subscription struct {
	pubsub *redis.PubSub
}

func (s *Subscription) Channel() <-chan *redis.Message {
	return s.pubsub.Channel()
}

func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

type Publisher interface {
	PublishClient(sid core.SessionID, r rpc.Rpc) error
	PublishServer(msg ServerMessage) error
}

type Subscriber interface {
	SubscribeClient(sid core.SessionID) (Bus, error)
	SubscribeServer() (Bus, error)
}

type Eventbus struct {
	rdb *redis.Client
}

// RedisPubSub builds the eventbus on redis pub/sub.
func RedisPubSub(rdb *redis.Client) *Eventbus {
	return &Eventbus{rdb: rdb}
}

func (e *Eventbus) PublishClient(sid core.SessionID, r rpc.Rpc) error {
	msg, err := r.ToJSON()
	if err != nil {
		return err
	}
	return e.rdb.Publish(context.Background(), ClientMessages.forSession(sid), msg).Err()
}

func (e *Eventbus) PublishServer(msg ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return e.rdb.Publish(context.Background(), string(ServerMessages), payload).Err()
}

func (e *Eventbus) SubscribeClient(sid core.SessionID) (Bus, error) {
	return e.subscribe(ClientMessages.forSession(sid))
}

func (e *Eventbus) SubscribeServer() (Bus, error) {
	return e.subscribe(string(ServerMessages))
}

func (e *Eventbus) subscribe(channel string) (Bus, error) {
	ctx := context.Background()
	pubsub := e.rdb.Subscribe(ctx, channel)
	// Wait until the subscription is created so no message published right
	// after this call is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, err
	}

	return &Subscription{pubsub: pubsub}, nil
}
