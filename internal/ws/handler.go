package ws

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/isqad/melody"
	"github.com/rs/zerolog/log"

	"github.com/glowmedia/streamgate/internal/core"
	signalbus "github.com/glowmedia/streamgate/internal/signal"
	"github.com/glowmedia/streamgate/internal/signal/rpc"
)

const (
	wsSessionIDKey    = "session_id"
	wsSubscriptionKey = "subscription"
)

var errNoSessionKeys = errors.New("incomplete websocket session keys")

// WsHandler upgrades the request. Every connection gets a fresh session id
// and its own subscription to the client message channel.
func WsHandler(websocket *melody.Melody, subscriber signalbus.Subscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid := core.SessionID(uuid.NewString())

		subscription, err := subscriber.SubscribeClient(sid)
		if err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("can't subscribe the session to signaling channel")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		sessKeys := make(map[string]interface{})
		sessKeys[wsSessionIDKey] = sid
		sessKeys[wsSubscriptionKey] = subscription

		if err := websocket.HandleRequestWithKeys(w, r, sessKeys); err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("can't handle request")
		}
	}
}

// ConnectHandler pumps the session's client channel into the websocket and
// announces the session to the gateway core.
func ConnectHandler(publisher signalbus.Publisher) func(session *melody.Session) {
	return func(session *melody.Session) {
		sid, subscription, err := sessionKeys(session)
		if err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("extract session keys")
			closeWsSession(session)
			return
		}

		ready := make(chan struct{})

		go func() {
			ch := subscription.Channel()

			close(ready)
			for msg := range ch {
				if err := session.Write([]byte(msg.Payload)); err != nil {
					// there's only session closed error can be
					log.Error().Err(err).Str("service", "ws").Str("sessionID", string(sid)).Msg("write to websocket")
					return
				}
			}
		}()

		<-ready

		message, err := rpc.NewJoinRpc().ToJSON()
		if err != nil {
			log.Error().Err(err).Str("service", "ws").Str("sessionID", string(sid)).Msg("encode join")
			subscription.Close()
			closeWsSession(session)
			return
		}

		if err := publisher.PublishServer(signalbus.ServerMessage{SessionID: sid, Message: message}); err != nil {
			log.Error().Err(err).Str("service", "ws").Str("sessionID", string(sid)).Msg("publish join")
			subscription.Close()
			closeWsSession(session)
		}
	}
}

// HandleMessage forwards every inbound frame to the gateway core verbatim,
// wrapped in the session envelope.
func HandleMessage(publisher signalbus.Publisher) func(s *melody.Session, msg []byte) {
	return func(s *melody.Session, msg []byte) {
		sid, _, err := sessionKeys(s)
		if err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("extract session keys")
			closeWsSession(s)
			return
		}

		if err := publisher.PublishServer(signalbus.ServerMessage{SessionID: sid, Message: msg}); err != nil {
			log.Error().Err(err).Str("service", "ws").Str("sessionID", string(sid)).Msg("publish message")
			closeWsSession(s)
		}
	}
}

// DisconnectHandler closes the session's subscription and tells the gateway
// core to release everything the session owns.
func DisconnectHandler(publisher signalbus.Publisher) func(session *melody.Session) {
	return func(session *melody.Session) {
		sid, subscription, err := sessionKeys(session)
		if err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("extract session keys")
			return
		}

		if err := subscription.Close(); err != nil {
			log.Error().Err(err).Str("service", "ws").Str("sessionID", string(sid)).Msg("close subscription")
		}

		message, err := rpc.NewCloseSessionRpc().ToJSON()
		if err != nil {
			log.Error().Err(err).Str("service", "ws").Str("sessionID", string(sid)).Msg("encode close_session")
			return
		}

		if err := publisher.PublishServer(signalbus.ServerMessage{SessionID: sid, Message: message}); err != nil {
			log.Error().Err(err).Str("service", "ws").Str("sessionID", string(sid)).Msg("publish close_session")
		}
	}
}

// HLSHandler serves the transcoder's output. Playlists must never be cached
// by clients or proxies, they change every segment.
func HLSHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".m3u8") {
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		}

		files.ServeHTTP(w, r)
	})
}

func sessionKeys(s *melody.Session) (core.SessionID, signalbus.Bus, error) {
	rawSid, ok := s.Keys[wsSessionIDKey]
	if !ok {
		return "", nil, errNoSessionKeys
	}
	sid, ok := rawSid.(core.SessionID)
	if !ok {
		return "", nil, errNoSessionKeys
	}

	rawSub, ok := s.Keys[wsSubscriptionKey]
	if !ok {
		return "", nil, errNoSessionKeys
	}
	subscription, ok := rawSub.(signalbus.Bus)
	if !ok {
		return "", nil, errNoSessionKeys
	}

	return sid, subscription, nil
}

func closeWsSession(s *melody.Session) {
	if err := s.Close(); err != nil {
		log.Error().Err(err).Str("service", "ws").Msg("close websocket session")
	}
}
