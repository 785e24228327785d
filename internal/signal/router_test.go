package signal

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowmedia/streamgate/internal/core"
	"github.com/glowmedia/streamgate/internal/signal/rpc"
)

const mockSessionID = core.SessionID("0c4038d6-da68-11ec-9d64-0242ac120002")

type MockCallbacks struct {
	JoinFired             bool
	CloseFired            bool
	CapabilitiesID        uint64
	CreateTransportParams rpc.CreateTransportParams
	StartStreamID         uint64
	ConsumerParams        rpc.CreateConsumerParams
}

func (m *MockCallbacks) OnJoin(sid core.SessionID) error {
	m.JoinFired = true
	return nil
}

func (m *MockCallbacks) OnCloseSession(sid core.SessionID) error {
	m.CloseFired = true
	return nil
}

func (m *MockCallbacks) OnCapabilities(sid core.SessionID, id uint64) error {
	m.CapabilitiesID = id
	return nil
}

func (m *MockCallbacks) OnCreateTransport(sid core.SessionID, id uint64, params rpc.CreateTransportParams) error {
	m.CreateTransportParams = params
	return nil
}

func (m *MockCallbacks) OnCreateConsumer(sid core.SessionID, id uint64, params rpc.CreateConsumerParams) error {
	m.ConsumerParams = params
	return nil
}

func (m *MockCallbacks) OnStartStream(sid core.SessionID, id uint64) error {
	m.StartStreamID = id
	return nil
}

func mockServerMessagePayload(t *testing.T, method rpc.Method, id uint64, params string) []byte {
	t.Helper()

	rpcBytes := []byte(fmt.Sprintf(
		`{"jsonrpc":"2.0","id":%d,"method":"%s","params":%s}`,
		id,
		string(method),
		params,
	))

	payload, err := json.Marshal(&ServerMessage{
		SessionID: mockSessionID,
		Message:   rpcBytes,
	})
	require.NoError(t, err)

	return payload
}

func TestNewRouter(t *testing.T) {
	mockBus := NewMockBus()
	defer mockBus.Close()

	s := NewMockSubscriber(mockBus)

	_, err := NewRouter(s)
	assert.Nil(t, err)

	assert.Equal(t, true, s.ServerSubscribed)
	assert.Equal(t, false, s.ClientSubscribed)
}

func TestParseRpc(t *testing.T) {
	payload := mockServerMessagePayload(t, rpc.JoinMethod, 0, "null")

	sid, r, err := parseRpc(string(payload))
	assert.Nil(t, err)

	assert.Equal(t, mockSessionID, sid)
	assert.Equal(t, rpc.JoinMethod, r.GetMethod())
}

func TestParseRpcRejectsMissingSession(t *testing.T) {
	payload, err := json.Marshal(&ServerMessage{Message: []byte(`{"jsonrpc":"2.0","method":"join","params":null}`)})
	require.NoError(t, err)

	_, _, err = parseRpc(string(payload))
	assert.ErrorIs(t, err, errNoSessionID)
}

func TestOnJoin(t *testing.T) {
	payload := mockServerMessagePayload(t, rpc.JoinMethod, 0, "null")

	callbacks := &MockCallbacks{}
	mockBus := NewMockBus()

	router, err := NewRouter(NewMockSubscriber(mockBus))
	assert.Nil(t, err)

	router.OnJoin(callbacks.OnJoin)

	<-router.Start()
	mockBus.Messages <- &redis.Message{Payload: string(payload)}
	<-router.Stop()

	assert.Equal(t, true, callbacks.JoinFired)
}

func TestOnCloseSession(t *testing.T) {
	payload := mockServerMessagePayload(t, rpc.CloseSessionMethod, 0, "null")

	callbacks := &MockCallbacks{}
	mockBus := NewMockBus()

	router, err := NewRouter(NewMockSubscriber(mockBus))
	assert.Nil(t, err)

	router.OnCloseSession(callbacks.OnCloseSession)

	<-router.Start()
	mockBus.Messages <- &redis.Message{Payload: string(payload)}
	<-router.Stop()

	assert.Equal(t, true, callbacks.CloseFired)
}

func TestOnCapabilitiesCarriesRequestID(t *testing.T) {
	payload := mockServerMessagePayload(t, rpc.CapabilitiesMethod, 42, "null")

	callbacks := &MockCallbacks{}
	mockBus := NewMockBus()

	router, err := NewRouter(NewMockSubscriber(mockBus))
	assert.Nil(t, err)

	router.OnCapabilities(callbacks.OnCapabilities)

	<-router.Start()
	mockBus.Messages <- &redis.Message{Payload: string(payload)}
	<-router.Stop()

	assert.Equal(t, uint64(42), callbacks.CapabilitiesID)
}

func TestOnCreateTransport(t *testing.T) {
	payload := mockServerMessagePayload(t, rpc.CreateTransportMethod, 7, `{"sender":true}`)

	callbacks := &MockCallbacks{}
	mockBus := NewMockBus()

	router, err := NewRouter(NewMockSubscriber(mockBus))
	assert.Nil(t, err)

	router.OnCreateTransport(callbacks.OnCreateTransport)

	<-router.Start()
	mockBus.Messages <- &redis.Message{Payload: string(payload)}
	<-router.Stop()

	assert.Equal(t, true, callbacks.CreateTransportParams.Sender)
}

func TestOnCreateConsumer(t *testing.T) {
	params := `{"transportId":"t1","producerId":"p1","rtpCapabilities":{"codecs":[{"mimeType":"video/VP8","clockRate":90000,"preferredPayloadType":96}]}}`
	payload := mockServerMessagePayload(t, rpc.CreateConsumerMethod, 3, params)

	callbacks := &MockCallbacks{}
	mockBus := NewMockBus()

	router, err := NewRouter(NewMockSubscriber(mockBus))
	assert.Nil(t, err)

	router.OnCreateConsumer(callbacks.OnCreateConsumer)

	<-router.Start()
	mockBus.Messages <- &redis.Message{Payload: string(payload)}
	<-router.Stop()

	assert.Equal(t, "t1", callbacks.ConsumerParams.TransportID)
	assert.Equal(t, "p1", callbacks.ConsumerParams.ProducerID)
	require.Len(t, callbacks.ConsumerParams.RTPCapabilities.Codecs, 1)
	assert.Equal(t, "video/VP8", callbacks.ConsumerParams.RTPCapabilities.Codecs[0].MimeType)
}

func TestOnStartStream(t *testing.T) {
	payload := mockServerMessagePayload(t, rpc.StartStreamMethod, 9, "null")

	callbacks := &MockCallbacks{}
	mockBus := NewMockBus()

	router, err := NewRouter(NewMockSubscriber(mockBus))
	assert.Nil(t, err)

	router.OnStartStream(callbacks.OnStartStream)

	<-router.Start()
	mockBus.Messages <- &redis.Message{Payload: string(payload)}
	<-router.Stop()

	assert.Equal(t, uint64(9), callbacks.StartStreamID)
}
