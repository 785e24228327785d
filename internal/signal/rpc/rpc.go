// Package rpc defines the JSON-RPC messages carried over the signaling
// channel: client requests with acknowledge ids, server acks, and
// fire-and-forget broadcasts.
package rpc

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/glowmedia/streamgate/internal/core"
	"github.com/glowmedia/streamgate/internal/engine"
)

const jsonRpcVersion = "2.0"

type Method string

const (
	// Connection lifecycle, published by the websocket layer.
	JoinMethod         Method = "join"
	CloseSessionMethod Method = "close_session"

	// Client requests.
	CapabilitiesMethod     Method = "getRouterRtpCapabilities"
	CreateTransportMethod  Method = "createWebRtcTransport"
	ConnectTransportMethod Method = "connectTransport"
	CreateProducerMethod   Method = "createProducer"
	CreateConsumerMethod   Method = "createConsumer"
	ResumeConsumerMethod   Method = "resumeConsumer"
	ListProducersMethod    Method = "listProducers"
	StartStreamMethod      Method = "start-hls-stream"
	StopStreamMethod       Method = "stop-hls-stream"

	// Server to client.
	AckMethod               Method = "ack"
	CapabilitiesPushMethod  Method = "routerRtpCapabilities"
	NewProducerMethod       Method = "new-producer"
	ProducerClosedMethod    Method = "producer-closed"
	ExistingProducersMethod Method = "existing-producers"
)

var (
	ErrUnknownRpcType = errors.New("unknown RPC type")
	ErrMalformedRpc   = errors.New("malformed RPC")
)

type Rpc interface {
	GetMethod() Method
	ToJSON() ([]byte, error)
}

// Request is a client rpc that expects exactly one acknowledge carrying the
// same id.
type Request interface {
	Rpc
	GetID() uint64
}

type jsonRpcHead struct {
	Version string `json:"jsonrpc"`
	ID      uint64 `json:"id,omitempty"`
	Method  Method `json:"method"`
}

func head(method Method, id uint64) jsonRpcHead {
	return jsonRpcHead{Version: jsonRpcVersion, ID: id, Method: method}
}

func (h jsonRpcHead) GetMethod() Method { return h.Method }
func (h jsonRpcHead) GetID() uint64     { return h.ID }

type jsonRpc struct {
	jsonRpcHead
	Params json.RawMessage `json:"params"`
}

// RpcFromReader decodes one rpc envelope and returns its typed form.
func RpcFromReader(reader io.Reader) (Rpc, error) {
	raw := &jsonRpc{}

	if err := json.NewDecoder(reader).Decode(raw); err != nil {
		return nil, err
	}

	switch raw.Method {
	case JoinMethod:
		return &JoinRpc{jsonRpcHead: raw.jsonRpcHead}, nil
	case CloseSessionMethod:
		return &CloseSessionRpc{jsonRpcHead: raw.jsonRpcHead}, nil
	case CapabilitiesMethod:
		return &CapabilitiesRpc{jsonRpcHead: raw.jsonRpcHead}, nil
	case ListProducersMethod:
		return &ListProducersRpc{jsonRpcHead: raw.jsonRpcHead}, nil
	case StartStreamMethod:
		return &StartStreamRpc{jsonRpcHead: raw.jsonRpcHead}, nil
	case StopStreamMethod:
		return &StopStreamRpc{jsonRpcHead: raw.jsonRpcHead}, nil
	case CreateTransportMethod:
		r := &CreateTransportRpc{jsonRpcHead: raw.jsonRpcHead}
		if err := unmarshalParams(raw.Params, &r.Params); err != nil {
			return nil, err
		}
		return r, nil
	case ConnectTransportMethod:
		r := &ConnectTransportRpc{jsonRpcHead: raw.jsonRpcHead}
		if err := unmarshalParams(raw.Params, &r.Params); err != nil {
			return nil, err
		}
		return r, nil
	case CreateProducerMethod:
		r := &CreateProducerRpc{jsonRpcHead: raw.jsonRpcHead}
		if err := unmarshalParams(raw.Params, &r.Params); err != nil {
			return nil, err
		}
		return r, nil
	case CreateConsumerMethod:
		r := &CreateConsumerRpc{jsonRpcHead: raw.jsonRpcHead}
		if err := unmarshalParams(raw.Params, &r.Params); err != nil {
			return nil, err
		}
		return r, nil
	case ResumeConsumerMethod:
		r := &ResumeConsumerRpc{jsonRpcHead: raw.jsonRpcHead}
		if err := unmarshalParams(raw.Params, &r.Params); err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, ErrUnknownRpcType
	}
}

func unmarshalParams(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return ErrMalformedRpc
	}
	return json.Unmarshal(raw, dst)
}

type JoinRpc struct {
	jsonRpcHead
	Params interface{} `json:"params"`
}

func NewJoinRpc() *JoinRpc {
	return &JoinRpc{jsonRpcHead: head(JoinMethod, 0)}
}

func (r JoinRpc) ToJSON() ([]byte, error) { return json.Marshal(r) }

type CloseSessionRpc struct {
	jsonRpcHead
	Params interface{} `json:"params"`
}

func NewCloseSessionRpc() *CloseSessionRpc {
	return &CloseSessionRpc{jsonRpcHead: head(CloseSessionMethod, 0)}
}

func (r CloseSessionRpc) ToJSON() ([]byte, error) { return json.Marshal(r) }

type CapabilitiesRpc struct {
	jsonRpcHead
	Params interface{} `json:"params"`
}

func NewCapabilitiesRpc(id uint64) *CapabilitiesRpc {
	return &CapabilitiesRpc{jsonRpcHead: head(CapabilitiesMethod, id)}
}

func (r CapabilitiesRpc) ToJSON() ([]byte, error) { return json.Marshal(r) }

type CreateTransportParams struct {
	Sender bool `json:"sender"`
}

type CreateTransportRpc struct {
	jsonRpcHead
	Params CreateTransportParams `json:"params"`
}

func NewCreateTransportRpc(id uint64, params CreateTransportParams) *CreateTransportRpc {
	return &CreateTransportRpc{jsonRpcHead: head(CreateTransportMethod, id), Params: params}
}

func (r CreateTransportRpc) ToJSON() ([]byte, error) { return json.Marshal(r) }

type ConnectTransportParams struct {
	TransportID    string                `json:"transportId"`
	DTLSParameters engine.SecurityParams `json:"dtlsParameters"`
}

type ConnectTransportRpc struct {
	jsonRpcHead
	Params ConnectTransportParams `json:"params"`
}

func NewConnectTransportRpc(id uint64, params ConnectTransportParams) *ConnectTransportRpc {
	return &ConnectTransportRpc{jsonRpcHead: head(ConnectTransportMethod, id), Params: params}
}

func (r ConnectTransportRpc) ToJSON() ([]byte, error) { return json.Marshal(r) }

type CreateProducerParams struct {
	TransportID   string             `json:"transportId"`
	Kind          core.MediaKind     `json:"kind"`
	RTPParameters engine.MediaParams `json:"rtpParameters"`
}

type CreateProducerRpc struct {
	jsonRpcHead
	Params CreateProducerParams `json:"params"`
}

func NewCreateProducerRpc(id uint64, params CreateProducerParams) *CreateProducerRpc {
	return &CreateProducerRpc{jsonRpcHead: head(CreateProducerMethod, id), Params: params}
}

func (r CreateProducerRpc) ToJSON() ([]byte, error) { return json.Marshal(r) }

type CreateConsumerParams struct {
	TransportID     string              `json:"transportId"`
	ProducerID      string              `json:"producerId"`
	RTPCapabilities engine.Capabilities `json:"rtpCapabilities"`
}

type CreateConsumerRpc struct {
	jsonRpcHead
	Params CreateConsumerParams `json:"params"`
}

func NewCreateConsumerRpc(id uint64, params CreateConsumerParams) *CreateConsumerRpc {
	return &CreateConsumerRpc{jsonRpcHead: head(CreateConsumerMethod, id), Params: params}
}

func (r CreateConsumerRpc) ToJSON() ([]byte, error) { return json.Marshal(r) }

type ResumeConsumerParams struct {
	ConsumerID string `json:"consumerId"`
}

type ResumeConsumerRpc struct {
	jsonRpcHead
	Params ResumeConsumerParams `json:"params"`
}

func NewResumeConsumerRpc(id uint64, params ResumeConsumerParams) *ResumeConsumerRpc {
	return &ResumeConsumerRpc{jsonRpcHead: head(ResumeConsumerMethod, id), Params: params}
}

func (r ResumeConsumerRpc) ToJSON() ([]byte, error) { return json.Marshal(r) }

type ListProducersRpc struct {
	jsonRpcHead
	Params interface{} `json:"params"`
}

func NewListProducersRpc(id uint64) *ListProducersRpc {
	return &ListProducersRpc{jsonRpcHead: head(ListProducersMethod, id)}
}

func (r ListProducersRpc) ToJSON() ([]byte, error) { return json.Marshal(r) }

type StartStreamRpc struct {
	jsonRpcHead
	Params interface{} `json:"params"`
}

func NewStartStreamRpc(id uint64) *StartStreamRpc {
	return &StartStreamRpc{jsonRpcHead: head(StartStreamMethod, id)}
}

func (r StartStreamRpc) ToJSON() ([]byte, error) { return json.Marshal(r) }

type StopStreamRpc struct {
	jsonRpcHead
	Params interface{} `json:"params"`
}

func NewStopStreamRpc(id uint64) *StopStreamRpc {
	return &StopStreamRpc{jsonRpcHead: head(StopStreamMethod, id)}
}

func (r StopStreamRpc) ToJSON() ([]byte, error) { return json.Marshal(r) }
