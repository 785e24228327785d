package rpc

import (
	"encoding/json"

	"github.com/glowmedia/streamgate/internal/core"
	"github.com/glowmedia/streamgate/internal/engine"
)

// AckParams is the structured response to exactly one request. Error and
// Result are mutually exclusive.
type AckParams struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

type AckRpc struct {
	jsonRpcHead
	Params AckParams `json:"params"`
}

// NewAckRpc acknowledges the request with the given id with a result value.
func NewAckRpc(id uint64, result interface{}) *AckRpc {
	return &AckRpc{
		jsonRpcHead: head(AckMethod, id),
		Params:      AckParams{Result: result},
	}
}

// NewErrorRpc acknowledges the request with a structured failure reason.
func NewErrorRpc(id uint64, err error) *AckRpc {
	return &AckRpc{
		jsonRpcHead: head(AckMethod, id),
		Params:      AckParams{Error: core.Reason(err)},
	}
}

func (r AckRpc) ToJSON() ([]byte, error) { return json.Marshal(r) }

// CapabilitiesPushRpc delivers the router capability descriptor to a session
// right after it connects, before any request is made.
type CapabilitiesPushRpc struct {
	jsonRpcHead
	Params engine.Capabilities `json:"params"`
}

func NewCapabilitiesPushRpc(caps engine.Capabilities) *CapabilitiesPushRpc {
	return &CapabilitiesPushRpc{
		jsonRpcHead: head(CapabilitiesPushMethod, 0),
		Params:      caps,
	}
}

func (r CapabilitiesPushRpc) ToJSON() ([]byte, error) { return json.Marshal(r) }

// ProducerEventParams names a producer and its owning session in broadcasts.
type ProducerEventParams struct {
	ProducerID string         `json:"producerId"`
	SessionID  core.SessionID `json:"socketId"`
}

type NewProducerRpc struct {
	jsonRpcHead
	Params ProducerEventParams `json:"params"`
}

func NewNewProducerRpc(producerID string, sessionID core.SessionID) *NewProducerRpc {
	return &NewProducerRpc{
		jsonRpcHead: head(NewProducerMethod, 0),
		Params:      ProducerEventParams{ProducerID: producerID, SessionID: sessionID},
	}
}

func (r NewProducerRpc) ToJSON() ([]byte, error) { return json.Marshal(r) }

type ProducerClosedRpc struct {
	jsonRpcHead
	Params ProducerEventParams `json:"params"`
}

func NewProducerClosedRpc(producerID string, sessionID core.SessionID) *ProducerClosedRpc {
	return &ProducerClosedRpc{
		jsonRpcHead: head(ProducerClosedMethod, 0),
		Params:      ProducerEventParams{ProducerID: producerID, SessionID: sessionID},
	}
}

func (r ProducerClosedRpc) ToJSON() ([]byte, error) { return json.Marshal(r) }

type ExistingProducersRpc struct {
	jsonRpcHead
	Params []ProducerEventParams `json:"params"`
}

func NewExistingProducersRpc(producers []ProducerEventParams) *ExistingProducersRpc {
	return &ExistingProducersRpc{
		jsonRpcHead: head(ExistingProducersMethod, 0),
		Params:      producers,
	}
}

func (r ExistingProducersRpc) ToJSON() ([]byte, error) { return json.Marshal(r) }
